package dedup

import (
	"context"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/warden/internal/alert"
)

// Source lists the alerting backend's currently active alerts.
type Source interface {
	ActiveAlerts(ctx context.Context) ([]alert.Alert, error)
}

// Sink receives alerts that should be considered for ingestion.
type Sink interface {
	Submit(ctx context.Context, al *alert.Alert)
}

// Poller periodically fetches active alerts and submits the firing ones.
// Downstream behavior is identical to the push path; the sink applies the
// same dedup check. A transient backend failure is logged and retried next
// cycle.
type Poller struct {
	source   Source
	sink     Sink
	interval time.Duration
	logger   log.Logger
}

// NewPoller creates a poll loop over the given source.
func NewPoller(source Source, sink Sink, interval time.Duration, logger log.Logger) *Poller {
	if logger == nil {
		logger = log.Nop()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Poller{source: source, sink: sink, interval: interval, logger: logger}
}

// Run polls until the context is cancelled. It never returns early on
// source errors.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info(ctx, "alert poller stopped")
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	alerts, err := p.source.ActiveAlerts(ctx)
	if err != nil {
		p.logger.Warn(ctx, "poll cycle failed, will retry next interval", "error", err.Error())
		return
	}

	var firing int
	for i := range alerts {
		al := &alerts[i]
		if al.Status != alert.StatusFiring {
			continue
		}
		firing++
		p.sink.Submit(ctx, al)
	}

	p.logger.Info(ctx, "poll cycle complete", "active", len(alerts), "firing", firing)
}
