// Package pipeline wires alert ingestion to the incident lifecycle: dedup,
// incident creation, triage, the human approval gate, and remediation.
package pipeline

import (
	"context"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/warden/internal/alert"
	"github.com/linnemanlabs/warden/internal/dedup"
	"github.com/linnemanlabs/warden/internal/incident"
	"github.com/linnemanlabs/warden/internal/remedy"
	"github.com/linnemanlabs/warden/internal/triage"
)

// ErrNotTriaged is returned when approval arrives before triage attached a
// result to the incident.
var ErrNotTriaged = xerrors.New("incident has no triage result")

// Notifier delivers incident updates to the external channel. Delivery is
// fire-and-forget; failures are logged and never block the pipeline.
type Notifier interface {
	Notify(ctx context.Context, inc *incident.Incident, event string) error
}

// queueDepth bounds the channel between the deduplicator and the incident
// flow. Ingestion blocks only if consumers fall this far behind.
const queueDepth = 64

// Pipeline owns the alert channel and the per-alert processing flow.
// Alerts for different fingerprints are processed concurrently; the only
// shared mutable state is the store and the dedup set.
type Pipeline struct {
	dedup    *dedup.Deduplicator
	manager  *incident.Manager
	engine   *triage.Engine
	remedy   *remedy.Pipeline
	notifier Notifier
	metrics  *incident.Metrics
	logger   log.Logger
	alerts   chan *alert.Alert
}

// New creates the pipeline. notifier and metrics may be nil.
func New(dd *dedup.Deduplicator, manager *incident.Manager, engine *triage.Engine, rem *remedy.Pipeline, notifier Notifier, metrics *incident.Metrics, logger log.Logger) *Pipeline {
	if logger == nil {
		logger = log.Nop()
	}
	return &Pipeline{
		dedup:    dd,
		manager:  manager,
		engine:   engine,
		remedy:   rem,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
		alerts:   make(chan *alert.Alert, queueDepth),
	}
}

// Start launches the consumer loop. It exits when ctx is cancelled;
// already-dequeued alerts run to completion of triage.
func (p *Pipeline) Start(ctx context.Context) {
	go p.run(ctx)
}

func (p *Pipeline) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info(ctx, "pipeline consumer stopped")
			return
		case al := <-p.alerts:
			// detach from the ingestion request's lifetime; an accepted
			// alert runs to completion of triage
			go p.process(context.WithoutCancel(ctx), al)
		}
	}
}

// Submit applies the dedup check and enqueues accepted alerts. Suppressed
// duplicates and resolved alerts never enter the channel.
func (p *Pipeline) Submit(ctx context.Context, al *alert.Alert) {
	if al.Status != alert.StatusFiring {
		p.dedup.Ingest(al) // releases the fingerprint
		p.countIngest("released")
		return
	}
	if !p.dedup.Ingest(al) {
		p.countIngest("suppressed")
		p.logger.Info(ctx, "alert suppressed", "fingerprint", al.Key(), "alertname", al.Name())
		return
	}
	p.countIngest("accepted")

	select {
	case p.alerts <- al:
	case <-ctx.Done():
	}
}

// process runs one alert through incident creation and triage.
func (p *Pipeline) process(ctx context.Context, al *alert.Alert) {
	L := p.logger.With("fingerprint", al.Key(), "alertname", al.Name())

	inc, err := p.manager.Create(ctx, al)
	if err != nil {
		L.Error(ctx, err, "failed to create incident")
		return
	}

	start := time.Now()
	tr := p.engine.Triage(ctx, al)
	if p.metrics != nil {
		p.metrics.TriageDuration.Observe(time.Since(start).Seconds())
	}

	status := incident.StatusTriaged
	updated, ok, err := p.manager.Update(ctx, inc.ID, &incident.Patch{
		Status:       &status,
		TriageResult: tr,
	})
	if err != nil || !ok {
		L.Error(ctx, err, "failed to attach triage result", "incident_id", inc.ID)
		return
	}

	p.send(ctx, updated, "triaged")
}

// Approve executes remediation for the given incident with the approved
// action types and attaches the result. Returns ok=false for unknown ids.
func (p *Pipeline) Approve(ctx context.Context, id string, actionNames []string) (*incident.FixResult, bool, error) {
	inc, ok, err := p.manager.Get(ctx, id)
	if err != nil || !ok {
		return nil, ok, err
	}
	if inc.TriageResult == nil {
		return nil, true, ErrNotTriaged
	}

	approved := make([]incident.ActionType, 0, len(actionNames))
	for _, name := range actionNames {
		approved = append(approved, incident.ActionType(name))
	}

	// A retry after an unverified attempt arrives already in_progress;
	// re-patching the same status would be rejected as a transition.
	if inc.Status != incident.StatusInProgress {
		inProgress := incident.StatusInProgress
		if _, _, err := p.manager.Update(ctx, id, &incident.Patch{Status: &inProgress}); err != nil {
			return nil, true, err
		}
	}

	start := time.Now()
	fr := p.remedy.Apply(ctx, inc.TriageResult, approved)
	if p.metrics != nil {
		p.metrics.RemedyDuration.Observe(time.Since(start).Seconds())
		p.metrics.VerifyTotal.WithLabelValues(string(fr.VerificationStatus)).Inc()
	}

	patch := &incident.Patch{FixResult: fr}
	switch fr.VerificationStatus {
	case incident.VerifyResolved:
		resolved := incident.StatusResolved
		patch.Status = &resolved
		// the firing window is over; a recurrence opens a fresh incident
		p.dedup.Release(inc.Fingerprint)
	case incident.VerifyStillFiring:
		failed := incident.StatusFailed
		patch.Status = &failed
	case incident.VerifyPending, incident.VerifyUnknown:
		// no fixes ran, or we could not verify: stay in_progress so a
		// human can retry or resolve manually
	}

	updated, ok, err := p.manager.Update(ctx, id, patch)
	if err != nil || !ok {
		return fr, ok, err
	}

	p.send(ctx, updated, "fix_applied")
	return fr, true, nil
}

func (p *Pipeline) send(ctx context.Context, inc *incident.Incident, event string) {
	if p.notifier == nil {
		return
	}
	go func() {
		if err := p.notifier.Notify(context.WithoutCancel(ctx), inc, event); err != nil {
			p.logger.Warn(ctx, "notification failed", "incident_id", inc.ID, "error", err.Error())
		}
	}()
}

func (p *Pipeline) countIngest(outcome string) {
	if p.metrics != nil {
		p.metrics.IngestTotal.WithLabelValues(outcome).Inc()
	}
}
