package incident

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/warden/internal/alert"
)

// ErrInvalidTransition is returned when a patch would move an incident
// backwards along the state machine or out of a terminal state.
var ErrInvalidTransition = xerrors.New("invalid status transition")

// Manager owns the incident state machine and timeline. It is the only
// component that mutates incidents; every status change and attachment
// produces exactly one timeline event.
type Manager struct {
	store   Store
	logger  log.Logger
	metrics *Metrics
}

// NewManager creates a lifecycle manager. metrics may be nil.
func NewManager(store Store, logger log.Logger, metrics *Metrics) *Manager {
	if logger == nil {
		logger = log.Nop()
	}
	if store == nil {
		panic(xerrors.New("incident store is required"))
	}
	return &Manager{store: store, logger: logger, metrics: metrics}
}

// Create opens a new incident for an alert: fresh ULID, status new,
// summary/severity defaulted from the alert, an incident_created timeline
// event, and a triggered_by relation to the originating alert.
func (m *Manager) Create(ctx context.Context, al *alert.Alert) (*Incident, error) {
	now := time.Now().UTC()

	summary := al.Summary()
	if summary == "" {
		summary = DefaultSummary
	}
	severity := al.Severity()
	if severity == "" {
		severity = DefaultSeverity
	}

	inc := &Incident{
		ID:          ulid.Make().String(),
		Fingerprint: al.Key(),
		Summary:     summary,
		Severity:    severity,
		Status:      StatusNew,
		Labels:      al.Labels,
		Annotations: al.Annotations,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := m.store.CreateIncident(ctx, inc); err != nil {
		return nil, fmt.Errorf("create incident: %w", err)
	}

	if _, err := m.store.AppendEvent(ctx, inc.ID, EventCreated, map[string]any{
		"fingerprint": inc.Fingerprint,
		"alertname":   al.Name(),
		"severity":    inc.Severity,
	}); err != nil {
		return nil, fmt.Errorf("append created event: %w", err)
	}

	if err := m.store.AddRelation(ctx, &Relation{
		EntityType:   "incident",
		EntityID:     inc.ID,
		RelatedType:  "alert",
		RelatedID:    inc.Fingerprint,
		Relationship: "triggered_by",
		Metadata:     map[string]any{"alertname": al.Name()},
		CreatedAt:    now,
	}); err != nil {
		return nil, fmt.Errorf("add triggered_by relation: %w", err)
	}

	if m.metrics != nil {
		m.metrics.CreatedTotal.WithLabelValues(inc.Severity).Inc()
	}

	m.logger.Info(ctx, "incident created",
		"incident_id", inc.ID,
		"fingerprint", inc.Fingerprint,
		"severity", inc.Severity,
	)
	return inc, nil
}

// Update applies a patch to an incident. Each facet present in the patch
// produces its own timeline event; events are never merged. A status change
// that regresses the state machine is rejected with ErrInvalidTransition.
func (m *Manager) Update(ctx context.Context, id string, patch *Patch) (*Incident, bool, error) {
	cur, ok, err := m.store.GetIncident(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	if patch.Status != nil && !CanTransition(cur.Status, *patch.Status) {
		return nil, true, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, *patch.Status)
	}

	inc, ok, err := m.store.UpdateIncident(ctx, id, patch)
	if err != nil || !ok {
		return nil, ok, err
	}

	if patch.Status != nil {
		if _, err := m.store.AppendEvent(ctx, id, StatusChangeEvent(*patch.Status), map[string]any{
			"from": string(cur.Status),
			"to":   string(*patch.Status),
		}); err != nil {
			return nil, true, fmt.Errorf("append status event: %w", err)
		}
		if m.metrics != nil {
			m.metrics.TransitionsTotal.WithLabelValues(string(cur.Status), string(*patch.Status)).Inc()
		}
	}

	if patch.TriageResult != nil {
		if _, err := m.store.AppendEvent(ctx, id, EventTriaged, map[string]any{
			"primary_cause": patch.TriageResult.Hypothesis.PrimaryCause,
			"confidence":    patch.TriageResult.Hypothesis.Confidence,
			"actions":       len(patch.TriageResult.SuggestedActions),
		}); err != nil {
			return nil, true, fmt.Errorf("append triaged event: %w", err)
		}
	}

	if patch.FixResult != nil {
		if _, err := m.store.AppendEvent(ctx, id, EventFixApplied, map[string]any{
			"success":             patch.FixResult.Success,
			"applied":             len(patch.FixResult.AppliedFixes),
			"verification_status": string(patch.FixResult.VerificationStatus),
		}); err != nil {
			return nil, true, fmt.Errorf("append fix event: %w", err)
		}
	}

	return inc, true, nil
}

// Get retrieves an incident by id.
func (m *Manager) Get(ctx context.Context, id string) (*Incident, bool, error) {
	return m.store.GetIncident(ctx, id)
}

// List returns incidents matching the filter, newest first.
func (m *Manager) List(ctx context.Context, f Filter) ([]*Incident, error) {
	return m.store.ListIncidents(ctx, f)
}

// Timeline returns an incident's events, oldest first.
func (m *Manager) Timeline(ctx context.Context, id string) ([]TimelineEvent, error) {
	return m.store.GetTimeline(ctx, id)
}

// Report summarizes timing metrics derived from the timeline.
type Report struct {
	IncidentID    string        `json:"incident_id"`
	TimeToTriage  time.Duration `json:"time_to_triage"`
	TimeToResolve time.Duration `json:"time_to_resolve"`
	EventCount    int           `json:"event_count"`
}

// GenerateReport derives time-to-triage and time-to-resolve by differencing
// timeline event timestamps. Missing events yield zero durations, not
// errors; the metrics are best effort.
func (m *Manager) GenerateReport(ctx context.Context, id string) (*Report, bool, error) {
	events, err := m.store.GetTimeline(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if len(events) == 0 {
		return nil, false, nil
	}

	var created, triaged, resolved time.Time
	for _, ev := range events {
		switch ev.Type {
		case EventCreated:
			created = ev.CreatedAt
		case EventTriaged:
			if triaged.IsZero() {
				triaged = ev.CreatedAt
			}
		case EventResolved, StatusChangeEvent(StatusResolved):
			resolved = ev.CreatedAt
		}
	}

	rep := &Report{IncidentID: id, EventCount: len(events)}
	if !created.IsZero() && !triaged.IsZero() {
		rep.TimeToTriage = triaged.Sub(created)
	}
	if !created.IsZero() && !resolved.IsZero() {
		rep.TimeToResolve = resolved.Sub(created)
	}
	return rep, true, nil
}
