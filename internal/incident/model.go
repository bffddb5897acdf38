package incident

import (
	"encoding/json"
	"time"
)

// Status tracks where an incident is in its lifecycle.
type Status string

const (
	// StatusNew means the incident was just created from an alert.
	StatusNew Status = "new"

	// StatusAcknowledged means a human has claimed the incident. Entered
	// only by explicit action from new or triaged; the automated pipeline
	// never sets it.
	StatusAcknowledged Status = "acknowledged"

	// StatusTriaged means the triage pipeline attached a hypothesis.
	StatusTriaged Status = "triaged"

	// StatusInProgress means remediation is executing.
	StatusInProgress Status = "in_progress"

	// StatusResolved means the alert condition cleared. Terminal.
	StatusResolved Status = "resolved"

	// StatusFailed means remediation ran and the condition did not clear.
	// Terminal.
	StatusFailed Status = "failed"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusFailed
}

// statusRank orders statuses along the state machine for monotonicity checks.
var statusRank = map[Status]int{
	StatusNew:          0,
	StatusAcknowledged: 1,
	StatusTriaged:      2,
	StatusInProgress:   3,
	StatusResolved:     4,
	StatusFailed:       4,
}

// CanTransition reports whether from -> to is a legal status change.
// Transitions only move forward; terminal states accept nothing.
// Acknowledged is the one lateral move, reachable from new or triaged.
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	if from.Terminal() {
		return false
	}
	if to == StatusAcknowledged {
		return from == StatusNew || from == StatusTriaged
	}
	return statusRank[to] > statusRank[from]
}

// Severities an incident can carry.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// Defaults applied when the originating alert carries no summary or severity.
const (
	DefaultSummary  = "Unknown Alert"
	DefaultSeverity = SeverityWarning
)

// Incident is the mutable aggregate tracking one alert condition. All
// mutation goes through the Manager, which also appends timeline events.
type Incident struct {
	ID          string            `json:"id"`
	Fingerprint string            `json:"fingerprint"`
	Summary     string            `json:"summary"`
	Severity    string            `json:"severity"`
	Status      Status            `json:"status"`
	Labels      map[string]string `json:"labels,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
	TriageResult *TriageResult    `json:"triage_result,omitempty"`
	FixResult    *FixResult       `json:"fix_result,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	ResolvedAt  *time.Time        `json:"resolved_at,omitempty"`
}

// ActionType is the closed set of remediation action kinds.
type ActionType string

const (
	ActionApplyFix       ActionType = "apply_fix"
	ActionRollback       ActionType = "rollback"
	ActionRestartService ActionType = "restart_service"
	ActionScaleUp        ActionType = "scale_up"
	ActionCreateTicket   ActionType = "create_ticket"
	ActionFollowRunbook  ActionType = "follow_runbook"
	ActionEscalate       ActionType = "escalate"
)

// Hypothesis is the triage pipeline's best-effort root cause explanation.
type Hypothesis struct {
	PrimaryCause string   `json:"primary_cause"`
	Confidence   float64  `json:"confidence"`
	Evidence     []string `json:"evidence,omitempty"`
	SuggestedFix string   `json:"suggested_fix,omitempty"`
}

// SuggestedAction is one remediation step the triage pipeline proposes.
type SuggestedAction struct {
	Type        ActionType `json:"type"`
	Description string     `json:"description"`
	Automated   bool       `json:"automated"`
	RunbookID   string     `json:"runbook_id,omitempty"`
}

// RunbookRef points at a runbook that matched the alert's keywords.
type RunbookRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Change is a recent source-control change considered as evidence.
type Change struct {
	SHA     string    `json:"sha"`
	Message string    `json:"message"`
	Author  string    `json:"author,omitempty"`
	When    time.Time `json:"when,omitempty"`
}

// TriageResult is the outcome of one triage pass, attached to exactly one
// incident.
type TriageResult struct {
	AlertID          string            `json:"alert_id"`
	Summary          string            `json:"summary"`
	Severity         string            `json:"severity"`
	Service          string            `json:"service,omitempty"`
	Hypothesis       Hypothesis        `json:"hypothesis"`
	SuggestedActions []SuggestedAction `json:"suggested_actions"`
	Runbooks         []RunbookRef      `json:"runbooks,omitempty"`
	RecentChanges    []Change          `json:"recent_changes,omitempty"`
	Metrics          json.RawMessage   `json:"metrics,omitempty"`
}

// VerificationStatus is the outcome of the post-remediation check.
type VerificationStatus string

const (
	VerifyPending     VerificationStatus = "pending"
	VerifyResolved    VerificationStatus = "resolved"
	VerifyStillFiring VerificationStatus = "still_firing"
	VerifyUnknown     VerificationStatus = "unknown"
)

// AppliedFix records the outcome of one executed action.
type AppliedFix struct {
	Type        ActionType `json:"type"`
	Description string     `json:"description"`
	Success     bool       `json:"success"`
	Detail      string     `json:"detail,omitempty"`
}

// PullRequest describes a PR materialized by the apply_fix action.
type PullRequest struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
	Branch string `json:"branch"`
	Title  string `json:"title"`
}

// FixResult is the outcome of one remediation pass. Success is true iff
// verification observed the alert cleared.
type FixResult struct {
	AlertID            string             `json:"alert_id"`
	Success            bool               `json:"success"`
	AppliedFixes       []AppliedFix       `json:"applied_fixes"`
	PullRequest        *PullRequest       `json:"pull_request,omitempty"`
	VerificationStatus VerificationStatus `json:"verification_status"`
}

// Timeline event types. Status changes use StatusChangeEvent.
const (
	EventCreated    = "incident_created"
	EventTriaged    = "triaged"
	EventFixApplied = "fix_applied"
	EventResolved   = "resolved"
)

// StatusChangeEvent returns the timeline event type for a transition to s.
func StatusChangeEvent(s Status) string {
	return "status_changed_to_" + string(s)
}

// TimelineEvent is one append-only audit record on an incident. Ordering by
// CreatedAt is the canonical history.
type TimelineEvent struct {
	IncidentID string         `json:"incident_id"`
	Type       string         `json:"event_type"`
	Data       map[string]any `json:"event_data,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Relation is a typed edge in the entity graph linking incidents to alerts
// and to each other. Edges are append-only; superseding relations are added,
// never replace prior ones.
type Relation struct {
	EntityType   string         `json:"entity_type"`
	EntityID     string         `json:"entity_id"`
	RelatedType  string         `json:"related_type"`
	RelatedID    string         `json:"related_id"`
	Relationship string         `json:"relationship"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Runbook is a keyword-indexed ordered list of remediation steps.
type Runbook struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Keywords []string `json:"keywords"`
	Steps    []string `json:"steps"`
}

// Patch is a partial incident update. Nil fields are left untouched.
type Patch struct {
	Status       *Status
	Summary      *string
	Severity     *string
	TriageResult *TriageResult
	FixResult    *FixResult
}

// patchWire carries both historical spellings of the attachment fields.
// The snake_case form is canonical; the camelCase aliases are accepted on
// input only and never emitted.
type patchWire struct {
	Status            *Status       `json:"status,omitempty"`
	Summary           *string       `json:"summary,omitempty"`
	Severity          *string       `json:"severity,omitempty"`
	TriageResult      *TriageResult `json:"triage_result,omitempty"`
	TriageResultAlias *TriageResult `json:"triageResult,omitempty"`
	FixResult         *FixResult    `json:"fix_result,omitempty"`
	FixResultAlias    *FixResult    `json:"fixResult,omitempty"`
}

// UnmarshalJSON canonicalizes the dual triage_result/triageResult and
// fix_result/fixResult spellings at the boundary. When both are present the
// snake_case form wins.
func (p *Patch) UnmarshalJSON(data []byte) error {
	var w patchWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	p.Status = w.Status
	p.Summary = w.Summary
	p.Severity = w.Severity
	p.TriageResult = w.TriageResult
	if p.TriageResult == nil {
		p.TriageResult = w.TriageResultAlias
	}
	p.FixResult = w.FixResult
	if p.FixResult == nil {
		p.FixResult = w.FixResultAlias
	}
	return nil
}

// MarshalJSON emits the canonical snake_case form only.
func (p Patch) MarshalJSON() ([]byte, error) {
	return json.Marshal(patchWire{
		Status:       p.Status,
		Summary:      p.Summary,
		Severity:     p.Severity,
		TriageResult: p.TriageResult,
		FixResult:    p.FixResult,
	})
}
