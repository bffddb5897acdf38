// Package remedy executes approved remediation actions and verifies whether
// the originating alert condition cleared afterwards.
package remedy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/warden/internal/incident"
)

// SourceControl materializes fix pull requests.
type SourceControl interface {
	CreateFixPR(ctx context.Context, branch, title, body, path, content string) (*incident.PullRequest, error)
}

// Ticketing opens tracking tickets.
type Ticketing interface {
	CreateIssue(ctx context.Context, summary, description string) (string, error)
}

// Paging escalates to the on-call engineer.
type Paging interface {
	CreateIncident(ctx context.Context, title, urgency string) (string, error)
}

// Operator drives deployment-level actions on the fleet.
type Operator interface {
	Rollback(ctx context.Context, service string) error
	Restart(ctx context.Context, service string) error
	ScaleUp(ctx context.Context, service string) error
}

// Verifier checks whether an alert is still in the backend's active list.
type Verifier interface {
	AlertFiring(ctx context.Context, fingerprint string) (bool, error)
}

// DefaultSettle is the wait before the post-remediation verification check.
const DefaultSettle = 30 * time.Second

// Pipeline executes approved actions sequentially and verifies the result.
// Any collaborator may be nil; the corresponding action then fails with a
// recorded outcome while the rest of the batch continues.
type Pipeline struct {
	sc       SourceControl
	tickets  Ticketing
	paging   Paging
	operator Operator
	verifier Verifier
	settle   time.Duration
	logger   log.Logger
}

// NewPipeline creates a remediation pipeline.
func NewPipeline(sc SourceControl, tickets Ticketing, paging Paging, operator Operator, verifier Verifier, settle time.Duration, logger log.Logger) *Pipeline {
	if logger == nil {
		logger = log.Nop()
	}
	if settle <= 0 {
		settle = DefaultSettle
	}
	return &Pipeline{
		sc:       sc,
		tickets:  tickets,
		paging:   paging,
		operator: operator,
		verifier: verifier,
		settle:   settle,
		logger:   logger,
	}
}

// Apply executes the triage's suggested actions whose type is in the
// approved set, one at a time to keep per-incident ordering auditable. A
// failed action is recorded and does not abort the batch. If at least one
// fix ran, verification follows the settle period; otherwise the result
// stays pending.
func (p *Pipeline) Apply(ctx context.Context, tr *incident.TriageResult, approved []incident.ActionType) *incident.FixResult {
	approvedSet := make(map[incident.ActionType]bool, len(approved))
	for _, a := range approved {
		approvedSet[a] = true
	}

	result := &incident.FixResult{
		AlertID:            tr.AlertID,
		VerificationStatus: incident.VerifyPending,
	}

	for _, action := range tr.SuggestedActions {
		if !approvedSet[action.Type] {
			continue
		}

		fix := p.execute(ctx, tr, action, result)
		result.AppliedFixes = append(result.AppliedFixes, fix)

		p.logger.Info(ctx, "action executed",
			"alert_id", tr.AlertID,
			"action", string(action.Type),
			"success", fix.Success,
		)
	}

	if len(result.AppliedFixes) == 0 {
		return result
	}

	result.VerificationStatus = p.verify(ctx, tr.AlertID)
	result.Success = result.VerificationStatus == incident.VerifyResolved
	return result
}

// execute dispatches one action by its kind. The enum is closed; adding an
// ActionType means adding a case here.
func (p *Pipeline) execute(ctx context.Context, tr *incident.TriageResult, action incident.SuggestedAction, result *incident.FixResult) incident.AppliedFix {
	fix := incident.AppliedFix{Type: action.Type, Description: action.Description}

	var err error
	switch action.Type {
	case incident.ActionApplyFix:
		err = p.applyFix(ctx, tr, result)
	case incident.ActionRollback:
		err = p.operate(ctx, tr, "rollback")
	case incident.ActionRestartService:
		err = p.operate(ctx, tr, "restart")
	case incident.ActionScaleUp:
		err = p.operate(ctx, tr, "scale_up")
	case incident.ActionCreateTicket:
		err = p.createTicket(ctx, tr, &fix)
	case incident.ActionFollowRunbook:
		// manual step: recording it in the fix log is the whole effect
		fix.Detail = "runbook step acknowledged for manual follow-up"
	case incident.ActionEscalate:
		err = p.escalate(ctx, tr, &fix)
	default:
		err = fmt.Errorf("unknown action type %q", action.Type)
	}

	if err != nil {
		p.logger.Warn(ctx, "action failed, continuing batch",
			"alert_id", tr.AlertID,
			"action", string(action.Type),
			"error", err.Error(),
		)
		fix.Detail = err.Error()
		return fix
	}
	fix.Success = true
	return fix
}

func (p *Pipeline) applyFix(ctx context.Context, tr *incident.TriageResult, result *incident.FixResult) error {
	if p.sc == nil {
		return fmt.Errorf("source control not configured")
	}

	branch := "warden/fix-" + tr.AlertID
	title := fmt.Sprintf("fix: %s", tr.Hypothesis.PrimaryCause)
	path := fmt.Sprintf("ops/fixes/%s.md", tr.AlertID)

	pr, err := p.sc.CreateFixPR(ctx, branch, title, renderPRBody(tr), path, renderFixNote(tr))
	if err != nil {
		return err
	}
	result.PullRequest = pr
	return nil
}

func (p *Pipeline) operate(ctx context.Context, tr *incident.TriageResult, verb string) error {
	if p.operator == nil {
		return fmt.Errorf("fleet operator not configured")
	}
	service := serviceOf(tr)
	if service == "" {
		return fmt.Errorf("alert carries no service label")
	}
	switch verb {
	case "rollback":
		return p.operator.Rollback(ctx, service)
	case "restart":
		return p.operator.Restart(ctx, service)
	default:
		return p.operator.ScaleUp(ctx, service)
	}
}

func (p *Pipeline) createTicket(ctx context.Context, tr *incident.TriageResult, fix *incident.AppliedFix) error {
	if p.tickets == nil {
		return fmt.Errorf("ticketing not configured")
	}
	summary := fmt.Sprintf("[warden] %s", tr.Summary)
	if tr.Summary == "" {
		summary = fmt.Sprintf("[warden] alert %s", tr.AlertID)
	}
	description := fmt.Sprintf("Hypothesis: %s (confidence %.2f)\n\nSuggested fix: %s",
		tr.Hypothesis.PrimaryCause, tr.Hypothesis.Confidence, tr.Hypothesis.SuggestedFix)

	key, err := p.tickets.CreateIssue(ctx, summary, description)
	if err != nil {
		return err
	}
	fix.Detail = "ticket " + key
	return nil
}

func (p *Pipeline) escalate(ctx context.Context, tr *incident.TriageResult, fix *incident.AppliedFix) error {
	if p.paging == nil {
		return fmt.Errorf("paging not configured")
	}
	title := fmt.Sprintf("[warden] low-confidence triage: %s", tr.Summary)
	id, err := p.paging.CreateIncident(ctx, title, urgencyOf(tr.Severity))
	if err != nil {
		return err
	}
	fix.Detail = "paged incident " + id
	return nil
}

// verify waits the settle period then checks the alerting backend once.
// A failed check yields unknown, which is distinct from still_firing.
func (p *Pipeline) verify(ctx context.Context, fingerprint string) incident.VerificationStatus {
	if p.verifier == nil {
		return incident.VerifyUnknown
	}

	select {
	case <-ctx.Done():
		return incident.VerifyUnknown
	case <-time.After(p.settle):
	}

	firing, err := p.verifier.AlertFiring(ctx, fingerprint)
	if err != nil {
		p.logger.Warn(ctx, "verification check failed",
			"fingerprint", fingerprint,
			"error", err.Error(),
		)
		return incident.VerifyUnknown
	}
	if firing {
		return incident.VerifyStillFiring
	}
	return incident.VerifyResolved
}

func serviceOf(tr *incident.TriageResult) string {
	return tr.Service
}

func urgencyOf(severity string) string {
	if severity == incident.SeverityCritical {
		return "high"
	}
	return "low"
}

// renderPRBody produces the deterministic PR description: hypothesis,
// evidence, changed files, and matched runbooks.
func renderPRBody(tr *incident.TriageResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Automated fix proposal\n\n")
	fmt.Fprintf(&b, "**Alert**: `%s`\n\n", tr.AlertID)
	fmt.Fprintf(&b, "**Hypothesis**: %s (confidence %.2f)\n\n", tr.Hypothesis.PrimaryCause, tr.Hypothesis.Confidence)

	if len(tr.Hypothesis.Evidence) > 0 {
		b.WriteString("### Evidence\n\n")
		for _, ev := range tr.Hypothesis.Evidence {
			fmt.Fprintf(&b, "- %s\n", ev)
		}
		b.WriteString("\n")
	}

	if len(tr.RecentChanges) > 0 {
		b.WriteString("### Recent changes\n\n")
		for _, change := range tr.RecentChanges {
			fmt.Fprintf(&b, "- `%s` %s\n", change.SHA, change.Message)
		}
		b.WriteString("\n")
	}

	if len(tr.Runbooks) > 0 {
		b.WriteString("### Matched runbooks\n\n")
		for _, rb := range tr.Runbooks {
			fmt.Fprintf(&b, "- %s (%s)\n", rb.Name, rb.ID)
		}
		b.WriteString("\n")
	}

	if tr.Hypothesis.SuggestedFix != "" {
		fmt.Fprintf(&b, "### Suggested fix\n\n%s\n", tr.Hypothesis.SuggestedFix)
	}
	return b.String()
}

// renderFixNote is the file committed on the fix branch.
func renderFixNote(tr *incident.TriageResult) string {
	return fmt.Sprintf("# Fix note for alert %s\n\nCause: %s\nConfidence: %.2f\nSuggested fix: %s\n",
		tr.AlertID, tr.Hypothesis.PrimaryCause, tr.Hypothesis.Confidence, tr.Hypothesis.SuggestedFix)
}
