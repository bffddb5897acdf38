// Package triage produces a root-cause hypothesis and suggested actions for
// an alert. Triage is a pure function of the alert plus read-only
// collaborator lookups; it never mutates incidents.
package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/warden/internal/alert"
	"github.com/linnemanlabs/warden/internal/incident"
)

var tracer = otel.Tracer("github.com/linnemanlabs/warden/internal/triage")

// MetricsSource runs read-only range queries against the metrics backend.
type MetricsSource interface {
	QueryRange(ctx context.Context, query string, start, end time.Time) (json.RawMessage, error)
}

// ChangeSource lists recent source-control changes.
type ChangeSource interface {
	RecentChanges(ctx context.Context, since time.Time) ([]incident.Change, error)
}

// RunbookSource lists the known runbooks.
type RunbookSource interface {
	ListRunbooks(ctx context.Context) ([]incident.Runbook, error)
}

// Confidence values and adjustments for the hypothesis rules.
const (
	confidenceMemory   = 0.8
	confidenceCPU      = 0.75
	confidenceCritical = 0.7
	confidenceBoost    = 0.1

	autoFixThreshold  = 0.8
	escalateThreshold = 0.5

	// recentChangeWindow bounds the source-control lookback.
	recentChangeWindow = time.Hour

	// metricsWindow bounds the metrics range query around the alert.
	metricsWindow = 30 * time.Minute
)

// Engine runs the deterministic triage rules. Any collaborator may be nil;
// its lookup is then skipped. Collaborator call failures degrade to empty
// results and never abort a triage pass.
type Engine struct {
	metrics  MetricsSource
	changes  ChangeSource
	runbooks RunbookSource
	logger   log.Logger
}

// NewEngine creates a triage engine.
func NewEngine(metrics MetricsSource, changes ChangeSource, runbooks RunbookSource, logger log.Logger) *Engine {
	if logger == nil {
		logger = log.Nop()
	}
	return &Engine{metrics: metrics, changes: changes, runbooks: runbooks, logger: logger}
}

// Triage produces a TriageResult for the alert. Given identical alert
// content and identical collaborator responses, the result is identical.
func (e *Engine) Triage(ctx context.Context, al *alert.Alert) *incident.TriageResult {
	ctx, span := tracer.Start(ctx, "triage.run")
	defer span.End()
	span.SetAttributes(attribute.String("warden.alert", al.Name()))

	result := &incident.TriageResult{
		AlertID:  al.Key(),
		Summary:  al.Summary(),
		Severity: al.Severity(),
		Service:  al.Labels["service"],
		Hypothesis: incident.Hypothesis{
			PrimaryCause: "Unknown",
			Confidence:   0,
		},
	}

	e.applyCauseRules(al, result)

	if changes := e.lookupChanges(ctx); len(changes) > 0 {
		result.RecentChanges = changes
		first := changes[0]
		result.Hypothesis.Evidence = append(result.Hypothesis.Evidence,
			fmt.Sprintf("Recent change: %s (%s)", first.Message, first.SHA))
		result.Hypothesis.Confidence = capConfidence(result.Hypothesis.Confidence + confidenceBoost)
	}

	matched := e.matchRunbooks(ctx, al)
	if len(matched) > 0 {
		for _, rb := range matched {
			result.Runbooks = append(result.Runbooks, incident.RunbookRef{ID: rb.ID, Name: rb.Name})
		}
		result.Hypothesis.Evidence = append(result.Hypothesis.Evidence,
			fmt.Sprintf("Matched %d runbook(s)", len(matched)))
		if len(matched[0].Steps) > 0 {
			result.Hypothesis.SuggestedFix = matched[0].Steps[0]
		}
		result.Hypothesis.Confidence = capConfidence(result.Hypothesis.Confidence + confidenceBoost)
	}

	result.Metrics = e.lookupMetrics(ctx, al)
	result.SuggestedActions = suggestActions(result.Hypothesis.Confidence, matched)

	span.SetAttributes(
		attribute.String("warden.triage.primary_cause", result.Hypothesis.PrimaryCause),
		attribute.Float64("warden.triage.confidence", result.Hypothesis.Confidence),
	)

	e.logger.Info(ctx, "triage complete",
		"alert", al.Name(),
		"primary_cause", result.Hypothesis.PrimaryCause,
		"confidence", result.Hypothesis.Confidence,
		"runbooks", len(matched),
		"actions", len(result.SuggestedActions),
	)
	return result
}

// applyCauseRules sets the primary cause from the alert name, falling back
// to severity when the name signals nothing.
func (e *Engine) applyCauseRules(al *alert.Alert, result *incident.TriageResult) {
	name := strings.ToLower(al.Name())
	switch {
	case strings.Contains(name, "memory") || strings.Contains(name, "oom"):
		result.Hypothesis.PrimaryCause = "Memory exhaustion or leak"
		result.Hypothesis.Confidence = confidenceMemory
		result.Hypothesis.Evidence = append(result.Hypothesis.Evidence,
			"Alert name indicates memory pressure")
	case strings.Contains(name, "cpu"):
		result.Hypothesis.PrimaryCause = "High CPU utilization"
		result.Hypothesis.Confidence = confidenceCPU
		result.Hypothesis.Evidence = append(result.Hypothesis.Evidence,
			"Alert name indicates CPU saturation")
	case al.Severity() == incident.SeverityCritical:
		result.Hypothesis.PrimaryCause = "Service outage"
		result.Hypothesis.Confidence = confidenceCritical
		result.Hypothesis.Evidence = append(result.Hypothesis.Evidence,
			"Critical severity with no specific resource signal")
	}
}

func (e *Engine) lookupChanges(ctx context.Context) []incident.Change {
	if e.changes == nil {
		return nil
	}
	ctx, span := tracer.Start(ctx, "triage.changes")
	defer span.End()

	changes, err := e.changes.RecentChanges(ctx, time.Now().Add(-recentChangeWindow))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Warn(ctx, "recent-change lookup failed, continuing without", "error", err.Error())
		return nil
	}
	return changes
}

func (e *Engine) lookupMetrics(ctx context.Context, al *alert.Alert) json.RawMessage {
	if e.metrics == nil {
		return nil
	}
	ctx, span := tracer.Start(ctx, "triage.metrics")
	defer span.End()

	now := time.Now()
	query := fmt.Sprintf(`ALERTS{alertname=%q}`, al.Name())
	data, err := e.metrics.QueryRange(ctx, query, now.Add(-metricsWindow), now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Warn(ctx, "metrics lookup failed, continuing without", "error", err.Error())
		return nil
	}
	return data
}

// matchRunbooks returns runbooks whose keywords match the alert's derived
// keywords (alertname, service, component) by case-insensitive substring in
// either direction.
func (e *Engine) matchRunbooks(ctx context.Context, al *alert.Alert) []incident.Runbook {
	if e.runbooks == nil {
		return nil
	}
	ctx, span := tracer.Start(ctx, "triage.runbooks")
	defer span.End()

	books, err := e.runbooks.ListRunbooks(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Warn(ctx, "runbook lookup failed, continuing without", "error", err.Error())
		return nil
	}

	var keywords []string
	for _, label := range []string{"alertname", "service", "component"} {
		if v := al.Labels[label]; v != "" {
			keywords = append(keywords, strings.ToLower(v))
		}
	}

	var matched []incident.Runbook
	for _, rb := range books {
		if runbookMatches(rb, keywords) {
			matched = append(matched, rb)
		}
	}
	return matched
}

func runbookMatches(rb incident.Runbook, keywords []string) bool {
	for _, rk := range rb.Keywords {
		rk = strings.ToLower(rk)
		for _, k := range keywords {
			if strings.Contains(k, rk) || strings.Contains(rk, k) {
				return true
			}
		}
	}
	return false
}

// suggestActions derives the action list. The rules compose independently:
// a ticket is always created, a matched runbook adds a manual follow step,
// apply_fix is automated only above the auto-fix threshold, and low
// confidence adds an escalation.
func suggestActions(confidence float64, matched []incident.Runbook) []incident.SuggestedAction {
	actions := []incident.SuggestedAction{{
		Type:        incident.ActionCreateTicket,
		Description: "Create a tracking ticket for this incident",
		Automated:   true,
	}}

	if len(matched) > 0 {
		actions = append(actions, incident.SuggestedAction{
			Type:        incident.ActionFollowRunbook,
			Description: fmt.Sprintf("Follow runbook %q", matched[0].Name),
			Automated:   false,
			RunbookID:   matched[0].ID,
		})
	}

	actions = append(actions, incident.SuggestedAction{
		Type:        incident.ActionApplyFix,
		Description: "Apply the suggested fix",
		Automated:   confidence > autoFixThreshold,
	})

	if confidence < escalateThreshold {
		actions = append(actions, incident.SuggestedAction{
			Type:        incident.ActionEscalate,
			Description: "Escalate to the on-call engineer",
			Automated:   true,
		})
	}
	return actions
}

func capConfidence(c float64) float64 {
	if c > 1.0 {
		return 1.0
	}
	return c
}
