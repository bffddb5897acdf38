// Package slack sends incident notifications to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/warden/internal/incident"
)

const httpTimeout = 10 * time.Second

// Notifier posts incident updates to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New creates a Slack notifier. If webhookURL is empty, Notify is a no-op.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// Notify posts one incident update to the configured webhook.
func (n *Notifier) Notify(ctx context.Context, inc *incident.Incident, event string) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(inc, event))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildMessage(inc *incident.Incident, event string) map[string]any {
	blocks := []map[string]any{
		headerBlock(inc, event),
		{"type": "divider"},
		fieldsBlock(inc),
	}
	if detail := detailBlock(inc, event); detail != nil {
		blocks = append(blocks, map[string]any{"type": "divider"}, detail)
	}
	return map[string]any{"blocks": blocks}
}

func headerBlock(inc *incident.Incident, event string) map[string]any {
	title := "Incident Update"
	switch event {
	case "triaged":
		title = "Incident Triaged"
	case "fix_applied":
		title = "Fix Applied"
		if inc.FixResult != nil && !inc.FixResult.Success {
			title = "Fix Attempted"
		}
	}
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": fmt.Sprintf("%s %s: %s", severityEmoji(inc.Severity), title, inc.Summary),
		},
	}
}

func fieldsBlock(inc *incident.Incident) map[string]any {
	return map[string]any{
		"type": "section",
		"fields": []map[string]any{
			{"type": "mrkdwn", "text": fmt.Sprintf("*Status:* %s", inc.Status)},
			{"type": "mrkdwn", "text": fmt.Sprintf("*Severity:* %s", inc.Severity)},
			{"type": "mrkdwn", "text": fmt.Sprintf("*Incident:* %s", inc.ID)},
			{"type": "mrkdwn", "text": fmt.Sprintf("*Fingerprint:* %s", inc.Fingerprint)},
		},
	}
}

func detailBlock(inc *incident.Incident, event string) map[string]any {
	switch event {
	case "triaged":
		if inc.TriageResult == nil {
			return nil
		}
		return map[string]any{
			"type": "section",
			"text": map[string]any{
				"type": "mrkdwn",
				"text": fmt.Sprintf("*Hypothesis:* %s (confidence %.2f)",
					inc.TriageResult.Hypothesis.PrimaryCause, inc.TriageResult.Hypothesis.Confidence),
			},
		}
	case "fix_applied":
		if inc.FixResult == nil {
			return nil
		}
		text := fmt.Sprintf("*Applied fixes:* %d\n*Verification:* %s",
			len(inc.FixResult.AppliedFixes), inc.FixResult.VerificationStatus)
		if inc.FixResult.PullRequest != nil {
			text += fmt.Sprintf("\n*Pull request:* <%s|#%d>",
				inc.FixResult.PullRequest.URL, inc.FixResult.PullRequest.Number)
		}
		return map[string]any{
			"type": "section",
			"text": map[string]any{"type": "mrkdwn", "text": text},
		}
	}
	return nil
}

func severityEmoji(severity string) string {
	switch severity {
	case incident.SeverityCritical:
		return ":red_circle:"
	case incident.SeverityWarning:
		return ":large_yellow_circle:"
	default:
		return ":large_blue_circle:"
	}
}
