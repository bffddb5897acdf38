package slack

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/linnemanlabs/warden/internal/incident"
)

func triagedIncident() *incident.Incident {
	return &incident.Incident{
		ID:          "inc-1",
		Fingerprint: "fp-1",
		Summary:     "Memory usage above 90%",
		Severity:    incident.SeverityCritical,
		Status:      incident.StatusTriaged,
		TriageResult: &incident.TriageResult{
			Hypothesis: incident.Hypothesis{PrimaryCause: "Memory exhaustion or leak", Confidence: 0.8},
		},
	}
}

func TestNotify(t *testing.T) {
	t.Parallel()

	var payload []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		payload, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	n := New(srv.URL)
	if err := n.Notify(context.Background(), triagedIncident(), "triaged"); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	var msg struct {
		Blocks []json.RawMessage `json:"blocks"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if len(msg.Blocks) == 0 {
		t.Fatal("no blocks in payload")
	}
	s := string(payload)
	for _, want := range []string{"Incident Triaged", "Memory exhaustion or leak", "inc-1", "fp-1", ":red_circle:"} {
		if !strings.Contains(s, want) {
			t.Errorf("payload missing %q:\n%s", want, s)
		}
	}
}

func TestNotify_FixTitles(t *testing.T) {
	t.Parallel()

	inc := triagedIncident()
	inc.FixResult = &incident.FixResult{Success: true, VerificationStatus: incident.VerifyResolved}
	msg, _ := json.Marshal(buildMessage(inc, "fix_applied"))
	if !strings.Contains(string(msg), "Fix Applied") {
		t.Errorf("successful fix title missing: %s", msg)
	}

	inc.FixResult.Success = false
	msg, _ = json.Marshal(buildMessage(inc, "fix_applied"))
	if !strings.Contains(string(msg), "Fix Attempted") {
		t.Errorf("failed fix title missing: %s", msg)
	}
}

func TestNotify_WebhookError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	n := New(srv.URL)
	if err := n.Notify(context.Background(), triagedIncident(), "triaged"); err == nil {
		t.Fatal("expected error on 403")
	}
}

func TestNotify_EmptyURLIsNoop(t *testing.T) {
	t.Parallel()

	n := New("")
	if err := n.Notify(context.Background(), triagedIncident(), "triaged"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
}

func TestSeverityEmoji(t *testing.T) {
	t.Parallel()

	if got := severityEmoji(incident.SeverityCritical); got != ":red_circle:" {
		t.Errorf("critical = %q", got)
	}
	if got := severityEmoji(incident.SeverityWarning); got != ":large_yellow_circle:" {
		t.Errorf("warning = %q", got)
	}
	if got := severityEmoji("unknown"); got != ":large_blue_circle:" {
		t.Errorf("default = %q", got)
	}
}
