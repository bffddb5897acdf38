package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/warden/internal/alert"
	"github.com/linnemanlabs/warden/internal/dedup"
	"github.com/linnemanlabs/warden/internal/incident"
	"github.com/linnemanlabs/warden/internal/incident/memstore"
	"github.com/linnemanlabs/warden/internal/remedy"
	"github.com/linnemanlabs/warden/internal/triage"
)

type fakeTickets struct{ key string }

func (f *fakeTickets) CreateIssue(context.Context, string, string) (string, error) {
	return f.key, nil
}

type fakeVerifier struct {
	firing bool
	err    error
}

func (f *fakeVerifier) AlertFiring(context.Context, string) (bool, error) {
	return f.firing, f.err
}

type captureNotifier struct {
	mu     sync.Mutex
	events []string
}

func (c *captureNotifier) Notify(_ context.Context, _ *incident.Incident, event string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureNotifier) seen(event string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.events {
		if e == event {
			return true
		}
	}
	return false
}

type harness struct {
	store    *memstore.Store
	manager  *incident.Manager
	dedup    *dedup.Deduplicator
	notifier *captureNotifier
	pipe     *Pipeline
}

func newHarness(t *testing.T, verifier remedy.Verifier) *harness {
	t.Helper()

	store := memstore.New()
	manager := incident.NewManager(store, nil, nil)
	engine := triage.NewEngine(nil, nil, store, nil)
	rem := remedy.NewPipeline(nil, &fakeTickets{key: "OPS-1"}, nil, nil, verifier, time.Millisecond, nil)
	dd := dedup.New()
	notifier := &captureNotifier{}

	pipe := New(dd, manager, engine, rem, notifier, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	pipe.Start(ctx)

	return &harness{store: store, manager: manager, dedup: dd, notifier: notifier, pipe: pipe}
}

func firingAlert(fp string) *alert.Alert {
	return &alert.Alert{
		Status:      alert.StatusFiring,
		Fingerprint: fp,
		Labels:      map[string]string{"alertname": "HighMemoryUsage", "severity": "critical"},
		Annotations: map[string]string{"summary": "Memory usage above 90%"},
	}
}

// waitForIncident polls until exactly one incident for the fingerprint
// reaches the wanted status.
func (h *harness) waitForIncident(t *testing.T, fp string, status incident.Status) *incident.Incident {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		all, err := h.manager.List(context.Background(), incident.Filter{})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		for _, inc := range all {
			if inc.Fingerprint == fp && inc.Status == status {
				return inc
			}
		}
		select {
		case <-deadline:
			t.Fatalf("no incident for %s reached %s; have %+v", fp, status, all)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSubmit_CreatesAndTriagesIncident(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeVerifier{})
	h.pipe.Submit(context.Background(), firingAlert("fp-1"))

	inc := h.waitForIncident(t, "fp-1", incident.StatusTriaged)
	if inc.TriageResult == nil {
		t.Fatal("triage result not attached")
	}
	if inc.TriageResult.Hypothesis.PrimaryCause != "Memory exhaustion or leak" {
		t.Errorf("PrimaryCause = %q", inc.TriageResult.Hypothesis.PrimaryCause)
	}
	if !h.dedup.Tracking("fp-1") {
		t.Error("fingerprint not tracked after ingestion")
	}

	deadline := time.After(2 * time.Second)
	for !h.notifier.seen("triaged") {
		select {
		case <-deadline:
			t.Fatal("triaged notification never sent")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSubmit_SuppressesDuplicates(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeVerifier{})
	h.pipe.Submit(context.Background(), firingAlert("fp-dup"))
	h.pipe.Submit(context.Background(), firingAlert("fp-dup"))
	h.pipe.Submit(context.Background(), firingAlert("fp-dup"))

	h.waitForIncident(t, "fp-dup", incident.StatusTriaged)

	// give any erroneous extra processing a moment to surface
	time.Sleep(50 * time.Millisecond)
	all, _ := h.manager.List(context.Background(), incident.Filter{})
	var n int
	for _, inc := range all {
		if inc.Fingerprint == "fp-dup" {
			n++
		}
	}
	if n != 1 {
		t.Errorf("incidents for fp-dup = %d, want 1", n)
	}
}

func TestSubmit_ResolvedReleasesFingerprint(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeVerifier{})
	h.pipe.Submit(context.Background(), firingAlert("fp-r"))
	h.waitForIncident(t, "fp-r", incident.StatusTriaged)

	res := firingAlert("fp-r")
	res.Status = alert.StatusResolved
	h.pipe.Submit(context.Background(), res)

	if h.dedup.Tracking("fp-r") {
		t.Error("fingerprint still tracked after resolved alert")
	}

	// re-firing opens a second incident
	h.pipe.Submit(context.Background(), firingAlert("fp-r"))
	deadline := time.After(5 * time.Second)
	for {
		all, _ := h.manager.List(context.Background(), incident.Filter{})
		var n int
		for _, inc := range all {
			if inc.Fingerprint == "fp-r" {
				n++
			}
		}
		if n == 2 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("second incident never created, have %d", n)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestApprove_FullFlow(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeVerifier{firing: false})
	h.pipe.Submit(context.Background(), firingAlert("fp-a"))
	inc := h.waitForIncident(t, "fp-a", incident.StatusTriaged)

	fr, ok, err := h.pipe.Approve(context.Background(), inc.ID, []string{"create_ticket"})
	if err != nil || !ok {
		t.Fatalf("Approve: ok=%v err=%v", ok, err)
	}
	if len(fr.AppliedFixes) != 1 || fr.AppliedFixes[0].Type != incident.ActionCreateTicket {
		t.Fatalf("AppliedFixes = %+v", fr.AppliedFixes)
	}
	if fr.VerificationStatus != incident.VerifyResolved || !fr.Success {
		t.Errorf("verification = %s success=%v", fr.VerificationStatus, fr.Success)
	}

	final, _, _ := h.manager.Get(context.Background(), inc.ID)
	if final.Status != incident.StatusResolved {
		t.Errorf("Status = %s, want resolved", final.Status)
	}
	if final.FixResult == nil {
		t.Error("fix result not attached")
	}
	if h.dedup.Tracking("fp-a") {
		t.Error("fingerprint still tracked after verified resolution")
	}

	events, _ := h.manager.Timeline(context.Background(), inc.ID)
	var types []string
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	want := []string{
		incident.EventCreated,
		"status_changed_to_triaged",
		incident.EventTriaged,
		"status_changed_to_in_progress",
		"status_changed_to_resolved",
		incident.EventFixApplied,
	}
	if len(types) != len(want) {
		t.Fatalf("timeline = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("timeline[%d] = %q, want %q", i, types[i], want[i])
		}
	}
}

func TestApprove_StillFiringFails(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeVerifier{firing: true})
	h.pipe.Submit(context.Background(), firingAlert("fp-f"))
	inc := h.waitForIncident(t, "fp-f", incident.StatusTriaged)

	fr, ok, err := h.pipe.Approve(context.Background(), inc.ID, []string{"create_ticket"})
	if err != nil || !ok {
		t.Fatalf("Approve: ok=%v err=%v", ok, err)
	}
	if fr.VerificationStatus != incident.VerifyStillFiring {
		t.Errorf("verification = %s", fr.VerificationStatus)
	}

	final, _, _ := h.manager.Get(context.Background(), inc.ID)
	if final.Status != incident.StatusFailed {
		t.Errorf("Status = %s, want failed", final.Status)
	}
	// fingerprint stays tracked, the condition is still live
	if !h.dedup.Tracking("fp-f") {
		t.Error("fingerprint released while alert still firing")
	}
}

func TestApprove_UnknownVerificationStaysInProgress(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeVerifier{err: errors.New("am down")})
	h.pipe.Submit(context.Background(), firingAlert("fp-u"))
	inc := h.waitForIncident(t, "fp-u", incident.StatusTriaged)

	fr, ok, err := h.pipe.Approve(context.Background(), inc.ID, []string{"create_ticket"})
	if err != nil || !ok {
		t.Fatalf("Approve: ok=%v err=%v", ok, err)
	}
	if fr.VerificationStatus != incident.VerifyUnknown {
		t.Errorf("verification = %s", fr.VerificationStatus)
	}

	final, _, _ := h.manager.Get(context.Background(), inc.ID)
	if final.Status != incident.StatusInProgress {
		t.Errorf("Status = %s, want in_progress for manual follow-up", final.Status)
	}
}

func TestApprove_RetryAfterUnknownVerification(t *testing.T) {
	t.Parallel()

	verifier := &fakeVerifier{err: errors.New("am down")}
	h := newHarness(t, verifier)
	h.pipe.Submit(context.Background(), firingAlert("fp-retry"))
	inc := h.waitForIncident(t, "fp-retry", incident.StatusTriaged)

	fr, ok, err := h.pipe.Approve(context.Background(), inc.ID, []string{"create_ticket"})
	if err != nil || !ok {
		t.Fatalf("first Approve: ok=%v err=%v", ok, err)
	}
	if fr.VerificationStatus != incident.VerifyUnknown {
		t.Fatalf("verification = %s, want unknown", fr.VerificationStatus)
	}

	// backend recovers; a second approval must run, not 409
	verifier.err = nil
	verifier.firing = false

	fr, ok, err = h.pipe.Approve(context.Background(), inc.ID, []string{"create_ticket"})
	if err != nil || !ok {
		t.Fatalf("retry Approve: ok=%v err=%v", ok, err)
	}
	if fr.VerificationStatus != incident.VerifyResolved || !fr.Success {
		t.Errorf("retry verification = %s success=%v", fr.VerificationStatus, fr.Success)
	}

	final, _, _ := h.manager.Get(context.Background(), inc.ID)
	if final.Status != incident.StatusResolved {
		t.Errorf("Status = %s, want resolved after retry", final.Status)
	}
	if h.dedup.Tracking("fp-retry") {
		t.Error("fingerprint still tracked after verified resolution")
	}

	// exactly one in_progress transition across both approvals
	events, _ := h.manager.Timeline(context.Background(), inc.ID)
	var n int
	for _, ev := range events {
		if ev.Type == "status_changed_to_in_progress" {
			n++
		}
	}
	if n != 1 {
		t.Errorf("in_progress transitions = %d, want 1", n)
	}
}

func TestApprove_UnknownIncident(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeVerifier{})
	_, ok, err := h.pipe.Approve(context.Background(), "missing", []string{"create_ticket"})
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if ok {
		t.Error("ok = true for unknown incident")
	}
}

func TestApprove_BeforeTriage(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeVerifier{})
	// incident exists but carries no triage result yet
	err := h.store.CreateIncident(context.Background(), &incident.Incident{
		ID: "inc-raw", Status: incident.StatusNew, Fingerprint: "fp-raw",
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, ok, err := h.pipe.Approve(context.Background(), "inc-raw", []string{"create_ticket"})
	if !errors.Is(err, ErrNotTriaged) {
		t.Fatalf("err = %v, want ErrNotTriaged", err)
	}
	if !ok {
		t.Error("ok = false for an existing incident")
	}
}
