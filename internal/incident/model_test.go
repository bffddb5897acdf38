package incident

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to Status
		want     bool
	}{
		// forward moves
		{StatusNew, StatusTriaged, true},
		{StatusNew, StatusInProgress, true},
		{StatusNew, StatusResolved, true},
		{StatusNew, StatusFailed, true},
		{StatusTriaged, StatusInProgress, true},
		{StatusTriaged, StatusResolved, true},
		{StatusInProgress, StatusResolved, true},
		{StatusInProgress, StatusFailed, true},
		{StatusAcknowledged, StatusTriaged, true},
		{StatusAcknowledged, StatusInProgress, true},

		// acknowledged is lateral, only from new or triaged
		{StatusNew, StatusAcknowledged, true},
		{StatusTriaged, StatusAcknowledged, true},
		{StatusInProgress, StatusAcknowledged, false},
		{StatusResolved, StatusAcknowledged, false},

		// no self transitions
		{StatusNew, StatusNew, false},
		{StatusResolved, StatusResolved, false},

		// no backwards moves
		{StatusTriaged, StatusNew, false},
		{StatusInProgress, StatusTriaged, false},
		{StatusInProgress, StatusNew, false},

		// terminal states accept nothing
		{StatusResolved, StatusFailed, false},
		{StatusFailed, StatusResolved, false},
		{StatusResolved, StatusInProgress, false},
		{StatusFailed, StatusNew, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	terminal := map[Status]bool{
		StatusNew:          false,
		StatusAcknowledged: false,
		StatusTriaged:      false,
		StatusInProgress:   false,
		StatusResolved:     true,
		StatusFailed:       true,
	}
	for s, want := range terminal {
		if got := s.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", s, got, want)
		}
	}
}

func TestStatusChangeEvent(t *testing.T) {
	t.Parallel()

	if got := StatusChangeEvent(StatusResolved); got != "status_changed_to_resolved" {
		t.Errorf("StatusChangeEvent(resolved) = %q", got)
	}
	if got := StatusChangeEvent(StatusInProgress); got != "status_changed_to_in_progress" {
		t.Errorf("StatusChangeEvent(in_progress) = %q", got)
	}
}

func TestPatchUnmarshal_CanonicalNames(t *testing.T) {
	t.Parallel()

	var p Patch
	data := `{"status":"triaged","triage_result":{"alert_id":"fp-1","hypothesis":{"primary_cause":"Memory exhaustion or leak","confidence":0.8}}}`
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.Status == nil || *p.Status != StatusTriaged {
		t.Fatalf("Status = %v, want triaged", p.Status)
	}
	if p.TriageResult == nil || p.TriageResult.AlertID != "fp-1" {
		t.Fatalf("TriageResult = %+v, want alert_id fp-1", p.TriageResult)
	}
}

func TestPatchUnmarshal_AliasNames(t *testing.T) {
	t.Parallel()

	var p Patch
	data := `{"triageResult":{"alert_id":"fp-2"},"fixResult":{"alert_id":"fp-2","verification_status":"pending"}}`
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.TriageResult == nil || p.TriageResult.AlertID != "fp-2" {
		t.Fatalf("alias triageResult not accepted: %+v", p.TriageResult)
	}
	if p.FixResult == nil || p.FixResult.VerificationStatus != VerifyPending {
		t.Fatalf("alias fixResult not accepted: %+v", p.FixResult)
	}
}

func TestPatchUnmarshal_CanonicalWinsOverAlias(t *testing.T) {
	t.Parallel()

	var p Patch
	data := `{"triage_result":{"alert_id":"canonical"},"triageResult":{"alert_id":"alias"}}`
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.TriageResult == nil || p.TriageResult.AlertID != "canonical" {
		t.Fatalf("TriageResult.AlertID = %+v, want canonical", p.TriageResult)
	}
}

func TestPatchMarshal_EmitsSnakeCaseOnly(t *testing.T) {
	t.Parallel()

	p := Patch{
		TriageResult: &TriageResult{AlertID: "fp-3"},
		FixResult:    &FixResult{AlertID: "fp-3", VerificationStatus: VerifyResolved},
	}
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(data)
	if !strings.Contains(s, `"triage_result"`) || !strings.Contains(s, `"fix_result"`) {
		t.Errorf("canonical keys missing from %s", s)
	}
	if strings.Contains(s, `"triageResult"`) || strings.Contains(s, `"fixResult"`) {
		t.Errorf("alias keys emitted in %s", s)
	}
}
