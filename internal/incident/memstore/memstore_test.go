package memstore

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/linnemanlabs/warden/internal/incident"
)

func seed(t *testing.T, s *Store, id string, status incident.Status, severity string) {
	t.Helper()
	err := s.CreateIncident(context.Background(), &incident.Incident{
		ID:       id,
		Summary:  "test incident " + id,
		Severity: severity,
		Status:   status,
	})
	if err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func TestCreateAndGet(t *testing.T) {
	t.Parallel()

	s := New()
	seed(t, s, "inc-1", incident.StatusNew, incident.SeverityCritical)

	got, ok, err := s.GetIncident(context.Background(), "inc-1")
	if err != nil || !ok {
		t.Fatalf("GetIncident: ok=%v err=%v", ok, err)
	}
	if got.Summary != "test incident inc-1" {
		t.Errorf("Summary = %q", got.Summary)
	}

	// duplicate IDs are rejected
	if err := s.CreateIncident(context.Background(), &incident.Incident{ID: "inc-1"}); err == nil {
		t.Error("expected error on duplicate create")
	}

	// unknown id
	_, ok, err = s.GetIncident(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetIncident: %v", err)
	}
	if ok {
		t.Error("ok = true for unknown id")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	t.Parallel()

	s := New()
	err := s.CreateIncident(context.Background(), &incident.Incident{
		ID:     "inc-1",
		Labels: map[string]string{"alertname": "X"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, _, _ := s.GetIncident(context.Background(), "inc-1")
	got.Labels["alertname"] = "mutated"
	got.Summary = "mutated"

	again, _, _ := s.GetIncident(context.Background(), "inc-1")
	if again.Labels["alertname"] != "X" || again.Summary != "" {
		t.Errorf("stored state mutated through returned copy: %+v", again)
	}
}

func TestUpdateIncident(t *testing.T) {
	t.Parallel()

	s := New()
	seed(t, s, "inc-1", incident.StatusNew, incident.SeverityWarning)

	resolved := incident.StatusResolved
	got, ok, err := s.UpdateIncident(context.Background(), "inc-1", &incident.Patch{Status: &resolved})
	if err != nil || !ok {
		t.Fatalf("UpdateIncident: ok=%v err=%v", ok, err)
	}
	if got.Status != incident.StatusResolved {
		t.Errorf("Status = %s, want resolved", got.Status)
	}
	if got.ResolvedAt == nil {
		t.Error("ResolvedAt not set on resolution")
	}
	if got.UpdatedAt.Before(got.CreatedAt) {
		t.Error("UpdatedAt not bumped")
	}

	// unknown id
	_, ok, err = s.UpdateIncident(context.Background(), "nope", &incident.Patch{Status: &resolved})
	if err != nil {
		t.Fatalf("UpdateIncident: %v", err)
	}
	if ok {
		t.Error("ok = true for unknown id")
	}
}

func TestUpdateIncident_PartialPatch(t *testing.T) {
	t.Parallel()

	s := New()
	seed(t, s, "inc-1", incident.StatusTriaged, incident.SeverityWarning)

	tr := &incident.TriageResult{AlertID: "fp-1"}
	got, ok, err := s.UpdateIncident(context.Background(), "inc-1", &incident.Patch{TriageResult: tr})
	if err != nil || !ok {
		t.Fatalf("UpdateIncident: ok=%v err=%v", ok, err)
	}
	if got.Status != incident.StatusTriaged {
		t.Errorf("Status changed by attachment-only patch: %s", got.Status)
	}
	if got.TriageResult == nil || got.TriageResult.AlertID != "fp-1" {
		t.Errorf("TriageResult = %+v", got.TriageResult)
	}
	if got.ResolvedAt != nil {
		t.Error("ResolvedAt set without resolution")
	}
}

func TestListIncidents(t *testing.T) {
	t.Parallel()

	s := New()
	seed(t, s, "inc-1", incident.StatusNew, incident.SeverityWarning)
	seed(t, s, "inc-2", incident.StatusTriaged, incident.SeverityCritical)
	seed(t, s, "inc-3", incident.StatusTriaged, incident.SeverityWarning)

	all, err := s.ListIncidents(context.Background(), incident.Filter{})
	if err != nil {
		t.Fatalf("ListIncidents: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	// newest first
	if all[0].ID != "inc-3" || all[2].ID != "inc-1" {
		t.Errorf("order = [%s %s %s], want newest first", all[0].ID, all[1].ID, all[2].ID)
	}

	byStatus, _ := s.ListIncidents(context.Background(), incident.Filter{Status: incident.StatusTriaged})
	if len(byStatus) != 2 {
		t.Errorf("status filter len = %d, want 2", len(byStatus))
	}

	both, _ := s.ListIncidents(context.Background(), incident.Filter{
		Status:   incident.StatusTriaged,
		Severity: incident.SeverityCritical,
	})
	if len(both) != 1 || both[0].ID != "inc-2" {
		t.Errorf("combined filter = %+v, want just inc-2", both)
	}
}

func TestTimeline(t *testing.T) {
	t.Parallel()

	s := New()
	seed(t, s, "inc-1", incident.StatusNew, incident.SeverityWarning)

	if _, err := s.AppendEvent(context.Background(), "inc-1", incident.EventCreated, nil); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if _, err := s.AppendEvent(context.Background(), "inc-1", "status_changed_to_triaged", map[string]any{"to": "triaged"}); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	// appending to an unknown incident fails
	if _, err := s.AppendEvent(context.Background(), "nope", incident.EventCreated, nil); err == nil {
		t.Error("expected error for unknown incident")
	}

	events, err := s.GetTimeline(context.Background(), "inc-1")
	if err != nil {
		t.Fatalf("GetTimeline: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len = %d, want 2", len(events))
	}
	if events[0].Type != incident.EventCreated || events[1].Type != "status_changed_to_triaged" {
		t.Errorf("order = [%s %s], want oldest first", events[0].Type, events[1].Type)
	}
}

func TestRelations(t *testing.T) {
	t.Parallel()

	s := New()
	rel := &incident.Relation{
		EntityType:   "incident",
		EntityID:     "inc-1",
		RelatedType:  "alert",
		RelatedID:    "fp-1",
		Relationship: "triggered_by",
	}
	if err := s.AddRelation(context.Background(), rel); err != nil {
		t.Fatalf("AddRelation: %v", err)
	}
	// relations are append-only: a second edge does not replace the first
	rel2 := *rel
	rel2.RelatedID = "inc-0"
	rel2.RelatedType = "incident"
	rel2.Relationship = "supersedes"
	if err := s.AddRelation(context.Background(), &rel2); err != nil {
		t.Fatalf("AddRelation: %v", err)
	}

	rels, err := s.GetRelations(context.Background(), "incident", "inc-1")
	if err != nil {
		t.Fatalf("GetRelations: %v", err)
	}
	if len(rels) != 2 {
		t.Fatalf("len = %d, want 2", len(rels))
	}

	none, _ := s.GetRelations(context.Background(), "incident", "other")
	if len(none) != 0 {
		t.Errorf("unexpected relations for other entity: %+v", none)
	}
}

func TestRunbooks(t *testing.T) {
	t.Parallel()

	s := New()
	rb := &incident.Runbook{ID: "rb-1", Name: "Memory", Keywords: []string{"memory"}, Steps: []string{"raise limit"}}
	if err := s.PutRunbook(context.Background(), rb); err != nil {
		t.Fatalf("PutRunbook: %v", err)
	}

	// put replaces by id
	rb.Name = "Memory v2"
	if err := s.PutRunbook(context.Background(), rb); err != nil {
		t.Fatalf("PutRunbook: %v", err)
	}

	books, err := s.ListRunbooks(context.Background())
	if err != nil {
		t.Fatalf("ListRunbooks: %v", err)
	}
	if len(books) != 1 || books[0].Name != "Memory v2" {
		t.Errorf("runbooks = %+v, want single replaced entry", books)
	}
}

func TestConcurrentAccess(t *testing.T) {
	t.Parallel()

	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("inc-%d", n)
			_ = s.CreateIncident(context.Background(), &incident.Incident{ID: id, Status: incident.StatusNew})
			_, _ = s.AppendEvent(context.Background(), id, incident.EventCreated, nil)
			_, _, _ = s.GetIncident(context.Background(), id)
			_, _ = s.ListIncidents(context.Background(), incident.Filter{})
		}(i)
	}
	wg.Wait()

	all, err := s.ListIncidents(context.Background(), incident.Filter{})
	if err != nil {
		t.Fatalf("ListIncidents: %v", err)
	}
	if len(all) != 20 {
		t.Errorf("len = %d, want 20", len(all))
	}
}

func TestUpdateIncident_PatchAttachmentsDoNotAlias(t *testing.T) {
	t.Parallel()

	s := New()
	seed(t, s, "inc-1", incident.StatusNew, incident.SeverityCritical)

	tr := &incident.TriageResult{
		Hypothesis: incident.Hypothesis{
			PrimaryCause: "Memory exhaustion or leak",
			Evidence:     []string{"alert name indicates memory pressure"},
		},
	}
	fr := &incident.FixResult{Success: true}
	if _, ok, err := s.UpdateIncident(context.Background(), "inc-1", &incident.Patch{
		TriageResult: tr,
		FixResult:    fr,
	}); err != nil || !ok {
		t.Fatalf("UpdateIncident: ok=%v err=%v", ok, err)
	}

	// mutating the caller's patch values must not reach stored state
	tr.Hypothesis.PrimaryCause = "changed after write"
	tr.Hypothesis.Evidence[0] = "changed evidence"
	fr.Success = false

	got, _, _ := s.GetIncident(context.Background(), "inc-1")
	if got.TriageResult.Hypothesis.PrimaryCause != "Memory exhaustion or leak" {
		t.Errorf("PrimaryCause = %q, caller mutation leaked into store", got.TriageResult.Hypothesis.PrimaryCause)
	}
	if got.TriageResult.Hypothesis.Evidence[0] != "alert name indicates memory pressure" {
		t.Errorf("Evidence = %v, caller mutation leaked into store", got.TriageResult.Hypothesis.Evidence)
	}
	if !got.FixResult.Success {
		t.Error("FixResult.Success flipped by caller mutation")
	}
}
