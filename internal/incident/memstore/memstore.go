// Package memstore provides an in-memory implementation of incident.Store.
// It is the fallback backend when no database is configured or reachable;
// state lives for the process lifetime only.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/linnemanlabs/warden/internal/incident"
)

// Store holds incidents, timelines, relations, and runbooks in memory.
type Store struct {
	mu        sync.RWMutex
	incidents map[string]*incident.Incident
	order     []string // incident IDs in creation order
	timelines map[string][]incident.TimelineEvent
	relations map[string][]incident.Relation // "type/id" -> edges
	runbooks  map[string]*incident.Runbook
}

// New initializes an empty in-memory Store.
func New() *Store {
	return &Store{
		incidents: make(map[string]*incident.Incident),
		timelines: make(map[string][]incident.TimelineEvent),
		relations: make(map[string][]incident.Relation),
		runbooks:  make(map[string]*incident.Runbook),
	}
}

// cloneIncident deep-copies via a JSON round trip so callers never share
// maps or nested pointers with stored state.
func cloneIncident(in *incident.Incident) *incident.Incident {
	data, err := json.Marshal(in)
	if err != nil {
		cp := *in
		return &cp
	}
	var out incident.Incident
	if err := json.Unmarshal(data, &out); err != nil {
		cp := *in
		return &cp
	}
	return &out
}

// CreateIncident stores a copy of the incident.
func (s *Store) CreateIncident(_ context.Context, inc *incident.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.incidents[inc.ID]; exists {
		return fmt.Errorf("incident %s already exists", inc.ID)
	}
	s.incidents[inc.ID] = cloneIncident(inc)
	s.order = append(s.order, inc.ID)
	return nil
}

// UpdateIncident applies the patch and bumps updated_at. Returns a copy.
func (s *Store) UpdateIncident(_ context.Context, id string, patch *incident.Patch) (*incident.Incident, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inc, ok := s.incidents[id]
	if !ok {
		return nil, false, nil
	}

	now := time.Now().UTC()
	if patch.Status != nil {
		inc.Status = *patch.Status
		if inc.Status == incident.StatusResolved && inc.ResolvedAt == nil {
			t := now
			inc.ResolvedAt = &t
		}
	}
	if patch.Summary != nil {
		inc.Summary = *patch.Summary
	}
	if patch.Severity != nil {
		inc.Severity = *patch.Severity
	}
	if patch.TriageResult != nil {
		inc.TriageResult = patch.TriageResult
	}
	if patch.FixResult != nil {
		inc.FixResult = patch.FixResult
	}
	inc.UpdatedAt = now

	// re-clone so patch attachments never alias stored state
	stored := cloneIncident(inc)
	s.incidents[id] = stored

	return cloneIncident(stored), true, nil
}

// GetIncident retrieves an incident by id. Returns a copy.
func (s *Store) GetIncident(_ context.Context, id string) (*incident.Incident, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inc, ok := s.incidents[id]
	if !ok {
		return nil, false, nil
	}
	return cloneIncident(inc), true, nil
}

// ListIncidents returns matching incidents, newest-created first.
func (s *Store) ListIncidents(_ context.Context, f incident.Filter) ([]*incident.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*incident.Incident, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		inc := s.incidents[s.order[i]]
		if f.Status != "" && inc.Status != f.Status {
			continue
		}
		if f.Severity != "" && inc.Severity != f.Severity {
			continue
		}
		out = append(out, cloneIncident(inc))
	}
	return out, nil
}

// AppendEvent appends one timeline event.
func (s *Store) AppendEvent(_ context.Context, incidentID, eventType string, data map[string]any) (*incident.TimelineEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.incidents[incidentID]; !ok {
		return nil, fmt.Errorf("incident %s not found", incidentID)
	}

	ev := incident.TimelineEvent{
		IncidentID: incidentID,
		Type:       eventType,
		Data:       data,
		CreatedAt:  time.Now().UTC(),
	}
	s.timelines[incidentID] = append(s.timelines[incidentID], ev)
	return &ev, nil
}

// GetTimeline returns an incident's events, oldest first.
func (s *Store) GetTimeline(_ context.Context, incidentID string) ([]incident.TimelineEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.timelines[incidentID]
	out := make([]incident.TimelineEvent, len(events))
	copy(out, events)
	return out, nil
}

// AddRelation appends one edge to the entity graph.
func (s *Store) AddRelation(_ context.Context, rel *incident.Relation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := rel.EntityType + "/" + rel.EntityID
	s.relations[key] = append(s.relations[key], *rel)
	return nil
}

// GetRelations returns all edges originating at the given entity.
func (s *Store) GetRelations(_ context.Context, entityType, entityID string) ([]incident.Relation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rels := s.relations[entityType+"/"+entityID]
	out := make([]incident.Relation, len(rels))
	copy(out, rels)
	return out, nil
}

// PutRunbook inserts or replaces a runbook.
func (s *Store) PutRunbook(_ context.Context, rb *incident.Runbook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rb
	s.runbooks[rb.ID] = &cp
	return nil
}

// ListRunbooks returns all runbooks.
func (s *Store) ListRunbooks(_ context.Context) ([]incident.Runbook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]incident.Runbook, 0, len(s.runbooks))
	for _, rb := range s.runbooks {
		out = append(out, *rb)
	}
	return out, nil
}
