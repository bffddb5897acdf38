package incident

import "context"

// Filter narrows ListIncidents results. Zero values match everything.
type Filter struct {
	Status   Status
	Severity string
}

// Store is the persistence interface for incidents, their timelines, the
// entity relation graph, and runbooks. Implementations must be safe for
// concurrent use. JSON-typed fields are stored opaque and round-tripped
// structurally; callers never see serialized strings.
type Store interface {
	// CreateIncident persists a new incident.
	CreateIncident(ctx context.Context, inc *Incident) error

	// UpdateIncident applies the patch and bumps updated_at. The second
	// return is false when the incident does not exist.
	UpdateIncident(ctx context.Context, id string, patch *Patch) (*Incident, bool, error)

	// GetIncident retrieves an incident by id.
	GetIncident(ctx context.Context, id string) (*Incident, bool, error)

	// ListIncidents returns matching incidents, newest-created first.
	ListIncidents(ctx context.Context, f Filter) ([]*Incident, error)

	// AppendEvent appends one timeline event to an incident's history.
	AppendEvent(ctx context.Context, incidentID, eventType string, data map[string]any) (*TimelineEvent, error)

	// GetTimeline returns an incident's events, oldest first.
	GetTimeline(ctx context.Context, incidentID string) ([]TimelineEvent, error)

	// AddRelation appends one edge to the entity graph.
	AddRelation(ctx context.Context, rel *Relation) error

	// GetRelations returns all edges originating at the given entity.
	GetRelations(ctx context.Context, entityType, entityID string) ([]Relation, error)

	// PutRunbook inserts or replaces a runbook.
	PutRunbook(ctx context.Context, rb *Runbook) error

	// ListRunbooks returns all runbooks.
	ListRunbooks(ctx context.Context) ([]Runbook, error)
}
