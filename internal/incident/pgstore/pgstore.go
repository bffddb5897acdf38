// Package pgstore provides a PostgreSQL implementation of incident.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/warden/internal/incident"
)

var tracer = otel.Tracer("github.com/linnemanlabs/warden/internal/incident/pgstore")

//go:embed schema.sql
var schema string

// Store persists incidents, timelines, relations, and runbooks in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store over the given pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func spanErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

const incidentColumns = `id, fingerprint, summary, severity, status, labels, annotations,
	triage_result, fix_result, created_at, updated_at, resolved_at`

// CreateIncident inserts a new incident row.
func (s *Store) CreateIncident(ctx context.Context, inc *incident.Incident) error {
	ctx, span := startSpan(ctx, "pgstore.CreateIncident", "INSERT")
	defer span.End()

	labels, annotations, triageJSON, fixJSON, err := marshalJSONFields(inc)
	if err != nil {
		return spanErr(span, err)
	}

	query := `INSERT INTO incidents (` + incidentColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	_, err = s.pool.Exec(ctx, query,
		inc.ID, inc.Fingerprint, inc.Summary, inc.Severity, string(inc.Status),
		labels, annotations, triageJSON, fixJSON,
		inc.CreatedAt, inc.UpdatedAt, inc.ResolvedAt,
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("insert incident: %w", err))
	}
	return nil
}

// UpdateIncident applies the patch inside one transaction and returns the
// updated incident. Returns ok=false when the id is unknown.
func (s *Store) UpdateIncident(ctx context.Context, id string, patch *incident.Patch) (*incident.Incident, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.UpdateIncident", "UPDATE")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, spanErr(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1 FOR UPDATE`
	inc, err := scanIncident(tx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, false, spanErr(span, err)
	}
	if inc == nil {
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

	labels, annotations, triageJSON, fixJSON, err := marshalJSONFields(inc)
	if err != nil {
		return nil, true, spanErr(span, err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE incidents SET summary=$2, severity=$3, status=$4, labels=$5, annotations=$6,
			triage_result=$7, fix_result=$8, updated_at=$9, resolved_at=$10
		 WHERE id = $1`,
		inc.ID, inc.Summary, inc.Severity, string(inc.Status), labels, annotations,
		triageJSON, fixJSON, inc.UpdatedAt, inc.ResolvedAt,
	)
	if err != nil {
		return nil, true, spanErr(span, fmt.Errorf("update incident: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, true, spanErr(span, fmt.Errorf("commit: %w", err))
	}
	return inc, true, nil
}

// GetIncident retrieves an incident by id.
func (s *Store) GetIncident(ctx context.Context, id string) (*incident.Incident, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetIncident", "SELECT")
	defer span.End()

	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1`
	inc, err := scanIncident(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, false, spanErr(span, err)
	}
	if inc == nil {
		return nil, false, nil
	}
	return inc, true, nil
}

// ListIncidents returns matching incidents, newest-created first.
func (s *Store) ListIncidents(ctx context.Context, f incident.Filter) ([]*incident.Incident, error) {
	ctx, span := startSpan(ctx, "pgstore.ListIncidents", "SELECT")
	defer span.End()

	query := `SELECT ` + incidentColumns + ` FROM incidents
		WHERE ($1 = '' OR status = $1) AND ($2 = '' OR severity = $2)
		ORDER BY created_at DESC`
	rows, err := s.pool.Query(ctx, query, string(f.Status), f.Severity)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query incidents: %w", err))
	}
	defer rows.Close()

	var out []*incident.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, spanErr(span, err)
		}
		out = append(out, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, spanErr(span, fmt.Errorf("iterate incidents: %w", err))
	}
	return out, nil
}

// AppendEvent appends one timeline event.
func (s *Store) AppendEvent(ctx context.Context, incidentID, eventType string, data map[string]any) (*incident.TimelineEvent, error) {
	ctx, span := startSpan(ctx, "pgstore.AppendEvent", "INSERT")
	defer span.End()

	var dataJSON []byte
	if data != nil {
		var err error
		dataJSON, err = json.Marshal(data)
		if err != nil {
			return nil, spanErr(span, fmt.Errorf("marshal event data: %w", err))
		}
	}

	ev := incident.TimelineEvent{
		IncidentID: incidentID,
		Type:       eventType,
		Data:       data,
		CreatedAt:  time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO incident_timeline (incident_id, event_type, event_data, created_at)
		 VALUES ($1, $2, $3, $4)`,
		incidentID, eventType, dataJSON, ev.CreatedAt,
	)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("insert event: %w", err))
	}
	return &ev, nil
}

// GetTimeline returns an incident's events, oldest first.
func (s *Store) GetTimeline(ctx context.Context, incidentID string) ([]incident.TimelineEvent, error) {
	ctx, span := startSpan(ctx, "pgstore.GetTimeline", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT incident_id, event_type, event_data, created_at
		 FROM incident_timeline WHERE incident_id = $1 ORDER BY created_at, id`,
		incidentID,
	)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query timeline: %w", err))
	}
	defer rows.Close()

	var out []incident.TimelineEvent
	for rows.Next() {
		var ev incident.TimelineEvent
		var dataJSON []byte
		if err := rows.Scan(&ev.IncidentID, &ev.Type, &dataJSON, &ev.CreatedAt); err != nil {
			return nil, spanErr(span, fmt.Errorf("scan event: %w", err))
		}
		if len(dataJSON) > 0 {
			if err := json.Unmarshal(dataJSON, &ev.Data); err != nil {
				return nil, spanErr(span, fmt.Errorf("unmarshal event data: %w", err))
			}
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, spanErr(span, fmt.Errorf("iterate timeline: %w", err))
	}
	return out, nil
}

// AddRelation appends one edge to the entity graph.
func (s *Store) AddRelation(ctx context.Context, rel *incident.Relation) error {
	ctx, span := startSpan(ctx, "pgstore.AddRelation", "INSERT")
	defer span.End()

	var metaJSON []byte
	if rel.Metadata != nil {
		var err error
		metaJSON, err = json.Marshal(rel.Metadata)
		if err != nil {
			return spanErr(span, fmt.Errorf("marshal relation metadata: %w", err))
		}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO relations (entity_type, entity_id, related_type, related_id, relationship, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rel.EntityType, rel.EntityID, rel.RelatedType, rel.RelatedID, rel.Relationship, metaJSON, rel.CreatedAt,
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("insert relation: %w", err))
	}
	return nil
}

// GetRelations returns all edges originating at the given entity.
func (s *Store) GetRelations(ctx context.Context, entityType, entityID string) ([]incident.Relation, error) {
	ctx, span := startSpan(ctx, "pgstore.GetRelations", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT entity_type, entity_id, related_type, related_id, relationship, metadata, created_at
		 FROM relations WHERE entity_type = $1 AND entity_id = $2 ORDER BY id`,
		entityType, entityID,
	)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query relations: %w", err))
	}
	defer rows.Close()

	var out []incident.Relation
	for rows.Next() {
		var rel incident.Relation
		var metaJSON []byte
		if err := rows.Scan(&rel.EntityType, &rel.EntityID, &rel.RelatedType, &rel.RelatedID,
			&rel.Relationship, &metaJSON, &rel.CreatedAt); err != nil {
			return nil, spanErr(span, fmt.Errorf("scan relation: %w", err))
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &rel.Metadata); err != nil {
				return nil, spanErr(span, fmt.Errorf("unmarshal relation metadata: %w", err))
			}
		}
		out = append(out, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, spanErr(span, fmt.Errorf("iterate relations: %w", err))
	}
	return out, nil
}

// PutRunbook inserts or replaces a runbook.
func (s *Store) PutRunbook(ctx context.Context, rb *incident.Runbook) error {
	ctx, span := startSpan(ctx, "pgstore.PutRunbook", "UPSERT")
	defer span.End()

	keywords, err := json.Marshal(rb.Keywords)
	if err != nil {
		return spanErr(span, fmt.Errorf("marshal keywords: %w", err))
	}
	steps, err := json.Marshal(rb.Steps)
	if err != nil {
		return spanErr(span, fmt.Errorf("marshal steps: %w", err))
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runbooks (id, name, keywords, steps) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, keywords = EXCLUDED.keywords, steps = EXCLUDED.steps`,
		rb.ID, rb.Name, keywords, steps,
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("upsert runbook: %w", err))
	}
	return nil
}

// ListRunbooks returns all runbooks.
func (s *Store) ListRunbooks(ctx context.Context) ([]incident.Runbook, error) {
	ctx, span := startSpan(ctx, "pgstore.ListRunbooks", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx, `SELECT id, name, keywords, steps FROM runbooks ORDER BY id`)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query runbooks: %w", err))
	}
	defer rows.Close()

	var out []incident.Runbook
	for rows.Next() {
		var rb incident.Runbook
		var keywords, steps []byte
		if err := rows.Scan(&rb.ID, &rb.Name, &keywords, &steps); err != nil {
			return nil, spanErr(span, fmt.Errorf("scan runbook: %w", err))
		}
		if err := json.Unmarshal(keywords, &rb.Keywords); err != nil {
			return nil, spanErr(span, fmt.Errorf("unmarshal keywords: %w", err))
		}
		if err := json.Unmarshal(steps, &rb.Steps); err != nil {
			return nil, spanErr(span, fmt.Errorf("unmarshal steps: %w", err))
		}
		out = append(out, rb)
	}
	if err := rows.Err(); err != nil {
		return nil, spanErr(span, fmt.Errorf("iterate runbooks: %w", err))
	}
	return out, nil
}

func marshalJSONFields(inc *incident.Incident) (labels, annotations, triage, fix []byte, err error) {
	labels, err = json.Marshal(orEmpty(inc.Labels))
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal labels: %w", err)
	}
	annotations, err = json.Marshal(orEmpty(inc.Annotations))
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal annotations: %w", err)
	}
	if inc.TriageResult != nil {
		triage, err = json.Marshal(inc.TriageResult)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("marshal triage result: %w", err)
		}
	}
	if inc.FixResult != nil {
		fix, err = json.Marshal(inc.FixResult)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("marshal fix result: %w", err)
		}
	}
	return labels, annotations, triage, fix, nil
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

// scanIncident scans one row into an Incident. Returns (nil, nil) when no
// row is found.
func scanIncident(row pgx.Row) (*incident.Incident, error) {
	var (
		inc         incident.Incident
		status      string
		labels      []byte
		annotations []byte
		triageJSON  []byte
		fixJSON     []byte
	)

	err := row.Scan(
		&inc.ID, &inc.Fingerprint, &inc.Summary, &inc.Severity, &status,
		&labels, &annotations, &triageJSON, &fixJSON,
		&inc.CreatedAt, &inc.UpdatedAt, &inc.ResolvedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan incident: %w", err)
	}

	inc.Status = incident.Status(status)
	if err := json.Unmarshal(labels, &inc.Labels); err != nil {
		return nil, fmt.Errorf("unmarshal labels: %w", err)
	}
	if err := json.Unmarshal(annotations, &inc.Annotations); err != nil {
		return nil, fmt.Errorf("unmarshal annotations: %w", err)
	}
	if len(triageJSON) > 0 {
		inc.TriageResult = &incident.TriageResult{}
		if err := json.Unmarshal(triageJSON, inc.TriageResult); err != nil {
			return nil, fmt.Errorf("unmarshal triage result: %w", err)
		}
	}
	if len(fixJSON) > 0 {
		inc.FixResult = &incident.FixResult{}
		if err := json.Unmarshal(fixJSON, inc.FixResult); err != nil {
			return nil, fmt.Errorf("unmarshal fix result: %w", err)
		}
	}
	return &inc, nil
}
