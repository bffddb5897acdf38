// Package alertapi exposes the orchestration core over HTTP: the alert
// webhook, incident reads, acknowledgement, and the remediation approval
// gate.
package alertapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/warden/internal/alert"
	"github.com/linnemanlabs/warden/internal/authmw"
	"github.com/linnemanlabs/warden/internal/incident"
)

// IncidentService defines the lifecycle operations the API needs.
type IncidentService interface {
	Get(ctx context.Context, id string) (*incident.Incident, bool, error)
	List(ctx context.Context, f incident.Filter) ([]*incident.Incident, error)
	Timeline(ctx context.Context, id string) ([]incident.TimelineEvent, error)
	GenerateReport(ctx context.Context, id string) (*incident.Report, bool, error)
	Update(ctx context.Context, id string, patch *incident.Patch) (*incident.Incident, bool, error)
}

// AlertSink receives ingested alerts.
type AlertSink interface {
	Submit(ctx context.Context, al *alert.Alert)
}

// Approver runs remediation for an incident with the approved actions.
type Approver interface {
	Approve(ctx context.Context, id string, actions []string) (*incident.FixResult, bool, error)
}

// API holds dependencies for the HTTP handlers.
type API struct {
	logger    log.Logger
	incidents IncidentService
	sink      AlertSink
	approver  Approver
	apiToken  string
}

// New creates an API handler. apiToken may be empty to disable auth on the
// /api group.
func New(logger log.Logger, incidents IncidentService, sink AlertSink, approver Approver, apiToken string) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if incidents == nil || sink == nil || approver == nil {
		panic(xerrors.New("incident service, alert sink, and approver are required"))
	}
	return &API{
		logger:    logger,
		incidents: incidents,
		sink:      sink,
		approver:  approver,
		apiToken:  apiToken,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Get("/health", a.handleHealth)
	r.Post("/webhook/prometheus", a.handleWebhook)

	r.Route("/api", func(r chi.Router) {
		if a.apiToken != "" {
			r.Use(authmw.BearerToken(a.apiToken))
		}
		r.Get("/incidents", a.handleListIncidents)
		r.Get("/incidents/{id}", a.handleGetIncident)
		r.Get("/incidents/{id}/timeline", a.handleGetTimeline)
		r.Get("/incidents/{id}/report", a.handleGetReport)
		r.Post("/incidents/{id}/ack", a.handleAcknowledge)
		r.Post("/approve/{id}", a.handleApprove)
	})
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
