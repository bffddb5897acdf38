package alertapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/warden/internal/incident"
)

func (a *API) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	f := incident.Filter{
		Status:   incident.Status(r.URL.Query().Get("status")),
		Severity: r.URL.Query().Get("severity"),
	}

	incidents, err := a.incidents.List(r.Context(), f)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list incidents")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if incidents == nil {
		incidents = []*incident.Incident{}
	}
	writeJSON(w, http.StatusOK, incidents)
}

func (a *API) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("warden.incident.id", id))

	inc, ok, err := a.incidents.Get(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get incident", "id", id)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "incident not found"})
		return
	}

	span.SetAttributes(attribute.String("warden.incident.status", string(inc.Status)))

	writeJSON(w, http.StatusOK, inc)
}

func (a *API) handleGetTimeline(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	events, err := a.incidents.Timeline(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get timeline", "id", id)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if len(events) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "incident not found"})
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (a *API) handleGetReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rep, ok, err := a.incidents.GenerateReport(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to generate report", "id", id)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "incident not found"})
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// handleAcknowledge moves an incident to acknowledged on explicit human
// action. Illegal transitions get 409.
func (a *API) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	acked := incident.StatusAcknowledged
	inc, ok, err := a.incidents.Update(r.Context(), id, &incident.Patch{Status: &acked})
	if err != nil {
		if errors.Is(err, incident.ErrInvalidTransition) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		a.logger.Error(r.Context(), err, "failed to acknowledge incident", "id", id)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "incident not found"})
		return
	}
	writeJSON(w, http.StatusOK, inc)
}
