package alertapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/warden/internal/incident"
	"github.com/linnemanlabs/warden/internal/pipeline"
)

type approveRequest struct {
	Actions []string `json:"actions"`
}

// handleApprove runs remediation synchronously for the approved actions and
// returns the FixResult. The request blocks through the settle period and
// verification; other incidents keep processing meanwhile.
func (a *API) handleApprove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON"})
		return
	}

	fr, ok, err := a.approver.Approve(r.Context(), id, req.Actions)
	if err != nil {
		if errors.Is(err, pipeline.ErrNotTriaged) || errors.Is(err, incident.ErrInvalidTransition) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		a.logger.Error(r.Context(), err, "approval failed", "id", id)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "incident not found"})
		return
	}
	writeJSON(w, http.StatusOK, fr)
}
