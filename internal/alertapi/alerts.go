package alertapi

import (
	"encoding/json"
	"net/http"

	"github.com/linnemanlabs/warden/internal/alert"
)

// handleWebhook accepts an Alertmanager-style webhook. Acceptance is
// fire-and-forget: valid JSON always gets 200 and downstream processing
// failures are logged, never surfaced to the caller.
func (a *API) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var wh alert.Webhook
	if err := json.NewDecoder(r.Body).Decode(&wh); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON"})
		return
	}

	for i := range wh.Alerts {
		a.sink.Submit(r.Context(), &wh.Alerts[i])
	}

	a.logger.Info(r.Context(), "webhook received", "alerts", len(wh.Alerts))
	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}
