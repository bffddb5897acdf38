package collab

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/linnemanlabs/warden/internal/alert"
)

func amServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/alerts" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestActiveAlerts(t *testing.T) {
	t.Parallel()

	srv := amServer(t, http.StatusOK, `[
		{"fingerprint":"fp-1","labels":{"alertname":"A"},"status":{"state":"active"}},
		{"fingerprint":"fp-2","labels":{"alertname":"B"},"status":{"state":"suppressed"}},
		{"fingerprint":"fp-3","labels":{"alertname":"C"},"status":{}}
	]`)

	c := NewAlertmanager(srv.URL)
	alerts, err := c.ActiveAlerts(context.Background())
	if err != nil {
		t.Fatalf("ActiveAlerts: %v", err)
	}
	if len(alerts) != 3 {
		t.Fatalf("len = %d", len(alerts))
	}
	if alerts[0].Status != alert.StatusFiring {
		t.Errorf("active alert status = %q", alerts[0].Status)
	}
	if alerts[1].Status != alert.StatusResolved {
		t.Errorf("suppressed alert status = %q, want resolved", alerts[1].Status)
	}
	// empty state defaults to firing
	if alerts[2].Status != alert.StatusFiring {
		t.Errorf("stateless alert status = %q", alerts[2].Status)
	}
}

func TestActiveAlerts_BackendError(t *testing.T) {
	t.Parallel()

	srv := amServer(t, http.StatusInternalServerError, "boom")
	c := NewAlertmanager(srv.URL)

	if _, err := c.ActiveAlerts(context.Background()); err == nil {
		t.Fatal("expected error on 500")
	}
}

func TestAlertFiring(t *testing.T) {
	t.Parallel()

	srv := amServer(t, http.StatusOK, `[
		{"fingerprint":"fp-live","labels":{"alertname":"A"},"status":{"state":"active"}},
		{"fingerprint":"fp-silenced","labels":{"alertname":"B"},"status":{"state":"silenced"}}
	]`)
	c := NewAlertmanager(srv.URL)

	firing, err := c.AlertFiring(context.Background(), "fp-live")
	if err != nil {
		t.Fatalf("AlertFiring: %v", err)
	}
	if !firing {
		t.Error("fp-live reported not firing")
	}

	firing, err = c.AlertFiring(context.Background(), "fp-silenced")
	if err != nil {
		t.Fatalf("AlertFiring: %v", err)
	}
	if firing {
		t.Error("silenced alert reported firing")
	}

	firing, err = c.AlertFiring(context.Background(), "fp-gone")
	if err != nil {
		t.Fatalf("AlertFiring: %v", err)
	}
	if firing {
		t.Error("absent fingerprint reported firing")
	}
}
