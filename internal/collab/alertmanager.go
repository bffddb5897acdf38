package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/linnemanlabs/warden/internal/alert"
)

// Alertmanager lists active alerts from an Alertmanager v2 API. It backs
// both the poll ingestion path and post-remediation verification.
type Alertmanager struct {
	endpoint   string
	httpClient *http.Client
}

// NewAlertmanager creates an alerting backend client.
func NewAlertmanager(endpoint string) *Alertmanager {
	return &Alertmanager{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: httpTimeout},
	}
}

// amAlert is the Alertmanager v2 wire shape.
type amAlert struct {
	Fingerprint  string            `json:"fingerprint"`
	Labels       map[string]string `json:"labels"`
	Annotations  map[string]string `json:"annotations"`
	StartsAt     time.Time         `json:"startsAt"`
	EndsAt       time.Time         `json:"endsAt"`
	GeneratorURL string            `json:"generatorURL"`
	Status       struct {
		State string `json:"state"`
	} `json:"status"`
}

// ActiveAlerts fetches the backend's currently active alerts. Suppressed
// and silenced alerts are mapped to resolved so the dedup path releases
// their fingerprints.
func (c *Alertmanager) ActiveAlerts(ctx context.Context) ([]alert.Alert, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	u.Path = "/api/v2/alerts"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("alertmanager request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("alertmanager returned %d: %s", resp.StatusCode, string(body))
	}

	var raw []amAlert
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode alerts: %w", err)
	}

	out := make([]alert.Alert, 0, len(raw))
	for _, a := range raw {
		status := alert.StatusFiring
		if a.Status.State != "" && a.Status.State != "active" {
			status = alert.StatusResolved
		}
		out = append(out, alert.Alert{
			Status:       status,
			Fingerprint:  a.Fingerprint,
			Labels:       a.Labels,
			Annotations:  a.Annotations,
			StartsAt:     a.StartsAt,
			EndsAt:       a.EndsAt,
			GeneratorURL: a.GeneratorURL,
		})
	}
	return out, nil
}

// AlertFiring reports whether an alert with the given fingerprint is still
// in the backend's active list.
func (c *Alertmanager) AlertFiring(ctx context.Context, fingerprint string) (bool, error) {
	alerts, err := c.ActiveAlerts(ctx)
	if err != nil {
		return false, err
	}
	for i := range alerts {
		if alerts[i].Status == alert.StatusFiring && alerts[i].Key() == fingerprint {
			return true, nil
		}
	}
	return false, nil
}
