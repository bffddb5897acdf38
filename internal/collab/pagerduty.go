package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// PagerDuty pages the on-call engineer for escalations.
type PagerDuty struct {
	baseURL    string
	token      string
	serviceID  string
	fromEmail  string
	httpClient *http.Client
}

// NewPagerDuty creates a paging client. baseURL defaults to the public API
// when empty.
func NewPagerDuty(baseURL, token, serviceID, fromEmail string) *PagerDuty {
	if baseURL == "" {
		baseURL = "https://api.pagerduty.com"
	}
	return &PagerDuty{
		baseURL:    baseURL,
		token:      token,
		serviceID:  serviceID,
		fromEmail:  fromEmail,
		httpClient: &http.Client{Timeout: httpTimeout},
	}
}

// CreateIncident opens a paging incident and returns its id.
func (c *PagerDuty) CreateIncident(ctx context.Context, title, urgency string) (string, error) {
	if urgency == "" {
		urgency = "high"
	}
	payload := map[string]any{
		"incident": map[string]any{
			"type":    "incident",
			"title":   title,
			"urgency": urgency,
			"service": map[string]string{"id": c.serviceID, "type": "service_reference"},
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal incident: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/incidents", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token token="+c.token)
	req.Header.Set("From", c.fromEmail)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("pagerduty request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("pagerduty returned %d: %s", resp.StatusCode, string(body))
	}

	var created struct {
		Incident struct {
			ID string `json:"id"`
		} `json:"incident"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return created.Incident.ID, nil
}
