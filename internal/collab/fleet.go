package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Fleet drives the fleet operator's action endpoint for rollbacks,
// restarts, and scale-outs.
type Fleet struct {
	endpoint   string
	token      string
	httpClient *http.Client
}

// NewFleet creates a fleet operator client.
func NewFleet(endpoint, token string) *Fleet {
	return &Fleet{
		endpoint:   endpoint,
		token:      token,
		httpClient: &http.Client{Timeout: httpTimeout},
	}
}

// Rollback reverts the service to its previous deployment.
func (c *Fleet) Rollback(ctx context.Context, service string) error {
	return c.post(ctx, "rollback", service)
}

// Restart bounces the service.
func (c *Fleet) Restart(ctx context.Context, service string) error {
	return c.post(ctx, "restart", service)
}

// ScaleUp adds capacity to the service.
func (c *Fleet) ScaleUp(ctx context.Context, service string) error {
	return c.post(ctx, "scale_up", service)
}

func (c *Fleet) post(ctx context.Context, action, service string) error {
	data, err := json.Marshal(map[string]string{
		"action":  action,
		"service": service,
	})
	if err != nil {
		return fmt.Errorf("marshal action: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/actions", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fleet operator request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("fleet operator returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
