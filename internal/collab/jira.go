package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Jira creates tracking tickets in one project.
type Jira struct {
	baseURL    string
	project    string
	user       string
	token      string
	httpClient *http.Client
}

// NewJira creates a ticketing client using basic auth.
func NewJira(baseURL, project, user, token string) *Jira {
	return &Jira{
		baseURL:    baseURL,
		project:    project,
		user:       user,
		token:      token,
		httpClient: &http.Client{Timeout: httpTimeout},
	}
}

// CreateIssue opens a ticket and returns its key.
func (c *Jira) CreateIssue(ctx context.Context, summary, description string) (string, error) {
	payload := map[string]any{
		"fields": map[string]any{
			"project":     map[string]string{"key": c.project},
			"summary":     summary,
			"description": description,
			"issuetype":   map[string]string{"name": "Task"},
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal issue: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rest/api/2/issue", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.user, c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("jira request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("jira returned %d: %s", resp.StatusCode, string(body))
	}

	var created struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return created.Key, nil
}
