// Package collab holds HTTP clients for the external services the pipeline
// consults: the metrics backend, the alerting backend, source control,
// ticketing, and paging. Every call is retried-never; a failure degrades the
// one feature that needed it and the pipeline continues.
package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const httpTimeout = 30 * time.Second

// maxMetricSeries caps query results so triage attachments stay small.
const maxMetricSeries = 50

// Prometheus queries a Prometheus-compatible metrics backend.
type Prometheus struct {
	endpoint   string
	tenantID   string
	httpClient *http.Client
}

// NewPrometheus creates a metrics client. tenantID may be empty.
func NewPrometheus(endpoint, tenantID string) *Prometheus {
	return &Prometheus{
		endpoint:   endpoint,
		tenantID:   tenantID,
		httpClient: &http.Client{Timeout: httpTimeout},
	}
}

// QueryRange runs a PromQL range query and returns a slimmed result.
func (p *Prometheus) QueryRange(ctx context.Context, query string, start, end time.Time) (json.RawMessage, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	u.Path = "/api/v1/query_range"

	step := end.Sub(start) / 60
	if step < time.Second {
		step = time.Second
	}

	q := u.Query()
	q.Set("query", query)
	q.Set("start", strconv.FormatInt(start.Unix(), 10))
	q.Set("end", strconv.FormatInt(end.Unix(), 10))
	q.Set("step", strconv.FormatInt(int64(step.Seconds()), 10))
	u.RawQuery = q.Encode()

	body, err := p.get(ctx, u.String())
	if err != nil {
		return nil, err
	}
	return slimPromResponse(body)
}

// Query runs an instant PromQL query and returns a slimmed result.
func (p *Prometheus) Query(ctx context.Context, query string) (json.RawMessage, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	u.Path = "/api/v1/query"

	q := u.Query()
	q.Set("query", query)
	u.RawQuery = q.Encode()

	body, err := p.get(ctx, u.String())
	if err != nil {
		return nil, err
	}
	return slimPromResponse(body)
}

func (p *Prometheus) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if p.tenantID != "" {
		req.Header.Set("X-Scope-OrgID", p.tenantID)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("prometheus query failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("prometheus returned %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// slimPromResponse parses a Prometheus API response and caps the series
// count so stored attachments stay bounded.
func slimPromResponse(body []byte) (json.RawMessage, error) {
	var promResp struct {
		Status string `json:"status"`
		Data   struct {
			ResultType string            `json:"resultType"`
			Result     []json.RawMessage `json:"result"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &promResp); err != nil {
		return body, nil // return raw if we can't parse
	}
	if promResp.Status != "success" {
		return nil, fmt.Errorf("prometheus query failed: %s", string(body))
	}

	results := promResp.Data.Result
	truncated := false
	if len(results) > maxMetricSeries {
		results = results[:maxMetricSeries]
		truncated = true
	}

	return json.Marshal(map[string]any{
		"result_type":  promResp.Data.ResultType,
		"result_count": len(promResp.Data.Result),
		"results":      results,
		"truncated":    truncated,
	})
}
