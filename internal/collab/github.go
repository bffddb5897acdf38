package collab

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/warden/internal/incident"
)

// GitHub talks to the source-control API for one repository: recent
// commits as triage evidence, and branch/file/PR creation for apply_fix.
type GitHub struct {
	baseURL    string
	repo       string // "owner/name"
	token      string
	baseBranch string
	httpClient *http.Client
}

// NewGitHub creates a source-control client. baseURL defaults to the public
// API when empty; baseBranch defaults to main.
func NewGitHub(baseURL, repo, token, baseBranch string) *GitHub {
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	if baseBranch == "" {
		baseBranch = "main"
	}
	return &GitHub{
		baseURL:    baseURL,
		repo:       repo,
		token:      token,
		baseBranch: baseBranch,
		httpClient: &http.Client{Timeout: httpTimeout},
	}
}

// RecentChanges lists commits on the base branch since the given time.
func (c *GitHub) RecentChanges(ctx context.Context, since time.Time) ([]incident.Change, error) {
	path := fmt.Sprintf("/repos/%s/commits?sha=%s&since=%s",
		c.repo, c.baseBranch, since.UTC().Format(time.RFC3339))

	var raw []struct {
		SHA    string `json:"sha"`
		Commit struct {
			Message string `json:"message"`
			Author  struct {
				Name string    `json:"name"`
				Date time.Time `json:"date"`
			} `json:"author"`
		} `json:"commit"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}

	out := make([]incident.Change, 0, len(raw))
	for _, commit := range raw {
		out = append(out, incident.Change{
			SHA:     commit.SHA,
			Message: commit.Commit.Message,
			Author:  commit.Commit.Author.Name,
			When:    commit.Commit.Author.Date,
		})
	}
	return out, nil
}

// CreateFixPR creates a branch off the base branch, commits one file to it,
// and opens a pull request. The content of all three calls is fully
// determined by the arguments.
func (c *GitHub) CreateFixPR(ctx context.Context, branch, title, body, path, content string) (*incident.PullRequest, error) {
	// resolve base branch head
	var ref struct {
		Object struct {
			SHA string `json:"sha"`
		} `json:"object"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/git/ref/heads/%s", c.repo, c.baseBranch), nil, &ref); err != nil {
		return nil, fmt.Errorf("resolve base branch: %w", err)
	}

	// create branch
	createRef := map[string]string{
		"ref": "refs/heads/" + branch,
		"sha": ref.Object.SHA,
	}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/git/refs", c.repo), createRef, nil); err != nil {
		return nil, fmt.Errorf("create branch: %w", err)
	}

	// commit the patch file
	putFile := map[string]string{
		"message": title,
		"content": base64.StdEncoding.EncodeToString([]byte(content)),
		"branch":  branch,
	}
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/repos/%s/contents/%s", c.repo, path), putFile, nil); err != nil {
		return nil, fmt.Errorf("commit file: %w", err)
	}

	// open the pull request
	createPR := map[string]string{
		"title": title,
		"body":  body,
		"head":  branch,
		"base":  c.baseBranch,
	}
	var pr struct {
		Number  int    `json:"number"`
		HTMLURL string `json:"html_url"`
	}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/pulls", c.repo), createPR, &pr); err != nil {
		return nil, fmt.Errorf("create pull request: %w", err)
	}

	return &incident.PullRequest{
		Number: pr.Number,
		URL:    pr.HTMLURL,
		Branch: branch,
		Title:  title,
	}, nil
}

func (c *GitHub) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("github request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("github returned %d: %s", resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
