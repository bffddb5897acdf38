// Package cfg holds warden's application configuration.
package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Config adds warden-specific configuration fields to the common
// cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string
	DatabaseURL           string

	PollSeconds   int
	SettleSeconds int

	AlertmanagerEndpoint string
	PrometheusEndpoint   string
	PrometheusTenantID   string

	GitHubBaseURL string
	GitHubRepo    string
	GitHubToken   string
	GitHubBranch  string

	JiraBaseURL string
	JiraProject string
	JiraUser    string
	JiraToken   string

	PagerDutyBaseURL   string
	PagerDutyToken     string
	PagerDutyServiceID string
	PagerDutyFrom      string

	FleetEndpoint string
	FleetToken    string

	SlackWebhookURL string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token protecting /api endpoints (empty = no auth)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.IntVar(&c.PollSeconds, "poll-seconds", 30, "interval between active-alert poll cycles (0 = polling disabled)")
	fs.IntVar(&c.SettleSeconds, "settle-seconds", 30, "wait between applying fixes and the verification check")
	fs.StringVar(&c.AlertmanagerEndpoint, "alertmanager-endpoint", "", "Alertmanager endpoint for polling and verification (empty = push-only)")
	fs.StringVar(&c.PrometheusEndpoint, "prometheus-endpoint", "", "Prometheus endpoint for triage metric lookups")
	fs.StringVar(&c.PrometheusTenantID, "prometheus-tenant-id", "", "Prometheus tenant ID for multi-tenant setups")
	fs.StringVar(&c.GitHubBaseURL, "github-base-url", "", "GitHub API base URL (empty = public API)")
	fs.StringVar(&c.GitHubRepo, "github-repo", "", "repository for recent-change lookups and fix PRs (owner/name)")
	fs.StringVar(&c.GitHubToken, "github-token", "", "GitHub API token")
	fs.StringVar(&c.GitHubBranch, "github-branch", "main", "base branch for fix PRs")
	fs.StringVar(&c.JiraBaseURL, "jira-base-url", "", "Jira base URL for tracking tickets")
	fs.StringVar(&c.JiraProject, "jira-project", "", "Jira project key")
	fs.StringVar(&c.JiraUser, "jira-user", "", "Jira user for basic auth")
	fs.StringVar(&c.JiraToken, "jira-token", "", "Jira API token")
	fs.StringVar(&c.PagerDutyBaseURL, "pagerduty-base-url", "", "PagerDuty API base URL (empty = public API)")
	fs.StringVar(&c.PagerDutyToken, "pagerduty-token", "", "PagerDuty API token")
	fs.StringVar(&c.PagerDutyServiceID, "pagerduty-service-id", "", "PagerDuty service for escalations")
	fs.StringVar(&c.PagerDutyFrom, "pagerduty-from", "", "email address escalations are attributed to")
	fs.StringVar(&c.FleetEndpoint, "fleet-endpoint", "", "fleet operator endpoint for rollback/restart/scale actions")
	fs.StringVar(&c.FleetToken, "fleet-token", "", "fleet operator bearer token")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for notifications")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.PollSeconds < 0 {
		errs = append(errs, fmt.Errorf("invalid POLL_SECONDS %d (must be >= 0)", c.PollSeconds))
	}
	if c.SettleSeconds <= 0 || c.SettleSeconds > 600 {
		errs = append(errs, fmt.Errorf("invalid SETTLE_SECONDS %d (must be 1..600)", c.SettleSeconds))
	}

	// Polling requires an alerting backend to poll
	if c.PollSeconds > 0 && c.AlertmanagerEndpoint == "" {
		errs = append(errs, errors.New("ALERTMANAGER_ENDPOINT is required when polling is enabled"))
	}

	// Fix PRs and recent-change lookups need a repository
	if c.GitHubToken != "" && c.GitHubRepo == "" {
		errs = append(errs, errors.New("GITHUB_REPO is required when GITHUB_TOKEN is set"))
	}

	// Jira auth comes as a unit
	if c.JiraBaseURL != "" && (c.JiraProject == "" || c.JiraUser == "" || c.JiraToken == "") {
		errs = append(errs, errors.New("JIRA_PROJECT, JIRA_USER, and JIRA_TOKEN are required when JIRA_BASE_URL is set"))
	}

	if c.PagerDutyToken != "" && c.PagerDutyServiceID == "" {
		errs = append(errs, errors.New("PAGERDUTY_SERVICE_ID is required when PAGERDUTY_TOKEN is set"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
