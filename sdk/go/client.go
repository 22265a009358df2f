package gatelinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Gateline HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// GateConfig represents one configured gate (partial API model).
type GateConfig struct {
	ID                string         `json:"id"`
	WorkspaceID       string         `json:"workspace_id"`
	ProjectID         string         `json:"project_id"`
	GateType          string         `json:"gate_type"`
	IsEnabled         bool           `json:"is_enabled"`
	IsBlocking        bool           `json:"is_blocking"`
	ThresholdConfig   map[string]any `json:"threshold_config"`
	TimeoutMs         *int64         `json:"timeout_ms,omitempty"`
	TotalEvaluations  int64          `json:"total_evaluations"`
	PassedEvaluations int64          `json:"passed_evaluations"`
	FailedEvaluations int64          `json:"failed_evaluations"`
	LastResult        *string        `json:"last_result,omitempty"`
}

// IssueCounts aggregates issues by severity.
type IssueCounts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
}

// Issue is one finding reported by a gate.
type Issue struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Location string `json:"location,omitempty"`
}

// Execution represents one gate execution.
type Execution struct {
	ID                 string         `json:"id"`
	GateConfigID       string         `json:"gate_config_id"`
	GateType           string         `json:"gate_type"`
	ProjectID          string         `json:"project_id"`
	Status             string         `json:"status"`
	StartedAt          *string        `json:"started_at,omitempty"`
	CompletedAt        *string        `json:"completed_at,omitempty"`
	DurationMs         *int64         `json:"duration_ms,omitempty"`
	Passed             *bool          `json:"passed,omitempty"`
	PassedWithWarnings bool           `json:"passed_with_warnings"`
	IssueCounts        IssueCounts    `json:"issue_counts"`
	Issues             []Issue        `json:"issues"`
	Metrics            map[string]any `json:"metrics,omitempty"`
	Recommendations    []string       `json:"recommendations"`
	ConfigUsed         map[string]any `json:"config_used"`
	ErrorMessage       string         `json:"error_message,omitempty"`
	CreatedAt          string         `json:"created_at"`
}

// RunResult is the aggregated outcome of one gate run.
type RunResult struct {
	RunID           string      `json:"run_id"`
	Executions      []Execution `json:"executions"`
	Blocking        bool        `json:"blocking"`
	BlockingGateIDs []string    `json:"blocking_gate_ids"`
}

// RunTarget names what a run evaluates; set exactly one field.
type RunTarget struct {
	TaskID             string `json:"task_id,omitempty"`
	TaskRunID          string `json:"task_run_id,omitempty"`
	SandboxExecutionID string `json:"sandbox_execution_id,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// PaginatedExecutions wraps execution listings with cursors.
type PaginatedExecutions struct {
	Items      []Execution `json:"items"`
	NextCursor string      `json:"next_cursor"`
}

// RunGates evaluates gates against a target. Artifacts, when non-nil, submits
// inline tool output keyed by gate type.
func (c *Client) RunGates(ctx context.Context, target RunTarget, dryRun bool, artifacts map[string]json.RawMessage) (RunResult, error) {
	body := map[string]any{
		"target":  target,
		"dry_run": dryRun,
	}
	if len(artifacts) > 0 {
		body["artifacts"] = artifacts
	}
	var resp RunResult
	err := c.do(ctx, http.MethodPost, c.projectPath("runs"), body, &resp)
	return resp, err
}

// GateConfigs lists the project's gate configurations.
func (c *Client) GateConfigs(ctx context.Context) ([]GateConfig, error) {
	var resp []GateConfig
	err := c.do(ctx, http.MethodGet, c.projectPath("gates"), nil, &resp)
	return resp, err
}

// GateConfig fetches one gate configuration by type.
func (c *Client) GateConfig(ctx context.Context, gateType string) (GateConfig, error) {
	var resp GateConfig
	endpoint := c.projectPath(fmt.Sprintf("gates/%s", url.PathEscape(gateType)))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// SetGateConfig patches a gate configuration. Nil fields are left unchanged.
func (c *Client) SetGateConfig(ctx context.Context, gateType string, enabled, blocking *bool, thresholds map[string]any) (GateConfig, error) {
	body := map[string]any{}
	if enabled != nil {
		body["is_enabled"] = *enabled
	}
	if blocking != nil {
		body["is_blocking"] = *blocking
	}
	if thresholds != nil {
		body["threshold_config"] = thresholds
	}
	var resp GateConfig
	endpoint := c.projectPath(fmt.Sprintf("gates/%s", url.PathEscape(gateType)))
	err := c.do(ctx, http.MethodPatch, endpoint, body, &resp)
	return resp, err
}

// Executions returns recent gate executions.
func (c *Client) Executions(ctx context.Context, limit int) ([]Execution, error) {
	page, err := c.ExecutionsPage(ctx, limit, "")
	return page.Items, err
}

// ExecutionsPage returns a paginated execution listing.
func (c *Client) ExecutionsPage(ctx context.Context, limit int, cursor string) (PaginatedExecutions, error) {
	endpoint := c.projectPath("executions")
	endpoint = withPagination(endpoint, limit, cursor)
	var resp PaginatedExecutions
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Execution fetches one execution by id.
func (c *Client) Execution(ctx context.Context, id string) (Execution, error) {
	var resp Execution
	endpoint := fmt.Sprintf("v0/executions/%s", url.PathEscape(id))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := c.projectPath("events")
	endpoint = withPagination(endpoint, limit, cursor)
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func withPagination(endpoint string, limit int, cursor string) string {
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	return endpoint
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
