package server

import (
	"encoding/json"

	"gateline/internal/config"
	"gateline/internal/domain"
)

// Request payloads

type CreateProjectRequest struct {
	ID          string  `json:"id"`
	WorkspaceID string  `json:"workspace_id,omitempty"`
	Description *string `json:"description,omitempty"`
}

type UpdateGateConfigRequest struct {
	IsEnabled       *bool          `json:"is_enabled,omitempty"`
	IsBlocking      *bool          `json:"is_blocking,omitempty"`
	ThresholdConfig map[string]any `json:"threshold_config,omitempty"`
	TimeoutMs       *int64         `json:"timeout_ms,omitempty"`
}

type RunTargetRequest struct {
	TaskID             *string `json:"task_id,omitempty"`
	TaskRunID          *string `json:"task_run_id,omitempty"`
	SandboxExecutionID *string `json:"sandbox_execution_id,omitempty"`
}

type RunGatesRequest struct {
	Target    RunTargetRequest           `json:"target"`
	DryRun    bool                       `json:"dry_run,omitempty"`
	Artifacts map[string]json.RawMessage `json:"artifacts,omitempty"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles,omitempty"`
}

// Response payloads

type ProjectResponse struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type GateConfigResponse struct {
	ID                string         `json:"id"`
	WorkspaceID       string         `json:"workspace_id"`
	ProjectID         string         `json:"project_id"`
	GateType          string         `json:"gate_type" enum:"lint,coverage,security,performance,contract,complexity,type_check"`
	IsEnabled         bool           `json:"is_enabled"`
	IsBlocking        bool           `json:"is_blocking"`
	ThresholdConfig   map[string]any `json:"threshold_config"`
	TimeoutMs         *int64         `json:"timeout_ms,omitempty"`
	TotalEvaluations  int64          `json:"total_evaluations"`
	PassedEvaluations int64          `json:"passed_evaluations"`
	FailedEvaluations int64          `json:"failed_evaluations"`
	LastEvaluationAt  *string        `json:"last_evaluation_at,omitempty" format:"date-time"`
	LastResult        *string        `json:"last_result,omitempty"`
	CreatedAt         string         `json:"created_at" format:"date-time"`
	UpdatedAt         string         `json:"updated_at" format:"date-time"`
}

type IssueResponse struct {
	Severity string `json:"severity" enum:"critical,high,medium,low"`
	Message  string `json:"message"`
	Location string `json:"location,omitempty"`
}

type ExecutionResponse struct {
	ID                 string             `json:"id"`
	GateConfigID       string             `json:"gate_config_id"`
	GateType           string             `json:"gate_type"`
	WorkspaceID        string             `json:"workspace_id"`
	ProjectID          string             `json:"project_id"`
	TaskID             *string            `json:"task_id,omitempty"`
	TaskRunID          *string            `json:"task_run_id,omitempty"`
	SandboxExecutionID *string            `json:"sandbox_execution_id,omitempty"`
	Status             string             `json:"status" enum:"pending,running,passed,failed,warning,skipped,error,timeout"`
	StartedAt          *string            `json:"started_at,omitempty" format:"date-time"`
	CompletedAt        *string            `json:"completed_at,omitempty" format:"date-time"`
	DurationMs         *int64             `json:"duration_ms,omitempty"`
	Passed             *bool              `json:"passed,omitempty"`
	PassedWithWarnings bool               `json:"passed_with_warnings"`
	IssueCounts        domain.IssueCounts `json:"issue_counts"`
	Issues             []IssueResponse    `json:"issues"`
	Metrics            map[string]any     `json:"metrics,omitempty"`
	Recommendations    []string           `json:"recommendations"`
	ResultDetails      map[string]any     `json:"result_details,omitempty"`
	ConfigUsed         map[string]any     `json:"config_used"`
	ErrorMessage       string             `json:"error_message,omitempty"`
	CreatedAt          string             `json:"created_at" format:"date-time"`
}

type RunResultResponse struct {
	RunID           string              `json:"run_id"`
	Executions      []ExecutionResponse `json:"executions"`
	Blocking        bool                `json:"blocking"`
	BlockingGateIDs []string            `json:"blocking_gate_ids"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type ProjectConfigResponse struct {
	Project struct {
		ID        string `json:"id"`
		Workspace string `json:"workspace"`
	} `json:"project"`
	Runner struct {
		MaxParallelGates int   `json:"max_parallel_gates"`
		DefaultTimeoutMs int64 `json:"default_timeout_ms"`
	} `json:"runner"`
	Gates map[string]config.GateDefault `json:"gates"`
}

type APIKeyResponse struct {
	ID         string  `json:"id"`
	ActorID    string  `json:"actor_id"`
	Name       string  `json:"name,omitempty"`
	Key        string  `json:"key,omitempty"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
	LastUsedAt *string `json:"last_used_at,omitempty" format:"date-time"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type WhoAmIResponse struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles"`
	Source  string   `json:"source"`
}

type paginatedExecutions struct {
	Items      []ExecutionResponse `json:"items"`
	NextCursor string              `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Mapping helpers

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		ID:          p.ID,
		WorkspaceID: p.WorkspaceID,
		Status:      p.Status,
		Description: p.Description,
		CreatedAt:   p.CreatedAt,
	}
}

func gateConfigResponse(gc domain.GateConfig) GateConfigResponse {
	return GateConfigResponse{
		ID:                gc.ID,
		WorkspaceID:       gc.WorkspaceID,
		ProjectID:         gc.ProjectID,
		GateType:          string(gc.GateType),
		IsEnabled:         gc.IsEnabled,
		IsBlocking:        gc.IsBlocking,
		ThresholdConfig:   gc.ThresholdConfig,
		TimeoutMs:         gc.TimeoutMs,
		TotalEvaluations:  gc.TotalEvaluations,
		PassedEvaluations: gc.PassedEvaluations,
		FailedEvaluations: gc.FailedEvaluations,
		LastEvaluationAt:  gc.LastEvaluationAt,
		LastResult:        gc.LastResult,
		CreatedAt:         gc.CreatedAt,
		UpdatedAt:         gc.UpdatedAt,
	}
}

func executionResponse(exec domain.GateExecution) ExecutionResponse {
	issues := make([]IssueResponse, 0, len(exec.Issues))
	for _, issue := range exec.Issues {
		issues = append(issues, IssueResponse{
			Severity: issue.Severity,
			Message:  issue.Message,
			Location: issue.Location,
		})
	}
	return ExecutionResponse{
		ID:                 exec.ID,
		GateConfigID:       exec.GateConfigID,
		GateType:           string(exec.GateType),
		WorkspaceID:        exec.WorkspaceID,
		ProjectID:          exec.ProjectID,
		TaskID:             exec.TaskID,
		TaskRunID:          exec.TaskRunID,
		SandboxExecutionID: exec.SandboxExecutionID,
		Status:             exec.Status,
		StartedAt:          exec.StartedAt,
		CompletedAt:        exec.CompletedAt,
		DurationMs:         exec.DurationMs,
		Passed:             exec.Passed,
		PassedWithWarnings: exec.PassedWithWarnings,
		IssueCounts:        exec.IssueCounts,
		Issues:             issues,
		Metrics:            exec.Metrics,
		Recommendations:    nonNilSlice(exec.Recommendations),
		ResultDetails:      exec.ResultDetails,
		ConfigUsed:         exec.ConfigUsed,
		ErrorMessage:       exec.ErrorMessage,
		CreatedAt:          exec.CreatedAt,
	}
}

func runResponse(res domain.RunResult) RunResultResponse {
	out := RunResultResponse{
		RunID:           res.RunID,
		Executions:      make([]ExecutionResponse, 0, len(res.Executions)),
		Blocking:        res.Blocking,
		BlockingGateIDs: nonNilSlice(res.BlockingGateIDs),
	}
	for _, exec := range res.Executions {
		out.Executions = append(out.Executions, executionResponse(exec))
	}
	return out
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProjectID:  e.ProjectID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func configResponse(cfg *config.Config) ProjectConfigResponse {
	res := ProjectConfigResponse{Gates: map[string]config.GateDefault{}}
	res.Project.ID = cfg.Project.ID
	res.Project.Workspace = cfg.Project.Workspace
	res.Runner.MaxParallelGates = cfg.Runner.MaxParallelGates
	res.Runner.DefaultTimeoutMs = cfg.Runner.DefaultTimeoutMs
	for k, v := range cfg.Gates.Defaults {
		res.Gates[k] = v
	}
	return res
}

func mapProjects(items []domain.Project) []ProjectResponse {
	res := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		res = append(res, projectResponse(p))
	}
	return res
}

func mapGateConfigs(items []domain.GateConfig) []GateConfigResponse {
	res := make([]GateConfigResponse, 0, len(items))
	for _, gc := range items {
		res = append(res, gateConfigResponse(gc))
	}
	return res
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return m
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
