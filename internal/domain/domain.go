package domain

import "fmt"

// GateType identifies one kind of quality gate.
type GateType string

const (
	GateLint        GateType = "lint"
	GateCoverage    GateType = "coverage"
	GateSecurity    GateType = "security"
	GatePerformance GateType = "performance"
	GateContract    GateType = "contract"
	GateComplexity  GateType = "complexity"
	GateTypeCheck   GateType = "type_check"
)

// AllGateTypes lists every supported gate type in a stable order.
func AllGateTypes() []GateType {
	return []GateType{
		GateLint, GateCoverage, GateSecurity, GatePerformance,
		GateContract, GateComplexity, GateTypeCheck,
	}
}

// KnownGateType reports whether t is one of the supported gate types.
func KnownGateType(t GateType) bool {
	for _, k := range AllGateTypes() {
		if k == t {
			return true
		}
	}
	return false
}

// Execution statuses. pending and running are transient; the rest are terminal.
const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusPassed  = "passed"
	StatusFailed  = "failed"
	StatusWarning = "warning"
	StatusSkipped = "skipped"
	StatusError   = "error"
	StatusTimeout = "timeout"
)

// TerminalStatus reports whether s is a terminal execution status.
func TerminalStatus(s string) bool {
	switch s {
	case StatusPassed, StatusFailed, StatusWarning, StatusSkipped, StatusError, StatusTimeout:
		return true
	}
	return false
}

// Issue severities.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

type Project struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// GateConfig is one configured gate for a (workspace, project, gate_type)
// triple. Counters are rolling pass/fail statistics mutated only through
// the atomic increment path.
type GateConfig struct {
	ID                string         `json:"id"`
	WorkspaceID       string         `json:"workspace_id"`
	ProjectID         string         `json:"project_id"`
	GateType          GateType       `json:"gate_type" enum:"lint,coverage,security,performance,contract,complexity,type_check"`
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

// Issue is one finding reported by a checker.
type Issue struct {
	Severity string `json:"severity" enum:"critical,high,medium,low"`
	Message  string `json:"message"`
	Location string `json:"location,omitempty"`
}

// IssueCounts aggregates issues by severity.
type IssueCounts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
}

// Add increments the counter for the given severity.
func (c *IssueCounts) Add(severity string) {
	switch severity {
	case SeverityCritical:
		c.Critical++
	case SeverityHigh:
		c.High++
	case SeverityMedium:
		c.Medium++
	case SeverityLow:
		c.Low++
	}
}

// Total returns the sum over all severities.
func (c IssueCounts) Total() int {
	return c.Critical + c.High + c.Medium + c.Low
}

// GateExecution is one run of a gate against a target. Created in status
// pending at dispatch; immutable once terminal. ConfigUsed is a snapshot of
// the gate's threshold_config taken at dispatch time and never changes, even
// if the owning GateConfig is edited mid-flight.
type GateExecution struct {
	ID                 string         `json:"id"`
	GateConfigID       string         `json:"gate_config_id"`
	GateType           GateType       `json:"gate_type"`
	WorkspaceID        string         `json:"workspace_id"`
	ProjectID          string         `json:"project_id"`
	TaskID             *string        `json:"task_id,omitempty"`
	TaskRunID          *string        `json:"task_run_id,omitempty"`
	SandboxExecutionID *string        `json:"sandbox_execution_id,omitempty"`
	Status             string         `json:"status" enum:"pending,running,passed,failed,warning,skipped,error,timeout"`
	StartedAt          *string        `json:"started_at,omitempty" format:"date-time"`
	CompletedAt        *string        `json:"completed_at,omitempty" format:"date-time"`
	DurationMs         *int64         `json:"duration_ms,omitempty"`
	Passed             *bool          `json:"passed,omitempty"`
	PassedWithWarnings bool           `json:"passed_with_warnings"`
	IssueCounts        IssueCounts    `json:"issue_counts"`
	Issues             []Issue        `json:"issues,omitempty"`
	Metrics            map[string]any `json:"metrics,omitempty"`
	Recommendations    []string       `json:"recommendations,omitempty"`
	ResultDetails      map[string]any `json:"result_details,omitempty"`
	ConfigUsed         map[string]any `json:"config_used"`
	ErrorMessage       string         `json:"error_message,omitempty"`
	CreatedAt          string         `json:"created_at" format:"date-time"`
}

// Target names what a run of gates evaluates. Exactly one of TaskID,
// TaskRunID, SandboxExecutionID must be set.
type Target struct {
	WorkspaceID        string `json:"workspace_id"`
	ProjectID          string `json:"project_id"`
	TaskID             string `json:"task_id,omitempty"`
	TaskRunID          string `json:"task_run_id,omitempty"`
	SandboxExecutionID string `json:"sandbox_execution_id,omitempty"`
}

// Validate checks the one-of constraint on target references.
func (t Target) Validate() error {
	if t.WorkspaceID == "" {
		return fmt.Errorf("target workspace_id is required")
	}
	if t.ProjectID == "" {
		return fmt.Errorf("target project_id is required")
	}
	n := 0
	for _, ref := range []string{t.TaskID, t.TaskRunID, t.SandboxExecutionID} {
		if ref != "" {
			n++
		}
	}
	if n != 1 {
		return fmt.Errorf("target must reference exactly one of task_id, task_run_id, sandbox_execution_id")
	}
	return nil
}

// Key returns a stable identifier for the referenced entity, used to locate
// artifact bundles on disk.
func (t Target) Key() string {
	switch {
	case t.TaskID != "":
		return "task-" + t.TaskID
	case t.TaskRunID != "":
		return "run-" + t.TaskRunID
	case t.SandboxExecutionID != "":
		return "sandbox-" + t.SandboxExecutionID
	}
	return ""
}

// RunResult is the aggregated outcome of one RunGates invocation.
// Blocking is true iff at least one blocking gate resolved to failed, error,
// or timeout; BlockingGateIDs lists exactly those gate config ids.
type RunResult struct {
	RunID           string          `json:"run_id"`
	Executions      []GateExecution `json:"executions"`
	Blocking        bool            `json:"blocking"`
	BlockingGateIDs []string        `json:"blocking_gate_ids"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID         string  `json:"id"`
	ActorID    string  `json:"actor_id"`
	Name       string  `json:"name,omitempty"`
	KeyHash    string  `json:"key_hash"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
	LastUsedAt *string `json:"last_used_at,omitempty" format:"date-time"`
}
