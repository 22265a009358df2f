package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gateline/internal/domain"
)

const executionColumns = `id,gate_config_id,gate_type,workspace_id,project_id,task_id,task_run_id,sandbox_execution_id,
status,started_at,completed_at,duration_ms,passed,passed_with_warnings,
critical_issues,high_issues,medium_issues,low_issues,
issues_json,metrics_json,recommendations_json,result_details_json,config_used_json,error_message,created_at`

// SaveExecution upserts an execution row. Terminal rows are immutable: the
// conflict arm only applies while the stored status is still pending or
// running, so a late write can never rewrite history.
func (r Repo) SaveExecution(ctx context.Context, exec domain.GateExecution) error {
	issues, err := marshalOrNull(exec.Issues)
	if err != nil {
		return err
	}
	metrics, err := marshalOrNull(exec.Metrics)
	if err != nil {
		return err
	}
	recommendations, err := marshalOrNull(exec.Recommendations)
	if err != nil {
		return err
	}
	details, err := marshalOrNull(exec.ResultDetails)
	if err != nil {
		return err
	}
	configUsed, err := json.Marshal(exec.ConfigUsed)
	if err != nil {
		return fmt.Errorf("encode config_used: %w", err)
	}
	if exec.CreatedAt == "" {
		exec.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	var passed any
	if exec.Passed != nil {
		passed = *exec.Passed
	}
	var durationMs any
	if exec.DurationMs != nil {
		durationMs = *exec.DurationMs
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO gate_executions(`+strings.ReplaceAll(executionColumns, "\n", "")+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
  status=excluded.status,
  started_at=excluded.started_at,
  completed_at=excluded.completed_at,
  duration_ms=excluded.duration_ms,
  passed=excluded.passed,
  passed_with_warnings=excluded.passed_with_warnings,
  critical_issues=excluded.critical_issues,
  high_issues=excluded.high_issues,
  medium_issues=excluded.medium_issues,
  low_issues=excluded.low_issues,
  issues_json=excluded.issues_json,
  metrics_json=excluded.metrics_json,
  recommendations_json=excluded.recommendations_json,
  result_details_json=excluded.result_details_json,
  error_message=excluded.error_message
WHERE gate_executions.status IN ('pending','running')`,
		exec.ID, exec.GateConfigID, exec.GateType, exec.WorkspaceID, exec.ProjectID,
		ptrOrNil(exec.TaskID), ptrOrNil(exec.TaskRunID), ptrOrNil(exec.SandboxExecutionID),
		exec.Status, ptrOrNil(exec.StartedAt), ptrOrNil(exec.CompletedAt), durationMs, passed, exec.PassedWithWarnings,
		exec.IssueCounts.Critical, exec.IssueCounts.High, exec.IssueCounts.Medium, exec.IssueCounts.Low,
		issues, metrics, recommendations, details, string(configUsed), nullable(exec.ErrorMessage), exec.CreatedAt)
	return err
}

func (r Repo) GetExecution(ctx context.Context, id string) (domain.GateExecution, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM gate_executions WHERE id=?`, id)
	return scanExecution(row.Scan)
}

// ListExecutions pages through a project's executions, newest first, with a
// (created_at, id) cursor.
func (r Repo) ListExecutions(ctx context.Context, projectID string, limit int, cursorCreatedAt, cursorID string) ([]domain.GateExecution, error) {
	clauses := []string{"project_id=?"}
	args := []any{projectID}
	if cursorCreatedAt != "" && cursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, cursorCreatedAt, cursorCreatedAt, cursorID)
	}
	query := `SELECT ` + executionColumns + ` FROM gate_executions WHERE ` + strings.Join(clauses, " AND ") +
		` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.GateExecution
	for rows.Next() {
		exec, err := scanExecution(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, exec)
	}
	return res, rows.Err()
}

// ListExecutionsForGate returns the execution history of one gate config.
func (r Repo) ListExecutionsForGate(ctx context.Context, gateConfigID string, limit int) ([]domain.GateExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM gate_executions WHERE gate_config_id=? ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, gateConfigID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.GateExecution
	for rows.Next() {
		exec, err := scanExecution(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, exec)
	}
	return res, rows.Err()
}

func scanExecution(scan func(dest ...any) error) (domain.GateExecution, error) {
	var exec domain.GateExecution
	var taskID, taskRunID, sandboxID, startedAt, completedAt, errMsg sql.NullString
	var issues, metrics, recommendations, details sql.NullString
	var durationMs sql.NullInt64
	var passed sql.NullBool
	var configUsed string
	err := scan(&exec.ID, &exec.GateConfigID, &exec.GateType, &exec.WorkspaceID, &exec.ProjectID,
		&taskID, &taskRunID, &sandboxID,
		&exec.Status, &startedAt, &completedAt, &durationMs, &passed, &exec.PassedWithWarnings,
		&exec.IssueCounts.Critical, &exec.IssueCounts.High, &exec.IssueCounts.Medium, &exec.IssueCounts.Low,
		&issues, &metrics, &recommendations, &details, &configUsed, &errMsg, &exec.CreatedAt)
	if err == sql.ErrNoRows {
		return exec, ErrNotFound
	}
	if err != nil {
		return exec, err
	}
	exec.TaskID = optionalString(taskID)
	exec.TaskRunID = optionalString(taskRunID)
	exec.SandboxExecutionID = optionalString(sandboxID)
	exec.StartedAt = optionalString(startedAt)
	exec.CompletedAt = optionalString(completedAt)
	exec.DurationMs = optionalInt64(durationMs)
	if passed.Valid {
		v := passed.Bool
		exec.Passed = &v
	}
	if errMsg.Valid {
		exec.ErrorMessage = errMsg.String
	}
	if err := unmarshalIfSet(issues, &exec.Issues); err != nil {
		return exec, err
	}
	if err := unmarshalIfSet(metrics, &exec.Metrics); err != nil {
		return exec, err
	}
	if err := unmarshalIfSet(recommendations, &exec.Recommendations); err != nil {
		return exec, err
	}
	if err := unmarshalIfSet(details, &exec.ResultDetails); err != nil {
		return exec, err
	}
	if err := json.Unmarshal([]byte(configUsed), &exec.ConfigUsed); err != nil {
		return exec, fmt.Errorf("decode config_used for execution %s: %w", exec.ID, err)
	}
	return exec, nil
}

func marshalOrNull(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(data)
	if s == "null" {
		return nil, nil
	}
	return s, nil
}

func unmarshalIfSet(ns sql.NullString, out any) error {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(ns.String), out)
}

func ptrOrNil(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
