package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"gateline/internal/domain"
)

const gateConfigColumns = `id,workspace_id,project_id,gate_type,is_enabled,is_blocking,threshold_json,timeout_ms,
total_evaluations,passed_evaluations,failed_evaluations,last_evaluation_at,last_result,created_at,updated_at`

func scanGateConfig(scan func(dest ...any) error) (domain.GateConfig, error) {
	var gc domain.GateConfig
	var thresholds string
	var timeoutMs sql.NullInt64
	var lastEval, lastResult sql.NullString
	err := scan(&gc.ID, &gc.WorkspaceID, &gc.ProjectID, &gc.GateType, &gc.IsEnabled, &gc.IsBlocking,
		&thresholds, &timeoutMs, &gc.TotalEvaluations, &gc.PassedEvaluations, &gc.FailedEvaluations,
		&lastEval, &lastResult, &gc.CreatedAt, &gc.UpdatedAt)
	if err == sql.ErrNoRows {
		return gc, ErrNotFound
	}
	if err != nil {
		return gc, err
	}
	if err := json.Unmarshal([]byte(thresholds), &gc.ThresholdConfig); err != nil {
		return gc, fmt.Errorf("decode threshold_json for gate %s: %w", gc.ID, err)
	}
	gc.TimeoutMs = optionalInt64(timeoutMs)
	gc.LastEvaluationAt = optionalString(lastEval)
	gc.LastResult = optionalString(lastResult)
	return gc, nil
}

// UpsertGateConfig inserts or updates the config for a (workspace, project,
// gate_type) triple. Counters are never touched here; they move only through
// AtomicIncrementCounters.
func (r Repo) UpsertGateConfig(ctx context.Context, tx *sql.Tx, gc domain.GateConfig) error {
	thresholds, err := json.Marshal(gc.ThresholdConfig)
	if err != nil {
		return fmt.Errorf("encode threshold_config: %w", err)
	}
	if gc.ThresholdConfig == nil {
		thresholds = []byte("{}")
	}
	now := time.Now().UTC().Format(time.RFC3339)
	if gc.CreatedAt == "" {
		gc.CreatedAt = now
	}
	var timeoutMs any
	if gc.TimeoutMs != nil {
		timeoutMs = *gc.TimeoutMs
	}
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return r.DB.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO gate_configs(id,workspace_id,project_id,gate_type,is_enabled,is_blocking,threshold_json,timeout_ms,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(workspace_id,project_id,gate_type) DO UPDATE SET
  is_enabled=excluded.is_enabled,
  is_blocking=excluded.is_blocking,
  threshold_json=excluded.threshold_json,
  timeout_ms=excluded.timeout_ms,
  updated_at=excluded.updated_at`,
		gc.ID, gc.WorkspaceID, gc.ProjectID, gc.GateType, gc.IsEnabled, gc.IsBlocking,
		string(thresholds), timeoutMs, gc.CreatedAt, now)
	return err
}

func (r Repo) GetGateConfig(ctx context.Context, id string) (domain.GateConfig, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+gateConfigColumns+` FROM gate_configs WHERE id=?`, id)
	return scanGateConfig(row.Scan)
}

func (r Repo) GetGateConfigByType(ctx context.Context, workspaceID, projectID string, gateType domain.GateType) (domain.GateConfig, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+gateConfigColumns+` FROM gate_configs WHERE workspace_id=? AND project_id=? AND gate_type=?`,
		workspaceID, projectID, gateType)
	return scanGateConfig(row.Scan)
}

func (r Repo) listGates(ctx context.Context, workspaceID, projectID string, enabledOnly bool) ([]domain.GateConfig, error) {
	query := `SELECT ` + gateConfigColumns + ` FROM gate_configs WHERE workspace_id=? AND project_id=?`
	if enabledOnly {
		query += ` AND is_enabled=1`
	}
	query += ` ORDER BY gate_type`
	rows, err := r.DB.QueryContext(ctx, query, workspaceID, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.GateConfig
	for rows.Next() {
		gc, err := scanGateConfig(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, gc)
	}
	return res, rows.Err()
}

// GetEnabledGates returns the enabled gate configs for a project.
func (r Repo) GetEnabledGates(ctx context.Context, workspaceID, projectID string) ([]domain.GateConfig, error) {
	return r.listGates(ctx, workspaceID, projectID, true)
}

// GetGates returns all gate configs for a project, enabled or not.
func (r Repo) GetGates(ctx context.Context, workspaceID, projectID string) ([]domain.GateConfig, error) {
	return r.listGates(ctx, workspaceID, projectID, false)
}

// AtomicIncrementCounters bumps the rolling counters for one gate config in
// a single conditional UPDATE. Concurrent executions from different targets
// against the same config never lose an increment because the arithmetic
// happens in the statement, not in application code.
func (r Repo) AtomicIncrementCounters(ctx context.Context, gateID string, passed bool, evaluatedAt, lastResult string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE gate_configs SET
  total_evaluations = total_evaluations + 1,
  passed_evaluations = passed_evaluations + CASE WHEN ? THEN 1 ELSE 0 END,
  failed_evaluations = failed_evaluations + CASE WHEN ? THEN 0 ELSE 1 END,
  last_evaluation_at = ?,
  last_result = ?,
  updated_at = ?
WHERE id=?`, passed, passed, evaluatedAt, lastResult, evaluatedAt, gateID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
