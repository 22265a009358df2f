// Package engine evaluates quality gates for a target and derives the
// release blocking decision. Checkers consume already-produced tool output;
// running the tools themselves is outside this package.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"gateline/internal/artifacts"
	"gateline/internal/config"
	"gateline/internal/domain"
	"gateline/internal/events"
	"gateline/internal/repo"
)

// ConfigStore supplies gate configurations and persists executions and
// rolling counters. repo.Repo is the sqlite implementation.
type ConfigStore interface {
	GetEnabledGates(ctx context.Context, workspaceID, projectID string) ([]domain.GateConfig, error)
	GetGates(ctx context.Context, workspaceID, projectID string) ([]domain.GateConfig, error)
	SaveExecution(ctx context.Context, exec domain.GateExecution) error
	AtomicIncrementCounters(ctx context.Context, gateID string, passed bool, evaluatedAt, lastResult string) error
}

// ArtifactProvider supplies the per-gate-type evidence bundle for a target.
type ArtifactProvider interface {
	GetArtifact(ctx context.Context, target domain.Target, gateType domain.GateType) (*artifacts.Artifact, error)
}

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Config    *config.Config
	Registry  *Registry
	Store     ConfigStore
	Artifacts ArtifactProvider
	Now       func() time.Time
}

func New(db *sql.DB, cfg *config.Config, reg *Registry, provider ArtifactProvider) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:        db,
		Repo:      r,
		Events:    events.Writer{DB: db},
		Config:    cfg,
		Registry:  reg,
		Store:     r,
		Artifacts: provider,
		Now:       time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// RunOptions configures one RunGates invocation.
type RunOptions struct {
	// DryRun additionally evaluates nothing for disabled gates but records
	// a skipped execution for each, so callers can preview the full gate
	// set. Dry-run executions never touch counters and never block.
	DryRun bool

	ActorID string

	// Artifacts, when non-nil, overrides the engine's provider for this run
	// (inline artifact submission).
	Artifacts ArtifactProvider
}

type gateOutcome struct {
	exec     domain.GateExecution
	blocking bool
	saveErr  error
}

// RunGates evaluates every enabled gate for the target concurrently, bounded
// by runner.max_parallel_gates, and returns the aggregated result. A single
// gate's failure, panic, or timeout never fails the run; only environment
// faults (store or provider setup) surface as an error, and even then the
// executions that already reached a terminal status are preserved in the
// returned RunResult.
func (e Engine) RunGates(ctx context.Context, target domain.Target, opts RunOptions) (domain.RunResult, error) {
	if e.Config == nil {
		return domain.RunResult{}, errors.New("config not loaded")
	}
	if err := target.Validate(); err != nil {
		return domain.RunResult{}, err
	}
	provider := e.Artifacts
	if opts.Artifacts != nil {
		provider = opts.Artifacts
	}
	if provider == nil {
		return domain.RunResult{}, errors.New("artifact provider not configured")
	}

	enabled, err := e.Store.GetEnabledGates(ctx, target.WorkspaceID, target.ProjectID)
	if err != nil {
		return domain.RunResult{}, fmt.Errorf("load enabled gates: %w", err)
	}
	var disabled []domain.GateConfig
	if opts.DryRun {
		all, err := e.Store.GetGates(ctx, target.WorkspaceID, target.ProjectID)
		if err != nil {
			return domain.RunResult{}, fmt.Errorf("load gates: %w", err)
		}
		for _, gc := range all {
			if !gc.IsEnabled {
				disabled = append(disabled, gc)
			}
		}
	}

	runID := uuid.New().String()
	result := domain.RunResult{RunID: runID}
	_ = e.Events.AppendDB(ctx, "gate.run.started", target.ProjectID, "gate_run", runID, opts.ActorID, events.EventPayload{
		"target":     target.Key(),
		"gate_count": len(enabled),
		"dry_run":    opts.DryRun,
	})

	// Dispatch: every execution exists in pending before anything runs, so
	// readers always observe pending -> running -> terminal in order.
	pending := make([]domain.GateExecution, len(enabled))
	var dispatchErr error
	for i, gc := range enabled {
		exec := e.newExecution(runID, gc, target)
		if err := e.Store.SaveExecution(ctx, exec); err != nil {
			dispatchErr = fmt.Errorf("save execution for gate %s: %w", gc.ID, err)
			break
		}
		pending[i] = exec
	}
	if dispatchErr != nil {
		return result, dispatchErr
	}

	// A gate execution for a disabled config exists only on the explicit
	// dry-run path and is terminal immediately.
	for _, gc := range disabled {
		exec := e.newExecution(runID, gc, target)
		exec.Status = domain.StatusSkipped
		exec.ResultDetails = map[string]any{"reason": "gate disabled (dry run)"}
		if err := e.Store.SaveExecution(ctx, exec); err != nil {
			return result, fmt.Errorf("save skipped execution for gate %s: %w", gc.ID, err)
		}
		result.Executions = append(result.Executions, exec)
	}

	maxParallel := e.Config.Runner.MaxParallelGates
	if maxParallel <= 0 {
		maxParallel = 1
	}
	sem := make(chan struct{}, maxParallel)
	outcomes := make([]gateOutcome, len(enabled))
	var wg sync.WaitGroup
	for i := range enabled {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			outcomes[i] = e.runGate(ctx, enabled[i], pending[i], provider)
		}(i)
	}
	wg.Wait()

	var envErr error
	for _, out := range outcomes {
		result.Executions = append(result.Executions, out.exec)
		if out.blocking {
			result.Blocking = true
			result.BlockingGateIDs = append(result.BlockingGateIDs, out.exec.GateConfigID)
		}
		if out.saveErr != nil && envErr == nil {
			envErr = out.saveErr
		}
	}

	_ = e.Events.AppendDB(ctx, "gate.run.finished", target.ProjectID, "gate_run", runID, opts.ActorID, events.EventPayload{
		"target":            target.Key(),
		"blocking":          result.Blocking,
		"blocking_gate_ids": result.BlockingGateIDs,
	})
	return result, envErr
}

func (e Engine) newExecution(runID string, gc domain.GateConfig, target domain.Target) domain.GateExecution {
	now := e.now().UTC().Format(time.RFC3339)
	exec := domain.GateExecution{
		ID:           uuid.New().String(),
		GateConfigID: gc.ID,
		GateType:     gc.GateType,
		WorkspaceID:  target.WorkspaceID,
		ProjectID:    target.ProjectID,
		Status:       domain.StatusPending,
		ConfigUsed:   cloneThresholds(gc.ThresholdConfig),
		CreatedAt:    now,
	}
	if target.TaskID != "" {
		exec.TaskID = &target.TaskID
	}
	if target.TaskRunID != "" {
		exec.TaskRunID = &target.TaskRunID
	}
	if target.SandboxExecutionID != "" {
		exec.SandboxExecutionID = &target.SandboxExecutionID
	}
	return exec
}

// runGate drives one execution from pending to a terminal status. All
// failure modes stay inside this gate: a panic, error, or timeout here must
// never delay or corrupt sibling gates.
func (e Engine) runGate(ctx context.Context, gc domain.GateConfig, exec domain.GateExecution, provider ArtifactProvider) gateOutcome {
	target := domain.Target{
		WorkspaceID: exec.WorkspaceID,
		ProjectID:   exec.ProjectID,
	}
	if exec.TaskID != nil {
		target.TaskID = *exec.TaskID
	}
	if exec.TaskRunID != nil {
		target.TaskRunID = *exec.TaskRunID
	}
	if exec.SandboxExecutionID != nil {
		target.SandboxExecutionID = *exec.SandboxExecutionID
	}

	// Caller-level abort before this gate started: record skipped.
	if ctx.Err() != nil {
		exec.Status = domain.StatusSkipped
		exec.ResultDetails = map[string]any{"cancellation_reason": "run aborted before gate started"}
		return e.finalize(ctx, gc, exec, false)
	}

	start := e.now()
	startedAt := start.UTC().Format(time.RFC3339)
	exec.Status = domain.StatusRunning
	exec.StartedAt = &startedAt
	if err := e.Store.SaveExecution(context.WithoutCancel(ctx), exec); err != nil {
		exec.Status = domain.StatusError
		exec.ErrorMessage = err.Error()
		out := e.finalizeTimed(ctx, gc, exec, start, false)
		out.saveErr = err
		return out
	}

	checker, err := e.Registry.Lookup(gc.GateType)
	if err != nil {
		// No evaluate attempted.
		exec.Status = domain.StatusError
		exec.ErrorMessage = err.Error()
		return e.finalizeTimed(ctx, gc, exec, start, false)
	}

	artifact, err := provider.GetArtifact(ctx, target, gc.GateType)
	if err != nil {
		if ctx.Err() != nil {
			exec.Status = domain.StatusSkipped
			exec.ResultDetails = map[string]any{"cancellation_reason": "run aborted"}
			return e.finalizeTimed(ctx, gc, exec, start, false)
		}
		exec.Status = domain.StatusError
		exec.ErrorMessage = fmt.Sprintf("fetch artifact: %v", err)
		return e.finalizeTimed(ctx, gc, exec, start, false)
	}

	timeout := time.Duration(e.Config.Runner.DefaultTimeoutMs) * time.Millisecond
	if gc.TimeoutMs != nil {
		timeout = time.Duration(*gc.TimeoutMs) * time.Millisecond
	}
	gateCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type evalOut struct {
		res *Result
		err error
	}
	done := make(chan evalOut, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- evalOut{err: fmt.Errorf("checker panic: %v\n%s", r, debug.Stack())}
			}
		}()
		res, err := checker.Evaluate(gateCtx, artifact, exec.ConfigUsed)
		done <- evalOut{res: res, err: err}
	}()

	select {
	case out := <-done:
		switch {
		case out.err != nil:
			exec.Status = domain.StatusError
			exec.ErrorMessage = out.err.Error()
			return e.finalizeTimed(ctx, gc, exec, start, false)
		case out.res == nil:
			exec.Status = domain.StatusError
			exec.ErrorMessage = "checker returned no result"
			return e.finalizeTimed(ctx, gc, exec, start, false)
		default:
			applyResult(&exec, out.res)
			passed := exec.Status == domain.StatusPassed || exec.Status == domain.StatusWarning
			return e.finalizeTimed(ctx, gc, exec, start, passed)
		}
	case <-gateCtx.Done():
		// Partial results from the cancelled evaluation are discarded.
		if ctx.Err() != nil {
			exec.Status = domain.StatusSkipped
			exec.ResultDetails = map[string]any{"cancellation_reason": "run aborted"}
			return e.finalizeTimed(ctx, gc, exec, start, false)
		}
		exec.Status = domain.StatusTimeout
		exec.ErrorMessage = fmt.Sprintf("gate evaluation exceeded %s", timeout)
		return e.finalizeTimed(ctx, gc, exec, start, false)
	}
}

// applyResult maps a checker result onto the execution. A pass that the
// checker flags as partial becomes the warning status.
func applyResult(exec *domain.GateExecution, res *Result) {
	passed := res.Passed
	exec.Passed = &passed
	exec.PassedWithWarnings = res.PassedWithWarnings
	exec.Issues = res.Issues
	for _, issue := range res.Issues {
		exec.IssueCounts.Add(issue.Severity)
	}
	exec.Metrics = res.Metrics
	exec.Recommendations = res.Recommendations
	exec.ResultDetails = res.Details
	switch {
	case !res.Passed:
		exec.Status = domain.StatusFailed
	case res.PassedWithWarnings:
		exec.Status = domain.StatusWarning
	default:
		exec.Status = domain.StatusPassed
	}
}

func (e Engine) finalizeTimed(ctx context.Context, gc domain.GateConfig, exec domain.GateExecution, start time.Time, passed bool) gateOutcome {
	completed := e.now()
	completedAt := completed.UTC().Format(time.RFC3339)
	duration := completed.Sub(start).Milliseconds()
	exec.CompletedAt = &completedAt
	exec.DurationMs = &duration
	return e.finalize(ctx, gc, exec, passed)
}

// finalize persists the terminal execution and, for non-skipped statuses,
// updates the owning GateConfig's rolling counters exactly once.
func (e Engine) finalize(ctx context.Context, gc domain.GateConfig, exec domain.GateExecution, passed bool) gateOutcome {
	// Persist and count even when the run context is being torn down.
	saveCtx := context.WithoutCancel(ctx)
	out := gateOutcome{exec: exec}
	if err := e.Store.SaveExecution(saveCtx, exec); err != nil {
		out.saveErr = err
	}
	if exec.Status != domain.StatusSkipped {
		evaluatedAt := e.now().UTC().Format(time.RFC3339)
		if err := e.Store.AtomicIncrementCounters(saveCtx, gc.ID, passed, evaluatedAt, exec.Status); err != nil && out.saveErr == nil {
			out.saveErr = err
		}
	}
	_ = e.Events.AppendDB(saveCtx, "gate.execution.finished", exec.ProjectID, "gate_execution", exec.ID, "", events.EventPayload{
		"gate_type": exec.GateType,
		"status":    exec.Status,
	})
	out.blocking = gc.IsBlocking && blockingStatus(exec.Status)
	return out
}

// blockingStatus reports whether a terminal status contributes to the
// blocking decision. passed, warning, and skipped never block.
func blockingStatus(status string) bool {
	switch status {
	case domain.StatusFailed, domain.StatusError, domain.StatusTimeout:
		return true
	}
	return false
}

func cloneThresholds(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
