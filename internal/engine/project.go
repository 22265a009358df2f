package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gateline/internal/config"
	"gateline/internal/domain"
	"gateline/internal/events"
)

// InitProject creates a project and seeds one GateConfig row per gate type
// from the project config defaults.
func (e Engine) InitProject(ctx context.Context, projectID, workspaceID, description, actorID string) (domain.Project, error) {
	if e.Config == nil {
		return domain.Project{}, errors.New("config not loaded")
	}
	if workspaceID == "" {
		workspaceID = e.Config.Project.Workspace
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	now := e.now().UTC().Format(time.RFC3339)
	p := domain.Project{
		ID:          projectID,
		WorkspaceID: workspaceID,
		Status:      "active",
		Description: description,
		CreatedAt:   now,
	}
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	seed := config.Default(projectID)
	seed.Project.Workspace = workspaceID
	if err := e.Repo.UpsertProjectConfigTx(ctx, tx, p.ID, seed); err != nil {
		return domain.Project{}, fmt.Errorf("insert project config: %w", err)
	}
	for _, gateType := range domain.AllGateTypes() {
		gd, ok := seed.Gates.Defaults[string(gateType)]
		if !ok {
			continue
		}
		gc := domain.GateConfig{
			ID:              uuid.New().String(),
			WorkspaceID:     workspaceID,
			ProjectID:       projectID,
			GateType:        gateType,
			IsEnabled:       gd.Enabled,
			IsBlocking:      gd.Blocking,
			ThresholdConfig: gd.Thresholds,
			TimeoutMs:       gd.TimeoutMs,
			CreatedAt:       now,
		}
		if err := e.Repo.UpsertGateConfig(ctx, tx, gc); err != nil {
			return domain.Project{}, fmt.Errorf("seed gate config %s: %w", gateType, err)
		}
	}
	if err := e.Events.Append(ctx, tx, "project.init", p.ID, "project", p.ID, actorID, events.EventPayload{"status": p.Status}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// GateUpdateOptions encapsulates allowed gate config updates. Counters are
// deliberately absent; they move only through the aggregation path.
type GateUpdateOptions struct {
	WorkspaceID string
	ProjectID   string
	GateType    domain.GateType
	Enabled     *bool
	Blocking    *bool
	Thresholds  map[string]any
	TimeoutMs   *int64
	ActorID     string
}

// UpdateGateConfig applies an explicit config update and logs it. The
// threshold snapshot of in-flight executions is unaffected.
func (e Engine) UpdateGateConfig(ctx context.Context, opts GateUpdateOptions) (domain.GateConfig, error) {
	if e.Config == nil {
		return domain.GateConfig{}, errors.New("config not loaded")
	}
	if !domain.KnownGateType(opts.GateType) {
		return domain.GateConfig{}, fmt.Errorf("unknown gate type %q", opts.GateType)
	}
	gc, err := e.Repo.GetGateConfigByType(ctx, opts.WorkspaceID, opts.ProjectID, opts.GateType)
	if err != nil {
		return domain.GateConfig{}, err
	}
	if opts.Enabled != nil {
		gc.IsEnabled = *opts.Enabled
	}
	if opts.Blocking != nil {
		gc.IsBlocking = *opts.Blocking
	}
	if opts.Thresholds != nil {
		gc.ThresholdConfig = opts.Thresholds
	}
	if opts.TimeoutMs != nil {
		if *opts.TimeoutMs <= 0 {
			gc.TimeoutMs = nil
		} else {
			gc.TimeoutMs = opts.TimeoutMs
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.GateConfig{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertGateConfig(ctx, tx, gc); err != nil {
		return domain.GateConfig{}, err
	}
	if err := e.Events.Append(ctx, tx, "gate.config.updated", gc.ProjectID, "gate_config", gc.ID, opts.ActorID, events.EventPayload{
		"gate_type":   gc.GateType,
		"is_enabled":  gc.IsEnabled,
		"is_blocking": gc.IsBlocking,
	}); err != nil {
		return domain.GateConfig{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.GateConfig{}, err
	}
	return e.Repo.GetGateConfigByType(ctx, opts.WorkspaceID, opts.ProjectID, opts.GateType)
}

// VerifyStartup asserts that every active gate config has a registered
// checker. Serving runs with an unknown gate type is a deployment error, so
// this is called before the API or CLI executes anything.
func (e Engine) VerifyStartup(ctx context.Context, workspaceID, projectID string) error {
	if e.Registry == nil {
		return errors.New("checker registry not configured")
	}
	return e.Registry.VerifyConfigured(ctx, e.Store, workspaceID, projectID)
}
