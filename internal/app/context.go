package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gateline/internal/config"
	"gateline/internal/domain"
	"gateline/internal/repo"
)

// ResolveProjectAndConfig picks the active project and ensures a project + config exist in DB,
// seeding defaults if missing. It prefers overrides, then single-project DB.
// If the project does not exist, it is created on the fly along with one gate
// config row per known gate type.
func ResolveProjectAndConfig(ctx context.Context, workspace, projectOverride, actorID string, r repo.Repo) (string, *config.Config, error) {
	projectID := projectOverride
	if projectID == "" {
		if p, err := r.SingleProject(ctx); err == nil {
			projectID = p.ID
		} else {
			return "", nil, fmt.Errorf("project not specified; use --project")
		}
	}
	seedCfg := config.Default(projectID)

	if _, err := r.GetProject(ctx, projectID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := createProject(ctx, r, projectID, seedCfg); err != nil {
			return "", nil, err
		}
	}
	cfg, err := r.GetProjectConfig(ctx, projectID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			if err := r.UpsertProjectConfig(ctx, projectID, seedCfg); err != nil {
				return "", nil, fmt.Errorf("seed project config: %w", err)
			}
			cfg = seedCfg
		} else {
			return "", nil, err
		}
	}
	cfg.Project.ID = projectID
	if cfg.Project.Workspace == "" {
		cfg.Project.Workspace = "default"
	}
	return projectID, cfg, nil
}

// createProject inserts the project row, its config, and a gate config per
// known gate type seeded from the config defaults.
func createProject(ctx context.Context, r repo.Repo, projectID string, seedCfg *config.Config) error {
	if seedCfg == nil {
		seedCfg = config.Default(projectID)
	}
	wsID := seedCfg.Project.Workspace
	if wsID == "" {
		wsID = "default"
	}
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	p := domain.Project{
		ID:          projectID,
		WorkspaceID: wsID,
		Status:      "active",
		CreatedAt:   now,
	}
	if err := r.InsertProject(ctx, tx, p); err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	if err := r.UpsertProjectConfigTx(ctx, tx, projectID, seedCfg); err != nil {
		return fmt.Errorf("insert project config: %w", err)
	}
	for _, gateType := range domain.AllGateTypes() {
		gd, ok := seedCfg.Gates.Defaults[string(gateType)]
		if !ok {
			continue
		}
		gc := domain.GateConfig{
			ID:              uuid.New().String(),
			WorkspaceID:     wsID,
			ProjectID:       projectID,
			GateType:        gateType,
			IsEnabled:       gd.Enabled,
			IsBlocking:      gd.Blocking,
			ThresholdConfig: gd.Thresholds,
			TimeoutMs:       gd.TimeoutMs,
			CreatedAt:       now,
		}
		if err := r.UpsertGateConfig(ctx, tx, gc); err != nil {
			return fmt.Errorf("seed gate config %s: %w", gateType, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return nil
}
