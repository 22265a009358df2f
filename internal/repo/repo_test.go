package repo_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"gateline/internal/db"
	"gateline/internal/domain"
	"gateline/internal/migrate"
	"gateline/internal/repo"
)

func newTestRepo(t *testing.T) (repo.Repo, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	ctx := context.Background()
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	if err := r.InsertProject(ctx, tx, domain.Project{
		ID: "proj-1", WorkspaceID: "ws-1", Status: "active",
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		t.Fatalf("insert project: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return r, ctx
}

func seedGateConfig(t *testing.T, r repo.Repo, ctx context.Context, id string, gt domain.GateType) domain.GateConfig {
	t.Helper()
	gc := domain.GateConfig{
		ID: id, WorkspaceID: "ws-1", ProjectID: "proj-1", GateType: gt,
		IsEnabled: true, IsBlocking: true,
		ThresholdConfig: map[string]any{"min_percentage": 80},
	}
	if err := r.UpsertGateConfig(ctx, nil, gc); err != nil {
		t.Fatalf("upsert gate config: %v", err)
	}
	return gc
}

func TestAtomicIncrementCountersConcurrent(t *testing.T) {
	r, ctx := newTestRepo(t)
	seedGateConfig(t, r, ctx, "gc-1", domain.GateCoverage)

	const n = 20
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ts := time.Now().UTC().Format(time.RFC3339)
			errs[i] = r.AtomicIncrementCounters(ctx, "gc-1", i%2 == 0, ts, domain.StatusPassed)
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
	}
	gc, err := r.GetGateConfig(ctx, "gc-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if gc.TotalEvaluations != n {
		t.Fatalf("lost increments: total=%d", gc.TotalEvaluations)
	}
	if gc.PassedEvaluations != n/2 || gc.FailedEvaluations != n/2 {
		t.Fatalf("split wrong: passed=%d failed=%d", gc.PassedEvaluations, gc.FailedEvaluations)
	}
	if gc.LastEvaluationAt == nil || gc.LastResult == nil {
		t.Fatalf("last evaluation fields not set")
	}
}

func TestAtomicIncrementCountersUnknownGate(t *testing.T) {
	r, ctx := newTestRepo(t)
	err := r.AtomicIncrementCounters(ctx, "nope", true, time.Now().UTC().Format(time.RFC3339), domain.StatusPassed)
	if err != repo.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpsertGateConfigPreservesCounters(t *testing.T) {
	r, ctx := newTestRepo(t)
	gc := seedGateConfig(t, r, ctx, "gc-1", domain.GateCoverage)
	ts := time.Now().UTC().Format(time.RFC3339)
	if err := r.AtomicIncrementCounters(ctx, "gc-1", true, ts, domain.StatusPassed); err != nil {
		t.Fatalf("increment: %v", err)
	}

	gc.ThresholdConfig = map[string]any{"min_percentage": 95}
	gc.IsBlocking = false
	if err := r.UpsertGateConfig(ctx, nil, gc); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := r.GetGateConfigByType(ctx, "ws-1", "proj-1", domain.GateCoverage)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.TotalEvaluations != 1 || got.PassedEvaluations != 1 {
		t.Fatalf("upsert clobbered counters: total=%d passed=%d", got.TotalEvaluations, got.PassedEvaluations)
	}
	if got.IsBlocking {
		t.Fatalf("is_blocking update lost")
	}
	if got.ThresholdConfig["min_percentage"].(float64) != 95 {
		t.Fatalf("threshold update lost: %v", got.ThresholdConfig)
	}
}

func TestSaveExecutionTerminalImmutable(t *testing.T) {
	r, ctx := newTestRepo(t)
	seedGateConfig(t, r, ctx, "gc-1", domain.GateCoverage)
	taskID := "t-1"
	exec := domain.GateExecution{
		ID: "ex-1", GateConfigID: "gc-1", GateType: domain.GateCoverage,
		WorkspaceID: "ws-1", ProjectID: "proj-1", TaskID: &taskID,
		Status:     domain.StatusPending,
		ConfigUsed: map[string]any{"min_percentage": 80},
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	if err := r.SaveExecution(ctx, exec); err != nil {
		t.Fatalf("save pending: %v", err)
	}
	exec.Status = domain.StatusPassed
	passed := true
	exec.Passed = &passed
	if err := r.SaveExecution(ctx, exec); err != nil {
		t.Fatalf("save terminal: %v", err)
	}

	exec.Status = domain.StatusFailed
	if err := r.SaveExecution(ctx, exec); err != nil {
		t.Fatalf("late save: %v", err)
	}
	got, err := r.GetExecution(ctx, "ex-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.StatusPassed {
		t.Fatalf("terminal row rewritten to %s", got.Status)
	}
	if got.Passed == nil || !*got.Passed {
		t.Fatalf("passed flag lost")
	}
}

func TestListExecutionsCursor(t *testing.T) {
	r, ctx := newTestRepo(t)
	seedGateConfig(t, r, ctx, "gc-1", domain.GateCoverage)
	taskID := "t-1"
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		exec := domain.GateExecution{
			ID: fmt.Sprintf("ex-%d", i), GateConfigID: "gc-1", GateType: domain.GateCoverage,
			WorkspaceID: "ws-1", ProjectID: "proj-1", TaskID: &taskID,
			Status:     domain.StatusPassed,
			ConfigUsed: map[string]any{},
			CreatedAt:  base.Add(time.Duration(i) * time.Minute).Format(time.RFC3339),
		}
		if err := r.SaveExecution(ctx, exec); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}

	first, err := r.ListExecutions(ctx, "proj-1", 2, "", "")
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if len(first) != 2 || first[0].ID != "ex-4" || first[1].ID != "ex-3" {
		t.Fatalf("unexpected first page: %+v", first)
	}
	last := first[len(first)-1]
	second, err := r.ListExecutions(ctx, "proj-1", 2, last.CreatedAt, last.ID)
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(second) != 2 || second[0].ID != "ex-2" {
		t.Fatalf("cursor paging wrong: %+v", second)
	}
}

func TestAPIKeyLastUsed(t *testing.T) {
	r, ctx := newTestRepo(t)
	key := domain.APIKey{
		ID: "key-1", ActorID: "tester", Name: "ci",
		KeyHash: repo.HashAPIKey("secret"),
	}
	if err := r.InsertAPIKey(ctx, nil, key); err != nil {
		t.Fatalf("insert key: %v", err)
	}
	got, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey("secret"))
	if err != nil {
		t.Fatalf("get key: %v", err)
	}
	if got.LastUsedAt != nil {
		t.Fatalf("fresh key should have no last_used_at")
	}
	usedAt := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	if err := r.TouchAPIKey(ctx, got.ID, usedAt); err != nil {
		t.Fatalf("touch key: %v", err)
	}
	got, err = r.GetAPIKeyByHash(ctx, repo.HashAPIKey("secret"))
	if err != nil {
		t.Fatalf("get key after touch: %v", err)
	}
	if got.LastUsedAt == nil || *got.LastUsedAt != "2024-02-01T12:00:00Z" {
		t.Fatalf("last_used_at not recorded: %v", got.LastUsedAt)
	}
}
