package migrate_test

import (
	"testing"

	"gateline/internal/db"
	"gateline/internal/migrate"
)

func TestMigrateAppliesAllVersionsInOrder(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	v, err := migrate.Version(conn)
	if err != nil {
		t.Fatalf("read version: %v", err)
	}
	if v != 2 {
		t.Fatalf("expected schema version 2, got %d", v)
	}

	// Later versions must be applied: last_used_at arrives in 002.
	if _, err := conn.Exec(`SELECT last_used_at FROM api_keys LIMIT 1`); err != nil {
		t.Fatalf("002 column missing: %v", err)
	}

	// Re-running is a no-op.
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("re-migrate: %v", err)
	}
	if v, err = migrate.Version(conn); err != nil || v != 2 {
		t.Fatalf("version after re-migrate: %d (%v)", v, err)
	}
}
