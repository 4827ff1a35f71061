package migrations

import (
	"context"
	"testing"

	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/database"
)

func TestEmbeddedMigrationsApply(t *testing.T) {
	db, err := database.Open(database.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	for _, table := range []string{"devices_catalog", "query_log"} {
		var n int
		if err := db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table,
		).Scan(&n); err != nil {
			t.Fatalf("querying sqlite_master: %v", err)
		}
		if n != 1 {
			t.Errorf("table %s missing", table)
		}
	}

	// Every migration can be rolled back.
	for i := 0; i < 2; i++ {
		if err := db.MigrateDown(ctx); err != nil {
			t.Fatalf("MigrateDown() #%d error = %v", i+1, err)
		}
	}
	applied, _, err := db.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("applied = %d after full rollback, want 0", len(applied))
	}
}
