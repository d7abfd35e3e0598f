package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// tempDBPath returns a path to a temp database file.
func tempDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
}

// setupTestDB creates a new temporary database for testing.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func TestOpen(t *testing.T) {
	path := tempDBPath(t)
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
	if db.Driver() != DriverSQLite {
		t.Errorf("Driver() = %q, want %q", db.Driver(), DriverSQLite)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("database file does not exist at %s", path)
	}
}

func TestOpen_CreatesParentDirectories(t *testing.T) {
	nested := filepath.Join(t.TempDir(), "a", "b", "c")

	db, err := Open(filepath.Join(nested, "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(nested); os.IsNotExist(err) {
		t.Errorf("parent directories not created: %s", nested)
	}
}

func TestOpenDriver_Unsupported(t *testing.T) {
	if _, err := OpenDriver("mysql", "dsn"); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestClose(t *testing.T) {
	db, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if _, err := db.Query(context.Background(), "SELECT 1"); err == nil {
		t.Error("expected error after close, got nil")
	}
}

func TestMigrate(t *testing.T) {
	db := setupTestDB(t)

	for _, table := range []string{"schema_version", "runs", "tier_results", "jobs"} {
		var count int
		row := db.QueryRow(context.Background(), "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table)
		if err := row.Scan(&count); err != nil {
			t.Errorf("failed to check table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s does not exist", table)
		}
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	for i := 0; i < 3; i++ {
		if err := db.Migrate(); err != nil {
			t.Fatalf("Migrate (iteration %d) failed: %v", i, err)
		}
	}

	var version int
	if err := db.QueryRow(context.Background(), "SELECT MAX(version) FROM schema_version").Scan(&version); err != nil {
		t.Fatalf("failed to get schema version: %v", err)
	}
	if version != 3 {
		t.Errorf("schema version = %d, want 3", version)
	}
}

func TestRebind(t *testing.T) {
	tests := []struct {
		driver string
		want   string
	}{
		{DriverSQLite, "SELECT * FROM runs WHERE id = ? AND verdict = ?"},
		{DriverSQLiteCGO, "SELECT * FROM runs WHERE id = ? AND verdict = ?"},
		{DriverPostgres, "SELECT * FROM runs WHERE id = $1 AND verdict = $2"},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			db := &DB{driver: tt.driver}
			if got := db.rebind("SELECT * FROM runs WHERE id = ? AND verdict = ?"); got != tt.want {
				t.Errorf("rebind() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatTime_SortsLexically(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 5, 0, time.UTC)
	later := base.Add(100 * time.Millisecond)
	if !(formatTime(base) < formatTime(later)) {
		t.Errorf("%s should sort before %s", formatTime(base), formatTime(later))
	}
	parsed, err := parseTime(formatTime(later))
	if err != nil || !parsed.Equal(later) {
		t.Errorf("parseTime() = %v, %v", parsed, err)
	}
}
