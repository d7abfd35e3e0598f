// Package state persists pipeline runs, tier results and jobs. SQLite is the
// default backend (~/.local/share/tierci/tierci.db); PostgreSQL is supported
// for shared coordinators.
package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names.
const (
	// DriverSQLite is the pure-Go SQLite driver and the default.
	DriverSQLite = "sqlite"
	// DriverSQLiteCGO is the cgo SQLite driver.
	DriverSQLiteCGO = "sqlite3"
	// DriverPostgres is the PostgreSQL driver.
	DriverPostgres = "postgres"
)

// DB wraps a database connection with tierci-specific operations.
type DB struct {
	conn   *sql.DB
	driver string
	dsn    string
	mu     sync.RWMutex
}

// DefaultPath returns the path to the default SQLite database.
func DefaultPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "tierci", "tierci.db")
}

// Open opens a SQLite database at the given path using the default driver.
func Open(path string) (*DB, error) {
	return OpenDriver(DriverSQLite, path)
}

// OpenDriver opens a database with the named driver. For the SQLite
// drivers dsn is a file path whose parent directories are created, and WAL
// mode is enabled for concurrent reads.
func OpenDriver(driver, dsn string) (*DB, error) {
	switch driver {
	case "":
		driver = DriverSQLite
	case DriverSQLite, DriverSQLiteCGO, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported state driver %q", driver)
	}

	if driver != DriverPostgres {
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if driver == DriverPostgres {
		if err := conn.Ping(); err != nil {
			conn.Close()
			return nil, fmt.Errorf("connect database: %w", err)
		}
	} else {
		if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
		if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}

	return &DB{conn: conn, driver: driver, dsn: dsn}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// Path returns the data source the database was opened with.
func (db *DB) Path() string {
	return db.dsn
}

// Driver returns the database/sql driver name.
func (db *DB) Driver() string {
	return db.driver
}

// Migrate applies all pending schema migrations.
func (db *DB) Migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Runs},
		{2, migrationV2TierResults},
		{3, migrationV3Jobs},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}

		if _, err := tx.Exec(db.rebind("INSERT INTO schema_version (version, applied_at) VALUES (?, ?)"), m.version, formatTime(time.Now())); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// Timestamps are stored as RFC 3339 text so the schema is portable
// between SQLite and PostgreSQL.
const migrationV1Runs = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	pipeline TEXT NOT NULL,
	event_kind TEXT NOT NULL,
	ref_kind TEXT NOT NULL,
	ref TEXT NOT NULL,
	concurrency_key TEXT NOT NULL,
	trigger_json TEXT NOT NULL,
	verdict TEXT NOT NULL,
	failed_tier INTEGER NOT NULL DEFAULT 0,
	publication_json TEXT,
	created_at TEXT NOT NULL,
	finished_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_pipeline ON runs(pipeline);
CREATE INDEX IF NOT EXISTS idx_runs_verdict ON runs(verdict);
CREATE INDEX IF NOT EXISTS idx_runs_concurrency_key ON runs(concurrency_key);
`

const migrationV2TierResults = `
CREATE TABLE IF NOT EXISTS tier_results (
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	tier INTEGER NOT NULL,
	name TEXT NOT NULL,
	aggregate TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	started_at TEXT,
	finished_at TEXT,
	PRIMARY KEY (run_id, tier)
);
`

const migrationV3Jobs = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	tier INTEGER NOT NULL,
	runner TEXT NOT NULL,
	timeout_ms INTEGER NOT NULL DEFAULT 0,
	result TEXT NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	detail TEXT NOT NULL DEFAULT '',
	log_url TEXT NOT NULL DEFAULT '',
	started_at TEXT,
	finished_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_jobs_run_id ON jobs(run_id);
CREATE INDEX IF NOT EXISTS idx_jobs_result ON jobs(result);
`

// rebind rewrites ? placeholders into the driver's bind syntax.
func (db *DB) rebind(query string) string {
	if db.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Exec executes a query that doesn't return rows.
func (db *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.ExecContext(ctx, db.rebind(query), args...)
}

// Query executes a query that returns rows.
func (db *DB) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.QueryContext(ctx, db.rebind(query), args...)
}

// QueryRow executes a query that returns at most one row.
func (db *DB) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.QueryRowContext(ctx, db.rebind(query), args...)
}

// Tx is a transaction that rebinds placeholders like DB does.
type Tx struct {
	tx *sql.Tx
	db *DB
}

// Exec executes a statement inside the transaction.
func (t *Tx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.db.rebind(query), args...)
}

// Transaction runs the given function within a transaction.
func (db *DB) Transaction(ctx context.Context, fn func(tx *Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(&Tx{tx: tx, db: db}); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// timeLayout keeps a fixed width so stored times sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// formatTime formats a time.Time for storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime parses a stored time string.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func nullableTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

// parseNullableTime parses a nullable time column.
func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil
	}
	return &t
}

// PurgeRuns deletes finished runs created before the cutoff.
// Returns the number of runs deleted.
func (db *DB) PurgeRuns(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))

	var count int64
	err := db.Transaction(ctx, func(tx *Tx) error {
		// Children first: foreign keys are not enforced on every backend.
		for _, q := range []string{
			`DELETE FROM jobs WHERE run_id IN (SELECT id FROM runs WHERE created_at < ? AND finished_at IS NOT NULL)`,
			`DELETE FROM tier_results WHERE run_id IN (SELECT id FROM runs WHERE created_at < ? AND finished_at IS NOT NULL)`,
		} {
			if _, err := tx.Exec(ctx, q, cutoff); err != nil {
				return err
			}
		}
		result, err := tx.Exec(ctx, `DELETE FROM runs WHERE created_at < ? AND finished_at IS NOT NULL`, cutoff)
		if err != nil {
			return err
		}
		count, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("purge runs: %w", err)
	}
	return count, nil
}
