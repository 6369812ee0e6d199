package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures required tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}
	if err := RequireLocal(path); err != nil {
		return nil, fmt.Errorf("%w; SQLite needs a local disk for locking, point state.path (or --db) at one", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; the ledger and settings store both write from copy
	// completion goroutines.
	db.SetMaxOpenConns(1)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign_keys: %w", err)
	}
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS clone_jobs (
  id            TEXT PRIMARY KEY,
  identity      TEXT NOT NULL,
  owner         TEXT NOT NULL,
  source        TEXT NOT NULL,
  reason        TEXT NOT NULL,
  center_x      INTEGER NOT NULL,
  center_y      INTEGER NOT NULL,
  center_z      INTEGER NOT NULL,
  radius        INTEGER NOT NULL,
  tiles         INTEGER NOT NULL,
  status        TEXT NOT NULL,
  failure_kind  TEXT,
  last_error    TEXT,
  tiles_copied  INTEGER NOT NULL DEFAULT 0,
  tiles_skipped INTEGER NOT NULL DEFAULT 0,
  bytes         INTEGER NOT NULL DEFAULT 0,
  started_at    TEXT NOT NULL,
  completed_at  TEXT
);`,
		`CREATE TABLE IF NOT EXISTS world_state (
  identity   TEXT PRIMARY KEY,
  state      JSON NOT NULL DEFAULT '{}',
  updated_at TEXT
);`,
		`CREATE INDEX IF NOT EXISTS clone_jobs_identity_started_at_idx ON clone_jobs(identity, started_at);`,
		`CREATE INDEX IF NOT EXISTS clone_jobs_status_idx ON clone_jobs(status);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
