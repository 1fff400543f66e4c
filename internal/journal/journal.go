// Package journal persists operation transitions and conflict records
// to SQLite so sync history survives daemon restarts. The journal is
// observational: the engine never reads from it, and a journal failure
// never blocks a sync. The daemon feeds it through a tracker
// subscription and a notifier callback.
package journal

import (
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Baseline: operations and conflicts tables
const currentSchemaVersion = 1

// Journal is an append-mostly log backed by a SQLite database.
// Uses WAL mode so status queries can read while the daemon writes.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Journal.
type Option func(*Journal)

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(j *Journal) { j.logger = l }
}

// WithClock replaces the wall clock, for deterministic timestamps in tests.
func WithClock(now func() time.Time) Option {
	return func(j *Journal) { j.now = now }
}

// Open creates or opens the journal database at the given path, creating
// parent directories as needed. Applies required pragmas and migrations
// automatically; safe to call on an existing database.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
func Open(path string, opts ...Option) (*Journal, error) {
	// SQLite will not create missing directories on its own.
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to journal database: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent appends.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	j := &Journal{
		db:     db,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// Idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return runMigrations(db)
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	// Version 1 is the baseline and schema.sql creates it in full.
	// Future migrations run here, gated on the recorded version.
	if version < currentSchemaVersion {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
	}
	return nil
}
