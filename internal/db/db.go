// Package db opens the SQLite database and applies embedded migrations.
package db

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/dpleshakov/corpsso/internal/logging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Open opens a SQLite database at path, runs any pending migrations, and
// returns the connection. Enables WAL journal mode and foreign key enforcement.
//
// MaxOpenConns is set to 1 because PRAGMA foreign_keys is a per-connection
// setting in SQLite. A single connection also serializes writers, which keeps
// insert-if-absent statements free of lock contention.
func Open(path string, logger *zap.Logger) (db *sql.DB, err error) {
	logger = logging.OrNop(logger).Named("db")

	db, err = sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if err != nil {
			_ = db.Close() //nolint:errcheck // cleanup after setup failure
			db = nil
		}
	}()

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if _, err = db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err = db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err = db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	applied, err := runMigrations(db)
	if err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	for _, name := range applied {
		logger.Info("migration applied", zap.String("file", name))
	}

	return db, nil
}

// runMigrations applies every embedded migration not yet recorded in
// schema_migrations, in filename order, and returns the names it applied.
func runMigrations(db *sql.DB) ([]string, error) {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename   TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("creating schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	var applied []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		filename := entry.Name()

		var count int
		if err := db.QueryRow(
			"SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", filename,
		).Scan(&count); err != nil {
			return applied, fmt.Errorf("checking migration %s: %w", filename, err)
		}
		if count > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + filename)
		if err != nil {
			return applied, fmt.Errorf("reading migration %s: %w", filename, err)
		}
		if err := applyMigration(db, filename, string(content)); err != nil {
			return applied, err
		}
		applied = append(applied, filename)
	}

	return applied, nil
}

// applyMigration executes a single migration inside a transaction so that a
// partially-applied migration cannot leave the schema in an inconsistent state.
func applyMigration(db *sql.DB, filename, content string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction for migration %s: %w", filename, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(content); err != nil {
		return fmt.Errorf("executing migration %s: %w", filename, err)
	}
	if _, err := tx.Exec(
		"INSERT INTO schema_migrations (filename) VALUES (?)", filename,
	); err != nil {
		return fmt.Errorf("recording migration %s: %w", filename, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration %s: %w", filename, err)
	}
	return nil
}
