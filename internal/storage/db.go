package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/config"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open connects to the configured database and applies pool settings.
func Open(cfg config.DatabaseConfig) (*sql.DB, error) {
	switch cfg.Driver {
	case "", DriverSQLite:
		db, err := sql.Open("sqlite3", cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		maxConns := cfg.SQLite.MaxOpenConns
		if maxConns <= 0 {
			maxConns = 1
		}
		db.SetMaxOpenConns(maxConns)
		if mode := cfg.SQLite.JournalMode; mode != "" {
			if _, err := db.Exec("PRAGMA journal_mode=" + mode); err != nil {
				db.Close()
				return nil, fmt.Errorf("set journal mode: %w", err)
			}
		}
		return db, nil
	case DriverPostgres:
		db, err := sql.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres database: %w", err)
		}
		db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		source_counts TEXT NOT NULL DEFAULT '{}',
		token_counter TEXT NOT NULL DEFAULT '',
		token_budget INTEGER NOT NULL DEFAULT 0,
		artifact_path TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES runs(id),
		position INTEGER NOT NULL,
		chunk_id TEXT NOT NULL,
		stage TEXT NOT NULL DEFAULT '',
		article TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		part INTEGER NOT NULL DEFAULT 0,
		is_split INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_run ON chunks(run_id, position)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_lookup ON chunks(run_id, chunk_id)`,
	`CREATE TABLE IF NOT EXISTS vocabulary (
		run_id TEXT NOT NULL REFERENCES runs(id),
		process_name TEXT NOT NULL,
		parameter_name TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS lineage_events (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		resource_type TEXT NOT NULL,
		resource_id TEXT NOT NULL,
		action TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '{}',
		occurred_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_lineage_run ON lineage_events(run_id, occurred_at)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id UUID PRIMARY KEY,
		status TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		source_counts JSONB NOT NULL DEFAULT '{}',
		token_counter TEXT NOT NULL DEFAULT '',
		token_budget INTEGER NOT NULL DEFAULT 0,
		artifact_path TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS chunks (
		id UUID PRIMARY KEY,
		run_id UUID NOT NULL REFERENCES runs(id),
		position INTEGER NOT NULL,
		chunk_id TEXT NOT NULL,
		stage TEXT NOT NULL DEFAULT '',
		article TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}',
		part INTEGER NOT NULL DEFAULT 0,
		is_split BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_run ON chunks(run_id, position)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_lookup ON chunks(run_id, chunk_id)`,
	`CREATE TABLE IF NOT EXISTS vocabulary (
		run_id UUID NOT NULL REFERENCES runs(id),
		process_name TEXT NOT NULL,
		parameter_name TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS lineage_events (
		id UUID PRIMARY KEY,
		run_id UUID NOT NULL,
		resource_type TEXT NOT NULL,
		resource_id TEXT NOT NULL,
		action TEXT NOT NULL,
		payload JSONB NOT NULL DEFAULT '{}',
		occurred_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_lineage_run ON lineage_events(run_id, occurred_at)`,
}

// Migrate creates the tables used by the pipeline if they do not exist.
func Migrate(ctx context.Context, db DB, driver string) error {
	schema := sqliteSchema
	if strings.EqualFold(driver, DriverPostgres) {
		schema = postgresSchema
	}
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration statement %d: %w", i+1, err)
		}
	}
	return nil
}
