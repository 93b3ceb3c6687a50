package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/chunking"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/vocab"
)

// Store publishes whole runs atomically. Readers always see either the
// previous run or the new one, never a mix.
type Store struct {
	db     *sql.DB
	driver string
	*Repositories
}

// NewStore wraps an open database.
func NewStore(db *sql.DB, driver string) *Store {
	if driver == "" {
		driver = DriverSQLite
	}
	return &Store{db: db, driver: driver, Repositories: NewRepositories(db)}
}

// Migrate creates the schema.
func (s *Store) Migrate(ctx context.Context) error {
	return Migrate(ctx, s.db, s.driver)
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ReplaceRun records run as published with its chunks and vocabulary and
// drops the rows of every earlier run, in one transaction.
func (s *Store) ReplaceRun(ctx context.Context, run *Run, chunks []chunking.Chunk, v vocab.Vocabulary) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	repos := NewRepositories(tx)

	now := time.Now().UTC()
	run.Status = RunStatusPublished
	run.FinishedAt = &now
	run.ChunkCount = len(chunks)

	// Step 1: Record the run
	if err = repos.Runs.Create(ctx, run); err != nil {
		return fmt.Errorf("create run: %w", err)
	}

	// Step 2: Retire previous runs
	if err = repos.Runs.SupersedeOthers(ctx, run.ID); err != nil {
		return fmt.Errorf("supersede runs: %w", err)
	}
	if err = repos.Chunks.DeleteOtherRuns(ctx, run.ID); err != nil {
		return fmt.Errorf("delete old chunks: %w", err)
	}
	if err = repos.Vocabulary.DeleteOtherRuns(ctx, run.ID); err != nil {
		return fmt.Errorf("delete old vocabulary: %w", err)
	}

	// Step 3: Store the new collection
	if err = repos.Chunks.Insert(ctx, run.ID, chunks); err != nil {
		return err
	}
	if err = repos.Vocabulary.Save(ctx, run.ID, v); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

// RecordFailure stores a failed run without touching published data.
func (s *Store) RecordFailure(ctx context.Context, run *Run, cause error) error {
	now := time.Now().UTC()
	run.Status = RunStatusFailed
	run.FinishedAt = &now
	if cause != nil {
		run.ErrorMessage = cause.Error()
	}
	return s.Runs.Create(ctx, run)
}
