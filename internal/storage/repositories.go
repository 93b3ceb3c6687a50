package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/chunking"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/vocab"
)

// Common errors
var (
	ErrNotFound = errors.New("record not found")
	ErrNoRun    = errors.New("no published run")
)

// DB represents a database connection interface.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// RunRepository handles run bookkeeping.
type RunRepository struct {
	db DB
}

// NewRunRepository creates a new run repository.
func NewRunRepository(db DB) *RunRepository {
	return &RunRepository{db: db}
}

// Create inserts a run.
func (r *RunRepository) Create(ctx context.Context, run *Run) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	counts, err := json.Marshal(nonNilCounts(run.SourceCounts))
	if err != nil {
		return fmt.Errorf("marshal source counts: %w", err)
	}

	query := `
		INSERT INTO runs (id, status, started_at, finished_at, chunk_count, source_counts,
			token_counter, token_budget, artifact_path, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = r.db.ExecContext(ctx, query,
		run.ID, run.Status, run.StartedAt, run.FinishedAt, run.ChunkCount, string(counts),
		run.TokenCounter, run.TokenBudget, run.ArtifactPath, run.ErrorMessage,
	)
	return err
}

// SupersedeOthers marks every other published run as superseded.
func (r *RunRepository) SupersedeOthers(ctx context.Context, keep uuid.UUID) error {
	query := `UPDATE runs SET status = $1 WHERE status = $2 AND id <> $3`
	_, err := r.db.ExecContext(ctx, query, RunStatusSuperseded, RunStatusPublished, keep)
	return err
}

// GetByID retrieves a run by ID.
func (r *RunRepository) GetByID(ctx context.Context, id uuid.UUID) (*Run, error) {
	query := `
		SELECT id, status, started_at, finished_at, chunk_count, source_counts,
			token_counter, token_budget, artifact_path, error_message
		FROM runs WHERE id = $1
	`
	return scanRun(r.db.QueryRowContext(ctx, query, id))
}

// Latest retrieves the most recent published run.
func (r *RunRepository) Latest(ctx context.Context) (*Run, error) {
	query := `
		SELECT id, status, started_at, finished_at, chunk_count, source_counts,
			token_counter, token_budget, artifact_path, error_message
		FROM runs WHERE status = $1
		ORDER BY started_at DESC
		LIMIT 1
	`
	run, err := scanRun(r.db.QueryRowContext(ctx, query, RunStatusPublished))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNoRun
	}
	return run, err
}

// List returns recent runs of any status, newest first.
func (r *RunRepository) List(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, status, started_at, finished_at, chunk_count, source_counts,
			token_counter, token_budget, artifact_path, error_message
		FROM runs
		ORDER BY started_at DESC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var finished sql.NullTime
	var counts []byte
	err := row.Scan(
		&run.ID, &run.Status, &run.StartedAt, &finished, &run.ChunkCount, &counts,
		&run.TokenCounter, &run.TokenBudget, &run.ArtifactPath, &run.ErrorMessage,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	if len(counts) > 0 {
		if err := json.Unmarshal(counts, &run.SourceCounts); err != nil {
			return nil, fmt.Errorf("decode source counts: %w", err)
		}
	}
	return run, nil
}

func nonNilCounts(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}
	return m
}

// ChunkRepository handles chunk rows.
type ChunkRepository struct {
	db DB
}

// NewChunkRepository creates a new chunk repository.
func NewChunkRepository(db DB) *ChunkRepository {
	return &ChunkRepository{db: db}
}

// Insert stores chunks for a run, preserving their order.
func (r *ChunkRepository) Insert(ctx context.Context, runID uuid.UUID, chunks []chunking.Chunk) error {
	query := `
		INSERT INTO chunks (id, run_id, position, chunk_id, stage, article, source,
			content, metadata, part, is_split)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	for i, c := range chunks {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata of %s: %w", c.ID, err)
		}
		if _, err := r.db.ExecContext(ctx, query,
			ChunkRowID(runID, c.ID), runID, i, c.ID, c.Stage, c.Article, c.Source,
			c.Content, string(meta), c.Part, c.IsSplit,
		); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
	}
	return nil
}

// GetByChunkID retrieves one chunk of a run.
func (r *ChunkRepository) GetByChunkID(ctx context.Context, runID uuid.UUID, chunkID string) (*chunking.Chunk, error) {
	query := `
		SELECT chunk_id, stage, article, source, content, metadata, part, is_split
		FROM chunks
		WHERE run_id = $1 AND chunk_id = $2
	`
	c, err := scanChunk(r.db.QueryRowContext(ctx, query, runID, chunkID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// CountBySource returns the number of chunks per source for a run.
func (r *ChunkRepository) CountBySource(ctx context.Context, runID uuid.UUID) (map[string]int, error) {
	query := `SELECT source, COUNT(*) FROM chunks WHERE run_id = $1 GROUP BY source`
	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var source string
		var n int
		if err := rows.Scan(&source, &n); err != nil {
			return nil, err
		}
		counts[source] = n
	}
	return counts, rows.Err()
}

// DeleteOtherRuns removes chunks that do not belong to keep.
func (r *ChunkRepository) DeleteOtherRuns(ctx context.Context, keep uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM chunks WHERE run_id <> $1`, keep)
	return err
}

func scanChunk(row rowScanner) (*chunking.Chunk, error) {
	c := &chunking.Chunk{}
	var meta []byte
	if err := row.Scan(&c.ID, &c.Stage, &c.Article, &c.Source, &c.Content, &meta, &c.Part, &c.IsSplit); err != nil {
		return nil, err
	}
	c.Metadata = map[string]string{}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &c.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", c.ID, err)
		}
	}
	return c, nil
}

// VocabularyRepository persists the derived vocabulary of a run.
type VocabularyRepository struct {
	db DB
}

// NewVocabularyRepository creates a new vocabulary repository.
func NewVocabularyRepository(db DB) *VocabularyRepository {
	return &VocabularyRepository{db: db}
}

// Save stores one row per process name and one per process parameter.
func (r *VocabularyRepository) Save(ctx context.Context, runID uuid.UUID, v vocab.Vocabulary) error {
	query := `INSERT INTO vocabulary (run_id, process_name, parameter_name) VALUES ($1, $2, $3)`
	for _, name := range v.ProcessNames {
		if _, err := r.db.ExecContext(ctx, query, runID, name, ""); err != nil {
			return fmt.Errorf("insert process name %q: %w", name, err)
		}
	}
	stages := make([]string, 0, len(v.ProcessParameters))
	for stage := range v.ProcessParameters {
		stages = append(stages, stage)
	}
	sort.Strings(stages)
	for _, stage := range stages {
		for _, param := range v.ProcessParameters[stage] {
			if _, err := r.db.ExecContext(ctx, query, runID, stage, param); err != nil {
				return fmt.Errorf("insert parameter %q of %q: %w", param, stage, err)
			}
		}
	}
	return nil
}

// Get rebuilds the vocabulary of a run.
func (r *VocabularyRepository) Get(ctx context.Context, runID uuid.UUID) (vocab.Vocabulary, error) {
	query := `
		SELECT process_name, parameter_name FROM vocabulary
		WHERE run_id = $1
		ORDER BY process_name, parameter_name
	`
	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return vocab.Vocabulary{}, err
	}
	defer rows.Close()

	v := vocab.Vocabulary{ProcessParameters: map[string][]string{}}
	for rows.Next() {
		var name, param string
		if err := rows.Scan(&name, &param); err != nil {
			return vocab.Vocabulary{}, err
		}
		if param == "" {
			v.ProcessNames = append(v.ProcessNames, name)
			continue
		}
		v.ProcessParameters[name] = append(v.ProcessParameters[name], param)
	}
	if err := rows.Err(); err != nil {
		return vocab.Vocabulary{}, err
	}
	if len(v.ProcessNames) == 0 {
		return vocab.Vocabulary{}, ErrNotFound
	}
	return v, nil
}

// DeleteOtherRuns removes vocabulary rows that do not belong to keep.
func (r *VocabularyRepository) DeleteOtherRuns(ctx context.Context, keep uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM vocabulary WHERE run_id <> $1`, keep)
	return err
}

// LineageRepository handles lineage event operations.
type LineageRepository struct {
	db DB
}

// NewLineageRepository creates a new lineage repository.
func NewLineageRepository(db DB) *LineageRepository {
	return &LineageRepository{db: db}
}

// Create creates a new lineage event.
func (r *LineageRepository) Create(ctx context.Context, event *LineageEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	payload := string(event.Payload)
	if payload == "" {
		payload = "{}"
	}

	query := `
		INSERT INTO lineage_events (id, run_id, resource_type, resource_id, action, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		event.ID, event.RunID, event.ResourceType, event.ResourceID, event.Action,
		payload, event.OccurredAt,
	)
	return err
}

// BatchCreate inserts several events.
func (r *LineageRepository) BatchCreate(ctx context.Context, events []*LineageEvent) error {
	for _, e := range events {
		if err := r.Create(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// GetByRun retrieves lineage events for a run in occurrence order.
func (r *LineageRepository) GetByRun(ctx context.Context, runID uuid.UUID) ([]*LineageEvent, error) {
	query := `
		SELECT id, run_id, resource_type, resource_id, action, payload, occurred_at
		FROM lineage_events
		WHERE run_id = $1
		ORDER BY occurred_at, resource_type, resource_id
	`
	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*LineageEvent
	for rows.Next() {
		event := &LineageEvent{}
		var payload []byte
		if err := rows.Scan(
			&event.ID, &event.RunID, &event.ResourceType, &event.ResourceID, &event.Action,
			&payload, &event.OccurredAt,
		); err != nil {
			return nil, err
		}
		event.Payload = json.RawMessage(payload)
		events = append(events, event)
	}
	return events, rows.Err()
}

// Repositories bundles all repositories together.
type Repositories struct {
	Runs       *RunRepository
	Chunks     *ChunkRepository
	ChunkView  *ChunkViewRepository
	Vocabulary *VocabularyRepository
	Lineage    *LineageRepository
}

// NewRepositories creates all repositories with the given database connection.
func NewRepositories(db DB) *Repositories {
	return &Repositories{
		Runs:       NewRunRepository(db),
		Chunks:     NewChunkRepository(db),
		ChunkView:  NewChunkViewRepository(db),
		Vocabulary: NewVocabularyRepository(db),
		Lineage:    NewLineageRepository(db),
	}
}
