package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/cache"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/monitoring"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/observability"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/storage"
)

var (
	// ErrEmptyRun indicates a run produced no chunks and would wipe the
	// published collection.
	ErrEmptyRun = errors.New("run produced no chunks")
	// ErrNoStore indicates neither a store nor an artifact path is set.
	ErrNoStore = errors.New("nowhere to publish")
)

// Publisher makes a finished run the current collection.
type Publisher struct {
	logger        *observability.Logger
	store         *storage.Store
	cache         cache.Client
	notifier      cache.Notifier
	lineageWriter *monitoring.LineageWriter
	config        PublishConfig
}

// PublishConfig controls publish outputs.
type PublishConfig struct {
	JSONPath     string
	VocabPath    string
	PrettyJSON   bool
	TokenCounter string
	TokenBudget  int
}

// RunPublishedEvent is broadcast on cache.RunsChannel.
type RunPublishedEvent struct {
	RunID        string         `json:"run_id"`
	PreviousRun  string         `json:"previous_run,omitempty"`
	ChunkCount   int            `json:"chunk_count"`
	SourceCounts map[string]int `json:"source_counts"`
	PublishedAt  time.Time      `json:"published_at"`
}

// NewPublisher creates a new Publisher. Every dependency except the logger
// may be nil.
func NewPublisher(
	logger *observability.Logger,
	store *storage.Store,
	cacheClient cache.Client,
	notifier cache.Notifier,
	lineageWriter *monitoring.LineageWriter,
	cfg PublishConfig,
) *Publisher {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Publisher{
		logger:        logger.WithOperation("publish"),
		store:         store,
		cache:         cacheClient,
		notifier:      notifier,
		lineageWriter: lineageWriter,
		config:        cfg,
	}
}

// Publish replaces the current collection with result.
func (p *Publisher) Publish(ctx context.Context, result *Result) (*storage.Run, error) {
	if p.store == nil && p.config.JSONPath == "" {
		return nil, ErrNoStore
	}
	if len(result.Chunks) == 0 {
		return nil, ErrEmptyRun
	}

	p.logger.Info().
		Str("run_id", result.RunID.String()).
		Int("chunks", len(result.Chunks)).
		Msg("Publishing run")

	run := &storage.Run{
		ID:           result.RunID,
		StartedAt:    result.StartedAt,
		SourceCounts: result.SourceCounts,
		TokenCounter: p.config.TokenCounter,
		TokenBudget:  p.config.TokenBudget,
		ArtifactPath: p.config.JSONPath,
	}

	// Step 1: Find the run being replaced
	var previous uuid.UUID
	if p.store != nil {
		prev, err := p.store.Runs.Latest(ctx)
		switch {
		case err == nil:
			previous = prev.ID
		case !errors.Is(err, storage.ErrNoRun):
			return nil, fmt.Errorf("load latest run: %w", err)
		}
	}

	// Step 2: Stage the artifacts
	staged, err := p.stageArtifacts(result)
	if err != nil {
		return nil, p.fail(ctx, run, err)
	}

	// Step 3: Swap the stored collection
	if p.store != nil {
		if err := p.store.ReplaceRun(ctx, run, result.Chunks, result.Vocabulary); err != nil {
			discardAll(staged)
			return nil, p.fail(ctx, run, fmt.Errorf("replace run: %w", err))
		}
	} else {
		now := time.Now().UTC()
		run.Status = storage.RunStatusPublished
		run.FinishedAt = &now
		run.ChunkCount = len(result.Chunks)
	}

	// Step 4: Move the artifacts into place
	for i, f := range staged {
		if err := f.Commit(); err != nil {
			discardAll(staged[i+1:])
			p.logger.Error().Err(err).Str("path", f.Path()).Msg("Run stored but artifact not updated")
			return run, fmt.Errorf("commit artifact %s: %w", f.Path(), err)
		}
	}

	// Step 5: Invalidate caches
	if previous != uuid.Nil && p.cache != nil {
		if err := p.cache.DeleteByPrefix(ctx, cache.RunPrefix(previous.String())); err != nil {
			p.logger.Warn().Err(err).Msg("Failed to invalidate caches")
		}
	}

	// Step 6: Announce the run
	if p.notifier != nil {
		event := RunPublishedEvent{
			RunID:        run.ID.String(),
			ChunkCount:   run.ChunkCount,
			SourceCounts: run.SourceCounts,
			PublishedAt:  *run.FinishedAt,
		}
		if previous != uuid.Nil {
			event.PreviousRun = previous.String()
		}
		if err := p.notifier.Publish(ctx, cache.RunsChannel, event); err != nil {
			p.logger.Warn().Err(err).Msg("Failed to emit publish event")
		}
	}

	if p.lineageWriter != nil {
		stats := map[string]int{"chunks": run.ChunkCount, "unmapped": result.Unmapped}
		for source, n := range result.SourceCounts {
			stats["chunks_"+source] = n
		}
		if err := p.lineageWriter.RecordRunComplete(ctx, run.ID, stats); err != nil {
			p.logger.Warn().Err(err).Msg("Failed to record run completion")
		}
	}

	p.logger.Info().
		Str("run_id", run.ID.String()).
		Int("chunks", run.ChunkCount).
		Msg("Run published successfully")

	return run, nil
}

// stageArtifacts writes the configured outputs to temporary files.
func (p *Publisher) stageArtifacts(result *Result) ([]*storage.StagedFile, error) {
	var staged []*storage.StagedFile
	if p.config.JSONPath != "" {
		f, err := storage.StageJSON(p.config.JSONPath, result.Chunks, p.config.PrettyJSON)
		if err != nil {
			return nil, fmt.Errorf("write chunk artifact: %w", err)
		}
		staged = append(staged, f)
	}
	if p.config.VocabPath != "" {
		data, err := result.Vocabulary.YAML()
		if err != nil {
			discardAll(staged)
			return nil, fmt.Errorf("encode vocabulary: %w", err)
		}
		f, err := storage.StageFile(p.config.VocabPath, data)
		if err != nil {
			discardAll(staged)
			return nil, fmt.Errorf("write vocabulary: %w", err)
		}
		staged = append(staged, f)
	}
	return staged, nil
}

func discardAll(files []*storage.StagedFile) {
	for _, f := range files {
		f.Discard()
	}
}

// Fail records a run that never reached publish. Published data is left
// untouched.
func (p *Publisher) Fail(ctx context.Context, runID uuid.UUID, startedAt time.Time, cause error) error {
	run := &storage.Run{
		ID:           runID,
		StartedAt:    startedAt,
		TokenCounter: p.config.TokenCounter,
		TokenBudget:  p.config.TokenBudget,
	}
	return p.fail(ctx, run, cause)
}

// fail stores the failure and returns cause.
func (p *Publisher) fail(ctx context.Context, run *storage.Run, cause error) error {
	p.logger.Error().Err(cause).Str("run_id", run.ID.String()).Msg("Run failed")
	if p.store != nil {
		if err := p.store.RecordFailure(ctx, run, cause); err != nil {
			p.logger.Warn().Err(err).Msg("Failed to record failed run")
		}
	}
	if p.lineageWriter != nil {
		if err := p.lineageWriter.RecordRunFailed(ctx, run.ID, cause); err != nil {
			p.logger.Warn().Err(err).Msg("Failed to record run failure lineage")
		}
	}
	return cause
}
