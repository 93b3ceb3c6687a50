package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/cache"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/observability"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/storage"
)

// DriftRunner checks that the published run is complete and still
// matches its inputs.
type DriftRunner struct {
	logger   *observability.Logger
	repos    *storage.Repositories
	notifier cache.Notifier
	config   DriftConfig
	now      func() time.Time
}

// DriftConfig holds drift detection configuration.
type DriftConfig struct {
	ArtifactPath       string
	RequiredSources    []string
	FreshnessThreshold time.Duration
	CheckInterval      time.Duration
	AlertChannel       string
}

// DriftCheckResult contains the results of a drift check.
type DriftCheckResult struct {
	CheckedAt      time.Time      `json:"checked_at"`
	RunID          uuid.UUID      `json:"run_id"`
	SourceCounts   map[string]int `json:"source_counts,omitempty"`
	ArtifactChunks int            `json:"artifact_chunks"`
	Problems       []string       `json:"problems,omitempty"`
	StaleRun       *StaleRun      `json:"stale_run,omitempty"`
	HashMismatches []HashMismatch `json:"hash_mismatches,omitempty"`
	TotalAlerts    int            `json:"total_alerts"`
}

// Ready reports whether the published output can be served.
func (r *DriftCheckResult) Ready() bool {
	return len(r.Problems) == 0
}

// StaleRun describes a published run older than the freshness threshold.
type StaleRun struct {
	RunID     uuid.UUID     `json:"run_id"`
	StartedAt time.Time     `json:"started_at"`
	Age       time.Duration `json:"age"`
}

// HashMismatch represents a source workbook that changed since the run.
type HashMismatch struct {
	Path    string `json:"path"`
	OldHash string `json:"old_hash"`
	NewHash string `json:"new_hash"`
}

// NewDriftRunner creates a new drift runner. notifier may be nil.
func NewDriftRunner(logger *observability.Logger, repos *storage.Repositories, notifier cache.Notifier, cfg DriftConfig) *DriftRunner {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if len(cfg.RequiredSources) == 0 {
		cfg.RequiredSources = []string{"BOM", "Route", "Quality"}
	}
	if cfg.FreshnessThreshold == 0 {
		cfg.FreshnessThreshold = 30 * 24 * time.Hour
	}
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = time.Hour
	}
	if cfg.AlertChannel == "" {
		cfg.AlertChannel = "drift.alerts"
	}

	return &DriftRunner{
		logger:   logger,
		repos:    repos,
		notifier: notifier,
		config:   cfg,
		now:      time.Now,
	}
}

// RunCheck executes a readiness and drift check against the latest run.
func (d *DriftRunner) RunCheck(ctx context.Context) (*DriftCheckResult, error) {
	d.logger.Info().Msg("Starting drift check")

	result := &DriftCheckResult{CheckedAt: d.now()}

	// Step 1: Latest run
	run, err := d.repos.Runs.Latest(ctx)
	if errors.Is(err, storage.ErrNoRun) {
		result.Problems = append(result.Problems, "no published run")
		d.checkArtifact(result, nil)
		d.finish(ctx, result)
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load latest run: %w", err)
	}
	result.RunID = run.ID

	// Step 2: Chunks per source
	counts, err := d.repos.Chunks.CountBySource(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("count chunks: %w", err)
	}
	result.SourceCounts = counts
	for _, source := range d.config.RequiredSources {
		if counts[source] == 0 {
			result.Problems = append(result.Problems, fmt.Sprintf("no chunks from source %q", source))
		}
	}

	// Step 3: JSON artifact
	d.checkArtifact(result, run)

	// Step 4: Freshness
	if age := result.CheckedAt.Sub(run.StartedAt); age > d.config.FreshnessThreshold {
		result.StaleRun = &StaleRun{RunID: run.ID, StartedAt: run.StartedAt, Age: age}
	}

	// Step 5: Source hashes
	mismatches, err := d.checkHashMismatches(ctx, run.ID)
	if err != nil {
		d.logger.Warn().Err(err).Msg("Failed to check source hashes")
	} else {
		result.HashMismatches = mismatches
	}

	d.finish(ctx, result)
	return result, nil
}

func (d *DriftRunner) checkArtifact(result *DriftCheckResult, run *storage.Run) {
	if d.config.ArtifactPath == "" {
		return
	}
	chunks, err := storage.ReadJSONArtifact(d.config.ArtifactPath)
	if err != nil {
		result.Problems = append(result.Problems, fmt.Sprintf("artifact unreadable: %v", err))
		return
	}
	result.ArtifactChunks = len(chunks)
	if len(chunks) == 0 {
		result.Problems = append(result.Problems, "artifact is empty")
		return
	}
	if run != nil && run.ChunkCount != len(chunks) {
		result.Problems = append(result.Problems,
			fmt.Sprintf("artifact has %d chunks, run %s has %d", len(chunks), run.ID, run.ChunkCount))
	}
}

// checkHashMismatches re-hashes every source file recorded for the run.
func (d *DriftRunner) checkHashMismatches(ctx context.Context, runID uuid.UUID) ([]HashMismatch, error) {
	events, err := d.repos.Lineage.GetByRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	var mismatches []HashMismatch
	for _, e := range events {
		if e.ResourceType != ResourceSource || e.Action != storage.LineageActionLoaded {
			continue
		}
		var payload struct {
			SHA256 string `json:"sha256"`
		}
		if err := json.Unmarshal(e.Payload, &payload); err != nil || payload.SHA256 == "" {
			continue
		}
		current, err := HashFile(e.ResourceID)
		if err != nil {
			current = ""
		}
		if current != payload.SHA256 {
			mismatches = append(mismatches, HashMismatch{Path: e.ResourceID, OldHash: payload.SHA256, NewHash: current})
		}
	}
	return mismatches, nil
}

func (d *DriftRunner) finish(ctx context.Context, result *DriftCheckResult) {
	result.TotalAlerts = len(result.Problems) + len(result.HashMismatches)
	if result.StaleRun != nil {
		result.TotalAlerts++
	}

	if result.TotalAlerts > 0 && d.notifier != nil {
		if err := d.notifier.Publish(ctx, d.config.AlertChannel, result); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to publish drift alert")
		}
	}

	d.logger.Info().
		Str("run_id", result.RunID.String()).
		Int("problems", len(result.Problems)).
		Int("hash_mismatches", len(result.HashMismatches)).
		Bool("stale", result.StaleRun != nil).
		Int("total_alerts", result.TotalAlerts).
		Msg("Drift check completed")
}

// ScheduleDriftCheck runs checks periodically until ctx is done.
func (d *DriftRunner) ScheduleDriftCheck(ctx context.Context, onResult func(*DriftCheckResult)) {
	ticker := time.NewTicker(d.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info().Msg("Stopping scheduled drift checks")
			return
		case <-ticker.C:
			result, err := d.RunCheck(ctx)
			if err != nil {
				d.logger.Error().Err(err).Msg("Scheduled drift check failed")
				continue
			}
			if onResult != nil {
				onResult(result)
			}
		}
	}
}
