// Package monitoring records run lineage and checks published output.
package monitoring

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/observability"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/storage"
)

// Resource types written to the lineage table.
const (
	ResourceRun    = "run"
	ResourceSource = "source_file"
	ResourceStage  = "stage"
)

// LineageWriter captures and persists lineage events.
type LineageWriter struct {
	logger *observability.Logger
	store  LineageStore
	buffer chan *LineageEvent
	config LineageConfig
	stopCh chan struct{}
	done   chan struct{}
	once   sync.Once
}

// LineageStore persists lineage events.
type LineageStore interface {
	Create(ctx context.Context, event *storage.LineageEvent) error
	BatchCreate(ctx context.Context, events []*storage.LineageEvent) error
}

// LineageConfig configures the lineage writer.
type LineageConfig struct {
	BufferSize     int
	FlushInterval  time.Duration
	EnableAsync    bool
	IncludePayload bool
}

// DefaultLineageConfig returns default lineage configuration.
func DefaultLineageConfig() LineageConfig {
	return LineageConfig{
		BufferSize:     1000,
		FlushInterval:  5 * time.Second,
		EnableAsync:    true,
		IncludePayload: true,
	}
}

// LineageEvent represents an event to be recorded.
type LineageEvent struct {
	RunID        uuid.UUID
	ResourceType string
	ResourceID   string
	Action       storage.LineageAction
	Payload      map[string]interface{}
	OccurredAt   time.Time
}

// SourceFile describes one input workbook of a run.
type SourceFile struct {
	Source string
	Path   string
	Rows   int
}

// NewLineageWriter creates a new lineage writer. A nil store logs events
// instead of persisting them.
func NewLineageWriter(logger *observability.Logger, store LineageStore, config LineageConfig) *LineageWriter {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 1000
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 5 * time.Second
	}

	w := &LineageWriter{
		logger: logger,
		store:  store,
		buffer: make(chan *LineageEvent, config.BufferSize),
		config: config,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}

	if config.EnableAsync {
		go w.runFlushLoop()
	} else {
		close(w.done)
	}

	return w
}

// RecordRunStart records that a run began reading its sources.
func (w *LineageWriter) RecordRunStart(ctx context.Context, runID uuid.UUID, sources []SourceFile) error {
	paths := make([]string, len(sources))
	for i, s := range sources {
		paths[i] = s.Path
	}
	return w.record(ctx, &LineageEvent{
		RunID:        runID,
		ResourceType: ResourceRun,
		ResourceID:   runID.String(),
		Action:       storage.LineageActionLoaded,
		Payload: map[string]interface{}{
			"status":  "started",
			"sources": paths,
		},
	})
}

// RecordSources records every loaded workbook with its row count and a
// content hash, so a later check can tell whether the file changed.
func (w *LineageWriter) RecordSources(ctx context.Context, runID uuid.UUID, sources []SourceFile) error {
	for _, s := range sources {
		payload := map[string]interface{}{
			"source": s.Source,
			"rows":   s.Rows,
		}
		if sum, err := HashFile(s.Path); err != nil {
			w.logger.Warn().Err(err).Str("path", s.Path).Msg("Failed to hash source file")
		} else {
			payload["sha256"] = sum
		}
		if err := w.record(ctx, &LineageEvent{
			RunID:        runID,
			ResourceType: ResourceSource,
			ResourceID:   s.Path,
			Action:       storage.LineageActionLoaded,
			Payload:      payload,
		}); err != nil {
			return err
		}
	}
	return nil
}

// RecordStage records the grouping outcome of one source stage.
func (w *LineageWriter) RecordStage(ctx context.Context, runID uuid.UUID, stage string, records int, dropped map[string]int) error {
	if err := w.record(ctx, &LineageEvent{
		RunID:        runID,
		ResourceType: ResourceStage,
		ResourceID:   stage,
		Action:       storage.LineageActionGrouped,
		Payload:      map[string]interface{}{"records": records},
	}); err != nil {
		return err
	}
	if len(dropped) == 0 {
		return nil
	}
	return w.record(ctx, &LineageEvent{
		RunID:        runID,
		ResourceType: ResourceStage,
		ResourceID:   stage,
		Action:       storage.LineageActionDropped,
		Payload:      map[string]interface{}{"dropped": dropped},
	})
}

// RecordRunComplete records a published run.
func (w *LineageWriter) RecordRunComplete(ctx context.Context, runID uuid.UUID, stats map[string]int) error {
	return w.record(ctx, &LineageEvent{
		RunID:        runID,
		ResourceType: ResourceRun,
		ResourceID:   runID.String(),
		Action:       storage.LineageActionPublished,
		Payload: map[string]interface{}{
			"status": "completed",
			"stats":  stats,
		},
	})
}

// RecordRunFailed records a run that did not publish.
func (w *LineageWriter) RecordRunFailed(ctx context.Context, runID uuid.UUID, cause error) error {
	payload := map[string]interface{}{"status": "failed"}
	if cause != nil {
		payload["error"] = cause.Error()
	}
	return w.record(ctx, &LineageEvent{
		RunID:        runID,
		ResourceType: ResourceRun,
		ResourceID:   runID.String(),
		Action:       storage.LineageActionFailed,
		Payload:      payload,
	})
}

// record sends an event for recording.
func (w *LineageWriter) record(ctx context.Context, event *LineageEvent) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if w.config.EnableAsync {
		select {
		case <-w.stopCh:
			return w.writeEvent(ctx, event)
		default:
		}
		select {
		case w.buffer <- event:
			return nil
		default:
			// Buffer full, log warning and write synchronously
			w.logger.Warn().Msg("Lineage buffer full, writing synchronously")
			return w.writeEvent(ctx, event)
		}
	}
	return w.writeEvent(ctx, event)
}

func (w *LineageWriter) toStorage(event *LineageEvent) *storage.LineageEvent {
	var payloadJSON json.RawMessage
	if event.Payload != nil && w.config.IncludePayload {
		payloadJSON, _ = json.Marshal(event.Payload)
	}
	return &storage.LineageEvent{
		ID:           uuid.New(),
		RunID:        event.RunID,
		ResourceType: event.ResourceType,
		ResourceID:   event.ResourceID,
		Action:       event.Action,
		Payload:      payloadJSON,
		OccurredAt:   event.OccurredAt,
	}
}

// writeEvent persists an event to storage.
func (w *LineageWriter) writeEvent(ctx context.Context, event *LineageEvent) error {
	if w.store == nil {
		w.logger.Info().
			Str("resource_type", event.ResourceType).
			Str("resource_id", event.ResourceID).
			Str("action", string(event.Action)).
			Msg("Lineage event (no store)")
		return nil
	}
	return w.store.Create(ctx, w.toStorage(event))
}

// runFlushLoop periodically flushes buffered events.
func (w *LineageWriter) runFlushLoop() {
	defer close(w.done)

	ticker := time.NewTicker(w.config.FlushInterval)
	defer ticker.Stop()

	var batch []*LineageEvent

	for {
		select {
		case event := <-w.buffer:
			batch = append(batch, event)
			if len(batch) >= 100 {
				w.flushBatch(batch)
				batch = nil
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flushBatch(batch)
				batch = nil
			}
		case <-w.stopCh:
			for {
				select {
				case event := <-w.buffer:
					batch = append(batch, event)
				default:
					if len(batch) > 0 {
						w.flushBatch(batch)
					}
					return
				}
			}
		}
	}
}

// flushBatch writes a batch of events.
func (w *LineageWriter) flushBatch(batch []*LineageEvent) {
	if w.store == nil {
		for _, event := range batch {
			w.logger.Info().
				Str("resource_type", event.ResourceType).
				Str("resource_id", event.ResourceID).
				Str("action", string(event.Action)).
				Msg("Lineage event (batch, no store)")
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	storageEvents := make([]*storage.LineageEvent, len(batch))
	for i, event := range batch {
		storageEvents[i] = w.toStorage(event)
	}

	if err := w.store.BatchCreate(ctx, storageEvents); err != nil {
		w.logger.Error().Err(err).Int("count", len(batch)).Msg("Failed to flush lineage batch")
	} else {
		w.logger.Debug().Int("count", len(batch)).Msg("Flushed lineage batch")
	}
}

// Stop flushes buffered events and stops the writer. It is safe to call
// more than once.
func (w *LineageWriter) Stop() {
	w.once.Do(func() { close(w.stopCh) })
	<-w.done
}

// HashFile returns the hex sha256 of a file's contents.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
