package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/cache"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/chunking"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/config"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/storage"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/vocab"
)

type memoryLineageStore struct {
	mu     sync.Mutex
	events []*storage.LineageEvent
	fail   bool
}

func (m *memoryLineageStore) Create(ctx context.Context, e *storage.LineageEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("store down")
	}
	m.events = append(m.events, e)
	return nil
}

func (m *memoryLineageStore) BatchCreate(ctx context.Context, events []*storage.LineageEvent) error {
	for _, e := range events {
		if err := m.Create(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (m *memoryLineageStore) snapshot() []*storage.LineageEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*storage.LineageEvent(nil), m.events...)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLineageWriter_SyncRecordsSources(t *testing.T) {
	ctx := context.Background()
	store := &memoryLineageStore{}
	w := NewLineageWriter(nil, store, LineageConfig{EnableAsync: false, IncludePayload: true})
	defer w.Stop()

	dir := t.TempDir()
	path := writeFile(t, dir, "bom.csv", "a,b\n1,2\n")
	runID := uuid.New()

	require.NoError(t, w.RecordSources(ctx, runID, []SourceFile{{Source: "BOM", Path: path, Rows: 1}}))

	events := store.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, ResourceSource, events[0].ResourceType)
	assert.Equal(t, path, events[0].ResourceID)
	assert.Equal(t, storage.LineageActionLoaded, events[0].Action)

	sum, err := HashFile(path)
	require.NoError(t, err)
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, sum, payload["sha256"])
	assert.Equal(t, "BOM", payload["source"])
}

func TestLineageWriter_AsyncFlushesOnStop(t *testing.T) {
	ctx := context.Background()
	store := &memoryLineageStore{}
	w := NewLineageWriter(nil, store, LineageConfig{EnableAsync: true, FlushInterval: time.Hour, IncludePayload: false})
	runID := uuid.New()

	require.NoError(t, w.RecordRunStart(ctx, runID, nil))
	require.NoError(t, w.RecordStage(ctx, runID, "Coating", 4, map[string]int{"key": 2}))
	require.NoError(t, w.RecordStage(ctx, runID, "Printing", 1, nil))
	require.NoError(t, w.RecordRunComplete(ctx, runID, map[string]int{"chunks": 5}))

	w.Stop()
	w.Stop()

	events := store.snapshot()
	require.Len(t, events, 5)
	actions := make([]storage.LineageAction, len(events))
	for i, e := range events {
		actions[i] = e.Action
		assert.Nil(t, e.Payload)
		assert.Equal(t, runID, e.RunID)
	}
	assert.Equal(t, []storage.LineageAction{
		storage.LineageActionLoaded,
		storage.LineageActionGrouped,
		storage.LineageActionDropped,
		storage.LineageActionGrouped,
		storage.LineageActionPublished,
	}, actions)

	require.NoError(t, w.RecordRunFailed(ctx, runID, errors.New("late")))
	assert.Len(t, store.snapshot(), 6)
}

func TestLineageWriter_NoStoreLogsOnly(t *testing.T) {
	w := NewLineageWriter(nil, nil, LineageConfig{})
	require.NoError(t, w.RecordRunFailed(context.Background(), uuid.New(), errors.New("boom")))
	w.Stop()
}

func newRepos(t *testing.T) (*storage.Store, *storage.Repositories) {
	t.Helper()
	db, err := storage.Open(config.DatabaseConfig{
		Driver: storage.DriverSQLite,
		SQLite: config.SQLiteConfig{Path: ":memory:", MaxOpenConns: 1},
	})
	require.NoError(t, err)
	s := storage.NewStore(db, storage.DriverSQLite)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s, s.Repositories
}

func TestDriftRunner_NoRun(t *testing.T) {
	_, repos := newRepos(t)
	d := NewDriftRunner(nil, repos, nil, DriftConfig{ArtifactPath: filepath.Join(t.TempDir(), "missing.json")})

	result, err := d.RunCheck(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Ready())
	assert.Contains(t, result.Problems, "no published run")
	assert.Len(t, result.Problems, 2)
}

func TestDriftRunner_ReadyAndDrift(t *testing.T) {
	ctx := context.Background()
	store, repos := newRepos(t)
	dir := t.TempDir()

	chunks := []chunking.Chunk{
		{ID: "Coating_8090_1", Source: "BOM", Content: "x", Metadata: map[string]string{}},
		{ID: "Route_8090", Source: "Route", Content: "y", Metadata: map[string]string{}},
		{ID: "Quality_Coating_8090_1", Source: "Quality", Content: "z", Metadata: map[string]string{}},
	}
	run := &storage.Run{}
	require.NoError(t, store.ReplaceRun(ctx, run, chunks, vocab.Vocabulary{ProcessNames: []string{"coating"}}))

	artifact := filepath.Join(dir, "chunks.json")
	require.NoError(t, storage.WriteJSONAtomic(artifact, chunks, false))

	source := writeFile(t, dir, "bom.csv", "v1")
	w := NewLineageWriter(nil, repos.Lineage, LineageConfig{IncludePayload: true})
	require.NoError(t, w.RecordSources(ctx, run.ID, []SourceFile{{Source: "BOM", Path: source}}))

	notifier := cache.NewMemoryClient(0)
	defer notifier.Close()
	alerts, unsubscribe, err := notifier.Subscribe(ctx, "drift.alerts")
	require.NoError(t, err)
	defer unsubscribe()

	d := NewDriftRunner(nil, repos, notifier, DriftConfig{ArtifactPath: artifact})

	result, err := d.RunCheck(ctx)
	require.NoError(t, err)
	assert.True(t, result.Ready(), result.Problems)
	assert.Equal(t, 3, result.ArtifactChunks)
	assert.Empty(t, result.HashMismatches)
	assert.Nil(t, result.StaleRun)
	assert.Zero(t, result.TotalAlerts)

	writeFile(t, dir, "bom.csv", "v2")
	d.now = func() time.Time { return run.StartedAt.Add(90 * 24 * time.Hour) }

	result, err = d.RunCheck(ctx)
	require.NoError(t, err)
	assert.True(t, result.Ready())
	require.Len(t, result.HashMismatches, 1)
	assert.Equal(t, source, result.HashMismatches[0].Path)
	require.NotNil(t, result.StaleRun)
	assert.Equal(t, 2, result.TotalAlerts)

	select {
	case msg := <-alerts:
		var alert DriftCheckResult
		require.NoError(t, json.Unmarshal(msg, &alert))
		assert.Len(t, alert.HashMismatches, 1)
		assert.Equal(t, 2, alert.TotalAlerts)
		assert.Contains(t, string(msg), `"hash_mismatches"`)
	case <-time.After(time.Second):
		t.Fatal("no drift alert published")
	}
}

func TestDriftRunner_MissingSourceAndCountMismatch(t *testing.T) {
	ctx := context.Background()
	store, repos := newRepos(t)

	chunks := []chunking.Chunk{{ID: "Coating_8090_1", Source: "BOM", Content: "x", Metadata: map[string]string{}}}
	require.NoError(t, store.ReplaceRun(ctx, &storage.Run{}, chunks, vocab.Vocabulary{ProcessNames: []string{"coating"}}))

	artifact := filepath.Join(t.TempDir(), "chunks.json")
	require.NoError(t, storage.WriteJSONAtomic(artifact, append(chunks, chunks[0]), false))

	d := NewDriftRunner(nil, repos, nil, DriftConfig{ArtifactPath: artifact})
	result, err := d.RunCheck(ctx)
	require.NoError(t, err)
	assert.False(t, result.Ready())
	assert.Len(t, result.Problems, 3)
	assert.Contains(t, result.Problems, `no chunks from source "Route"`)
	assert.Contains(t, result.Problems, `no chunks from source "Quality"`)
}
