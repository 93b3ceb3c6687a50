package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
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

func newPublishStore(t *testing.T) *storage.Store {
	t.Helper()
	s, _ := newPublishStoreDB(t)
	return s
}

func newPublishStoreDB(t *testing.T) (*storage.Store, *sql.DB) {
	t.Helper()
	db, err := storage.Open(config.DatabaseConfig{
		Driver: storage.DriverSQLite,
		SQLite: config.SQLiteConfig{Path: ":memory:", MaxOpenConns: 1},
	})
	require.NoError(t, err)
	s := storage.NewStore(db, storage.DriverSQLite)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s, db
}

func publishResult(startedAt time.Time, articles ...string) *Result {
	r := &Result{
		RunID:        uuid.New(),
		StartedAt:    startedAt,
		SourceCounts: map[string]int{SourceBOM: len(articles)},
		Vocabulary:   vocab.Vocabulary{ProcessNames: []string{"coating"}},
	}
	for _, a := range articles {
		r.Chunks = append(r.Chunks, chunking.Chunk{
			ID:       "Coating_" + a + "_1",
			Stage:    "Coating",
			Article:  a,
			Source:   SourceBOM,
			Content:  "In the Coating process of article " + a + ", Type of Coating is Acrylic.",
			Metadata: map[string]string{"article": a, "stage": "Coating"},
		})
	}
	return r
}

func TestPublisher_Publish(t *testing.T) {
	ctx := context.Background()
	store := newPublishStore(t)
	mem := cache.NewMemoryClient(0)
	defer mem.Close()

	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "chunks.json")
	vocabPath := filepath.Join(dir, "vocabulary.yaml")
	p := NewPublisher(nil, store, mem, mem, nil, PublishConfig{
		JSONPath:     jsonPath,
		VocabPath:    vocabPath,
		TokenCounter: "cl100k_base",
		TokenBudget:  512,
	})

	events, unsubscribe, err := mem.Subscribe(ctx, cache.RunsChannel)
	require.NoError(t, err)
	defer unsubscribe()

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	first := publishResult(base, "8090", "8228")
	run, err := p.Publish(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, storage.RunStatusPublished, run.Status)
	assert.Equal(t, 2, run.ChunkCount)

	written, err := storage.ReadJSONArtifact(jsonPath)
	require.NoError(t, err)
	assert.Len(t, written, 2)
	data, err := os.ReadFile(vocabPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "coating")

	var event RunPublishedEvent
	require.NoError(t, json.Unmarshal(<-events, &event))
	assert.Equal(t, first.RunID.String(), event.RunID)
	assert.Empty(t, event.PreviousRun)

	t.Run("second run replaces the first", func(t *testing.T) {
		stale := cache.RunPrefix(first.RunID.String()) + "chunks"
		require.NoError(t, mem.Set(ctx, stale, []byte("x"), time.Minute))

		second := publishResult(base.Add(time.Hour), "9100")
		_, err := p.Publish(ctx, second)
		require.NoError(t, err)

		latest, err := store.Runs.Latest(ctx)
		require.NoError(t, err)
		assert.Equal(t, second.RunID, latest.ID)

		old, err := store.Runs.GetByID(ctx, first.RunID)
		require.NoError(t, err)
		assert.Equal(t, storage.RunStatusSuperseded, old.Status)

		_, err = mem.Get(ctx, stale)
		assert.ErrorIs(t, err, cache.ErrCacheMiss)

		var ev RunPublishedEvent
		require.NoError(t, json.Unmarshal(<-events, &ev))
		assert.Equal(t, first.RunID.String(), ev.PreviousRun)
		assert.Equal(t, 1, ev.ChunkCount)

		written, err := storage.ReadJSONArtifact(jsonPath)
		require.NoError(t, err)
		require.Len(t, written, 1)
		assert.Equal(t, "Coating_9100_1", written[0].ID)
	})

	t.Run("empty run is refused", func(t *testing.T) {
		_, err := p.Publish(ctx, publishResult(base.Add(2*time.Hour)))
		assert.ErrorIs(t, err, ErrEmptyRun)

		written, err := storage.ReadJSONArtifact(jsonPath)
		require.NoError(t, err)
		assert.Len(t, written, 1)
	})
}

func TestPublisher_FailedSwapKeepsArtifacts(t *testing.T) {
	ctx := context.Background()
	store, db := newPublishStoreDB(t)

	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "chunks.json")
	vocabPath := filepath.Join(dir, "vocabulary.yaml")
	p := NewPublisher(nil, store, nil, nil, nil, PublishConfig{JSONPath: jsonPath, VocabPath: vocabPath})

	first := publishResult(time.Now().Add(-time.Hour), "8090")
	_, err := p.Publish(ctx, first)
	require.NoError(t, err)
	vocabBefore, err := os.ReadFile(vocabPath)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, "DROP TABLE chunks")
	require.NoError(t, err)

	second := publishResult(time.Now(), "9999")
	second.Vocabulary = vocab.Vocabulary{ProcessNames: []string{"weaving"}}
	_, err = p.Publish(ctx, second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replace run")

	latest, err := store.Runs.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.RunID, latest.ID)

	failed, err := store.Runs.GetByID(ctx, second.RunID)
	require.NoError(t, err)
	assert.Equal(t, storage.RunStatusFailed, failed.Status)

	written, err := storage.ReadJSONArtifact(jsonPath)
	require.NoError(t, err)
	require.Len(t, written, 1)
	assert.Equal(t, "8090", written[0].Article)

	vocabAfter, err := os.ReadFile(vocabPath)
	require.NoError(t, err)
	assert.Equal(t, vocabBefore, vocabAfter)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "staged temp files are removed")
}

func TestPublisher_Fail(t *testing.T) {
	ctx := context.Background()
	store := newPublishStore(t)
	p := NewPublisher(nil, store, nil, nil, nil, PublishConfig{})

	published := publishResult(time.Now().Add(-time.Hour), "8090")
	_, err := p.Publish(ctx, published)
	require.NoError(t, err)

	runID := uuid.New()
	cause := errors.New("sheet BOM: column \"col_10\": required column missing")
	err = p.Fail(ctx, runID, time.Now(), cause)
	assert.Equal(t, cause, err)

	failed, err := store.Runs.GetByID(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, storage.RunStatusFailed, failed.Status)
	assert.Contains(t, failed.ErrorMessage, "required column missing")

	latest, err := store.Runs.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, published.RunID, latest.ID)
}

func TestPublisher_WithoutStore(t *testing.T) {
	ctx := context.Background()

	t.Run("nowhere to publish", func(t *testing.T) {
		_, err := NewPublisher(nil, nil, nil, nil, nil, PublishConfig{}).Publish(ctx, publishResult(time.Now(), "8090"))
		assert.ErrorIs(t, err, ErrNoStore)
	})

	t.Run("artifact only", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "out", "chunks.json")
		p := NewPublisher(nil, nil, nil, nil, nil, PublishConfig{JSONPath: path, PrettyJSON: true})
		run, err := p.Publish(ctx, publishResult(time.Now(), "8090"))
		require.NoError(t, err)
		assert.Equal(t, storage.RunStatusPublished, run.Status)
		require.NotNil(t, run.FinishedAt)

		written, err := storage.ReadJSONArtifact(path)
		require.NoError(t, err)
		assert.Len(t, written, 1)
	})
}
