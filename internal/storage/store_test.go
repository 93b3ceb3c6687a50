package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/chunking"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/config"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/vocab"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(config.DatabaseConfig{
		Driver: DriverSQLite,
		SQLite: config.SQLiteConfig{Path: ":memory:", MaxOpenConns: 1},
	})
	require.NoError(t, err)
	s := NewStore(db, DriverSQLite)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func sampleChunks() []chunking.Chunk {
	return []chunking.Chunk{
		{
			ID: "Coating_8090_1", Stage: "Coating", Article: "8090", Source: "bom",
			Content:  "In the Coating process of article 8090, Type of Coating is Acrylic.",
			Metadata: map[string]string{"stage": "Coating", "article": "8090", "Type of Coating": "Acrylic"},
		},
		{
			ID: "Route_8090_part1", Stage: "Route", Article: "8090", Source: "route", Part: 1, IsSplit: true,
			Content:  "Article 8090 belongs to Route stage.",
			Metadata: map[string]string{"stage": "Route", "chunk_part": "1", "is_split_chunk": "true"},
		},
		{
			ID: "Weft_8228_1", Stage: "Weft", Article: "8228", Source: "bom",
			Content:  "In the Weft process of article 8228, Count is 20s.",
			Metadata: map[string]string{"stage": "Weft", "article": "8228"},
		},
	}
}

func sampleVocabulary() vocab.Vocabulary {
	return vocab.Vocabulary{
		ProcessNames:      []string{"coating", "weft"},
		ProcessParameters: map[string][]string{"coating": {"type of coating"}, "weft": {"count"}},
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.Ping(context.Background()))
}

func TestStore_ReplaceRun(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Runs.Latest(ctx)
	assert.ErrorIs(t, err, ErrNoRun)

	first := &Run{SourceCounts: map[string]int{"bom": 2, "route": 1}, TokenCounter: "cl100k_base", TokenBudget: 550}
	require.NoError(t, s.ReplaceRun(ctx, first, sampleChunks(), sampleVocabulary()))

	latest, err := s.Runs.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, latest.ID)
	assert.Equal(t, RunStatusPublished, latest.Status)
	assert.Equal(t, 3, latest.ChunkCount)
	assert.Equal(t, map[string]int{"bom": 2, "route": 1}, latest.SourceCounts)
	require.NotNil(t, latest.FinishedAt)

	got, err := s.Chunks.GetByChunkID(ctx, first.ID, "Route_8090_part1")
	require.NoError(t, err)
	assert.Equal(t, sampleChunks()[1], *got)

	counts, err := s.Chunks.CountBySource(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"bom": 2, "route": 1}, counts)

	v, err := s.Vocabulary.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, sampleVocabulary(), v)

	second := &Run{StartedAt: first.StartedAt.Add(time.Second)}
	require.NoError(t, s.ReplaceRun(ctx, second, sampleChunks()[:1], sampleVocabulary()))

	latest, err = s.Runs.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	old, err := s.Runs.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusSuperseded, old.Status)

	_, err = s.Chunks.GetByChunkID(ctx, first.ID, "Coating_8090_1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Vocabulary.Get(ctx, first.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ReplaceRunRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first := &Run{}
	require.NoError(t, s.ReplaceRun(ctx, first, sampleChunks(), sampleVocabulary()))

	dup := sampleChunks()
	dup = append(dup, dup[0])
	err := s.ReplaceRun(ctx, &Run{StartedAt: first.StartedAt.Add(time.Second)}, dup, sampleVocabulary())
	require.Error(t, err)

	latest, err := s.Runs.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, latest.ID)

	counts, err := s.Chunks.CountBySource(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, counts["bom"])
}

func TestStore_RecordFailure(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	run := &Run{}
	require.NoError(t, s.RecordFailure(ctx, run, errors.New("missing column")))

	got, err := s.Runs.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, got.Status)
	assert.Equal(t, "missing column", got.ErrorMessage)

	_, err = s.Runs.Latest(ctx)
	assert.ErrorIs(t, err, ErrNoRun)

	runs, err := s.Runs.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestChunkView_Query(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	run := &Run{}
	require.NoError(t, s.ReplaceRun(ctx, run, sampleChunks(), sampleVocabulary()))

	tests := []struct {
		name    string
		filter  ChunkFilter
		wantIDs []string
		total   int
	}{
		{"all in order", ChunkFilter{}, []string{"Coating_8090_1", "Route_8090_part1", "Weft_8228_1"}, 3},
		{"by article", ChunkFilter{Article: "8090"}, []string{"Coating_8090_1", "Route_8090_part1"}, 2},
		{"by stage and source", ChunkFilter{Stage: "Weft", Source: "bom"}, []string{"Weft_8228_1"}, 1},
		{"paged", ChunkFilter{Limit: 1, Offset: 1}, []string{"Route_8090_part1"}, 3},
		{"no match", ChunkFilter{Stage: "Printing"}, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := s.ChunkView.Query(ctx, run.ID, tt.filter)
			require.NoError(t, err)
			var ids []string
			for _, c := range res.Chunks {
				ids = append(ids, c.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
			assert.Equal(t, tt.total, res.TotalCount)
			assert.True(t, res.CacheHint.Cacheable)
			assert.Contains(t, res.CacheHint.Key, run.ID.String())
		})
	}
}

func TestChunkView_SearchAndStages(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	run := &Run{}
	require.NoError(t, s.ReplaceRun(ctx, run, sampleChunks(), sampleVocabulary()))

	found, err := s.ChunkView.SearchByKeyword(ctx, run.ID, "acrylic", 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Coating_8090_1", found[0].ID)

	stages, err := s.ChunkView.Stages(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Coating", "Route", "Weft"}, stages)
}

func TestLineageRepository(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	runID := uuid.New()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, s.Lineage.BatchCreate(ctx, []*LineageEvent{
		{RunID: runID, ResourceType: "source", ResourceID: "bom.xlsx", Action: LineageActionLoaded,
			Payload: json.RawMessage(`{"rows":12}`), OccurredAt: base},
		{RunID: runID, ResourceType: "run", ResourceID: runID.String(), Action: LineageActionPublished,
			OccurredAt: base.Add(time.Minute)},
	}))

	events, err := s.Lineage.GetByRun(ctx, runID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, LineageActionLoaded, events[0].Action)
	assert.JSONEq(t, `{"rows":12}`, string(events[0].Payload))
	assert.Equal(t, LineageActionPublished, events[1].Action)
	assert.JSONEq(t, `{}`, string(events[1].Payload))
}

func TestChunkRowID_Deterministic(t *testing.T) {
	run := uuid.New()
	assert.Equal(t, ChunkRowID(run, "A"), ChunkRowID(run, "A"))
	assert.NotEqual(t, ChunkRowID(run, "A"), ChunkRowID(run, "B"))
	assert.NotEqual(t, ChunkRowID(run, "A"), ChunkRowID(uuid.New(), "A"))
}

func TestWriteJSONAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "chunks.json")

	require.NoError(t, WriteJSONAtomic(path, sampleChunks(), true))
	back, err := ReadJSONArtifact(path)
	require.NoError(t, err)
	require.Len(t, back, 3)
	assert.Equal(t, "Coating_8090_1", back[0].ID)
	assert.Empty(t, back[1].Source)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"chunk_id": "Coating_8090_1"`)

	require.NoError(t, WriteJSONAtomic(path, nil, false))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStageFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vocabulary.yaml")
	require.NoError(t, WriteFileAtomic(path, []byte("old")))

	t.Run("discard leaves the destination", func(t *testing.T) {
		staged, err := StageFile(path, []byte("new"))
		require.NoError(t, err)
		assert.Equal(t, path, staged.Path())
		staged.Discard()

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "old", string(data))
	})

	t.Run("commit replaces the destination", func(t *testing.T) {
		staged, err := StageFile(path, []byte("new"))
		require.NoError(t, err)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "old", string(data))

		require.NoError(t, staged.Commit())
		data, err = os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "new", string(data))
	})

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "mysql"})
	assert.Error(t, err)
}
