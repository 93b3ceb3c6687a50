package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/mill-knowledge/cmd/mill-knowledge-api/handlers"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/cache"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/chunking"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/config"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/ingest"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/monitoring"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/observability"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/storage"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/vocab"
)

type testServer struct {
	handler http.Handler
	store   *storage.Store
	cache   *cache.MemoryClient
	run     *storage.Run
}

func newTestServer(t *testing.T, publish bool) *testServer {
	t.Helper()
	ctx := context.Background()

	db, err := storage.Open(config.DatabaseConfig{
		Driver: storage.DriverSQLite,
		SQLite: config.SQLiteConfig{Path: ":memory:", MaxOpenConns: 1},
	})
	require.NoError(t, err)
	store := storage.NewStore(db, storage.DriverSQLite)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(ctx))

	mem := cache.NewMemoryClient(0)
	t.Cleanup(func() { mem.Close() })

	ts := &testServer{store: store, cache: mem}
	if publish {
		ts.run = &storage.Run{
			ID:           uuid.New(),
			StartedAt:    time.Now().UTC(),
			SourceCounts: map[string]int{"Route": 1, "BOM": 2, "Quality": 1},
			TokenCounter: "cl100k_base",
			TokenBudget:  512,
		}
		require.NoError(t, store.ReplaceRun(ctx, ts.run, testChunks(), vocab.Vocabulary{
			ProcessNames:      []string{"coating", "weft"},
			ProcessParameters: map[string][]string{"coating": {"type of coating"}, "weft": {"count"}},
		}))
		require.NoError(t, store.Lineage.Create(ctx, &storage.LineageEvent{
			RunID:        ts.run.ID,
			ResourceType: monitoring.ResourceSource,
			ResourceID:   "bom.xlsx",
			Action:       storage.LineageActionLoaded,
		}))
		require.NoError(t, store.Lineage.Create(ctx, &storage.LineageEvent{
			RunID:        ts.run.ID,
			ResourceType: monitoring.ResourceRun,
			ResourceID:   ts.run.ID.String(),
			Action:       storage.LineageActionPublished,
		}))
	}

	ts.handler = NewRouter(observability.NopLogger(), Dependencies{Store: store, Cache: mem}, DefaultAppConfig())
	return ts
}

func testChunks() []chunking.Chunk {
	return []chunking.Chunk{
		{
			ID: "Route_8090_R1", Stage: "Route", Article: "8090", Source: "Route",
			Content:  "Article 8090 belongs to Route stage. It follows route R1.",
			Metadata: map[string]string{"stage": "Route", "article": "8090"},
		},
		{
			ID: "Coating_8090_1", Stage: "Coating", Article: "8090", Source: "BOM",
			Content:  "In the Coating process of article 8090, Type of Coating is Acrylic.",
			Metadata: map[string]string{"stage": "Coating", "article": "8090", "Type of Coating": "Acrylic"},
		},
		{
			ID: "Weft_8228_1", Stage: "Weft", Article: "8228", Source: "BOM",
			Content:  "In the Weft process of article 8228, Count is 20s.",
			Metadata: map[string]string{"stage": "Weft", "article": "8228"},
		},
		{
			ID: "Quality_Weaving_8228_1", Stage: "Testing After Weaving", Article: "8228", Source: "Quality",
			Content:  "Article 8228 belongs to Testing After Weaving stage.",
			Metadata: map[string]string{"stage": "Testing After Weaving", "article": "8228"},
		},
	}
}

func (ts *testServer) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestRouter_Health(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.get(t, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")

	rec = ts.get(t, "/ready")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ready"`)
}

func TestRouter_Chunks(t *testing.T) {
	ts := newTestServer(t, true)

	t.Run("list in output order", func(t *testing.T) {
		rec := ts.get(t, "/api/v1/chunks")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))

		var body handlers.ChunkListDTO
		decode(t, rec, &body)
		assert.Equal(t, ts.run.ID.String(), body.RunID)
		assert.Equal(t, 4, body.Total)
		require.Len(t, body.Chunks, 4)
		assert.Equal(t, "Route_8090_R1", body.Chunks[0].ChunkID)
		assert.Equal(t, "Route", body.Chunks[0].Source)

		rec = ts.get(t, "/api/v1/chunks")
		assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))
	})

	t.Run("filters", func(t *testing.T) {
		tests := []struct {
			query string
			want  []string
		}{
			{"?stage=Coating", []string{"Coating_8090_1"}},
			{"?article=8228", []string{"Weft_8228_1", "Quality_Weaving_8228_1"}},
			{"?source=BOM", []string{"Coating_8090_1", "Weft_8228_1"}},
			{"?limit=2&offset=1", []string{"Coating_8090_1", "Weft_8228_1"}},
		}
		for _, tt := range tests {
			t.Run(tt.query, func(t *testing.T) {
				rec := ts.get(t, "/api/v1/chunks"+tt.query)
				require.Equal(t, http.StatusOK, rec.Code)
				var body handlers.ChunkListDTO
				decode(t, rec, &body)
				var ids []string
				for _, c := range body.Chunks {
					ids = append(ids, c.ChunkID)
				}
				assert.Equal(t, tt.want, ids)
			})
		}
	})

	t.Run("bad limit", func(t *testing.T) {
		rec := ts.get(t, "/api/v1/chunks?limit=-1")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("single chunk", func(t *testing.T) {
		rec := ts.get(t, "/api/v1/chunks/Coating_8090_1")
		require.Equal(t, http.StatusOK, rec.Code)
		var c handlers.ChunkDTO
		decode(t, rec, &c)
		assert.Equal(t, "Acrylic", c.Metadata["Type of Coating"])

		rec = ts.get(t, "/api/v1/chunks/Nope_1")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("search", func(t *testing.T) {
		rec := ts.get(t, "/api/v1/chunks/search?q=acrylic")
		require.Equal(t, http.StatusOK, rec.Code)
		var body handlers.ChunkListDTO
		decode(t, rec, &body)
		require.Len(t, body.Chunks, 1)
		assert.Equal(t, "Coating_8090_1", body.Chunks[0].ChunkID)

		rec = ts.get(t, "/api/v1/chunks/search")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("stages", func(t *testing.T) {
		rec := ts.get(t, "/api/v1/stages")
		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Stages []string `json:"stages"`
		}
		decode(t, rec, &body)
		assert.Equal(t, []string{"Coating", "Route", "Testing After Weaving", "Weft"}, body.Stages)
	})
}

func TestRouter_NoPublishedRun(t *testing.T) {
	ts := newTestServer(t, false)

	for _, path := range []string{"/api/v1/chunks", "/api/v1/vocabulary", "/api/v1/runs/latest"} {
		t.Run(path, func(t *testing.T) {
			rec := ts.get(t, path)
			assert.Equal(t, http.StatusNotFound, rec.Code)
		})
	}

	rec := ts.get(t, "/api/v1/check")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var check handlers.CheckDTO
	decode(t, rec, &check)
	assert.False(t, check.Ready)
	assert.Contains(t, check.Problems, "no published run")
}

func TestRouter_Vocabulary(t *testing.T) {
	ts := newTestServer(t, true)

	rec := ts.get(t, "/api/v1/vocabulary")
	require.Equal(t, http.StatusOK, rec.Code)
	var v vocab.Vocabulary
	decode(t, rec, &v)
	assert.Equal(t, []string{"coating", "weft"}, v.ProcessNames)

	_, err := ts.cache.Get(context.Background(), cache.VocabularyCacheKey(ts.run.ID.String()))
	assert.NoError(t, err)

	rec = ts.get(t, "/api/v1/vocabulary?format=yaml")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/yaml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "process_names:")

	rec = ts.get(t, "/api/v1/vocabulary/match?text=What+is+the+count+used+in+weft")
	require.Equal(t, http.StatusOK, rec.Code)
	var match handlers.MatchDTO
	decode(t, rec, &match)
	assert.Equal(t, []string{"weft"}, match.Stages)
	assert.Equal(t, []string{"count"}, match.Parameters["weft"])
}

func TestRouter_Runs(t *testing.T) {
	ts := newTestServer(t, true)
	id := ts.run.ID.String()

	rec := ts.get(t, "/api/v1/runs/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	var run handlers.RunDTO
	decode(t, rec, &run)
	assert.Equal(t, id, run.ID)
	assert.Equal(t, "published", run.Status)
	assert.Equal(t, 4, run.ChunkCount)

	rec = ts.get(t, "/api/v1/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), id)

	rec = ts.get(t, "/api/v1/runs/not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.get(t, "/api/v1/runs/"+uuid.NewString())
	assert.Equal(t, http.StatusNotFound, rec.Code)

	t.Run("lineage", func(t *testing.T) {
		rec := ts.get(t, "/api/v1/runs/"+id+"/lineage")
		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Events []handlers.LineageEventDTO `json:"events"`
		}
		decode(t, rec, &body)
		assert.Len(t, body.Events, 2)

		rec = ts.get(t, "/api/v1/runs/"+id+"/lineage?resourceType=source_file")
		require.Equal(t, http.StatusOK, rec.Code)
		decode(t, rec, &body)
		require.Len(t, body.Events, 1)
		assert.Equal(t, "bom.xlsx", body.Events[0].ResourceID)

		rec = ts.get(t, "/api/v1/runs/"+id+"/lineage?resourceType=chunk")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("check", func(t *testing.T) {
		rec := ts.get(t, "/api/v1/check")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var check handlers.CheckDTO
		decode(t, rec, &check)
		assert.True(t, check.Ready)
		assert.Equal(t, id, check.RunID)
		assert.Equal(t, 2, check.SourceCounts["BOM"])
	})
}

func TestRouter_Decode(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.get(t, "/api/v1/decode/yarn/X01234ABCD123456Z12")
	require.Equal(t, http.StatusOK, rec.Code)
	var yarn handlers.YarnDTO
	decode(t, rec, &yarn)
	assert.Equal(t, "Twisted", yarn.Type)
	assert.Equal(t, "1234", yarn.Denier)

	rec = ts.get(t, "/api/v1/decode/yarn/SHORT")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = ts.get(t, "/api/v1/decode/fibre/N")
	require.Equal(t, http.StatusOK, rec.Code)
	var res handlers.ResolutionDTO
	decode(t, rec, &res)
	assert.True(t, res.Matched)
	assert.Equal(t, "Nylon 66", res.Label)

	rec = ts.get(t, "/api/v1/decode/colour/N")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.get(t, "/api/v1/decode")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"fibre"`)
}

func TestRouter_CORS(t *testing.T) {
	ts := newTestServer(t, false)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/chunks", nil)
	req.Header.Set("Origin", "https://mill.example")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://mill.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestWatchRuns(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mem := cache.NewMemoryClient(0)
	defer mem.Close()

	oldKey := cache.RunPrefix("old-run") + "chunks:list"
	newKey := cache.RunPrefix("new-run") + "chunks:list"
	require.NoError(t, mem.Set(ctx, oldKey, []byte("x"), time.Minute))
	require.NoError(t, mem.Set(ctx, newKey, []byte("y"), time.Minute))

	done := make(chan error, 1)
	go func() { done <- watchRuns(ctx, observability.NopLogger(), mem, mem) }()

	// Publish until the subscriber has registered and acted.
	require.Eventually(t, func() bool {
		_ = mem.Publish(ctx, cache.RunsChannel, ingest.RunPublishedEvent{RunID: "new-run", PreviousRun: "old-run"})
		_, err := mem.Get(ctx, oldKey)
		return errors.Is(err, cache.ErrCacheMiss)
	}, time.Second, 10*time.Millisecond)

	_, err := mem.Get(ctx, newKey)
	assert.NoError(t, err)

	cancel()
	assert.NoError(t, <-done)
}
