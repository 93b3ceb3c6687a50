package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/cache"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/chunking"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/observability"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/storage"
)

// ChunkHandler serves the chunks of the published run.
type ChunkHandler struct {
	logger *observability.Logger
	repos  *storage.Repositories
	cache  cache.Client
}

// NewChunkHandler creates a new chunk handler. cacheClient may be nil.
func NewChunkHandler(logger *observability.Logger, repos *storage.Repositories, cacheClient cache.Client) *ChunkHandler {
	return &ChunkHandler{
		logger: logger,
		repos:  repos,
		cache:  cacheClient,
	}
}

// ChunkDTO is the API form of a chunk.
type ChunkDTO struct {
	ChunkID  string            `json:"chunkId"`
	Stage    string            `json:"stage"`
	Article  string            `json:"article"`
	Source   string            `json:"source"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
}

// ChunkListDTO is the response of a chunk listing.
type ChunkListDTO struct {
	RunID  string     `json:"runId"`
	Total  int        `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
	Chunks []ChunkDTO `json:"chunks"`
}

func toChunkDTO(c chunking.Chunk) ChunkDTO {
	meta := c.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	return ChunkDTO{
		ChunkID:  c.ID,
		Stage:    c.Stage,
		Article:  c.Article,
		Source:   c.Source,
		Content:  c.Content,
		Metadata: meta,
	}
}

func toChunkDTOs(chunks []chunking.Chunk) []ChunkDTO {
	out := make([]ChunkDTO, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, toChunkDTO(c))
	}
	return out
}

// List handles GET /chunks.
func (h *ChunkHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Step 1: Parse filters
	q := r.URL.Query()
	filter := storage.ChunkFilter{
		Stage:   q.Get("stage"),
		Article: q.Get("article"),
		Source:  q.Get("source"),
	}
	var err error
	if filter.Limit, err = queryInt(r, "limit", 100); err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit", err.Error())
		return
	}
	if filter.Offset, err = queryInt(r, "offset", 0); err != nil {
		writeError(w, http.StatusBadRequest, "invalid offset", err.Error())
		return
	}

	run, status, err := resolveRun(ctx, h.repos.Runs, r)
	if err != nil {
		writeError(w, status, "run unavailable", err.Error())
		return
	}

	// Step 2: Cached response
	hint := storage.ListCacheHint(run.ID, filter)
	if h.cache != nil && hint.Cacheable {
		if body, err := h.cache.Get(ctx, hint.Key); err == nil {
			writeRaw(w, body, "HIT")
			return
		}
	}

	// Step 3: Query
	res, err := h.repos.ChunkView.Query(ctx, run.ID, filter)
	if err != nil {
		h.logger.Error().Err(err).Str("run_id", run.ID.String()).Msg("Chunk query failed")
		writeError(w, http.StatusInternalServerError, "chunk query failed", err.Error())
		return
	}

	body, err := json.Marshal(ChunkListDTO{
		RunID:  run.ID.String(),
		Total:  res.TotalCount,
		Limit:  filter.Limit,
		Offset: filter.Offset,
		Chunks: toChunkDTOs(res.Chunks),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encode failed", err.Error())
		return
	}

	if h.cache != nil && res.CacheHint.Cacheable {
		if err := h.cache.Set(ctx, res.CacheHint.Key, body, res.CacheHint.TTL); err != nil {
			h.logger.Warn().Err(err).Str("key", res.CacheHint.Key).Msg("Failed to cache chunk listing")
		}
	}
	writeRaw(w, body, "MISS")
}

// Get handles GET /chunks/{chunkId}.
func (h *ChunkHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	chunkID := chi.URLParam(r, "chunkId")

	run, status, err := resolveRun(ctx, h.repos.Runs, r)
	if err != nil {
		writeError(w, status, "run unavailable", err.Error())
		return
	}

	c, err := h.repos.Chunks.GetByChunkID(ctx, run.ID, chunkID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "chunk not found", chunkID)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "chunk lookup failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toChunkDTO(*c))
}

// Search handles GET /chunks/search?q=.
func (h *ChunkHandler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	keyword := r.URL.Query().Get("q")
	if keyword == "" {
		writeError(w, http.StatusBadRequest, "q is required", "")
		return
	}
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit", err.Error())
		return
	}

	run, status, err := resolveRun(ctx, h.repos.Runs, r)
	if err != nil {
		writeError(w, status, "run unavailable", err.Error())
		return
	}

	chunks, err := h.repos.ChunkView.SearchByKeyword(ctx, run.ID, keyword, limit)
	if err != nil {
		h.logger.Error().Err(err).Str("keyword", keyword).Msg("Chunk search failed")
		writeError(w, http.StatusInternalServerError, "chunk search failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ChunkListDTO{
		RunID:  run.ID.String(),
		Total:  len(chunks),
		Limit:  limit,
		Chunks: toChunkDTOs(chunks),
	})
}

// Stages handles GET /stages.
func (h *ChunkHandler) Stages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	run, status, err := resolveRun(ctx, h.repos.Runs, r)
	if err != nil {
		writeError(w, status, "run unavailable", err.Error())
		return
	}

	stages, err := h.repos.ChunkView.Stages(ctx, run.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stage query failed", err.Error())
		return
	}
	if stages == nil {
		stages = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runId":  run.ID.String(),
		"stages": stages,
	})
}
