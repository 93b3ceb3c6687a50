package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/cache"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/observability"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/storage"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/vocab"
)

// VocabularyHandler serves the stage vocabulary of the published run.
type VocabularyHandler struct {
	logger *observability.Logger
	repos  *storage.Repositories
	cache  cache.Client
	ttl    time.Duration
}

// NewVocabularyHandler creates a new vocabulary handler. cacheClient may be
// nil.
func NewVocabularyHandler(logger *observability.Logger, repos *storage.Repositories, cacheClient cache.Client, ttl time.Duration) *VocabularyHandler {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &VocabularyHandler{
		logger: logger,
		repos:  repos,
		cache:  cacheClient,
		ttl:    ttl,
	}
}

// MatchDTO lists the process names and parameters found in a text.
type MatchDTO struct {
	RunID      string              `json:"runId"`
	Stages     []string            `json:"stages"`
	Parameters map[string][]string `json:"parameters"`
}

// Get handles GET /vocabulary. It answers YAML when the client asks for it.
func (h *VocabularyHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	run, status, err := resolveRun(ctx, h.repos.Runs, r)
	if err != nil {
		writeError(w, status, "run unavailable", err.Error())
		return
	}

	v, err := h.load(r, run)
	if err != nil {
		h.writeLoadError(w, err)
		return
	}

	if r.Header.Get("Accept") == "application/yaml" || r.URL.Query().Get("format") == "yaml" {
		data, err := v.YAML()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "encode failed", err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// Match handles GET /vocabulary/match?text=.
func (h *VocabularyHandler) Match(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	text := r.URL.Query().Get("text")
	if text == "" {
		writeError(w, http.StatusBadRequest, "text is required", "")
		return
	}

	run, status, err := resolveRun(ctx, h.repos.Runs, r)
	if err != nil {
		writeError(w, status, "run unavailable", err.Error())
		return
	}

	v, err := h.load(r, run)
	if err != nil {
		h.writeLoadError(w, err)
		return
	}

	resp := MatchDTO{
		RunID:      run.ID.String(),
		Stages:     v.MatchStages(text),
		Parameters: make(map[string][]string),
	}
	if resp.Stages == nil {
		resp.Stages = []string{}
	}
	for _, stage := range resp.Stages {
		if params := v.MatchParameters(stage, text); len(params) > 0 {
			resp.Parameters[stage] = params
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// load reads the vocabulary of run through the cache.
func (h *VocabularyHandler) load(r *http.Request, run *storage.Run) (vocab.Vocabulary, error) {
	ctx := r.Context()
	key := cache.VocabularyCacheKey(run.ID.String())

	if h.cache != nil {
		if data, err := h.cache.Get(ctx, key); err == nil {
			var v vocab.Vocabulary
			if err := json.Unmarshal(data, &v); err == nil {
				return v, nil
			}
		}
	}

	v, err := h.repos.Vocabulary.Get(ctx, run.ID)
	if err != nil {
		return vocab.Vocabulary{}, err
	}

	if h.cache != nil {
		if data, err := json.Marshal(v); err == nil {
			if err := h.cache.Set(ctx, key, data, h.ttl); err != nil {
				h.logger.Warn().Err(err).Str("key", key).Msg("Failed to cache vocabulary")
			}
		}
	}
	return v, nil
}

func (h *VocabularyHandler) writeLoadError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "vocabulary not found", "")
		return
	}
	h.logger.Error().Err(err).Msg("Vocabulary lookup failed")
	writeError(w, http.StatusInternalServerError, "vocabulary lookup failed", err.Error())
}
