package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/monitoring"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/observability"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/storage"
)

// RunHandler serves run history, lineage and readiness checks.
type RunHandler struct {
	logger *observability.Logger
	repos  *storage.Repositories
	drift  *monitoring.DriftRunner
}

// NewRunHandler creates a new run handler.
func NewRunHandler(logger *observability.Logger, repos *storage.Repositories, drift *monitoring.DriftRunner) *RunHandler {
	return &RunHandler{
		logger: logger,
		repos:  repos,
		drift:  drift,
	}
}

// RunDTO is the API form of a run.
type RunDTO struct {
	ID           string         `json:"id"`
	Status       string         `json:"status"`
	StartedAt    string         `json:"startedAt"`
	FinishedAt   string         `json:"finishedAt,omitempty"`
	ChunkCount   int            `json:"chunkCount"`
	SourceCounts map[string]int `json:"sourceCounts"`
	TokenCounter string         `json:"tokenCounter"`
	TokenBudget  int            `json:"tokenBudget"`
	Error        string         `json:"error,omitempty"`
}

// LineageEventDTO represents a lineage event.
type LineageEventDTO struct {
	ID           string      `json:"id"`
	ResourceType string      `json:"resourceType"`
	ResourceID   string      `json:"resourceId"`
	Action       string      `json:"action"`
	OccurredAt   string      `json:"occurredAt"`
	Payload      interface{} `json:"payload,omitempty"`
}

// CheckDTO is the response of a readiness check.
type CheckDTO struct {
	Ready          bool                      `json:"ready"`
	CheckedAt      string                    `json:"checkedAt"`
	RunID          string                    `json:"runId,omitempty"`
	SourceCounts   map[string]int            `json:"sourceCounts,omitempty"`
	ArtifactChunks int                       `json:"artifactChunks"`
	Problems       []string                  `json:"problems"`
	StaleFor       string                    `json:"staleFor,omitempty"`
	Changed        []monitoring.HashMismatch `json:"changedSources,omitempty"`
	TotalAlerts    int                       `json:"totalAlerts"`
}

func toRunDTO(run *storage.Run) RunDTO {
	dto := RunDTO{
		ID:           run.ID.String(),
		Status:       string(run.Status),
		StartedAt:    run.StartedAt.Format(time.RFC3339),
		ChunkCount:   run.ChunkCount,
		SourceCounts: run.SourceCounts,
		TokenCounter: run.TokenCounter,
		TokenBudget:  run.TokenBudget,
		Error:        run.ErrorMessage,
	}
	if run.FinishedAt != nil {
		dto.FinishedAt = run.FinishedAt.Format(time.RFC3339)
	}
	return dto
}

// List handles GET /runs.
func (h *RunHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit", err.Error())
		return
	}

	runs, err := h.repos.Runs.List(r.Context(), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("Run listing failed")
		writeError(w, http.StatusInternalServerError, "run listing failed", err.Error())
		return
	}

	out := make([]RunDTO, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunDTO(run))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": out})
}

// Latest handles GET /runs/latest.
func (h *RunHandler) Latest(w http.ResponseWriter, r *http.Request) {
	run, err := h.repos.Runs.Latest(r.Context())
	if errors.Is(err, storage.ErrNoRun) {
		writeError(w, http.StatusNotFound, "no published run", "")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "run lookup failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toRunDTO(run))
}

// Get handles GET /runs/{runId}.
func (h *RunHandler) Get(w http.ResponseWriter, r *http.Request) {
	run, ok := h.pathRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toRunDTO(run))
}

// Lineage handles GET /runs/{runId}/lineage.
func (h *RunHandler) Lineage(w http.ResponseWriter, r *http.Request) {
	run, ok := h.pathRun(w, r)
	if !ok {
		return
	}

	resourceType := r.URL.Query().Get("resourceType")
	switch resourceType {
	case "", monitoring.ResourceRun, monitoring.ResourceSource, monitoring.ResourceStage:
	default:
		writeError(w, http.StatusBadRequest, "invalid resourceType",
			"Must be one of: run, source_file, stage")
		return
	}

	events, err := h.repos.Lineage.GetByRun(r.Context(), run.ID)
	if err != nil {
		h.logger.Error().Err(err).Str("run_id", run.ID.String()).Msg("Lineage query failed")
		writeError(w, http.StatusInternalServerError, "lineage query failed", err.Error())
		return
	}

	out := make([]LineageEventDTO, 0, len(events))
	for _, e := range events {
		if resourceType != "" && e.ResourceType != resourceType {
			continue
		}
		dto := LineageEventDTO{
			ID:           e.ID.String(),
			ResourceType: e.ResourceType,
			ResourceID:   e.ResourceID,
			Action:       string(e.Action),
			OccurredAt:   e.OccurredAt.Format(time.RFC3339),
		}
		if len(e.Payload) > 0 {
			dto.Payload = e.Payload
		}
		out = append(out, dto)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runId":  run.ID.String(),
		"events": out,
	})
}

// Check handles GET /check. It answers 503 when the published collection is
// not ready.
func (h *RunHandler) Check(w http.ResponseWriter, r *http.Request) {
	result, err := h.drift.RunCheck(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Readiness check failed")
		writeError(w, http.StatusInternalServerError, "check failed", err.Error())
		return
	}

	dto := CheckDTO{
		Ready:          result.Ready(),
		CheckedAt:      result.CheckedAt.Format(time.RFC3339),
		SourceCounts:   result.SourceCounts,
		ArtifactChunks: result.ArtifactChunks,
		Problems:       result.Problems,
		Changed:        result.HashMismatches,
		TotalAlerts:    result.TotalAlerts,
	}
	if dto.Problems == nil {
		dto.Problems = []string{}
	}
	if result.RunID != uuid.Nil {
		dto.RunID = result.RunID.String()
	}
	if result.StaleRun != nil {
		dto.StaleFor = result.StaleRun.Age.Round(time.Second).String()
	}

	status := http.StatusOK
	if !dto.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, dto)
}

func (h *RunHandler) pathRun(w http.ResponseWriter, r *http.Request) (*storage.Run, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "runId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid runId", err.Error())
		return nil, false
	}
	run, err := h.repos.Runs.GetByID(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found", id.String())
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "run lookup failed", err.Error())
		return nil, false
	}
	return run, true
}
