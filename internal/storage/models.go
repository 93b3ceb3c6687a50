// Package storage persists pipeline runs, chunks, vocabulary and lineage.
package storage

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the lifecycle of a pipeline run.
type RunStatus string

const (
	RunStatusPublished  RunStatus = "published"
	RunStatusSuperseded RunStatus = "superseded"
	RunStatusFailed     RunStatus = "failed"
)

// LineageAction represents audit trail actions.
type LineageAction string

const (
	LineageActionLoaded    LineageAction = "loaded"
	LineageActionGrouped   LineageAction = "grouped"
	LineageActionDropped   LineageAction = "dropped"
	LineageActionPublished LineageAction = "published"
	LineageActionFailed    LineageAction = "failed"
)

// Run is one execution of the pipeline.
type Run struct {
	ID            uuid.UUID      `json:"id" db:"id"`
	Status        RunStatus      `json:"status" db:"status"`
	StartedAt     time.Time      `json:"started_at" db:"started_at"`
	FinishedAt    *time.Time     `json:"finished_at,omitempty" db:"finished_at"`
	ChunkCount    int            `json:"chunk_count" db:"chunk_count"`
	SourceCounts  map[string]int `json:"source_counts" db:"source_counts"`
	TokenCounter  string         `json:"token_counter" db:"token_counter"`
	TokenBudget   int            `json:"token_budget" db:"token_budget"`
	ArtifactPath  string         `json:"artifact_path,omitempty" db:"artifact_path"`
	ErrorMessage  string         `json:"error,omitempty" db:"error_message"`
}

// ChunkFilter narrows chunk listings. Empty fields match everything.
type ChunkFilter struct {
	Stage   string
	Article string
	Source  string
	Limit   int
	Offset  int
}

// LineageEvent records where a run's data came from and what happened to it.
type LineageEvent struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	RunID        uuid.UUID       `json:"run_id" db:"run_id"`
	ResourceType string          `json:"resource_type" db:"resource_type"`
	ResourceID   string          `json:"resource_id" db:"resource_id"`
	Action       LineageAction   `json:"action" db:"action"`
	Payload      json.RawMessage `json:"payload,omitempty" db:"payload"`
	OccurredAt   time.Time       `json:"occurred_at" db:"occurred_at"`
}

// chunkNamespace seeds deterministic row IDs for chunks.
var chunkNamespace = uuid.MustParse("6f1c3f5e-2d7a-4a7e-9a57-3c1f0b9e8d21")

// ChunkRowID derives a stable row ID from the run and chunk identifier.
func ChunkRowID(runID uuid.UUID, chunkID string) uuid.UUID {
	return uuid.NewSHA1(chunkNamespace, []byte(runID.String()+"/"+chunkID))
}
