package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/chunking"
)

// ChunkViewRepository serves filtered chunk listings with cache hints.
type ChunkViewRepository struct {
	db DB
}

// NewChunkViewRepository creates a new chunk view repository.
func NewChunkViewRepository(db DB) *ChunkViewRepository {
	return &ChunkViewRepository{db: db}
}

// ChunkViewResult contains the query result with cache hints.
type ChunkViewResult struct {
	Chunks     []chunking.Chunk
	TotalCount int
	CacheHint  CacheHint
	ComputedAt time.Time
}

// CacheHint provides caching guidance for the result.
type CacheHint struct {
	Cacheable bool
	TTL       time.Duration
	// Key is unique per run and filter.
	Key string
}

// Query lists the chunks of a run in output order.
func (r *ChunkViewRepository) Query(ctx context.Context, runID uuid.UUID, f ChunkFilter) (*ChunkViewResult, error) {
	where := " WHERE run_id = $1"
	args := []interface{}{runID}
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		where += fmt.Sprintf(" AND %s = $%d", column, len(args))
	}
	add("stage", f.Stage)
	add("article", f.Article)
	add("source", f.Source)

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks"+where, args...).Scan(&total); err != nil {
		return nil, err
	}

	limit := listLimit(f)
	query := `SELECT chunk_id, stage, article, source, content, metadata, part, is_split FROM chunks` +
		where + " ORDER BY position"
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []chunking.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &ChunkViewResult{
		Chunks:     chunks,
		TotalCount: total,
		CacheHint:  ListCacheHint(runID, f),
		ComputedAt: time.Now(),
	}, nil
}

// SearchByKeyword finds chunks of a run whose content mentions keyword.
func (r *ChunkViewRepository) SearchByKeyword(ctx context.Context, runID uuid.UUID, keyword string, limit int) ([]chunking.Chunk, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT chunk_id, stage, article, source, content, metadata, part, is_split
		FROM chunks
		WHERE run_id = $1 AND UPPER(content) LIKE '%' || UPPER($2) || '%'
		ORDER BY position
		LIMIT $3
	`
	rows, err := r.db.QueryContext(ctx, query, runID, keyword, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []chunking.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, *c)
	}
	return chunks, rows.Err()
}

// Stages returns the distinct stages of a run.
func (r *ChunkViewRepository) Stages(ctx context.Context, runID uuid.UUID) ([]string, error) {
	query := `SELECT DISTINCT stage FROM chunks WHERE run_id = $1 ORDER BY stage`
	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stages []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		stages = append(stages, s)
	}
	return stages, rows.Err()
}

func listLimit(f ChunkFilter) int {
	if f.Limit <= 0 {
		return 100
	}
	return f.Limit
}

// ListCacheHint returns the caching guidance for a Query with f, so callers
// can look a response up before querying.
func ListCacheHint(runID uuid.UUID, f ChunkFilter) CacheHint {
	limit := listLimit(f)
	parts := []string{"run", runID.String(), "chunks", "list"}
	for _, kv := range [][2]string{{"stage", f.Stage}, {"article", f.Article}, {"source", f.Source}} {
		if kv[1] != "" {
			parts = append(parts, kv[0]+"="+kv[1])
		}
	}
	parts = append(parts, fmt.Sprintf("limit=%d", limit), fmt.Sprintf("offset=%d", f.Offset))

	// Runs are immutable once published; narrower queries expire sooner.
	ttl := 10 * time.Minute
	if f.Stage != "" || f.Article != "" {
		ttl = 5 * time.Minute
	}
	return CacheHint{Cacheable: true, TTL: ttl, Key: strings.Join(parts, ":")}
}
