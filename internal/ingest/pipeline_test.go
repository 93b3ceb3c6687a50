package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/monitoring"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/observability"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/storage"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/tabular"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/vocab"
)

// lockedBuffer collects log lines written from several goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) lines() []map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []map[string]any
	for _, line := range bytes.Split(b.buf.Bytes(), []byte("\n")) {
		var m map[string]any
		if json.Unmarshal(line, &m) == nil {
			out = append(out, m)
		}
	}
	return out
}

type memoryLineage struct {
	mu     sync.Mutex
	events []*storage.LineageEvent
}

func (m *memoryLineage) Create(_ context.Context, event *storage.LineageEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *memoryLineage) BatchCreate(ctx context.Context, events []*storage.LineageEvent) error {
	for _, e := range events {
		if err := m.Create(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (m *memoryLineage) resources(resourceType string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, e := range m.events {
		if e.ResourceType == resourceType {
			ids = append(ids, e.ResourceID)
		}
	}
	return ids
}

func syncLineage(store monitoring.LineageStore) *monitoring.LineageWriter {
	return monitoring.NewLineageWriter(nil, store, monitoring.LineageConfig{EnableAsync: false, IncludePayload: true})
}

func writeQualityCSV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "coating-tests.csv")
	data := "Item number,Test,Unit,Test method,Standard,Min,Max,Configuration,Dimension 1,Dimension 2\n" +
		"C1PP5555FT,GSM,g/m2,,,100,120,Formula 7,,SOFT\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func TestPipeline_Run(t *testing.T) {
	lineage := &memoryLineage{}
	writer := syncLineage(lineage)
	defer writer.Stop()

	var progressed []string
	p := NewPipeline(nil, PipelineConfig{
		Progress: func(source, path string) { progressed = append(progressed, source+":"+filepath.Base(path)) },
	}, nil, writer)

	runID := uuid.New()
	result, err := p.Run(context.Background(), Request{
		RunID:        runID,
		QualityFiles: []string{writeQualityCSV(t)},
		Books:        []LoadedBook{qualityBook(), bomBook(t), routeBook("Machine Parameter")},
	})
	require.NoError(t, err)

	assert.Equal(t, runID, result.RunID)
	assert.Equal(t, []string{"Quality:coating-tests.csv"}, progressed)

	t.Run("sources in fixed order", func(t *testing.T) {
		var order []string
		for _, c := range result.Chunks {
			if len(order) == 0 || order[len(order)-1] != c.Source {
				order = append(order, c.Source)
			}
		}
		assert.Equal(t, []string{SourceRoute, SourceBOM, SourceQuality}, order)
		assert.Equal(t, map[string]int{SourceRoute: 3, SourceBOM: 4, SourceQuality: 3}, result.SourceCounts)
	})

	t.Run("csv quality file is converted", func(t *testing.T) {
		c := chunkByID(t, result.Chunks, "Quality_Coating_5555FT_1")
		assert.Equal(t, "Testing After Coating", c.Stage)
		assert.Contains(t, c.Content, "It has coating formulation 'Formula 7'")
	})

	t.Run("vocabulary covers every stage", func(t *testing.T) {
		assert.Contains(t, result.Vocabulary.ProcessNames, "testing after weaving")
		assert.Contains(t, result.Vocabulary.ProcessNames, "coating")
	})

	t.Run("unmapped codes are counted", func(t *testing.T) {
		// RX route type, ZZ bom sheet, Q quality stage
		assert.Equal(t, 3, result.Unmapped)
	})

	t.Run("lineage", func(t *testing.T) {
		assert.Contains(t, lineage.resources(monitoring.ResourceRun), runID.String())
		assert.Contains(t, lineage.resources(monitoring.ResourceStage), "Quality/tests")
		assert.Contains(t, lineage.resources(monitoring.ResourceStage), "Route/routing")
		assert.NotEmpty(t, lineage.resources(monitoring.ResourceSource))
	})

	assert.Len(t, result.SourceFiles, 4)
	assert.False(t, result.CompletedAt.Before(result.StartedAt))
}

func TestPipeline_Run_LogsLossyCollapses(t *testing.T) {
	out := &lockedBuffer{}
	logger := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json", Output: out})
	p := NewPipeline(logger, PipelineConfig{
		Abbreviations: []vocab.Abbreviation{
			{Short: "WHBR", Full: "White Bright"},
			{Short: "WH-BR", Full: "White Bright"},
			{Short: "PL", Full: "Plain"},
		},
	}, nil, nil)

	_, err := p.Run(context.Background(), Request{RunID: uuid.New(), Books: []LoadedBook{bomBook(t)}})
	require.NoError(t, err)

	var found map[string]any
	for _, line := range out.lines() {
		if line["message"] == "Several short forms collapse to one label" {
			found = line
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, "White Bright", found["label"])
	assert.Equal(t, []any{"WH-BR", "WHBR"}, found["short_forms"])
}

func TestPipeline_Run_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("no sources", func(t *testing.T) {
		_, err := NewPipeline(nil, PipelineConfig{}, nil, nil).Run(ctx, Request{})
		assert.ErrorIs(t, err, ErrNoSources)
	})

	t.Run("fail on unmapped", func(t *testing.T) {
		p := NewPipeline(nil, PipelineConfig{FailOnUnmapped: true}, nil, nil)
		_, err := p.Run(ctx, Request{Books: []LoadedBook{bomBook(t)}})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUnmappedCodes))
	})

	t.Run("load failure", func(t *testing.T) {
		p := NewPipeline(nil, PipelineConfig{}, nil, nil)
		p.open = func(path string) (*tabular.Workbook, error) {
			return nil, errors.New("corrupt workbook")
		}
		_, err := p.Run(ctx, Request{BOMFiles: []string{"a.xlsx", "b.xlsx"}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "load BOM workbook")
	})

	t.Run("missing file", func(t *testing.T) {
		p := NewPipeline(nil, PipelineConfig{}, nil, nil)
		_, err := p.Run(ctx, Request{RouteFiles: []string{filepath.Join(t.TempDir(), "absent.xlsx")}})
		assert.Error(t, err)
	})
}

func TestPipeline_Run_Deterministic(t *testing.T) {
	run := func() []string {
		p := NewPipeline(nil, PipelineConfig{}, nil, nil)
		result, err := p.Run(context.Background(), Request{
			Books: []LoadedBook{bomBook(t), routeBook("Machine Parameter"), qualityBook()},
		})
		require.NoError(t, err)
		contents := make([]string, len(result.Chunks))
		for i, c := range result.Chunks {
			contents[i] = c.ID + "|" + c.Content
		}
		return contents
	}
	assert.Equal(t, run(), run())
}
