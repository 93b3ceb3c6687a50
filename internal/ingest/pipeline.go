// Package ingest turns mill spreadsheets (BOM, route, quality) into the
// normalized chunk collection and its stage vocabulary.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/chunking"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/monitoring"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/observability"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/reconcile"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/tabular"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/vocab"
)

// ErrUnmappedCodes is returned when FailOnUnmapped is set and some code
// matched no dictionary rule.
var ErrUnmappedCodes = errors.New("unmapped codes")

// Pipeline orchestrates one run over all configured sources.
type Pipeline struct {
	logger        *observability.Logger
	config        PipelineConfig
	converter     *Converter
	normalizer    *vocab.Normalizer
	abbreviations []vocab.Abbreviation
	lineageWriter *monitoring.LineageWriter
	open          func(path string) (*tabular.Workbook, error)
}

// PipelineConfig holds pipeline configuration.
type PipelineConfig struct {
	MaxConcurrentLoads int
	FailOnUnmapped     bool
	// Abbreviations replaces the default normalization table when set.
	Abbreviations []vocab.Abbreviation
	// Progress is called after each workbook finishes loading.
	Progress func(source, path string)
}

// Request names the input workbooks of a run. Books are used as given and
// skip loading.
type Request struct {
	RunID        uuid.UUID
	BOMFiles     []string
	RouteFiles   []string
	QualityFiles []string
	Books        []LoadedBook
}

func (r Request) empty() bool {
	return len(r.BOMFiles)+len(r.RouteFiles)+len(r.QualityFiles)+len(r.Books) == 0
}

// Result is the outcome of a run, ready to publish.
type Result struct {
	RunID       uuid.UUID
	Chunks      []chunking.Chunk
	Vocabulary  vocab.Vocabulary
	Outputs     []*SourceOutput
	SourceFiles []monitoring.SourceFile
	// SourceCounts holds the chunk count per source tag.
	SourceCounts map[string]int
	Unmapped     int
	StartedAt    time.Time
	CompletedAt  time.Time
	Duration     time.Duration
}

// NewPipeline creates a pipeline. converter and lineageWriter may be nil.
func NewPipeline(
	logger *observability.Logger,
	cfg PipelineConfig,
	converter *Converter,
	lineageWriter *monitoring.LineageWriter,
) *Pipeline {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if cfg.MaxConcurrentLoads < 1 {
		cfg.MaxConcurrentLoads = 4
	}
	if converter == nil {
		converter = NewConverter(nil, nil, logger)
	}
	table := cfg.Abbreviations
	if table == nil {
		table = vocab.DefaultAbbreviations()
	}
	return &Pipeline{
		logger:        logger.WithOperation("pipeline"),
		config:        cfg,
		converter:     converter,
		normalizer:    vocab.NewNormalizer(table),
		abbreviations: table,
		lineageWriter: lineageWriter,
		open:          tabular.Open,
	}
}

// Run loads, groups, chunks and normalizes every source.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	if req.empty() {
		return nil, ErrNoSources
	}
	if req.RunID == uuid.Nil {
		req.RunID = uuid.New()
	}
	startTime := time.Now()
	result := &Result{
		RunID:        req.RunID,
		StartedAt:    startTime,
		SourceCounts: make(map[string]int),
	}
	log := p.logger.WithRun(req.RunID.String())
	ctx = observability.ContextWithRunID(ctx, req.RunID.String())

	log.Info().
		Int("bom_files", len(req.BOMFiles)).
		Int("route_files", len(req.RouteFiles)).
		Int("quality_files", len(req.QualityFiles)).
		Msg("Starting pipeline run")

	if p.lineageWriter != nil {
		if err := p.lineageWriter.RecordRunStart(ctx, req.RunID, requestFiles(req)); err != nil {
			log.Warn().Err(err).Msg("Failed to record run start")
		}
	}

	// Step 1: Load workbooks
	books, err := p.loadBooks(ctx, req)
	if err != nil {
		return nil, err
	}

	// Step 2: Convert each source
	bySource := make(map[string][]LoadedBook)
	for _, b := range books {
		bySource[b.Source] = append(bySource[b.Source], b)
	}
	convert := map[string]func([]LoadedBook) (*SourceOutput, error){
		SourceRoute:   p.converter.Route,
		SourceBOM:     p.converter.BOM,
		SourceQuality: p.converter.Quality,
	}
	var chunks []chunking.Chunk
	for _, source := range Sources {
		if len(bySource[source]) == 0 {
			log.Info().Str("source", source).Msg("No workbooks for source")
			continue
		}
		out, err := convert[source](bySource[source])
		if err != nil {
			return nil, fmt.Errorf("convert %s: %w", source, err)
		}
		result.Outputs = append(result.Outputs, out)
		chunks = append(chunks, out.Chunks...)
		result.SourceCounts[source] = len(out.Chunks)
		for _, b := range bySource[source] {
			result.SourceFiles = append(result.SourceFiles, monitoring.SourceFile{
				Source: source,
				Path:   b.Path,
				Rows:   out.Rows[b.Path],
			})
		}
		p.recordStages(ctx, req.RunID, out)
		log.Info().
			Str("source", source).
			Int("chunks", len(out.Chunks)).
			Msg("Converted source")
	}

	// Step 3: Report unmapped codes
	result.Unmapped = p.reportUnmapped(log, result.Outputs)
	if result.Unmapped > 0 && p.config.FailOnUnmapped {
		return nil, fmt.Errorf("%w: %d occurrences", ErrUnmappedCodes, result.Unmapped)
	}

	// Step 4: Reconcile stage labels across sources
	chunks = reconcile.RelabelChunks(chunks, reconcile.DefaultStageAliases())

	// Step 5: Normalize vocabulary
	for label, shorts := range vocab.LossyCollapses(p.abbreviations) {
		log.Warn().Str("label", label).Strs("short_forms", shorts).Msg("Several short forms collapse to one label")
	}
	chunks = p.normalizer.Normalize(chunks)
	result.Chunks = chunks
	result.Vocabulary = vocab.Derive(chunks)

	if p.lineageWriter != nil {
		if err := p.lineageWriter.RecordSources(ctx, req.RunID, result.SourceFiles); err != nil {
			log.Warn().Err(err).Msg("Failed to record source lineage")
		}
	}

	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(startTime)

	log.Info().
		Int("chunks", len(result.Chunks)).
		Int("process_names", len(result.Vocabulary.ProcessNames)).
		Int("unmapped", result.Unmapped).
		Dur("duration", result.Duration).
		Msg("Pipeline run completed")

	return result, nil
}

// loadBooks opens every requested workbook, at most MaxConcurrentLoads at a
// time. The result keeps request order.
func (p *Pipeline) loadBooks(ctx context.Context, req Request) ([]LoadedBook, error) {
	type job struct {
		source, path string
	}
	var jobs []job
	for _, set := range []struct {
		source string
		paths  []string
	}{
		{SourceRoute, req.RouteFiles},
		{SourceBOM, req.BOMFiles},
		{SourceQuality, req.QualityFiles},
	} {
		for _, path := range set.paths {
			jobs = append(jobs, job{set.source, path})
		}
	}

	loaded := make([]LoadedBook, len(jobs))
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.MaxConcurrentLoads)
	for i, j := range jobs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			book, err := p.open(j.path)
			if err != nil {
				return fmt.Errorf("load %s workbook: %w", j.source, err)
			}
			loaded[i] = LoadedBook{Source: j.source, Path: j.path, Book: book}
			p.logger.Debug().
				Str("source", j.source).
				Str("path", j.path).
				Strs("sheets", book.SheetNames()).
				Dur("duration", time.Since(start)).
				Msg("Loaded workbook")
			if p.config.Progress != nil {
				mu.Lock()
				p.config.Progress(j.source, j.path)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return append(loaded, req.Books...), nil
}

func (p *Pipeline) recordStages(ctx context.Context, runID uuid.UUID, out *SourceOutput) {
	if p.lineageWriter == nil {
		return
	}
	for _, st := range out.Stages {
		stage := out.Source + "/" + st.Stage
		if err := p.lineageWriter.RecordStage(ctx, runID, stage, st.Stats.Records, st.Stats.Dropped); err != nil {
			p.logger.Warn().Err(err).Str("stage", stage).Msg("Failed to record stage lineage")
		}
	}
}

// reportUnmapped logs every code no dictionary rule matched and returns the
// total occurrence count.
func (p *Pipeline) reportUnmapped(log *observability.Logger, outputs []*SourceOutput) int {
	total := 0
	for _, out := range outputs {
		for _, domain := range sortedDomains(out.Unmapped) {
			codes := out.Unmapped[domain]
			names := make([]string, 0, len(codes))
			n := 0
			for code, c := range codes {
				names = append(names, code)
				n += c
			}
			sort.Strings(names)
			total += n
			log.Warn().
				Str("source", out.Source).
				Str("domain", string(domain)).
				Int("occurrences", n).
				Str("codes", strings.Join(names, ", ")).
				Msg("Unmapped codes")
		}
	}
	return total
}

func requestFiles(req Request) []monitoring.SourceFile {
	var files []monitoring.SourceFile
	add := func(source string, paths []string) {
		for _, path := range paths {
			files = append(files, monitoring.SourceFile{Source: source, Path: path})
		}
	}
	add(SourceRoute, req.RouteFiles)
	add(SourceBOM, req.BOMFiles)
	add(SourceQuality, req.QualityFiles)
	for _, b := range req.Books {
		files = append(files, monitoring.SourceFile{Source: b.Source, Path: b.Path})
	}
	return files
}
