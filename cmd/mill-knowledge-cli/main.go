// Package main provides the mill knowledge CLI entrypoint.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/cache"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/chunking"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/config"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/ingest"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/monitoring"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/observability"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/storage"
)

const version = "0.3.0"

var (
	// Global flags
	cfgFile    string
	outputJSON bool
	noColor    bool
	verbose    bool

	// Configuration and logger
	cfg    *config.Config
	logger *observability.Logger
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "mill-knowledge-cli",
	Short: "Turn mill spreadsheets into retrieval chunks",
	Long: `mill-knowledge-cli normalizes BOM, route and quality workbooks into a
chunk collection with flat metadata and a stage vocabulary.

Use this tool to:
- Run the pipeline and publish a new chunk collection
- Decode yarn identifiers and resolve shorthand codes
- Inspect published chunks and the stage vocabulary
- Check that the published collection is complete and current

All commands support --json for automation.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logFormat := "console"
		if outputJSON {
			logFormat = "json"
		}
		level := cfg.Observability.LogLevel
		if verbose {
			level = "debug"
		}

		logger = observability.NewLogger(observability.LogConfig{
			Level:       level,
			Format:      logFormat,
			ServiceName: "mill-knowledge-cli",
		})

		return nil
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default: uses env vars)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	// Add subcommands
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newDecodeCmd())
	rootCmd.AddCommand(newResolveCmd())
	rootCmd.AddCommand(newVocabCmd())
	rootCmd.AddCommand(newChunksCmd())
	rootCmd.AddCommand(newCheckCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newRunCmd creates the run subcommand.
func newRunCmd() *cobra.Command {
	var (
		bomFiles       []string
		routeFiles     []string
		qualityFiles   []string
		output         string
		vocabOutput    string
		noStore        bool
		failOnUnmapped bool
		timeout        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline and publish the chunk collection",
		Long: `Run loads every configured workbook, groups rows into logical records,
renders chunks within the token budget, normalizes abbreviations and
publishes the result. Published chunks replace the previous run in one
transaction; a failed run leaves the published collection untouched.

Files given on the command line replace the configured lists per source.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			if len(bomFiles) > 0 {
				cfg.Sources.BOMFiles = bomFiles
			}
			if len(routeFiles) > 0 {
				cfg.Sources.RouteFiles = routeFiles
			}
			if len(qualityFiles) > 0 {
				cfg.Sources.QualityFiles = qualityFiles
			}
			if output != "" {
				cfg.Output.JSONPath = output
			}
			if vocabOutput != "" {
				cfg.Output.VocabPath = vocabOutput
			}
			if failOnUnmapped {
				cfg.Ingestion.FailOnUnmapped = true
			}
			if !cfg.HasSources() {
				return fmt.Errorf("no input workbooks: use --bom, --route, --quality or the sources config section")
			}

			ui := NewUI(outputJSON, noColor)
			defer ui.Close()

			// Step 1: Storage and lineage
			var store *storage.Store
			var lineageStore monitoring.LineageStore
			if !noStore {
				var err error
				store, err = openStore(ctx)
				if err != nil {
					return err
				}
				defer store.Close()
				lineageStore = store.Lineage
			}
			lineageWriter := monitoring.NewLineageWriter(logger, lineageStore, monitoring.DefaultLineageConfig())
			defer lineageWriter.Stop()

			cacheClient, notifier := openCache()
			if cacheClient != nil {
				defer cacheClient.Close()
			}

			// Step 2: Pipeline
			counter := chunking.NewTokenCounter(cfg.Chunking.Encoding, cfg.Chunking.ApproxMultiplier, logger)
			builder := chunking.NewBuilder(counter, cfg.Chunking.TokenBudget, logger)
			converter := ingest.NewConverter(nil, builder, logger)

			bar := ui.ProgressBar("workbooks", int64(len(cfg.Sources.BOMFiles)+len(cfg.Sources.RouteFiles)+len(cfg.Sources.QualityFiles)))
			pipeline := ingest.NewPipeline(logger, ingest.PipelineConfig{
				MaxConcurrentLoads: cfg.Ingestion.MaxConcurrentLoads,
				FailOnUnmapped:     cfg.Ingestion.FailOnUnmapped,
				Progress: func(source, path string) {
					if bar != nil {
						bar.Increment()
					}
				},
			}, converter, lineageWriter)

			publisher := ingest.NewPublisher(logger, store, cacheClient, notifier, lineageWriter, ingest.PublishConfig{
				JSONPath:     cfg.Output.JSONPath,
				VocabPath:    cfg.Output.VocabPath,
				PrettyJSON:   cfg.Output.PrettyJSON,
				TokenCounter: counter.Name(),
				TokenBudget:  builder.Budget(),
			})

			runID := uuid.New()
			startedAt := time.Now()
			logger.Info().
				Str("run_id", runID.String()).
				Str("token_counter", counter.Name()).
				Int("token_budget", builder.Budget()).
				Msg("Starting run")

			result, err := pipeline.Run(ctx, ingest.Request{
				RunID:        runID,
				BOMFiles:     cfg.Sources.BOMFiles,
				RouteFiles:   cfg.Sources.RouteFiles,
				QualityFiles: cfg.Sources.QualityFiles,
			})
			if err != nil {
				if bar != nil {
					bar.Abort(false)
				}
				_ = publisher.Fail(ctx, runID, startedAt, err)
				return fmt.Errorf("run failed: %w", err)
			}

			// Step 3: Publish
			ui.Close()
			stopSpinner := ui.Spinner("Publishing run")
			run, err := publisher.Publish(ctx, result)
			stopSpinner()
			if err != nil {
				if errors.Is(err, ingest.ErrEmptyRun) {
					ui.Warning("Run produced no chunks; the published collection was kept")
				}
				return fmt.Errorf("publish failed: %w", err)
			}

			if outputJSON {
				return printJSON(map[string]interface{}{
					"runId":        run.ID.String(),
					"status":       string(run.Status),
					"chunks":       run.ChunkCount,
					"sourceCounts": run.SourceCounts,
					"unmapped":     result.Unmapped,
					"artifact":     cfg.Output.JSONPath,
					"vocabulary":   cfg.Output.VocabPath,
					"duration":     result.Duration.String(),
				})
			}

			ui.Success("Run %s published", run.ID)
			ui.Table([]string{"Source", "Workbooks", "Rows", "Chunks", "Unmapped"}, sourceRows(result))
			ui.KeyValue("Chunks", run.ChunkCount)
			ui.KeyValue("Process names", len(result.Vocabulary.ProcessNames))
			if cfg.Output.JSONPath != "" {
				ui.KeyValue("Artifact", cfg.Output.JSONPath)
			}
			ui.KeyValue("Duration", FormatDuration(result.Duration))
			if result.Unmapped > 0 {
				ui.Warning("%d code occurrences matched no dictionary rule (see log)", result.Unmapped)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&bomFiles, "bom", nil, "BOM workbook paths")
	cmd.Flags().StringSliceVar(&routeFiles, "route", nil, "route workbook paths")
	cmd.Flags().StringSliceVar(&qualityFiles, "quality", nil, "quality workbook paths")
	cmd.Flags().StringVarP(&output, "output", "o", "", "chunk JSON output path")
	cmd.Flags().StringVar(&vocabOutput, "vocab-output", "", "stage vocabulary YAML output path")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "write the JSON artifact only, skip the database")
	cmd.Flags().BoolVar(&failOnUnmapped, "fail-on-unmapped", false, "abort when a code matches no dictionary rule")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "run timeout")

	return cmd
}

// sourceRows summarizes a run per source for the result table.
func sourceRows(result *ingest.Result) [][]string {
	type summary struct {
		books, rows, unmapped int
	}
	bySource := make(map[string]*summary)
	for _, f := range result.SourceFiles {
		s, ok := bySource[f.Source]
		if !ok {
			s = &summary{}
			bySource[f.Source] = s
		}
		s.books++
		s.rows += f.Rows
	}
	for _, out := range result.Outputs {
		if s, ok := bySource[out.Source]; ok {
			s.unmapped = out.UnmappedTotal()
		}
	}

	var rows [][]string
	for _, source := range ingest.Sources {
		s, ok := bySource[source]
		if !ok {
			continue
		}
		rows = append(rows, []string{
			source,
			fmt.Sprint(s.books),
			fmt.Sprint(s.rows),
			fmt.Sprint(result.SourceCounts[source]),
			fmt.Sprint(s.unmapped),
		})
	}
	return rows
}

// newMigrateCmd creates the migrate subcommand.
func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema",
		Long: `Migrate creates the runs, chunks, vocabulary and lineage tables on the
configured SQLite or Postgres database. It is safe to run repeatedly.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			if outputJSON {
				return printJSON(map[string]string{"driver": cfg.Database.Driver, "status": "migrated"})
			}
			NewUI(false, noColor).Success("Schema ready on %s", cfg.Database.Driver)
			return nil
		},
	}
}

// newVersionCmd creates the version subcommand.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if outputJSON {
				return printJSON(map[string]string{"version": version})
			}
			fmt.Printf("mill-knowledge-cli v%s\n", version)
			return nil
		},
	}
}

// openStore opens and migrates the configured database.
func openStore(ctx context.Context) (*storage.Store, error) {
	db, err := storage.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	store := storage.NewStore(db, cfg.Database.Driver)
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return store, nil
}

// openCache connects the configured cache. A failure is logged and the run
// continues without cache invalidation.
func openCache() (cache.Client, cache.Notifier) {
	client, err := cache.New(cfg.Cache)
	if err != nil {
		logger.Warn().Err(err).Str("driver", cfg.Cache.Driver).Msg("Cache unavailable, skipping invalidation")
		return nil, nil
	}
	notifier, _ := client.(cache.Notifier)
	return client, notifier
}

// latestRun returns the published run, or nil when nothing is published.
func latestRun(ctx context.Context, store *storage.Store) (*storage.Run, error) {
	run, err := store.Runs.Latest(ctx)
	if errors.Is(err, storage.ErrNoRun) {
		return nil, nil
	}
	return run, err
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func sortedStrings(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
