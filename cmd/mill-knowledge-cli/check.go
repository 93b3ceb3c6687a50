package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/monitoring"
)

// newCheckCmd creates the check subcommand.
func newCheckCmd() *cobra.Command {
	var (
		freshness time.Duration
		watch     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check the published collection for completeness and drift",
		Long: `Check verifies that the latest published run has chunks from every
source, that the JSON artifact matches it, that it is younger than the
freshness threshold and that no source workbook changed since it ran.

The command exits non-zero when a problem is found. With --watch it keeps
checking at the given interval until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			cacheClient, notifier := openCache()
			if cacheClient != nil {
				defer cacheClient.Close()
			}

			runner := monitoring.NewDriftRunner(logger, store.Repositories, notifier, monitoring.DriftConfig{
				ArtifactPath:       cfg.Output.JSONPath,
				FreshnessThreshold: freshness,
				CheckInterval:      watch,
			})

			stopSpinner := NewUI(outputJSON, noColor).Spinner("Checking published run")
			result, err := runner.RunCheck(ctx)
			stopSpinner()
			if err != nil {
				return fmt.Errorf("check failed: %w", err)
			}
			if watch <= 0 {
				return reportCheck(result)
			}

			_ = reportCheck(result)
			logger.Info().Dur("interval", watch).Msg("Watching published run")
			runner.ScheduleDriftCheck(ctx, func(result *monitoring.DriftCheckResult) {
				_ = reportCheck(result)
			})
			return nil
		},
	}

	cmd.Flags().DurationVar(&freshness, "freshness", 30*24*time.Hour, "maximum age of the published run")
	cmd.Flags().DurationVar(&watch, "watch", 0, "repeat the check at this interval")
	return cmd
}

// reportCheck prints a check result and returns an error when it found
// alerts.
func reportCheck(result *monitoring.DriftCheckResult) error {
	if outputJSON {
		if err := printJSON(result); err != nil {
			return err
		}
	} else {
		ui := NewUI(false, noColor)
		ui.Section("Published run")
		ui.KeyValue("Checked at", result.CheckedAt.Format(time.RFC3339))
		ui.KeyValue("Run", result.RunID)
		if result.ArtifactChunks > 0 {
			ui.KeyValue("Artifact chunks", result.ArtifactChunks)
		}

		if len(result.SourceCounts) > 0 {
			rows := make([][]string, 0, len(result.SourceCounts))
			for _, source := range sortedStrings(result.SourceCounts) {
				rows = append(rows, []string{source, fmt.Sprint(result.SourceCounts[source])})
			}
			ui.Table([]string{"Source", "Chunks"}, rows)
		}

		for _, p := range result.Problems {
			ui.Error("%s", p)
		}
		if result.StaleRun != nil {
			ui.Warning("Run %s is %s old", result.StaleRun.RunID, FormatDuration(result.StaleRun.Age))
		}
		for _, m := range result.HashMismatches {
			if m.NewHash == "" {
				ui.Warning("%s is missing", m.Path)
			} else {
				ui.Warning("%s changed since the run", m.Path)
			}
		}
		if result.TotalAlerts == 0 {
			ui.Success("Published collection is complete and current")
		}
	}

	if result.TotalAlerts > 0 {
		return fmt.Errorf("%d alert(s)", result.TotalAlerts)
	}
	return nil
}
