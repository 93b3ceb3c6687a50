package main

import (
	"context"
	"encoding/json"

	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/cache"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/ingest"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/observability"
)

// watchRuns drops the cached responses of a superseded run whenever a new run
// is published. It returns when ctx is done or the subscription closes.
func watchRuns(ctx context.Context, logger *observability.Logger, client cache.Client, notifier cache.Notifier) error {
	events, unsubscribe, err := notifier.Subscribe(ctx, cache.RunsChannel)
	if err != nil {
		return err
	}
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-events:
			if !ok {
				return nil
			}
			var event ingest.RunPublishedEvent
			if err := json.Unmarshal(msg, &event); err != nil {
				logger.Warn().Err(err).Msg("Ignoring malformed run event")
				continue
			}
			logger.Info().
				Str("run_id", event.RunID).
				Str("previous_run", event.PreviousRun).
				Int("chunks", event.ChunkCount).
				Msg("Run published")
			if event.PreviousRun == "" {
				continue
			}
			if err := client.DeleteByPrefix(ctx, cache.RunPrefix(event.PreviousRun)); err != nil {
				logger.Warn().Err(err).Str("run_id", event.PreviousRun).Msg("Failed to drop cached run")
			}
		}
	}
}
