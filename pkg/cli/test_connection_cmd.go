package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"google.golang.org/api/iterator"

	"github.com/thefarmersfront/datahub/internal/config"
	"github.com/thefarmersfront/datahub/internal/domain"
	"github.com/thefarmersfront/datahub/internal/lineage"
	"github.com/thefarmersfront/datahub/internal/logsource"
)

func newTestConnectionCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "test-connection",
		Short: "Verify the configured audit source by fetching a single record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			report := domain.NewExtractionReport()
			var source lineage.EventSource
			if cfg.UseExportedAuditMetadata {
				s := logsource.NewAuditMetadataEvents(cfg, report, logger)
				s.Limit = 1
				source = s
			} else {
				s := logsource.NewCloudLoggingEvents(cfg, report, logger)
				s.MaxResults = 1
				source = s
			}

			if err := fetchOne(cmd.Context(), source); err != nil {
				return fmt.Errorf("connection test failed: %w", err)
			}
			logger.Info("connection test succeeded", "project", cfg.ProjectID)
			return nil
		},
	}
}

// fetchOne opens the event stream and pulls a single record. An empty window
// still proves the source is reachable, so iterator.Done counts as success.
func fetchOne(ctx context.Context, source lineage.EventSource) error {
	events, err := source.Events(ctx)
	if err != nil {
		return err
	}
	if _, err := events.Next(ctx); err != nil && !errors.Is(err, iterator.Done) {
		return err
	}
	return nil
}
