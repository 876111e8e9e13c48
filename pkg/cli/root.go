// Package cli implements the lineage command-line interface.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/thefarmersfront/datahub/internal/config"
	"github.com/thefarmersfront/datahub/internal/domain"
	"github.com/thefarmersfront/datahub/internal/lineage"
	"github.com/thefarmersfront/datahub/internal/logsource"
	"github.com/thefarmersfront/datahub/internal/sqlparse"
)

var (
	version = "dev"
	commit  = "none"
)

// Execute runs the CLI.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "lineage",
		Short:         "BigQuery audit-log lineage extractor",
		Long:          "Extracts table-level lineage from BigQuery audit logs and answers upstream lineage queries.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file (env vars override it)")

	rootCmd.AddCommand(newExtractCmd(&configPath))
	rootCmd.AddCommand(newServeCmd(&configPath))
	rootCmd.AddCommand(newTestConnectionCmd(&configPath))
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// newLogger builds the text logger at the configured level and surfaces any
// configuration warnings.
func newLogger(cfg *config.Config) *slog.Logger {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}
	return logger
}

// setup loads configuration and builds the logger and the wired extractor.
// The event source is chosen by use_exported_audit_metadata.
func setup(configPath string) (*config.Config, *slog.Logger, *lineage.Extractor, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	logger := newLogger(cfg)

	report := domain.NewExtractionReport()

	var source lineage.EventSource
	if cfg.UseExportedAuditMetadata {
		source = logsource.NewAuditMetadataEvents(cfg, report, logger)
	} else {
		source = logsource.NewCloudLoggingEvents(cfg, report, logger)
	}

	builder := lineage.NewBuilder(
		cfg.DatasetAllowed, cfg.TableAllowed,
		sqlparse.PostgresParser{}, report, logger,
	)
	extractor := lineage.NewExtractor(source, builder, report, lineage.Options{
		TempTablePrefixes: []string{cfg.TempTableDatasetPrefix},
		PlatformInstance:  cfg.PlatformInstance,
		Env:               cfg.Env,
		Logger:            logger,
	})
	return cfg, logger, extractor, nil
}
