package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/thefarmersfront/datahub/internal/domain"
)

func newExtractCmd(configPath *string) *cobra.Command {
	var tables []string

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Run extraction and print upstream lineage for the given tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(tables) == 0 {
				return fmt.Errorf("at least one --table project.dataset.table is required")
			}

			_, logger, extractor, err := setup(*configPath)
			if err != nil {
				return err
			}

			out := json.NewEncoder(os.Stdout)
			out.SetIndent("", "  ")

			for _, table := range tables {
				target, err := parseTableArg(table)
				if err != nil {
					return err
				}
				result := extractor.GetUpstreamLineage(cmd.Context(), target)
				if result == nil {
					logger.Info("no lineage recorded", "table", table)
					continue
				}
				if err := out.Encode(map[string]any{"table": table, "lineage": result}); err != nil {
					return err
				}
			}

			report := extractor.Report().Snapshot()
			logger.Info("extraction finished",
				"runId", report.RunID,
				"lineageMapEntries", report.LineageMapEntries,
				"totalLineageEntries", report.TotalLineageEntries,
				"skippedMissingData", report.SkippedMissingData,
				"skippedNotAllowed", report.SkippedNotAllowed,
				"skippedSqlParserFailure", report.SkippedSQLParserFailure,
				"skippedOther", report.SkippedOther,
				"failures", len(report.Failures))
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&tables, "table", nil, "Target table as project.dataset.table (repeatable)")
	return cmd
}

// parseTableArg splits a project.dataset.table argument.
func parseTableArg(s string) (domain.TableIdentifier, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return domain.TableIdentifier{}, fmt.Errorf("invalid table %q: want project.dataset.table", s)
	}
	return domain.TableIdentifier{Project: parts[0], Dataset: parts[1], Table: parts[2]}, nil
}
