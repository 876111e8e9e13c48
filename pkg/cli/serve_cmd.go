package cli

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/thefarmersfront/datahub/internal/api"
)

func newServeCmd(configPath *string) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the lineage query API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, extractor, err := setup(*configPath)
			if err != nil {
				return err
			}
			if listen == "" {
				listen = cfg.ListenAddr
			}

			handler := api.NewHandler(extractor, logger)
			logger.Info("lineage API listening", "addr", listen, "project", cfg.ProjectID)
			return http.ListenAndServe(listen, handler)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (default from config, :8080)")
	return cmd
}
