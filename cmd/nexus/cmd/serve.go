package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/nexus-rag/nexus/internal/config"
	"github.com/nexus-rag/nexus/internal/ledger"
	"github.com/nexus-rag/nexus/internal/logging"
	"github.com/nexus-rag/nexus/internal/server"
)

// newServeCmd creates the serve command.
func newServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the NEXUS HTTP API",
		Long: `Start the HTTP API serving query, index, workspace, and run
endpoints. Configuration comes from the environment and an optional
nexus.yaml; flags override the listen address.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cleanup, err := logging.SetupDefault()
			if err != nil {
				return fmt.Errorf("setup logging: %w", err)
			}
			defer cleanup()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if host != "" {
				cfg.APIHost = host
			}
			if port != 0 {
				cfg.APIPort = port
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			slog.Info("starting nexus", slog.String("mode", string(cfg.Mode)),
				slog.String("llm_provider", cfg.LLMProvider),
				slog.String("embed_provider", cfg.EmbedProvider))

			led, err := ledger.Open(cfg.LedgerPath)
			if err != nil {
				return err
			}
			defer func() { _ = led.Close() }()

			srv, err := server.New(cfg, led, slog.Default())
			if err != nil {
				return err
			}
			return srv.Run()
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Listen host (overrides NEXUS_API_HOST)")
	cmd.Flags().IntVar(&port, "port", 0, "Listen port (overrides NEXUS_API_PORT)")

	return cmd
}
