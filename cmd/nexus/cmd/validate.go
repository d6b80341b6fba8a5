package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nexus-rag/nexus/internal/config"
	"github.com/nexus-rag/nexus/internal/router"
)

// newValidateCmd creates the validate command.
func newValidateCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the active configuration",
		Long: `Check that the configured mode and providers can be constructed,
probe backend availability, and report warnings such as a disabled
hybrid safe mode.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			report := router.New(cfg).ValidateConfiguration(cmd.Context())

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "mode:            %s\n", report.Mode)
			fmt.Fprintf(out, "llm provider:    %s (available: %v)\n", report.LLMProvider, report.LLMAvailable)
			fmt.Fprintf(out, "embed provider:  %s (available: %v)\n", report.EmbedProvider, report.EmbedAvailable)
			if report.SafetyMode != "" {
				fmt.Fprintf(out, "safety:          %s\n", report.SafetyMode)
			}
			for _, w := range report.Warnings {
				fmt.Fprintf(out, "warning: %s\n", w)
			}
			for _, e := range report.Errors {
				fmt.Fprintf(out, "error: %s\n", e)
			}
			if !report.Valid {
				return fmt.Errorf("configuration is invalid")
			}
			fmt.Fprintln(out, "configuration is valid")
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the report as JSON")

	return cmd
}
