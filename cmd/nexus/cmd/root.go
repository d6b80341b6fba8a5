// Package cmd provides the CLI commands for NEXUS.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/nexus-rag/nexus/pkg/version"
)

// NewRootCmd creates the root command for the nexus CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nexus",
		Short: "Retrieval-augmented document intelligence service",
		Long: `NEXUS ingests documents into per-workspace vector partitions and
answers questions grounded in them, with policy redaction for hybrid
deployments and a full audit ledger of every run.

Run 'nexus serve' to start the HTTP API.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("nexus version {{.Version}}\n")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newCleanupCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
