package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nexus-rag/nexus/internal/config"
	"github.com/nexus-rag/nexus/internal/ledger"
)

// newCleanupCmd creates the cleanup command.
func newCleanupCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete old runs from the ledger",
		Long:  `Delete index and query runs older than the given number of days.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			led, err := ledger.Open(cfg.LedgerPath)
			if err != nil {
				return err
			}
			defer func() { _ = led.Close() }()

			deleted, err := led.CleanupOldRuns(days)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d runs older than %d days\n", deleted, days)
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 90, "Delete runs older than this many days")

	return cmd
}
