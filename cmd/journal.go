package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/escape-velocity-ventures/disk-harness/internal/config"
	"github.com/escape-velocity-ventures/disk-harness/internal/journal"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Inspect the command journal",
}

var journalVerifyCmd = &cobra.Command{
	Use:   "verify [path]",
	Short: "Check the hash chain of a command journal",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := flagJournal
		if len(args) == 1 {
			path = args[0]
		}
		if path == "" {
			path = config.Defaults().JournalPath
		}
		n, err := journal.Verify(path)
		if err != nil {
			return fmt.Errorf("%s: %d entries verified before failure: %w", path, n, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d entries, chain intact\n", path, n)
		return nil
	},
}

func init() {
	journalCmd.AddCommand(journalVerifyCmd)
	rootCmd.AddCommand(journalCmd)
}
