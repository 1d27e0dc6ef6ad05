package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/escape-velocity-ventures/disk-harness/internal/disk"
)

var constraintCmd = &cobra.Command{
	Use:   "constraint <expr>",
	Short: "Print the serialized form of a disk type constraint",
	Long: `Constraint parses a type constraint expression and prints its JSON form.

Expressions:
  set:sata,nand   any of the listed types
  lt:<name>       any type slower than the disk assigned to <name>
  nand,optane     shorthand for set:nand,optane`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := disk.ParseExpr(args[0], nil)
		if err != nil {
			return err
		}
		out, err := json.Marshal(c)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(constraintCmd)
}
