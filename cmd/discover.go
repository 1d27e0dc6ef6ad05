package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/escape-velocity-ventures/disk-harness/internal/disk"
	"github.com/escape-velocity-ventures/disk-harness/internal/report"
)

var flagJSON bool

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find and classify the test disks of the target",
	Long: `Discover lists every non-system sd/nvme disk of the target, classified
by type, with its by-id path, serial number, block size and size.

Discovery only inspects the target: commands that would modify it are
refused.`,
	Args: cobra.NoArgs,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().BoolVar(&flagJSON, "json", false, "Print the inventory as JSON")
	rootCmd.AddCommand(discoverCmd)
}

func runDiscover(cmd *cobra.Command, args []string) (err error) {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	run, err := openRun(cfg, true)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := run.Close(); err == nil {
			err = cerr
		}
	}()

	disks, err := run.Discover(cmd.Context())
	if err != nil {
		return err
	}
	if flagJSON {
		inv, err := report.Build(run.ID, run.Target, run, nil)
		if err != nil {
			return err
		}
		return report.WriteJSON(cmd.OutOrStdout(), inv)
	}
	return printDisks(cmd.OutOrStdout(), disks)
}

func printDisks(w io.Writer, disks []*disk.Disk) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tPATH\tSERIAL\tBLOCK\tSIZE")
	for _, d := range disks {
		serial := d.SerialNumber
		if serial == "" {
			serial = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			d.Type, d.Path, serial, d.BlockSize, units.BytesSize(float64(d.Size)))
	}
	return tw.Flush()
}
