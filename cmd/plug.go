package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/escape-velocity-ventures/disk-harness/internal/disk"
)

var flagPlugType string

var plugCmd = &cobra.Command{
	Use:   "plug <serial|path>",
	Short: "Bring a removed disk back",
	Long: `Plug rescans the bus of a removed disk and waits until it is visible
again. The disk is identified by serial number or path; --type selects the
bus to rescan (nand and optane rescan PCI, the others rescan SCSI hosts).`,
	Args: cobra.ExactArgs(1),
	RunE: runPlug,
}

var unplugCmd = &cobra.Command{
	Use:   "unplug <serial|path|name>",
	Short: "Remove a disk from the target through sysfs",
	Long: `Unplug removes a discovered test disk through sysfs and waits until it
is gone. The disk is identified by serial number, by-id path, or kernel name
such as sdb or /dev/nvme0n1.`,
	Args: cobra.ExactArgs(1),
	RunE: runUnplug,
}

var plugAllCmd = &cobra.Command{
	Use:   "plug-all",
	Short: "Rescan PCI and every SCSI host to bring back all removed disks",
	Args:  cobra.NoArgs,
	RunE:  runPlugAll,
}

func init() {
	plugCmd.Flags().StringVar(&flagPlugType, "type", "hdd", "Disk type: hdd, hdd4k, sata, nand, optane")
	rootCmd.AddCommand(plugCmd, unplugCmd, plugAllCmd)
}

// diskRecord identifies a disk given on the command line: paths start with
// a slash, anything else is a serial number.
func diskRecord(id string, t disk.DiskType) disk.Record {
	if strings.HasPrefix(id, "/") {
		return disk.Record{Type: t, Path: id}
	}
	return disk.Record{Type: t, Serial: id}
}

func runPlug(cmd *cobra.Command, args []string) (err error) {
	t, err := disk.ParseType(flagPlugType)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	run, err := openRun(cfg, false)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := run.Close(); err == nil {
			err = cerr
		}
	}()

	d := disk.New(diskRecord(args[0], t))
	if err := d.Plug(cmd.Context(), run.Env()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "plugged %s\n", d.Path)
	return nil
}

func runUnplug(cmd *cobra.Command, args []string) (err error) {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	run, err := openRun(cfg, false)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := run.Close(); err == nil {
			err = cerr
		}
	}()

	if _, err := run.Discover(cmd.Context()); err != nil {
		return err
	}
	d, err := run.Resolve(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if err := d.Unplug(cmd.Context(), run.Env()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "unplugged %s disk %s\n", d.Type, d.ID())
	return nil
}

func runPlugAll(cmd *cobra.Command, args []string) (err error) {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	run, err := openRun(cfg, false)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := run.Close(); err == nil {
			err = cerr
		}
	}()
	return run.PlugAll(cmd.Context())
}
