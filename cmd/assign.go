package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/escape-velocity-ventures/disk-harness/internal/config"
	"github.com/escape-velocity-ventures/disk-harness/internal/report"
	"github.com/escape-velocity-ventures/disk-harness/internal/testrun"
)

var assignCmd = &cobra.Command{
	Use:   "assign",
	Short: "Assign discovered disks to the configured requirements",
	Long: `Assign discovers the disks of the target and gives each configured
requirement the first unused disk whose type satisfies it. Requirements
declared with lower_than wait for the disk they refer to.

When configured, the result is written as a JUnit report and published to a
Kubernetes ConfigMap. The command fails when a requirement is unsatisfied.`,
	Args: cobra.NoArgs,
	RunE: runAssign,
}

func init() {
	rootCmd.AddCommand(assignCmd)
}

func runAssign(cmd *cobra.Command, args []string) (err error) {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(cfg.Requirements) == 0 {
		return fmt.Errorf("no requirements configured")
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

	reqs, err := run.Requirements(cfg.Requirements)
	if err != nil {
		return err
	}
	assignErr := run.Assign(cmd.Context(), reqs)
	if assignErr != nil && !errors.Is(assignErr, testrun.ErrUnsatisfied) {
		return assignErr
	}

	inv, err := report.Build(run.ID, run.Target, run, reqs)
	if err != nil {
		return err
	}
	if err := printAssignments(cmd.OutOrStdout(), inv); err != nil {
		return err
	}
	if err := writeReports(cmd.Context(), cfg.Report, inv, slog.Default()); err != nil {
		return err
	}
	return assignErr
}

func printAssignments(w io.Writer, inv *report.Inventory) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "REQUIREMENT\tCONSTRAINT\tDISK")
	for _, r := range inv.Requirements {
		d := r.Disk
		if !r.Satisfied {
			d = "UNSATISFIED"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Name, r.Constraint, d)
	}
	return tw.Flush()
}

func writeReports(ctx context.Context, cfg config.Report, inv *report.Inventory, log *slog.Logger) error {
	if cfg.JUnitPath != "" {
		f, err := os.Create(cfg.JUnitPath)
		if err != nil {
			return fmt.Errorf("create junit report: %w", err)
		}
		if err := report.WriteJUnit(f, inv); err != nil {
			f.Close()
			return fmt.Errorf("write junit report: %w", err)
		}
		if err := f.Close(); err != nil {
			return err
		}
		log.Info("wrote junit report", "path", cfg.JUnitPath)
	}

	if cfg.ConfigMap.Enabled() {
		client, err := report.NewClient(cfg.ConfigMap.Kubeconfig)
		if err != nil {
			return err
		}
		p := report.NewPublisher(client, cfg.ConfigMap.Namespace, cfg.ConfigMap.Name)
		if err := p.Publish(ctx, inv); err != nil {
			return err
		}
		log.Info("published inventory", "namespace", cfg.ConfigMap.Namespace, "name", cfg.ConfigMap.Name)
	}
	return nil
}
