package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/escape-velocity-ventures/disk-harness/internal/config"
)

var (
	// Flags
	flagConfig     string
	flagTarget     string
	flagIdentity   string
	flagLogLevel   string
	flagLogFormat  string
	flagNsenter    bool
	flagLockDir    string
	flagJournal    string
	flagVendorTool string
)

var rootCmd = &cobra.Command{
	Use:   "disk-harness",
	Short: "Disk discovery and hot-plug harness for storage integration tests",
	Long: `disk-harness finds the test disks of a local or SSH-reachable machine,
classifies them (hdd, hdd4k, sata, nand, optane), assigns them to the disk
requirements of a test scenario and hot-plugs them through sysfs.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file path (default: "+config.DefaultPath+")")
	rootCmd.PersistentFlags().StringVar(&flagTarget, "target", "", "Machine under test: local or user@host[:port] (env: DH_TARGET)")
	rootCmd.PersistentFlags().StringVar(&flagIdentity, "identity", "", "SSH private key for remote targets (env: DH_IDENTITY_FILE)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error (env: DH_LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "Log format: text, json (env: DH_LOG_FORMAT)")
	rootCmd.PersistentFlags().BoolVar(&flagNsenter, "nsenter", false, "Run local commands in the host namespaces (env: DH_NSENTER)")
	rootCmd.PersistentFlags().StringVar(&flagLockDir, "lock-dir", "", "Directory of per-target lock files (env: DH_LOCK_DIR)")
	rootCmd.PersistentFlags().StringVar(&flagJournal, "journal", "", "Command journal path, \"off\" to disable (env: DH_JOURNAL_PATH)")
	rootCmd.PersistentFlags().StringVar(&flagVendorTool, "vendor-tool", "", "Intel SSD tool binary (env: DH_VENDOR_TOOL)")
}

// Execute runs the root command.
func Execute(version string) {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(fmt.Sprintf("disk-harness %s\n", version))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// loadConfig reads the config file and environment, then applies flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	applyFlags(cfg)
	return cfg, cfg.Validate()
}

// applyFlags overrides cfg with every flag given on the command line.
func applyFlags(cfg *config.Config) {
	if flagTarget != "" {
		cfg.Target = flagTarget
	}
	if flagIdentity != "" {
		cfg.IdentityFile = flagIdentity
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if flagLogFormat != "" {
		cfg.LogFormat = flagLogFormat
	}
	if flagNsenter {
		cfg.Nsenter = true
	}
	if flagLockDir != "" {
		cfg.LockDir = flagLockDir
	}
	if flagJournal != "" {
		cfg.JournalPath = flagJournal
	}
	if flagVendorTool != "" {
		cfg.VendorTool = flagVendorTool
	}
}
