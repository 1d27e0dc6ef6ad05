package cmd

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/escape-velocity-ventures/disk-harness/internal/config"
	"github.com/escape-velocity-ventures/disk-harness/internal/executor"
	"github.com/escape-velocity-ventures/disk-harness/internal/journal"
	"github.com/escape-velocity-ventures/disk-harness/internal/logging"
	"github.com/escape-velocity-ventures/disk-harness/internal/ssh"
	"github.com/escape-velocity-ventures/disk-harness/internal/testrun"
)

// journalOff disables the command journal.
const journalOff = "off"

// openRun starts a run against the configured target. With readOnly set,
// mutating commands are refused before they reach the target.
func openRun(cfg *config.Config, readOnly bool) (*testrun.Run, error) {
	log := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	exec, transport, err := newExecutor(cfg)
	if err != nil {
		return nil, err
	}
	if readOnly {
		exec = executor.ReadOnly{Next: exec}
	}

	var j *journal.Journal
	if cfg.JournalPath != "" && cfg.JournalPath != journalOff {
		j, err = journal.Open(cfg.JournalPath)
		if err != nil {
			closeQuietly(transport, log)
			return nil, err
		}
	}

	run, err := testrun.New(testrun.Options{
		Target:       cfg.Target,
		Exec:         exec,
		Transport:    transport,
		Journal:      j,
		LockDir:      cfg.LockDir,
		VendorTool:   cfg.VendorTool,
		PollInterval: cfg.PollInterval,
		PollTimeout:  cfg.PollTimeout,
		Features:     cfg.DiskFeatures,
		Log:          log,
	})
	if err != nil {
		if j != nil {
			closeQuietly(j, log)
		}
		closeQuietly(transport, log)
		return nil, err
	}
	return run, nil
}

func newExecutor(cfg *config.Config) (executor.Executor, io.Closer, error) {
	if cfg.IsLocal() {
		return executor.Local{Nsenter: cfg.Nsenter, Timeout: cfg.CommandTimeout}, nil, nil
	}
	target, err := ssh.ParseTarget(cfg.Target)
	if err != nil {
		return nil, nil, err
	}
	runner, err := ssh.NewRunner(target, cfg.IdentityFile)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s: %w", target, err)
	}
	return runner, runner, nil
}

func closeQuietly(c io.Closer, log *slog.Logger) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		log.Warn("close failed", "error", err)
	}
}
