package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// DefaultTimeout bounds a single command when no timeout is configured.
const DefaultTimeout = 5 * time.Minute

// Local runs commands on this host through /bin/sh, optionally entering the
// host mount namespace with nsenter (when the harness runs in a container).
type Local struct {
	Nsenter bool
	Timeout time.Duration
}

// Run executes command locally.
func (l Local) Run(ctx context.Context, command string) (Output, error) {
	timeout := l.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var cmd *exec.Cmd
	if l.Nsenter {
		cmd = exec.CommandContext(ctx, "nsenter", "--target", "1", "--mount", "--", "sh", "-c", command)
	} else {
		cmd = exec.CommandContext(ctx, "/bin/sh", "-c", command)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	out := Output{
		Stdout: normalize(stdout.String()),
		Stderr: normalize(stderr.String()),
	}
	if err != nil {
		if ctx.Err() != nil {
			return out, fmt.Errorf("command %q: %w", command, ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
			return out, nil
		}
		return out, fmt.Errorf("command %q: %w", command, err)
	}
	return out, nil
}
