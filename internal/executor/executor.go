// Package executor abstracts running shell commands on the machine under test.
package executor

import (
	"context"
	"fmt"
	"strings"
)

// Output holds the result of a shell command on the target.
type Output struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

func (o Output) String() string {
	return fmt.Sprintf("exit_code: %d\nstdout: %s\nstderr: %s", o.ExitCode, o.Stdout, o.Stderr)
}

// Executor runs a command on the target machine, local or remote.
// A nonzero exit code is not an error; the returned error is reserved for
// failures to run the command at all (transport, timeout, cancellation).
type Executor interface {
	Run(ctx context.Context, command string) (Output, error)
}

// CmdError reports a command that ran but exited nonzero.
type CmdError struct {
	Command string
	Message string
	Output  Output
}

func (e *CmdError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = fmt.Sprintf("command %q failed", e.Command)
	}
	return msg + "\n" + e.Output.String()
}

// RunExpectSuccess runs command and returns a *CmdError if it exits nonzero.
func RunExpectSuccess(ctx context.Context, e Executor, command string) (Output, error) {
	out, err := e.Run(ctx, command)
	if err != nil {
		return out, fmt.Errorf("run %q: %w", command, err)
	}
	if out.ExitCode != 0 {
		return out, &CmdError{Command: command, Output: out}
	}
	return out, nil
}

// normalize trims the trailing newline noise every shell command leaves behind.
func normalize(s string) string {
	return strings.TrimRight(s, " \t\r\n")
}
