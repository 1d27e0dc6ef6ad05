// Package executortest provides a scripted executor for tests.
package executortest

import (
	"context"
	"strings"
	"sync"

	"github.com/escape-velocity-ventures/disk-harness/internal/executor"
)

type rule struct {
	exact    string
	contains string
	outs     []executor.Output
	err      error
}

// Fake answers commands from registered rules and records every call.
// Exact rules win over substring rules; a rule with several outputs returns
// them in sequence and then keeps repeating the last one.
type Fake struct {
	mu    sync.Mutex
	rules []*rule
	calls []string
}

// Expect registers outputs for an exact command string.
func (f *Fake) Expect(command string, outs ...executor.Output) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, &rule{exact: command, outs: outs})
	return f
}

// ExpectContains registers outputs for any command containing sub.
func (f *Fake) ExpectContains(sub string, outs ...executor.Output) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, &rule{contains: sub, outs: outs})
	return f
}

// FailTransport makes commands containing sub return err instead of output.
func (f *Fake) FailTransport(sub string, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, &rule{contains: sub, err: err})
	return f
}

// Run implements executor.Executor.
func (f *Fake) Run(_ context.Context, command string) (executor.Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, command)

	r := f.match(command)
	if r == nil {
		return executor.Output{ExitCode: 127, Stderr: "fake: no rule for " + command}, nil
	}
	if r.err != nil {
		return executor.Output{}, r.err
	}
	if len(r.outs) == 0 {
		return executor.Output{}, nil
	}
	out := r.outs[0]
	if len(r.outs) > 1 {
		r.outs = r.outs[1:]
	}
	return out, nil
}

func (f *Fake) match(command string) *rule {
	for _, r := range f.rules {
		if r.exact != "" && r.exact == command {
			return r
		}
	}
	for _, r := range f.rules {
		if r.contains != "" && strings.Contains(command, r.contains) {
			return r
		}
	}
	return nil
}

// Calls returns every command run so far.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Count returns how many commands containing sub were run.
func (f *Fake) Count(sub string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.Contains(c, sub) {
			n++
		}
	}
	return n
}

// OK is a successful output with the given stdout.
func OK(stdout string) executor.Output {
	return executor.Output{Stdout: stdout}
}

// Fail is a failed output with the given exit code and stderr.
func Fail(code int, stderr string) executor.Output {
	return executor.Output{ExitCode: code, Stderr: stderr}
}
