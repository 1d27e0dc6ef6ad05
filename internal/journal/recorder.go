package journal

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/escape-velocity-ventures/disk-harness/internal/executor"
)

// Recorder is an executor.Executor that journals every command it forwards.
type Recorder struct {
	next    executor.Executor
	journal *Journal
	runID   string
	target  string
	log     *slog.Logger
}

// NewRecorder wraps next so that each command is appended to j.
func NewRecorder(next executor.Executor, j *Journal, runID, target string) *Recorder {
	return &Recorder{
		next:    next,
		journal: j,
		runID:   runID,
		target:  target,
		log:     slog.Default().With("component", "journal"),
	}
}

// Run forwards command and records the outcome.
func (r *Recorder) Run(ctx context.Context, command string) (executor.Output, error) {
	start := time.Now()
	out, err := r.next.Run(ctx, command)

	entry := Entry{
		RunID:      r.runID,
		EventType:  EventCommand,
		Target:     r.target,
		Command:    command,
		ExitCode:   out.ExitCode,
		DurationMs: time.Since(start).Milliseconds(),
	}
	switch {
	case errors.Is(err, executor.ErrCommandBlocked):
		entry.EventType = EventBlocked
		entry.Reason = err.Error()
	case err != nil:
		entry.EventType = EventFailed
		entry.Reason = err.Error()
	}

	if jerr := r.journal.Log(entry); jerr != nil {
		r.log.Warn("failed to journal command", "command", command, "error", jerr)
	}
	return out, err
}

// Mark records a run lifecycle event such as EventRunStart.
func (r *Recorder) Mark(eventType, reason string) error {
	return r.journal.Log(Entry{
		RunID:     r.runID,
		EventType: eventType,
		Target:    r.target,
		Reason:    reason,
	})
}
