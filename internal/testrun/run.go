// Package testrun owns the state of one harness run against one target
// machine: its executor, its discovered disks and the disks assigned to
// named requirements.
package testrun

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/escape-velocity-ventures/disk-harness/internal/disk"
	"github.com/escape-velocity-ventures/disk-harness/internal/executor"
	"github.com/escape-velocity-ventures/disk-harness/internal/finder"
	"github.com/escape-velocity-ventures/disk-harness/internal/journal"
)

// ErrTargetLocked is returned when another run holds the target.
var ErrTargetLocked = errors.New("target is locked by another run")

// Options configures a Run.
type Options struct {
	// Target names the machine under test, e.g. "local" or "root@dut-07".
	Target string
	// Exec runs commands on the target.
	Exec executor.Executor
	// Transport, when set, is closed with the run.
	Transport io.Closer
	// Journal, when set, records every command of the run.
	Journal *journal.Journal
	// LockDir holds one lock file per target. Empty disables locking.
	LockDir    string
	VendorTool string

	PollInterval time.Duration
	PollTimeout  time.Duration

	// Features lists disk features keyed by serial number or path.
	Features map[string][]string

	Log *slog.Logger
}

// Run is the context of one harness run. It is not safe for concurrent use.
type Run struct {
	ID     string
	Target string

	exec      executor.Executor
	recorder  *journal.Recorder
	journal   *journal.Journal
	transport io.Closer
	lock      *flock.Flock
	log       *slog.Logger
	finder    *finder.Finder
	features  map[string][]string

	pollInterval time.Duration
	pollTimeout  time.Duration

	discovered []*disk.Disk
	assigned   map[string]*disk.Disk
	order      []string
}

// New starts a run. It takes the target lock, failing fast when another
// run holds it.
func New(opts Options) (*Run, error) {
	if opts.Exec == nil {
		return nil, fmt.Errorf("testrun: executor is required")
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	target := opts.Target
	if target == "" {
		target = "local"
	}

	r := &Run{
		ID:           uuid.NewString(),
		Target:       target,
		exec:         opts.Exec,
		journal:      opts.Journal,
		transport:    opts.Transport,
		features:     opts.Features,
		pollInterval: opts.PollInterval,
		pollTimeout:  opts.PollTimeout,
		assigned:     make(map[string]*disk.Disk),
	}
	r.log = log.With("component", "testrun", "run_id", r.ID, "target", target)

	if opts.LockDir != "" {
		lock, err := acquire(opts.LockDir, target)
		if err != nil {
			return nil, err
		}
		r.lock = lock
	}

	if opts.Journal != nil {
		r.recorder = journal.NewRecorder(opts.Exec, opts.Journal, r.ID, target)
		r.exec = r.recorder
		if err := r.recorder.Mark(journal.EventRunStart, ""); err != nil {
			r.log.Warn("failed to journal run start", "error", err)
		}
	}

	r.finder = finder.New(r.exec, log, opts.VendorTool)
	r.log.Info("run started")
	return r, nil
}

func acquire(dir, target string) (*flock.Flock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	name := strings.ReplaceAll(target, string(os.PathSeparator), "_") + ".lock"
	lock := flock.New(filepath.Join(dir, name))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", lock.Path(), err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTargetLocked, lock.Path())
	}
	return lock, nil
}

// Close ends the run, releasing the target lock, the journal and the
// transport. Every step is attempted.
func (r *Run) Close() error {
	var err error
	if r.recorder != nil {
		err = multierr.Append(err, r.recorder.Mark(journal.EventRunEnd, ""))
	}
	if r.journal != nil {
		err = multierr.Append(err, r.journal.Close())
	}
	if r.transport != nil {
		err = multierr.Append(err, r.transport.Close())
	}
	if r.lock != nil {
		err = multierr.Append(err, r.lock.Unlock())
	}
	r.log.Info("run finished")
	return err
}

// Exec returns the executor of the run.
func (r *Run) Exec() executor.Executor {
	return r.exec
}

// Finder returns the disk finder of the run.
func (r *Run) Finder() *finder.Finder {
	return r.finder
}

// Env returns the environment disk operations run in.
func (r *Run) Env() disk.Env {
	return disk.Env{
		Exec:         r.exec,
		Serials:      r.finder,
		Log:          r.log,
		PollInterval: r.pollInterval,
		PollTimeout:  r.pollTimeout,
	}
}

// Discover finds the disks of the target and replaces any earlier result.
func (r *Run) Discover(ctx context.Context) ([]*disk.Disk, error) {
	records, err := r.finder.Discover(ctx)
	if err != nil {
		return nil, err
	}
	r.discovered = make([]*disk.Disk, 0, len(records))
	for _, rec := range records {
		d := disk.New(rec, r.featuresOf(rec)...)
		r.discovered = append(r.discovered, d)
		r.log.Debug("discovered disk", "type", d.Type, "path", d.Path, "serial", d.SerialNumber)
	}
	return r.Disks(), nil
}

func (r *Run) featuresOf(rec disk.Record) []string {
	if rec.Serial != "" {
		if f, ok := r.features[rec.Serial]; ok {
			return f
		}
	}
	return r.features[rec.Path]
}

// Disks returns the disks found by the last Discover.
func (r *Run) Disks() []*disk.Disk {
	return append([]*disk.Disk(nil), r.discovered...)
}

// Lookup returns the discovered disk with the given serial number or path.
func (r *Run) Lookup(id string) (*disk.Disk, bool) {
	for _, d := range r.discovered {
		if d.SerialNumber == id || d.Path == id {
			return d, true
		}
	}
	return nil, false
}

// Resolve finds a discovered disk by serial number, path or kernel name
// ("sdb", "/dev/nvme0n1"). Kernel names are mapped to their by-id link
// first.
func (r *Run) Resolve(ctx context.Context, id string) (*disk.Disk, error) {
	if d, ok := r.Lookup(id); ok {
		return d, nil
	}
	link, err := r.finder.ResolveByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("no test disk with serial number or path %q: %w", id, err)
	}
	if d, ok := r.Lookup(link); ok {
		return d, nil
	}
	return nil, fmt.Errorf("%s (%s) is not a test disk", id, link)
}

// Disk returns the disk assigned to name. It makes Run a disk.Registry.
func (r *Run) Disk(name string) (*disk.Disk, bool) {
	d, ok := r.assigned[name]
	return d, ok
}

// Assigned returns the requirement names in assignment order.
func (r *Run) Assigned() []string {
	return append([]string(nil), r.order...)
}

// PlugAll brings back every removed disk of the target.
func (r *Run) PlugAll(ctx context.Context) error {
	r.log.Info("plugging all disks")
	return disk.PlugAll(ctx, r.exec)
}
