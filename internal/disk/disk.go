package disk

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	units "github.com/docker/go-units"
	"go.uber.org/multierr"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/escape-velocity-ventures/disk-harness/internal/executor"
)

const (
	DefaultPollInterval = time.Second
	DefaultPollTimeout  = time.Minute
)

// SerialResolver maps the serial numbers currently visible on the target to
// device paths. Devices without a serial map their path to itself.
type SerialResolver interface {
	SerialNumbers(ctx context.Context) (map[string]string, error)
}

// Env carries the collaborators a disk operation needs. It is built by the
// owning test run and passed explicitly to every call.
type Env struct {
	Exec         executor.Executor
	Serials      SerialResolver
	Log          *slog.Logger
	PollInterval time.Duration
	PollTimeout  time.Duration
}

func (e Env) logger() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}

// Disk is a discovered disk owned by a test run.
type Disk struct {
	Path         string
	Type         DiskType
	SerialNumber string
	BlockSize    uint64
	Size         uint64
	Partitions   []*Partition
	Features     map[string]struct{}

	kind Kind
}

// New builds a Disk from a discovery record. The plug strategy is chosen
// from the disk type.
func New(rec Record, features ...string) *Disk {
	d := &Disk{
		Path:         rec.Path,
		Type:         rec.Type,
		SerialNumber: rec.Serial,
		BlockSize:    rec.BlockSize,
		Size:         rec.Size,
		Features:     make(map[string]struct{}, len(features)),
	}
	for _, f := range features {
		d.Features[f] = struct{}{}
	}
	if rec.Type.IsNVMe() {
		d.kind = &NVMe{}
	} else {
		d.kind = &SCSI{}
	}
	return d
}

// Kind returns the plug strategy of d.
func (d *Disk) Kind() Kind {
	return d.kind
}

// ID identifies d: its serial number when known, else its path.
func (d *Disk) ID() string {
	if d.SerialNumber != "" {
		return d.SerialNumber
	}
	return d.Path
}

// Record returns the discovery view of d.
func (d *Disk) Record() Record {
	return Record{
		Type:      d.Type,
		Path:      d.Path,
		Serial:    d.SerialNumber,
		BlockSize: d.BlockSize,
		Size:      d.Size,
	}
}

// DeviceID returns the kernel name of d (e.g. "sdb"), resolving its path.
func (d *Disk) DeviceID(ctx context.Context, env Env) (string, error) {
	out, err := executor.RunExpectSuccess(ctx, env.Exec, "readlink -f "+d.Path)
	if err != nil {
		return "", err
	}
	return path.Base(strings.TrimSpace(out.Stdout)), nil
}

// IsDetected reports whether the target currently sees d. When d has a
// serial number, its path and the paths of its partitions are refreshed
// from the current serial mapping.
func (d *Disk) IsDetected(ctx context.Context, env Env) (bool, error) {
	switch {
	case d.SerialNumber != "":
		serials, err := env.Serials.SerialNumbers(ctx)
		if err != nil {
			return false, err
		}
		p, ok := serials[d.SerialNumber]
		if !ok {
			return false, nil
		}
		d.Path = p
		for _, part := range d.Partitions {
			part.Path = PartitionPath(d.Path, part.Number)
		}
		return true, nil
	case d.Path != "":
		out, err := env.Exec.Run(ctx, "test -e "+d.Path)
		if err != nil {
			return false, err
		}
		return out.ExitCode == 0, nil
	}
	return false, ErrContractViolation
}

// Plug makes d visible again. It is a no-op when d is already detected.
func (d *Disk) Plug(ctx context.Context, env Env) error {
	detected, err := d.IsDetected(ctx, env)
	if err != nil {
		return err
	}
	if detected {
		return nil
	}
	env.logger().Info("plugging disk", "type", d.Type, "id", d.ID())
	if _, err := executor.RunExpectSuccess(ctx, env.Exec, d.kind.PlugCommand()); err != nil {
		return err
	}
	return d.waitForPlugStatus(ctx, env, true)
}

// Unplug removes d from the system. It is a no-op when d is not detected.
func (d *Disk) Unplug(ctx context.Context, env Env) error {
	detected, err := d.IsDetected(ctx, env)
	if err != nil {
		return err
	}
	if !detected {
		return nil
	}
	env.logger().Info("unplugging disk", "type", d.Type, "id", d.ID())

	commands, err := d.kind.UnplugCommands(ctx, env, d)
	if err != nil {
		return err
	}
	var last executor.Output
	removed := false
	for _, c := range commands {
		out, err := env.Exec.Run(ctx, c)
		if err != nil {
			return err
		}
		if out.ExitCode == 0 {
			removed = true
			break
		}
		last = out
	}
	if !removed {
		return &executor.CmdError{
			Command: commands[len(commands)-1],
			Message: fmt.Sprintf("failed to unplug %s disk using sysfs", d.Type),
			Output:  last,
		}
	}
	return d.waitForPlugStatus(ctx, env, false)
}

func (d *Disk) waitForPlugStatus(ctx context.Context, env Env, visible bool) error {
	interval := env.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	timeout := env.PollTimeout
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}

	err := wait.PollUntilContextTimeout(ctx, interval, timeout, true, func(ctx context.Context) (bool, error) {
		detected, err := d.IsDetected(ctx, env)
		if err != nil {
			return false, err
		}
		return detected == visible, nil
	})
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && wait.Interrupted(err) {
		action := "unplug"
		if visible {
			action = "plug"
		}
		return &TimeoutError{Type: d.Type, Action: action, Timeout: timeout}
	}
	return err
}

// HasFeatures reports whether d provides every feature required for its
// type. Types absent from req impose no requirement.
func (d *Disk) HasFeatures(req map[DiskType][]string) bool {
	feats, ok := req[d.Type]
	if !ok {
		return true
	}
	for _, f := range feats {
		if _, ok := d.Features[f]; !ok {
			return false
		}
	}
	return true
}

// FeatureList returns the features of d in sorted order.
func (d *Disk) FeatureList() []string {
	out := make([]string, 0, len(d.Features))
	for f := range d.Features {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func (d *Disk) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "system path: %s, type: %s, serial: %s, size: %s, block size: %s, features: %v, partitions:\n",
		d.Path, d.Type, d.SerialNumber,
		units.BytesSize(float64(d.Size)), units.BytesSize(float64(d.BlockSize)),
		d.FeatureList())
	for _, p := range d.Partitions {
		fmt.Fprintf(&b, "\t%s\n", p)
	}
	return b.String()
}

// PlugAll rescans both the PCI bus and every SCSI host so that all
// previously removed disks come back. Both rescans are attempted.
func PlugAll(ctx context.Context, exec executor.Executor) error {
	_, nvmeErr := executor.RunExpectSuccess(ctx, exec, NVMePlugAll)
	_, scsiErr := executor.RunExpectSuccess(ctx, exec, SCSIPlugAll)
	return multierr.Combine(nvmeErr, scsiErr)
}
