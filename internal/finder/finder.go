// Package finder discovers and classifies the test disks of a target machine.
package finder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/escape-velocity-ventures/disk-harness/internal/disk"
	"github.com/escape-velocity-ventures/disk-harness/internal/executor"
)

// DefaultVendorTool is the Intel SSD data center tool used to inventory SSDs.
const DefaultVendorTool = "isdct"

// ErrByIDNotFound means no /dev/disk/by-id link points at a device.
var ErrByIDNotFound = errors.New("by-id device link not found")

// Finder runs discovery commands through an executor.
type Finder struct {
	exec       executor.Executor
	log        *slog.Logger
	vendorTool string
	sysBlock   string
}

// New creates a Finder. An empty vendorTool selects DefaultVendorTool.
func New(exec executor.Executor, log *slog.Logger, vendorTool string) *Finder {
	if log == nil {
		log = slog.Default()
	}
	if vendorTool == "" {
		vendorTool = DefaultVendorTool
	}
	return &Finder{
		exec:       exec,
		log:        log.With("component", "finder"),
		vendorTool: vendorTool,
	}
}

// candidate is a non-system block device eligible for testing.
type candidate struct {
	name string // kernel name, e.g. "sdb"
	path string // by-id link
}

// Discover classifies every non-system disk of the target. SSDs known to the
// vendor tool come first, in vendor index order, followed by HDDs in listing
// order.
func (f *Finder) Discover(ctx context.Context) ([]disk.Record, error) {
	f.log.Info("finding platform's disks")

	if _, err := executor.RunExpectSuccess(ctx, f.exec, f.vendorTool); err != nil {
		return nil, fmt.Errorf("vendor tool precheck: %w", err)
	}

	sc, err := f.scan(ctx)
	if err != nil {
		return nil, err
	}
	if len(sc.unresolved) > 0 {
		return nil, fmt.Errorf("%w for device %s", ErrByIDNotFound, sc.unresolved[0])
	}

	ssds, pool, err := f.discoverSSDs(ctx, sc)
	if err != nil {
		return nil, fmt.Errorf("looking for SSDs: %w", err)
	}
	hdds, err := f.discoverHDDs(ctx, pool)
	if err != nil {
		return nil, fmt.Errorf("looking for HDDs: %w", err)
	}

	records := append(ssds, hdds...)
	f.log.Info("discovery complete", "ssds", len(ssds), "hdds", len(hdds))
	return records, nil
}

// scanResult is one listing of eligible devices. Devices without a by-id
// link are kept apart so callers can decide whether that is fatal.
type scanResult struct {
	pool       []candidate
	unresolved []string
	index      byIDIndex
}

func (f *Finder) scan(ctx context.Context) (*scanResult, error) {
	out, err := executor.RunExpectSuccess(ctx, f.exec, "ls -1 /sys/block")
	if err != nil {
		return nil, err
	}
	system, err := f.SystemDisks(ctx)
	if err != nil {
		return nil, fmt.Errorf("finding system disks: %w", err)
	}
	index, err := f.byIDIndex(ctx)
	if err != nil {
		return nil, err
	}

	sc := &scanResult{index: index}
	for _, name := range FilterBlockDevices(out.Stdout, system) {
		link, err := f.resolveByID(ctx, index, name)
		if errors.Is(err, ErrByIDNotFound) {
			sc.unresolved = append(sc.unresolved, name)
			continue
		}
		if err != nil {
			return nil, err
		}
		sc.pool = append(sc.pool, candidate{name: name, path: link})
	}
	return sc, nil
}

// FilterBlockDevices returns the sd* and nvme* entries of an
// `ls -1 /sys/block` listing that are not system disks.
func FilterBlockDevices(listing string, system []string) []string {
	skip := make(map[string]bool, len(system))
	for _, s := range system {
		skip[s] = true
	}
	var names []string
	for _, line := range strings.Split(listing, "\n") {
		name := strings.TrimSpace(line)
		if name == "" || skip[name] {
			continue
		}
		if strings.HasPrefix(name, "sd") || strings.HasPrefix(name, "nvme") {
			names = append(names, name)
		}
	}
	return names
}

func (f *Finder) discoverSSDs(ctx context.Context, sc *scanResult) ([]disk.Record, []candidate, error) {
	pool := sc.pool
	countCmd := fmt.Sprintf("%s show -intelssd | grep DevicePath | wc -l", f.vendorTool)
	out, err := executor.RunExpectSuccess(ctx, f.exec, countCmd)
	if err != nil {
		return nil, nil, err
	}
	count, err := strconv.Atoi(strings.TrimSpace(out.Stdout))
	if err != nil {
		return nil, nil, fmt.Errorf("parse SSD count %q: %w", out.Stdout, err)
	}

	var records []disk.Record
	for i := 0; i < count; i++ {
		out, err := executor.RunExpectSuccess(ctx, f.exec, fmt.Sprintf("%s show -intelssd %d", f.vendorTool, i))
		if err != nil {
			return nil, nil, err
		}
		entry := ParseVendorEntry(out.Stdout)
		if entry.DevicePath == "" {
			f.log.Warn("vendor tool entry has no device path", "index", i)
			continue
		}

		var match int
		var dt disk.DiskType
		if strings.Contains(entry.DevicePath, "nvme") {
			match, err = f.matchNVMe(ctx, sc.index, pool, entry.DevicePath)
			dt = disk.NAND
			if entry.Optane {
				dt = disk.Optane
			}
		} else {
			match, err = f.matchBySerial(ctx, pool, entry.SerialNumber)
			dt = disk.SATA
		}
		if err != nil {
			return nil, nil, err
		}
		if match < 0 {
			f.log.Debug("vendor SSD is not a test candidate", "index", i, "device", entry.DevicePath)
			continue
		}

		c := pool[match]
		rec, err := f.record(ctx, c, dt, entry.SerialNumber)
		if err != nil {
			return nil, nil, err
		}
		records = append(records, rec)
		pool = slices.Delete(pool, match, match+1)
	}
	return records, pool, nil
}

func (f *Finder) matchNVMe(ctx context.Context, index byIDIndex, pool []candidate, devicePath string) (int, error) {
	link, err := f.resolveByID(ctx, index, devicePath)
	if errors.Is(err, ErrByIDNotFound) {
		return -1, nil
	}
	if err != nil {
		return -1, err
	}
	for i, c := range pool {
		if c.path == link {
			return i, nil
		}
	}
	return -1, nil
}

func (f *Finder) matchBySerial(ctx context.Context, pool []candidate, serial string) (int, error) {
	if serial == "" {
		return -1, nil
	}
	for i, c := range pool {
		s, err := f.sgInqSerial(ctx, c.path)
		if err != nil {
			return -1, err
		}
		if s == serial {
			return i, nil
		}
	}
	return -1, nil
}

func (f *Finder) discoverHDDs(ctx context.Context, pool []candidate) ([]disk.Record, error) {
	var records []disk.Record
	for _, c := range pool {
		lookup, err := f.SerialNumber(ctx, c.path)
		if err != nil {
			return nil, err
		}
		rec, err := f.record(ctx, c, disk.HDD, lookup.Serial)
		if err != nil {
			return nil, err
		}
		if rec.BlockSize == 4096 {
			rec.Type = disk.HDD4K
		}
		records = append(records, rec)
	}
	return records, nil
}

func (f *Finder) record(ctx context.Context, c candidate, dt disk.DiskType, serial string) (disk.Record, error) {
	blockSize, err := f.BlockSize(ctx, c.name)
	if err != nil {
		return disk.Record{}, err
	}
	size, err := f.Size(ctx, c.name)
	if err != nil {
		return disk.Record{}, err
	}
	return disk.Record{
		Type:      dt,
		Path:      c.path,
		Serial:    serial,
		BlockSize: blockSize,
		Size:      size,
	}, nil
}

// BlockSize returns the hardware sector size of the named device. Values
// that cannot be parsed fall back to 512.
func (f *Finder) BlockSize(ctx context.Context, name string) (uint64, error) {
	sysBlock, err := f.SysBlockPath(ctx)
	if err != nil {
		return 0, err
	}
	out, err := executor.RunExpectSuccess(ctx, f.exec, fmt.Sprintf("cat %s/%s/queue/hw_sector_size", sysBlock, name))
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.TrimSpace(out.Stdout), 10, 64)
	if err != nil {
		f.log.Warn("unparsable sector size, assuming 512", "device", name, "value", out.Stdout)
		return 512, nil
	}
	return v, nil
}

// Size returns the capacity of the named device in bytes.
func (f *Finder) Size(ctx context.Context, name string) (uint64, error) {
	sysBlock, err := f.SysBlockPath(ctx)
	if err != nil {
		return 0, err
	}
	out, err := executor.RunExpectSuccess(ctx, f.exec, fmt.Sprintf("cat %s/%s/size", sysBlock, name))
	if err != nil {
		return 0, err
	}
	sectors, err := strconv.ParseUint(strings.TrimSpace(out.Stdout), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse size of %s: %w", name, err)
	}
	return sectors * 512, nil
}
