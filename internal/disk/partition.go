package disk

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	units "github.com/docker/go-units"

	"github.com/escape-velocity-ventures/disk-harness/internal/executor"
)

// PartitionTable is a partition table format understood by parted.
type PartitionTable string

const (
	GPT   PartitionTable = "gpt"
	MSDOS PartitionTable = "msdos"
)

// Partition is a partition of a Disk. The parent link is a lookup, the disk
// owns the partition.
type Partition struct {
	Number int
	Path   string
	parent *Disk
}

// Parent returns the disk holding p.
func (p *Partition) Parent() *Disk {
	return p.parent
}

func (p *Partition) String() string {
	return fmt.Sprintf("partition %d: %s", p.Number, p.Path)
}

// IsMounted reports whether p is mounted anywhere.
func (p *Partition) IsMounted(ctx context.Context, env Env) (bool, error) {
	out, err := env.Exec.Run(ctx, fmt.Sprintf("findmnt --noheadings --output TARGET --source $(readlink -f %s)", p.Path))
	if err != nil {
		return false, err
	}
	return out.ExitCode == 0 && strings.TrimSpace(out.Stdout) != "", nil
}

// Unmount unmounts p.
func (p *Partition) Unmount(ctx context.Context, env Env) error {
	_, err := executor.RunExpectSuccess(ctx, env.Exec, "umount "+p.Path)
	return err
}

// PartitionPath returns the path of partition n of the device at parent.
func PartitionPath(parent string, n int) string {
	switch {
	case strings.Contains(parent, "/disk/by-id/"):
		return parent + "-part" + strconv.Itoa(n)
	case parent != "" && unicode.IsDigit(rune(parent[len(parent)-1])):
		return parent + "p" + strconv.Itoa(n)
	default:
		return parent + strconv.Itoa(n)
	}
}

// CreatePartitions writes a new partition table to d and creates one
// partition per size (bytes, rounded up to MiB). The first partition starts
// at 1MiB.
func (d *Disk) CreatePartitions(ctx context.Context, env Env, sizes []uint64, table PartitionTable) error {
	if table == MSDOS && len(sizes) > 4 {
		return fmt.Errorf("msdos partition table holds at most 4 primary partitions, %d requested", len(sizes))
	}
	env.logger().Info("creating partitions", "disk", d.Path, "table", table, "count", len(sizes))

	if _, err := executor.RunExpectSuccess(ctx, env.Exec,
		fmt.Sprintf("parted --script %s mklabel %s", d.Path, table)); err != nil {
		return err
	}
	d.Partitions = nil

	start := uint64(1)
	for i, size := range sizes {
		mib := (size + units.MiB - 1) / units.MiB
		end := start + mib
		if _, err := executor.RunExpectSuccess(ctx, env.Exec,
			fmt.Sprintf("parted --script %s mkpart primary %dMiB %dMiB", d.Path, start, end)); err != nil {
			return err
		}
		n := i + 1
		d.Partitions = append(d.Partitions, &Partition{Number: n, Path: PartitionPath(d.Path, n), parent: d})
		start = end
	}

	_, err := env.Exec.Run(ctx, "udevadm settle")
	return err
}

// RemovePartitions unmounts and deletes every partition of d.
func (d *Disk) RemovePartitions(ctx context.Context, env Env) error {
	for _, p := range d.Partitions {
		mounted, err := p.IsMounted(ctx, env)
		if err != nil {
			return err
		}
		if mounted {
			if err := p.Unmount(ctx, env); err != nil {
				return err
			}
		}
	}
	for _, p := range d.Partitions {
		if _, err := executor.RunExpectSuccess(ctx, env.Exec,
			fmt.Sprintf("parted --script %s rm %d", d.Path, p.Number)); err != nil {
			return err
		}
	}
	d.Partitions = nil
	return nil
}

// UmountAllPartitions lazily unmounts everything mounted from d.
func (d *Disk) UmountAllPartitions(ctx context.Context, env Env) error {
	env.logger().Info("umounting all partitions", "disk", d.Path)
	node, err := executor.RunExpectSuccess(ctx, env.Exec, "readlink -f "+d.Path)
	if err != nil {
		return err
	}
	_, err = env.Exec.Run(ctx, fmt.Sprintf("umount -l %s*?", strings.TrimSpace(node.Stdout)))
	return err
}
