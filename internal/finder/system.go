package finder

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/escape-velocity-ventures/disk-harness/internal/executor"
)

// SysBlockPath returns /sys/class/block when the target has it, else
// /sys/block. The answer is cached.
func (f *Finder) SysBlockPath(ctx context.Context) (string, error) {
	if f.sysBlock != "" {
		return f.sysBlock, nil
	}
	out, err := f.exec.Run(ctx, "test -d /sys/class/block")
	if err != nil {
		return "", err
	}
	f.sysBlock = "/sys/block"
	if out.ExitCode == 0 {
		f.sysBlock = "/sys/class/block"
	}
	return f.sysBlock, nil
}

// SystemDisks returns the kernel names of the disks backing the root
// filesystem, following device-mapper and md stacks down to their leaves.
func (f *Finder) SystemDisks(ctx context.Context) ([]string, error) {
	out, err := executor.RunExpectSuccess(ctx, f.exec, `mount | grep " / "`)
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(out.Stdout)
	if len(fields) == 0 {
		return nil, fmt.Errorf("no root mount in %q", out.Stdout)
	}
	source, err := f.readlink(ctx, fields[0])
	if err != nil {
		return nil, err
	}
	root := path.Base(source)

	sysBlock, err := f.SysBlockPath(ctx)
	if err != nil {
		return nil, err
	}
	used, err := f.slaves(ctx, sysBlock, root)
	if err != nil {
		return nil, err
	}
	if len(used) == 0 {
		used = []string{root}
	}

	var disks []string
	for _, name := range used {
		marker, err := f.exec.Run(ctx, fmt.Sprintf("test -e %s/%s/partition", sysBlock, name))
		if err != nil {
			return nil, err
		}
		if marker.ExitCode != 0 {
			disks = append(disks, name)
			continue
		}
		parent, err := f.readlink(ctx, fmt.Sprintf("%s/%s/..", sysBlock, name))
		if err != nil {
			return nil, err
		}
		disks = append(disks, path.Base(parent))
	}
	f.log.Debug("system disks", "disks", disks)
	return disks, nil
}

// slaves returns the leaf devices under name. A device without a slaves
// directory, or with an empty one, is itself a leaf and yields nil.
func (f *Finder) slaves(ctx context.Context, sysBlock, name string) ([]string, error) {
	cmd := fmt.Sprintf("ls %s/%s/slaves", sysBlock, name)
	out, err := f.exec.Run(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if out.ExitCode != 0 {
		if strings.Contains(out.Stderr, "No such file or directory") {
			return nil, nil
		}
		return nil, &executor.CmdError{Command: cmd, Output: out}
	}

	var leaves []string
	for _, child := range strings.Fields(out.Stdout) {
		below, err := f.slaves(ctx, sysBlock, child)
		if err != nil {
			return nil, err
		}
		if len(below) > 0 {
			leaves = append(leaves, below...)
		} else {
			leaves = append(leaves, child)
		}
	}
	return leaves, nil
}

func (f *Finder) readlink(ctx context.Context, p string) (string, error) {
	out, err := executor.RunExpectSuccess(ctx, f.exec, "readlink -f "+p)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Stdout), nil
}
