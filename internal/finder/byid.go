package finder

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/escape-velocity-ventures/disk-harness/internal/executor"
)

const byIDDir = "/dev/disk/by-id"

// byIDIndex holds the by-id links in listing order with their resolved
// targets.
type byIDIndex struct {
	links   []string
	targets []string
}

// lookup returns the first link resolving to target.
func (ix byIDIndex) lookup(target string) (string, bool) {
	for i, t := range ix.targets {
		if t == target {
			return ix.links[i], true
		}
	}
	return "", false
}

func (f *Finder) byIDIndex(ctx context.Context) (byIDIndex, error) {
	out, err := executor.RunExpectSuccess(ctx, f.exec, "ls -1 "+byIDDir)
	if err != nil {
		return byIDIndex{}, err
	}
	var ix byIDIndex
	for _, name := range strings.Split(out.Stdout, "\n") {
		if name = strings.TrimSpace(name); name != "" {
			ix.links = append(ix.links, path.Join(byIDDir, name))
		}
	}
	if len(ix.links) == 0 {
		return ix, nil
	}

	// Resolve every link in one round trip; fall back to one call per link
	// when some link could not be resolved and the output no longer lines up.
	out, err = f.exec.Run(ctx, "readlink -f "+strings.Join(ix.links, " "))
	if err != nil {
		return byIDIndex{}, err
	}
	targets := strings.Fields(out.Stdout)
	if out.ExitCode == 0 && len(targets) == len(ix.links) {
		ix.targets = targets
		return ix, nil
	}

	ix.targets = make([]string, len(ix.links))
	for i, link := range ix.links {
		out, err := f.exec.Run(ctx, "readlink -f "+link)
		if err != nil {
			return byIDIndex{}, err
		}
		if out.ExitCode == 0 {
			ix.targets[i] = strings.TrimSpace(out.Stdout)
		}
	}
	return ix, nil
}

// resolveByID maps a device name ("sdb") or path ("/dev/nvme0n1") to its
// first by-id link.
func (f *Finder) resolveByID(ctx context.Context, ix byIDIndex, device string) (string, error) {
	p := device
	if !strings.HasPrefix(p, "/") {
		p = path.Join("/dev", p)
	}
	target, err := f.readlink(ctx, p)
	if err != nil {
		return "", err
	}
	if link, ok := ix.lookup(target); ok {
		return link, nil
	}
	return "", fmt.Errorf("%w for device %s", ErrByIDNotFound, device)
}

// ResolveByID returns the first /dev/disk/by-id link of device.
func (f *Finder) ResolveByID(ctx context.Context, device string) (string, error) {
	ix, err := f.byIDIndex(ctx)
	if err != nil {
		return "", err
	}
	return f.resolveByID(ctx, ix, device)
}
