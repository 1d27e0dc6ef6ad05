package disk

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/escape-velocity-ventures/disk-harness/internal/executor"
)

const (
	// NVMePlugAll rescans the PCI bus.
	NVMePlugAll = "echo 1 > /sys/bus/pci/rescan"
	// SCSIPlugAll rescans every SCSI host.
	SCSIPlugAll = "for i in $(find -H /sys/devices/ -path '*/scsi_host/*/scan' -type f); " +
		"do echo '- - -' > $i; done;"
)

// Kind is the bus-specific plug strategy of a disk.
type Kind interface {
	Name() string
	// PlugCommand returns the command that makes the disk visible again.
	PlugCommand() string
	// UnplugCommands returns removal commands to try in order; the first one
	// that succeeds removes the disk.
	UnplugCommands(ctx context.Context, env Env, d *Disk) ([]string, error)
}

// NVMe disks are removed through their PCI device and return on a bus rescan.
type NVMe struct{}

func (NVMe) Name() string { return "nvme" }

func (NVMe) PlugCommand() string { return NVMePlugAll }

func (NVMe) UnplugCommands(ctx context.Context, env Env, d *Disk) ([]string, error) {
	id, err := d.DeviceID(ctx, env)
	if err != nil {
		return nil, err
	}
	return []string{
		fmt.Sprintf("echo 1 > /sys/block/%s/device/remove", id),
		fmt.Sprintf("echo 1 > /sys/block/%s/device/device/remove", id),
	}, nil
}

// SCSI disks (HDDs and SATA SSDs) are deleted through their SCSI device and
// return on a host scan. Unplugging records the exact scan command for the
// disk's address so that a later Plug rescans only that target.
type SCSI struct {
	plugCommand string
}

func (*SCSI) Name() string { return "scsi" }

func (s *SCSI) PlugCommand() string {
	if s.plugCommand != "" {
		return s.plugCommand
	}
	return SCSIPlugAll
}

func (s *SCSI) UnplugCommands(ctx context.Context, env Env, d *Disk) ([]string, error) {
	id, err := d.DeviceID(ctx, env)
	if err != nil {
		return nil, err
	}
	sysfsPath, err := findSysfsPath(ctx, env.Exec, id)
	if err != nil {
		return nil, err
	}
	addr, hostPath, err := ParseSysfsPath(sysfsPath)
	if err != nil {
		return nil, err
	}
	s.plugCommand = addr.ScanCommand(hostPath)
	return []string{fmt.Sprintf("echo 1 > %s/device/delete", sysfsPath)}, nil
}

func findSysfsPath(ctx context.Context, exec executor.Executor, id string) (string, error) {
	cmd := fmt.Sprintf("find -H /sys/devices/ -name %s -type d", id)
	out, err := exec.Run(ctx, cmd)
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(out.Stdout, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return strings.TrimSuffix(line, "/"), nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrSysfsNotFound, cmd)
}

// SCSIAddress is the controller:port:target:lun tuple of a SCSI device.
type SCSIAddress struct {
	Controller string
	Port       string
	Target     string
	LUN        string
}

func (a SCSIAddress) String() string {
	return strings.Join([]string{a.Controller, a.Port, a.Target, a.LUN}, ":")
}

// ScanCommand returns the command that rescans exactly this address on the
// host adapter found under hostPath.
func (a SCSIAddress) ScanCommand(hostPath string) string {
	return fmt.Sprintf("echo '%s %s %s' > %s/host%s/scsi_host/host%s/scan",
		a.Port, a.Target, a.LUN, hostPath, a.Controller, a.Controller)
}

var scsiAddressRe = regexp.MustCompile(`^(\d+)[-:](\d+)[-:](\d+)[-:](\d+)$`)

// ParseSysfsPath extracts the SCSI address and the path of the parent host
// adapter from a block device sysfs path such as
// /sys/devices/pci0000:00/0000:00:1f.2/ata1/host0/target0:0:0/0:0:0:0/block/sdb.
func ParseSysfsPath(sysfsPath string) (SCSIAddress, string, error) {
	dirs := strings.Split(strings.TrimSuffix(sysfsPath, "/"), "/")
	if len(dirs) < 3 {
		return SCSIAddress{}, "", fmt.Errorf("%w: %s is too short", ErrSysfsNotFound, sysfsPath)
	}
	m := scsiAddressRe.FindStringSubmatch(dirs[len(dirs)-3])
	if m == nil {
		return SCSIAddress{}, "", fmt.Errorf("%w: no SCSI address in %s", ErrSysfsNotFound, sysfsPath)
	}

	var host []string
	for _, d := range dirs {
		if strings.HasPrefix(d, "host") {
			break
		}
		host = append(host, d)
	}
	return SCSIAddress{Controller: m[1], Port: m[2], Target: m[3], LUN: m[4]}, strings.Join(host, "/"), nil
}
