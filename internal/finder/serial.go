package finder

import (
	"context"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"
)

// Serial sources, in lookup order.
const (
	SourceUdevSCSI   = "udev-scsi"
	SourceSGInq      = "sg_inq"
	SourceUdevSerial = "udev-id-serial"
)

// SerialLookup is the outcome of a serial number lookup. Found is false when
// no source reported a serial.
type SerialLookup struct {
	Serial string
	Found  bool
	Source string
}

var scsiSerialKey = regexp.MustCompile(`^SCSI.*_SERIAL$`)

// SerialNumber looks up the serial number of the device at devPath. Udev
// SCSI serial properties are tried first, then the sg_inq unit serial
// number, then the udev ID_SERIAL. The returned error is reserved for
// failures to run the lookup commands.
func (f *Finder) SerialNumber(ctx context.Context, devPath string) (SerialLookup, error) {
	props, err := f.udevProperties(ctx, devPath)
	if err != nil {
		return SerialLookup{}, err
	}
	if s := ParseSCSISerial(props); s != "" {
		return SerialLookup{Serial: s, Found: true, Source: SourceUdevSCSI}, nil
	}

	s, err := f.sgInqSerial(ctx, devPath)
	if err != nil {
		return SerialLookup{}, err
	}
	if s != "" {
		return SerialLookup{Serial: s, Found: true, Source: SourceSGInq}, nil
	}

	if s := props["ID_SERIAL"]; s != "" {
		return SerialLookup{Serial: s, Found: true, Source: SourceUdevSerial}, nil
	}
	return SerialLookup{}, nil
}

// SerialNumbers maps the serial number of every candidate device to its
// by-id path. Devices without a serial are keyed by their own path.
// Devices that have no by-id link yet are skipped.
func (f *Finder) SerialNumbers(ctx context.Context) (map[string]string, error) {
	sc, err := f.scan(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range sc.unresolved {
		f.log.Debug("skipping device without by-id link", "device", name)
	}

	serials := make(map[string]string, len(sc.pool))
	for _, c := range sc.pool {
		lookup, err := f.SerialNumber(ctx, c.path)
		if err != nil {
			return nil, fmt.Errorf("serial number of %s: %w", c.path, err)
		}
		if !lookup.Found {
			f.log.Warn("device does not have a serial number", "device", c.path)
			serials[c.path] = c.path
			continue
		}
		serials[lookup.Serial] = c.path
	}
	return serials, nil
}

func (f *Finder) udevProperties(ctx context.Context, devPath string) (map[string]string, error) {
	out, err := f.exec.Run(ctx, "udevadm info --query=property --name="+devPath)
	if err != nil {
		return nil, err
	}
	if out.ExitCode != 0 {
		return map[string]string{}, nil
	}
	return ParseUdevProperties(out.Stdout), nil
}

func (f *Finder) sgInqSerial(ctx context.Context, devPath string) (string, error) {
	out, err := f.exec.Run(ctx, fmt.Sprintf("sg_inq %s 2> /dev/null", devPath))
	if err != nil {
		return "", err
	}
	if out.ExitCode != 0 {
		return "", nil
	}
	return ParseSGInqSerial(out.Stdout), nil
}

// ParseUdevProperties parses `udevadm info --query=property` KEY=VALUE
// lines. An "E: " prefix from --query=all output is tolerated.
// Exported for testing.
func ParseUdevProperties(output string) map[string]string {
	props := make(map[string]string)
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimPrefix(strings.TrimSpace(line), "E: ")
		key, value, ok := strings.Cut(line, "=")
		if !ok || key == "" {
			continue
		}
		props[key] = strings.TrimSpace(value)
	}
	return props
}

// ParseSCSISerial returns the first non-empty SCSI*_SERIAL property in key
// order, else ID_SERIAL_SHORT.
// Exported for testing.
func ParseSCSISerial(props map[string]string) string {
	for _, k := range slices.Sorted(maps.Keys(props)) {
		if scsiSerialKey.MatchString(k) && props[k] != "" {
			return props[k]
		}
	}
	return props["ID_SERIAL_SHORT"]
}

// ParseSGInqSerial returns the value of the "Unit serial number" line of
// sg_inq output.
// Exported for testing.
func ParseSGInqSerial(output string) string {
	for _, line := range strings.Split(output, "\n") {
		label, value, ok := strings.Cut(line, ":")
		if ok && strings.Contains(strings.ToLower(label), "serial number") {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
