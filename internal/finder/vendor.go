package finder

import "strings"

// VendorEntry is the part of one `isdct show -intelssd <i>` entry discovery
// uses.
type VendorEntry struct {
	DevicePath   string
	SerialNumber string
	Optane       bool
}

// ParseVendorEntry extracts the device path and serial number from vendor
// tool output. Lines have the form "Label : value"; the value is the third
// whitespace-separated token.
// Exported for testing.
func ParseVendorEntry(output string) VendorEntry {
	var e VendorEntry
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		switch fields[0] {
		case "DevicePath":
			e.DevicePath = fields[2]
		case "SerialNumber":
			e.SerialNumber = fields[2]
		}
	}
	e.Optane = strings.Contains(output, "Optane")
	return e
}
