// Package disk models the block devices of the machine under test: their
// type, identity, partitions and hot-plug state.
package disk

import (
	"fmt"
	"strings"
)

// DiskType classifies a disk. Values are ordered from slowest to fastest.
type DiskType int

const (
	HDD DiskType = iota
	HDD4K
	SATA
	NAND
	Optane
)

var typeNames = [...]string{"hdd", "hdd4k", "sata", "nand", "optane"}

// AllTypes returns every DiskType in ascending order.
func AllTypes() []DiskType {
	return []DiskType{HDD, HDD4K, SATA, NAND, Optane}
}

func (t DiskType) String() string {
	if t < HDD || int(t) >= len(typeNames) {
		return fmt.Sprintf("DiskType(%d)", int(t))
	}
	return typeNames[t]
}

// Valid reports whether t is one of the known types.
func (t DiskType) Valid() bool {
	return t >= HDD && int(t) < len(typeNames)
}

// IsNVMe reports whether disks of this type sit on the PCI bus.
func (t DiskType) IsNVMe() bool {
	return t == NAND || t == Optane
}

// ParseType converts a type name such as "hdd4k" to a DiskType.
func ParseType(s string) (DiskType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range typeNames {
		if n == name {
			return DiskType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown disk type %q (valid: %s)", s, strings.Join(typeNames[:], ", "))
}

func (t DiskType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid disk type %d", int(t))
	}
	return []byte(t.String()), nil
}

func (t *DiskType) UnmarshalText(b []byte) error {
	v, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Record is one disk as found by a single discovery pass.
type Record struct {
	Type      DiskType `json:"type"`
	Path      string   `json:"path"`
	Serial    string   `json:"serial,omitempty"`
	BlockSize uint64   `json:"blocksize"`
	Size      uint64   `json:"size"`
}
