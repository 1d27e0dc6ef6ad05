// Package report renders the outcome of a run: a JSON inventory, a JUnit
// suite for CI, and an optional Kubernetes ConfigMap.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	units "github.com/docker/go-units"

	"github.com/escape-velocity-ventures/disk-harness/internal/disk"
	"github.com/escape-velocity-ventures/disk-harness/internal/testrun"
)

// Inventory is the machine-readable result of a run.
type Inventory struct {
	RunID        string             `json:"run_id"`
	Target       string             `json:"target"`
	GeneratedAt  time.Time          `json:"generated_at"`
	Disks        []DiskEntry        `json:"disks"`
	Requirements []RequirementEntry `json:"requirements,omitempty"`
}

// DiskEntry is one discovered disk.
type DiskEntry struct {
	disk.Record
	SizeHuman string   `json:"size_human"`
	Features  []string `json:"features,omitempty"`
	// AssignedTo names the requirement holding the disk.
	AssignedTo string `json:"assigned_to,omitempty"`
}

// RequirementEntry is one requirement and the disk it received, if any.
type RequirementEntry struct {
	Name       string          `json:"name"`
	Constraint json.RawMessage `json:"constraint"`
	Disk       string          `json:"disk,omitempty"`
	Satisfied  bool            `json:"satisfied"`
}

// Source is the view of a run an inventory is built from. *testrun.Run
// implements it.
type Source interface {
	Disks() []*disk.Disk
	Assigned() []string
	Disk(name string) (*disk.Disk, bool)
}

var _ Source = (*testrun.Run)(nil)

// Build collects the discovered disks of run and the assignment of reqs.
func Build(runID, target string, run Source, reqs []testrun.Requirement) (*Inventory, error) {
	inv := &Inventory{
		RunID:       runID,
		Target:      target,
		GeneratedAt: time.Now().UTC(),
		Disks:       []DiskEntry{},
	}

	holder := make(map[*disk.Disk]string)
	for _, name := range run.Assigned() {
		if d, ok := run.Disk(name); ok {
			holder[d] = name
		}
	}

	for _, d := range run.Disks() {
		inv.Disks = append(inv.Disks, DiskEntry{
			Record:     d.Record(),
			SizeHuman:  units.BytesSize(float64(d.Size)),
			Features:   d.FeatureList(),
			AssignedTo: holder[d],
		})
	}

	for _, req := range reqs {
		raw, err := json.Marshal(req.Constraint)
		if err != nil {
			return nil, fmt.Errorf("encode constraint of %q: %w", req.Name, err)
		}
		entry := RequirementEntry{Name: req.Name, Constraint: raw}
		if d, ok := run.Disk(req.Name); ok {
			entry.Disk = d.Path
			entry.Satisfied = true
		}
		inv.Requirements = append(inv.Requirements, entry)
	}
	return inv, nil
}

// WriteJSON writes inv as indented JSON.
func WriteJSON(w io.Writer, inv *Inventory) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(inv)
}
