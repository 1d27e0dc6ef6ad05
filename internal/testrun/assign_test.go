package testrun

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/escape-velocity-ventures/disk-harness/internal/config"
	"github.com/escape-velocity-ventures/disk-harness/internal/disk"
	"github.com/escape-velocity-ventures/disk-harness/internal/executor/executortest"
)

func runWithDisks(t *testing.T, features map[string][]string, recs ...disk.Record) *Run {
	t.Helper()
	r, err := New(Options{Exec: &executortest.Fake{}, Features: features})
	if err != nil {
		t.Fatal(err)
	}
	r.discovered = []*disk.Disk{}
	for _, rec := range recs {
		r.discovered = append(r.discovered, disk.New(rec, r.featuresOf(rec)...))
	}
	return r
}

var mixed = []disk.Record{
	{Type: disk.HDD, Path: "/dev/disk/by-id/ata-H1", Serial: "H1"},
	{Type: disk.SATA, Path: "/dev/disk/by-id/ata-S1", Serial: "S1"},
	{Type: disk.NAND, Path: "/dev/disk/by-id/nvme-N1", Serial: "N1"},
	{Type: disk.HDD4K, Path: "/dev/disk/by-id/ata-K1", Serial: "K1"},
}

func TestAssignWaitsForReferencedDisk(t *testing.T) {
	r := runWithDisks(t, nil, mixed...)
	reqs := []Requirement{
		{Name: "core", Constraint: disk.LowerThan{Name: "cache", Registry: r}},
		{Name: "cache", Constraint: disk.NewTypeSet(disk.NAND, disk.Optane)},
	}

	if err := r.Assign(context.Background(), reqs); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"cache", "core"}, r.Assigned()); diff != "" {
		t.Errorf("assignment order mismatch (-want +got):\n%s", diff)
	}
	cache, _ := r.Disk("cache")
	core, _ := r.Disk("core")
	if cache.SerialNumber != "N1" {
		t.Errorf("expected cache on N1, got %s", cache.SerialNumber)
	}
	if core.SerialNumber != "H1" {
		t.Errorf("expected core on first slower disk H1, got %s", core.SerialNumber)
	}
}

func TestAssignUsesEachDiskOnce(t *testing.T) {
	r := runWithDisks(t, nil, mixed...)
	reqs := []Requirement{
		{Name: "a", Constraint: disk.NewTypeSet(disk.HDD, disk.HDD4K)},
		{Name: "b", Constraint: disk.NewTypeSet(disk.HDD, disk.HDD4K)},
	}
	if err := r.Assign(context.Background(), reqs); err != nil {
		t.Fatal(err)
	}
	a, _ := r.Disk("a")
	b, _ := r.Disk("b")
	if a == b {
		t.Fatal("two requirements got the same disk")
	}
	if b.SerialNumber != "K1" {
		t.Errorf("expected b on K1, got %s", b.SerialNumber)
	}
}

func TestAssignUnsatisfied(t *testing.T) {
	r := runWithDisks(t, nil, mixed...)
	reqs := []Requirement{
		{Name: "cache", Constraint: disk.NewTypeSet(disk.Optane)},
		{Name: "core", Constraint: disk.LowerThan{Name: "cache", Registry: r}},
		{Name: "data", Constraint: disk.NewTypeSet(disk.SATA)},
	}

	err := r.Assign(context.Background(), reqs)
	if !errors.Is(err, ErrUnsatisfied) {
		t.Fatalf("expected ErrUnsatisfied, got %v", err)
	}
	var ue *UnsatisfiedError
	if !errors.As(err, &ue) {
		t.Fatalf("expected *UnsatisfiedError, got %T", err)
	}
	if diff := cmp.Diff([]string{"cache", "core"}, ue.Names); diff != "" {
		t.Errorf("unsatisfied mismatch (-want +got):\n%s", diff)
	}
	if _, ok := r.Disk("data"); !ok {
		t.Error("satisfiable requirement should still be assigned")
	}
}

func TestAssignRequiresFeatures(t *testing.T) {
	recs := []disk.Record{
		{Type: disk.NAND, Path: "/dev/disk/by-id/nvme-A", Serial: "A"},
		{Type: disk.NAND, Path: "/dev/disk/by-id/nvme-B", Serial: "B"},
	}
	r := runWithDisks(t, map[string][]string{"B": {"pmr"}}, recs...)
	reqs := []Requirement{{
		Name:       "cache",
		Constraint: disk.NewTypeSet(disk.NAND),
		Features:   map[disk.DiskType][]string{disk.NAND: {"pmr"}},
	}}
	if err := r.Assign(context.Background(), reqs); err != nil {
		t.Fatal(err)
	}
	if d, _ := r.Disk("cache"); d.SerialNumber != "B" {
		t.Errorf("expected disk with pmr, got %s", d.SerialNumber)
	}
}

func TestAssignTwiceFails(t *testing.T) {
	r := runWithDisks(t, nil, mixed...)
	reqs := []Requirement{{Name: "a", Constraint: disk.NewTypeSet(disk.HDD)}}
	if err := r.Assign(context.Background(), reqs); err != nil {
		t.Fatal(err)
	}
	if err := r.Assign(context.Background(), reqs); err == nil {
		t.Fatal("expected error for re-assigning a requirement")
	}
}

func TestRequirementsFromConfig(t *testing.T) {
	r := runWithDisks(t, nil)
	reqs, err := r.Requirements([]config.Requirement{
		{Name: "cache", Types: []string{"optane", "nand"}, Features: map[string][]string{"nand": {"pmr"}}},
		{Name: "core", LowerThan: "cache"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if reqs[0].Constraint != disk.NewTypeSet(disk.NAND, disk.Optane) {
		t.Errorf("unexpected constraint %v", reqs[0].Constraint)
	}
	if diff := cmp.Diff(map[disk.DiskType][]string{disk.NAND: {"pmr"}}, reqs[0].Features); diff != "" {
		t.Errorf("features mismatch (-want +got):\n%s", diff)
	}
	lt, ok := reqs[1].Constraint.(disk.LowerThan)
	if !ok || lt.Name != "cache" || lt.Registry != r {
		t.Errorf("unexpected constraint %#v", reqs[1].Constraint)
	}

	if _, err := r.Requirements([]config.Requirement{{Name: "x", Types: []string{"tape"}}}); err == nil {
		t.Error("expected error for unknown type")
	}
}
