package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	units "github.com/docker/go-units"

	"github.com/escape-velocity-ventures/disk-harness/internal/config"
	"github.com/escape-velocity-ventures/disk-harness/internal/disk"
	"github.com/escape-velocity-ventures/disk-harness/internal/report"
)

func TestConstraintCommand(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{"set:nand,sata", `{"type":"set","values":["sata","nand"]}`},
		{"optane,hdd", `{"type":"set","values":["hdd","optane"]}`},
		{"lt:cache", `{"type":"operator","name":"lt","args":["cache"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			var out bytes.Buffer
			rootCmd.SetOut(&out)
			rootCmd.SetErr(io.Discard)
			rootCmd.SetArgs([]string{"constraint", tt.expr})
			if err := rootCmd.Execute(); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := strings.TrimSpace(out.String()); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestConstraintCommandInvalid(t *testing.T) {
	rootCmd.SetOut(io.Discard)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs([]string{"constraint", "set:floppy"})
	if err := rootCmd.Execute(); err == nil {
		t.Error("expected error for unknown disk type")
	}
}

func TestApplyFlags(t *testing.T) {
	defer func() {
		flagTarget, flagLogLevel, flagNsenter, flagJournal = "", "", false, ""
	}()
	flagTarget = "root@node1:2222"
	flagLogLevel = "debug"
	flagNsenter = true
	flagJournal = journalOff

	cfg := config.Defaults()
	cfg.VendorTool = "isdct-custom"
	applyFlags(cfg)

	if cfg.Target != "root@node1:2222" {
		t.Errorf("expected flag target, got %q", cfg.Target)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected debug level, got %q", cfg.LogLevel)
	}
	if !cfg.Nsenter {
		t.Error("expected nsenter enabled")
	}
	if cfg.JournalPath != journalOff {
		t.Errorf("expected journal off, got %q", cfg.JournalPath)
	}
	if cfg.VendorTool != "isdct-custom" {
		t.Errorf("expected unset flag to keep config value, got %q", cfg.VendorTool)
	}
}

func TestLoadConfigFlagOverridesInvalidFileValue(t *testing.T) {
	defer func() { flagConfig, flagLogLevel = "", "" }()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("log_level: loud\n"), 0600); err != nil {
		t.Fatal(err)
	}
	flagConfig = path

	if _, err := loadConfig(); err == nil {
		t.Fatal("expected invalid log_level to be rejected without a flag")
	}

	flagLogLevel = "debug"
	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("expected flag to override file value, got %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected debug, got %q", cfg.LogLevel)
	}
}

func TestDiskRecord(t *testing.T) {
	rec := diskRecord("/dev/disk/by-id/wwn-0x5000", disk.HDD)
	if rec.Path != "/dev/disk/by-id/wwn-0x5000" || rec.Serial != "" {
		t.Errorf("expected path record, got %+v", rec)
	}
	rec = diskRecord("BTWL2", disk.SATA)
	if rec.Serial != "BTWL2" || rec.Path != "" || rec.Type != disk.SATA {
		t.Errorf("expected serial record, got %+v", rec)
	}
}

func TestPrintDisks(t *testing.T) {
	disks := []*disk.Disk{
		disk.New(disk.Record{Type: disk.NAND, Path: "/dev/disk/by-id/nvme-INTEL_PHLN1", Serial: "PHLN1", BlockSize: 512, Size: 2 * units.GiB}),
		disk.New(disk.Record{Type: disk.HDD, Path: "/dev/disk/by-id/ata-ST1", BlockSize: 512, Size: 4 * units.GiB}),
	}
	var out bytes.Buffer
	if err := printDisks(&out, disks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 rows, got %d lines:\n%s", len(lines), out.String())
	}
	if fields := strings.Fields(lines[1]); strings.Join(fields, " ") != "nand /dev/disk/by-id/nvme-INTEL_PHLN1 PHLN1 512 2GiB" {
		t.Errorf("unexpected row: %q", lines[1])
	}
	if fields := strings.Fields(lines[2]); fields[2] != "-" {
		t.Errorf("expected '-' for missing serial, got %q", fields[2])
	}
}

func TestPrintAssignments(t *testing.T) {
	inv := &report.Inventory{
		Requirements: []report.RequirementEntry{
			{Name: "cache", Constraint: json.RawMessage(`{"type":"set","values":["nand"]}`), Disk: "/dev/nvme0n1", Satisfied: true},
			{Name: "core", Constraint: json.RawMessage(`{"type":"operator","name":"lt","args":["cache"]}`)},
		},
	}
	var out bytes.Buffer
	if err := printAssignments(&out, inv); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "/dev/nvme0n1") {
		t.Errorf("expected assigned disk in output:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "UNSATISFIED") {
		t.Errorf("expected unsatisfied marker in output:\n%s", out.String())
	}
}

func TestWriteReportsJUnit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disks.xml")
	inv := &report.Inventory{
		RunID:  "run-1",
		Target: "local",
		Disks: []report.DiskEntry{
			{Record: disk.Record{Type: disk.HDD, Path: "/dev/sdb"}},
		},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := writeReports(t.Context(), config.Report{JUnitPath: path}, inv, log); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected junit report: %v", err)
	}
	if !strings.Contains(string(data), `name="disk-harness"`) {
		t.Errorf("expected disk-harness suite, got:\n%s", data)
	}
}

func TestWriteReportsNothingConfigured(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := writeReports(t.Context(), config.Report{}, &report.Inventory{}, log); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}
