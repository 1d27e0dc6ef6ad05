package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/escape-velocity-ventures/disk-harness/internal/executor"
	"github.com/escape-velocity-ventures/disk-harness/internal/executor/executortest"
)

func readEntries(t *testing.T, path string) []Entry {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var entries []Entry
	for _, ln := range strings.Split(string(data), "\n") {
		if ln == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(ln), &e); err != nil {
			t.Fatalf("bad line %q: %v", ln, err)
		}
		entries = append(entries, e)
	}
	return entries
}

func TestJournalFileCreation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "journal.log")

	j, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	info, err := os.Stat(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0700 {
		t.Errorf("dir perm = %o, want 0700", perm)
	}

	if err := j.Log(Entry{RunID: "r1", EventType: EventRunStart}); err != nil {
		t.Fatal(err)
	}

	info, err = os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file perm = %o, want 0600", perm)
	}
}

func TestHashChainVerifies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.log")
	j, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := range 5 {
		if err := j.Log(Entry{RunID: "r1", EventType: EventCommand, Command: fmt.Sprintf("cmd%d", i)}); err != nil {
			t.Fatal(err)
		}
	}
	j.Close()

	n, err := Verify(path)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if n != 5 {
		t.Errorf("verified %d entries, want 5", n)
	}
}

func TestChainContinuesAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.log")

	for run := range 2 {
		j, err := Open(path)
		if err != nil {
			t.Fatal(err)
		}
		if err := j.Log(Entry{RunID: fmt.Sprintf("r%d", run), EventType: EventRunStart}); err != nil {
			t.Fatal(err)
		}
		j.Close()
	}

	if n, err := Verify(path); err != nil || n != 2 {
		t.Fatalf("expected 2 verified entries, got %d (%v)", n, err)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.log")
	j, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	j.Log(Entry{RunID: "r1", EventType: EventCommand, Command: "ls -1 /sys/block"})
	j.Log(Entry{RunID: "r1", EventType: EventCommand, Command: "echo 1 > /sys/bus/pci/rescan"})
	j.Close()

	data, _ := os.ReadFile(path)
	tampered := strings.Replace(string(data), "/sys/bus/pci/rescan", "/dev/null", 1)
	if err := os.WriteFile(path, []byte(tampered), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := Verify(path); err == nil {
		t.Error("expected hash mismatch after tampering")
	}
}

func TestRecorderJournalsCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.log")
	j, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}

	fake := &executortest.Fake{}
	fake.Expect("ls -1 /sys/block", executortest.OK("sda\nsdb"))
	fake.Expect("isdct", executortest.Fail(127, "isdct: not found"))

	rec := NewRecorder(executor.ReadOnly{Next: fake}, j, "run-1", "root@dut")
	ctx := context.Background()

	if _, err := rec.Run(ctx, "ls -1 /sys/block"); err != nil {
		t.Fatal(err)
	}
	out, err := rec.Run(ctx, "isdct")
	if err != nil {
		t.Fatal(err)
	}
	if out.ExitCode != 127 {
		t.Errorf("expected exit code 127, got %d", out.ExitCode)
	}
	if _, err := rec.Run(ctx, "echo 1 > /sys/bus/pci/rescan"); err == nil {
		t.Error("expected blocked command error")
	}
	j.Close()

	entries := readEntries(t, path)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	wantTypes := []string{EventCommand, EventCommand, EventBlocked}
	for i, e := range entries {
		if e.EventType != wantTypes[i] {
			t.Errorf("entry %d: expected %s, got %s", i, wantTypes[i], e.EventType)
		}
		if e.RunID != "run-1" || e.Target != "root@dut" {
			t.Errorf("entry %d: unexpected run/target %s/%s", i, e.RunID, e.Target)
		}
	}
	if entries[1].ExitCode != 127 {
		t.Errorf("expected exit code 127 journaled, got %d", entries[1].ExitCode)
	}
	if fake.Count("rescan") != 0 {
		t.Error("blocked command must not reach the target")
	}
}
