// Package journal keeps an append-only, hash-chained record of every command
// a test run sends to the machine under test.
package journal

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event types.
const (
	EventRunStart = "RUN_START"
	EventRunEnd   = "RUN_END"
	EventCommand  = "COMMAND"
	EventBlocked  = "BLOCKED"
	EventFailed   = "FAILED"
)

// Entry is a single journal line.
type Entry struct {
	Timestamp  time.Time `json:"timestamp"`
	RunID      string    `json:"run_id"`
	EventType  string    `json:"event_type"`
	Target     string    `json:"target,omitempty"`
	Command    string    `json:"command,omitempty"`
	ExitCode   int       `json:"exit_code"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	EntryHash  string    `json:"entry_hash"`
}

// Journal writes entries to a JSON-lines file.
type Journal struct {
	mu       sync.Mutex
	file     *os.File
	prevHash string
}

// Open opens (or creates) the journal at path. The directory is created
// with 0700 and the file with 0600. The last hash of an existing file is
// recovered so the chain continues across runs.
func Open(path string) (*Journal, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("journal: create dir %s: %w", dir, err)
	}

	prevHash := ""
	if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
		lines := bytes.Split(data, []byte{'\n'})
		for i := len(lines) - 1; i >= 0; i-- {
			if len(lines[i]) == 0 {
				continue
			}
			var entry Entry
			if json.Unmarshal(lines[i], &entry) == nil {
				prevHash = entry.EntryHash
			}
			break
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}

	return &Journal{file: f, prevHash: prevHash}, nil
}

// Log appends entry, computing its chain hash.
func (j *Journal) Log(entry Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	hash, err := chainHash(j.prevHash, entry)
	if err != nil {
		return err
	}
	entry.EntryHash = hash
	j.prevHash = hash

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("journal: marshal final: %w", err)
	}
	line = append(line, '\n')

	if _, err := j.file.Write(line); err != nil {
		return fmt.Errorf("journal: write: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}

// chainHash is SHA256(prevHash + json of entry without its hash).
func chainHash(prevHash string, entry Entry) (string, error) {
	entry.EntryHash = ""
	raw, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("journal: marshal: %w", err)
	}
	h := sha256.Sum256(append([]byte(prevHash), raw...))
	return fmt.Sprintf("%x", h), nil
}

// Verify walks the journal at path and checks every link of the hash chain.
// It returns the number of verified entries.
func Verify(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("journal: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	prevHash := ""
	n := 0
	for line := 1; scanner.Scan(); line++ {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return n, fmt.Errorf("journal: line %d: %w", line, err)
		}
		want, err := chainHash(prevHash, entry)
		if err != nil {
			return n, err
		}
		if entry.EntryHash != want {
			return n, fmt.Errorf("journal: line %d: hash mismatch", line)
		}
		prevHash = entry.EntryHash
		n++
	}
	return n, scanner.Err()
}
