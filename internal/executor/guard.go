package executor

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrCommandBlocked is returned by a ReadOnly executor for mutating commands.
var ErrCommandBlocked = errors.New("command not allowed in read-only mode")

// allowedPrefixes are the inspection commands discovery needs.
var allowedPrefixes = []string{
	// Block device namespace
	"ls", "readlink", "realpath", "stat", "test -e", "test -d", "test -f",
	"cat /sys/", "cat /proc/", "find -H /sys/", "find /sys/", "find /dev/",

	// Mount table
	"mount", "findmnt", "lsblk", "blkid",

	// Identity
	"udevadm info", "sg_inq",

	// Vendor SSD tool
	"isdct",

	"uname", "hostname",
}

// silencers are harmless redirections stripped before pattern checks.
var silencers = regexp.MustCompile(`[12]?>\s*/dev/null|2>&1`)

// blockedPatterns match mutating operations even within allowed commands.
var blockedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`>`),
	regexp.MustCompile(`\btee\b`),
	regexp.MustCompile(`\brm\b`),
	regexp.MustCompile(`\bmv\b`),
	regexp.MustCompile(`\bdd\b`),
	regexp.MustCompile(`\bparted\b`),
	regexp.MustCompile(`\bwipefs\b`),
	regexp.MustCompile(`\bmkfs`),
	regexp.MustCompile(`\bumount\b`),
	regexp.MustCompile(`\bmount\s+[^|\s]`),
	regexp.MustCompile(`\bchmod\b`),
	regexp.MustCompile(`\bchown\b`),
	regexp.MustCompile(`\bsudo\b`),
	regexp.MustCompile(`\b(rpm|yum|dnf|apt)\b`),
	regexp.MustCompile(`\bisdct\s+(set|start|load|delete)\b`),
	regexp.MustCompile(`-exec\b`),
	regexp.MustCompile("\\$\\(|`"),
}

// listSeparators split a command line into independently checked commands.
// A lone & backgrounds a command and a newline starts the next one, so both
// separate commands like ; does.
var listSeparators = regexp.MustCompile(`\|\||&&|[;&\n\r]`)

// IsReadOnly reports whether command only inspects the target.
// Every command in a list must match an allowed prefix, and no blocked
// pattern may appear anywhere.
func IsReadOnly(command string) bool {
	stripped := silencers.ReplaceAllString(strings.TrimSpace(command), "")
	if stripped == "" {
		return false
	}

	for _, pat := range blockedPatterns {
		if pat.MatchString(stripped) {
			return false
		}
	}

	for _, part := range listSeparators.Split(stripped, -1) {
		if !isInspection(strings.TrimSpace(part)) {
			return false
		}
	}
	return true
}

func isInspection(command string) bool {
	// Every pipeline stage after the first must be a plain text filter.
	stages := strings.Split(command, "|")
	for _, stage := range stages[1:] {
		if !isFilter(stage) {
			return false
		}
	}

	first := strings.TrimSpace(stages[0])
	for _, prefix := range allowedPrefixes {
		if strings.HasPrefix(first, prefix) {
			return true
		}
	}
	return false
}

func isFilter(stage string) bool {
	fields := strings.Fields(stage)
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "grep", "awk", "wc", "head", "tail", "sort", "cut", "tr":
		return true
	}
	return false
}

// ReadOnly wraps an executor and refuses mutating commands.
type ReadOnly struct {
	Next Executor
}

// Run executes command through Next if it is read-only.
func (r ReadOnly) Run(ctx context.Context, command string) (Output, error) {
	if !IsReadOnly(command) {
		return Output{}, fmt.Errorf("%w: %q", ErrCommandBlocked, command)
	}
	return r.Next.Run(ctx, command)
}
