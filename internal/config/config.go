// Package config handles configuration for disk-harness.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/escape-velocity-ventures/disk-harness/internal/disk"
)

const (
	// DefaultPath is read when no config file is given.
	DefaultPath = "/etc/disk-harness/config.yaml"
	// LocalTarget selects the local executor.
	LocalTarget = "local"
)

// Config holds all disk-harness configuration.
type Config struct {
	Target         string        `yaml:"target"` // "local" or user@host[:port]
	IdentityFile   string        `yaml:"identity_file"`
	Nsenter        bool          `yaml:"nsenter"`
	LogLevel       string        `yaml:"log_level"`
	LogFormat      string        `yaml:"log_format"` // "text", "json"
	LockDir        string        `yaml:"lock_dir"`
	JournalPath    string        `yaml:"journal_path"`
	VendorTool     string        `yaml:"vendor_tool"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	PollTimeout    time.Duration `yaml:"poll_timeout"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	Requirements   []Requirement `yaml:"requirements"`
	Report         Report        `yaml:"report"`

	// DiskFeatures lists the features of known disks, keyed by serial
	// number or path.
	DiskFeatures map[string][]string `yaml:"disk_features"`
}

// Requirement names a disk a test scenario needs. Exactly one of Types and
// LowerThan is set.
type Requirement struct {
	Name      string              `yaml:"name"`
	Types     []string            `yaml:"types,omitempty"`
	LowerThan string              `yaml:"lower_than,omitempty"`
	Features  map[string][]string `yaml:"features,omitempty"`
}

// Report selects the outputs written after assignment.
type Report struct {
	JUnitPath string    `yaml:"junit_path"`
	ConfigMap ConfigMap `yaml:"configmap"`
}

// ConfigMap locates the Kubernetes ConfigMap the inventory is published to.
type ConfigMap struct {
	Namespace  string `yaml:"namespace"`
	Name       string `yaml:"name"`
	Kubeconfig string `yaml:"kubeconfig"`
}

// Enabled reports whether publishing is configured.
func (c ConfigMap) Enabled() bool {
	return c.Name != ""
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Target:         LocalTarget,
		LogLevel:       "info",
		LogFormat:      "text",
		LockDir:        "/run/disk-harness",
		JournalPath:    "/var/lib/disk-harness/journal.jsonl",
		VendorTool:     "isdct",
		PollInterval:   disk.DefaultPollInterval,
		PollTimeout:    disk.DefaultPollTimeout,
		CommandTimeout: 5 * time.Minute,
		Report: Report{
			ConfigMap: ConfigMap{Namespace: "default"},
		},
	}
}

// Load reads the YAML file at path, then applies DH_* environment
// overrides. An empty path reads DefaultPath, which may be absent.
// The result is not validated; callers apply their own overrides first
// and then call Validate.
func Load(path string) (*Config, error) {
	required := path != ""
	if path == "" {
		path = DefaultPath
	}
	return load(path, required, os.LookupEnv)
}

func load(path string, required bool, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Defaults()

	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !required:
	default:
		return nil, fmt.Errorf("open config: %w", err)
	}

	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"DH_TARGET":              &cfg.Target,
		"DH_IDENTITY_FILE":       &cfg.IdentityFile,
		"DH_LOG_LEVEL":           &cfg.LogLevel,
		"DH_LOG_FORMAT":          &cfg.LogFormat,
		"DH_LOCK_DIR":            &cfg.LockDir,
		"DH_JOURNAL_PATH":        &cfg.JournalPath,
		"DH_VENDOR_TOOL":         &cfg.VendorTool,
		"DH_JUNIT_PATH":          &cfg.Report.JUnitPath,
		"DH_CONFIGMAP_NAMESPACE": &cfg.Report.ConfigMap.Namespace,
		"DH_CONFIGMAP_NAME":      &cfg.Report.ConfigMap.Name,
		"DH_KUBECONFIG":          &cfg.Report.ConfigMap.Kubeconfig,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"DH_POLL_INTERVAL":   &cfg.PollInterval,
		"DH_POLL_TIMEOUT":    &cfg.PollTimeout,
		"DH_COMMAND_TIMEOUT": &cfg.CommandTimeout,
	}
	for key, dst := range durations {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
	}

	if v, ok := lookup("DH_NSENTER"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DH_NSENTER: %w", err)
		}
		cfg.Nsenter = b
	}
	return nil
}

// IsLocal reports whether commands run on this machine.
func (c *Config) IsLocal() bool {
	return c.Target == "" || c.Target == LocalTarget
}

// Validate checks field values and the requirement graph.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log_format %q", c.LogFormat)
	}
	if c.PollInterval <= 0 || c.PollTimeout <= 0 || c.CommandTimeout <= 0 {
		return fmt.Errorf("poll_interval, poll_timeout and command_timeout must be positive")
	}
	if c.Report.ConfigMap.Enabled() && c.Report.ConfigMap.Namespace == "" {
		return fmt.Errorf("report.configmap.namespace is required")
	}

	names := make(map[string]bool, len(c.Requirements))
	for _, r := range c.Requirements {
		if r.Name == "" {
			return fmt.Errorf("requirement without a name")
		}
		if names[r.Name] {
			return fmt.Errorf("duplicate requirement %q", r.Name)
		}
		names[r.Name] = true
	}
	for _, r := range c.Requirements {
		if err := r.validate(names); err != nil {
			return fmt.Errorf("requirement %q: %w", r.Name, err)
		}
	}
	return nil
}

func (r Requirement) validate(names map[string]bool) error {
	if (len(r.Types) == 0) == (r.LowerThan == "") {
		return fmt.Errorf("exactly one of types and lower_than must be set")
	}
	for _, t := range r.Types {
		if _, err := disk.ParseType(t); err != nil {
			return err
		}
	}
	if r.LowerThan != "" {
		if r.LowerThan == r.Name {
			return fmt.Errorf("lower_than refers to itself")
		}
		if !names[r.LowerThan] {
			return fmt.Errorf("lower_than refers to unknown requirement %q", r.LowerThan)
		}
	}
	for t := range r.Features {
		if _, err := disk.ParseType(t); err != nil {
			return fmt.Errorf("features: %w", err)
		}
	}
	return nil
}
