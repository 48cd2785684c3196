package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	WatchDir  string `toml:"watch_dir"`
	OutputDir string `toml:"output_dir"`
	StateDir  string `toml:"state_dir"`
	LogDir    string `toml:"log_dir"`
	APIBind   string `toml:"api_bind"`
	APIToken  string `toml:"api_token"`
}

// Pipeline configures the external annotation process and the run pool.
type Pipeline struct {
	Command        string            `toml:"command"`
	Args           []string          `toml:"args"`
	Options        map[string]string `toml:"options"`
	MaxConcurrent  int               `toml:"max_concurrent"`
	TimeoutSeconds int               `toml:"timeout_seconds"`
	GraceSeconds   int               `toml:"grace_seconds"`
	OutputSuffix   string            `toml:"output_suffix"`
}

// Watcher configures directory monitoring.
type Watcher struct {
	SettleMillis         int      `toml:"settle_ms"`
	PollSeconds          int      `toml:"poll_seconds"`
	Recursive            bool     `toml:"recursive"`
	ForcePoll            bool     `toml:"force_poll"`
	ReadExtensions       []string `toml:"read_extensions"`
	AnnotationExtensions []string `toml:"annotation_extensions"`
	RetryInitialMillis   int      `toml:"retry_initial_ms"`
	RetryMaxSeconds      int      `toml:"retry_max_seconds"`
}

// Aggregation controls histogram resolution in the datastore.
type Aggregation struct {
	CoverageBins            int              `toml:"coverage_bins"`
	TimeBinSeconds          int              `toml:"time_bin_seconds"`
	LengthBinWidth          int              `toml:"length_bin_width"`
	RecomputeDebounceMillis int              `toml:"recompute_debounce_ms"`
	DefaultReferenceLength  int64            `toml:"default_reference_length"`
	ReferenceLengths        map[string]int64 `toml:"reference_lengths"`
	ReferenceIndex          string           `toml:"reference_index"`
}

// Filters holds the initial read filter predicates. Zero disables a bound.
type Filters struct {
	MinReadLength   int64 `toml:"min_read_length"`
	MaxReadLength   int64 `toml:"max_read_length"`
	MinMappedLength int64 `toml:"min_mapped_length"`
}

// Samples holds the initial barcode assignment and dashboard title.
type Samples struct {
	Title    string            `toml:"title"`
	Sheet    string            `toml:"sheet"`
	Barcodes map[string]string `toml:"barcodes"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic       string `toml:"ntfy_topic"`
	RequestTimeout  int    `toml:"request_timeout"`
	PipelineErrors  bool   `toml:"pipeline_errors"`
	PipelineSuccess bool   `toml:"pipeline_success"`
}

// Ledger configures the SQLite run ledger.
type Ledger struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for seqwatch.
//
// Configuration sections by subsystem:
//   - Paths: watched directory, annotation output, state, logs and API bind address
//   - Pipeline: annotator command line, pool bound and timeouts
//   - Watcher: stability window, polling and file classification
//   - Aggregation: coverage/temporal/length resolution and reference lengths
//   - Filters: initial read filters
//   - Samples: initial barcode to sample assignment
//   - Notifications: ntfy push notification settings
//   - Ledger: run ledger used for restart replay
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Watcher       Watcher       `toml:"watcher"`
	Aggregation   Aggregation   `toml:"aggregation"`
	Filters       Filters       `toml:"filters"`
	Samples       Samples       `toml:"samples"`
	Notifications Notifications `toml:"notifications"`
	Ledger        Ledger        `toml:"ledger"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			var strict *toml.StrictMissingError
			if errors.As(err, &strict) {
				return nil, "", false, fmt.Errorf("parse config: %s", strict.String())
			}
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("seqwatch.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation. The
// watched directory is never created: a missing watch directory is a setup error.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.OutputDir, c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if c.Ledger.Enabled && c.Ledger.Path != "" {
		if err := os.MkdirAll(filepath.Dir(c.Ledger.Path), 0o755); err != nil {
			return fmt.Errorf("create ledger directory: %w", err)
		}
	}
	return nil
}

// LockPath returns the single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "seqwatch.lock")
}

// PipelineTimeout returns the maximum duration of one annotation run.
func (c *Config) PipelineTimeout() time.Duration {
	return time.Duration(c.Pipeline.TimeoutSeconds) * time.Second
}

// PipelineGrace returns how long a terminated annotator may take to exit.
func (c *Config) PipelineGrace() time.Duration {
	return time.Duration(c.Pipeline.GraceSeconds) * time.Second
}

// SettleWindow returns the stability window a file must survive unchanged.
func (c *Config) SettleWindow() time.Duration {
	return time.Duration(c.Watcher.SettleMillis) * time.Millisecond
}

// PollInterval returns the rescan interval of the watcher.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Watcher.PollSeconds) * time.Second
}

// RetryBackoff returns the initial and maximum watcher retry delays.
func (c *Config) RetryBackoff() (time.Duration, time.Duration) {
	return time.Duration(c.Watcher.RetryInitialMillis) * time.Millisecond,
		time.Duration(c.Watcher.RetryMaxSeconds) * time.Second
}

// TimeBin returns the temporal series resolution.
func (c *Config) TimeBin() time.Duration {
	return time.Duration(c.Aggregation.TimeBinSeconds) * time.Second
}

// RecomputeDebounce returns the window in which recompute requests coalesce.
func (c *Config) RecomputeDebounce() time.Duration {
	return time.Duration(c.Aggregation.RecomputeDebounceMillis) * time.Millisecond
}

// NotificationTimeout returns the ntfy request timeout.
func (c *Config) NotificationTimeout() time.Duration {
	return time.Duration(c.Notifications.RequestTimeout) * time.Second
}

// ReferenceLengths merges lengths from the configured .fai index with the
// explicit [aggregation.reference_lengths] table. Explicit entries win.
func (c *Config) ReferenceLengths() (map[string]int64, error) {
	lengths := make(map[string]int64)
	if c.Aggregation.ReferenceIndex != "" {
		indexed, err := LoadReferenceIndex(c.Aggregation.ReferenceIndex)
		if err != nil {
			return nil, err
		}
		for name, length := range indexed {
			lengths[name] = length
		}
	}
	for name, length := range c.Aggregation.ReferenceLengths {
		lengths[name] = length
	}
	return lengths, nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
