package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizePipeline()
	c.normalizeWatcher()
	if err := c.normalizeAggregation(); err != nil {
		return err
	}
	if err := c.normalizeSamples(); err != nil {
		return err
	}
	c.normalizeNotifications()
	if err := c.normalizeLedger(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	if value, ok := os.LookupEnv("SEQWATCH_WATCH_DIR"); ok && strings.TrimSpace(value) != "" {
		c.Paths.WatchDir = strings.TrimSpace(value)
	}
	var err error
	if c.Paths.WatchDir, err = expandPath(strings.TrimSpace(c.Paths.WatchDir)); err != nil {
		return fmt.Errorf("paths.watch_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		c.Paths.OutputDir = defaultOutputDir
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	if value, ok := os.LookupEnv("SEQWATCH_API_TOKEN"); ok {
		c.Paths.APIToken = value
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

func (c *Config) normalizePipeline() {
	c.Pipeline.Command = strings.TrimSpace(c.Pipeline.Command)
	if c.Pipeline.MaxConcurrent == 0 {
		c.Pipeline.MaxConcurrent = defaultMaxConcurrent
	}
	if c.Pipeline.TimeoutSeconds == 0 {
		c.Pipeline.TimeoutSeconds = defaultPipelineTimeoutSeconds
	}
	c.Pipeline.OutputSuffix = strings.TrimSpace(c.Pipeline.OutputSuffix)
	if c.Pipeline.OutputSuffix == "" {
		c.Pipeline.OutputSuffix = defaultOutputSuffix
	}
	if len(c.Pipeline.Options) > 0 {
		options := make(map[string]string, len(c.Pipeline.Options))
		for key, value := range c.Pipeline.Options {
			key = strings.TrimLeft(strings.TrimSpace(key), "-")
			if key == "" {
				continue
			}
			options[key] = strings.TrimSpace(value)
		}
		c.Pipeline.Options = options
	}
}

func (c *Config) normalizeWatcher() {
	c.Watcher.ReadExtensions = normalizeExtensions(c.Watcher.ReadExtensions, defaultReadExtensions)
	c.Watcher.AnnotationExtensions = normalizeExtensions(c.Watcher.AnnotationExtensions, defaultAnnotationExtensions)
	if c.Watcher.PollSeconds == 0 {
		c.Watcher.PollSeconds = defaultPollSeconds
	}
	if c.Watcher.RetryInitialMillis == 0 {
		c.Watcher.RetryInitialMillis = defaultRetryInitialMillis
	}
	if c.Watcher.RetryMaxSeconds == 0 {
		c.Watcher.RetryMaxSeconds = defaultRetryMaxSeconds
	}
}

// normalizeExtensions lowercases, dots and dedupes suffixes, longest first so
// ".fastq.gz" is matched before ".gz"-style shorter suffixes.
func normalizeExtensions(values, fallback []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		normalized := strings.ToLower(strings.TrimSpace(value))
		if normalized == "" {
			continue
		}
		if !strings.HasPrefix(normalized, ".") {
			normalized = "." + normalized
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	if len(out) == 0 {
		out = append(out, fallback...)
	}
	sort.SliceStable(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })
	return out
}

func (c *Config) normalizeAggregation() error {
	if c.Aggregation.CoverageBins == 0 {
		c.Aggregation.CoverageBins = defaultCoverageBins
	}
	if c.Aggregation.TimeBinSeconds == 0 {
		c.Aggregation.TimeBinSeconds = defaultTimeBinSeconds
	}
	if c.Aggregation.LengthBinWidth == 0 {
		c.Aggregation.LengthBinWidth = defaultLengthBinWidth
	}
	if c.Aggregation.DefaultReferenceLength == 0 {
		c.Aggregation.DefaultReferenceLength = defaultReferenceLength
	}
	var err error
	if c.Aggregation.ReferenceIndex, err = expandPath(strings.TrimSpace(c.Aggregation.ReferenceIndex)); err != nil {
		return fmt.Errorf("aggregation.reference_index: %w", err)
	}
	return nil
}

func (c *Config) normalizeSamples() error {
	c.Samples.Title = strings.TrimSpace(c.Samples.Title)
	if c.Samples.Title == "" {
		c.Samples.Title = defaultTitle
	}
	var err error
	if c.Samples.Sheet, err = expandPath(strings.TrimSpace(c.Samples.Sheet)); err != nil {
		return fmt.Errorf("samples.sheet: %w", err)
	}
	if len(c.Samples.Barcodes) > 0 {
		barcodes := make(map[string]string, len(c.Samples.Barcodes))
		for barcode, sample := range c.Samples.Barcodes {
			barcode = strings.TrimSpace(barcode)
			sample = strings.TrimSpace(sample)
			if barcode == "" || sample == "" {
				continue
			}
			barcodes[barcode] = sample
		}
		c.Samples.Barcodes = barcodes
	}
	return nil
}

func (c *Config) normalizeNotifications() {
	if value, ok := os.LookupEnv("SEQWATCH_NTFY_TOPIC"); ok {
		c.Notifications.NtfyTopic = value
	}
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout == 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeLedger() error {
	if strings.TrimSpace(c.Ledger.Path) == "" {
		c.Ledger.Path = filepath.Join(c.Paths.StateDir, defaultLedgerFile)
	}
	var err error
	if c.Ledger.Path, err = expandPath(c.Ledger.Path); err != nil {
		return fmt.Errorf("ledger.path: %w", err)
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "console", "json", "auto":
	case "":
		c.Logging.Format = defaultLogFormat
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
