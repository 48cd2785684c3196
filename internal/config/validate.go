package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"seqwatch/internal/reads"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateWatcher(); err != nil {
		return err
	}
	if err := c.validateAggregation(); err != nil {
		return err
	}
	if err := c.validateFilters(); err != nil {
		return err
	}
	if err := c.validateSamples(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.WatchDir) == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigPath
		}
		return fmt.Errorf("paths.watch_dir is required. Set SEQWATCH_WATCH_DIR or edit %s (create with 'seqwatch config init')", defaultPath)
	}
	if c.Paths.OutputDir == c.Paths.WatchDir {
		return errors.New("paths.output_dir must differ from paths.watch_dir")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.Command == "" {
		return errors.New("pipeline.command must be set")
	}
	if err := ensurePositiveMap(map[string]int{
		"pipeline.max_concurrent":  c.Pipeline.MaxConcurrent,
		"pipeline.timeout_seconds": c.Pipeline.TimeoutSeconds,
	}); err != nil {
		return err
	}
	if c.Pipeline.GraceSeconds < 0 {
		return errors.New("pipeline.grace_seconds must be >= 0")
	}
	for key := range c.Pipeline.Options {
		if key == "input" || key == "output" {
			return fmt.Errorf("pipeline.options.%s is reserved", key)
		}
	}
	return nil
}

func (c *Config) validateWatcher() error {
	if c.Watcher.SettleMillis < 0 {
		return errors.New("watcher.settle_ms must be >= 0")
	}
	if err := ensurePositiveMap(map[string]int{
		"watcher.poll_seconds":      c.Watcher.PollSeconds,
		"watcher.retry_initial_ms":  c.Watcher.RetryInitialMillis,
		"watcher.retry_max_seconds": c.Watcher.RetryMaxSeconds,
	}); err != nil {
		return err
	}
	for _, read := range c.Watcher.ReadExtensions {
		for _, annotation := range c.Watcher.AnnotationExtensions {
			if read == annotation {
				return fmt.Errorf("watcher extension %q is listed as both reads and annotation", read)
			}
		}
	}
	return nil
}

func (c *Config) validateAggregation() error {
	if err := ensurePositiveMap(map[string]int{
		"aggregation.coverage_bins":    c.Aggregation.CoverageBins,
		"aggregation.time_bin_seconds": c.Aggregation.TimeBinSeconds,
		"aggregation.length_bin_width": c.Aggregation.LengthBinWidth,
	}); err != nil {
		return err
	}
	if c.Aggregation.RecomputeDebounceMillis < 0 {
		return errors.New("aggregation.recompute_debounce_ms must be >= 0")
	}
	if c.Aggregation.DefaultReferenceLength <= 0 {
		return errors.New("aggregation.default_reference_length must be positive")
	}
	for name, length := range c.Aggregation.ReferenceLengths {
		if length <= 0 {
			return fmt.Errorf("aggregation.reference_lengths.%s must be positive", name)
		}
	}
	if c.Aggregation.ReferenceIndex != "" {
		if _, err := os.Stat(c.Aggregation.ReferenceIndex); err != nil {
			return fmt.Errorf("aggregation.reference_index: %w", err)
		}
	}
	return nil
}

func (c *Config) validateFilters() error {
	f := c.Filters
	if f.MinReadLength < 0 || f.MaxReadLength < 0 || f.MinMappedLength < 0 {
		return errors.New("filters must be >= 0")
	}
	if f.MaxReadLength > 0 && f.MaxReadLength < f.MinReadLength {
		return errors.New("filters.max_read_length must be >= filters.min_read_length")
	}
	return nil
}

func (c *Config) validateSamples() error {
	for barcode, sample := range c.Samples.Barcodes {
		if sample == reads.UnassignedSample {
			return fmt.Errorf("samples.barcodes.%s: sample name %q is reserved", barcode, sample)
		}
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
