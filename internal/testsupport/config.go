package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"seqwatch/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The watch directory exists; output, state and log directories are created
// by EnsureDirectories like in production.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.WatchDir = filepath.Join(base, "watch")
	cfgVal.Paths.OutputDir = filepath.Join(base, "annotations")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Ledger.Path = filepath.Join(base, "state", "ledger.db")
	cfgVal.Watcher.SettleMillis = 50
	cfgVal.Watcher.PollSeconds = 1
	cfgVal.Watcher.RetryInitialMillis = 10
	cfgVal.Watcher.RetryMaxSeconds = 1
	cfgVal.Pipeline.TimeoutSeconds = 30
	cfgVal.Pipeline.GraceSeconds = 1
	cfgVal.Logging.Format = "json"

	if err := os.MkdirAll(cfgVal.Paths.WatchDir, 0o755); err != nil {
		t.Fatalf("mkdir watch dir: %v", err)
	}

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithStubAnnotator installs a stub annotator script with the given mode and
// points pipeline.command at it. See StubAnnotator for modes.
func WithStubAnnotator(mode string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.Command = StubAnnotator(b.t, filepath.Join(b.baseDir, "bin"), mode)
	}
}

// WithMaxConcurrent overrides the run pool bound.
func WithMaxConcurrent(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.MaxConcurrent = n
	}
}

// WithLedgerDisabled turns off the run ledger.
func WithLedgerDisabled() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Ledger.Enabled = false
	}
}

// WithBarcodes seeds the [samples.barcodes] table.
func WithBarcodes(pairs map[string]string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Samples.Barcodes = pairs
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.WatchDir)
}
