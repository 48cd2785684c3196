package watcher

import (
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"seqwatch/internal/config"
)

// Option configures a Watcher.
type Option func(*Watcher)

// WithSettle sets how long a file must stay unchanged before it is reported.
func WithSettle(d time.Duration) Option {
	return func(w *Watcher) {
		if d >= 0 {
			w.settle = d
		}
	}
}

// WithPollInterval sets the rescan interval.
func WithPollInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.poll = d
		}
	}
}

// WithRecursive controls whether subdirectories are watched.
func WithRecursive(recursive bool) Option {
	return func(w *Watcher) {
		w.recursive = recursive
	}
}

// WithReadExtensions sets the suffixes classified as raw read batches.
func WithReadExtensions(exts ...string) Option {
	return func(w *Watcher) {
		w.readExt = normalizeExtensions(exts)
	}
}

// WithAnnotationExtensions sets the suffixes classified as annotation tables.
func WithAnnotationExtensions(exts ...string) Option {
	return func(w *Watcher) {
		w.annotationExt = normalizeExtensions(exts)
	}
}

// WithIgnoredDirs skips the given directories and everything below them.
func WithIgnoredDirs(dirs ...string) Option {
	return func(w *Watcher) {
		for _, dir := range dirs {
			if strings.TrimSpace(dir) == "" {
				continue
			}
			if abs, err := filepath.Abs(dir); err == nil {
				w.ignored[filepath.Clean(abs)] = struct{}{}
			}
		}
	}
}

// WithRetryBackoff sets the initial and maximum delay between retries of a
// failed stat or rescan.
func WithRetryBackoff(initial, maximum time.Duration) Option {
	return func(w *Watcher) {
		if initial > 0 {
			w.retryInitial = initial
		}
		if maximum >= w.retryInitial {
			w.retryMax = maximum
		}
	}
}

// WithForcePoll disables fsnotify.
func WithForcePoll(force bool) Option {
	return func(w *Watcher) {
		w.forcePoll = force
	}
}

// WithLogger sets the watcher logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewFromConfig builds a watcher for paths.watch_dir using the watcher section.
// The output, state and log directories are ignored when they sit inside the
// watched tree.
func NewFromConfig(cfg *config.Config, opts ...Option) (*Watcher, error) {
	initial, maximum := cfg.RetryBackoff()
	base := []Option{
		WithSettle(cfg.SettleWindow()),
		WithPollInterval(cfg.PollInterval()),
		WithRecursive(cfg.Watcher.Recursive),
		WithReadExtensions(cfg.Watcher.ReadExtensions...),
		WithAnnotationExtensions(cfg.Watcher.AnnotationExtensions...),
		WithRetryBackoff(initial, maximum),
		WithForcePoll(cfg.Watcher.ForcePoll),
		WithIgnoredDirs(cfg.Paths.OutputDir, cfg.Paths.StateDir, cfg.Paths.LogDir),
	}
	return New(cfg.Paths.WatchDir, append(base, opts...)...)
}

func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if !slices.Contains(out, ext) {
			out = append(out, ext)
		}
	}
	slices.SortStableFunc(out, func(a, b string) int { return len(b) - len(a) })
	return out
}
