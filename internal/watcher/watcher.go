package watcher

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"seqwatch/internal/logging"
	"seqwatch/internal/services"
)

// ErrAlreadyWatching is returned when Watch is called while a previous watch
// is still running.
var ErrAlreadyWatching = errors.New("watcher already running")

const (
	defaultSettle       = 2 * time.Second
	defaultPollInterval = 30 * time.Second
	minCheckInterval    = 10 * time.Millisecond
	maxCheckInterval    = 500 * time.Millisecond
)

// Kind classifies a reported file.
type Kind string

const (
	KindReads      Kind = "reads"
	KindAnnotation Kind = "annotation"
)

// Event reports a file that is ready to be processed.
type Event struct {
	Path    string
	Name    string
	Kind    Kind
	Size    int64
	ModTime time.Time
}

// Watcher detects stable files in a directory tree.
type Watcher struct {
	dir           string
	settle        time.Duration
	poll          time.Duration
	recursive     bool
	readExt       []string
	annotationExt []string
	ignored       map[string]struct{}
	retryInitial  time.Duration
	retryMax      time.Duration
	forcePoll     bool
	logger        *slog.Logger

	mu      sync.Mutex
	seen    map[string]struct{}
	running bool
	polling bool
}

// New creates a watcher for dir. The directory is not touched until Watch.
func New(dir string, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "watcher", "resolve dir", dir, err)
	}
	w := &Watcher{
		dir:           filepath.Clean(abs),
		settle:        defaultSettle,
		poll:          defaultPollInterval,
		recursive:     true,
		readExt:       normalizeExtensions([]string{".fastq", ".fq", ".fastq.gz", ".fq.gz", ".bam"}),
		annotationExt: normalizeExtensions([]string{".tsv", ".tsv.gz"}),
		ignored:       make(map[string]struct{}),
		retryInitial:  500 * time.Millisecond,
		retryMax:      30 * time.Second,
		logger:        logging.NewNop(),
		seen:          make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = logging.NewComponentLogger(w.logger, "watcher")
	return w, nil
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string { return w.dir }

// Polling reports whether the current watch relies on rescans only.
func (w *Watcher) Polling() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.polling
}

// MarkSeen records basenames as already reported.
func (w *Watcher) MarkSeen(names ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, name := range names {
		if name = filepath.Base(name); name != "" && name != "." {
			w.seen[name] = struct{}{}
		}
	}
}

// Seen reports whether a basename was already reported or pre-seeded.
func (w *Watcher) Seen(name string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.seen[filepath.Base(name)]
	return ok
}

// claim marks name as seen and reports whether it was new.
func (w *Watcher) claim(name string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.seen[name]; ok {
		return false
	}
	w.seen[name] = struct{}{}
	return true
}

// Classify returns the kind of a file name, or false when it is not watched.
func (w *Watcher) Classify(name string) (Kind, bool) {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return "", false
	}
	lower := strings.ToLower(base)
	for _, ext := range w.annotationExt {
		if strings.HasSuffix(lower, ext) && len(lower) > len(ext) {
			return KindAnnotation, true
		}
	}
	for _, ext := range w.readExt {
		if strings.HasSuffix(lower, ext) && len(lower) > len(ext) {
			return KindReads, true
		}
	}
	return "", false
}

// Watch validates the directory, queues the files already present and starts
// following changes. The returned channel is closed when ctx ends, after
// which Watch may be called again; reported basenames stay remembered.
func (w *Watcher) Watch(ctx context.Context) (<-chan Event, error) {
	info, err := os.Stat(w.dir)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "watcher", "stat watch dir", w.dir, err)
	}
	if !info.IsDir() {
		return nil, services.Wrap(services.ErrConfiguration, "watcher", "stat watch dir", w.dir+" is not a directory", nil)
	}
	if _, err := os.ReadDir(w.dir); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "watcher", "read watch dir", w.dir, err)
	}

	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil, ErrAlreadyWatching
	}
	w.running = true
	w.mu.Unlock()

	fsw := w.openNotify()
	w.mu.Lock()
	w.polling = fsw == nil
	w.mu.Unlock()

	existing, scanErr := w.scanTree()
	if scanErr != nil {
		logging.WarnWithContext(w.logger, "startup scan incomplete", "watch_scan_partial",
			logging.Error(scanErr),
			logging.String(logging.FieldErrorHint, "check permissions below "+w.dir),
			logging.String(logging.FieldImpact, "unreadable subdirectories are retried on the next rescan"),
		)
	}
	w.logger.Info("watching directory",
		logging.String(logging.FieldEventType, "watch_start"),
		logging.String("dir", w.dir),
		logging.Bool("polling", fsw == nil),
		logging.Int("existing_files", len(existing)),
	)

	out := make(chan Event)
	go w.run(ctx, fsw, existing, out)
	return out, nil
}

func (w *Watcher) openNotify() *fsnotify.Watcher {
	if w.forcePoll {
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err == nil {
		err = w.addWatches(fsw, w.dir)
		if err != nil {
			fsw.Close()
		}
	}
	if err != nil {
		logging.WarnWithContext(w.logger, "fsnotify unavailable; polling instead", "watch_poll_fallback",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "raise fs.inotify.max_user_watches or set watcher.force_poll"),
			logging.String(logging.FieldImpact, "new files are detected every poll interval"),
			logging.Duration("poll_interval", w.poll),
		)
		return nil
	}
	return fsw
}

func (w *Watcher) addWatches(fsw *fsnotify.Watcher, root string) error {
	if !w.recursive {
		return fsw.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.skipDir(path) {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}

func (w *Watcher) skipDir(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return true
	}
	_, ignored := w.ignored[filepath.Clean(path)]
	return ignored
}

// scanTree lists candidate files below the watch dir in lexical order. Errors
// below the root are collected and the walk continues.
func (w *Watcher) scanTree() ([]string, error) {
	return w.scanFrom(w.dir)
}

func (w *Watcher) scanFrom(root string) ([]string, error) {
	var files []string
	var errs []error
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			errs = append(errs, err)
			return nil
		}
		if d.IsDir() {
			if path == root {
				return nil
			}
			if !w.recursive || w.skipDir(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if _, ok := w.Classify(path); ok {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		errs = append(errs, err)
	}
	return files, errors.Join(errs...)
}

func (w *Watcher) checkInterval() time.Duration {
	return min(max(w.settle/2, minCheckInterval), maxCheckInterval)
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher, existing []string, out chan<- Event) {
	defer func() {
		if fsw != nil {
			fsw.Close()
		}
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		close(out)
	}()

	pending := newPendingSet()
	now := time.Now()
	for _, path := range existing {
		w.track(pending, path, now)
	}

	check := time.NewTicker(w.checkInterval())
	defer check.Stop()
	poll := time.NewTicker(w.poll)
	defer poll.Stop()

	var fsEvents <-chan fsnotify.Event
	var fsErrors <-chan error
	if fsw != nil {
		fsEvents, fsErrors = fsw.Events, fsw.Errors
	}

	rescanBackoff := newBackoff(w.retryInitial, w.retryMax)
	retry := time.NewTimer(time.Hour)
	retry.Stop()
	defer retry.Stop()

	rescan := func() {
		files, err := w.scanTree()
		now := time.Now()
		for _, path := range files {
			w.track(pending, path, now)
		}
		if err != nil {
			delay := rescanBackoff.next()
			logging.WarnWithContext(w.logger, "rescan failed; retrying", "watch_rescan_retry",
				logging.Error(err),
				logging.Duration("retry_in", delay),
				logging.String(logging.FieldErrorHint, "check the watch directory is readable"),
				logging.String(logging.FieldImpact, "new files may be reported late"),
			)
			retry.Reset(delay)
			return
		}
		rescanBackoff.reset()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-fsEvents:
			if !ok {
				fsEvents, fsErrors = nil, nil
				w.mu.Lock()
				w.polling = true
				w.mu.Unlock()
				continue
			}
			w.handleNotify(fsw, pending, evt)
		case err, ok := <-fsErrors:
			if !ok {
				fsErrors = nil
				continue
			}
			logging.WarnWithContext(w.logger, "fsnotify error", "watch_notify_error",
				logging.Error(err),
				logging.String(logging.FieldImpact, "missed events are recovered by the next rescan"),
			)
		case <-poll.C:
			rescan()
		case <-retry.C:
			rescan()
		case <-check.C:
			if !w.flush(ctx, pending, out) {
				return
			}
		}
	}
}

func (w *Watcher) handleNotify(fsw *fsnotify.Watcher, pending *pendingSet, evt fsnotify.Event) {
	if evt.Op&fsnotify.Remove != 0 {
		pending.remove(evt.Name)
		return
	}
	info, err := os.Lstat(evt.Name)
	if err != nil {
		return
	}
	now := time.Now()
	if info.IsDir() {
		if !w.recursive || w.skipDir(evt.Name) {
			return
		}
		if err := w.addWatches(fsw, evt.Name); err != nil {
			w.logger.Debug("watch new directory failed", logging.String("dir", evt.Name), logging.Error(err))
		}
		files, _ := w.scanFrom(evt.Name)
		for _, path := range files {
			w.track(pending, path, now)
		}
		return
	}
	if w.insideIgnored(evt.Name) {
		return
	}
	w.track(pending, evt.Name, now)
}

func (w *Watcher) insideIgnored(path string) bool {
	for dir := filepath.Dir(path); dir != w.dir && len(dir) > len(w.dir); dir = filepath.Dir(dir) {
		if w.skipDir(dir) {
			return true
		}
	}
	return false
}

func (w *Watcher) track(pending *pendingSet, path string, now time.Time) {
	kind, ok := w.Classify(path)
	if !ok || w.Seen(path) {
		return
	}
	if c := pending.get(path); c != nil {
		c.since = now
		return
	}
	pending.add(&candidate{
		path:    path,
		name:    filepath.Base(path),
		kind:    kind,
		size:    -1,
		since:   now,
		backoff: newBackoff(w.retryInitial, w.retryMax),
	})
}

// flush stats every pending file and reports the ones that settled. It
// returns false when ctx ended while sending.
func (w *Watcher) flush(ctx context.Context, pending *pendingSet, out chan<- Event) bool {
	now := time.Now()
	for _, c := range pending.list() {
		if now.Before(c.retryAt) {
			continue
		}
		info, err := os.Stat(c.path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				pending.remove(c.path)
				continue
			}
			delay := c.backoff.next()
			c.retryAt = now.Add(delay)
			logging.WarnWithContext(w.logger, "stat failed; retrying", "watch_stat_retry",
				logging.String("path", c.path),
				logging.Error(err),
				logging.Duration("retry_in", delay),
				logging.String(logging.FieldImpact, "file is reported once it can be read"),
			)
			continue
		}
		c.backoff.reset()
		if info.Size() != c.size || !info.ModTime().Equal(c.modTime) {
			c.size, c.modTime, c.since = info.Size(), info.ModTime(), now
			if w.settle > 0 {
				continue
			}
		}
		if c.size == 0 || now.Sub(c.since) < w.settle {
			continue
		}

		pending.remove(c.path)
		if !w.claim(c.name) {
			w.logger.Debug("duplicate basename skipped", logging.String("path", c.path))
			continue
		}
		evt := Event{Path: c.path, Name: c.name, Kind: c.kind, Size: c.size, ModTime: c.modTime}
		w.logger.Debug("file ready",
			logging.String(logging.FieldEventType, "watch_file_ready"),
			logging.String("path", c.path),
			logging.String("kind", string(c.kind)),
			logging.Int64("size", c.size),
		)
		select {
		case out <- evt:
		case <-ctx.Done():
			return false
		}
	}
	return true
}
