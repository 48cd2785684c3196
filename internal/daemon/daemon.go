package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"seqwatch/internal/api"
	"seqwatch/internal/changes"
	"seqwatch/internal/config"
	"seqwatch/internal/datastore"
	"seqwatch/internal/ledger"
	"seqwatch/internal/logging"
	"seqwatch/internal/notifications"
	"seqwatch/internal/pipeline"
	"seqwatch/internal/samplesheet"
	"seqwatch/internal/services"
	"seqwatch/internal/services/annotator"
	"seqwatch/internal/watcher"
)

// ErrAlreadyRunning is returned by Start when another process holds the lock.
var ErrAlreadyRunning = errors.New("another seqwatch daemon instance is already running")

// Option customizes daemon construction.
type Option func(*Daemon)

// WithExecutor replaces the annotator subprocess with exec. Batch keys and
// output paths still follow the pipeline config.
func WithExecutor(exec pipeline.Executor) Option {
	return func(d *Daemon) {
		d.exec = exec
	}
}

// WithNotifier adds a notification target next to the hub and ntfy.
func WithNotifier(svc notifications.Service) Option {
	return func(d *Daemon) {
		d.extra = svc
	}
}

// WithLogHub exposes recent log events through /api/logs.
func WithLogHub(hub *logging.StreamHub) Option {
	return func(d *Daemon) {
		d.logHub = hub
	}
}

// Daemon owns the application state of one seqwatch process.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	logHub *logging.StreamHub

	store     *datastore.Store
	annotator *annotator.Client
	exec      pipeline.Executor
	runner    *pipeline.Runner
	watcher   *watcher.Watcher
	hub       *notifications.Hub
	extra     notifications.Service
	notifier  notifications.Service
	ledger    *ledger.Ledger
	api       *apiServer

	lock *flock.Flock

	mu      sync.Mutex
	used    bool
	cancel  context.CancelFunc
	group   *errgroup.Group
	running atomic.Bool
	started atomic.Int64
}

// Status represents daemon runtime information.
type Status struct {
	Running     bool
	PID         int
	Started     time.Time
	WatchDir    string
	Polling     bool
	LockPath    string
	LedgerPath  string
	Title       string
	Records     int
	DataVersion uint64
	Samples     []string
	References  int
	Runs        map[string]int
}

// New constructs a daemon with initialized dependencies. Configuration
// problems (missing annotator command, bad sample sheet, unreadable reference
// index) are reported here.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	d := &Daemon{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "daemon"),
		hub:    notifications.NewHub(0),
		lock:   flock.New(cfg.LockPath()),
	}
	for _, opt := range opts {
		opt(d)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "daemon", "init", "prepare directories", err)
	}
	lengths, err := cfg.ReferenceLengths()
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "daemon", "init", "load reference lengths", err)
	}
	title, mapping, err := samplesheet.Resolve(cfg)
	if err != nil {
		return nil, err
	}

	storeOpts := datastore.OptionsFromConfig(cfg)
	storeOpts.ReferenceLengths = lengths
	storeOpts.Mapping = mapping
	storeOpts.Title = title
	storeOpts.Logger = logger
	d.store = datastore.New(storeOpts)

	d.annotator, err = annotator.NewFromConfig(cfg, annotator.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	exec := pipeline.Executor(d.annotator)
	if d.exec != nil {
		exec = d.exec
	}

	d.notifier = notifications.Multi(d.hub, notifications.NewService(cfg), d.extra)
	d.runner = pipeline.New(exec, cfg.Pipeline.MaxConcurrent,
		pipeline.WithNotifier(d.notifier),
		pipeline.WithLogger(logger),
	)

	d.watcher, err = watcher.NewFromConfig(cfg, watcher.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	if cfg.Ledger.Enabled {
		d.ledger, err = ledger.Open(cfg.Ledger.Path)
		if err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "daemon", "init", "open run ledger", err)
		}
	}

	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the instance lock, replays the ledger and launches the
// watcher, runner, API and message loops. A daemon can be started once.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if d.used {
		return errors.New("daemon cannot be restarted; create a new instance")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}
	d.used = true

	runCtx, cancel := context.WithCancel(ctx)
	d.replay(runCtx)

	if err := d.api.start(runCtx); err != nil {
		cancel()
		d.unlock()
		return err
	}
	events, err := d.watcher.Watch(runCtx)
	if err != nil {
		cancel()
		d.api.stop()
		d.unlock()
		return err
	}
	d.runner.Start(runCtx)

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error { return d.dispatchLoop(groupCtx, events) })
	group.Go(func() error { return d.completionLoop(groupCtx) })
	group.Go(func() error { return d.publishLoop(groupCtx) })

	d.cancel = cancel
	d.group = group
	d.started.Store(time.Now().UnixNano())
	d.running.Store(true)
	d.logger.Info("seqwatch daemon started",
		logging.String("watch_dir", d.watcher.Dir()),
		logging.Bool("polling", d.watcher.Polling()),
		logging.String("lock", d.lock.Path()),
		logging.Int("max_concurrent", d.cfg.Pipeline.MaxConcurrent),
	)
	return nil
}

// Wait blocks until the message loops exit and returns the first loop error.
func (d *Daemon) Wait() error {
	d.mu.Lock()
	group := d.group
	d.mu.Unlock()
	if group == nil {
		return nil
	}
	return group.Wait()
}

// Stop cancels the loops, stops the runner (terminating active annotator
// processes), records every run in the ledger and releases the lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	d.cancel()
	if err := d.group.Wait(); err != nil {
		logging.WarnWithContext(d.logger, "daemon loop failed", "daemon_loop_failed",
			logging.Error(err),
			logging.ErrorKind(err),
		)
	}
	d.runner.Stop()

	ctx := context.Background()
	for _, run := range d.runner.Runs() {
		d.record(ctx, run)
	}
	d.api.stop()
	d.store.Close()
	d.unlock()
	d.running.Store(false)
	d.logger.Info("seqwatch daemon stopped")
}

// Close stops the daemon and releases the ledger.
func (d *Daemon) Close() error {
	d.Stop()
	if d.ledger != nil {
		return d.ledger.Close()
	}
	return nil
}

func (d *Daemon) unlock() {
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "lock_release_failed",
			logging.Error(err),
			logging.String("lock", d.lock.Path()),
			logging.String(logging.FieldErrorHint, "remove the lock file if no daemon is running"),
		)
	}
}

// Status reports the daemon's runtime state.
func (d *Daemon) Status() Status {
	_, mapping, title := d.store.State()
	status := Status{
		Running:    d.running.Load(),
		PID:        os.Getpid(),
		WatchDir:   d.watcher.Dir(),
		Polling:    d.watcher.Polling(),
		LockPath:   d.lock.Path(),
		Title:      title,
		Samples:    mapping.Samples(),
		References: len(d.store.References()),
		Runs:       api.CountRuns(d.runner.Runs()),
	}
	if started := d.started.Load(); started != 0 {
		status.Started = time.Unix(0, started).UTC()
	}
	if d.ledger != nil {
		status.LedgerPath = d.ledger.Path()
	}
	if snap, ok := d.store.Snapshot(); ok {
		status.Records = snap.Records
		status.DataVersion = snap.Version
	}
	return status
}

// Apply validates and applies a configuration change to the datastore.
func (d *Daemon) Apply(change changes.Change) error {
	if err := changes.Apply(d.store, change); err != nil {
		return err
	}
	d.logger.Info("configuration change applied",
		logging.String(logging.FieldEventType, "change_applied"),
		logging.String("kind", change.Kind()),
	)
	return nil
}

// Store exposes the datastore for read access.
func (d *Daemon) Store() *datastore.Store { return d.store }

// Runner exposes the pipeline runner.
func (d *Daemon) Runner() *pipeline.Runner { return d.runner }

// Hub exposes the in-process notification hub.
func (d *Daemon) Hub() *notifications.Hub { return d.hub }

// LogStream returns the log hub, or nil when none was configured.
func (d *Daemon) LogStream() *logging.StreamHub { return d.logHub }

// APIAddress returns the bound API address, or "" when the API is disabled
// or not started.
func (d *Daemon) APIAddress() string { return d.api.address() }
