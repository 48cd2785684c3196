package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"seqwatch/internal/logging"
	"seqwatch/internal/notifications"
	"seqwatch/internal/services"
	"seqwatch/internal/services/annotator"
)

var (
	// ErrRunActive is returned when clearing a run that is queued or running.
	ErrRunActive = errors.New("run is still active")
	// ErrRunFinished is returned when cancelling a run that already finished.
	ErrRunFinished = errors.New("run already finished")
	// ErrStopped is returned by Submit after Stop.
	ErrStopped = errors.New("runner stopped")
)

const completionBuffer = 64

// Executor performs the work of one run.
type Executor interface {
	Annotate(ctx context.Context, input, output string) error
}

// Notifier receives run transitions.
type Notifier interface {
	NotifyPipeline(ctx context.Context, event notifications.PipelineEvent) error
}

// Option configures a Runner.
type Option func(*Runner)

// WithNotifier forwards run transitions to n.
func WithNotifier(n Notifier) Option {
	return func(r *Runner) {
		if n != nil {
			r.notifier = n
		}
	}
}

// WithLogger sets the runner logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock overrides the message timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

type run struct {
	view   Run
	cancel context.CancelCauseFunc
}

// Runner executes runs through a bounded FIFO pool.
type Runner struct {
	exec     Executor
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
	sem      *semaphore.Weighted
	bound    int

	mu      sync.Mutex
	runs    map[string]*run
	order   []string
	queue   []string
	started bool
	stopped bool
	baseCtx context.Context

	wake        chan struct{}
	stopCh      chan struct{}
	completions chan Completion

	dispatchCancel context.CancelFunc
	dispatchDone   chan struct{}
	active         sync.WaitGroup
}

// New constructs a runner executing at most maxConcurrent runs at a time.
func New(exec Executor, maxConcurrent int, opts ...Option) *Runner {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	r := &Runner{
		exec:        exec,
		notifier:    notifications.Noop(),
		logger:      logging.NewNop(),
		now:         func() time.Time { return time.Now().UTC() },
		sem:         semaphore.NewWeighted(int64(maxConcurrent)),
		bound:       maxConcurrent,
		runs:        make(map[string]*run),
		wake:        make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		completions: make(chan Completion, completionBuffer),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.NewComponentLogger(r.logger, "pipeline")
	return r
}

// Completions delivers runs that reached success or error.
func (r *Runner) Completions() <-chan Completion {
	return r.completions
}

// Start launches the dispatcher. Runs submitted earlier start now.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started || r.stopped {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.baseCtx = context.WithoutCancel(ctx)
	dispatchCtx, cancel := context.WithCancel(ctx)
	r.dispatchCancel = cancel
	r.dispatchDone = make(chan struct{})
	r.mu.Unlock()

	r.signal()
	go r.dispatch(dispatchCtx)
	r.logger.Debug("pipeline runner started", logging.Int("max_concurrent", r.bound))
}

// Submit creates an idle run for job and queues it.
func (r *Runner) Submit(job Job) (Run, error) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return Run{}, ErrStopped
	}
	now := r.now()
	entry := &run{view: Run{
		ID:      uuid.NewString(),
		Job:     job,
		Status:  StatusIdle,
		Created: now,
	}}
	evt := r.appendLocked(entry, KindInit, "queued "+job.Input)
	r.runs[entry.view.ID] = entry
	r.order = append(r.order, entry.view.ID)
	r.queue = append(r.queue, entry.view.ID)
	view := entry.view.clone()
	r.mu.Unlock()

	r.notify(evt)
	r.signal()
	return view, nil
}

// Note appends an informational message to a run without changing status.
func (r *Runner) Note(id, content string) error {
	r.mu.Lock()
	entry, ok := r.runs[id]
	if !ok {
		r.mu.Unlock()
		return notFound(id)
	}
	evt := r.appendLocked(entry, KindInfo, content)
	r.mu.Unlock()
	r.notify(evt)
	return nil
}

// Cancel stops a run. A queued run ends in error immediately; a running run
// is signalled and ends once its process exits.
func (r *Runner) Cancel(id string) error {
	r.mu.Lock()
	entry, ok := r.runs[id]
	if !ok {
		r.mu.Unlock()
		return notFound(id)
	}
	switch entry.view.Status {
	case StatusIdle:
		r.queue = slices.DeleteFunc(r.queue, func(q string) bool { return q == id })
		evt := r.finishLocked(entry, KindError, "cancelled while queued")
		view := entry.view.clone()
		r.mu.Unlock()
		r.notify(evt)
		r.complete(Completion{Run: view, Err: annotator.ErrCancelled})
		return nil
	case StatusRunning:
		evt := r.appendLocked(entry, KindInfo, "cancellation requested")
		cancel := entry.cancel
		r.mu.Unlock()
		r.notify(evt)
		cancel(annotator.ErrCancelled)
		return nil
	default:
		r.mu.Unlock()
		return ErrRunFinished
	}
}

// Clear closes a finished run and forgets it.
func (r *Runner) Clear(id string) error {
	r.mu.Lock()
	entry, ok := r.runs[id]
	if !ok {
		r.mu.Unlock()
		return notFound(id)
	}
	if !entry.view.Status.Terminal() {
		r.mu.Unlock()
		return ErrRunActive
	}
	evt := r.appendLocked(entry, KindClosed, "")
	delete(r.runs, id)
	r.order = slices.DeleteFunc(r.order, func(o string) bool { return o == id })
	r.mu.Unlock()
	r.notify(evt)
	return nil
}

// Runs returns copies of every run in creation order.
func (r *Runner) Runs() []Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Run, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.runs[id].view.clone())
	}
	return out
}

// Run returns a copy of one run.
func (r *Runner) Run(id string) (Run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.runs[id]
	if !ok {
		return Run{}, false
	}
	return entry.view.clone(), true
}

// Stop cancels queued and running runs, waits for their processes, and closes
// every run.
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	close(r.stopCh)
	var events []notifications.PipelineEvent
	for _, id := range r.order {
		entry := r.runs[id]
		switch entry.view.Status {
		case StatusIdle:
			events = append(events, r.finishLocked(entry, KindError, "cancelled while queued: shutting down"))
		case StatusRunning:
			entry.cancel(annotator.ErrShutdown)
		}
	}
	r.queue = nil
	dispatchCancel, dispatchDone := r.dispatchCancel, r.dispatchDone
	r.mu.Unlock()

	for _, evt := range events {
		r.notify(evt)
	}
	if dispatchCancel != nil {
		dispatchCancel()
		<-dispatchDone
	}
	r.active.Wait()

	r.mu.Lock()
	events = events[:0]
	for _, id := range r.order {
		entry := r.runs[id]
		if CanTransition(entry.view.Status, StatusClosed) {
			events = append(events, r.appendLocked(entry, KindClosed, "shutdown"))
		}
	}
	r.mu.Unlock()
	for _, evt := range events {
		r.notify(evt)
	}
	r.logger.Debug("pipeline runner stopped")
}

func (r *Runner) dispatch(ctx context.Context) {
	defer close(r.dispatchDone)
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.wake:
		}
		for {
			id, ok := r.popQueued()
			if !ok {
				break
			}
			if err := r.sem.Acquire(ctx, 1); err != nil {
				return
			}
			if !r.launch(id) {
				r.sem.Release(1)
			}
		}
	}
}

func (r *Runner) popQueued() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 || r.stopped {
		return "", false
	}
	id := r.queue[0]
	r.queue = r.queue[1:]
	return id, true
}

// launch starts a queued run once a pool slot is held. It returns false when
// the run left the idle state while waiting for the slot.
func (r *Runner) launch(id string) bool {
	r.mu.Lock()
	entry, ok := r.runs[id]
	if !ok || entry.view.Status != StatusIdle || r.stopped {
		r.mu.Unlock()
		return false
	}
	ctx := services.WithRunID(r.baseCtx, id)
	ctx = services.WithBatch(ctx, entry.view.Job.Batch)
	ctx, cancel := context.WithCancelCause(ctx)
	entry.cancel = cancel
	entry.view.Started = r.now()
	evt := r.appendLocked(entry, KindStart, entry.view.Job.Output)
	job := entry.view.Job
	r.active.Add(1)
	r.mu.Unlock()

	r.notify(evt)
	go r.execute(ctx, entry, job)
	return true
}

func (r *Runner) execute(ctx context.Context, entry *run, job Job) {
	defer r.active.Done()
	logger := logging.WithContext(ctx, r.logger)
	logger.Info("annotation run started",
		logging.String(logging.FieldEventType, "run_start"),
		logging.String("input", job.Input),
	)

	err := r.exec.Annotate(ctx, job.Input, job.Output)
	entry.cancel(nil)

	r.mu.Lock()
	var evt notifications.PipelineEvent
	if err != nil {
		evt = r.finishLocked(entry, KindError, err.Error())
	} else {
		evt = r.finishLocked(entry, KindSuccess, job.Output)
	}
	view := entry.view.clone()
	r.mu.Unlock()
	r.sem.Release(1)

	if err != nil {
		logging.WarnWithContext(logger, "annotation run failed", "run_failed",
			logging.Error(err),
			logging.ErrorKind(err),
			logging.String(logging.FieldErrorHint, "check the annotator output and pipeline.command"),
			logging.String(logging.FieldImpact, "batch was not ingested"),
		)
	} else {
		logger.Info("annotation run finished",
			logging.String(logging.FieldEventType, "run_success"),
			logging.Duration("duration", view.Finished.Sub(view.Started)),
		)
	}
	r.notify(evt)
	r.complete(Completion{Run: view, Err: err})
}

func (r *Runner) complete(c Completion) {
	select {
	case r.completions <- c:
	case <-r.stopCh:
	}
}

// finishLocked moves a run into a terminal status and stamps it.
func (r *Runner) finishLocked(entry *run, kind Kind, content string) notifications.PipelineEvent {
	entry.view.Finished = r.now()
	if kind == KindError {
		entry.view.Error = content
	}
	return r.appendLocked(entry, kind, content)
}

// appendLocked records a message and applies the transition its kind implies.
// Kinds without a status, or transitions the state machine forbids, only log.
func (r *Runner) appendLocked(entry *run, kind Kind, content string) notifications.PipelineEvent {
	ts := r.now()
	if next, ok := KindStatus(kind); ok && next != entry.view.Status {
		if CanTransition(entry.view.Status, next) {
			entry.view.Status = next
		} else {
			r.logger.Warn("pipeline transition rejected",
				logging.String(logging.FieldRunID, entry.view.ID),
				logging.String("from", string(entry.view.Status)),
				logging.String("to", string(next)),
				logging.String(logging.FieldEventType, "run_transition_rejected"),
				logging.String(logging.FieldErrorHint, "report this as a bug"),
				logging.String(logging.FieldImpact, "message recorded without status change"),
			)
		}
	}
	entry.view.Messages = append(entry.view.Messages, Message{Kind: kind, Timestamp: ts, Content: content})
	return notifications.PipelineEvent{
		RunID:     entry.view.ID,
		Name:      entry.view.Job.Name,
		Batch:     entry.view.Job.Batch,
		Kind:      string(kind),
		Status:    string(entry.view.Status),
		Timestamp: ts,
		Content:   content,
	}
}

func (r *Runner) notify(evt notifications.PipelineEvent) {
	if err := r.notifier.NotifyPipeline(context.Background(), evt); err != nil {
		logging.WarnWithContext(r.logger, "pipeline notification failed", "notification_failed",
			logging.String(logging.FieldRunID, evt.RunID),
			logging.String("kind", evt.Kind),
			logging.Error(err),
			logging.String(logging.FieldImpact, "subscribers recover from the next event"),
		)
	}
}

func (r *Runner) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (v Run) clone() Run {
	v.Messages = slices.Clone(v.Messages)
	return v
}

func notFound(id string) error {
	return services.Wrap(services.ErrNotFound, "pipeline", "lookup run", id, nil)
}
