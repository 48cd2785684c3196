package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"seqwatch/internal/notifications"
	"seqwatch/internal/pipeline"
	"seqwatch/internal/services"
	"seqwatch/internal/services/annotator"
	"seqwatch/internal/testsupport"
)

// gateExec blocks each run until its input is released or its context ends.
type gateExec struct {
	mu        sync.Mutex
	gates     map[string]chan error
	started   chan string
	active    int
	maxActive int
}

func newGateExec() *gateExec {
	return &gateExec{gates: make(map[string]chan error), started: make(chan string, 32)}
}

func (g *gateExec) gate(input string) chan error {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.gates[input]
	if !ok {
		ch = make(chan error, 1)
		g.gates[input] = ch
	}
	return ch
}

func (g *gateExec) release(input string, err error) { g.gate(input) <- err }

func (g *gateExec) Annotate(ctx context.Context, input, _ string) error {
	g.mu.Lock()
	g.active++
	g.maxActive = max(g.maxActive, g.active)
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.active--
		g.mu.Unlock()
	}()

	g.started <- input
	select {
	case err := <-g.gate(input):
		return err
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

func (g *gateExec) peak() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.maxActive
}

func job(name string) pipeline.Job {
	return pipeline.Job{Name: name, Batch: name, Input: name + ".fastq", Output: name + ".tsv"}
}

func newRunner(t *testing.T, exec pipeline.Executor, bound int, opts ...pipeline.Option) *pipeline.Runner {
	t.Helper()
	runner := pipeline.New(exec, bound, opts...)
	runner.Start(context.Background())
	t.Cleanup(runner.Stop)
	return runner
}

func waitStarted(t *testing.T, g *gateExec) string {
	t.Helper()
	select {
	case input := <-g.started:
		return input
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for run start")
		return ""
	}
}

func waitCompletion(t *testing.T, r *pipeline.Runner) pipeline.Completion {
	t.Helper()
	select {
	case c := <-r.Completions():
		return c
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for completion")
		return pipeline.Completion{}
	}
}

func kinds(run pipeline.Run) []pipeline.Kind {
	out := make([]pipeline.Kind, 0, len(run.Messages))
	for _, msg := range run.Messages {
		out = append(out, msg.Kind)
	}
	return out
}

func assertKinds(t *testing.T, run pipeline.Run, want ...pipeline.Kind) {
	t.Helper()
	got := kinds(run)
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("message kinds = %v, want %v", got, want)
	}
}

func TestKindStatus(t *testing.T) {
	tests := []struct {
		kind   pipeline.Kind
		status pipeline.Status
		ok     bool
	}{
		{pipeline.KindInit, pipeline.StatusIdle, true},
		{pipeline.KindStart, pipeline.StatusRunning, true},
		{pipeline.KindSuccess, pipeline.StatusSuccess, true},
		{pipeline.KindError, pipeline.StatusError, true},
		{pipeline.KindClosed, pipeline.StatusClosed, true},
		{pipeline.KindInfo, "", false},
		{pipeline.Kind("progress"), "", false},
		{pipeline.Kind(""), "", false},
	}
	for _, tc := range tests {
		status, ok := pipeline.KindStatus(tc.kind)
		if status != tc.status || ok != tc.ok {
			t.Errorf("KindStatus(%q) = %q, %v; want %q, %v", tc.kind, status, ok, tc.status, tc.ok)
		}
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to pipeline.Status
		want     bool
	}{
		{pipeline.StatusIdle, pipeline.StatusRunning, true},
		{pipeline.StatusIdle, pipeline.StatusError, true},
		{pipeline.StatusIdle, pipeline.StatusSuccess, false},
		{pipeline.StatusRunning, pipeline.StatusSuccess, true},
		{pipeline.StatusRunning, pipeline.StatusClosed, false},
		{pipeline.StatusSuccess, pipeline.StatusClosed, true},
		{pipeline.StatusError, pipeline.StatusRunning, false},
		{pipeline.StatusClosed, pipeline.StatusIdle, false},
	}
	for _, tc := range tests {
		if got := pipeline.CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v", tc.from, tc.to, got)
		}
	}
}

func TestRunSucceedsAndNotifies(t *testing.T) {
	hub := notifications.NewHub(16)
	exec := newGateExec()
	runner := newRunner(t, exec, 1, pipeline.WithNotifier(hub))

	submitted, err := runner.Submit(job("b1"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitStarted(t, exec)
	exec.release("b1.fastq", nil)

	completion := waitCompletion(t, runner)
	if completion.Err != nil || completion.Run.ID != submitted.ID {
		t.Fatalf("unexpected completion %+v", completion)
	}
	if completion.Run.Status != pipeline.StatusSuccess || completion.Run.Started.IsZero() || completion.Run.Finished.IsZero() {
		t.Fatalf("unexpected run state %+v", completion.Run)
	}
	assertKinds(t, completion.Run, pipeline.KindInit, pipeline.KindStart, pipeline.KindSuccess)

	events, _, _ := hub.Fetch(context.Background(), 0, false)
	if len(events) != 3 {
		t.Fatalf("expected 3 pipeline events, got %d", len(events))
	}
	last := events[2].Pipeline
	if last.RunID != submitted.ID || last.Kind != "success" || last.Status != "success" || last.Name != "b1" {
		t.Fatalf("unexpected last event %+v", last)
	}
}

func TestRunsStartInSubmissionOrderUnderBound(t *testing.T) {
	exec := newGateExec()
	runner := newRunner(t, exec, 2)

	names := []string{"b0", "b1", "b2", "b3", "b4"}
	for _, name := range names {
		if _, err := runner.Submit(job(name)); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	var order []string
	order = append(order, waitStarted(t, exec), waitStarted(t, exec))
	for i := range names {
		exec.release(names[i]+".fastq", nil)
		waitCompletion(t, runner)
		if len(order) < len(names) {
			order = append(order, waitStarted(t, exec))
		}
	}

	if order[0] != "b0.fastq" && order[1] != "b0.fastq" {
		t.Fatalf("b0 did not start first: %v", order)
	}
	for i := 2; i < len(order); i++ {
		if order[i] != names[i]+".fastq" {
			t.Fatalf("start order %v is not FIFO", order)
		}
	}
	if peak := exec.peak(); peak > 2 {
		t.Fatalf("pool bound exceeded: %d concurrent runs", peak)
	}
}

func TestCancelRunningLeavesOthersRunning(t *testing.T) {
	exec := newGateExec()
	runner := newRunner(t, exec, 2)

	a, _ := runner.Submit(job("a"))
	b, _ := runner.Submit(job("b"))
	waitStarted(t, exec)
	waitStarted(t, exec)

	if err := runner.Cancel(a.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	completion := waitCompletion(t, runner)
	if completion.Run.ID != a.ID || !errors.Is(completion.Err, annotator.ErrCancelled) {
		t.Fatalf("unexpected completion %+v", completion)
	}
	assertKinds(t, completion.Run, pipeline.KindInit, pipeline.KindStart, pipeline.KindInfo, pipeline.KindError)

	other, ok := runner.Run(b.ID)
	if !ok || other.Status != pipeline.StatusRunning {
		t.Fatalf("expected b still running, got %+v", other)
	}
	exec.release("b.fastq", nil)
	if c := waitCompletion(t, runner); c.Run.ID != b.ID || c.Run.Status != pipeline.StatusSuccess {
		t.Fatalf("expected b to succeed, got %+v", c)
	}
	if err := runner.Cancel(b.ID); !errors.Is(err, pipeline.ErrRunFinished) {
		t.Fatalf("expected ErrRunFinished, got %v", err)
	}
}

func TestCancelQueuedRunNeverStarts(t *testing.T) {
	exec := newGateExec()
	runner := newRunner(t, exec, 1)

	runner.Submit(job("a"))
	queued, _ := runner.Submit(job("b"))
	waitStarted(t, exec)

	if err := runner.Cancel(queued.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	completion := waitCompletion(t, runner)
	if completion.Run.ID != queued.ID || completion.Run.Status != pipeline.StatusError {
		t.Fatalf("unexpected completion %+v", completion)
	}
	assertKinds(t, completion.Run, pipeline.KindInit, pipeline.KindError)
	if completion.Run.Error != "cancelled while queued" {
		t.Fatalf("unexpected error text %q", completion.Run.Error)
	}

	exec.release("a.fastq", nil)
	waitCompletion(t, runner)
	select {
	case input := <-exec.started:
		t.Fatalf("cancelled run started: %s", input)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTimeoutMovesRunningToError(t *testing.T) {
	client, err := annotator.New(annotator.Settings{
		Binary:  testsupport.StubAnnotator(t, filepath.Join(t.TempDir(), "bin"), "slow"),
		WorkDir: t.TempDir(),
		Timeout: 200 * time.Millisecond,
		Grace:   200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("annotator.New: %v", err)
	}
	runner := newRunner(t, client, 1)

	out := filepath.Join(t.TempDir(), "slow.tsv")
	runner.Submit(pipeline.Job{Name: "slow", Batch: "slow", Input: filepath.Join(t.TempDir(), "slow.fastq"), Output: out})

	completion := waitCompletion(t, runner)
	if !errors.Is(completion.Err, services.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", completion.Err)
	}
	assertKinds(t, completion.Run, pipeline.KindInit, pipeline.KindStart, pipeline.KindError)
	if completion.Run.Error == "" {
		t.Fatal("expected error content on the run")
	}
}

func TestNoteDoesNotTransition(t *testing.T) {
	runner := pipeline.New(newGateExec(), 1)
	t.Cleanup(runner.Stop)

	submitted, _ := runner.Submit(job("a"))
	if err := runner.Note(submitted.ID, "waiting for flowcell"); err != nil {
		t.Fatalf("Note: %v", err)
	}
	run, _ := runner.Run(submitted.ID)
	if run.Status != pipeline.StatusIdle {
		t.Fatalf("status changed to %s", run.Status)
	}
	assertKinds(t, run, pipeline.KindInit, pipeline.KindInfo)

	if err := runner.Note("missing", "x"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestClear(t *testing.T) {
	hub := notifications.NewHub(16)
	exec := newGateExec()
	runner := newRunner(t, exec, 1, pipeline.WithNotifier(hub))

	submitted, _ := runner.Submit(job("a"))
	waitStarted(t, exec)
	if err := runner.Clear(submitted.ID); !errors.Is(err, pipeline.ErrRunActive) {
		t.Fatalf("expected ErrRunActive, got %v", err)
	}

	exec.release("a.fastq", errors.New("exit status 1"))
	waitCompletion(t, runner)
	if err := runner.Clear(submitted.ID); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, ok := runner.Run(submitted.ID); ok {
		t.Fatal("cleared run still listed")
	}
	if runs := runner.Runs(); len(runs) != 0 {
		t.Fatalf("expected no runs, got %d", len(runs))
	}
	events, _, _ := hub.Fetch(context.Background(), 0, false)
	last := events[len(events)-1].Pipeline
	if last.Kind != "closed" || last.Status != "closed" {
		t.Fatalf("expected closed event, got %+v", last)
	}
	if err := runner.Clear("missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStopClosesEveryRun(t *testing.T) {
	exec := newGateExec()
	runner := pipeline.New(exec, 1)
	runner.Start(context.Background())

	running, _ := runner.Submit(job("a"))
	queued, _ := runner.Submit(job("b"))
	waitStarted(t, exec)

	runner.Stop()

	runs := runner.Runs()
	if len(runs) != 2 || runs[0].ID != running.ID || runs[1].ID != queued.ID {
		t.Fatalf("unexpected runs %+v", runs)
	}
	for _, run := range runs {
		if run.Status != pipeline.StatusClosed {
			t.Fatalf("run %s not closed: %s", run.Job.Name, run.Status)
		}
	}
	assertKinds(t, runs[0], pipeline.KindInit, pipeline.KindStart, pipeline.KindError, pipeline.KindClosed)
	assertKinds(t, runs[1], pipeline.KindInit, pipeline.KindError, pipeline.KindClosed)

	if _, err := runner.Submit(job("c")); !errors.Is(err, pipeline.ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestOutcomeOfClosedRun(t *testing.T) {
	run := pipeline.Run{
		Status: pipeline.StatusClosed,
		Messages: []pipeline.Message{
			{Kind: pipeline.KindInit}, {Kind: pipeline.KindStart}, {Kind: pipeline.KindSuccess}, {Kind: pipeline.KindClosed},
		},
	}
	if got := run.Outcome(); got != pipeline.StatusSuccess {
		t.Fatalf("Outcome = %s", got)
	}
	run.Status = pipeline.StatusRunning
	if got := run.Outcome(); got != pipeline.StatusRunning {
		t.Fatalf("Outcome = %s", got)
	}
}
