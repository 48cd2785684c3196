package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"seqwatch/internal/ledger"
	"seqwatch/internal/pipeline"
	"seqwatch/internal/services"
	"seqwatch/internal/testsupport"
)

func entry(id, status string, created time.Time) ledger.Entry {
	return ledger.Entry{
		ID:      id,
		Name:    id,
		Batch:   id,
		Input:   "/watch/" + id + ".fastq",
		Output:  "/out/" + id + ".annotated.tsv",
		Status:  status,
		Created: created,
	}
}

func TestRecordUpsertsAndLists(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	l := testsupport.MustOpenLedger(t, cfg)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		if err := l.Record(ctx, entry(id, "idle", base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	done := entry("b", "success", base.Add(time.Second))
	done.Started = base.Add(2 * time.Second)
	done.Finished = base.Add(5 * time.Second)
	if err := l.Record(ctx, done); err != nil {
		t.Fatalf("Record update: %v", err)
	}

	entries, err := l.List(ctx, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 3 || entries[0].ID != "c" || entries[2].ID != "a" {
		t.Fatalf("expected newest first, got %+v", entries)
	}
	limited, _ := l.List(ctx, 1)
	if len(limited) != 1 || limited[0].ID != "c" {
		t.Fatalf("unexpected limited list %+v", limited)
	}

	got, err := l.Get(ctx, "b")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != "success" || !got.Finished.Equal(done.Finished) || !got.Created.Equal(done.Created) {
		t.Fatalf("unexpected entry %+v", got)
	}
	if _, err := l.Get(ctx, "zzz"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCompletedReturnsSuccessfulRunsInFinishOrder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	l := testsupport.MustOpenLedger(t, cfg)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	late := entry("late", "success", base)
	late.Finished = base.Add(time.Minute)
	early := entry("early", "success", base.Add(time.Second))
	early.Finished = base.Add(10 * time.Second)
	failed := entry("failed", "error", base)
	failed.Error = "exit status 3"

	for _, e := range []ledger.Entry{late, early, failed} {
		if err := l.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	completed, err := l.Completed(ctx)
	if err != nil {
		t.Fatalf("Completed: %v", err)
	}
	if len(completed) != 2 || completed[0].ID != "early" || completed[1].ID != "late" {
		t.Fatalf("unexpected completed list %+v", completed)
	}

	if err := l.Delete(ctx, "early"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	completed, _ = l.Completed(ctx)
	if len(completed) != 1 {
		t.Fatalf("expected one completed entry after delete, got %d", len(completed))
	}
}

func TestReopenKeepsEntries(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()

	first, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	run := pipeline.Run{
		ID:      "r1",
		Job:     pipeline.Job{Name: "b1", Batch: "b1", Input: "/w/b1.fastq", Output: "/o/b1.tsv"},
		Status:  pipeline.StatusError,
		Error:   "timed out",
		Created: time.Now(),
	}
	if err := first.Record(ctx, ledger.EntryFromRun(run)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	_ = first.Close()

	second := testsupport.MustOpenLedger(t, cfg)
	got, err := second.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got.Error != "timed out" || got.Status != "error" || got.Input != "/w/b1.fastq" {
		t.Fatalf("unexpected entry %+v", got)
	}
}

func TestRecordRequiresID(t *testing.T) {
	l := testsupport.MustOpenLedger(t, testsupport.NewConfig(t))
	if err := l.Record(context.Background(), ledger.Entry{}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
