package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"seqwatch/internal/ingest"
	"seqwatch/internal/ledger"
	"seqwatch/internal/logging"
	"seqwatch/internal/pipeline"
	"seqwatch/internal/services"
	"seqwatch/internal/watcher"
)

// maxLoggedWarnings bounds per-row warning lines for one batch; the total is
// always logged.
const maxLoggedWarnings = 10

func (d *Daemon) dispatchLoop(ctx context.Context, events <-chan watcher.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return services.Wrap(services.ErrTransient, "daemon", "watch", "file watcher stopped", nil)
			}
			d.dispatch(ctx, evt)
		}
	}
}

func (d *Daemon) dispatch(ctx context.Context, evt watcher.Event) {
	switch evt.Kind {
	case watcher.KindReads:
		d.submit(ctx, evt)
	case watcher.KindAnnotation:
		batch := d.annotationBatch(evt.Name)
		_, _, _ = d.ingestFile(ctx, batch, evt.Path)
	}
}

func (d *Daemon) submit(ctx context.Context, evt watcher.Event) {
	batch := d.annotator.BatchKey(evt.Path)
	logger := logging.WithContext(services.WithBatch(ctx, batch), d.logger)
	if d.store.HasBatch(batch) {
		logger.Debug("batch already ingested; skipping annotation", logging.String("path", evt.Path))
		return
	}
	run, err := d.runner.Submit(pipeline.Job{
		Name:   evt.Name,
		Batch:  batch,
		Input:  evt.Path,
		Output: d.annotator.OutputPath(evt.Path),
	})
	if err != nil {
		logging.WarnWithContext(logger, "failed to queue annotation run", "run_submit_failed",
			logging.String("path", evt.Path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "batch will not be annotated until the daemon restarts"),
		)
		return
	}
	logger.Info("annotation run queued",
		logging.String(logging.FieldEventType, "run_queued"),
		logging.String(logging.FieldRunID, run.ID),
		logging.Int64("size_bytes", evt.Size),
	)
	d.record(ctx, run)
}

// annotationBatch derives the batch key of an annotation file: the pipeline
// output suffix when present, otherwise the longest annotation extension.
func (d *Daemon) annotationBatch(name string) string {
	lower := strings.ToLower(name)
	if suffix := strings.ToLower(d.cfg.Pipeline.OutputSuffix); suffix != "" && strings.HasSuffix(lower, suffix) && len(name) > len(suffix) {
		return name[:len(name)-len(suffix)]
	}
	best := ""
	for _, ext := range d.cfg.Watcher.AnnotationExtensions {
		ext = strings.ToLower(ext)
		if strings.HasSuffix(lower, ext) && len(ext) > len(best) && len(name) > len(ext) {
			best = ext
		}
	}
	if best != "" {
		return name[:len(name)-len(best)]
	}
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func (d *Daemon) completionLoop(ctx context.Context) error {
	completions := d.runner.Completions()
	for {
		select {
		case <-ctx.Done():
			return nil
		case completion := <-completions:
			d.complete(ctx, completion)
		}
	}
}

func (d *Daemon) complete(ctx context.Context, completion pipeline.Completion) {
	run := completion.Run
	d.record(ctx, run)
	if run.Status != pipeline.StatusSuccess {
		return
	}
	records, warnings, err := d.ingestFile(ctx, run.Job.Batch, run.Job.Output)
	note := fmt.Sprintf("ingested %d records, %d warnings", records, warnings)
	if err != nil {
		note = "ingest failed: " + err.Error()
	}
	if err := d.runner.Note(run.ID, note); err != nil && !errors.Is(err, services.ErrNotFound) {
		d.logger.Debug("run note dropped", logging.String(logging.FieldRunID, run.ID), logging.Error(err))
	}
}

// ingestFile parses one annotation file and ingests it under batch. Batches
// already ingested are skipped without reading the file.
func (d *Daemon) ingestFile(ctx context.Context, batch, path string) (int, int, error) {
	logger := logging.WithContext(services.WithBatch(ctx, batch), d.logger)
	if d.store.HasBatch(batch) {
		logger.Debug("batch already ingested", logging.String("path", path))
		return 0, 0, nil
	}
	result, err := ingest.ParseFile(path)
	if err != nil {
		logging.WarnWithContext(logger, "annotation ingest failed", "batch_ingest_failed",
			logging.String("path", path),
			logging.Error(err),
			logging.ErrorKind(err),
			logging.String(logging.FieldErrorHint, "check the annotation file is a readable TSV"),
			logging.String(logging.FieldImpact, "records of this batch are missing from the statistics"),
		)
		return 0, 0, err
	}
	for i, warning := range result.Warnings {
		if i == maxLoggedWarnings {
			break
		}
		logger.Warn("skipped malformed row",
			logging.String(logging.FieldEventType, "row_skipped"),
			logging.String("path", path),
			logging.Int("line", warning.Line),
			logging.String("reason", warning.Reason),
		)
	}
	if !d.store.IngestBatch(batch, result.Records) {
		return 0, len(result.Warnings), nil
	}
	logger.Info("batch ingested",
		logging.String(logging.FieldEventType, "batch_ingested"),
		logging.String("path", path),
		logging.Int("records", len(result.Records)),
		logging.Int("warnings", len(result.Warnings)),
	)
	return len(result.Records), len(result.Warnings), nil
}

func (d *Daemon) publishLoop(ctx context.Context) error {
	changed := d.store.Changed()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
			snap, ok := d.store.Snapshot()
			if !ok {
				continue
			}
			if err := d.notifier.NotifyData(ctx, snap); err != nil {
				logging.WarnWithContext(d.logger, "data notification failed", "notify_data_failed",
					logging.Error(err),
					logging.ErrorKind(err),
					logging.String(logging.FieldImpact, "dashboards may show stale statistics until the next update"),
				)
			}
		}
	}
}

// replay marks annotated inputs as seen and re-ingests their outputs so a
// restart does not run the annotator again. Inputs whose output vanished are
// left unmarked and get annotated anew.
func (d *Daemon) replay(ctx context.Context) {
	if d.ledger == nil {
		return
	}
	entries, err := d.ledger.Completed(ctx)
	if err != nil {
		logging.WarnWithContext(d.logger, "ledger replay failed", "ledger_replay_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "previously annotated batches will be annotated again"),
		)
		return
	}
	replayed := 0
	for _, entry := range entries {
		if entry.Output == "" {
			continue
		}
		if _, err := os.Stat(entry.Output); err != nil {
			d.logger.Info("annotation output missing; batch will be re-annotated",
				logging.String(logging.FieldRunID, entry.ID),
				logging.String("output", entry.Output),
			)
			continue
		}
		d.watcher.MarkSeen(filepath.Base(entry.Input))
		if n, _, err := d.ingestFile(ctx, entry.Batch, entry.Output); err == nil && n > 0 {
			replayed++
		}
	}
	if len(entries) > 0 {
		d.logger.Info("ledger replayed",
			logging.String(logging.FieldEventType, "ledger_replayed"),
			logging.Int("completed_runs", len(entries)),
			logging.Int("batches", replayed),
		)
	}
}

func (d *Daemon) record(ctx context.Context, run pipeline.Run) {
	if d.ledger == nil {
		return
	}
	if err := d.ledger.Record(ctx, ledger.EntryFromRun(run)); err != nil {
		logging.WarnWithContext(d.logger, "failed to record run", "ledger_record_failed",
			logging.String(logging.FieldRunID, run.ID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "restart replay may annotate this batch again"),
		)
	}
}
