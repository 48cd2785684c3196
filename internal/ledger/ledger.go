package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"seqwatch/internal/pipeline"
	"seqwatch/internal/services"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

// ErrSchemaMismatch indicates a ledger written by an incompatible version.
var ErrSchemaMismatch = errors.New("ledger schema version mismatch")

// timeLayout keeps a fixed fraction width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Entry is one recorded run.
type Entry struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Batch    string    `json:"batch"`
	Input    string    `json:"input"`
	Output   string    `json:"output"`
	Status   string    `json:"status"`
	Error    string    `json:"error,omitempty"`
	Created  time.Time `json:"created"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
}

// EntryFromRun converts a pipeline run.
func EntryFromRun(run pipeline.Run) Entry {
	return Entry{
		ID:       run.ID,
		Name:     run.Job.Name,
		Batch:    run.Job.Batch,
		Input:    run.Job.Input,
		Output:   run.Job.Output,
		Status:   string(run.Outcome()),
		Error:    run.Error,
		Created:  run.Created,
		Started:  run.Started,
		Finished: run.Finished,
	}
}

// Ledger persists run entries.
type Ledger struct {
	db   *sql.DB
	path string
}

// Open creates or opens the ledger database at path.
func Open(path string) (*Ledger, error) {
	if strings.TrimSpace(path) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "ledger", "open", "ledger path required", nil)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "ledger", "create dir", filepath.Dir(path), err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	l := &Ledger{db: db, path: path}
	if err := l.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

// Path returns the database location.
func (l *Ledger) Path() string { return l.path }

// Close closes the database.
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

func (l *Ledger) initSchema(ctx context.Context) error {
	var tableExists int
	if err := l.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists); err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		tx, err := l.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin schema tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		return tx.Commit()
	}

	var version int
	if err := l.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: %s has version %d, expected %d (delete the file to start over)",
			ErrSchemaMismatch, l.path, version, schemaVersion)
	}
	return nil
}

// Record inserts or updates an entry.
func (l *Ledger) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		return services.Wrap(services.ErrValidation, "ledger", "record", "entry id required", nil)
	}
	now := time.Now().UTC().Format(timeLayout)
	return retryOnBusy(ctx, func() error {
		_, err := l.db.ExecContext(ctx, `INSERT INTO runs (
            id, name, batch, input_path, output_path, status, error,
            created_at, started_at, finished_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            status = excluded.status,
            error = excluded.error,
            output_path = excluded.output_path,
            started_at = excluded.started_at,
            finished_at = excluded.finished_at,
            updated_at = excluded.updated_at`,
			e.ID, e.Name, e.Batch, e.Input, e.Output, e.Status, nullableString(e.Error),
			formatTime(e.Created), nullableTime(e.Started), nullableTime(e.Finished), now,
		)
		return err
	})
}

// List returns up to limit entries, newest first. A limit <= 0 returns all.
func (l *Ledger) List(ctx context.Context, limit int) ([]Entry, error) {
	query := selectColumns + " ORDER BY created_at DESC, id"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return l.query(ctx, query, args...)
}

// Completed returns successful entries in the order they finished.
func (l *Ledger) Completed(ctx context.Context) ([]Entry, error) {
	return l.query(ctx, selectColumns+" WHERE status = ? ORDER BY finished_at, id", string(pipeline.StatusSuccess))
}

// Get returns one entry.
func (l *Ledger) Get(ctx context.Context, id string) (Entry, error) {
	entries, err := l.query(ctx, selectColumns+" WHERE id = ?", id)
	if err != nil {
		return Entry{}, err
	}
	if len(entries) == 0 {
		return Entry{}, services.Wrap(services.ErrNotFound, "ledger", "get", id, nil)
	}
	return entries[0], nil
}

// Delete removes an entry. Missing ids are not an error.
func (l *Ledger) Delete(ctx context.Context, id string) error {
	return retryOnBusy(ctx, func() error {
		_, err := l.db.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id)
		return err
	})
}

const selectColumns = `SELECT id, name, batch, input_path, output_path, status, error,
    created_at, started_at, finished_at FROM runs`

func (l *Ledger) query(ctx context.Context, query string, args ...any) ([]Entry, error) {
	var out []Entry
	err := retryOnBusy(ctx, func() error {
		out = out[:0]
		rows, err := l.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				e                          Entry
				errText, started, finished sql.NullString
				created                    string
			)
			if err := rows.Scan(&e.ID, &e.Name, &e.Batch, &e.Input, &e.Output, &e.Status, &errText,
				&created, &started, &finished); err != nil {
				return fmt.Errorf("scan run: %w", err)
			}
			e.Error = errText.String
			e.Created = parseTime(created)
			e.Started = parseTime(started.String)
			e.Finished = parseTime(finished.String)
			out = append(out, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := range busyRetryAttempts {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = min(delay*2, busyRetryMaxBackoff)
	}
	return lastErr
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
