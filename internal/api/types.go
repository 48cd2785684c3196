package api

import (
	"seqwatch/internal/datastore"
	"seqwatch/internal/logging"
	"seqwatch/internal/notifications"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// RunMessage is one entry of a run's message log.
type RunMessage struct {
	Kind      string `json:"kind"`
	Timestamp string `json:"ts"`
	Content   string `json:"content,omitempty"`
}

// Run describes a pipeline run in a transport-friendly format.
type Run struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Batch      string       `json:"batch"`
	Input      string       `json:"input"`
	Output     string       `json:"output"`
	Status     string       `json:"status"`
	Error      string       `json:"error,omitempty"`
	CreatedAt  string       `json:"created_at,omitempty"`
	StartedAt  string       `json:"started_at,omitempty"`
	FinishedAt string       `json:"finished_at,omitempty"`
	Messages   []RunMessage `json:"messages,omitempty"`
}

// RunListResponse wraps the runs known to the daemon.
type RunListResponse struct {
	Runs []Run `json:"runs"`
}

// RunResponse wraps a single run.
type RunResponse struct {
	Run Run `json:"run"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running     bool           `json:"running"`
	PID         int            `json:"pid"`
	StartedAt   string         `json:"started_at,omitempty"`
	WatchDir    string         `json:"watch_dir"`
	Polling     bool           `json:"polling"`
	LockPath    string         `json:"lock_path"`
	LedgerPath  string         `json:"ledger_path,omitempty"`
	Title       string         `json:"title,omitempty"`
	Records     int            `json:"records"`
	DataVersion uint64         `json:"data_version"`
	Samples     []string       `json:"samples"`
	References  int            `json:"references"`
	Runs        map[string]int `json:"runs"`
}

// ReferencesResponse lists the reference panel in first-seen order.
type ReferencesResponse struct {
	References []datastore.ReferenceEntry `json:"references"`
}

// ChangeRequest is a plain key/value configuration change.
type ChangeRequest struct {
	Kind   string            `json:"kind"`
	Values map[string]string `json:"values"`
}

// ChangeResponse acknowledges an applied change.
type ChangeResponse struct {
	Kind    string `json:"kind"`
	Applied bool   `json:"applied"`
}

// EventsResponse carries hub events after a cursor.
type EventsResponse struct {
	Events []notifications.Event `json:"events"`
	Next   uint64                `json:"next"`
}

// LogStreamResponse carries log events after a cursor.
type LogStreamResponse struct {
	Events []logging.LogEvent `json:"events"`
	Next   uint64             `json:"next"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
