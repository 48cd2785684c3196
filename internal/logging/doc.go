// Package logging assembles structured slog loggers and formatting helpers used
// across seqwatch components.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so runner and watcher code can
// automatically tag log lines with pipeline run IDs, batch keys, and
// correlation IDs. A bounded StreamHub keeps recent log events in memory for the
// HTTP API. The package also provides a no-op logger for tests and wiring code
// that cannot fail.
//
// Prefer these constructors over hand-rolled slog setup so new components emit
// data with the same shape and routing guarantees as the rest of the daemon.
package logging
