// Package api defines the wire-format types of the daemon HTTP API and a
// small client used by the CLI.
//
// # Key Types
//
// Run: transport representation of a pipeline run with its message log.
//
// DaemonStatus: running state, watch mode, data version and run counts.
//
// ChangeRequest: a plain key/value change-set converted server side by
// changes.FromKeyValues.
//
// EventsResponse/LogStreamResponse: sequenced hub and log events for
// long-polling clients. Next is the cursor to pass as since.
//
// # Design Notes
//
// Field names are snake_case to match the snapshot payload served by
// /api/data. Timestamps use RFC3339 with milliseconds and are omitted when
// unset. Bodies are encoded with goccy/go-json.
package api
