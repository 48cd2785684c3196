// Package daemon coordinates the long-running seqwatch process.
//
// It creates the application state once at startup (datastore, pipeline
// runner, file watcher, notification fan-out, run ledger) and tears it down at
// shutdown, with flock-based locking to prevent multiple instances watching
// the same state directory. Components talk through channels only: watcher
// events feed the dispatch loop, runner completions feed the completion loop
// and datastore change signals feed the publish loop. All three run under one
// errgroup next to the chi HTTP API.
//
// Keep orchestration logic here: parsing, aggregation and run supervision
// live in their own packages while the daemon focuses on startup, shutdown
// and routing.
package daemon
