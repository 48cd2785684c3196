// Package services defines shared utilities consumed by the watcher, pipeline
// runner, and the external annotator integration.
//
// Key responsibilities:
//   - Context helpers that stamp pipeline run IDs, batch keys, component names,
//     and correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that classify failures
//     (configuration, validation, external tool, timeout, transient,
//     notification) so callers can decide whether an error is fatal, isolated
//     to one run, or retryable.
//
// Use these helpers when wiring new components so operational behaviour (error
// handling, observability, retries) stays uniform across the daemon.
package services
