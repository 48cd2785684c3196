// Package annotator supervises the external per-read annotation process.
//
// The annotator is a black box: it receives a raw read batch and writes one
// tab separated output file. This package builds its command line from
// configuration, runs it in its own process group, enforces the per-run
// timeout, and on cancellation sends SIGTERM to the whole group, waits for the
// grace period and then kills it. A run succeeds only when the expected output
// exists and is non-empty; a run stopped by cancellation or timeout still
// succeeds when it had already produced valid output.
package annotator
