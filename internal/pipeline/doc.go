// Package pipeline supervises annotation runs.
//
// Every submitted batch becomes a Run that moves through
// idle → running → success|error → closed. A single dispatcher starts queued
// runs in submission order while a weighted semaphore bounds how many run at
// once. Each transition appends a timestamped message to the run and is
// forwarded to the notification service; finished runs are handed to the
// daemon through the Completions channel.
package pipeline
