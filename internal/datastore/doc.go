// Package datastore owns every ingested read record and the aggregates derived
// from them.
//
// All mutations go through one mutex. Each mutation that changes visible state
// publishes a fresh immutable Snapshot through an atomic pointer, so any
// number of readers can call Snapshot without locking and never observe a
// half-built aggregate.
//
// New records extend the current aggregates in place. Filter and barcode
// mapping changes are not monotonic with respect to the existing bins, so they
// trigger a full recompute from the retained records in a single traversal.
// With a recompute debounce configured, rapid changes coalesce into one pass
// and Ingest only appends until that pass runs.
package datastore
