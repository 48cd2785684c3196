// Package ingest parses annotation output batches into read records.
//
// A batch is a tab separated file with one row per read: read_id, barcode,
// reference, start, mapped_length, read_length and timestamp. Parsing is strict
// per row and lenient per batch: a malformed row becomes a ParseWarning and is
// skipped, the rest of the batch still loads. Gzip-compressed batches (".gz")
// are decompressed transparently.
package ingest
