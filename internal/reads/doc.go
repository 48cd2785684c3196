// Package reads defines the immutable read records produced by annotation runs
// and the two pieces of user state that shape aggregation: read filters and
// the barcode to sample mapping.
package reads
