// Package ledger records pipeline runs in SQLite so a restarted daemon can
// replay annotation outputs instead of re-running the annotator, and so the
// CLI can list past runs.
//
// The ledger stores run bookkeeping only; read records and aggregates are
// always rebuilt from the annotation files.
package ledger
