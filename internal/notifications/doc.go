// Package notifications pushes datastore snapshots and pipeline run events to
// interested parties.
//
// The in-process Hub keeps the latest snapshot plus a bounded ring of
// sequenced events that dashboards long-poll through the HTTP API. The ntfy
// service forwards pipeline outcomes to a phone. Multi fans out to several
// services; a noop implementation stands in when nothing is configured.
// Delivery is state-carrying: a missed event is recovered by reading the
// latest snapshot.
package notifications
