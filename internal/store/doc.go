// Package store provides the SQLite-backed local store records are
// reconciled into.
//
// Record tables are created and widened on demand from a schema.Table:
// an INTEGER PRIMARY KEY column plus one column per declared field, with an
// index on the foreign key column. A TableSink adapts one such table to the
// reconcile sink contract.
//
// The store also keeps a history of sync runs (sync_runs) so that the
// counts of a run stay observable after the process exits.
//
// The database runs in WAL mode with a single open connection. Its schema
// version lives in PRAGMA user_version.
//
// Composite values (objects, arrays) are stored as RFC 8785 canonical JSON
// text so that identical input always yields identical rows.
package store
