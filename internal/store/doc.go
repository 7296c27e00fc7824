// Package store persists instrumentation run reports in SQLite.
//
// Three tables:
//   - runs: one row per engine run (configuration, status, module hash)
//   - function_reports: per-function statistics of a run
//   - diagnostics: classification diagnostics recorded by a run
//
// # Ordering
//
// Queries never rely on rowid order. Runs are listed newest first by
// started_at, then by id; function reports and diagnostics follow the seq
// the engine assigned while processing.
//
// # Idempotency
//
// WriteRun inserts a run and its children in one transaction. Writing the
// same run ID twice is a no-op, so a retried persist cannot duplicate rows.
//
// # Schema versions
//
// PRAGMA user_version records the layout. A read-write Open applies every
// pending migration, each in one transaction with its version bump. A
// ReadOnly open never migrates; it returns a *SchemaVersionError unless the
// database is exactly at SchemaVersion. Databases from a newer build are
// refused in both modes.
//
// # Connections
//
// Pragmas are passed as go-sqlite3 DSN parameters (WAL journal, NORMAL
// sync, foreign keys, a busy timeout settable with WithBusyTimeout), so every
// pooled connection carries them. The pool holds a single connection.
package store
