// Package sqlite provides the SQLite-backed system of record for casewatch.
//
// This adapter uses modernc.org/sqlite, a pure Go SQLite implementation that requires
// no CGO, enabling easy cross-compilation. It implements multiple store interfaces
// through a single database connection:
//
//   - SnapshotStore: current case snapshots and the append-only change history
//   - RunLock: a single-row lock so only one process runs a check at a time
//   - SchedulerStore: task state and run history for the watch command
//
// # Schema
//
// The database schema is managed through versioned migrations stored in the
// migrations/ directory. Each migration is a pair of .up.sql and .down.sql files
// and is applied in its own transaction. Triggers reject any UPDATE or DELETE
// on change_entries.
//
// # Data Location
//
// By default, the database is stored at ~/.casewatch/data/casewatch.db
//
// # Thread Safety
//
// All operations are thread-safe. The store uses database-level locking provided
// by SQLite in WAL mode, and a snapshot write commits its entry in the same
// transaction.
package sqlite
