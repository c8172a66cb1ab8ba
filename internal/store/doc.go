// Package store provides SQLite-backed storage for staged records and the
// import run journal.
//
// Tables:
//   - staged_records: records decoded from input files, one row per
//     identity, attributes as canonical JSON
//   - runs: one row per import run
//   - run_events: the engine's event stream, keyed by (run_id, seq)
//   - run_progress, run_unresolved, run_failures: the run report
//   - deactivations: the run's deactivation queue and drain state
//
// # Ordering
//
// Staged records keep the order they were first staged in (seq). Events
// are ordered by the engine's logical clock. Every read has an explicit
// ORDER BY; wall-clock columns are for display only.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
