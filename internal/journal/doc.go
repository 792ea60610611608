// Package journal provides the SQLite-backed run ledger for write syncs.
//
// Every write run is recorded with:
//   - Runs: one row per sync, with status and counters
//   - Checkpoints: every checkpoint forwarded downstream, in forwarding order
//   - Warnings: every log message forwarded downstream
//
// # Ordering
//
//   - Rows within a run are ordered by seq INTEGER from a logical clock,
//     never by timestamp
//   - All queries include a deterministic ORDER BY
//
// # Idempotency
//
// Checkpoint and warning inserts use ON CONFLICT DO NOTHING keyed by
// (run_id, seq), so re-recording the same event is harmless.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads (history) during writes (sync)
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
package journal
