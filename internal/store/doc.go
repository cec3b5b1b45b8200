// Package store is the SQL-backed bundle.RecordStore.
//
// Two dialects share one implementation:
//
//   - sqlite (mattn/go-sqlite3): WAL, busy_timeout, immediate transactions,
//     schema version in PRAGMA user_version.
//   - postgres (lib/pq): jsonb audit log, schema applied with IF NOT EXISTS.
//
// # Invariants
//
// At most one active record per identity is enforced by a partial unique
// index on bundles(identity) WHERE active. (identity, version) is unique.
// Violations surface as DUPLICATE_ACTIVE_RECORD errors, so concurrent
// writers racing on the same identity are resolved by the database.
//
// Records are never updated except to flip the active flag and append one
// entry to the JSON audit log, in a single statement.
//
// # Transactions
//
// Open probes whether the connection can begin and roll back a transaction.
// If it cannot (or transactions are disabled by configuration),
// SupportsAtomic reports false and the write coordinator falls back to
// tracked rollback.
//
// # Errors
//
// Driver errors are classified into the bundle taxonomy: unique violations
// become DUPLICATE_ACTIVE_RECORD; lock contention, serialization failures,
// lost connections and timeouts become STORAGE_TRANSIENT; everything else is
// STORAGE_FATAL.
package store
