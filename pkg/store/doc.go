/*
Package store provides the persistent, crash-safe name index backing
BRindeX.

The store is a single SQLite database (modernc.org/sqlite, no cgo) holding
two record sets: volumes (identity, mount, kind, state, checkpoints) and
entries (leaf names keyed by (volume_id, node_ref) with parent links).
Paths are never stored flat — they are reconstructed by walking parent_ref,
which makes a directory rename a single-row update.

# Concurrency

The database runs in WAL mode so readers stay concurrent with the writer.
Writes are serialized twice over: a writer token makes BeginWrite exclusive
at the API, and a single-connection pool backs it at the driver. Readers use
a separate pool; BeginRead pins a point-in-time snapshot that must be closed
within the serving of one request, or WAL checkpoints starve.

# Failure semantics

Open runs PRAGMA quick_check and refuses a corrupt database with ErrCorrupt
so the host can drop and rebuild. A failed commit aborts the whole batch;
producers retry with bounded exponential backoff and surface ErrBusyTimeout
past the ceiling. Abort always leaves no visible effect.

# Schema

Migrations are forward-only, keyed off PRAGMA user_version. Indexes: name
with NOCASE collation for substring search, (volume_id, parent_ref) for
path walks and directory re-reads, and the (volume_id, node_ref) primary
key for identity.
*/
package store
