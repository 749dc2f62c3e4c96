package store

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// schemaVersion is the current schema version stored in user_version.
// Migrations are forward-only.
const schemaVersion = 1

// Schema v1. Leaf names only; paths come from parent_ref walks, so a
// directory rename touches one row. NOCASE collation serves substring
// search; the (volume_id, parent_ref) index serves path walks and
// directory re-reads; the primary key enforces per-volume identity.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS volumes (
	id                 TEXT PRIMARY KEY,
	mount              TEXT NOT NULL,
	kind               TEXT NOT NULL,
	state              TEXT NOT NULL,
	journal_id         INTEGER NOT NULL DEFAULT 0,
	next_usn           INTEGER NOT NULL DEFAULT 0,
	last_reconciled_at INTEGER NOT NULL DEFAULT 0,
	scan_cursor        INTEGER NOT NULL DEFAULT 1,
	offline_since      INTEGER NOT NULL DEFAULT 0,
	entry_count        INTEGER NOT NULL DEFAULT 0,
	created_at         INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS entries (
	volume_id   TEXT NOT NULL,
	node_ref    INTEGER NOT NULL,
	parent_ref  INTEGER NOT NULL,
	name        TEXT NOT NULL COLLATE NOCASE,
	size        INTEGER NOT NULL DEFAULT 0,
	modified_at INTEGER NOT NULL DEFAULT 0,
	is_dir      INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (volume_id, node_ref)
) WITHOUT ROWID;

CREATE INDEX IF NOT EXISTS idx_entries_name   ON entries (name COLLATE NOCASE);
CREATE INDEX IF NOT EXISTS idx_entries_parent ON entries (volume_id, parent_ref);
`

func migrate(db *sqlx.DB) error {
	var version int
	if err := db.Get(&version, "PRAGMA user_version"); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if version > schemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, schemaVersion)
	}
	if version == schemaVersion {
		return nil
	}

	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin migration: %w", err)
	}
	defer tx.Rollback()

	if version < 1 {
		for _, stmt := range strings.Split(schemaV1, ";") {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if _, err := tx.Exec(stmt); err != nil {
				return fmt.Errorf("failed to apply schema v1: %w", err)
			}
		}
	}

	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	return tx.Commit()
}
