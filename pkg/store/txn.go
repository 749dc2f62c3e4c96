package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ram-shortage/BRindeX/pkg/types"
)

// WriteTxn is the store's exclusive write transaction. Exactly one may be
// open at a time; Commit or Abort releases the writer token.
type WriteTxn struct {
	tx    *sqlx.Tx
	store *Store
	done  bool
}

// Commit atomically publishes the transaction
func (t *WriteTxn) Commit() error {
	if t.done {
		return fmt.Errorf("store: transaction already finished")
	}
	t.done = true
	err := t.tx.Commit()
	<-t.store.writeToken
	if err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Abort rolls the transaction back, leaving no visible effect
func (t *WriteTxn) Abort() error {
	if t.done {
		return nil
	}
	t.done = true
	err := t.tx.Rollback()
	<-t.store.writeToken
	return err
}

const upsertEntrySQL = `
INSERT INTO entries (volume_id, node_ref, parent_ref, name, size, modified_at, is_dir)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (volume_id, node_ref) DO UPDATE SET
	parent_ref  = excluded.parent_ref,
	name        = excluded.name,
	size        = excluded.size,
	modified_at = excluded.modified_at,
	is_dir      = excluded.is_dir`

// UpsertEntry inserts or replaces one entry keyed by (volume_id, node_ref)
func (t *WriteTxn) UpsertEntry(e *types.Entry) error {
	_, err := t.tx.Exec(upsertEntrySQL,
		e.VolumeID, e.NodeRef, e.ParentRef, e.Name, e.Size, e.ModifiedAt, e.IsDir)
	return err
}

// DeleteEntry removes one entry. Returns the number of rows removed so
// callers can maintain entry counts.
func (t *WriteTxn) DeleteEntry(volumeID string, nodeRef int64) (int64, error) {
	res, err := t.tx.Exec(
		"DELETE FROM entries WHERE volume_id = ? AND node_ref = ?", volumeID, nodeRef)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteSubtree removes a directory's descendants, level by level. Used by
// the applier to cascade a directory delete within the same transaction.
func (t *WriteTxn) DeleteSubtree(volumeID string, dirRef int64) (int64, error) {
	var total int64
	frontier := []int64{dirRef}
	for len(frontier) > 0 {
		query, args, err := sqlx.In(
			"SELECT node_ref FROM entries WHERE volume_id = ? AND parent_ref IN (?) AND is_dir = 1",
			volumeID, frontier)
		if err != nil {
			return total, err
		}
		var next []int64
		if err := t.tx.Select(&next, query, args...); err != nil {
			return total, err
		}

		query, args, err = sqlx.In(
			"DELETE FROM entries WHERE volume_id = ? AND parent_ref IN (?)", volumeID, frontier)
		if err != nil {
			return total, err
		}
		res, err := t.tx.Exec(query, args...)
		if err != nil {
			return total, err
		}
		n, _ := res.RowsAffected()
		total += n
		frontier = next
	}
	return total, nil
}

// BulkInsert inserts a batch of entries through one prepared statement.
// Callers size batches to Config.batch_size and check cancellation
// between batches.
func (t *WriteTxn) BulkInsert(ctx context.Context, entries []*types.Entry) error {
	stmt, err := t.tx.Prepare(upsertEntrySQL)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, e := range entries {
		// Cooperative cancellation without a per-row ctx check
		if i%10000 == 0 && ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := stmt.Exec(
			e.VolumeID, e.NodeRef, e.ParentRef, e.Name, e.Size, e.ModifiedAt, e.IsDir); err != nil {
			return fmt.Errorf("bulk insert failed at row %d: %w", i, err)
		}
	}
	return nil
}

// DeleteVolumeEntries removes up to limit entries of a volume, oldest
// refs first. The retention sweep calls this in chunks so a purge never
// holds one giant transaction.
func (t *WriteTxn) DeleteVolumeEntries(volumeID string, limit int) (int64, error) {
	res, err := t.tx.Exec(`
		DELETE FROM entries WHERE (volume_id, node_ref) IN (
			SELECT volume_id, node_ref FROM entries WHERE volume_id = ? ORDER BY node_ref LIMIT ?
		)`, volumeID, limit)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const upsertVolumeSQL = `
INSERT INTO volumes (id, mount, kind, state, journal_id, next_usn,
	last_reconciled_at, scan_cursor, offline_since, entry_count, created_at)
VALUES (:id, :mount, :kind, :state, :journal_id, :next_usn,
	:last_reconciled_at, :scan_cursor, :offline_since, :entry_count, :created_at)
ON CONFLICT (id) DO UPDATE SET
	mount              = excluded.mount,
	kind               = excluded.kind,
	state              = excluded.state,
	journal_id         = excluded.journal_id,
	next_usn           = excluded.next_usn,
	last_reconciled_at = excluded.last_reconciled_at,
	scan_cursor        = excluded.scan_cursor,
	offline_since      = excluded.offline_since,
	entry_count        = excluded.entry_count`

// UpsertVolume inserts or replaces a volume record
func (t *WriteTxn) UpsertVolume(v *types.Volume) error {
	if v.CreatedAt == 0 {
		v.CreatedAt = time.Now().Unix()
	}
	_, err := t.tx.NamedExec(upsertVolumeSQL, v)
	return err
}

// SetState transitions a volume's persisted state. offlineSince is only
// meaningful for the Offline state; pass 0 otherwise.
func (t *WriteTxn) SetState(volumeID string, state types.VolumeState, offlineSince int64) error {
	res, err := t.tx.Exec(
		"UPDATE volumes SET state = ?, offline_since = ? WHERE id = ?",
		state, offlineSince, volumeID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetCheckpoint persists the journal checkpoint for a journaled volume
func (t *WriteTxn) SetCheckpoint(volumeID string, journalID int64, nextUSN int64) error {
	_, err := t.tx.Exec(
		"UPDATE volumes SET journal_id = ?, next_usn = ? WHERE id = ?",
		journalID, nextUSN, volumeID)
	return err
}

// SetReconcileCheckpoint persists the rescan checkpoint for a
// non-journaled volume
func (t *WriteTxn) SetReconcileCheckpoint(volumeID string, reconciledAt int64, scanCursor int64) error {
	_, err := t.tx.Exec(
		"UPDATE volumes SET last_reconciled_at = ?, scan_cursor = ? WHERE id = ?",
		reconciledAt, scanCursor, volumeID)
	return err
}

// BumpEntryCount adjusts a volume's cached entry count by delta
func (t *WriteTxn) BumpEntryCount(volumeID string, delta int64) error {
	_, err := t.tx.Exec(
		"UPDATE volumes SET entry_count = MAX(0, entry_count + ?) WHERE id = ?",
		delta, volumeID)
	return err
}

// RecountEntries refreshes a volume's cached entry count from the
// entries table inside the same transaction
func (t *WriteTxn) RecountEntries(volumeID string) error {
	_, err := t.tx.Exec(`
		UPDATE volumes SET entry_count =
			(SELECT COUNT(*) FROM entries WHERE volume_id = volumes.id)
		WHERE id = ?`, volumeID)
	return err
}

// SetEntryCount sets a volume's cached entry count absolutely, used after
// rescans that replace the whole set
func (t *WriteTxn) SetEntryCount(volumeID string, count int64) error {
	_, err := t.tx.Exec(
		"UPDATE volumes SET entry_count = ? WHERE id = ?", count, volumeID)
	return err
}

// DeleteVolume removes the volume record itself. Entries must already be
// purged (DeleteVolumeEntries) or the index leaks rows.
func (t *WriteTxn) DeleteVolume(volumeID string) error {
	_, err := t.tx.Exec("DELETE FROM volumes WHERE id = ?", volumeID)
	return err
}

// ClearEntries drops every entry of a volume, the first half of a
// wholesale replacement during reconciliation
func (t *WriteTxn) ClearEntries(volumeID string) error {
	_, err := t.tx.Exec("DELETE FROM entries WHERE volume_id = ?", volumeID)
	return err
}
