package types

import (
	"fmt"
	"time"
)

// VolumeKind classifies a volume by its change-capture capability
type VolumeKind string

const (
	// VolumeKindJournaled is an NTFS-like volume with a usable change journal
	VolumeKindJournaled VolumeKind = "journaled"
	// VolumeKindGeneric is a FAT/exFAT-like volume without a journal;
	// unknown filesystems classify as generic
	VolumeKindGeneric VolumeKind = "generic"
)

// VolumeState represents the per-volume state machine position
type VolumeState string

const (
	VolumeStateUninitialized VolumeState = "uninitialized"
	VolumeStateBuilding      VolumeState = "building"
	VolumeStateLive          VolumeState = "live"
	VolumeStateReconciling   VolumeState = "reconciling"
	VolumeStateOffline       VolumeState = "offline"
	VolumeStateDisabled      VolumeState = "disabled"
)

const (
	// RootNodeRef is the node_ref of every volume root
	RootNodeRef int64 = 0
	// RootParentRef is the sentinel parent_ref of root entries
	RootParentRef int64 = -1
)

// Volume is the persisted record for one mounted filesystem.
// Identity is stable across remounts; Mount may move.
type Volume struct {
	ID               string      `db:"id"`
	Mount            string      `db:"mount"`
	Kind             VolumeKind  `db:"kind"`
	State            VolumeState `db:"state"`
	// JournalID is the journal identity bit-cast to int64 for storage;
	// compare, never order
	JournalID int64 `db:"journal_id"`
	NextUSN          int64       `db:"next_usn"`
	LastReconciledAt int64       `db:"last_reconciled_at"`
	ScanCursor       int64       `db:"scan_cursor"`
	OfflineSince     int64       `db:"offline_since"`
	EntryCount       int64       `db:"entry_count"`
	CreatedAt        int64       `db:"created_at"`
}

// VolumeIdentity builds the stable identity string for a filesystem
// serial and kind. Two media with the same serial but different
// filesystem kinds are distinct volumes.
func VolumeIdentity(serial uint32, kind VolumeKind) string {
	return fmt.Sprintf("%08x-%s", serial, kind)
}

// Entry is one persisted file or directory name. The full path is
// reconstructed by walking ParentRef within the same volume.
type Entry struct {
	VolumeID   string `db:"volume_id"`
	NodeRef    int64  `db:"node_ref"`
	ParentRef  int64  `db:"parent_ref"`
	Name       string `db:"name"`
	Size       int64  `db:"size"`
	ModifiedAt int64  `db:"modified_at"`
	IsDir      bool   `db:"is_dir"`
}

// ChangeOp is the kind of filesystem change observed
type ChangeOp string

const (
	ChangeOpCreate ChangeOp = "create"
	ChangeOpDelete ChangeOp = "delete"
	ChangeOpRename ChangeOp = "rename"
	ChangeOpModify ChangeOp = "modify"
)

// ChangeEvent is a single observed filesystem change, emitted by the
// journal consumer or synthesized by enumeration/reconciliation
type ChangeEvent struct {
	VolumeID   string
	Op         ChangeOp
	NodeRef    int64
	ParentRef  int64
	Name       string
	Size       int64
	ModifiedAt int64
	IsDir      bool
	Reason     uint32 // journal reason bitset, 0 when synthesized
}

// Key identifies the entry this event applies to
func (e ChangeEvent) Key() ChangeKey {
	return ChangeKey{VolumeID: e.VolumeID, NodeRef: e.NodeRef}
}

// ChangeKey is the dedup key for change events
type ChangeKey struct {
	VolumeID string
	NodeRef  int64
}

// FileRecord is one search result row returned over IPC
type FileRecord struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Path       string `json:"path"`
	Size       int64  `json:"size"`
	ModifiedAt int64  `json:"modified_at"`
	IsDir      bool   `json:"is_dir"`
}

// VolumeStatus is one volume's row in a status response
type VolumeStatus struct {
	Mount      string `json:"mount"`
	Kind       string `json:"kind"`
	State      string `json:"state"`
	EntryCount int64  `json:"entry_count"`
	// Freshness is seconds since the last applied change or completed scan
	Freshness int64 `json:"freshness"`
}

// OfflineExpired reports whether the volume has been offline longer
// than the retention window at the given instant
func (v *Volume) OfflineExpired(now time.Time, retention time.Duration) bool {
	if v.State != VolumeStateOffline || v.OfflineSince == 0 {
		return false
	}
	return now.Unix()-v.OfflineSince >= int64(retention.Seconds())
}
