package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/ram-shortage/BRindeX/pkg/types"
)

// maxPathDepth bounds parent_ref walks; directory trees are acyclic by
// construction so hitting this means a corrupt link
const maxPathDepth = 4096

// LikeEscape is the escape character used by every LIKE predicate the
// store compiles
const LikeEscape = `\`

// SearchSpec is a lowered query ready for parameterized execution.
// Pattern fields hold LIKE patterns with %/_/\ already escaped by the
// query compiler.
type SearchSpec struct {
	// NamePattern is a LIKE pattern against the name column; empty
	// means no name predicate
	NamePattern string
	// ExtPattern is a LIKE pattern of the form %.ext; empty means none
	ExtPattern string
	// SizeOp is one of > >= < <= = when SizeSet
	SizeOp  string
	Size    int64
	SizeSet bool
	// DateOp is one of > >= < <= = when DateSet, applied to modified_at
	DateOp  string
	Date    int64
	DateSet bool
	// IsDir filters entries by kind when non-nil
	IsDir *bool
	// OrderBy optionally names an explicit sort column (name, size,
	// modified_at); ties and the default order are stable by
	// (name, volume_id, node_ref)
	OrderBy string
	Limit   int
	Offset  int
}

var allowedOps = map[string]bool{">": true, ">=": true, "<": true, "<=": true, "=": true}
var allowedSort = map[string]string{
	"":            "name COLLATE NOCASE, volume_id, node_ref",
	"name":        "name COLLATE NOCASE, volume_id, node_ref",
	"size":        "size, name COLLATE NOCASE, volume_id, node_ref",
	"modified_at": "modified_at, name COLLATE NOCASE, volume_id, node_ref",
}

// visibleStates are the volume states whose entries queries may observe.
// Offline and disabled volumes keep their rows but stop answering.
var visibleStates = []string{
	string(types.VolumeStateBuilding),
	string(types.VolumeStateLive),
	string(types.VolumeStateReconciling),
}

func (q *SearchSpec) build(count bool) (string, []interface{}, error) {
	var sb strings.Builder
	var args []interface{}

	if count {
		sb.WriteString("SELECT COUNT(*) FROM entries WHERE 1=1")
	} else {
		sb.WriteString("SELECT volume_id, node_ref, parent_ref, name, size, modified_at, is_dir FROM entries WHERE 1=1")
	}

	sb.WriteString(" AND volume_id IN (SELECT id FROM volumes WHERE state IN (?, ?, ?))")
	for _, st := range visibleStates {
		args = append(args, st)
	}

	if q.NamePattern != "" {
		sb.WriteString(" AND name LIKE ? ESCAPE '\\'")
		args = append(args, q.NamePattern)
	}
	if q.ExtPattern != "" {
		sb.WriteString(" AND name LIKE ? ESCAPE '\\'")
		args = append(args, q.ExtPattern)
	}
	if q.SizeSet {
		if !allowedOps[q.SizeOp] {
			return "", nil, fmt.Errorf("store: bad size comparator %q", q.SizeOp)
		}
		sb.WriteString(" AND size " + q.SizeOp + " ?")
		args = append(args, q.Size)
	}
	if q.DateSet {
		if !allowedOps[q.DateOp] {
			return "", nil, fmt.Errorf("store: bad date comparator %q", q.DateOp)
		}
		sb.WriteString(" AND modified_at " + q.DateOp + " ?")
		args = append(args, q.Date)
	}
	if q.IsDir != nil {
		sb.WriteString(" AND is_dir = ?")
		args = append(args, *q.IsDir)
	}

	if !count {
		order, ok := allowedSort[q.OrderBy]
		if !ok {
			return "", nil, fmt.Errorf("store: bad sort column %q", q.OrderBy)
		}
		sb.WriteString(" ORDER BY " + order)
		sb.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, q.Limit, q.Offset)
	}
	return sb.String(), args, nil
}

// ReadSnapshot is a point-in-time view of the index. It must not outlive
// the fulfilment of a single request.
type ReadSnapshot struct {
	tx *sqlx.Tx
}

// Close releases the snapshot
func (r *ReadSnapshot) Close() error {
	return r.tx.Rollback()
}

// Search runs a lowered query and returns the matching entries in stable
// order
func (r *ReadSnapshot) Search(spec *SearchSpec) ([]*types.Entry, error) {
	query, args, err := spec.build(false)
	if err != nil {
		return nil, err
	}
	var rows []*types.Entry
	if err := r.tx.Select(&rows, query, args...); err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	return rows, nil
}

// Count returns the total number of index-matching rows for a spec,
// ignoring limit and offset
func (r *ReadSnapshot) Count(spec *SearchSpec) (int64, error) {
	query, args, err := spec.build(true)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := r.tx.Get(&n, query, args...); err != nil {
		return 0, fmt.Errorf("count failed: %w", err)
	}
	return n, nil
}

// GetVolume fetches one volume record by identity
func (r *ReadSnapshot) GetVolume(volumeID string) (*types.Volume, error) {
	var v types.Volume
	err := r.tx.Get(&v, "SELECT * FROM volumes WHERE id = ?", volumeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// GetVolumeByMount fetches the volume currently recorded at a mount,
// excluding offline records (a swapped-out volume keeps its old mount
// string but must not shadow the live one)
func (r *ReadSnapshot) GetVolumeByMount(mount string) (*types.Volume, error) {
	var v types.Volume
	err := r.tx.Get(&v,
		"SELECT * FROM volumes WHERE mount = ? AND state != ? ORDER BY created_at DESC LIMIT 1",
		mount, types.VolumeStateOffline)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ListVolumes returns every volume record
func (r *ReadSnapshot) ListVolumes() ([]*types.Volume, error) {
	var vols []*types.Volume
	if err := r.tx.Select(&vols, "SELECT * FROM volumes ORDER BY mount, created_at"); err != nil {
		return nil, err
	}
	return vols, nil
}

// GetEntry fetches one entry by its per-volume identity
func (r *ReadSnapshot) GetEntry(volumeID string, nodeRef int64) (*types.Entry, error) {
	var e types.Entry
	err := r.tx.Get(&e,
		"SELECT * FROM entries WHERE volume_id = ? AND node_ref = ?", volumeID, nodeRef)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListChildren returns the direct children of a directory
func (r *ReadSnapshot) ListChildren(volumeID string, parentRef int64) ([]*types.Entry, error) {
	var entries []*types.Entry
	err := r.tx.Select(&entries,
		"SELECT * FROM entries WHERE volume_id = ? AND parent_ref = ?", volumeID, parentRef)
	return entries, err
}

// ReconstructPath walks parent_ref links up to the volume root and joins
// the names under the volume's mount prefix
func (r *ReadSnapshot) ReconstructPath(volumeID string, nodeRef int64) (string, error) {
	vol, err := r.GetVolume(volumeID)
	if err != nil {
		return "", err
	}

	sep := "/"
	if len(vol.Mount) >= 2 && vol.Mount[1] == ':' {
		sep = `\`
	}
	mount := strings.TrimRight(vol.Mount, `\/`)
	if nodeRef == types.RootNodeRef {
		return mount + sep, nil
	}

	var parts []string
	ref := nodeRef
	for depth := 0; ; depth++ {
		if depth > maxPathDepth {
			return "", fmt.Errorf("store: parent chain for %s/%d exceeds depth bound", volumeID, nodeRef)
		}
		var row struct {
			ParentRef int64  `db:"parent_ref"`
			Name      string `db:"name"`
		}
		err := r.tx.Get(&row,
			"SELECT parent_ref, name FROM entries WHERE volume_id = ? AND node_ref = ?",
			volumeID, ref)
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w: entry %s/%d", ErrNotFound, volumeID, ref)
		}
		if err != nil {
			return "", err
		}
		parts = append(parts, row.Name)
		if row.ParentRef == types.RootParentRef || row.ParentRef == types.RootNodeRef {
			break
		}
		ref = row.ParentRef
	}

	// parts were collected leaf-first
	var sb strings.Builder
	sb.WriteString(mount)
	for i := len(parts) - 1; i >= 0; i-- {
		sb.WriteString(sep)
		sb.WriteString(parts[i])
	}
	return sb.String(), nil
}
