package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ram-shortage/BRindeX/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testVolume(id string) *types.Volume {
	return &types.Volume{
		ID:        id,
		Mount:     `C:\`,
		Kind:      types.VolumeKindJournaled,
		State:     types.VolumeStateLive,
		CreatedAt: time.Now().Unix(),
	}
}

func mustWrite(t *testing.T, s *Store, fn func(tx *WriteTxn)) {
	t.Helper()
	tx, err := s.BeginWrite()
	require.NoError(t, err)
	fn(tx)
	require.NoError(t, tx.Commit())
}

func seedTree(t *testing.T, s *Store, volID string) {
	t.Helper()
	mustWrite(t, s, func(tx *WriteTxn) {
		require.NoError(t, tx.UpsertVolume(testVolume(volID)))
		entries := []*types.Entry{
			{VolumeID: volID, NodeRef: 10, ParentRef: types.RootNodeRef, Name: "Projects", IsDir: true},
			{VolumeID: volID, NodeRef: 11, ParentRef: 10, Name: "report.pdf", Size: 2048, ModifiedAt: 1700000000},
			{VolumeID: volID, NodeRef: 12, ParentRef: 10, Name: "notes.txt", Size: 64},
			{VolumeID: volID, NodeRef: 13, ParentRef: 10, Name: "Old", IsDir: true},
			{VolumeID: volID, NodeRef: 14, ParentRef: 13, Name: "draft.pdf", Size: 4096},
		}
		for _, e := range entries {
			require.NoError(t, tx.UpsertEntry(e))
		}
		require.NoError(t, tx.SetEntryCount(volID, int64(len(entries))))
	})
}

func TestOpenIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Second open runs the integrity check and migrations against the
	// existing file
	s, err = Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestWriterExclusive(t *testing.T) {
	s := openTestStore(t)

	tx, err := s.BeginWrite()
	require.NoError(t, err)

	_, err = s.BeginWrite()
	assert.ErrorIs(t, err, ErrWriterBusy)

	require.NoError(t, tx.Abort())

	// Token released on abort
	tx2, err := s.BeginWrite()
	require.NoError(t, err)
	require.NoError(t, tx2.Commit())
}

func TestAbortLeavesNoEffect(t *testing.T) {
	s := openTestStore(t)

	tx, err := s.BeginWrite()
	require.NoError(t, err)
	require.NoError(t, tx.UpsertVolume(testVolume("vol-a")))
	require.NoError(t, tx.Abort())

	read, err := s.BeginRead()
	require.NoError(t, err)
	defer read.Close()
	_, err = read.GetVolume("vol-a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReconstructPath(t *testing.T) {
	s := openTestStore(t)
	seedTree(t, s, "vol-a")

	read, err := s.BeginRead()
	require.NoError(t, err)
	defer read.Close()

	path, err := read.ReconstructPath("vol-a", 11)
	require.NoError(t, err)
	assert.Equal(t, `C:\Projects\report.pdf`, path)

	path, err = read.ReconstructPath("vol-a", 14)
	require.NoError(t, err)
	assert.Equal(t, `C:\Projects\Old\draft.pdf`, path)

	// Volume root is the mount itself
	path, err = read.ReconstructPath("vol-a", types.RootNodeRef)
	require.NoError(t, err)
	assert.Equal(t, `C:\`, path)
}

func TestPathTermination(t *testing.T) {
	s := openTestStore(t)

	// A chain much deeper than any real tree still terminates
	mustWrite(t, s, func(tx *WriteTxn) {
		require.NoError(t, tx.UpsertVolume(testVolume("vol-deep")))
		parent := types.RootNodeRef
		for ref := int64(1); ref <= 500; ref++ {
			require.NoError(t, tx.UpsertEntry(&types.Entry{
				VolumeID: "vol-deep", NodeRef: ref, ParentRef: parent,
				Name: fmt.Sprintf("d%d", ref), IsDir: true,
			}))
			parent = ref
		}
	})

	read, err := s.BeginRead()
	require.NoError(t, err)
	defer read.Close()

	path, err := read.ReconstructPath("vol-deep", 500)
	require.NoError(t, err)
	assert.Contains(t, path, `d500`)

	// A corrupt self-referencing link hits the depth bound instead of
	// spinning forever
	mustWrite(t, s, func(tx *WriteTxn) {
		require.NoError(t, tx.UpsertEntry(&types.Entry{
			VolumeID: "vol-deep", NodeRef: 9000, ParentRef: 9000, Name: "loop", IsDir: true,
		}))
	})
	read2, err := s.BeginRead()
	require.NoError(t, err)
	defer read2.Close()
	_, err = read2.ReconstructPath("vol-deep", 9000)
	assert.Error(t, err)
}

func TestSearchCaseInsensitive(t *testing.T) {
	s := openTestStore(t)
	seedTree(t, s, "vol-a")

	read, err := s.BeginRead()
	require.NoError(t, err)
	defer read.Close()

	rows, err := read.Search(&SearchSpec{NamePattern: "%REPORT%", Limit: 10})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "report.pdf", rows[0].Name)
}

func TestSearchPredicatesAndOrder(t *testing.T) {
	s := openTestStore(t)
	seedTree(t, s, "vol-a")

	read, err := s.BeginRead()
	require.NoError(t, err)
	defer read.Close()

	dir := false
	tests := []struct {
		name  string
		spec  SearchSpec
		names []string
	}{
		{
			name:  "extension",
			spec:  SearchSpec{ExtPattern: "%.pdf", Limit: 10},
			names: []string{"draft.pdf", "report.pdf"},
		},
		{
			name:  "size floor",
			spec:  SearchSpec{SizeOp: ">", Size: 1024, SizeSet: true, IsDir: &dir, Limit: 10},
			names: []string{"draft.pdf", "report.pdf"},
		},
		{
			name:  "combined",
			spec:  SearchSpec{NamePattern: "%pdf%", SizeOp: "<", Size: 3000, SizeSet: true, Limit: 10},
			names: []string{"report.pdf"},
		},
		{
			name:  "limit and offset honor stable name order",
			spec:  SearchSpec{Limit: 2, Offset: 1},
			names: []string{"notes.txt", "Old"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := read.Search(&tt.spec)
			require.NoError(t, err)
			var names []string
			for _, r := range rows {
				names = append(names, r.Name)
			}
			assert.Equal(t, tt.names, names)
		})
	}
}

func TestSearchRejectsUnknownComparator(t *testing.T) {
	s := openTestStore(t)
	seedTree(t, s, "vol-a")

	read, err := s.BeginRead()
	require.NoError(t, err)
	defer read.Close()

	_, err = read.Search(&SearchSpec{SizeOp: "; DROP TABLE entries", SizeSet: true, Limit: 1})
	assert.Error(t, err)
}

func TestOfflineVolumeInvisible(t *testing.T) {
	s := openTestStore(t)
	seedTree(t, s, "vol-a")

	mustWrite(t, s, func(tx *WriteTxn) {
		require.NoError(t, tx.SetState("vol-a", types.VolumeStateOffline, time.Now().Unix()))
	})

	read, err := s.BeginRead()
	require.NoError(t, err)
	defer read.Close()

	rows, err := read.Search(&SearchSpec{NamePattern: "%report%", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, rows)

	// The records themselves are retained for remount
	vol, err := read.GetVolume("vol-a")
	require.NoError(t, err)
	assert.Equal(t, types.VolumeStateOffline, vol.State)
}

func TestSnapshotAtomicity(t *testing.T) {
	s := openTestStore(t)
	seedTree(t, s, "vol-a")

	// S1 opens before the batch commits
	s1, err := s.BeginRead()
	require.NoError(t, err)
	defer s1.Close()

	mustWrite(t, s, func(tx *WriteTxn) {
		require.NoError(t, tx.BulkInsert(context.Background(), []*types.Entry{
			{VolumeID: "vol-a", NodeRef: 100, ParentRef: 10, Name: "batch-a.txt"},
			{VolumeID: "vol-a", NodeRef: 101, ParentRef: 10, Name: "batch-b.txt"},
		}))
	})

	// S2 opens after
	s2, err := s.BeginRead()
	require.NoError(t, err)
	defer s2.Close()

	rows, err := s1.Search(&SearchSpec{NamePattern: "batch-%", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, rows, "S1 must not observe any row of the batch")

	rows, err = s2.Search(&SearchSpec{NamePattern: "batch-%", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, rows, 2, "S2 must observe the whole batch")
}

func TestDeleteSubtree(t *testing.T) {
	s := openTestStore(t)
	seedTree(t, s, "vol-a")

	mustWrite(t, s, func(tx *WriteTxn) {
		// Removing Projects cascades to everything beneath it
		n, err := tx.DeleteSubtree("vol-a", 10)
		require.NoError(t, err)
		assert.EqualValues(t, 4, n)
		_, err = tx.DeleteEntry("vol-a", 10)
		require.NoError(t, err)
	})

	read, err := s.BeginRead()
	require.NoError(t, err)
	defer read.Close()

	n, err := read.Count(&SearchSpec{})
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestDeleteVolumeEntriesChunked(t *testing.T) {
	s := openTestStore(t)
	seedTree(t, s, "vol-a")

	var removed int64
	for {
		tx, err := s.BeginWrite()
		require.NoError(t, err)
		n, err := tx.DeleteVolumeEntries("vol-a", 2)
		require.NoError(t, err)
		require.NoError(t, tx.Commit())
		removed += n
		if n == 0 {
			break
		}
	}
	assert.EqualValues(t, 5, removed)
}

func TestVolumeCheckpoints(t *testing.T) {
	s := openTestStore(t)

	mustWrite(t, s, func(tx *WriteTxn) {
		v := testVolume("vol-j")
		require.NoError(t, tx.UpsertVolume(v))
		require.NoError(t, tx.SetCheckpoint("vol-j", 77, 1234))
	})

	read, err := s.BeginRead()
	require.NoError(t, err)
	defer read.Close()

	vol, err := read.GetVolume("vol-j")
	require.NoError(t, err)
	assert.EqualValues(t, 77, vol.JournalID)
	assert.EqualValues(t, 1234, vol.NextUSN)
}
