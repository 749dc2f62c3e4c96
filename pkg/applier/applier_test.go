package applier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ram-shortage/BRindeX/pkg/store"
	"github.com/ram-shortage/BRindeX/pkg/types"
)

func openApplierStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	tx, err := s.BeginWrite()
	require.NoError(t, err)
	require.NoError(t, tx.UpsertVolume(&types.Volume{
		ID: "vol-a", Mount: `C:\`, Kind: types.VolumeKindJournaled,
		State: types.VolumeStateLive, CreatedAt: time.Now().Unix(),
	}))
	require.NoError(t, tx.Commit())
	return s
}

func create(ref, parent int64, name string, isDir bool) types.ChangeEvent {
	return types.ChangeEvent{
		VolumeID: "vol-a", Op: types.ChangeOpCreate,
		NodeRef: ref, ParentRef: parent, Name: name, IsDir: isDir,
	}
}

func entryNames(t *testing.T, s *store.Store) map[string]*types.Entry {
	t.Helper()
	read, err := s.BeginRead()
	require.NoError(t, err)
	defer read.Close()
	rows, err := read.Search(&store.SearchSpec{Limit: 1000})
	require.NoError(t, err)
	byName := make(map[string]*types.Entry)
	for _, r := range rows {
		byName[r.Name] = r
	}
	return byName
}

func TestApplyCreates(t *testing.T) {
	s := openApplierStore(t)
	a := New(s, 100)

	events := []types.ChangeEvent{
		create(1, types.RootNodeRef, "Projects", true),
		create(2, 1, "report.pdf", false),
	}
	require.NoError(t, a.ApplyAndFlush(context.Background(), events))

	byName := entryNames(t, s)
	require.Len(t, byName, 2)
	assert.Equal(t, byName["Projects"].NodeRef, byName["report.pdf"].ParentRef)

	// Entry count tracks the committed batch
	read, err := s.BeginRead()
	require.NoError(t, err)
	defer read.Close()
	vol, err := read.GetVolume("vol-a")
	require.NoError(t, err)
	assert.EqualValues(t, 2, vol.EntryCount)
}

func TestCreateThenDeleteEliminated(t *testing.T) {
	s := openApplierStore(t)
	a := New(s, 100)

	events := []types.ChangeEvent{
		create(5, types.RootNodeRef, "flash.tmp", false),
		{VolumeID: "vol-a", Op: types.ChangeOpDelete, NodeRef: 5, Name: "flash.tmp"},
	}
	require.NoError(t, a.ApplyAndFlush(context.Background(), events))

	byName := entryNames(t, s)
	assert.NotContains(t, byName, "flash.tmp")
	assert.Zero(t, a.PendingLen())
}

func TestRenameSupersedes(t *testing.T) {
	s := openApplierStore(t)
	a := New(s, 100)

	// Entry already committed
	require.NoError(t, a.ApplyAndFlush(context.Background(), []types.ChangeEvent{
		create(7, types.RootNodeRef, "A.txt", false),
	}))

	// Rename keeps the identity and changes the name
	require.NoError(t, a.ApplyAndFlush(context.Background(), []types.ChangeEvent{
		{VolumeID: "vol-a", Op: types.ChangeOpRename, NodeRef: 7,
			ParentRef: types.RootNodeRef, Name: "B.txt"},
	}))

	byName := entryNames(t, s)
	assert.NotContains(t, byName, "A.txt")
	require.Contains(t, byName, "B.txt")
	assert.EqualValues(t, 7, byName["B.txt"].NodeRef)
}

func TestRenameAfterCreateStaysInsert(t *testing.T) {
	s := openApplierStore(t)
	a := New(s, 100)

	events := []types.ChangeEvent{
		create(8, types.RootNodeRef, "draft.txt", false),
		{VolumeID: "vol-a", Op: types.ChangeOpRename, NodeRef: 8,
			ParentRef: types.RootNodeRef, Name: "final.txt"},
	}
	require.NoError(t, a.ApplyAndFlush(context.Background(), events))

	byName := entryNames(t, s)
	assert.NotContains(t, byName, "draft.txt")
	assert.Contains(t, byName, "final.txt")
}

func TestModifyMergesSizeOnly(t *testing.T) {
	s := openApplierStore(t)
	a := New(s, 100)

	ev := create(9, types.RootNodeRef, "grow.log", false)
	ev.Size = 10
	modify := types.ChangeEvent{
		VolumeID: "vol-a", Op: types.ChangeOpModify, NodeRef: 9,
		ParentRef: types.RootNodeRef, Name: "grow.log", Size: 4096, ModifiedAt: 1700000000,
	}
	require.NoError(t, a.ApplyAndFlush(context.Background(), []types.ChangeEvent{ev, modify}))

	byName := entryNames(t, s)
	require.Contains(t, byName, "grow.log")
	assert.EqualValues(t, 4096, byName["grow.log"].Size)
	assert.EqualValues(t, 1700000000, byName["grow.log"].ModifiedAt)
}

func TestDedupIdempotence(t *testing.T) {
	s1 := openApplierStore(t)
	s2 := openApplierStore(t)

	sequence := []types.ChangeEvent{
		create(1, types.RootNodeRef, "dir", true),
		create(2, 1, "a.txt", false),
		{VolumeID: "vol-a", Op: types.ChangeOpModify, NodeRef: 2, ParentRef: 1, Name: "a.txt", Size: 100},
		{VolumeID: "vol-a", Op: types.ChangeOpRename, NodeRef: 2, ParentRef: 1, Name: "b.txt", Size: 100},
		create(3, 1, "gone.txt", false),
		{VolumeID: "vol-a", Op: types.ChangeOpDelete, NodeRef: 3, Name: "gone.txt"},
	}

	// One batch with dedup vs. event-at-a-time without batching
	a1 := New(s1, 100)
	require.NoError(t, a1.ApplyAndFlush(context.Background(), sequence))

	a2 := New(s2, 100)
	for _, ev := range sequence {
		require.NoError(t, a2.ApplyAndFlush(context.Background(), []types.ChangeEvent{ev}))
	}

	names1 := entryNames(t, s1)
	names2 := entryNames(t, s2)
	require.Equal(t, len(names2), len(names1))
	for name, e1 := range names1 {
		e2, ok := names2[name]
		require.True(t, ok, "missing %s", name)
		assert.Equal(t, e2.NodeRef, e1.NodeRef)
		assert.Equal(t, e2.Size, e1.Size)
		assert.Equal(t, e2.ParentRef, e1.ParentRef)
	}
}

func TestDirectoryDeleteCascades(t *testing.T) {
	s := openApplierStore(t)
	a := New(s, 100)

	require.NoError(t, a.ApplyAndFlush(context.Background(), []types.ChangeEvent{
		create(1, types.RootNodeRef, "top", true),
		create(2, 1, "mid", true),
		create(3, 2, "leaf.txt", false),
	}))

	require.NoError(t, a.ApplyAndFlush(context.Background(), []types.ChangeEvent{
		{VolumeID: "vol-a", Op: types.ChangeOpDelete, NodeRef: 1, Name: "top", IsDir: true},
	}))

	byName := entryNames(t, s)
	assert.Empty(t, byName)
}

func TestOrphanFreedomAfterCommit(t *testing.T) {
	s := openApplierStore(t)
	a := New(s, 100)

	// Children arrive before their parents within the batch; the
	// committed state must still have a parent for every entry
	events := []types.ChangeEvent{
		create(30, 20, "leaf.txt", false),
		create(20, 10, "inner", true),
		create(10, types.RootNodeRef, "outer", true),
	}
	require.NoError(t, a.ApplyAndFlush(context.Background(), events))

	read, err := s.BeginRead()
	require.NoError(t, err)
	defer read.Close()

	rows, err := read.Search(&store.SearchSpec{Limit: 100})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for _, row := range rows {
		if row.ParentRef == types.RootNodeRef {
			continue
		}
		_, err := read.GetEntry(row.VolumeID, row.ParentRef)
		assert.NoError(t, err, "entry %s has no parent %d", row.Name, row.ParentRef)
	}

	// Paths reconstruct through the freshly linked chain
	path, err := read.ReconstructPath("vol-a", 30)
	require.NoError(t, err)
	assert.Equal(t, `C:\outer\inner\leaf.txt`, path)
}

func TestBatchSizeTriggersFlush(t *testing.T) {
	s := openApplierStore(t)
	a := New(s, 3)

	require.NoError(t, a.Enqueue(context.Background(), []types.ChangeEvent{
		create(1, types.RootNodeRef, "one.txt", false),
		create(2, types.RootNodeRef, "two.txt", false),
	}))
	// Below threshold: nothing committed yet
	assert.Len(t, entryNames(t, s), 0)
	assert.Equal(t, 2, a.PendingLen())

	require.NoError(t, a.Enqueue(context.Background(), []types.ChangeEvent{
		create(3, types.RootNodeRef, "three.txt", false),
	}))
	assert.Len(t, entryNames(t, s), 3)
	assert.Zero(t, a.PendingLen())
}

func TestLingerFlush(t *testing.T) {
	s := openApplierStore(t)
	a := New(s, 1000)
	a.Start(context.Background())
	defer a.Stop()

	require.NoError(t, a.Enqueue(context.Background(), []types.ChangeEvent{
		create(1, types.RootNodeRef, "slow.txt", false),
	}))

	require.Eventually(t, func() bool {
		return len(entryNames(t, s)) == 1
	}, 3*time.Second, 50*time.Millisecond)
}
