package reconcile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ram-shortage/BRindeX/pkg/enumerate"
	"github.com/ram-shortage/BRindeX/pkg/store"
	"github.com/ram-shortage/BRindeX/pkg/types"
)

func openReconcileStore(t *testing.T) (*store.Store, string) {
	t.Helper()
	dataDir := t.TempDir()
	s, err := store.Open(dataDir)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, dataDir
}

func seedVolume(t *testing.T, s *store.Store, vol *types.Volume, entries []*types.Entry) {
	t.Helper()
	tx, err := s.BeginWrite()
	require.NoError(t, err)
	require.NoError(t, tx.UpsertVolume(vol))
	for _, e := range entries {
		require.NoError(t, tx.UpsertEntry(e))
	}
	require.NoError(t, tx.Commit())
}

func newTestReconciler(s *store.Store, dataDir string, retention time.Duration, trigger func(string)) *Reconciler {
	if trigger == nil {
		trigger = func(string) {}
	}
	return New(s, dataDir, retention,
		func(mount string) time.Duration { return 30 * time.Minute }, trigger)
}

func TestRescanReplacesEntries(t *testing.T) {
	s, dataDir := openReconcileStore(t)

	mount := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(mount, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(mount, "docs", "kept.txt"), []byte("k"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(mount, "new.txt"), []byte("n"), 0o644))

	vol := &types.Volume{
		ID: "vol-g", Mount: mount, Kind: types.VolumeKindGeneric,
		State: types.VolumeStateReconciling, ScanCursor: 100,
		CreatedAt: time.Now().Unix(),
	}
	// Stale truth: an entry the filesystem no longer has
	seedVolume(t, s, vol, []*types.Entry{
		{VolumeID: "vol-g", NodeRef: 1, ParentRef: types.RootNodeRef, Name: "vanished.txt"},
		{VolumeID: "vol-g", NodeRef: 2, ParentRef: types.RootNodeRef, Name: "docs", IsDir: true},
	})

	r := newTestReconciler(s, dataDir, time.Hour, nil)
	walker := enumerate.NewWalkEnumerator("vol-g", mount, enumerate.WalkOptions{})
	err := r.Rescan(context.Background(), vol, func(ctx context.Context, emit enumerate.EmitFunc) (int64, error) {
		return walker.Enumerate(ctx, vol.ScanCursor, emit)
	})
	require.NoError(t, err)

	read, err := s.BeginRead()
	require.NoError(t, err)
	defer read.Close()

	rows, err := read.Search(&store.SearchSpec{Limit: 100})
	require.NoError(t, err)
	names := map[string]bool{}
	for _, row := range rows {
		names[row.Name] = true
		// Fresh refs come from the persisted cursor generation
		assert.GreaterOrEqual(t, row.NodeRef, int64(100))
	}
	assert.Equal(t, map[string]bool{"docs": true, "kept.txt": true, "new.txt": true}, names)

	got, err := read.GetVolume("vol-g")
	require.NoError(t, err)
	assert.Equal(t, types.VolumeStateLive, got.State)
	assert.EqualValues(t, 3, got.EntryCount)
	assert.Greater(t, got.ScanCursor, int64(100))
	assert.NotZero(t, got.LastReconciledAt)

	// The staging file does not outlive the pass
	_, statErr := os.Stat(filepath.Join(dataDir, "staging", "vol-g.db"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRescanFailureLeavesIndexUntouched(t *testing.T) {
	s, dataDir := openReconcileStore(t)

	vol := &types.Volume{
		ID: "vol-g", Mount: `X:\`, Kind: types.VolumeKindGeneric,
		State: types.VolumeStateReconciling, CreatedAt: time.Now().Unix(),
	}
	seedVolume(t, s, vol, []*types.Entry{
		{VolumeID: "vol-g", NodeRef: 1, ParentRef: types.RootNodeRef, Name: "survivor.txt"},
	})

	r := newTestReconciler(s, dataDir, time.Hour, nil)
	err := r.Rescan(context.Background(), vol, func(ctx context.Context, emit enumerate.EmitFunc) (int64, error) {
		_ = emit(&types.Entry{VolumeID: "vol-g", NodeRef: 200, ParentRef: types.RootNodeRef, Name: "half.txt"})
		return 0, assert.AnError
	})
	require.Error(t, err)

	read, err := s.BeginRead()
	require.NoError(t, err)
	defer read.Close()
	rows, err := read.Search(&store.SearchSpec{Limit: 10})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "survivor.txt", rows[0].Name)
}

func TestSweepPurgesExpiredOffline(t *testing.T) {
	s, dataDir := openReconcileStore(t)

	old := time.Now().Add(-8 * 24 * time.Hour).Unix()
	seedVolume(t, s, &types.Volume{
		ID: "vol-old", Mount: `D:\`, Kind: types.VolumeKindGeneric,
		State: types.VolumeStateOffline, OfflineSince: old, CreatedAt: old,
	}, []*types.Entry{
		{VolumeID: "vol-old", NodeRef: 1, ParentRef: types.RootNodeRef, Name: "stale.txt"},
	})
	seedVolume(t, s, &types.Volume{
		ID: "vol-fresh", Mount: `E:\`, Kind: types.VolumeKindGeneric,
		State: types.VolumeStateOffline, OfflineSince: time.Now().Unix(),
		CreatedAt: time.Now().Unix(),
	}, nil)

	r := newTestReconciler(s, dataDir, 7*24*time.Hour, nil)
	require.NoError(t, r.Sweep(context.Background()))

	read, err := s.BeginRead()
	require.NoError(t, err)
	defer read.Close()

	_, err = read.GetVolume("vol-old")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = read.GetEntry("vol-old", 1)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Inside the retention window: untouched
	_, err = read.GetVolume("vol-fresh")
	assert.NoError(t, err)
}

func TestTickTriggersDueVolumes(t *testing.T) {
	s, dataDir := openReconcileStore(t)

	seedVolume(t, s, &types.Volume{
		ID: "vol-due", Mount: `D:\`, Kind: types.VolumeKindGeneric,
		State: types.VolumeStateLive, LastReconciledAt: 0,
		CreatedAt: time.Now().Unix(),
	}, nil)
	seedVolume(t, s, &types.Volume{
		ID: "vol-recent", Mount: `E:\`, Kind: types.VolumeKindGeneric,
		State: types.VolumeStateLive, LastReconciledAt: time.Now().Unix(),
		CreatedAt: time.Now().Unix(),
	}, nil)
	seedVolume(t, s, &types.Volume{
		ID: "vol-ntfs", Mount: `C:\`, Kind: types.VolumeKindJournaled,
		State: types.VolumeStateLive, LastReconciledAt: 0,
		CreatedAt: time.Now().Unix(),
	}, nil)

	var triggered []string
	r := newTestReconciler(s, dataDir, time.Hour, func(volumeID string) {
		triggered = append(triggered, volumeID)
	})

	require.NoError(t, r.tick(context.Background()))

	// Only the overdue generic volume reconciles on the interval;
	// journaled volumes rebuild on journal discontinuity instead
	assert.Equal(t, []string{"vol-due"}, triggered)
}
