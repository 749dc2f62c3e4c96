package enumerate

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ram-shortage/BRindeX/pkg/types"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func collect(t *testing.T, w *WalkEnumerator, startCursor int64) (map[string]*types.Entry, int64) {
	t.Helper()
	byName := make(map[string]*types.Entry)
	cursor, err := w.Enumerate(context.Background(), startCursor, func(e *types.Entry) error {
		byName[e.Name] = e
		return nil
	})
	require.NoError(t, err)
	return byName, cursor
}

func TestWalkEnumerates(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "Projects", "report.pdf"), "pdfpdf")
	writeFile(t, filepath.Join(root, "Projects", "Old", "draft.txt"), "d")
	writeFile(t, filepath.Join(root, "readme.md"), "hello")

	w := NewWalkEnumerator("vol-w", root, WalkOptions{})
	byName, cursor := collect(t, w, 1)

	require.Len(t, byName, 5)
	assert.True(t, byName["Projects"].IsDir)
	assert.True(t, byName["Old"].IsDir)
	assert.EqualValues(t, 6, byName["report.pdf"].Size)
	assert.False(t, byName["report.pdf"].IsDir)
	assert.EqualValues(t, 0, byName["Projects"].Size)
	assert.Greater(t, cursor, int64(5))
}

func TestWalkParentLinks(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a", "b", "c.txt"), "x")

	w := NewWalkEnumerator("vol-w", root, WalkOptions{})
	byName, _ := collect(t, w, 1)

	// Top-level directory hangs off the root ref
	assert.Equal(t, types.RootNodeRef, byName["a"].ParentRef)
	assert.Equal(t, byName["a"].NodeRef, byName["b"].ParentRef)
	assert.Equal(t, byName["b"].NodeRef, byName["c.txt"].ParentRef)
}

func TestWalkCursorMonotonic(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "one.txt"), "1")
	writeFile(t, filepath.Join(root, "two.txt"), "2")

	w := NewWalkEnumerator("vol-w", root, WalkOptions{})
	byName, cursor := collect(t, w, 100)

	for _, e := range byName {
		assert.GreaterOrEqual(t, e.NodeRef, int64(100))
		assert.Less(t, e.NodeRef, cursor)
	}

	// A rescan starting at the returned cursor mints disjoint refs
	byName2, _ := collect(t, w, cursor)
	for _, e := range byName2 {
		assert.GreaterOrEqual(t, e.NodeRef, cursor)
	}
}

func TestWalkExcludes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "keep", "file.txt"), "x")
	writeFile(t, filepath.Join(root, "skip", "secret.txt"), "x")
	writeFile(t, filepath.Join(root, "scratch.tmp"), "x")

	exclude := func(path, name string) bool {
		return strings.Contains(path, "skip") || strings.HasSuffix(name, ".tmp")
	}
	w := NewWalkEnumerator("vol-w", root, WalkOptions{Exclude: exclude})
	byName, _ := collect(t, w, 1)

	assert.Contains(t, byName, "keep")
	assert.Contains(t, byName, "file.txt")
	// Excluded directories are pruned before descent
	assert.NotContains(t, byName, "skip")
	assert.NotContains(t, byName, "secret.txt")
	assert.NotContains(t, byName, "scratch.tmp")
}

func TestWalkSymlinksNotFollowed(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink creation requires privilege on windows")
	}
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "real", "file.txt"), "x")
	require.NoError(t, os.Symlink(filepath.Join(root, "real"), filepath.Join(root, "link")))

	w := NewWalkEnumerator("vol-w", root, WalkOptions{})
	byName, _ := collect(t, w, 1)

	// The link itself is indexed as a file; its target is not descended
	require.Contains(t, byName, "link")
	assert.False(t, byName["link"].IsDir)
	assert.Len(t, byName, 3) // real, file.txt, link
}

func TestWalkFollowLinksDetectsCycles(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink creation requires privilege on windows")
	}
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "dir", "file.txt"), "x")
	// A link pointing back at the root would loop forever if followed
	// blindly
	require.NoError(t, os.Symlink(root, filepath.Join(root, "dir", "up")))

	w := NewWalkEnumerator("vol-w", root, WalkOptions{FollowLinks: true})
	byName, _ := collect(t, w, 1)

	assert.Contains(t, byName, "file.txt")
	// The walk terminated — that is the property under test
}

func TestWalkCancellation(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 50; i++ {
		writeFile(t, filepath.Join(root, "dir", "file"+string(rune('a'+i%26))+".txt"), "x")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := NewWalkEnumerator("vol-w", root, WalkOptions{})
	_, err := w.Enumerate(ctx, 1, func(e *types.Entry) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
