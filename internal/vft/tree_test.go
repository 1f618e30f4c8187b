package vft

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustMkdir(t *testing.T, dir string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	return dir
}

func mustWriteFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestFindIndexCaseInsensitive(t *testing.T) {
	root := t.TempDir()
	mustMkdir(t, filepath.Join(root, "Documents"))
	mustWriteFile(t, filepath.Join(root, "Documents", "Notes.TXT"))

	tree, err := New(root)
	require.NoError(t, err)
	require.NoError(t, tree.MapDirectory(root, nil))

	assert.True(t, tree.Contains("documents/notes.txt"))
	assert.True(t, tree.Contains("DOCUMENTS/NOTES.TXT"))
	assert.True(t, tree.Contains("Documents/Notes.TXT"))
}

func TestViewDirPreservesRealCase(t *testing.T) {
	root := t.TempDir()
	mustMkdir(t, filepath.Join(root, "MixedCase"))

	tree, err := New(root)
	require.NoError(t, err)
	require.NoError(t, tree.MapDirectory(root, nil))

	handle, err := tree.OpenDir("")
	require.NoError(t, err)
	defer tree.CloseDir(handle)

	entries, err := tree.ViewDir(handle)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "MixedCase", entries[0].Name)
	assert.Equal(t, KindDirectory, entries[0].Kind)
}

func TestLaterLayerShadowsEarlier(t *testing.T) {
	lowerRoot := t.TempDir()
	upperRoot := t.TempDir()
	mustWriteFile(t, filepath.Join(lowerRoot, "shared.txt"))
	mustWriteFile(t, filepath.Join(upperRoot, "SHARED.txt"))

	tree, err := New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, tree.MapLayers([]string{lowerRoot, upperRoot}))

	real, err := tree.TranslatePath("shared.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(upperRoot, "SHARED.txt"), real)
}

func TestRootNeverRemoved(t *testing.T) {
	tree, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = tree.RemoveFile("")
	assert.Error(t, err)
}

func TestRemoveFilePrunesOrphans(t *testing.T) {
	root := t.TempDir()
	mustMkdir(t, filepath.Join(root, "a", "b"))
	mustWriteFile(t, filepath.Join(root, "a", "b", "leaf.txt"))

	tree, err := New(root)
	require.NoError(t, err)
	require.NoError(t, tree.MapDirectory(root, nil))

	before := len(tree.nodes)
	_, err = tree.RemoveFile("a")
	require.NoError(t, err)

	assert.False(t, tree.Contains("a"))
	assert.False(t, tree.Contains("a/b"))
	assert.False(t, tree.Contains("a/b/leaf.txt"))
	assert.Less(t, len(tree.nodes), before)
}

func TestOpenDirHandlesAreUnique(t *testing.T) {
	root := t.TempDir()
	mustMkdir(t, filepath.Join(root, "one"))
	mustMkdir(t, filepath.Join(root, "two"))

	tree, err := New(root)
	require.NoError(t, err)
	require.NoError(t, tree.MapDirectory(root, nil))

	h1, err := tree.OpenDir("one")
	require.NoError(t, err)
	h2, err := tree.OpenDir("two")
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
	assert.True(t, tree.IsDirOpen(h1))
	tree.CloseDir(h1)
	assert.False(t, tree.IsDirOpen(h1))
}

func TestMoveFileUpdatesLookup(t *testing.T) {
	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "old.txt"))

	tree, err := New(root)
	require.NoError(t, err)
	require.NoError(t, tree.MapDirectory(root, nil))

	require.NoError(t, tree.MoveFile("old.txt", "new.txt"))

	assert.False(t, tree.Contains("old.txt"))
	assert.True(t, tree.Contains("new.txt"))
}

// A rename whose new basename is not a case variant of the old one
// must still resolve to the original real file: the payload, real
// path included, moves with the node untouched.
func TestMoveFileWithDifferentBasenamePreservesRealPath(t *testing.T) {
	root := t.TempDir()
	realPath := filepath.Join(root, "from_beta")
	require.NoError(t, os.WriteFile(realPath, []byte("BETA"), 0o644))

	tree, err := New(root)
	require.NoError(t, err)
	require.NoError(t, tree.MapDirectory(root, nil))

	require.NoError(t, tree.MoveFile("from_beta", "renamed_beta"))

	assert.False(t, tree.Contains("from_beta"))
	require.True(t, tree.Contains("renamed_beta"))

	resolved, err := tree.TranslatePath("renamed_beta")
	require.NoError(t, err)
	assert.Equal(t, realPath, resolved)

	data, err := os.ReadFile(resolved)
	require.NoError(t, err)
	assert.Equal(t, "BETA", string(data))
}

func TestStatFabricatesDirectoryAttrs(t *testing.T) {
	root := t.TempDir()
	mustMkdir(t, filepath.Join(root, "sub"))

	tree, err := New(root)
	require.NoError(t, err)
	require.NoError(t, tree.MapDirectory(root, nil))

	attr, err := tree.Stat("sub")
	require.NoError(t, err)
	assert.Equal(t, KindDirectory, attr.Kind)
	assert.EqualValues(t, 0o755, attr.Perm)
}
