package translog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcensyl/modcrabfs/internal/vft"
)

func newTestTree(t *testing.T) *vft.Tree {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("x"), 0o644))
	tree, err := vft.New(root)
	require.NoError(t, err)
	require.NoError(t, tree.MapDirectory(root, nil))
	return tree
}

func TestCacheRoundTrip(t *testing.T) {
	tree := newTestTree(t)
	cachePath := filepath.Join(t.TempDir(), "cache.bin")

	cache, err := Open(cachePath, tree)
	require.NoError(t, err)

	require.NoError(t, cache.Transform(Deletion{Target: "a.txt"}, tree))
	require.NoError(t, cache.Transform(Relocation{From: "b.txt", To: "c.txt"}, tree))

	reloadedTree := newTestTree(t)
	reloadedCache, err := Open(cachePath, reloadedTree)
	require.NoError(t, err)

	assert.False(t, reloadedTree.Contains("a.txt"))
	assert.False(t, reloadedTree.Contains("b.txt"))
	assert.True(t, reloadedTree.Contains("c.txt"))
	assert.Len(t, reloadedCache.List(), 2)
}

func TestCacheSelfHealsCorruption(t *testing.T) {
	cachePath := filepath.Join(t.TempDir(), "cache.bin")
	require.NoError(t, os.WriteFile(cachePath, []byte{0xff, 0x01, 0x02, 0x03}, 0o644))

	tree := newTestTree(t)
	cache, err := Open(cachePath, tree)
	require.NoError(t, err)
	assert.Empty(t, cache.List())
}

func TestCacheDropsStaleEntries(t *testing.T) {
	tree := newTestTree(t)
	cachePath := filepath.Join(t.TempDir(), "cache.bin")

	require.NoError(t, WriteCache(cachePath, []Transformation{
		Deletion{Target: "a.txt"},
		Deletion{Target: "does-not-exist.txt"},
	}))

	cache, err := Open(cachePath, tree)
	require.NoError(t, err)
	assert.Len(t, cache.List(), 1)
	assert.False(t, tree.Contains("a.txt"))
}

func TestMissingCacheFileIsEmptyLog(t *testing.T) {
	tree := newTestTree(t)
	cache, err := Open(filepath.Join(t.TempDir(), "nonexistent.bin"), tree)
	require.NoError(t, err)
	assert.Empty(t, cache.List())
}
