package modcrabfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcensyl/modcrabfs/internal/translog"
)

func buildFixture(t *testing.T) (*Filesystem, string) {
	fs, mountpoint, _ := buildFixtureWithCache(t)
	return fs, mountpoint
}

func buildFixtureWithCache(t *testing.T) (*Filesystem, string, string) {
	t.Helper()

	mountpoint := t.TempDir()
	lower := t.TempDir()
	upper := t.TempDir()
	cachePath := filepath.Join(t.TempDir(), "cache.bin")

	require.NoError(t, os.WriteFile(filepath.Join(lower, "Shared.txt"), []byte("lower"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(upper, "shared.TXT"), []byte("upper"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(lower, "Mods"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(lower, "Mods", "a.esp"), []byte("x"), 0o644))

	fs, err := New(mountpoint, cachePath, []string{lower, upper})
	require.NoError(t, err)

	require.NoError(t, fs.mountSurface())

	return fs, mountpoint, cachePath
}

// S1: a file present only in the lower layer is visible: GetAttr on
// it succeeds.
func TestScenarioLowerLayerVisible(t *testing.T) {
	fs, _ := buildFixture(t)

	attr, status := fs.GetAttr("mods/a.esp", &fuse.Context{})
	require.Equal(t, fuse.OK, status)
	assert.NotNil(t, attr)
}

// S2: a file present in both layers resolves to the upper layer's
// content (later-mapped-wins).
func TestScenarioUpperLayerShadowsLower(t *testing.T) {
	fs, _ := buildFixture(t)

	real, err := fs.tree.TranslatePath("shared.txt")
	require.NoError(t, err)

	data, rerr := os.ReadFile(real)
	require.NoError(t, rerr)
	assert.Equal(t, "upper", string(data))
}

// S3: deleting a file hides it from lookups without touching disk,
// and the deletion survives a fresh load of the same cache file.
func TestScenarioDeletionPersistsAcrossReload(t *testing.T) {
	fs, mountpoint, cachePath := buildFixtureWithCache(t)

	modsReal, err := fs.tree.TranslatePath("mods")
	require.NoError(t, err)
	lower := filepath.Dir(modsReal)

	status := fs.Unlink("mods/a.esp", &fuse.Context{})
	require.Equal(t, fuse.OK, status)
	assert.False(t, fs.tree.Contains("mods/a.esp"))

	entries := fs.cache.List()
	require.Len(t, entries, 1)
	assert.Equal(t, translog.Deletion{Target: "mods/a.esp"}, entries[0])

	reloaded, err := New(mountpoint, cachePath, []string{lower, fs.surface})
	require.NoError(t, err)
	require.Len(t, reloaded.cache.List(), 1)
	assert.False(t, reloaded.tree.Contains("mods/a.esp"))
}

// S4: case-insensitive lookup resolves regardless of the query's
// casing.
func TestScenarioCaseInsensitiveLookup(t *testing.T) {
	fs, _ := buildFixture(t)

	for _, variant := range []string{"MODS/A.ESP", "Mods/A.esp", "mods/a.esp"} {
		assert.True(t, fs.tree.Contains(virtualize(variant)), variant)
	}
}

// S5: renaming a file updates lookups for both the old and new
// virtual paths, and the new path still reads the original content —
// a rename must never point at a real file that was never created.
func TestScenarioRenameUpdatesLookup(t *testing.T) {
	fs, _ := buildFixture(t)

	status := fs.Rename("mods/a.esp", "mods/b.esp", &fuse.Context{})
	require.Equal(t, fuse.OK, status)

	assert.False(t, fs.tree.Contains("mods/a.esp"))
	assert.True(t, fs.tree.Contains("mods/b.esp"))

	real, err := fs.tree.TranslatePath("mods/b.esp")
	require.NoError(t, err)
	data, rerr := os.ReadFile(real)
	require.NoError(t, rerr)
	assert.Equal(t, "x", string(data))
}

// S6: a newly created file is immediately visible through the tree.
func TestScenarioCreateRegistersPath(t *testing.T) {
	fs, _ := buildFixture(t)

	file, status := fs.Create("mods/new.esp", uint32(os.O_WRONLY), 0o644, &fuse.Context{})
	require.Equal(t, fuse.OK, status)
	require.NotNil(t, file)
	defer file.Release()

	assert.True(t, fs.tree.Contains("mods/new.esp"))
}

func TestMountpointCannotBeSurface(t *testing.T) {
	dir := t.TempDir()
	cachePath := filepath.Join(t.TempDir(), "cache.bin")

	_, err := New(dir, cachePath, []string{dir})
	assert.Error(t, err)
}

func TestAttachCreatesVirtualAttachPoint(t *testing.T) {
	fs, _ := buildFixture(t)

	secondary := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(secondary, "extra.txt"), []byte("x"), 0o644))

	_, err := fs.Attach("addons", []string{secondary})
	require.NoError(t, err)

	assert.True(t, fs.tree.Contains("addons/extra.txt"))
}
