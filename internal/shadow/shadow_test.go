//go:build linux || darwin

package shadow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAndStat(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "file.txt"), []byte("hello"), 0o644))

	ch, err := Open(root)
	require.NoError(t, err)
	defer ch.Close()

	attr, err := ch.Stat(filepath.Join(root, "file.txt"))
	require.NoError(t, err)
	assert.EqualValues(t, 5, attr.Size)
}

func TestIsShadowing(t *testing.T) {
	root := t.TempDir()
	ch, err := Open(root)
	require.NoError(t, err)
	defer ch.Close()

	assert.True(t, ch.IsShadowing(filepath.Join(root, "anything")))
	assert.False(t, ch.IsShadowing("/somewhere/else"))
}

func TestCloseIsIdempotent(t *testing.T) {
	root := t.TempDir()
	ch, err := Open(root)
	require.NoError(t, err)

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())
}

func TestChmodAndStatRoundTrip(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "perm.txt")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))

	ch, err := Open(root)
	require.NoError(t, err)
	defer ch.Close()

	require.NoError(t, ch.Chmod(target, 0o600))
	attr, err := ch.Stat(target)
	require.NoError(t, err)
	assert.EqualValues(t, 0o600, attr.Perm)
}
