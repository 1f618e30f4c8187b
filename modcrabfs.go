// Package modcrabfs implements a case-insensitive, overlay FUSE
// filesystem: several real directories ("layers") merged into one
// virtual tree, with deletions and renames recorded persistently
// instead of touching the underlying files.
//
// This is derived from the Filesystem Adapter of the Rust program
// this module reimplements, itself derived from PassthroughFS, the
// example filesystem shipped with the fuse_mt crate. Most of the
// control flow below has been rewritten around go-fuse's pathfs
// binding and this module's own Virtual File Tree.
package modcrabfs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hanwen/go-fuse/v2/fuse/pathfs"

	"github.com/arcensyl/modcrabfs/internal/ferr"
	"github.com/arcensyl/modcrabfs/internal/metrics"
	"github.com/arcensyl/modcrabfs/internal/shadow"
	"github.com/arcensyl/modcrabfs/internal/translog"
	"github.com/arcensyl/modcrabfs/internal/vft"
	"github.com/arcensyl/modcrabfs/internal/xlog"
)

// Filesystem is a case-insensitive, overlay filesystem. It implements
// pathfs.FileSystem by delegating path resolution and directory
// structure to a vft.Tree, guarded by a single reader/writer lock.
type Filesystem struct {
	pathfs.FileSystem

	// surface is the highest-priority real directory in the overlay:
	// the one new writes land in.
	surface string

	mu   sync.RWMutex
	tree *vft.Tree

	cache *translog.Cache

	shadowed *shadow.Channel

	metrics *metrics.Collector
}

// canonicalize resolves path to an absolute, symlink-free form, so
// that two paths referring to the same directory through different
// symlinks compare equal. Fails if path does not exist, matching
// spec.md §6's "path fails to canonicalize" constructor error.
func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

// New builds a filesystem from an ordered list of overlay directories
// (lowest priority first) mounted at mountpoint, with transformations
// persisted to cachePath. The last entry of overlay becomes the
// surface: the directory new files are actually created in.
//
// Writes through a virtual path go to the real file that backs it,
// even when that file lives in a lower layer: nothing is copied to the
// surface first, so the lower file is modified in place.
func New(mountpoint, cachePath string, overlay []string) (*Filesystem, error) {
	if len(overlay) == 0 {
		return nil, ferr.New(ferr.InvalidInput, "modcrabfs.New", "", fmt.Errorf("overlay list is empty"))
	}

	layers := make([]string, len(overlay))
	copy(layers, overlay)
	surfaceRaw := layers[len(layers)-1]
	layers = layers[:len(layers)-1]

	surface, err := canonicalize(surfaceRaw)
	if err != nil {
		return nil, ferr.New(ferr.InvalidInput, "modcrabfs.New", surfaceRaw, err)
	}

	mountAbs, err := canonicalize(mountpoint)
	if err != nil {
		return nil, ferr.New(ferr.InvalidInput, "modcrabfs.New", mountpoint, err)
	}
	if mountAbs == surface {
		return nil, ferr.New(ferr.InvalidInput, "modcrabfs.New", mountpoint,
			fmt.Errorf("mountpoint cannot be the surface directory"))
	}

	if _, err := os.Stat(cachePath); os.IsNotExist(err) {
		f, cerr := os.Create(cachePath)
		if cerr != nil {
			return nil, ferr.New(ferr.IOFailed, "modcrabfs.New", cachePath, cerr)
		}
		f.Close()
	}

	tree, err := vft.New(surface)
	if err != nil {
		return nil, err
	}

	shadowed, err := shadow.Open(mountAbs)
	if err != nil {
		return nil, err
	}

	if err := tree.MapLayers(layers); err != nil {
		shadowed.Close()
		return nil, err
	}

	cache, err := translog.Open(cachePath, tree)
	if err != nil {
		shadowed.Close()
		return nil, err
	}

	fs := &Filesystem{
		FileSystem: pathfs.NewDefaultFileSystem(),
		surface:    surface,
		tree:       tree,
		cache:      cache,
		shadowed:   shadowed,
		metrics:    metrics.New(),
	}

	xlog.Infof("modcrabfs", "built filesystem: surface=%s layers=%d mountpoint=%s", surface, len(overlay), mountAbs)
	return fs, nil
}

// Attach maps a secondary overlay under attachPoint, creating a
// purely virtual node there if nothing already occupies it.
// attachPoint does not need to already exist, but its parent must.
// All secondary overlays remain subject to being shadowed by the
// primary overlay's surface directory.
func (fs *Filesystem) Attach(attachPoint string, overlay []string) (*Filesystem, error) {
	return fs, fs.withWriteLock(func() error {
		idx, err := fs.tree.FindIndex(attachPoint)
		if err != nil {
			idx, err = fs.tree.AddNode(attachPoint)
			if err != nil {
				return err
			}
		}

		var errs Errors
		for _, layer := range overlay {
			abs, err := filepath.Abs(layer)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if err := fs.tree.MapDirectory(abs, &idx); err != nil {
				errs = append(errs, err)
			}
		}
		return errs.Err()
	})
}

// RegisterPath makes a single real file, already present under the
// surface directory, visible through its equivalent virtual path.
func (fs *Filesystem) RegisterPath(real string) error {
	abs, err := filepath.Abs(real)
	if err != nil {
		return ferr.New(ferr.InvalidInput, "modcrabfs.RegisterPath", real, err)
	}

	rel, err := filepath.Rel(fs.surface, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
		return ferr.New(ferr.InvalidInput, "modcrabfs.RegisterPath", real, nil)
	}

	virtualParent := filepath.Dir(rel)
	if virtualParent == "." {
		virtualParent = ""
	}

	return fs.withWriteLock(func() error {
		xlog.Debugf("modcrabfs", "registering path: %q -> %q", virtualParent, abs)
		return fs.tree.MapFile(virtualParent, abs)
	})
}

// Metrics returns the Prometheus collector backing this filesystem's
// instrumentation; an embedder gathers or serves its Registry.
func (fs *Filesystem) Metrics() *metrics.Collector {
	return fs.metrics
}

// isShadowing reports whether real lies within the directory this
// filesystem is mounted over.
func (fs *Filesystem) isShadowing(real string) bool {
	return fs.shadowed.IsShadowing(real)
}

// withReadLock runs fn holding the tree's reader lock. A panic
// escaping fn indicates the tree was left in an inconsistent state
// mid-operation; rather than release the lock over unknown state (Go
// has no equivalent of Rust's poisoned-lock detection to fall back
// on), the process logs and exits.
func (fs *Filesystem) withReadLock(fn func() error) error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return runGuarded(fn)
}

// withWriteLock runs fn holding the tree's writer lock, with the same
// panic-to-exit behavior as withReadLock.
func (fs *Filesystem) withWriteLock(fn func() error) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return runGuarded(fn)
}

func runGuarded(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			xlog.Criticalf("modcrabfs", "tree operation panicked, state is no longer trustworthy: %v", r)
			os.Exit(1)
		}
	}()
	return fn()
}
