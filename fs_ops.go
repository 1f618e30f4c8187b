package modcrabfs

import (
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/hanwen/go-fuse/v2/fuse/nodefs"
	"github.com/hanwen/go-fuse/v2/fuse/pathfs"
	"golang.org/x/sys/unix"

	"github.com/arcensyl/modcrabfs/internal/translog"
	"github.com/arcensyl/modcrabfs/internal/vft"
	"github.com/arcensyl/modcrabfs/internal/vpath"
	"github.com/arcensyl/modcrabfs/internal/xlog"
)

func virtualize(name string) string {
	return vpath.FoldComponent(name)
}

func kindToMode(kind vft.FileKind, perm uint32) uint32 {
	var typeBits uint32
	switch kind {
	case vft.KindDirectory:
		typeBits = unix.S_IFDIR
	case vft.KindSymlink:
		typeBits = unix.S_IFLNK
	case vft.KindBlockDevice:
		typeBits = unix.S_IFBLK
	case vft.KindCharDevice:
		typeBits = unix.S_IFCHR
	case vft.KindNamedPipe:
		typeBits = unix.S_IFIFO
	case vft.KindSocket:
		typeBits = unix.S_IFSOCK
	default:
		typeBits = unix.S_IFREG
	}
	return typeBits | (perm & 0o7777)
}

func attrToFuse(a vft.Attr) *fuse.Attr {
	out := &fuse.Attr{
		Size:      a.Size,
		Mode:      kindToMode(a.Kind, a.Perm),
		Nlink:     a.Nlink,
		Rdev:      a.Rdev,
		Atime:     uint64(a.Atime.Unix()),
		Mtime:     uint64(a.Mtime.Unix()),
		Ctime:     uint64(a.Ctime.Unix()),
		Atimensec: uint32(a.Atime.Nanosecond()),
		Mtimensec: uint32(a.Mtime.Nanosecond()),
		Ctimensec: uint32(a.Ctime.Nanosecond()),
	}
	out.Owner.Uid = a.Uid
	out.Owner.Gid = a.Gid
	return out
}

// realPath resolves a virtual path to its backing real path. Callers
// must hold at least the tree's reader lock.
func (fs *Filesystem) realPath(name string) (string, error) {
	return fs.tree.TranslatePath(virtualize(name))
}

func (fs *Filesystem) GetAttr(name string, context *fuse.Context) (*fuse.Attr, fuse.Status) {
	xlog.Debugf("modcrabfs", "getattr: %q", name)

	var attr vft.Attr
	err := fs.withReadLock(func() error {
		if real, rerr := fs.realPath(name); rerr == nil && fs.isShadowing(real) {
			a, serr := fs.shadowed.Stat(real)
			if serr != nil {
				return serr
			}
			attr = a
			return nil
		}

		a, serr := fs.tree.Stat(virtualize(name))
		if serr != nil {
			return serr
		}
		attr = a
		return nil
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return attrToFuse(attr), fuse.OK
}

func (fs *Filesystem) OpenDir(name string, context *fuse.Context) ([]fuse.DirEntry, fuse.Status) {
	xlog.Debugf("modcrabfs", "opendir: %q", name)

	var entries []vft.Entry
	err := fs.withWriteLock(func() error {
		handle, oerr := fs.tree.OpenDir(virtualize(name))
		if oerr != nil {
			return oerr
		}
		defer fs.tree.CloseDir(handle)

		list, verr := fs.tree.ViewDir(handle)
		if verr != nil {
			return verr
		}
		entries = list
		return nil
	})
	if err != nil {
		return nil, toStatus(err)
	}

	out := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, fuse.DirEntry{Name: e.Name, Mode: kindToMode(e.Kind, 0)})
	}
	return out, fuse.OK
}

func (fs *Filesystem) Open(name string, flags uint32, context *fuse.Context) (nodefs.File, fuse.Status) {
	xlog.Debugf("modcrabfs", "open: %q flags=%#x", name, flags)

	var real string
	err := fs.withReadLock(func() error {
		r, rerr := fs.realPath(name)
		if rerr != nil {
			return rerr
		}
		real = r
		return nil
	})
	if err != nil {
		return nil, toStatus(err)
	}

	if fs.isShadowing(real) {
		fd, serr := fs.shadowed.Open(real, int(flags))
		if serr != nil {
			return nil, toStatus(serr)
		}
		return newRealFile(os.NewFile(uintptr(fd), real)), fuse.OK
	}

	f, operr := os.OpenFile(real, int(flags), 0o644)
	if operr != nil {
		xlog.Errorf("modcrabfs", "open(%q): %v", name, operr)
		return nil, fuse.ToStatus(operr)
	}
	return newRealFile(f), fuse.OK
}

func (fs *Filesystem) Create(name string, flags uint32, mode uint32, context *fuse.Context) (nodefs.File, fuse.Status) {
	xlog.Debugf("modcrabfs", "create: %q mode=%#o flags=%#x", name, mode, flags)

	virt := virtualize(name)
	real := filepath.Join(fs.surface, filepath.FromSlash(virt))

	if merr := os.MkdirAll(filepath.Dir(real), 0o755); merr != nil {
		return nil, fuse.ToStatus(merr)
	}

	f, operr := os.OpenFile(real, int(flags)|os.O_CREATE|os.O_EXCL, os.FileMode(mode))
	if operr != nil {
		xlog.Errorf("modcrabfs", "create(%q): %v", name, operr)
		return nil, fuse.ToStatus(operr)
	}

	if cerr := fs.registerIfMissing(virt, real); cerr != nil {
		f.Close()
		return nil, toStatus(cerr)
	}

	return newRealFile(f), fuse.OK
}

func (fs *Filesystem) Mkdir(name string, mode uint32, context *fuse.Context) fuse.Status {
	xlog.Debugf("modcrabfs", "mkdir: %q mode=%#o", name, mode)

	virt := virtualize(name)
	real := filepath.Join(fs.surface, filepath.FromSlash(virt))

	if err := os.MkdirAll(real, os.FileMode(mode)); err != nil {
		return fuse.ToStatus(err)
	}
	if err := fs.registerIfMissing(virt, real); err != nil {
		return toStatus(err)
	}
	return fuse.OK
}

func (fs *Filesystem) Mknod(name string, mode uint32, dev uint32, context *fuse.Context) fuse.Status {
	xlog.Debugf("modcrabfs", "mknod: %q mode=%#o dev=%d", name, mode, dev)

	virt := virtualize(name)
	real := filepath.Join(fs.surface, filepath.FromSlash(virt))

	if err := unix.Mknod(real, mode, int(dev)); err != nil {
		return fuse.ToStatus(err)
	}
	if err := fs.registerIfMissing(virt, real); err != nil {
		return toStatus(err)
	}
	return fuse.OK
}

func (fs *Filesystem) Unlink(name string, context *fuse.Context) fuse.Status {
	xlog.Debugf("modcrabfs", "unlink: %q", name)
	return fs.transformStatus(translog.Deletion{Target: virtualize(name)})
}

func (fs *Filesystem) Rmdir(name string, context *fuse.Context) fuse.Status {
	xlog.Debugf("modcrabfs", "rmdir: %q", name)
	return fs.transformStatus(translog.Deletion{Target: virtualize(name)})
}

func (fs *Filesystem) Rename(oldName string, newName string, context *fuse.Context) fuse.Status {
	xlog.Debugf("modcrabfs", "rename: %q -> %q", oldName, newName)
	return fs.transformStatus(translog.Relocation{From: virtualize(oldName), To: virtualize(newName)})
}

func (fs *Filesystem) Symlink(value string, linkName string, context *fuse.Context) fuse.Status {
	xlog.Debugf("modcrabfs", "symlink: %q -> %q", linkName, value)

	virt := virtualize(linkName)
	real := filepath.Join(fs.surface, filepath.FromSlash(virt))

	if err := os.Symlink(value, real); err != nil {
		return fuse.ToStatus(err)
	}
	if err := fs.registerIfMissing(virt, real); err != nil {
		return toStatus(err)
	}
	return fuse.OK
}

func (fs *Filesystem) Link(oldName string, newName string, context *fuse.Context) fuse.Status {
	xlog.Debugf("modcrabfs", "link: %q -> %q", oldName, newName)

	var real string
	err := fs.withReadLock(func() error {
		r, rerr := fs.realPath(oldName)
		if rerr != nil {
			return rerr
		}
		real = r
		return nil
	})
	if err != nil {
		return toStatus(err)
	}

	virt := virtualize(newName)
	newReal := filepath.Join(fs.surface, filepath.FromSlash(virt))

	if err := os.Link(real, newReal); err != nil {
		return fuse.ToStatus(err)
	}
	if err := fs.registerIfMissing(virt, newReal); err != nil {
		return toStatus(err)
	}
	return fuse.OK
}

func (fs *Filesystem) Readlink(name string, context *fuse.Context) (string, fuse.Status) {
	xlog.Debugf("modcrabfs", "readlink: %q", name)

	var real string
	err := fs.withReadLock(func() error {
		r, rerr := fs.realPath(name)
		if rerr != nil {
			return rerr
		}
		real = r
		return nil
	})
	if err != nil {
		return "", toStatus(err)
	}

	if fs.isShadowing(real) {
		target, serr := fs.shadowed.Readlink(real)
		if serr != nil {
			return "", toStatus(serr)
		}
		return target, fuse.OK
	}

	target, rerr := os.Readlink(real)
	if rerr != nil {
		return "", fuse.ToStatus(rerr)
	}
	return target, fuse.OK
}

func (fs *Filesystem) Chmod(name string, mode uint32, context *fuse.Context) fuse.Status {
	xlog.Debugf("modcrabfs", "chmod: %q to %#o", name, mode)

	if fs.isDir(virtualize(name)) {
		return fuse.Status(syscall.ENOTSUP)
	}

	real, err := fs.withRealPath(name)
	if err != nil {
		return toStatus(err)
	}
	if fs.isShadowing(real) {
		return toStatus(fs.shadowed.Chmod(real, mode))
	}
	if err := unix.Chmod(real, mode); err != nil {
		return fuse.ToStatus(err)
	}
	return fuse.OK
}

func (fs *Filesystem) Chown(name string, uid uint32, gid uint32, context *fuse.Context) fuse.Status {
	xlog.Debugf("modcrabfs", "chown: %q to %d:%d", name, uid, gid)

	if fs.isDir(virtualize(name)) {
		return fuse.Status(syscall.ENOTSUP)
	}

	real, err := fs.withRealPath(name)
	if err != nil {
		return toStatus(err)
	}
	if fs.isShadowing(real) {
		return toStatus(fs.shadowed.Chown(real, &uid, &gid))
	}
	if err := unix.Chown(real, int(uid), int(gid)); err != nil {
		return fuse.ToStatus(err)
	}
	return fuse.OK
}

func (fs *Filesystem) Truncate(name string, size uint64, context *fuse.Context) fuse.Status {
	xlog.Debugf("modcrabfs", "truncate: %q to %#x", name, size)

	real, err := fs.withRealPath(name)
	if err != nil {
		return toStatus(err)
	}
	if fs.isShadowing(real) {
		return toStatus(fs.shadowed.Truncate(real, int64(size)))
	}
	if err := os.Truncate(real, int64(size)); err != nil {
		return fuse.ToStatus(err)
	}
	return fuse.OK
}

func (fs *Filesystem) Utimens(name string, atime *time.Time, mtime *time.Time, context *fuse.Context) fuse.Status {
	xlog.Debugf("modcrabfs", "utimens: %q atime=%v mtime=%v", name, atime, mtime)

	if fs.isDir(virtualize(name)) {
		return fuse.Status(syscall.ENOTSUP)
	}

	real, err := fs.withRealPath(name)
	if err != nil {
		return toStatus(err)
	}

	a, m := time.Now(), time.Now()
	if atime != nil {
		a = *atime
	}
	if mtime != nil {
		m = *mtime
	}

	if fs.isShadowing(real) {
		return toStatus(fs.shadowed.Utimens(real, a, m))
	}

	if err := os.Chtimes(real, a, m); err != nil {
		return fuse.ToStatus(err)
	}
	return fuse.OK
}

// StatFs reports the statfs of the surface directory's underlying
// filesystem: the overlay itself has no independent notion of free
// space.
func (fs *Filesystem) StatFs(name string) *fuse.StatfsOut {
	var st unix.Statfs_t
	if err := unix.Statfs(fs.surface, &st); err != nil {
		xlog.Errorf("modcrabfs", "statfs(%q): %v", name, err)
		return nil
	}

	return &fuse.StatfsOut{
		Blocks:  st.Blocks,
		Bfree:   st.Bfree,
		Bavail:  st.Bavail,
		Files:   st.Files,
		Ffree:   st.Ffree,
		Bsize:   uint32(st.Bsize),
		NameLen: uint32(st.Namelen),
		Frsize:  uint32(st.Frsize),
	}
}

// registerIfMissing maps a single newly-created real path into the
// tree, if the tree doesn't already have an entry for it (e.g. a
// hardlink target that shares an existing virtual name).
func (fs *Filesystem) registerIfMissing(virt, real string) error {
	return fs.withWriteLock(func() error {
		if fs.tree.Contains(virt) {
			return nil
		}
		parent := filepath.Dir(virt)
		if parent == "." {
			parent = ""
		}
		return fs.tree.MapFile(parent, real)
	})
}

// isDir reports whether a virtual path resolves to a directory,
// taking the reader lock itself so call sites don't need to.
func (fs *Filesystem) isDir(virt string) bool {
	var dir bool
	fs.withReadLock(func() error {
		dir = fs.tree.IsDir(virt)
		return nil
	})
	return dir
}

func (fs *Filesystem) withRealPath(name string) (string, error) {
	var real string
	err := fs.withReadLock(func() error {
		r, rerr := fs.realPath(name)
		if rerr != nil {
			return rerr
		}
		real = r
		return nil
	})
	return real, err
}

func (fs *Filesystem) transformStatus(t translog.Transformation) fuse.Status {
	err := fs.withWriteLock(func() error {
		return fs.cache.Transform(t, fs.tree)
	})
	return toStatus(err)
}

var _ pathfs.FileSystem = (*Filesystem)(nil)
