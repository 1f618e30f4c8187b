package modcrabfs

import (
	"os"
	"sync"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/hanwen/go-fuse/v2/fuse/nodefs"
	"golang.org/x/sys/unix"

	"github.com/arcensyl/modcrabfs/internal/xlog"
)

// realFile is a nodefs.File backed by an ordinary open *os.File.
// Release is the only method that closes the wrapped descriptor.
// nodefs.File.Release has no return value, so a close failure cannot
// reach the kernel; Release logs it at Error level instead of
// discarding it.
type realFile struct {
	nodefs.File

	mu sync.Mutex
	f  *os.File
}

func newRealFile(f *os.File) nodefs.File {
	return &realFile{File: nodefs.NewDefaultFile(), f: f}
}

func (r *realFile) String() string {
	return "realFile(" + r.f.Name() + ")"
}

func (r *realFile) InnerFile() nodefs.File {
	return nil
}

func (r *realFile) Read(dest []byte, off int64) (fuse.ReadResult, fuse.Status) {
	n, err := r.f.ReadAt(dest, off)
	if err != nil && n == 0 {
		return nil, fuse.ToStatus(err)
	}
	return fuse.ReadResultData(dest[:n]), fuse.OK
}

func (r *realFile) Write(data []byte, off int64) (uint32, fuse.Status) {
	n, err := r.f.WriteAt(data, off)
	if err != nil {
		xlog.Errorf("modcrabfs", "write %q @ %#x: %v", r.f.Name(), off, err)
		return uint32(n), fuse.ToStatus(err)
	}
	return uint32(n), fuse.OK
}

func (r *realFile) Flush() fuse.Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	fd, err := unix.Dup(int(r.f.Fd()))
	if err != nil {
		return fuse.ToStatus(err)
	}
	return fuse.ToStatus(unix.Close(fd))
}

func (r *realFile) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.f.Close(); err != nil {
		xlog.Errorf("modcrabfs", "release %q: %v", r.f.Name(), err)
	}
}

func (r *realFile) Fsync(flags int) fuse.Status {
	if flags != 0 {
		return fuse.ToStatus(unix.Fdatasync(int(r.f.Fd())))
	}
	return fuse.ToStatus(r.f.Sync())
}

func (r *realFile) Truncate(size uint64) fuse.Status {
	return fuse.ToStatus(r.f.Truncate(int64(size)))
}

func (r *realFile) GetAttr(out *fuse.Attr) fuse.Status {
	var st unix.Stat_t
	if err := unix.Fstat(int(r.f.Fd()), &st); err != nil {
		return fuse.ToStatus(err)
	}

	out.Size = uint64(st.Size)
	out.Mode = st.Mode
	out.Nlink = uint32(st.Nlink)
	out.Owner.Uid = st.Uid
	out.Owner.Gid = st.Gid
	out.Rdev = uint32(st.Rdev)
	out.Atime = uint64(st.Atim.Sec)
	out.Mtime = uint64(st.Mtim.Sec)
	out.Ctime = uint64(st.Ctim.Sec)
	out.Atimensec = uint32(st.Atim.Nsec)
	out.Mtimensec = uint32(st.Mtim.Nsec)
	out.Ctimensec = uint32(st.Ctim.Nsec)
	return fuse.OK
}

func (r *realFile) Chmod(mode uint32) fuse.Status {
	return fuse.ToStatus(unix.Fchmod(int(r.f.Fd()), mode))
}

func (r *realFile) Chown(uid uint32, gid uint32) fuse.Status {
	return fuse.ToStatus(unix.Fchown(int(r.f.Fd()), int(uid), int(gid)))
}

func (r *realFile) Utimens(atime *time.Time, mtime *time.Time) fuse.Status {
	a, m := time.Now(), time.Now()
	if atime != nil {
		a = *atime
	}
	if mtime != nil {
		m = *mtime
	}
	times := [2]unix.Timespec{
		unix.NsecToTimespec(a.UnixNano()),
		unix.NsecToTimespec(m.UnixNano()),
	}
	return fuse.ToStatus(unix.Futimens(int(r.f.Fd()), &times))
}
