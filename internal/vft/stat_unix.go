//go:build linux || darwin

package vft

import (
	"os"

	"golang.org/x/sys/unix"
)

// lstatKind issues a no-follow stat and classifies the result,
// matching tree.rs's query_file_type (lstat + mode_to_filetype).
func lstatKind(path string) (FileKind, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return 0, &os.PathError{Op: "lstat", Path: path, Err: err}
	}
	return modeToKind(st.Mode), nil
}

func modeToKind(mode uint32) FileKind {
	switch mode & unix.S_IFMT {
	case unix.S_IFDIR:
		return KindDirectory
	case unix.S_IFREG:
		return KindRegular
	case unix.S_IFLNK:
		return KindSymlink
	case unix.S_IFBLK:
		return KindBlockDevice
	case unix.S_IFCHR:
		return KindCharDevice
	case unix.S_IFIFO:
		return KindNamedPipe
	case unix.S_IFSOCK:
		return KindSocket
	default:
		return KindRegular
	}
}

// lstatAttr issues a no-follow stat and converts it to an Attr,
// matching tree.rs's use of libc_wrappers::lstat + stat_to_fuse for
// non-directory nodes.
func lstatAttr(path string) (Attr, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return Attr{}, &os.PathError{Op: "lstat", Path: path, Err: err}
	}
	return statToAttr(st), nil
}

// fstatAttr stats an already-open kernel file descriptor, for the
// fstat(handle) path when the handle isn't a known VFT directory
// handle (spec.md §4.2 fstat).
func fstatAttr(fd int) (Attr, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return Attr{}, err
	}
	return statToAttr(st), nil
}

// StatToAttr converts a raw unix.Stat_t into an Attr, for callers
// outside this package (the Shadow Channel) that obtain a Stat_t of
// their own via the *at-family syscalls.
func StatToAttr(st unix.Stat_t) Attr {
	return statToAttr(st)
}

func statToAttr(st unix.Stat_t) Attr {
	return Attr{
		Kind:  modeToKind(st.Mode),
		Size:  uint64(st.Size),
		Perm:  st.Mode & 0o7777,
		Nlink: uint32(st.Nlink),
		Uid:   st.Uid,
		Gid:   st.Gid,
		Atime: timespecToTime(st.Atim),
		Mtime: timespecToTime(st.Mtim),
		Ctime: timespecToTime(st.Ctim),
		Rdev:  uint32(st.Rdev),
	}
}
