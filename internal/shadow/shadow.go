//go:build linux || darwin

// Package shadow implements the Shadow Channel: a way to reach the
// real directory a mount point shadows, by holding an *at-relative
// file descriptor opened before the mount happens. See spec.md §4.4.
//
// Grounded on _examples/original_source/modcrabfs/src/shadow.rs.
package shadow

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/arcensyl/modcrabfs/internal/ferr"
	"github.com/arcensyl/modcrabfs/internal/vft"
)

// Channel is an interface to a directory after something else has
// been mounted over it, by holding a directory file descriptor opened
// against it before the mount took place and resolving every
// subsequent request with the *at family of syscalls relative to that
// descriptor.
type Channel struct {
	path string

	closeOnce sync.Once
	fd        int
}

// Open opens path as a Channel. This must run before path is mounted
// over; it is the only opportunity to obtain a descriptor that
// resolves into the real, unshadowed directory.
func Open(path string) (*Channel, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, ferr.New(ferr.InvalidInput, "shadow.Open", path, err)
	}

	fd, err := unix.Open(abs, unix.O_DIRECTORY|unix.O_RDONLY, 0)
	if err != nil {
		return nil, ferr.New(ferr.IOFailed, "shadow.Open", abs, err)
	}

	return &Channel{path: abs, fd: fd}, nil
}

// Path returns the directory path this channel shadows.
func (c *Channel) Path() string {
	return c.path
}

// IsShadowing reports whether realPath lies within the directory this
// channel holds open.
func (c *Channel) IsShadowing(realPath string) bool {
	return realPath == c.path ||
		strings.HasPrefix(realPath, strings.TrimSuffix(c.path, "/")+"/")
}

// relate turns an absolute path under c.path into one relative to it,
// suitable for the *at-family calls below.
func (c *Channel) relate(path string) (string, error) {
	rel, err := filepath.Rel(c.path, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", ferr.New(ferr.InvalidInput, "shadow.relate", path, nil)
	}
	return rel, nil
}

// Stat retrieves a shadowed file's attributes without following a
// final symlink component.
func (c *Channel) Stat(path string) (vft.Attr, error) {
	rel, err := c.relate(path)
	if err != nil {
		return vft.Attr{}, err
	}

	var st unix.Stat_t
	if err := unix.Fstatat(c.fd, rel, &st, unix.AT_SYMLINK_NOFOLLOW); err != nil {
		return vft.Attr{}, ferr.New(ferr.IOFailed, "shadow.Stat", path, err)
	}
	return vft.StatToAttr(st), nil
}

// Open opens a shadowed file and returns its new kernel file
// descriptor.
func (c *Channel) Open(path string, flags int) (int, error) {
	rel, err := c.relate(path)
	if err != nil {
		return -1, err
	}

	fd, err := unix.Openat(c.fd, rel, flags|unix.O_NOFOLLOW, 0o751)
	if err != nil {
		return -1, ferr.New(ferr.IOFailed, "shadow.Open", path, err)
	}
	return fd, nil
}

// Readlink reads a shadowed symbolic link's target.
func (c *Channel) Readlink(path string) (string, error) {
	rel, err := c.relate(path)
	if err != nil {
		return "", err
	}

	buf := make([]byte, 4096)
	n, err := unix.Readlinkat(c.fd, rel, buf)
	if err != nil {
		return "", ferr.New(ferr.IOFailed, "shadow.Readlink", path, err)
	}
	return string(buf[:n]), nil
}

// Chmod changes a shadowed file's permissions, without following a
// final symlink component.
func (c *Channel) Chmod(path string, mode uint32) error {
	rel, err := c.relate(path)
	if err != nil {
		return err
	}

	err = unix.Fchmodat(c.fd, rel, mode, unix.AT_SYMLINK_NOFOLLOW)
	if err == unix.EOPNOTSUPP {
		// Linux fchmodat rejects the no-follow flag; chmod without it
		// once the final component is known not to be a symlink.
		var st unix.Stat_t
		if err = unix.Fstatat(c.fd, rel, &st, unix.AT_SYMLINK_NOFOLLOW); err == nil {
			if st.Mode&unix.S_IFMT == unix.S_IFLNK {
				err = unix.EOPNOTSUPP
			} else {
				err = unix.Fchmodat(c.fd, rel, mode, 0)
			}
		}
	}
	if err != nil {
		return ferr.New(ferr.IOFailed, "shadow.Chmod", path, err)
	}
	return nil
}

// Chown changes a shadowed file's owner and/or group. A nil uid or
// gid leaves that field unchanged, matching fchownat's -1 sentinel.
func (c *Channel) Chown(path string, uid, gid *uint32) error {
	rel, err := c.relate(path)
	if err != nil {
		return err
	}

	uidVal, gidVal := -1, -1
	if uid != nil {
		uidVal = int(*uid)
	}
	if gid != nil {
		gidVal = int(*gid)
	}

	if err := unix.Fchownat(c.fd, rel, uidVal, gidVal, unix.AT_SYMLINK_NOFOLLOW); err != nil {
		return ferr.New(ferr.IOFailed, "shadow.Chown", path, err)
	}
	return nil
}

// Utimens changes a shadowed file's access and modification times,
// without following a final symlink component.
func (c *Channel) Utimens(path string, atime, mtime time.Time) error {
	rel, err := c.relate(path)
	if err != nil {
		return err
	}

	times := []unix.Timespec{
		unix.NsecToTimespec(atime.UnixNano()),
		unix.NsecToTimespec(mtime.UnixNano()),
	}
	if err := unix.UtimesNanoAt(c.fd, rel, times, unix.AT_SYMLINK_NOFOLLOW); err != nil {
		return ferr.New(ferr.IOFailed, "shadow.Utimens", path, err)
	}
	return nil
}

// Truncate truncates a shadowed file to size.
func (c *Channel) Truncate(path string, size int64) error {
	rel, err := c.relate(path)
	if err != nil {
		return err
	}

	fd, err := unix.Openat(c.fd, rel, unix.O_WRONLY|unix.O_NOFOLLOW, 0)
	if err != nil {
		return ferr.New(ferr.IOFailed, "shadow.Truncate", path, err)
	}
	defer unix.Close(fd)

	if err := unix.Ftruncate(fd, size); err != nil {
		return ferr.New(ferr.IOFailed, "shadow.Truncate", path, err)
	}
	return nil
}

// Close releases the channel's directory file descriptor. Safe to
// call more than once.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = unix.Close(c.fd)
	})
	return err
}
