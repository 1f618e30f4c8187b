package modcrabfs

import (
	"errors"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/arcensyl/modcrabfs/internal/ferr"
)

// toStatus maps this module's error taxonomy onto a FUSE status code.
// Errors carrying a wrapped syscall.Errno (from a real syscall
// failure) pass that errno through unchanged; everything else is
// mapped by ferr.Kind.
func toStatus(err error) fuse.Status {
	if err == nil {
		return fuse.OK
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return fuse.Status(errno)
	}
	if status := fuse.ToStatus(err); status != fuse.ENOSYS {
		return status
	}

	switch {
	case ferr.Is(err, ferr.NotFound):
		return fuse.ENOENT
	case ferr.Is(err, ferr.InvalidInput):
		return fuse.EINVAL
	case ferr.Is(err, ferr.NotSupported):
		return fuse.Status(syscall.ENOTSUP)
	case ferr.Is(err, ferr.IOFailed):
		return fuse.EIO
	case ferr.Is(err, ferr.DecodeFailed):
		return fuse.EIO
	case ferr.Is(err, ferr.Exhausted):
		return fuse.Status(syscall.ENOSPC)
	default:
		return fuse.EIO
	}
}
