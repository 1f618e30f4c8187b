package modcrabfs

import (
	"io"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/hanwen/go-fuse/v2/fuse/nodefs"
	"github.com/hanwen/go-fuse/v2/fuse/pathfs"

	"github.com/arcensyl/modcrabfs/internal/xlog"
)

// mountOptions builds the nodefs options shared by Mount and
// SpawnMount.
func mountOptions() *nodefs.Options {
	return &nodefs.Options{
		AttrTimeout:  attrTTL,
		EntryTimeout: attrTTL,
	}
}

func (fs *Filesystem) mountSurface() error {
	return fs.withWriteLock(func() error {
		return fs.tree.MapDirectory(fs.surface, nil)
	})
}

// Mount mounts this filesystem at its shadow channel's path and
// blocks until it is unmounted.
func (fs *Filesystem) Mount() error {
	if err := fs.mountSurface(); err != nil {
		return err
	}

	nfs := pathfs.NewPathNodeFs(fs, nil)
	server, _, err := nodefs.MountRoot(fs.shadowed.Path(), nfs.Root(), mountOptions())
	if err != nil {
		return err
	}

	xlog.Infof("modcrabfs", "mounted at %s", fs.shadowed.Path())
	server.Serve()
	return nil
}

// mountCloser adapts a fuse.Server's Unmount method to io.Closer.
type mountCloser struct {
	server *fuse.Server
}

func (m mountCloser) Close() error {
	return m.server.Unmount()
}

// SpawnMount mounts this filesystem on a background goroutine and
// returns a handle that unmounts it on Close.
func (fs *Filesystem) SpawnMount() (io.Closer, error) {
	if err := fs.mountSurface(); err != nil {
		return nil, err
	}

	nfs := pathfs.NewPathNodeFs(fs, nil)
	server, _, err := nodefs.MountRoot(fs.shadowed.Path(), nfs.Root(), mountOptions())
	if err != nil {
		return nil, err
	}

	xlog.Infof("modcrabfs", "mounted at %s (background)", fs.shadowed.Path())
	go server.Serve()

	return mountCloser{server: server}, nil
}
