package vft

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/arcensyl/modcrabfs/internal/ferr"
	"github.com/arcensyl/modcrabfs/internal/vpath"
)

// maxHandleGenerationTries bounds the retry loop in OpenDir. Hitting
// this is a diagnostic-only condition that should never trip under
// realistic load (spec.md §4.2/§9).
const maxHandleGenerationTries = 100

// Tree is a case-insensitive, priority-ordered, mutable overlay of
// directory nodes. It performs no locking of its own: the owner (the
// Filesystem Adapter) is responsible for serializing access with a
// single reader/writer lock, per spec.md §5.
type Tree struct {
	nodes    map[NodeID]*node
	children map[NodeID]map[string]NodeID // parent -> folded label -> child
	nextID   NodeID

	handles map[uint64]NodeID
}

// New builds a tree with a single root node whose real path is
// realRoot. Fails if realRoot is not a directory.
func New(realRoot string) (*Tree, error) {
	info, err := os.Stat(realRoot)
	if err != nil {
		return nil, ferr.New(ferr.IOFailed, "vft.New", realRoot, err)
	}
	if !info.IsDir() {
		return nil, ferr.New(ferr.InvalidInput, "vft.New", realRoot, nil)
	}

	t := &Tree{
		nodes:    make(map[NodeID]*node),
		children: make(map[NodeID]map[string]NodeID),
		nextID:   rootID,
		handles:  make(map[uint64]NodeID),
	}
	t.nodes[rootID] = &node{realPath: realRoot, kind: KindDirectory, isRoot: true}
	t.children[rootID] = make(map[string]NodeID)
	t.nextID++

	return t, nil
}

// FindIndex walks from root, one folded component per step, and
// returns the resolved node ID, or ferr.NotFound on the first missing
// edge.
func (t *Tree) FindIndex(virtual string) (NodeID, error) {
	id := rootID
	for _, step := range vpath.Fold(virtual) {
		next, ok := t.children[id][step]
		if !ok {
			return noNode, ferr.New(ferr.NotFound, "vft.FindIndex", virtual, nil)
		}
		id = next
	}
	return id, nil
}

// Contains is a boolean alias for FindIndex succeeding.
func (t *Tree) Contains(virtual string) bool {
	_, err := t.FindIndex(virtual)
	return err == nil
}

// TranslatePath returns the real path of the node at virtual.
func (t *Tree) TranslatePath(virtual string) (string, error) {
	id, err := t.FindIndex(virtual)
	if err != nil {
		return "", err
	}
	return t.nodes[id].realPath, nil
}

// IsDir reports whether virtual resolves to a directory node. A path
// that doesn't resolve at all is reported as false, not an error.
func (t *Tree) IsDir(virtual string) bool {
	id, err := t.FindIndex(virtual)
	if err != nil {
		return false
	}
	return t.nodes[id].kind == KindDirectory
}

// RealPath returns the real backing path of an already-resolved node
// ID, for callers (the Adapter) that hold an ID from a prior lookup.
func (t *Tree) RealPath(id NodeID) (string, FileKind, bool) {
	n, ok := t.nodes[id]
	if !ok {
		return "", 0, false
	}
	return n.realPath, n.kind, true
}

// updateChild installs or replaces a child of parent: the edge label
// is the folded basename of payload.realPath. If a child already owns
// that label, its node is replaced in place (this is how later
// overlay layers shadow earlier ones, and how a directory's contents
// are atomically swapped from callers' perspective). Otherwise a new
// node and edge are created.
func (t *Tree) updateChild(parent NodeID, payload node) NodeID {
	label := vpath.FoldComponent(filepath.Base(payload.realPath))
	return t.updateChildLabeled(parent, label, payload)
}

// updateChildLabeled is updateChild with the edge label given
// explicitly rather than derived from payload.realPath. MoveFile uses
// this so a rename can change the virtual label without touching the
// payload's real path at all.
func (t *Tree) updateChildLabeled(parent NodeID, label string, payload node) NodeID {
	if existing, ok := t.children[parent][label]; ok {
		t.nodes[existing] = &payload
		return existing
	}

	id := t.nextID
	t.nextID++
	t.nodes[id] = &payload
	t.children[parent][label] = id
	if payload.kind == KindDirectory {
		t.children[id] = make(map[string]NodeID)
	}
	return id
}

// MapDirectory recursively walks realPath and installs every entry
// under attachPoint (root, if attachPoint is nil). Fails if any
// directory read fails.
func (t *Tree) MapDirectory(realPath string, attachPoint *NodeID) error {
	parent := rootID
	if attachPoint != nil {
		parent = *attachPoint
	}
	return t.mapDirectoryInto(realPath, parent)
}

func (t *Tree) mapDirectoryInto(realPath string, parent NodeID) error {
	entries, err := os.ReadDir(realPath)
	if err != nil {
		return ferr.New(ferr.IOFailed, "vft.MapDirectory", realPath, err)
	}

	if _, ok := t.children[parent]; !ok {
		t.children[parent] = make(map[string]NodeID)
	}

	for _, entry := range entries {
		name := entry.Name()
		if name == "." || name == ".." {
			continue
		}
		childReal := filepath.Join(realPath, name)

		kind, err := lstatKind(childReal)
		if err != nil {
			return ferr.New(ferr.IOFailed, "vft.MapDirectory", childReal, err)
		}

		childID := t.updateChild(parent, node{realPath: childReal, kind: kind})

		if kind == KindDirectory {
			if err := t.mapDirectoryInto(childReal, childID); err != nil {
				return err
			}
		}
	}

	return nil
}

// MapLayers maps each of paths into the tree in order, earlier paths
// first, so that a later path's entries shadow an earlier path's
// entries with the same folded name (spec.md §4.2 "last mapped
// wins"). Because shadowing is order-dependent, the directory walks
// themselves cannot run concurrently with each other; what can run
// concurrently is validating that every path is usable before any
// mutation begins, so a bad layer fails fast without partially
// mutating the tree.
func (t *Tree) MapLayers(paths []string) error {
	statErrs := make([]error, len(paths))
	multithread(len(paths), func(i int) {
		info, err := os.Stat(paths[i])
		if err != nil {
			statErrs[i] = ferr.New(ferr.IOFailed, "vft.MapLayers", paths[i], err)
			return
		}
		if !info.IsDir() {
			statErrs[i] = ferr.New(ferr.InvalidInput, "vft.MapLayers", paths[i], nil)
		}
	})
	for _, err := range statErrs {
		if err != nil {
			return err
		}
	}

	for _, p := range paths {
		if err := t.MapDirectory(p, nil); err != nil {
			return err
		}
	}
	return nil
}

// MapFile adds a single child under the node at virtualParent, of
// whatever kind a no-follow stat of realPath reports. When realPath is
// a directory, its contents are not walked.
func (t *Tree) MapFile(virtualParent, realPath string) error {
	parent, err := t.FindIndex(virtualParent)
	if err != nil {
		return ferr.New(ferr.NotFound, "vft.MapFile", virtualParent, nil)
	}

	kind, err := lstatKind(realPath)
	if err != nil {
		return ferr.New(ferr.IOFailed, "vft.MapFile", realPath, err)
	}

	t.updateChild(parent, node{realPath: realPath, kind: kind})
	return nil
}

// AddNode creates a purely virtual (no real backing) directory node
// at virtual, reserving an attachment point for a secondary overlay.
func (t *Tree) AddNode(virtual string) (NodeID, error) {
	parentVirtual, ok := vpath.Parent(virtual)
	if !ok {
		return noNode, ferr.New(ferr.InvalidInput, "vft.AddNode", virtual, nil)
	}

	parent, err := t.FindIndex(parentVirtual)
	if err != nil {
		return noNode, ferr.New(ferr.NotFound, "vft.AddNode", virtual, nil)
	}

	fakeReal := filepath.Join(virtualSentinel, virtual)
	id := t.updateChild(parent, node{realPath: fakeReal, kind: KindDirectory})
	return id, nil
}

// RemoveFile removes the node at virtual and prunes any orphans left
// behind (e.g. the whole subtree under an interior directory). It
// does not touch the real file; it only hides it from the tree.
func (t *Tree) RemoveFile(virtual string) (*node, error) {
	id, err := t.FindIndex(virtual)
	if err != nil {
		return nil, ferr.New(ferr.NotFound, "vft.RemoveFile", virtual, nil)
	}
	if id == rootID {
		return nil, ferr.New(ferr.InvalidInput, "vft.RemoveFile", virtual, nil)
	}

	data := t.nodes[id]
	t.detach(virtual)
	t.clearOrphans()

	return data, nil
}

// detach removes the edge pointing at virtual, without pruning.
func (t *Tree) detach(virtual string) {
	parentVirtual, _ := vpath.Parent(virtual)
	parent, err := t.FindIndex(parentVirtual)
	if err != nil {
		return
	}
	label := vpath.FoldComponent(vpath.Base(virtual))
	delete(t.children[parent], label)
}

// MoveFile relocates the node at oldPath to newPath, reusing newPath's
// final component (folded) as the new edge label. The moved node's
// payload, including its real path, is carried over unmodified: a
// rename only changes where the node sits in the virtual tree, never
// what real file it points at. Does not move the physical file.
func (t *Tree) MoveFile(oldPath, newPath string) error {
	data, err := t.RemoveFile(oldPath)
	if err != nil {
		return err
	}

	newParentVirtual, ok := vpath.Parent(newPath)
	if !ok {
		return ferr.New(ferr.NotFound, "vft.MoveFile", newPath, nil)
	}
	newParent, err := t.FindIndex(newParentVirtual)
	if err != nil {
		return ferr.New(ferr.NotFound, "vft.MoveFile", newPath, nil)
	}

	label := vpath.FoldComponent(vpath.Base(newPath))
	t.updateChildLabeled(newParent, label, *data)
	return nil
}

// OpenDir returns a 64-bit handle for the directory at virtual. The
// handle is drawn from a random source (via uuid.New, itself backed
// by crypto/rand) and retried on collision up to
// maxHandleGenerationTries times.
func (t *Tree) OpenDir(virtual string) (uint64, error) {
	id, err := t.FindIndex(virtual)
	if err != nil {
		return 0, ferr.New(ferr.NotFound, "vft.OpenDir", virtual, nil)
	}

	for tries := 0; tries < maxHandleGenerationTries; tries++ {
		u := uuid.New()
		handle := binary.BigEndian.Uint64(u[:8])
		if _, taken := t.handles[handle]; taken {
			continue
		}
		t.handles[handle] = id
		return handle, nil
	}

	panic(ferr.New(ferr.Exhausted, "vft.OpenDir", virtual,
		nil).Error())
}

// ViewDir lists every outgoing edge of the node behind handle. The
// emitted name is the child's real basename (preserving on-disk
// case), not the folded edge label.
func (t *Tree) ViewDir(handle uint64) ([]Entry, error) {
	id, ok := t.handles[handle]
	if !ok {
		return nil, ferr.New(ferr.NotFound, "vft.ViewDir", "", nil)
	}

	children := t.children[id]
	entries := make([]Entry, 0, len(children))
	for _, childID := range children {
		child := t.nodes[childID]
		base := filepath.Base(child.realPath)
		entries = append(entries, Entry{Name: base, Kind: child.kind})
	}
	return entries, nil
}

// CloseDir discards a handle. Silently succeeds if the handle is
// unknown.
func (t *Tree) CloseDir(handle uint64) {
	delete(t.handles, handle)
}

// IsDirOpen reports whether handle belongs to a currently-open VFT
// directory (as opposed to being a kernel file descriptor).
func (t *Tree) IsDirOpen(handle uint64) bool {
	_, ok := t.handles[handle]
	return ok
}

// Stat returns fabricated attributes for a directory node, or issues
// a no-follow lstat on the real path for anything else.
func (t *Tree) Stat(virtual string) (Attr, error) {
	id, err := t.FindIndex(virtual)
	if err != nil {
		return Attr{}, ferr.New(ferr.NotFound, "vft.Stat", virtual, nil)
	}

	n := t.nodes[id]
	if n.kind == KindDirectory {
		return fabricatedDirAttr(), nil
	}

	attr, err := lstatAttr(n.realPath)
	if err != nil {
		return Attr{}, ferr.New(ferr.IOFailed, "vft.Stat", n.realPath, err)
	}
	return attr, nil
}

// FstatHandle returns fabricated directory attributes if fd is a
// known VFT directory handle; otherwise it treats fd as a kernel file
// descriptor and issues a real fstat.
func (t *Tree) FstatHandle(fd uint64) (Attr, error) {
	if t.IsDirOpen(fd) {
		return fabricatedDirAttr(), nil
	}
	attr, err := fstatAttr(int(fd))
	if err != nil {
		return Attr{}, ferr.New(ferr.IOFailed, "vft.FstatHandle", "", err)
	}
	return attr, nil
}

func fabricatedDirAttr() Attr {
	now := time.Now()
	return Attr{
		Kind:  KindDirectory,
		Size:  0,
		Perm:  0o755,
		Nlink: 2,
		Uid:   uint32(os.Getuid()),
		Gid:   uint32(os.Getgid()),
		Atime: now,
		Mtime: now,
		Ctime: now,
	}
}

// clearOrphans drops every node unreachable from root, i.e. garbage
// collects whatever RemoveFile's detach left dangling (spec.md §4.2).
func (t *Tree) clearOrphans() {
	reachable := make(map[NodeID]bool, len(t.nodes))
	var walk func(NodeID)
	walk = func(id NodeID) {
		if reachable[id] {
			return
		}
		reachable[id] = true
		for _, child := range t.children[id] {
			walk(child)
		}
	}
	walk(rootID)

	for id := range t.nodes {
		if !reachable[id] {
			delete(t.nodes, id)
			delete(t.children, id)
		}
	}

	for handle, id := range t.handles {
		if !reachable[id] {
			delete(t.handles, handle)
		}
	}
}
