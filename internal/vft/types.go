// Package vft implements the Virtual File Tree: a directed graph of
// case-insensitively addressed nodes representing a merged view over
// one or more real directories, plus purely virtual attachment-point
// directories. See spec.md §4.2.
//
// Grounded on _examples/original_source/modcrabfs/src/tree.rs.
package vft

import (
	"time"
)

// NodeID is a stable, never-reused node identifier. IDs are handed
// out by a monotonic counter rather than derived from pointers, so
// that callers outside this package can hold an ID across mutations
// without aliasing internal graph state (spec.md §9's "hand out node
// identifiers only" design note).
type NodeID uint64

// noNode is never a valid, reachable node ID.
const noNode NodeID = 0

// rootID is the fixed identifier of the tree's root node.
const rootID NodeID = 1

// FileKind mirrors the handful of Unix file types the VFT needs to
// distinguish, independent of any particular FUSE binding's own type.
type FileKind int

const (
	KindDirectory FileKind = iota
	KindRegular
	KindSymlink
	KindBlockDevice
	KindCharDevice
	KindNamedPipe
	KindSocket
)

func (k FileKind) String() string {
	switch k {
	case KindDirectory:
		return "directory"
	case KindRegular:
		return "regular"
	case KindSymlink:
		return "symlink"
	case KindBlockDevice:
		return "block-device"
	case KindCharDevice:
		return "char-device"
	case KindNamedPipe:
		return "named-pipe"
	case KindSocket:
		return "socket"
	default:
		return "unknown"
	}
}

// virtualSentinel prefixes the fabricated "real path" of purely
// virtual nodes (those created by AddNode to reserve an attach
// point), so that a node's RealPath always has a basename to derive
// an edge label from, even without real backing.
const virtualSentinel = "<virtual>"

// node is one vertex of the tree: its real backing path (or a
// virtual-sentinel path for attach points), its kind, and whether
// it's the tree's unique root.
type node struct {
	realPath string
	kind     FileKind
	isRoot   bool
}

// Entry describes one child of a directory as returned by ViewDir:
// the real (case-preserved) basename and its kind.
type Entry struct {
	Name string
	Kind FileKind
}

// Attr is a fabricated or real attribute set, independent of any FUSE
// binding's own attribute struct.
type Attr struct {
	Kind  FileKind
	Size  uint64
	Perm  uint32 // permission bits, e.g. 0o755
	Nlink uint32
	Uid   uint32
	Gid   uint32
	Atime time.Time
	Mtime time.Time
	Ctime time.Time
	Rdev  uint32
}
