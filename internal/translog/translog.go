// Package translog implements the Transformation Log: an ordered,
// append-only record of deletions and relocations applied to a
// vft.Tree, persisted as a single cache file so that they survive
// across mounts. See spec.md §4.3.
//
// Grounded on _examples/original_source/modcrabfs/src/persistence.rs.
package translog

import (
	"github.com/arcensyl/modcrabfs/internal/ferr"
	"github.com/arcensyl/modcrabfs/internal/vft"
)

// Transformation is a repeatable instruction for manipulating a
// vft.Tree: either a Deletion or a Relocation.
type Transformation interface {
	// Apply performs the transformation against tree.
	Apply(tree *vft.Tree) error

	// Valid reports whether the transformation can still be applied,
	// assuming it has not already been applied.
	Valid(tree *vft.Tree) bool
}

// Deletion hides target from the tree without touching the real
// file.
type Deletion struct {
	Target string
}

func (d Deletion) Apply(tree *vft.Tree) error {
	_, err := tree.RemoveFile(d.Target)
	return err
}

func (d Deletion) Valid(tree *vft.Tree) bool {
	return tree.Contains(d.Target)
}

// Relocation moves a node from From to To within the tree, without
// touching the real file.
type Relocation struct {
	From string
	To   string
}

func (r Relocation) Apply(tree *vft.Tree) error {
	return tree.MoveFile(r.From, r.To)
}

func (r Relocation) Valid(tree *vft.Tree) bool {
	return tree.Contains(r.From) && !tree.Contains(r.To)
}

// Apply runs t against tree, wrapping any failure as a ferr.IOFailed.
func Apply(t Transformation, tree *vft.Tree) error {
	if err := t.Apply(tree); err != nil {
		return ferr.New(ferr.IOFailed, "translog.Apply", "", err)
	}
	return nil
}
