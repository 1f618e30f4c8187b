package translog

import (
	"sync"

	"github.com/arcensyl/modcrabfs/internal/vft"
)

// Cache owns a transformation log's on-disk path and the in-memory
// list that backs it. All mutation goes through Transform, which
// applies, appends, and persists as one step (spec.md §4.3's
// "transformation is durable before it is acknowledged" invariant).
type Cache struct {
	path string

	mu   sync.Mutex
	list []Transformation
}

// Open loads whatever transformations exist at path (or none, if the
// file is absent or unreadable) and self-heals them against tree:
// invalid entries (already-applied, or made stale by some other
// change) are silently dropped, and the filtered list is the one
// that's kept and re-persisted. This matches spec.md §4.3's
// prune-then-apply-then-persist startup sequence.
func Open(path string, tree *vft.Tree) (*Cache, error) {
	raw := ReadCache(path)

	valid := make([]Transformation, 0, len(raw))
	for _, t := range raw {
		if !t.Valid(tree) {
			continue
		}
		if err := Apply(t, tree); err != nil {
			// A transformation that passed validation but failed to
			// apply indicates a deeper inconsistency than a stale
			// cache entry can explain; surface it instead of
			// silently losing state.
			return nil, err
		}
		valid = append(valid, t)
	}

	c := &Cache{path: path, list: valid}
	if len(valid) != len(raw) {
		if err := WriteCache(path, valid); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Transform applies t to tree, then appends it to the log and
// persists the whole list. Both tree and the cache are expected to be
// under the caller's writer lock already; Transform's own mutex only
// protects concurrent cache writers against each other, not against a
// racing tree mutation.
func (c *Cache) Transform(t Transformation, tree *vft.Tree) error {
	if err := Apply(t, tree); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.list = append(c.list, t)
	return WriteCache(c.path, c.list)
}

// List returns a copy of the currently-persisted transformation list.
func (c *Cache) List() []Transformation {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Transformation, len(c.list))
	copy(out, c.list)
	return out
}
