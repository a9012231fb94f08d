// Package image maintains the in-memory mapping from legacy object id to
// the object's current location(s) in the target working tree.
//
// Projects occupy exactly one path. Files may occupy several: the legacy
// store's share mechanism lets one file live at N paths simultaneously,
// and the image models that as an ordered path list whose first entry is
// the canonical location.
//
// The scheduler simulates tentative orderings against a Clone of the live
// image; the replay engine mutates the live image in lock-step with real
// working-tree operations. The two must never share an instance.
package image

import (
	"sort"
	"strings"
)

// Image maps object id to live working-tree paths.
// All paths are slash-separated and relative to the repository root.
type Image struct {
	paths map[string][]string
}

// New returns an empty image.
func New() *Image {
	return &Image{paths: make(map[string][]string)}
}

// Clone returns a deep copy. The copy shares nothing with the original,
// so simulation mutations can never leak into the live image.
func (m *Image) Clone() *Image {
	c := &Image{paths: make(map[string][]string, len(m.paths))}
	for id, ps := range m.paths {
		cp := make([]string, len(ps))
		copy(cp, ps)
		c.paths[id] = cp
	}
	return c
}

// Len returns the number of tracked objects.
func (m *Image) Len() int {
	return len(m.paths)
}

// Has reports whether the object currently exists anywhere in the tree.
func (m *Image) Has(objectID string) bool {
	_, ok := m.paths[objectID]
	return ok
}

// Paths returns the object's live paths in share order, canonical first.
// The returned slice is a copy.
func (m *Image) Paths(objectID string) []string {
	ps, ok := m.paths[objectID]
	if !ok {
		return nil
	}
	out := make([]string, len(ps))
	copy(out, ps)
	return out
}

// CanonicalPath returns the object's first (canonical) path.
func (m *Image) CanonicalPath(objectID string) (string, bool) {
	ps, ok := m.paths[objectID]
	if !ok || len(ps) == 0 {
		return "", false
	}
	return ps[0], true
}

// Create registers the object's first path. Creating an object that
// already exists appends a share location instead; the replay engine
// warns on that case before calling.
func (m *Image) Create(objectID, path string) {
	m.AddPath(objectID, path)
}

// AddPath appends a live path for the object (a share location for files).
// Duplicate paths are ignored.
func (m *Image) AddPath(objectID, path string) {
	for _, p := range m.paths[objectID] {
		if p == path {
			return
		}
	}
	m.paths[objectID] = append(m.paths[objectID], path)
}

// RemovePath drops one live path. When the last path goes, the object's
// entry is removed entirely. Returns the number of paths remaining.
func (m *Image) RemovePath(objectID, path string) int {
	ps := m.paths[objectID]
	for i, p := range ps {
		if p == path {
			ps = append(ps[:i], ps[i+1:]...)
			break
		}
	}
	if len(ps) == 0 {
		delete(m.paths, objectID)
		return 0
	}
	m.paths[objectID] = ps
	return len(ps)
}

// Remove drops the object and all of its paths.
func (m *Image) Remove(objectID string) {
	delete(m.paths, objectID)
}

// ObjectAt returns the object id occupying the exact path, if any.
// Used by the replay engine to detect re-add and move-onto-existing
// conflicts before touching the working tree.
func (m *Image) ObjectAt(path string) (string, bool) {
	for id, ps := range m.paths {
		for _, p := range ps {
			if p == path {
				return id, true
			}
		}
	}
	return "", false
}

// RewritePrefix rewrites every path equal to old, or nested under old,
// to start with new instead. This is how a project rename or move
// propagates to everything living inside the project, shares included.
// Returns the number of paths rewritten.
func (m *Image) RewritePrefix(old, new string) int {
	oldPrefix := old + "/"
	n := 0
	for id, ps := range m.paths {
		for i, p := range ps {
			switch {
			case p == old:
				ps[i] = new
				n++
			case strings.HasPrefix(p, oldPrefix):
				ps[i] = new + p[len(old):]
				n++
			}
		}
		m.paths[id] = ps
	}
	return n
}

// RemoveSubtree drops every path nested under prefix (and the prefix path
// itself) across all objects. Objects whose last path goes are removed.
// Returns the object ids that lost their final path, sorted for
// deterministic iteration.
func (m *Image) RemoveSubtree(prefix string) []string {
	nested := prefix + "/"
	var gone []string
	for id, ps := range m.paths {
		kept := ps[:0]
		for _, p := range ps {
			if p == prefix || strings.HasPrefix(p, nested) {
				continue
			}
			kept = append(kept, p)
		}
		if len(kept) == 0 {
			delete(m.paths, id)
			gone = append(gone, id)
		} else {
			m.paths[id] = kept
		}
	}
	sort.Strings(gone)
	return gone
}

// ChildCount returns how many distinct objects have a path directly or
// transitively inside the project path. The scheduler's reorder pass uses
// sibling counts to decide which same-second Add must have come first.
func (m *Image) ChildCount(projectPath string) int {
	nested := projectPath + "/"
	n := 0
	for _, ps := range m.paths {
		for _, p := range ps {
			if strings.HasPrefix(p, nested) {
				n++
				break
			}
		}
	}
	return n
}

// Detach removes one path binding from oldID and assigns it to newID,
// preserving the path itself. This is the Branch operation's view: the
// new object takes over one location the old object used to share.
func (m *Image) Detach(oldID, newID, path string) {
	m.RemovePath(oldID, path)
	m.AddPath(newID, path)
}

// Objects returns all tracked object ids, sorted. Used when snapshotting
// the image for deferred label replay.
func (m *Image) Objects() []string {
	ids := make([]string, 0, len(m.paths))
	for id := range m.paths {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot returns a deterministic flat copy of the whole mapping,
// suitable for serialization into the labels table.
func (m *Image) Snapshot() map[string][]string {
	out := make(map[string][]string, len(m.paths))
	for id, ps := range m.paths {
		cp := make([]string, len(ps))
		copy(cp, ps)
		out[id] = cp
	}
	return out
}

// FromSnapshot rebuilds an image from a serialized snapshot.
func FromSnapshot(snap map[string][]string) *Image {
	m := New()
	for id, ps := range snap {
		cp := make([]string, len(ps))
		copy(cp, ps)
		m.paths[id] = cp
	}
	return m
}
