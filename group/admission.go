package group

import (
	"github.com/google/vsched/vserr"
	"github.com/google/vsched/vtime"
)

// CreateGroup adds a new interior node named name under parent, with the
// given Alloc, admission-checked against parent exactly as SetAlloc checks
// an existing node: BadParam on internally-inconsistent alloc, AdmissionDenied
// when it would overcommit parent's reservation pool.
func (t *Tree) CreateGroup(parent *Node, name string, alloc Alloc) (*Node, error) {
	if !alloc.Valid() {
		return nil, vserr.New(vserr.BadParam, "invalid alloc for group %q: %+v", name, alloc)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if parent == nil || t.byID[parent.ID] != parent {
		return nil, vserr.New(vserr.NotFound, "parent group not registered")
	}
	if alloc.Min > unreservedMin(parent) {
		return nil, vserr.New(vserr.AdmissionDenied,
			"group %q min %d exceeds parent %q unreserved min %d", name, alloc.Min, parent.Name, unreservedMin(parent))
	}
	n := &Node{ID: NewID(), Name: name, Parent: parent, Alloc: alloc}
	n.base.setShares(alloc.Shares)
	n.base.stride = vtime.Stride(alloc.Shares)
	parent.Members = append(parent.Members, n)
	t.byID[n.ID] = n
	t.dirty = true
	return n, nil
}

// RemoveGroup deletes an empty interior node. Returns Busy if it still has
// members.
func (t *Tree) RemoveGroup(n *Node) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.byID[n.ID] != n {
		return vserr.New(vserr.NotFound, "group not registered")
	}
	if len(n.Members) > 0 {
		return vserr.New(vserr.Busy, "group %q still has %d members", n.Name, len(n.Members))
	}
	if n.Parent != nil {
		n.Parent.Members = removeMember(n.Parent.Members, n)
	}
	delete(t.byID, n.ID)
	t.dirty = true
	return nil
}

func removeMember(members []*Node, target *Node) []*Node {
	out := members[:0]
	for _, m := range members {
		if m != target {
			out = append(out, m)
		}
	}
	return out
}

// SetAlloc validates and applies a new Alloc to an existing group node.
// Fails with BadParam when min>max or shares are out of range; fails with
// AdmissionDenied when the new min exceeds the parent's unreserved min or
// falls below the sum of n's descendants' reserved mins.
func (t *Tree) SetAlloc(n *Node, alloc Alloc) error {
	if !alloc.Valid() {
		return vserr.New(vserr.BadParam, "invalid alloc: %+v", alloc)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.byID[n.ID] != n {
		return vserr.New(vserr.NotFound, "group not registered")
	}
	if n.Parent != nil {
		// The parent's unreserved min must cover this node's new min, after
		// excluding this node's own current reservation from the parent's
		// pool (it's being replaced, not added on top of itself).
		avail := unreservedMin(n.Parent) + n.Alloc.Min
		if alloc.Min > avail {
			return vserr.New(vserr.AdmissionDenied,
				"group %q new min %d exceeds parent %q available min %d", n.Name, alloc.Min, n.Parent.Name, avail)
		}
	}
	if alloc.Min < reservedMin(n) {
		return vserr.New(vserr.AdmissionDenied,
			"group %q new min %d is below descendants' reserved min %d", n.Name, alloc.Min, reservedMin(n))
	}
	n.Alloc = alloc
	t.dirty = true
	return nil
}

// VsmpSetAlloc validates and applies alloc to a leaf (VSMP) node enclosed by
// n.Parent, applying the same admission constraints as SetAlloc against the
// enclosing group's reservation pool, and canonicalizing a "one package per
// vCPU" Max request to MaxNone.
func (t *Tree) VsmpSetAlloc(n *Node, alloc Alloc, nvcpus int) error {
	if nvcpus <= 0 {
		return vserr.New(vserr.BadParam, "nvcpus must be positive, got %d", nvcpus)
	}
	alloc = canonicalizeMax(alloc, 100*int64(nvcpus))
	if !alloc.Valid() {
		return vserr.New(vserr.BadParam, "invalid vsmp alloc: %+v", alloc)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.byID[n.ID] != n {
		return vserr.New(vserr.NotFound, "vsmp not registered")
	}
	if n.Parent != nil {
		avail := unreservedMin(n.Parent) + n.Alloc.Min
		if alloc.Min > avail {
			return vserr.New(vserr.AdmissionDenied,
				"vsmp %q new min %d exceeds group %q available min %d", n.Name, alloc.Min, n.Parent.Name, avail)
		}
	}
	n.Alloc = alloc
	n.NVCPUs = nvcpus
	t.dirty = true
	return nil
}

// RequestReallocate sets the tree's dirty flag; idempotent.
func (t *Tree) RequestReallocate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dirty = true
}

// IsDirty reports whether a reallocate is pending.
func (t *Tree) IsDirty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dirty
}
