package group

import "github.com/google/vsched/vserr"

// AdmitGroupMove moves an existing group (or VSMP leaf) from its current
// parent to newParent: n's min must fit within newParent's unreserved min,
// exactly as CreateGroup checks a brand-new node. This is the Go form of
// the original source's CpuSched_AdmitGroup, which only checked
// admissibility and left the actual relinking to its caller.
func (t *Tree) AdmitGroupMove(n, newParent *Node) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.byID[n.ID] != n || t.byID[newParent.ID] != newParent {
		return vserr.New(vserr.NotFound, "group or new parent not registered")
	}
	if n.Parent == newParent {
		return nil
	}
	if n == newParent || isAncestor(n, newParent) {
		return vserr.New(vserr.BadParam, "cannot reparent a group under its own subtree")
	}
	if n.Alloc.Min > unreservedMin(newParent) {
		return vserr.New(vserr.AdmissionDenied,
			"group %q min %d exceeds prospective parent %q unreserved min %d", n.Name, n.Alloc.Min, newParent.Name, unreservedMin(newParent))
	}
	if n.Parent != nil {
		n.Parent.Members = removeMember(n.Parent.Members, n)
	}
	n.Parent = newParent
	newParent.Members = append(newParent.Members, n)
	t.dirty = true
	return nil
}

// isAncestor reports whether candidate is found in n's subtree, walking
// down from n (n is known small enough in practice -- a handful of levels
// of group nesting -- that a plain recursive walk is preferable to
// maintaining a parent-depth index).
func isAncestor(n, candidate *Node) bool {
	for _, m := range n.Members {
		if m == candidate || isAncestor(m, candidate) {
			return true
		}
	}
	return false
}
