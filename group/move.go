package group

import "github.com/google/vsched/vserr"

// MoveVMAllocToGroup atomically shifts amount of vsmp's min reservation into
// group's min reservation, the Go form of spec.md §6 Control's
// move_vm_alloc_to_group. vsmp and group must be siblings (same parent) --
// the move must not change the parent's total reserved min, only how it's
// attributed between the two nodes, so no parent-level admission recheck is
// needed beyond each side's own bookkeeping.
func (t *Tree) MoveVMAllocToGroup(vsmp, group *Node, amount int64) error {
	return t.moveMin(vsmp, group, amount)
}

// MoveGroupAllocToVM is the inverse of MoveVMAllocToGroup: shifts amount of
// group's min reservation into vsmp's min reservation.
func (t *Tree) MoveGroupAllocToVM(group, vsmp *Node, amount int64) error {
	return t.moveMin(group, vsmp, amount)
}

// moveMin is the shared admission-checked move: from must have enough
// unclaimed min of its own to give up (its current Min less whatever its own
// descendants already reserve), and to must still have room to receive it
// under its parent's pool once the donor's contribution is excluded.
func (t *Tree) moveMin(from, to *Node, amount int64) error {
	if amount <= 0 {
		return vserr.New(vserr.BadParam, "move amount must be positive, got %d", amount)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.byID[from.ID] != from || t.byID[to.ID] != to {
		return vserr.New(vserr.NotFound, "source or destination node not registered")
	}
	if from.Parent != to.Parent {
		return vserr.New(vserr.BadParam, "move requires source and destination to share a parent")
	}
	if amount > from.Alloc.Min-reservedMin(from) {
		return vserr.New(vserr.AdmissionDenied,
			"node %q cannot give up %d of min: only %d unclaimed by its own descendants",
			from.Name, amount, from.Alloc.Min-reservedMin(from))
	}
	if to.Alloc.HasMax() && to.Alloc.Min+amount > to.Alloc.Max {
		return vserr.New(vserr.AdmissionDenied,
			"node %q cannot receive %d of min: would exceed its max %d", to.Name, amount, to.Alloc.Max)
	}
	from.Alloc.Min -= amount
	to.Alloc.Min += amount
	t.dirty = true
	return nil
}
