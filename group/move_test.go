package group

import "testing"

func TestMoveVMAllocToGroupAndBack(t *testing.T) {
	tr := newTestTree()
	g, err := tr.CreateGroup(tr.Root(), "G", Alloc{Min: 100, Max: MaxNone, Shares: 1000})
	if err != nil {
		t.Fatal(err)
	}
	vm, err := tr.CreateGroup(tr.Root(), "vm1", Alloc{Min: 50, Max: MaxNone, Shares: 500})
	if err != nil {
		t.Fatal(err)
	}

	if err := tr.MoveVMAllocToGroup(vm, g, 20); err != nil {
		t.Fatalf("MoveVMAllocToGroup: %v", err)
	}
	if vm.Alloc.Min != 30 {
		t.Errorf("vm.Alloc.Min = %d, want 30", vm.Alloc.Min)
	}
	if g.Alloc.Min != 120 {
		t.Errorf("g.Alloc.Min = %d, want 120", g.Alloc.Min)
	}

	if err := tr.MoveGroupAllocToVM(g, vm, 20); err != nil {
		t.Fatalf("MoveGroupAllocToVM: %v", err)
	}
	if vm.Alloc.Min != 50 || g.Alloc.Min != 100 {
		t.Errorf("after round trip: vm.Min=%d g.Min=%d, want 50/100", vm.Alloc.Min, g.Alloc.Min)
	}
}

func TestMoveRejectsNonSiblings(t *testing.T) {
	tr := newTestTree()
	g, err := tr.CreateGroup(tr.Root(), "G", Alloc{Min: 100, Max: MaxNone, Shares: 1000})
	if err != nil {
		t.Fatal(err)
	}
	vm, err := tr.CreateGroup(g, "vm1", Alloc{Min: 10, Max: MaxNone, Shares: 500})
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.MoveVMAllocToGroup(vm, g, 5); err == nil {
		t.Errorf("expected error moving from a child into its own parent")
	}
}

func TestMoveRejectsOverdrawnSource(t *testing.T) {
	tr := newTestTree()
	g, err := tr.CreateGroup(tr.Root(), "G", Alloc{Min: 100, Max: MaxNone, Shares: 1000})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tr.CreateGroup(g, "child", Alloc{Min: 60, Max: MaxNone, Shares: 500}); err != nil {
		t.Fatal(err)
	}
	vm, err := tr.CreateGroup(tr.Root(), "vm1", Alloc{Min: 10, Max: MaxNone, Shares: 500})
	if err != nil {
		t.Fatal(err)
	}
	vm.IsLeaf = true
	// g's min (100) is already reserved down to 60 by its child; it can only
	// give up 40 of its own min to its sibling vm without going
	// admission-negative.
	if err := tr.MoveGroupAllocToVM(g, vm, 41); err == nil {
		t.Errorf("expected AdmissionDenied giving up more min than unclaimed")
	}
	if err := tr.MoveGroupAllocToVM(g, vm, 40); err != nil {
		t.Errorf("MoveGroupAllocToVM(40): %v", err)
	}
}

func TestMoveRejectsDestinationOverMax(t *testing.T) {
	tr := newTestTree()
	g, err := tr.CreateGroup(tr.Root(), "G", Alloc{Min: 100, Max: MaxNone, Shares: 1000})
	if err != nil {
		t.Fatal(err)
	}
	vm, err := tr.CreateGroup(tr.Root(), "vm1", Alloc{Min: 10, Max: 20, Shares: 500})
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.MoveGroupAllocToVM(g, vm, 15); err == nil {
		t.Errorf("expected AdmissionDenied exceeding destination max")
	}
}
