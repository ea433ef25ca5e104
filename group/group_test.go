package group

import (
	"testing"
)

func newTestTree() *Tree {
	return NewTree(400) // 4 PCPUs worth of percent-capacity
}

func TestCreateGroupAdmission(t *testing.T) {
	tr := newTestTree()
	g, err := tr.CreateGroup(tr.Root(), "G", Alloc{Min: 100, Max: MaxNone, Shares: 1000, Units: Percent})
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if g.Alloc.Min != 100 {
		t.Errorf("Min = %d, want 100", g.Alloc.Min)
	}
	// Requesting more min than remains (400-100=300 left) should fail.
	if _, err := tr.CreateGroup(tr.Root(), "H", Alloc{Min: 400, Max: MaxNone, Shares: 1000}); err == nil {
		t.Errorf("expected AdmissionDenied, got nil")
	}
}

func TestCreateGroupBadParam(t *testing.T) {
	tr := newTestTree()
	_, err := tr.CreateGroup(tr.Root(), "G", Alloc{Min: 10, Max: 5, Shares: 100})
	if err == nil {
		t.Fatalf("expected BadParam for min>max")
	}
}

func TestSetAllocReservationFloor(t *testing.T) {
	tr := newTestTree()
	g, err := tr.CreateGroup(tr.Root(), "G", Alloc{Min: 100, Max: MaxNone, Shares: 1000})
	if err != nil {
		t.Fatal(err)
	}
	vsmp, err := tr.CreateGroup(g, "vm1", Alloc{Min: 60, Max: MaxNone, Shares: 500})
	if err != nil {
		t.Fatal(err)
	}
	vsmp.IsLeaf = true
	// G's min cannot drop below its child's reserved min (60).
	if err := tr.SetAlloc(g, Alloc{Min: 50, Max: MaxNone, Shares: 1000}); err == nil {
		t.Errorf("expected AdmissionDenied lowering group min below child reservation")
	}
	if err := tr.SetAlloc(g, Alloc{Min: 80, Max: MaxNone, Shares: 1000}); err != nil {
		t.Errorf("SetAlloc(80): %v", err)
	}
}

func TestVsmpSetAllocCanonicalizesMax(t *testing.T) {
	tr := newTestTree()
	vsmp, err := tr.CreateGroup(tr.Root(), "vm1", Alloc{Shares: 1000})
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.VsmpSetAlloc(vsmp, Alloc{Min: 0, Max: 200, Shares: 1000, Units: Percent}, 2); err != nil {
		t.Fatal(err)
	}
	if vsmp.Alloc.Max != MaxNone {
		t.Errorf("Max = %d, want MaxNone (200%% == 2 vCPUs * 1 package)", vsmp.Alloc.Max)
	}
}

func TestReallocateEqualShares(t *testing.T) {
	tr := newTestTree()
	a, err := tr.CreateGroup(tr.Root(), "a", Alloc{Shares: 1000, Max: MaxNone})
	if err != nil {
		t.Fatal(err)
	}
	b, err := tr.CreateGroup(tr.Root(), "b", Alloc{Shares: 1000, Max: MaxNone})
	if err != nil {
		t.Fatal(err)
	}
	a.IsLeaf, b.IsLeaf = true, true
	noop := func() func() { return func() {} }
	if err := tr.Reallocate(noop, nil); err != nil {
		t.Fatalf("Reallocate: %v", err)
	}
	sa, sb := a.BaseShares(), b.BaseShares()
	if sa != sb {
		t.Errorf("equal-share leaves got unequal base shares: %d vs %d", sa, sb)
	}
	if sa == 0 {
		t.Errorf("base shares should not be zero")
	}
}

func TestReallocateRespectsMin(t *testing.T) {
	tr := newTestTree()
	a, err := tr.CreateGroup(tr.Root(), "a", Alloc{Min: 300, Max: MaxNone, Shares: 100})
	if err != nil {
		t.Fatal(err)
	}
	b, err := tr.CreateGroup(tr.Root(), "b", Alloc{Shares: 1000, Max: MaxNone})
	if err != nil {
		t.Fatal(err)
	}
	a.IsLeaf, b.IsLeaf = true, true
	noop := func() func() { return func() {} }
	if err := tr.Reallocate(noop, nil); err != nil {
		t.Fatalf("Reallocate: %v", err)
	}
	if a.BaseShares() < 300 {
		t.Errorf("a's base shares %d should be at least its min 300", a.BaseShares())
	}
}

func TestReallocateBusyOnConcurrentChange(t *testing.T) {
	tr := newTestTree()
	a, err := tr.CreateGroup(tr.Root(), "a", Alloc{Shares: 1000, Max: MaxNone})
	if err != nil {
		t.Fatal(err)
	}
	a.IsLeaf = true
	calls := 0
	lockAllCells := func() func() {
		calls++
		if calls == 1 {
			// Simulate a concurrent structural change happening between the
			// snapshot and the commit.
			if _, err := tr.CreateGroup(tr.Root(), "b", Alloc{Shares: 500, Max: MaxNone}); err != nil {
				t.Fatal(err)
			}
		}
		return func() {}
	}
	if err := tr.Reallocate(lockAllCells, nil); err == nil {
		t.Fatalf("expected Busy from concurrent structural change")
	}
	if !tr.IsDirty() {
		t.Errorf("dirty flag should remain set after a Busy reallocate")
	}
}

func TestRequestReallocateIdempotent(t *testing.T) {
	tr := newTestTree()
	tr.RequestReallocate()
	tr.RequestReallocate()
	if !tr.IsDirty() {
		t.Errorf("expected dirty after RequestReallocate")
	}
}

func TestRemoveGroupBusyWhenNotEmpty(t *testing.T) {
	tr := newTestTree()
	g, err := tr.CreateGroup(tr.Root(), "G", Alloc{Min: 10, Max: MaxNone, Shares: 100})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tr.CreateGroup(g, "vm", Alloc{Shares: 100}); err != nil {
		t.Fatal(err)
	}
	if err := tr.RemoveGroup(g); err == nil {
		t.Errorf("expected Busy removing non-empty group")
	}
}
