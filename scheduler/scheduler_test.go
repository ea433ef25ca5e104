package scheduler

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/google/vsched/config"
	"github.com/google/vsched/entity"
	"github.com/google/vsched/group"
	"github.com/google/vsched/timerif"
	"github.com/google/vsched/topo"
)

func newTestScheduler(t *testing.T, numPCPUs int) (*Scheduler, *timerif.FakeTimer) {
	t.Helper()
	tp := topo.NewStatic(numPCPUs, 1)
	timer := timerif.NewFakeTimer(1_000_000_000)
	s := New(tp, timer, &timerif.FakeIPI{}, config.Default())
	return s, timer
}

func TestNewPartitionsCellsAndInstallsIdleWorlds(t *testing.T) {
	s, _ := newTestScheduler(t, 8)
	cells := s.Cells()
	if len(cells) != 2 {
		t.Fatalf("len(Cells()) = %d, want 2 (8 pcpus / 4-per-cell)", len(cells))
	}
	for i := 0; i < 8; i++ {
		p := topo.PCPUID(i)
		if s.Cell(p) == nil {
			t.Errorf("Cell(%d) = nil, want assigned cell", p)
		}
		st, err := s.PCPUSnapshot(p)
		if err != nil {
			t.Fatalf("PCPUSnapshot(%d): %v", p, err)
		}
		if !st.Idle {
			t.Errorf("pcpu %d not idle at startup", p)
		}
	}
}

func TestAddVSMPAndRemoveVSMP(t *testing.T) {
	s, _ := newTestScheduler(t, 4)
	root := s.Tree().Root()
	id, err := s.AddVSMP(root, "vm1", 2, group.Alloc{Shares: 1000, Max: group.MaxNone}, entity.HTNone)
	if err != nil {
		t.Fatalf("AddVSMP: %v", err)
	}
	v := s.VSMP(id)
	if v == nil {
		t.Fatal("VSMP(id) = nil after AddVSMP")
	}
	if len(v.VCPUs) != 2 {
		t.Fatalf("len(v.VCPUs) = %d, want 2", len(v.VCPUs))
	}
	if err := s.RemoveVSMP(id); err != nil {
		t.Fatalf("RemoveVSMP: %v", err)
	}
	if s.VSMP(id) != nil {
		t.Error("VSMP(id) still resolves after RemoveVSMP")
	}
}

func TestAddVSMPRejectsZeroVCPUs(t *testing.T) {
	s, _ := newTestScheduler(t, 4)
	if _, err := s.AddVSMP(s.Tree().Root(), "bad", 0, group.Alloc{Shares: 1000, Max: group.MaxNone}, entity.HTNone); err == nil {
		t.Error("expected error creating a vsmp with zero vcpus")
	}
}

func TestAddVSMPEnqueuesAndTickDispatchesOverIdle(t *testing.T) {
	s, timer := newTestScheduler(t, 4)
	id, err := s.AddVSMP(s.Tree().Root(), "vm1", 1, group.Alloc{Shares: 1000, Max: group.MaxNone}, entity.HTNone)
	if err != nil {
		t.Fatalf("AddVSMP: %v", err)
	}
	v := s.VSMP(id)
	pcpu := v.VCPUs[0].PCPU

	timer.Advance(1)
	s.Tick(pcpu, 1)

	st, err := s.PCPUSnapshot(pcpu)
	if err != nil {
		t.Fatalf("PCPUSnapshot: %v", err)
	}
	if st.Idle {
		t.Errorf("pcpu %d still idle after ticking a freshly-added vsmp's vcpu onto it", pcpu)
	}
	if st.RunningVSMP != id {
		t.Errorf("RunningVSMP = %d, want %d", st.RunningVSMP, id)
	}
}

func TestPCPUSnapshotMatchesAcrossIdenticallyIdlePCPUs(t *testing.T) {
	s, _ := newTestScheduler(t, 2)
	a, err := s.PCPUSnapshot(0)
	if err != nil {
		t.Fatalf("PCPUSnapshot(0): %v", err)
	}
	b, err := s.PCPUSnapshot(1)
	if err != nil {
		t.Fatalf("PCPUSnapshot(1): %v", err)
	}
	a.ID, b.ID = 0, 0
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("two freshly-built idle pcpus differ (-pcpu0 +pcpu1):\n%s", diff)
	}
}

func TestGroupUsageReflectsAlloc(t *testing.T) {
	s, _ := newTestScheduler(t, 4)
	g, err := s.CreateGroup(s.Tree().Root(), "G", group.Alloc{Shares: 2000, Max: group.MaxNone})
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	_, _, stride := s.GroupUsage(g)
	if stride <= 0 {
		t.Errorf("stride = %d, want positive", stride)
	}
}

func TestMoveGroupRelinksUnderNewParent(t *testing.T) {
	s, _ := newTestScheduler(t, 4)
	root := s.Tree().Root()
	a, err := s.CreateGroup(root, "A", group.Alloc{Min: 10, Max: group.MaxNone, Shares: 1000})
	if err != nil {
		t.Fatalf("CreateGroup a: %v", err)
	}
	b, err := s.CreateGroup(root, "B", group.Alloc{Min: 50, Max: group.MaxNone, Shares: 1000})
	if err != nil {
		t.Fatalf("CreateGroup b: %v", err)
	}
	if err := s.MoveGroup(a, b); err != nil {
		t.Fatalf("MoveGroup: %v", err)
	}
	if a.Parent != b {
		t.Errorf("a.Parent = %v, want b", a.Parent)
	}
}
