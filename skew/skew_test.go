package skew

import (
	"testing"

	"github.com/google/vsched/entity"
	"github.com/google/vsched/group"
)

func newTestVSMP(t *testing.T, n int, sharing entity.HTSharing) *entity.VSMP {
	t.Helper()
	tr := group.NewTree(400)
	leaf, err := tr.CreateGroup(tr.Root(), "vm", group.Alloc{Shares: 1000, Max: group.MaxNone})
	if err != nil {
		t.Fatal(err)
	}
	leaf.IsLeaf = true
	v, err := entity.NewVSMP(1, leaf, n, sharing)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestNeedsCoschedUniprocessorNever(t *testing.T) {
	v := newTestVSMP(t, 1, entity.HTNone)
	d := New(Config{Relaxed: true})
	if d.NeedsCosched(v.VCPUs[0]) {
		t.Fatal("a uniprocessor VSMP should never need co-scheduling")
	}
}

func TestNeedsCoschedStrictAlwaysTrueForNonIdleSibling(t *testing.T) {
	v := newTestVSMP(t, 2, entity.HTNone)
	d := New(Config{Relaxed: false})
	if !d.NeedsCosched(v.VCPUs[1]) {
		t.Fatal("strict mode should always report needs-cosched for a non-idle MP sibling")
	}
}

func TestNeedsCoschedRelaxedThreshold(t *testing.T) {
	v := newTestVSMP(t, 2, entity.HTNone)
	d := New(Config{Relaxed: true, IntraSkewThreshold: 10})
	sib := v.VCPUs[1]
	if d.NeedsCosched(sib) {
		t.Fatal("should not need cosched below threshold")
	}
	sib.AddIntraSkew(11)
	if !d.NeedsCosched(sib) {
		t.Fatal("should need cosched once IntraSkew exceeds threshold")
	}
}

func TestSampleAwardsPoints(t *testing.T) {
	v := newTestVSMP(t, 2, entity.HTNone)
	d := New(Config{Relaxed: false, SampleThreshold: 100})
	running, sib := v.VCPUs[0], v.VCPUs[1]
	entity.SetRunState(running, entity.Run)
	d.Sample(running, false)
	if sib.IntraSkew() != pointsNeedsCoschedNonHT {
		t.Fatalf("sib.IntraSkew() = %d, want %d", sib.IntraSkew(), pointsNeedsCoschedNonHT)
	}
}

func TestSampleDecaysIdleSibling(t *testing.T) {
	v := newTestVSMP(t, 2, entity.HTNone)
	d := New(Config{Relaxed: false, SampleThreshold: 100})
	running, sib := v.VCPUs[0], v.VCPUs[1]
	sib.AddIntraSkew(5)
	entity.SetIdle(sib, true)
	entity.SetRunState(running, entity.Run)
	d.Sample(running, false)
	if sib.IntraSkew() != 3 {
		t.Fatalf("sib.IntraSkew() = %d, want 3 after one decay pass", sib.IntraSkew())
	}
}

func TestIsSkewedOutStrictThreshold(t *testing.T) {
	v := newTestVSMP(t, 2, entity.HTNone)
	d := New(Config{Relaxed: false, SampleThreshold: 3})
	v.VCPUs[1].AddIntraSkew(4)
	if !d.IsSkewedOut(v, false, false) {
		t.Fatal("sum of intra-skew above threshold should be skewed out")
	}
}

func TestMustCoscheduleSet(t *testing.T) {
	v := newTestVSMP(t, 3, entity.HTNone)
	d := New(Config{Relaxed: false})
	set := d.MustCoscheduleSet(v)
	if len(set) != 3 {
		t.Fatalf("MustCoscheduleSet len = %d, want 3 (strict mode: every non-idle MP vcpu needs cosched)", len(set))
	}
}

func TestAdvanceCoStateRunToStop(t *testing.T) {
	v := newTestVSMP(t, 2, entity.HTNone)
	v.CoState = entity.CoRun
	AdvanceCoState(v, true, true)
	if v.CoState != entity.CoStop {
		t.Fatalf("CoState = %v, want CoStop", v.CoState)
	}
}

func TestAdvanceCoStateStopToRun(t *testing.T) {
	v := newTestVSMP(t, 2, entity.HTNone)
	v.CoState = entity.CoStop
	entity.SetRunState(v.VCPUs[0], entity.Run)
	AdvanceCoState(v, false, false)
	if v.CoState != entity.CoRun {
		t.Fatalf("CoState = %v, want CoRun", v.CoState)
	}
}

func TestHistoryOverlapQuery(t *testing.T) {
	h := NewHistory()
	h.Record(100, 200)
	h.Record(500, 600)
	if !h.OverlapsAny(150, 160) {
		t.Fatal("expected overlap with [100,200)")
	}
	if h.OverlapsAny(250, 400) {
		t.Fatal("unexpected overlap in gap region")
	}
	if h.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", h.Len())
	}
}
