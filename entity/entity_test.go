package entity

import (
	"testing"

	"github.com/google/vsched/group"
	"github.com/google/vsched/timerif"
)

func newTestVSMP(t *testing.T, n int) *VSMP {
	t.Helper()
	tr := group.NewTree(400)
	leaf, err := tr.CreateGroup(tr.Root(), "vm", group.Alloc{Shares: 1000, Max: group.MaxNone})
	if err != nil {
		t.Fatal(err)
	}
	leaf.IsLeaf = true
	v, err := NewVSMP(1, leaf, n, HTNone)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestSetRunStateBuckets(t *testing.T) {
	v := newTestVSMP(t, 2)
	vc := v.VCPUs[0]
	SetRunState(vc, Ready)
	if v.NReady != 1 {
		t.Fatalf("NReady = %d, want 1", v.NReady)
	}
	SetRunState(vc, Run)
	if v.NReady != 0 || v.NRunning != 1 {
		t.Fatalf("NReady=%d NRunning=%d, want 0,1", v.NReady, v.NRunning)
	}
	SetRunState(vc, Wait)
	if v.NRunning != 0 || v.NWait != 1 {
		t.Fatalf("NRunning=%d NWait=%d, want 0,1", v.NRunning, v.NWait)
	}
}

func TestLeaderIsVCPU0(t *testing.T) {
	v := newTestVSMP(t, 3)
	if !v.Leader().IsLeader() {
		t.Fatal("Leader() should report IsLeader() true")
	}
	if v.VCPUs[1].IsLeader() {
		t.Fatal("vcpu 1 should not be leader")
	}
}

func TestQueuePushRemoveFIFO(t *testing.T) {
	v := newTestVSMP(t, 3)
	var q Queue
	q.Push(v.VCPUs[0])
	q.Push(v.VCPUs[1])
	q.Push(v.VCPUs[2])
	if q.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", q.Len())
	}
	if q.Front() != v.VCPUs[0] {
		t.Fatal("Front() should be the first pushed vcpu")
	}
	Remove(v.VCPUs[1])
	if q.Len() != 2 {
		t.Fatalf("Len() after Remove = %d, want 2", q.Len())
	}
	var seen []*VCPU
	q.Each(func(vc *VCPU) { seen = append(seen, vc) })
	if len(seen) != 2 || seen[0] != v.VCPUs[0] || seen[1] != v.VCPUs[2] {
		t.Fatalf("unexpected queue order after removal: %v", seen)
	}
}

func TestRequeueMovesBetweenQueues(t *testing.T) {
	v := newTestVSMP(t, 1)
	var a, b Queue
	a.Push(v.VCPUs[0])
	Requeue(v.VCPUs[0], &b)
	if a.Len() != 0 || b.Len() != 1 {
		t.Fatalf("a.Len()=%d b.Len()=%d, want 0,1", a.Len(), b.Len())
	}
}

func TestWaitWakeupRoundTrip(t *testing.T) {
	v := newTestVSMP(t, 1)
	vc := v.VCPUs[0]
	ev := EventKey{Class: "SEMA", ID: 42}
	if err := Wait(vc, ev); err != nil {
		t.Fatal(err)
	}
	if vc.RunState != Wait || v.NWait != 1 {
		t.Fatalf("RunState=%v NWait=%d after Wait", vc.RunState, v.NWait)
	}
	Wakeup(vc)
	if vc.RunState != Ready || v.NWait != 0 || v.NReady != 1 {
		t.Fatalf("RunState=%v NWait=%d NReady=%d after Wakeup", vc.RunState, v.NWait, v.NReady)
	}
}

func TestTimedWaitExpiryWakesUp(t *testing.T) {
	v := newTestVSMP(t, 1)
	vc := v.VCPUs[0]
	ft := timerif.NewFakeTimer(1_000_000_000)
	ev := EventKey{Class: "IO", ID: 1}
	expired := false
	if err := TimedWait(vc, ev, ft, 1000, func(*VCPU) { expired = true }); err != nil {
		t.Fatal(err)
	}
	ft.Advance(1000)
	if vc.RunState != Ready {
		t.Fatalf("RunState = %v, want Ready after expiry", vc.RunState)
	}
	if !TimedWaitExpired(vc) {
		t.Fatal("TimedWaitExpired should be true")
	}
	if !expired {
		t.Fatal("onExpire callback should have fired")
	}
}

func TestTimedWaitExplicitWakeupCancelsTimer(t *testing.T) {
	v := newTestVSMP(t, 1)
	vc := v.VCPUs[0]
	ft := timerif.NewFakeTimer(1_000_000_000)
	ev := EventKey{Class: "IO", ID: 2}
	if err := TimedWait(vc, ev, ft, 1000, func(*VCPU) { t.Fatal("should not expire") }); err != nil {
		t.Fatal(err)
	}
	Wakeup(vc)
	if TimedWaitExpired(vc) {
		t.Fatal("should not report expired on explicit wakeup")
	}
	ft.Advance(1000) // should not re-fire the callback
}

func TestForceWakeupOnZombie(t *testing.T) {
	v := newTestVSMP(t, 1)
	vc := v.VCPUs[0]
	if err := Wait(vc, EventKey{Class: "X"}); err != nil {
		t.Fatal(err)
	}
	vc.RunState = Zombie // simulate death arriving mid-wait
	ForceWakeup(vc)      // must not panic despite the Zombie state
}

func TestWakeupAllBroadcast(t *testing.T) {
	v := newTestVSMP(t, 3)
	ev := EventKey{Class: "LOCK", ID: 7}
	for _, vc := range v.VCPUs[:2] {
		if err := Wait(vc, ev); err != nil {
			t.Fatal(err)
		}
	}
	n := WakeupAll(v.VCPUs, ev)
	if n != 2 {
		t.Fatalf("WakeupAll woke %d, want 2", n)
	}
}

func TestAffinityMaskAllows(t *testing.T) {
	var empty AffinityMask
	if !empty.Allows(5) {
		t.Fatal("empty mask should allow any pcpu")
	}
	m := AffinityMask(1 << 2)
	if !m.Allows(2) || m.Allows(3) {
		t.Fatal("mask should allow only pcpu 2")
	}
}

func TestHTSharingMin(t *testing.T) {
	if HTAny.Min(HTInternally) != HTInternally {
		t.Fatal("Min should pick the more restrictive policy")
	}
	if HTNone.Min(HTAny) != HTNone {
		t.Fatal("Min should pick NONE over ANY")
	}
}

func TestMeterBuckets(t *testing.T) {
	m := NewMeter([]int64{10, 100})
	m.Record(5)
	m.Record(50)
	m.Record(500)
	b := m.Buckets()
	if b[0] != 1 || b[1] != 1 || b[2] != 1 {
		t.Fatalf("buckets = %v, want [1 1 1]", b)
	}
	if m.Total() != 555 {
		t.Fatalf("Total() = %d, want 555", m.Total())
	}
}
