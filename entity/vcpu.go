package entity

import (
	"sync/atomic"

	"github.com/google/vsched/group"
	"github.com/google/vsched/topo"
	"github.com/google/vsched/vserr"
	"github.com/google/vsched/vtime"
)

// Meter accumulates an elapsed-time histogram over a small number of
// exponentially-widening buckets, the Go form of the original source's
// per-vCPU run/wait histograms in cpuMetrics.h.
type Meter struct {
	bounds  []int64 // cycles, ascending; last bucket catches everything above
	buckets []int64
	total   int64
}

// NewMeter returns a Meter with the given ascending bucket upper-bounds
// (in cycles); one extra bucket catches samples above the last bound.
func NewMeter(bounds []int64) *Meter {
	return &Meter{bounds: bounds, buckets: make([]int64, len(bounds)+1)}
}

// Record adds one sample of d cycles to the histogram.
func (m *Meter) Record(d int64) {
	m.total += d
	for i, b := range m.bounds {
		if d <= b {
			m.buckets[i]++
			return
		}
	}
	m.buckets[len(m.buckets)-1]++
}

// Total returns the cumulative recorded cycles.
func (m *Meter) Total() int64 { return m.total }

// Buckets returns a copy of the histogram counts.
func (m *Meter) Buckets() []int64 {
	out := make([]int64, len(m.buckets))
	copy(out, m.buckets)
	return out
}

// VCPU is one schedulable vCPU of a VSMP: spec.md §3's "VCPU" type.
type VCPU struct {
	ID     uint32
	VSMP   *VSMP
	Index  int // ordinal within the VSMP, 0 is the "leader"

	PCPU        topo.PCPUID // currently assigned/running PCPU
	Affinity    AffinityMask

	RunState  RunState
	WaitState WaitState

	Idle bool // true only for the per-PCPU idle world

	RunMeter  *Meter
	WaitMeter *Meter

	charge      int64 // cycles charged to the owning group since last decay
	intraSkew   int64 // intra-VSMP skew-point count, floored at zero

	actionMask uint32 // pending action-wakeup bits, spec.md's "action wakeups"

	switching atomic.Bool // true while a context switch involving this vCPU is in flight

	queueLink *qnode      // current run-queue membership, nil if not queued
	wait      *waitRecord // set while blocked in the wait family, else nil
}

// NotifyAction ORs mask's bits into vc's pending action-wakeup bits,
// spec.md §6's action_notify_vcpu.
func NotifyAction(vc *VCPU, mask uint32) { vc.actionMask |= mask }

// ActionMask returns vc's pending action-wakeup bits.
func ActionMask(vc *VCPU) uint32 { return vc.actionMask }

// ClearActionMask resets vc's pending action-wakeup bits to zero, the
// consuming side of NotifyAction (run once the wakeup has been acted on).
func ClearActionMask(vc *VCPU) { vc.actionMask = 0 }

// AffinityMask is a hard-affinity bitmask over PCPUIDs (bit i == PCPU i).
type AffinityMask uint64

// Allows reports whether p is permitted by the mask (an empty mask allows
// everything).
func (a AffinityMask) Allows(p topo.PCPUID) bool {
	if a == 0 {
		return true
	}
	return a&(1<<uint(p)) != 0
}

// VSMP is a group of co-scheduled vCPUs sharing one allocation leaf: spec.md
// §3's "VSMP" type. It embeds the allocation tree's leaf Node directly, so
// VtimeSnapshot/BaseShares are available without a second lookup.
type VSMP struct {
	*group.Node

	ID    uint32
	VCPUs []*VCPU

	Sharing HTSharing
	CoState CoRunState

	NRunning int // count of VCPUs with RunState==Run
	NReady   int // count of VCPUs in a ready-bucketed state
	NWait    int // count of VCPUs in a wait-bucketed state
	NIdle    int // count of idle VCPUs

	// Extra/ExtraLimit are the opportunistic ("extra") virtual clock: unlike
	// Main (tracked by the allocation tree's base, shared with every sibling
	// group at the same level), Extra is purely local to this VSMP and
	// advances only while it runs beyond its main entitlement.
	Extra      int64
	ExtraLimit int64
	Path       vtime.Path
}

// Leader returns the VSMP's vCPU 0, the one whose vtime the co-scheduling
// machinery treats as authoritative for skew comparisons (per
// original_source's "vcpu 0 is leader" convention).
func (v *VSMP) Leader() *VCPU {
	if len(v.VCPUs) == 0 {
		return nil
	}
	return v.VCPUs[0]
}

// IsLeader reports whether vc is its VSMP's leader vCPU.
func (vc *VCPU) IsLeader() bool { return vc.Index == 0 }

// IntraSkew returns vc's current intra-VSMP skew-point count.
func (vc *VCPU) IntraSkew() int64 { return vc.intraSkew }

// AddIntraSkew adjusts vc's skew-point count by delta, floored at zero per
// spec.md's "not below zero" decay rule.
func (vc *VCPU) AddIntraSkew(delta int64) {
	vc.intraSkew += delta
	if vc.intraSkew < 0 {
		vc.intraSkew = 0
	}
}

// IsUniprocessor reports whether the VSMP has exactly one vCPU, in which
// case co-scheduling state is always CoNone.
func (v *VSMP) IsUniprocessor() bool { return len(v.VCPUs) == 1 }

// NewVSMP constructs a VSMP of n vCPUs rooted at the given allocation leaf.
// leaf.IsLeaf must already be set true by the caller (group.CreateGroup
// leaves that to its caller, since only entity knows which nodes are VSMPs).
func NewVSMP(id uint32, leaf *group.Node, n int, sharing HTSharing) (*VSMP, error) {
	if n <= 0 {
		return nil, vserr.New(vserr.BadParam, "vsmp must have at least one vcpu, got %d", n)
	}
	v := &VSMP{Node: leaf, ID: id, Sharing: sharing}
	if n == 1 {
		v.CoState = CoNone
	} else {
		v.CoState = CoReady
	}
	for i := 0; i < n; i++ {
		vc := &VCPU{
			ID:        uint32(i),
			VSMP:      v,
			Index:     i,
			RunState:  New,
			RunMeter:  NewMeter(defaultMeterBounds),
			WaitMeter: NewMeter(defaultMeterBounds),
		}
		v.VCPUs = append(v.VCPUs, vc)
	}
	return v, nil
}

// defaultMeterBounds mirrors cpuMetrics.h's histogram buckets: 1ms, 10ms,
// 100ms, 1s at a notional 1GHz; callers running at a different tick rate
// should build their own Meter with timerif.Timer.CyclesPerSecond()-scaled
// bounds instead of relying on this default.
var defaultMeterBounds = []int64{1_000_000, 10_000_000, 100_000_000, 1_000_000_000}

// VtimeContext builds the vtime.Context used to compare this VSMP against
// another for dispatch ordering: its main clock (from the allocation tree's
// base) plus its own local extra clock and group path.
func (v *VSMP) VtimeContext() vtime.Context {
	vt, _, stride := v.VtimeSnapshot()
	return vtime.Context{Main: vt, Extra: v.Extra, Stride: stride, Path: v.Path}
}

// SetPath records the VSMP's group-ancestry path, used by vtime.Compare's
// extra-mode divergence lookup. Populated once at construction/reparent
// time by the scheduler façade, which owns the allocation tree walk.
func (v *VSMP) SetPath(p vtime.Path) { v.Path = p }
