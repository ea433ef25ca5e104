package entity

import "github.com/google/vsched/topo"

// SetRunState is the only permitted mutator of a vCPU's RunState; it also
// keeps the owning VSMP's NRunning/NReady/NWait bucket counts consistent
// (NIdle is maintained separately by SetIdle), the Go form of the original source's sched_thread_transition
// shape (decrement old bucket, assign, increment new bucket).
func SetRunState(vc *VCPU, new RunState) {
	old := vc.RunState
	if old == new {
		return
	}
	decBucket(vc.VSMP, old, vc)
	vc.RunState = new
	incBucket(vc.VSMP, new, vc)
}

func decBucket(v *VSMP, s RunState, vc *VCPU) {
	if v == nil {
		return
	}
	switch {
	case s == Run:
		v.NRunning--
	case isReadyBucketed(s):
		v.NReady--
	case isWaitBucketed(s):
		v.NWait--
	}
	if isIdle(vc) {
		// idle accounting tracks the VCPU.Idle flag, not RunState; handled
		// separately by SetIdle.
	}
}

func incBucket(v *VSMP, s RunState, vc *VCPU) {
	if v == nil {
		return
	}
	switch {
	case s == Run:
		v.NRunning++
	case isReadyBucketed(s):
		v.NReady++
	case isWaitBucketed(s):
		v.NWait++
	}
}

// SetIdle toggles a vCPU's idle-world flag and keeps NIdle consistent. The
// idle world is the per-PCPU placeholder vCPU dispatched when no other
// vCPU is runnable; it cycles through Ready/Run like any other but never
// waits.
func SetIdle(vc *VCPU, idle bool) {
	if vc.Idle == idle {
		return
	}
	if vc.VSMP != nil {
		if idle {
			vc.VSMP.NIdle++
		} else {
			vc.VSMP.NIdle--
		}
	}
	vc.Idle = idle
}

// SetWaitState is the only permitted mutator of a vCPU's wait event tag. It
// must be called before or together with SetRunState(vc, Wait) /
// SetRunState(vc, BusyWait); calling it while a vCPU is not in a
// wait-bucketed state is a caller error but is tolerated (the tag is simply
// inert until the vCPU actually blocks).
func SetWaitState(vc *VCPU, new WaitState) {
	vc.WaitState = new
}

// Dispatch transitions vc from a ready-bucketed state to Run on pcpu,
// removing it from whatever ready queue it was on.
func Dispatch(vc *VCPU, pcpu topo.PCPUID) {
	Remove(vc)
	vc.PCPU = pcpu
	SetRunState(vc, Run)
}
