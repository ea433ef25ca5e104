package entity

import (
	"github.com/google/vsched/timerif"
	"github.com/google/vsched/vserr"
)

// WaitReason distinguishes the wait family entry points so Wakeup can
// report what a vCPU was released from and metrics can attribute wait time
// correctly (spec.md §3's wait family: Wait/WaitIRQ/TimedWait/Sleep/Halt/
// WaitDirectedYield and their RW-lock variants).
type WaitReason int8

const (
	ReasonWait WaitReason = iota
	ReasonWaitIRQ
	ReasonTimedWait
	ReasonSleep
	ReasonHalt
	ReasonDirectedYield
	ReasonWaitShared // RW-lock shared-mode wait
	ReasonWaitExcl   // RW-lock exclusive-mode wait
)

// waitRecord is the bookkeeping kept while a vCPU is blocked, enough to
// cancel a pending timer on an early Wakeup.
type waitRecord struct {
	reason  WaitReason
	timer   timerif.Timer
	handle  timerif.Handle
	timedOut bool
}

// Wait blocks vc on event indefinitely, transitioning it to Wait. Returns
// an error only if vc is not in a state that can wait (already waiting, or
// a zombie).
func Wait(vc *VCPU, event EventKey) error {
	return enterWait(vc, event, ReasonWait, false)
}

// WaitIRQ is like Wait, but tags the block as interrupt-context (busy-wait
// rather than fully descheduled), the Go form of CpuSched_WaitIRQ.
func WaitIRQ(vc *VCPU, event EventKey) error {
	return enterWait(vc, event, ReasonWaitIRQ, true)
}

// WaitShared and WaitExcl are RW-lock wait-family variants distinguished
// only by the reason they record (the dispatch/skew machinery treats them
// identically to Wait).
func WaitShared(vc *VCPU, event EventKey) error { return enterWait(vc, event, ReasonWaitShared, false) }
func WaitExcl(vc *VCPU, event EventKey) error   { return enterWait(vc, event, ReasonWaitExcl, false) }

func enterWait(vc *VCPU, event EventKey, reason WaitReason, busy bool) error {
	if vc.RunState == Zombie {
		return vserr.New(vserr.DeathPending, "vcpu %d: wait on dying vcpu", vc.ID)
	}
	if isWaitBucketed(vc.RunState) {
		return vserr.New(vserr.BadParam, "vcpu %d: already waiting", vc.ID)
	}
	Remove(vc)
	SetWaitState(vc, WaitState{Event: event})
	if busy {
		SetRunState(vc, BusyWait)
	} else {
		SetRunState(vc, Wait)
	}
	vc.wait = &waitRecord{reason: reason}
	return nil
}

// TimedWait blocks vc on event until woken or until timeoutCycles elapse on
// t, whichever comes first; on timeout the vcpu is woken with WaitState
// left intact and waitRecord.timedOut set, so callers can distinguish a
// real wakeup from an expiry (TimedWaitExpired reports it).
func TimedWait(vc *VCPU, event EventKey, t timerif.Timer, timeoutCycles timerif.Cycles, onExpire func(*VCPU)) error {
	if err := enterWait(vc, event, ReasonTimedWait, false); err != nil {
		return err
	}
	wr := vc.wait
	wr.timer = t
	wr.handle = t.Add(timeoutCycles, func(data interface{}) {
		if vc.wait != wr {
			return // already woken and record replaced
		}
		wr.timedOut = true
		Wakeup(vc)
		if onExpire != nil {
			onExpire(vc)
		}
	}, nil)
	return nil
}

// TimedWaitExpired reports whether vc's most recent TimedWait ended via
// timeout rather than an explicit Wakeup. Valid only immediately after the
// vcpu leaves a wait-bucketed state.
func TimedWaitExpired(vc *VCPU) bool {
	return vc.wait != nil && vc.wait.timedOut
}

// sleepEventClass namespaces Sleep's synthetic per-vcpu event so it never
// collides with a caller-supplied EventKey.
const sleepEventClass = "__sleep"

// Sleep blocks vc for durationCycles with no external wakeup possible
// (equivalent to a TimedWait on a private event nobody else can signal).
func Sleep(vc *VCPU, t timerif.Timer, durationCycles timerif.Cycles) error {
	ev := EventKey{Class: sleepEventClass, ID: uint64(vc.ID)}
	return TimedWait(vc, ev, t, durationCycles, nil)
}

// haltEventClass is Halt's synthetic event, distinguished from Sleep so
// ht-package idle-halt accounting can recognize it.
const haltEventClass = "__halt"

// Halt blocks vc until the next interrupt or forced wakeup; unlike Sleep it
// has no timeout, modeling the idle-loop's HLT instruction.
func Halt(vc *VCPU) error {
	return Wait(vc, EventKey{Class: haltEventClass, ID: uint64(vc.ID)})
}

// WaitDirectedYield blocks vc on a directed-yield target: a hint that the
// caller should be preferentially woken ahead of its VSMP siblings. It is
// otherwise an ordinary Wait; the preference is carried in WaitState.Event.
func WaitDirectedYield(vc *VCPU, target *VCPU) error {
	return Wait(vc, EventKey{Class: "__yield", ID: uint64(target.ID)})
}

// Wakeup releases vc from a wait-bucketed state back to Ready, cancelling
// any pending TimedWait timer. A no-op if vc is not currently waiting.
func Wakeup(vc *VCPU) {
	if !isWaitBucketed(vc.RunState) {
		return
	}
	wr := vc.wait
	if wr != nil && wr.timer != nil && !wr.timedOut {
		wr.timer.Remove(wr.handle)
	}
	SetRunState(vc, Ready)
}

// ForceWakeup is Wakeup but also valid against a Zombie vcpu (used by
// teardown paths to release a dying VSMP's siblings from a co-schedule
// wait rather than leaving them parked forever).
func ForceWakeup(vc *VCPU) {
	if vc.RunState == Zombie {
		vc.wait = nil
		return
	}
	Wakeup(vc)
}

// WakeupAll wakes every vCPU waiting on event across vcpus, returning the
// count woken. Used by broadcast-style events (a lock release with
// multiple waiters, a barrier).
func WakeupAll(vcpus []*VCPU, event EventKey) int {
	n := 0
	for _, vc := range vcpus {
		if isWaitBucketed(vc.RunState) && vc.WaitState.Event == event {
			Wakeup(vc)
			n++
		}
	}
	return n
}
