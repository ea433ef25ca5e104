// Package entity implements the per-vCPU and per-VSMP run/wait/co-run state
// machines and their run queues (spec.md §3, §4.C): the only mutators of the
// state/counter invariants (SetRunState, SetWaitState), queue placement, and
// the wait/wakeup family.
package entity

import "fmt"

// RunState is a vCPU's position in the dispatch state machine.
type RunState int8

const (
	// New vCPUs have not yet been scheduled for the first time.
	New RunState = iota
	// Ready vCPUs are runnable and queued.
	Ready
	// ReadyCorun is Ready, but reserved for a remote handoff
	// (co-scheduling placed it here ahead of dispatch).
	ReadyCorun
	// ReadyCostop is Ready, but held during a co-descheduled interval.
	ReadyCostop
	// Run vCPUs are currently executing on a PCPU.
	Run
	// Wait vCPUs are blocked on an event.
	Wait
	// BusyWait vCPUs are blocked on the same event as Wait but are
	// cooperatively polling rather than fully descheduled.
	BusyWait
	// Zombie vCPUs have exited and are awaiting cleanup.
	Zombie
)

func (s RunState) String() string {
	switch s {
	case New:
		return "NEW"
	case Ready:
		return "READY"
	case ReadyCorun:
		return "READY_CORUN"
	case ReadyCostop:
		return "READY_COSTOP"
	case Run:
		return "RUN"
	case Wait:
		return "WAIT"
	case BusyWait:
		return "BUSY_WAIT"
	case Zombie:
		return "ZOMBIE"
	default:
		return fmt.Sprintf("RunState(%d)", int8(s))
	}
}

// isIdle reports whether s counts toward a VSMP's nIdle bucket. Idleness is
// tracked per-VCPU via the VCPU.Idle flag, not derived from RunState alone
// (the idle world cycles through Run/Ready like any other).
func isIdle(v *VCPU) bool { return v.Idle }

// isWaitBucketed reports whether s is one of the states counted in a VSMP's
// nWait bucket.
func isWaitBucketed(s RunState) bool {
	return s == Wait || s == BusyWait
}

// isReadyBucketed reports whether s is one of the "ready to run" states used
// by queue placement and co-schedulability.
func isReadyBucketed(s RunState) bool {
	return s == Ready || s == ReadyCorun || s == ReadyCostop
}

// EventKey identifies the event a waiting vCPU is blocked on (an RPC, a
// semaphore, a lock, an IO completion, ...). The scheduler treats it as an
// opaque comparable value; callers define their own event namespaces.
type EventKey struct {
	Class string
	ID    uint64
}

// disablesCoDeschedule reports whether waiting on this class of event should
// disable co-descheduling for the owning VSMP (RPC/SEMA/LOCK waits do;
// ordinary idle-loop waits don't).
func (e EventKey) disablesCoDeschedule() bool {
	switch e.Class {
	case "RPC", "SEMA", "LOCK":
		return true
	default:
		return false
	}
}

// WaitState tags a waiting vCPU with the event it's blocked on.
type WaitState struct {
	Event EventKey
}

// CoRunState is a multi-vCPU VSMP's co-scheduling state (spec.md §4.C). A
// uniprocessor VSMP never leaves CoNone.
type CoRunState int8

const (
	// CoNone applies only to uniprocessor VSMPs.
	CoNone CoRunState = iota
	// CoReady: about to dispatch its first vCPU together.
	CoReady
	// CoRun: co-scheduled and running.
	CoRun
	// CoStop: co-descheduled because of a skew event.
	CoStop
)

func (s CoRunState) String() string {
	switch s {
	case CoNone:
		return "CO_NONE"
	case CoReady:
		return "CO_READY"
	case CoRun:
		return "CO_RUN"
	case CoStop:
		return "CO_STOP"
	default:
		return fmt.Sprintf("CoRunState(%d)", int8(s))
	}
}

// HTSharing is a VSMP's configured hyperthread package-sharing policy.
type HTSharing int8

const (
	// HTNone demands a whole physical package per vCPU.
	HTNone HTSharing = iota
	// HTInternally permits sharing a package only with another vCPU of the
	// same VSMP, or an idle partner.
	HTInternally
	// HTAny permits sharing a package with any VSMP.
	HTAny
)

func (s HTSharing) String() string {
	switch s {
	case HTNone:
		return "NONE"
	case HTInternally:
		return "INTERNALLY"
	case HTAny:
		return "ANY"
	default:
		return fmt.Sprintf("HTSharing(%d)", int8(s))
	}
}

// Min returns the more restrictive of s and o (NONE < INTERNALLY < ANY).
func (s HTSharing) Min(o HTSharing) HTSharing {
	if s < o {
		return s
	}
	return o
}
