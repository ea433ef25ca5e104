// Package timerif defines the timer, IPI, and performance-counter
// collaborator interfaces the scheduler core consumes (spec.md §6). These
// are external to the core: delivery, interrupt routing, and counter
// multiplexing live elsewhere. The core only calls through these
// interfaces, which lets tests and the sim harness supply deterministic fake
// implementations.
package timerif

import "github.com/google/vsched/topo"

// Cycles is a raw monotonic cycle count, as returned by Timer.NowCycles.
type Cycles int64

// Handle identifies a scheduled timer callback, returned by Timer.Add and
// consumed by Timer.Remove.
type Handle uint64

// Callback is invoked when a timer fires. data is the opaque value supplied
// to Add.
type Callback func(data interface{})

// Timer is the external timer service: a monotonic cycle counter plus
// periodic/one-shot callback scheduling.
type Timer interface {
	// NowCycles returns the current monotonic cycle count.
	NowCycles() Cycles
	// CyclesPerSecond returns this host's cycle-counter frequency.
	CyclesPerSecond() int64
	// Add schedules cb to run after delay (periodic if period>0, else
	// one-shot), and returns a Handle that can later be passed to Remove.
	Add(period Cycles, cb Callback, data interface{}) Handle
	// Remove cancels a previously scheduled callback. Removing an already-
	// fired one-shot, or an unknown handle, is a silent no-op.
	Remove(h Handle)
}

// IPI is the external inter-processor-interrupt delivery service. The
// reschedule handler it invokes is effectively a no-op on the receiving
// side: the interrupt-return path merely consults the local reschedule
// flag, which the core sets itself before calling SendIPI.
type IPI interface {
	SendIPI(pcpu topo.PCPUID, vector int)
}

// RescheduleVector is the IPI vector the scheduler uses to interrupt a
// remote PCPU purely so it re-examines its local reschedule flag.
const RescheduleVector = 1

// PerfCounter is the external perf-counter collaborator: open/read/activate
// a machine_clear_any-style event per scheduled world.
type PerfCounter interface {
	// Open activates a machine_clear_any counter for worldID, returning an
	// opaque counter handle.
	Open(worldID int64) (CounterHandle, error)
	// Read returns the counter's current cumulative value.
	Read(h CounterHandle) (uint64, error)
	// Close deactivates the counter.
	Close(h CounterHandle)
}

// CounterHandle identifies an open PerfCounter event.
type CounterHandle uint64
