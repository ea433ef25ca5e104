package timerif

import (
	"sort"

	"github.com/google/vsched/topo"
)

// FakeTimer is a deterministic, manually-advanced Timer for tests and the
// sim harness: no wall-clock dependency, callbacks fire only when Advance is
// called past their deadline.
type FakeTimer struct {
	now          Cycles
	cyclesPerSec int64
	nextHandle   Handle
	pending      map[Handle]*fakeEntry
}

type fakeEntry struct {
	deadline Cycles
	period   Cycles // 0 == one-shot
	cb       Callback
	data     interface{}
}

// NewFakeTimer builds a FakeTimer starting at cycle 0 with the given
// notional frequency.
func NewFakeTimer(cyclesPerSecond int64) *FakeTimer {
	return &FakeTimer{cyclesPerSec: cyclesPerSecond, pending: map[Handle]*fakeEntry{}}
}

func (f *FakeTimer) NowCycles() Cycles      { return f.now }
func (f *FakeTimer) CyclesPerSecond() int64 { return f.cyclesPerSec }

func (f *FakeTimer) Add(period Cycles, cb Callback, data interface{}) Handle {
	f.nextHandle++
	h := f.nextHandle
	f.pending[h] = &fakeEntry{deadline: f.now + period, period: period, cb: cb, data: data}
	return h
}

func (f *FakeTimer) Remove(h Handle) {
	delete(f.pending, h)
}

// Advance moves the fake clock forward by delta cycles, firing (in deadline
// order) every callback whose deadline has been reached, rescheduling
// periodic ones.
func (f *FakeTimer) Advance(delta Cycles) {
	target := f.now + delta
	for {
		var due []Handle
		for h, e := range f.pending {
			if e.deadline <= target {
				due = append(due, h)
			}
		}
		if len(due) == 0 {
			break
		}
		sort.Slice(due, func(i, j int) bool {
			return f.pending[due[i]].deadline < f.pending[due[j]].deadline
		})
		for _, h := range due {
			e, ok := f.pending[h]
			if !ok {
				continue
			}
			f.now = e.deadline
			if e.period > 0 {
				e.deadline += e.period
			} else {
				delete(f.pending, h)
			}
			e.cb(e.data)
		}
	}
	f.now = target
}

// FakeIPI records sent interrupts instead of delivering them; the sim
// harness drains Sent to decide which PCPU loops should re-check their
// reschedule flag.
type FakeIPI struct {
	Sent []FakeIPISend
}

// FakeIPISend records one SendIPI call.
type FakeIPISend struct {
	PCPU   topo.PCPUID
	Vector int
}

// SendIPI implements IPI by recording the send; nothing is actually
// delivered since the sim harness's PCPU loops poll their reschedule flags
// directly each iteration.
func (f *FakeIPI) SendIPI(pcpu topo.PCPUID, vector int) {
	f.Sent = append(f.Sent, FakeIPISend{PCPU: pcpu, Vector: vector})
}
