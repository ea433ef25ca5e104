// Package metrics ports the original source's CpuMetrics_LoadHistory family
// (_examples/original_source/sched/cpuMetrics.h) into idiomatic Go: a rolling
// sampler of run/ready cycles used by the scheduler façade's introspection
// surface (spec.md §6, "usage in µs per VSMP... load-history sampling").
package metrics

// historyDepth is the number of recent deltas LoadHistory keeps, enough for
// the server's load-history rendering to show a short recent trend without
// growing unbounded.
const historyDepth = 16

// LoadHistory is a rolling record of one VSMP's (or vCPU's) run/ready cycle
// accumulation, sampled either as successive deltas or as successive
// cumulative readings. It keeps no wall-clock timestamps of its own; callers
// attribute samples to time the way the rest of the scheduler does, via
// timerif.Cycles.
type LoadHistory struct {
	runDeltas, readyDeltas [historyDepth]int64
	next                   int
	filled                 int

	lastTotalRun, lastTotalReady int64
	haveLast                     bool

	totalRun, totalReady int64
}

// NewLoadHistory returns a zeroed LoadHistory, the Go form of
// CpuMetrics_LoadHistoryNew (Go has no paired Delete: the value is
// reclaimed by the garbage collector once its owning VCPU/VSMP is).
func NewLoadHistory() *LoadHistory {
	return &LoadHistory{}
}

// Reset clears all accumulated history, the Go form of
// CpuMetrics_LoadHistoryReset.
func (h *LoadHistory) Reset() {
	*h = LoadHistory{}
}

// SampleDelta records one already-computed (run, ready) cycle delta, the Go
// form of CpuMetrics_LoadHistorySampleDelta.
func (h *LoadHistory) SampleDelta(run, ready int64) {
	h.runDeltas[h.next] = run
	h.readyDeltas[h.next] = ready
	h.next = (h.next + 1) % historyDepth
	if h.filled < historyDepth {
		h.filled++
	}
	h.totalRun += run
	h.totalReady += ready
}

// SampleCumulative records a new cumulative (totalRun, totalReady) reading,
// derives the delta since the previous cumulative reading (zero on the
// first call, since there is no prior baseline), and feeds it through
// SampleDelta -- the Go form of CpuMetrics_LoadHistorySampleCumulative,
// which returns the same deltas it derived so the caller can, e.g., charge
// them elsewhere without recomputing.
func (h *LoadHistory) SampleCumulative(totalRun, totalReady int64) (deltaRun, deltaReady int64) {
	if h.haveLast {
		deltaRun = totalRun - h.lastTotalRun
		deltaReady = totalReady - h.lastTotalReady
	}
	h.lastTotalRun, h.lastTotalReady = totalRun, totalReady
	h.haveLast = true
	if deltaRun < 0 {
		deltaRun = 0
	}
	if deltaReady < 0 {
		deltaReady = 0
	}
	h.SampleDelta(deltaRun, deltaReady)
	return deltaRun, deltaReady
}

// Recent returns up to historyDepth most recent (run, ready) deltas, oldest
// first, for the server's load-history rendering.
func (h *LoadHistory) Recent() (run, ready []int64) {
	run = make([]int64, h.filled)
	ready = make([]int64, h.filled)
	start := h.next - h.filled
	for i := 0; i < h.filled; i++ {
		idx := (start + i + historyDepth) % historyDepth
		run[i] = h.runDeltas[idx]
		ready[i] = h.readyDeltas[idx]
	}
	return run, ready
}

// Totals returns the cumulative run/ready cycles recorded across every
// sample this LoadHistory has ever seen, not just the retained window.
func (h *LoadHistory) Totals() (totalRun, totalReady int64) {
	return h.totalRun, h.totalReady
}

// UsageBasisPoints returns the recent window's run share as basis points
// (0..10000, i.e. run*10000/(run+ready)), the basis for the façade's
// per-VSMP usage-percentage introspection. Integer-only, per the scheduler's
// no-floating-point design note; returns 0 if there is no recent history.
func (h *LoadHistory) UsageBasisPoints() int64 {
	run, ready := h.Recent()
	var sumRun, sumReady int64
	for i := range run {
		sumRun += run[i]
		sumReady += ready[i]
	}
	total := sumRun + sumReady
	if total == 0 {
		return 0
	}
	return sumRun * 10000 / total
}
