package ht

import (
	"sync"

	"github.com/Workiva/go-datastructures/augmentedtree"
)

// haltWindow is one recorded halt interval for a logical CPU's package, the
// Go form of the teacher's threadSpan interval type adapted from per-PID
// run/wait spans to per-package halted/used windows.
type haltWindow struct {
	id         uint64
	start, end int64
}

func (w *haltWindow) LowAtDimension(d uint64) int64  { return w.start }
func (w *haltWindow) HighAtDimension(d uint64) int64 { return w.end }
func (w *haltWindow) OverlapsAtDimension(j augmentedtree.Interval, d uint64) bool {
	return w.HighAtDimension(d) > j.LowAtDimension(d) && j.HighAtDimension(d) > w.LowAtDimension(d)
}
func (w *haltWindow) ID() uint64 { return w.id }

const haltQueryDim = 1

// HaltHistory is a queryable history of one physical package's halted
// windows (one logical CPU halting while its HT partner may still be
// busy), supplementing spec.md §6's instantaneous idle/used/sys-overlap
// counters with an exact timeline, grounded on original_source's
// CpuMetrics_LoadHistory rolling-history approach rather than a scalar.
type HaltHistory struct {
	mu     sync.Mutex
	tree   augmentedtree.Tree
	nextID uint64
}

// NewHaltHistory returns an empty halt-window history for one package.
func NewHaltHistory() *HaltHistory {
	return &HaltHistory{tree: augmentedtree.New(haltQueryDim)}
}

// RecordHalt adds a halted interval [start, end) in cycles.
func (h *HaltHistory) RecordHalt(start, end int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	h.tree.Add(&haltWindow{id: h.nextID, start: start, end: end})
}

// WasHalted reports whether the package was halted at any point during
// [start, end), consulted by the charge-adjustment step to decide whether a
// partner-halted bonus applies.
func (h *HaltHistory) WasHalted(start, end int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	q := &haltWindow{start: start, end: end}
	return len(h.tree.Query(q)) > 0
}

// HaltedCycles returns the number of cycles within [start, end) during which
// the package was recorded halted, the δ the charge-adjustment step adds to
// the charge of a vCPU that ran while its HT partner was idle. Recorded windows for
// one package never overlap (a logical CPU is halted or it isn't), so summing
// each returned window's clipped overlap is exact.
func (h *HaltHistory) HaltedCycles(start, end int64) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	q := &haltWindow{start: start, end: end}
	var total int64
	for _, iv := range h.tree.Query(q) {
		w := iv.(*haltWindow)
		lo, hi := w.start, w.end
		if lo < start {
			lo = start
		}
		if hi > end {
			hi = end
		}
		if hi > lo {
			total += hi - lo
		}
	}
	return total
}

// ChargeAdjustment computes the cycles actually charged to a running vCPU's
// VSMP after HT adjustments: a bonus when the partner was halted for some of
// the interval (the running vCPU effectively had the whole package for that
// δ), a subtraction when charging an idle vCPU's own halt time, and clipping
// of system-attributed cycles to at most one quantum.
type ChargeAdjustment struct {
	PartnerHaltBonus int64 // cycles added to the charge when partner was halted
	IdleHaltCharge   int64 // cycles to subtract for an idle vcpu's own halt
	SystemCycles     int64 // cycles attributed to system/interrupt overhead
}

// Apply computes the net charge for rawCycles of running time given
// partnerHaltedCycles (the δ of rawCycles, per HaltHistory.HaltedCycles, that
// overlapped a recorded partner-halt window) and quantumCycles (the clip
// ceiling for system-cycle attribution).
func Apply(rawCycles, partnerHaltedCycles int64, vcpuIdle bool, systemCycles, quantumCycles int64) (charged int64, adj ChargeAdjustment) {
	charged = rawCycles
	if systemCycles > quantumCycles {
		systemCycles = quantumCycles
	}
	adj.SystemCycles = systemCycles
	charged -= systemCycles
	if partnerHaltedCycles > 0 {
		bonus := partnerHaltedCycles
		if bonus > rawCycles {
			bonus = rawCycles
		}
		adj.PartnerHaltBonus = bonus
		charged += bonus
	}
	if vcpuIdle {
		adj.IdleHaltCharge = rawCycles
		charged = 0
	}
	if charged < 0 {
		charged = 0
	}
	return charged, adj
}
