package skew

import (
	"sync"

	"github.com/Workiva/go-datastructures/augmentedtree"
)

// sample is one recorded skew-out window for a VSMP, the Go form of the
// teacher's threadSpan interval type, adapted from per-PID run/wait spans
// to per-VSMP skewed-out windows.
type sample struct {
	id         uint64
	start, end int64 // cycles
}

func (s *sample) LowAtDimension(d uint64) int64  { return s.start }
func (s *sample) HighAtDimension(d uint64) int64 { return s.end }
func (s *sample) OverlapsAtDimension(j augmentedtree.Interval, d uint64) bool {
	return s.HighAtDimension(d) > j.LowAtDimension(d) && j.HighAtDimension(d) > s.LowAtDimension(d)
}
func (s *sample) ID() uint64 { return s.id }

const queryDimension = 1

// History is a rolling diagnostic record of a VSMP's skewed-out windows,
// queryable by cycle range ("was this VSMP skewed out at any point during
// [start,end)?"). It exists purely for introspection (the server's
// debugging surface); the live skew detector does not consult it.
type History struct {
	mu     sync.Mutex
	tree   augmentedtree.Tree
	nextID uint64
}

// NewHistory returns an empty skew-window history.
func NewHistory() *History {
	return &History{tree: augmentedtree.New(queryDimension)}
}

// Record adds a skewed-out window [start, end) in cycles.
func (h *History) Record(start, end int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	h.tree.Add(&sample{id: h.nextID, start: start, end: end})
}

// OverlapsAny reports whether any recorded skewed-out window overlaps
// [start, end).
func (h *History) OverlapsAny(start, end int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	q := &sample{start: start, end: end}
	return len(h.tree.Query(q)) > 0
}

// Len returns the number of windows recorded.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return int(h.tree.Len())
}
