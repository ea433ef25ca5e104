package scheduler

import (
	"github.com/google/vsched/cell"
	"github.com/google/vsched/group"
)

// Reallocate runs the allocation tree's balance pass if it's dirty (any
// admin change since the last pass), the Go form of spec.md §4.B's
// periodic rebalance. It supplies the façade's own lockAllCells (every
// cell, ascending id order, per I6) and itself as the CellRequeuer so a
// rescaled VSMP's cached group-vtime entries are dropped machine-wide.
func (s *Scheduler) Reallocate() error {
	return s.tree.Reallocate(s.lockAllCells, s)
}

// RequeueForNewBase implements group.CellRequeuer: a VSMP's base
// shares/stride changed underneath it, so every cell's per-PCPU
// group-vtime cache must stop trusting its stale entry for that leaf. It
// runs inside the balance commit, which already holds every cell lock
// (lockAllCells), so it takes no cell lock of its own. The
// affected VSMP's actual run-queue bucket (main vs extra) is reclassified
// lazily, the next time one of its vCPUs is requeued by ContextSwitch.
func (s *Scheduler) RequeueForNewBase(leafID group.ID) {
	s.regMu.Lock()
	_, ok := s.leafToVSMP[leafID]
	s.regMu.Unlock()
	if !ok {
		return
	}
	s.cellsMu.Lock()
	order := append([]cell.ID(nil), s.cellOrder...)
	s.cellsMu.Unlock()
	for _, id := range order {
		for _, sh := range s.cellPCPUs[id] {
			sh.InvalidateGroupVtimeCache()
		}
	}
}
