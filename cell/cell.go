// Package cell implements the scheduler-cell partitioned locking domain
// (spec.md §4.D): the per-cell spinlock with "lock and recheck", per-PCPU
// run queues and group-vtime cache, the choose-next dispatch algorithm,
// context switch, and cross-cell migration.
package cell

import (
	"sync"

	"github.com/google/vsched/entity"
	"github.com/google/vsched/timerif"
	"github.com/google/vsched/topo"
	"github.com/google/vsched/vserr"
)

// maxLockRetries bounds the "lock and recheck" loop purely to detect bugs;
// expected retries are zero (spec.md §4.D).
const maxLockRetries = 1 << 20

// ID identifies a scheduler cell.
type ID int

// Cell partitions a subset of PCPUs under one lock, owning their resident
// VSMPs' dispatch state.
type Cell struct {
	ID   ID
	mu   sync.Mutex
	pcpus map[topo.PCPUID]*PCPU

	now        timerif.Cycles
	vtime      int64
	lostCycles int64 // backward-excursion accounting when now regresses

	resident map[*entity.VSMP]*VSMPCell

	resetLG      uint
	resetHandle  timerif.Handle
	timer        timerif.Timer

	locked bool // debug assertion aid; mu itself provides real exclusion
}

// NewCell returns an empty Cell with the given id and reset threshold
// shift (vtime.ResetThreshold(resetLG)).
func NewCell(id ID, resetLG uint, timer timerif.Timer) *Cell {
	return &Cell{
		ID:       id,
		pcpus:    map[topo.PCPUID]*PCPU{},
		resident: map[*entity.VSMP]*VSMPCell{},
		resetLG:  resetLG,
		timer:    timer,
	}
}

// AddPCPU registers a PCPU shadow as resident in this cell.
func (c *Cell) AddPCPU(p topo.PCPUID) *PCPU {
	c.mu.Lock()
	defer c.mu.Unlock()
	sh := newPCPU(p, c)
	c.pcpus[p] = sh
	return sh
}

// PCPU returns the shadow for p, or nil.
func (c *Cell) PCPU(p topo.PCPUID) *PCPU {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pcpus[p]
}

// Lock acquires the cell's dispatch lock.
func (c *Cell) Lock() { c.mu.Lock(); c.locked = true }

// Unlock releases the cell's dispatch lock.
func (c *Cell) Unlock() { c.locked = false; c.mu.Unlock() }

// TryLock attempts to acquire the cell's lock without blocking, for the
// choose-next algorithm's "one randomly chosen remote cell, try-locked"
// step.
func (c *Cell) TryLock() bool {
	if c.mu.TryLock() {
		c.locked = true
		return true
	}
	return false
}

// assertLocked is the debug-only lock-order assertion named in
// SPEC_FULL.md: callers performing direct resident-map mutation must hold
// the lock. It panics (via vserr.MustNotHappen) rather than racing.
func (c *Cell) assertLocked() {
	if !c.locked {
		vserr.MustNotHappen("cell: operation requires lock held")
	}
}

// addResident associates v, boxed in vc, with this cell. Must be called
// with c locked.
func (c *Cell) addResident(v *entity.VSMP, vc *VSMPCell) {
	c.assertLocked()
	c.resident[v] = vc
}

func (c *Cell) removeResident(v *entity.VSMP) {
	c.assertLocked()
	delete(c.resident, v)
}

// AddResident is the exported form of addResident, for the scheduler façade
// placing a newly-created VSMP into its initial cell. Must be called with c
// locked.
func (c *Cell) AddResident(v *entity.VSMP, vc *VSMPCell) { c.addResident(v, vc) }

// RemoveResident is the exported form of removeResident, for the scheduler
// façade tearing down a VSMP. Must be called with c locked.
func (c *Cell) RemoveResident(v *entity.VSMP) { c.removeResident(v) }

// Residents returns every VSMP currently resident in c. Must be called with
// c locked.
func (c *Cell) Residents() []*entity.VSMP {
	c.assertLocked()
	out := make([]*entity.VSMP, 0, len(c.resident))
	for v := range c.resident {
		out = append(out, v)
	}
	return out
}

// vsmpCellBox returns the VSMPCell box backing v's residency in c, or nil if
// v is not resident here. Consulted by ChooseNext's remote-cell candidate
// path, which needs the box to hand to Migrate. Must be called with c
// locked.
func (c *Cell) vsmpCellBox(v *entity.VSMP) *VSMPCell {
	c.assertLocked()
	return c.resident[v]
}

// PCPUs returns the ids of every PCPU shadow resident in c, in no
// particular order.
func (c *Cell) PCPUs() []topo.PCPUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]topo.PCPUID, 0, len(c.pcpus))
	for id := range c.pcpus {
		out = append(out, id)
	}
	return out
}

// VSMPCell associates a VSMP with the cell currently owning its dispatch
// state; the pointer is read without a lock by LockAndRecheck's initial
// snapshot, so it must only ever be written while holding that cell's lock.
type VSMPCell struct {
	mu   sync.Mutex // guards only the pointer itself, never scheduling state
	cell *Cell
}

// NewVSMPCell returns a pointer box pinned to the given initial cell.
func NewVSMPCell(c *Cell) *VSMPCell {
	return &VSMPCell{cell: c}
}

// Snapshot reads the current cell pointer without acquiring the cell lock.
func (vc *VSMPCell) Snapshot() *Cell {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	return vc.cell
}

// set overwrites the cell pointer; caller must hold the new cell's lock
// (used only by migration, under both cells' locks).
func (vc *VSMPCell) set(c *Cell) {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	vc.cell = c
}

// LockAndRecheck implements spec.md §4.D's "lock and recheck" idiom: snapshot
// vsmpCell without a lock, lock the snapshotted cell, and verify it's still
// current; retry (unlocking first) if a concurrent migration raced ahead of
// us. Returns the now-locked, confirmed-current cell.
func LockAndRecheck(vc *VSMPCell) *Cell {
	for i := 0; i < maxLockRetries; i++ {
		c := vc.Snapshot()
		c.Lock()
		if vc.Snapshot() == c {
			return c
		}
		c.Unlock()
	}
	panic(vserr.Fatalf("cell: lock-and-recheck exceeded %d retries, VSMP cell pointer is churning", maxLockRetries))
}
