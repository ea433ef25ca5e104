package cell

import (
	"github.com/google/vsched/entity"
)

// Migrate moves v from its current cell (src, already locked by the caller)
// to dst (also already locked), per spec.md §4.D step 4: atomically under
// both cell locks, syncing clocks element-wise-max, and moving the PCPU
// pointer of each of v's vCPUs in Run to a PCPU within dst (pcpu, chosen by
// the caller); vCPUs in any other state keep their PCPU pointer.
func Migrate(vc *entity.VSMP, vcell *VSMPCell, src, dst *Cell, pcpu *PCPU) {
	src.assertLocked()
	dst.assertLocked()
	if src == dst {
		return
	}
	syncClocks(src, dst)
	src.removeResident(vc)
	dst.addResident(vc, vcell)
	vcell.set(dst)
	for _, v := range vc.VCPUs {
		if v.RunState == entity.Run {
			v.PCPU = pcpu.ID
		}
	}
}

// MigrateCandidate is the choose-next step-5 remote-cell entry point: winner
// was found sitting in src's queues (already try-locked by the caller), and
// is about to be dispatched onto target, which belongs to dst (already
// locked by the caller, since ChooseNext always runs with its own cell
// locked). It migrates winner's whole VSMP into dst and relocates any other
// still-queued sibling vCPUs onto target's queues too, since a PCPU's run
// queues are cell-local and don't follow a VSMP across a cross-cell
// migration the way vcell's pointer does.
func MigrateCandidate(winner *entity.VCPU, src, dst *Cell, target *PCPU) {
	v := winner.VSMP
	if v == nil {
		return
	}
	box := src.vsmpCellBox(v)
	if box == nil {
		return
	}
	entity.Remove(winner)
	Migrate(v, box, src, dst, target)
	for _, sib := range v.VCPUs {
		if sib == winner {
			continue
		}
		switch sib.RunState {
		case entity.Ready, entity.ReadyCorun, entity.ReadyCostop:
			entity.Remove(sib)
			target.QueueAdd(sib, false)
		}
	}
}

// syncClocks implements spec.md's cross-cell time sync: both cells' now and
// vtime become the element-wise max of the two, preserving monotonicity.
func syncClocks(a, b *Cell) {
	if b.now > a.now {
		a.now = b.now
	} else {
		b.now = a.now
	}
	if b.vtime > a.vtime {
		a.vtime = b.vtime
	} else {
		b.vtime = a.vtime
	}
}

// MigrationAllowed reports whether p's migrate-allowance timestamp permits
// a migration attempt at nowCycles, with a 1-in-jitterChance override so an
// idle PCPU still scans occasionally even before its deadline (jitterRoll
// is supplied by the caller so this stays deterministic and testable).
func MigrationAllowed(nowCycles, nextAllowed int64, jitterRoll, jitterChance int) bool {
	if nowCycles >= nextAllowed {
		return true
	}
	if jitterChance <= 0 {
		return false
	}
	return jitterRoll%jitterChance == 0
}
