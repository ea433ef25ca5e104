package cell

import (
	"github.com/google/vsched/entity"
	"github.com/google/vsched/skew"
	"github.com/google/vsched/topo"
)

// CoscheduleSiblings implements choose-next's "Co-schedule execution" pass,
// run once winner has been selected for dispatch on p: every vCPU of
// winner's VSMP that sk says must co-schedule gets placed on a distinct
// PCPU of p's cell via pcpu_corun, a no-migration pass (the sibling's own
// current PCPU, if free) followed by a migration pass (any other free,
// affinity-permitted PCPU in the cell), without reusing an already-taken
// slot. A sibling with no feasible slot this round is left queued; the skew
// sampler will ask again next time it runs.
func CoscheduleSiblings(p *PCPU, winner *entity.VCPU, sk *skew.Detector) {
	if winner == nil || winner.VSMP == nil || winner.VSMP.IsUniprocessor() || sk == nil {
		return
	}
	must := sk.MustCoscheduleSet(winner.VSMP)
	if len(must) == 0 {
		return
	}

	taken := map[topo.PCPUID]bool{p.ID: true}
	for id, sh := range p.cell.pcpus {
		if sh.Running != nil && !sh.Running.Idle {
			taken[id] = true
		}
	}

	for _, sib := range must {
		if sib == winner || sib.RunState == entity.Run {
			continue
		}
		dst := noMigrationSlot(p, sib, taken)
		if dst == nil {
			dst = migrationSlot(p, sib, taken)
		}
		if dst == nil {
			continue
		}
		pcpuCorun(dst, sib)
		taken[dst.ID] = true
	}
}

// noMigrationSlot returns sib's current PCPU if it's still free and
// affinity-permitted, else nil.
func noMigrationSlot(p *PCPU, sib *entity.VCPU, taken map[topo.PCPUID]bool) *PCPU {
	dst, ok := p.cell.pcpus[sib.PCPU]
	if !ok || taken[dst.ID] || !sib.Affinity.Allows(dst.ID) {
		return nil
	}
	return dst
}

// migrationSlot returns any other free, affinity-permitted PCPU in p's
// cell for sib, or nil if none remain.
func migrationSlot(p *PCPU, sib *entity.VCPU, taken map[topo.PCPUID]bool) *PCPU {
	for id, sh := range p.cell.pcpus {
		if taken[id] || !sib.Affinity.Allows(id) {
			continue
		}
		return sh
	}
	return nil
}

// pcpuCorun places sib onto dst ahead of dst's next dispatch round: removed
// from whatever run queue it's on, transitioned READY->READY_CORUN, handed
// off via dst.Handoff, its preemption snapshot invalidated, and dst marked
// for reschedule.
func pcpuCorun(dst *PCPU, sib *entity.VCPU) {
	entity.Remove(sib)
	entity.SetRunState(sib, entity.ReadyCorun)
	dst.Handoff = sib
	dst.Preemption = PreemptionSnapshot{}
	dst.MarkReschedule()
}
