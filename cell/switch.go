package cell

import (
	"github.com/google/vsched/entity"
	"github.com/google/vsched/ht"
	"github.com/google/vsched/skew"
	"github.com/google/vsched/timerif"
	"github.com/google/vsched/vtime"
)

// SwitchResult reports what ContextSwitch did, for metrics/logging.
type SwitchResult struct {
	Prev, Next   *entity.VCPU
	ChargedCycles int64
	BonusCycles   int64
	Migrated      bool
}

// ContextSwitch implements spec.md §4.D's seven-step context switch from
// prev (the vCPU finishing its quantum on p, may be nil if p was idle) to
// next (already selected by ChooseNext and already transitioned to Run).
// Must be called with p.cell locked; quantumCycles is the configured
// quantum length in cycles (full, or the remainder inherited on a directed
// yield, or an idle-specific quantum -- the caller picks which to pass).
func (p *PCPU) ContextSwitch(prev, next *entity.VCPU, rawCycles int64, policy *ht.Policy, sk *skew.Detector, quantumCycles int64, t timerif.Timer) SwitchResult {
	p.cell.assertLocked()
	res := SwitchResult{Prev: prev, Next: next}

	if prev != nil {
		// Step 1: unwind any busy-wait.
		if prev.RunState == entity.BusyWait {
			entity.SetRunState(prev, entity.Wait)
		}
		// Step 2: charge prev's usage to its VSMP and group path.
		ceiling := int64(p.cell.now) + quantumCycles
		charged, bonus := p.chargeCycles(prev, rawCycles, ceiling, policy)
		res.ChargedCycles, res.BonusCycles = charged, bonus
		p.lastBonusCycles = bonus
		if prev.RunMeter != nil {
			prev.RunMeter.Record(rawCycles)
		}
		if prev.Idle {
			p.HaltHistory.RecordHalt(int64(p.LastDispatch), int64(p.cell.now))
		}

		// Step 3: deschedule prev per uniprocessor/MP rules.
		if prev.RunState == entity.Run {
			nonSibling := next == nil || next.VSMP != prev.VSMP
			if prev.VSMP != nil && !prev.VSMP.IsUniprocessor() && nonSibling && sk != nil {
				needsCosched := false
				for _, sib := range prev.VSMP.VCPUs {
					if sk.NeedsCosched(sib) {
						needsCosched = true
						break
					}
				}
				if needsCosched {
					skew.AdvanceCoState(prev.VSMP, true, true)
				}
			}
			entity.SetRunState(prev, entity.Ready)
			entity.Requeue(prev, queueFor(p, prev))
		}
	}

	if next != nil && next.VSMP != nil {
		if next.VSMP.CoState == entity.CoStop || next.VSMP.CoState == entity.CoReady {
			skew.AdvanceCoState(next.VSMP, false, false)
		}
		p.quantumExpire = timerif.Cycles(int64(p.cell.now) + quantumCycles)
	}
	p.Running = next
	return res
}

// queueFor returns the run queue prev should rejoin: main if its VSMP is
// not "ahead" of its entitlement, extra otherwise, per spec.md's
// queue_add mapping.
func queueFor(p *PCPU, vc *entity.VCPU) *entity.Queue {
	if vc.VSMP != nil && vtimeAhead(vc.VSMP) {
		return &p.queues.Extra
	}
	return &p.queues.Main
}

// vtimeAhead reports whether v's main vtime has outrun its vtimeLimit,
// meaning further running time should draw from the opportunistic extra
// clock rather than main.
func vtimeAhead(v *entity.VSMP) bool {
	vt, limit, _ := v.VtimeSnapshot()
	return vt > limit
}

// chargeCycles converts rawCycles of prev's run time into a vtime delta and
// applies it to prev's VSMP, returning the charged cycles (post HT
// adjustment) and any overshoot recorded as bonus cycles. The clamp ceiling
// is ceiling (the cell's now plus one quantum, in cycles) converted to vtime
// at prev's stride; the cell's own vtime is not consulted. The partner-halt credit
// is the actual overlap between prev's quantum and the HT partner's
// recorded halted windows, not a flat heuristic.
func (p *PCPU) chargeCycles(prev *entity.VCPU, rawCycles, ceiling int64, policy *ht.Policy) (charged, bonus int64) {
	if prev.VSMP == nil {
		return 0, 0
	}
	var partnerHaltedCycles int64
	if p.HTPartner != nil && p.HTPartner.HaltHistory != nil {
		partnerHaltedCycles = p.HTPartner.HaltHistory.HaltedCycles(int64(p.LastDispatch), int64(p.cell.now))
	}
	charged, _ = ht.Apply(rawCycles, partnerHaltedCycles, prev.Idle, 0, rawCycles)
	_, _, stride := prev.VSMP.VtimeSnapshot()
	delta := vtime.CyclesToVtime(stride, charged)
	ceilingVtime := vtime.CyclesToVtime(stride, ceiling)
	overshoot := prev.VSMP.Node.AddVtime(delta, ceilingVtime)
	if overshoot > 0 {
		bonus = vtime.VtimeToCycles(stride, overshoot)
	}
	return charged, bonus
}
