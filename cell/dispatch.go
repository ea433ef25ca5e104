package cell

import (
	"math/rand"

	"github.com/google/vsched/entity"
	"github.com/google/vsched/ht"
	"github.com/google/vsched/skew"
	"github.com/google/vsched/timerif"
	"github.com/google/vsched/vtime"
)

// Candidate is one vCPU considered by acceptable's step 6 checks.
type Candidate struct {
	VCPU *entity.VCPU
}

// acceptable applies choose-next step 6's per-candidate checks: hard
// affinity, HT sharing policy, and co-schedulability (every vCPU the skew
// detector says must co-schedule with this one has somewhere it could go).
func acceptable(p *PCPU, c Candidate, policy *ht.Policy, sk *skew.Detector) bool {
	vc := c.VCPU
	if vc.Affinity != 0 && !vc.Affinity.Allows(p.ID) {
		return false
	}
	var partnerVSMP *entity.VSMP
	partnerIdle := true
	if p.HTPartner != nil && p.HTPartner.Running != nil {
		partnerVSMP = p.HTPartner.Running.VSMP
		partnerIdle = p.HTPartner.Running.Idle
	}
	if policy != nil && vc.VSMP != nil && !policy.PackageSharingAllowed(vc.VSMP, partnerVSMP, partnerIdle) {
		return false
	}
	if sk != nil && vc.VSMP != nil && !vc.VSMP.IsUniprocessor() {
		for _, sib := range sk.MustCoscheduleSet(vc.VSMP) {
			if sib != vc && !placeable(p, sib) {
				return false
			}
		}
	}
	return true
}

// placeable is a conservative per-sibling feasibility check used while
// deciding whether a candidate is acceptable at all: sib's hard affinity
// must permit running somewhere in this cell. The actual greedy matching of
// siblings to distinct PCPU slots (no-migration pass, then migration pass,
// never reusing an already-taken slot) happens in CoscheduleSiblings once a
// concrete winner has been chosen.
func placeable(p *PCPU, sib *entity.VCPU) bool {
	if sib.Affinity == 0 {
		return true
	}
	for pcpu := range p.cell.pcpus {
		if sib.Affinity.Allows(pcpu) {
			return true
		}
	}
	return false
}

// queueCandidate is one contender gathered by chooseFromCandidates: a vCPU
// (or p's idle world, or p's own currently-running vCPU reconsidered in
// place) paired with the vtime.Context and bonus it should be compared
// under, and -- for a vCPU found in a different, try-locked cell -- the
// cell it must be migrated out of before it can be dispatched locally.
type queueCandidate struct {
	vc     *entity.VCPU
	ctx    vtime.Context
	bonus  int64
	remote *Cell
}

// ChooseNext runs the choose-next algorithm with p.cell locked, selecting
// and dispatching the next vCPU to run on p. bonusCycles is the overshoot
// bonus p's currently-running vCPU accrued as of the last context switch
// (PendingBonus), weighed against fresh candidates so a VSMP that merely ran
// slightly past its entitlement isn't needlessly evicted. remoteCells lists
// every other cell in the machine, one of which may be try-locked for a
// cross-cell candidate; lookup resolves a group id to its current vtime for
// extra-mode comparisons. Returns the dispatched vCPU (p.Idle if nothing
// else is eligible, or nil if even no idle world is installed).
func (p *PCPU) ChooseNext(policy *ht.Policy, sk *skew.Detector, bonusCycles int64, remoteCells []*Cell, lookup vtime.GroupVtimeLookup) *entity.VCPU {
	p.cell.assertLocked()

	// Step 1: handoff / directed yield.
	if p.Handoff != nil {
		vc := p.Handoff
		p.Handoff = nil
		if acceptable(p, Candidate{VCPU: vc}, policy, sk) {
			entity.Dispatch(vc, p.ID)
			return vc
		}
		entity.SetRunState(vc, entity.Ready)
		entity.Requeue(vc, &p.queues.Main)
	}
	if p.DirectedYield != nil {
		vc := p.DirectedYield
		p.DirectedYield = nil
		if vc.RunState == entity.Ready && acceptable(p, Candidate{VCPU: vc}, policy, sk) {
			entity.Dispatch(vc, p.ID)
			return vc
		}
	}

	// Step 2: migration allowances. pcpu migration is gated by its own
	// deadline; cell migration additionally requires pcpu migration to be
	// allowed; runner-move is independent of both. This implementation has
	// no distinct "move the current runner without a dispatch decision"
	// action, so runnerMoveOK only advances its own deadline.
	now := p.cell.now
	jitter := p.migrateJitter.jitterChance
	period := migratePeriodCyclesFor(p)
	pcpuOK := migrationDue(now, p.nextMigrateAllowed, rand.Int(), jitter)
	cellOK := pcpuOK && migrationDue(now, p.nextCellMigrateAllowed, rand.Int(), jitter)
	runnerMoveOK := migrationDue(now, p.nextRunnerMoveAllowed, rand.Int(), jitter)
	if pcpuOK {
		p.nextMigrateAllowed = now + period
	}
	if cellOK {
		p.nextCellMigrateAllowed = now + period
	}
	if runnerMoveOK {
		p.nextRunnerMoveAllowed = now + period
	}

	// Step 3: invalidate the group-vtime cache for this round.
	p.InvalidateGroupVtimeCache()

	// Step 4: refresh this pcpu's own preemption snapshot -- either the
	// vtime context of whatever it's currently running, or, if it's idle,
	// an HT-aware synthetic "idle vtime" reflecting the partner's state.
	// Remote pcpus read this snapshot back when they scan p's queues below.
	p.refreshPreemption(bonusCycles)

	winner := p.chooseFromCandidates(policy, sk, pcpuOK, cellOK, remoteCells, lookup, false, bonusCycles)
	if winner == nil {
		// Step 7: nothing runnable against main vtime; repeat against extra.
		winner = p.chooseFromCandidates(policy, sk, pcpuOK, cellOK, remoteCells, lookup, true, bonusCycles)
	}

	switch {
	case winner != nil && winner == p.Running:
		return winner
	case winner != nil:
		entity.Dispatch(winner, p.ID)
		CoscheduleSiblings(p, winner, sk)
		return winner
	case p.Idle != nil:
		entity.Dispatch(p.Idle, p.ID)
		return p.Idle
	default:
		return nil
	}
}

// migratePeriodCyclesFor converts p's migrateJitter.period into cycles at
// p's cell's timer frequency.
func migratePeriodCyclesFor(p *PCPU) timerif.Cycles {
	if p.cell.timer == nil {
		return timerif.Cycles(p.migrateJitter.period)
	}
	return timerif.Cycles(migratePeriodCycles(p.migrateJitter.period, p.cell.timer.CyclesPerSecond()))
}

// chooseFromCandidates runs one pass (main or extra) of steps 5-8: gather
// the idle-vtime, current-vcpu-with-bonus, local-queue, remote-same-cell-
// queue, and (if cell migration is allowed) one remote-cell-queue
// candidate, filter each by acceptable, and return the vCPU with the
// minimum bonus-adjusted vtime-context under the relevant (main/extra)
// comparison; ties resolve in encounter order (the order candidates are
// considered in below). A remote-cell candidate that wins has already been
// migrated into p's cell by the time this returns.
func (p *PCPU) chooseFromCandidates(policy *ht.Policy, sk *skew.Detector, pcpuOK, cellOK bool, remoteCells []*Cell, lookup vtime.GroupVtimeLookup, extra bool, bonusCycles int64) *entity.VCPU {
	var best *queueCandidate

	consider := func(c *queueCandidate) {
		if !acceptable(p, Candidate{VCPU: c.vc}, policy, sk) {
			return
		}
		if best == nil || vtime.Compare(c.ctx, c.bonus, best.ctx, best.bonus, extra, lookup) < 0 {
			best = c
		}
	}

	// Step 5, in order: idle vtime, current-vcpu with bonus, local main/
	// extra queue, remote queues in this cell (or just the HT partner if
	// pcpu migration is disallowed), then one randomly chosen remote cell.
	if p.Idle != nil && p.Idle.RunState != entity.Run {
		consider(&queueCandidate{vc: p.Idle, ctx: p.idleVtimeContext()})
	}
	if p.Running != nil && !p.Running.Idle && p.Running.VSMP != nil {
		consider(&queueCandidate{vc: p.Running, ctx: p.Running.VSMP.VtimeContext(), bonus: bonusCycles})
	}

	localQueue(p, extra).Each(func(vc *entity.VCPU) {
		consider(&queueCandidate{vc: vc, ctx: vtimeContextOf(vc)})
	})

	if pcpuOK {
		for other, sh := range p.cell.pcpus {
			if other == p.ID {
				continue
			}
			localQueue(sh, extra).Each(func(vc *entity.VCPU) {
				consider(&queueCandidate{vc: vc, ctx: vtimeContextOf(vc)})
			})
		}
	} else if p.HTPartner != nil {
		localQueue(p.HTPartner, extra).Each(func(vc *entity.VCPU) {
			consider(&queueCandidate{vc: vc, ctx: vtimeContextOf(vc)})
		})
	}

	if cellOK && len(remoteCells) > 0 {
		remote := remoteCells[rand.Intn(len(remoteCells))]
		if remote != p.cell && remote.TryLock() {
			bestBefore := best
			for _, sh := range remote.pcpus {
				localQueue(sh, extra).Each(func(vc *entity.VCPU) {
					consider(&queueCandidate{vc: vc, ctx: vtimeContextOf(vc), remote: remote})
				})
			}
			if best == bestBefore || best.remote != remote {
				remote.Unlock()
			}
		}
	}

	if best == nil {
		return nil
	}
	if best.remote != nil {
		MigrateCandidate(best.vc, best.remote, p.cell, p)
		best.remote.Unlock()
	}
	return best.vc
}

// localQueue returns p's main or extra run queue.
func localQueue(p *PCPU, extra bool) *entity.Queue {
	if extra {
		return &p.queues.Extra
	}
	return &p.queues.Main
}

func vtimeContextOf(vc *entity.VCPU) vtime.Context {
	if vc.VSMP == nil {
		return vtime.Context{}
	}
	return vc.VSMP.VtimeContext()
}

// refreshPreemption implements choose-next step 4's snapshot update for p
// itself, consulted by other PCPUs' choose-next rounds when they scan p's
// queues instead of recomputing p's state themselves.
func (p *PCPU) refreshPreemption(bonusCycles int64) {
	if p.Running != nil && !p.Running.Idle && p.Running.VSMP != nil {
		ctx := p.Running.VSMP.VtimeContext()
		p.Preemption = PreemptionSnapshot{VSMP: p.Running.VSMP, Main: ctx.Main, Extra: ctx.Extra, Stride: ctx.Stride, BonusCycles: bonusCycles, Valid: true}
		return
	}
	ctx := p.idleVtimeContext()
	p.Preemption = PreemptionSnapshot{Main: ctx.Main, Extra: ctx.Extra, Stride: ctx.Stride, Valid: true}
}

// idleVtimeContext computes the HT-aware "idle vtime" choose-next step 4
// describes: when p's HT partner is busy running a real (non-idle) vCPU,
// idling is efficient (the partner gets the whole physical package), so
// idling is presented at the partner's own vtime, letting it compete fairly
// instead of always losing to any ready work. With no busy partner, idling
// offers no such benefit, so it's presented as maximally unattractive.
func (p *PCPU) idleVtimeContext() vtime.Context {
	if p.HTPartner != nil && p.HTPartner.Running != nil && !p.HTPartner.Running.Idle && p.HTPartner.Running.VSMP != nil {
		return p.HTPartner.Running.VSMP.VtimeContext()
	}
	return vtime.Context{Main: vtime.VtimeMax, Extra: vtime.VtimeMax, Stride: vtime.Stride1}
}
