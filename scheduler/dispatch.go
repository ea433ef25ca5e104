package scheduler

import (
	"github.com/google/vsched/cell"
	"github.com/google/vsched/config"
	"github.com/google/vsched/entity"
	"github.com/google/vsched/group"
	"github.com/google/vsched/topo"
	"github.com/google/vsched/vtime"
)

// quantumCycles converts the configured quantum duration into this
// scheduler's cycle units, using the timer's calibrated frequency.
func (s *Scheduler) quantumCycles() int64 {
	return s.cfg.Quantum.Nanoseconds() * s.timer.CyclesPerSecond() / 1_000_000_000
}

// Tick drives one timer interrupt's worth of work on pcpu: advances its
// cell's clock, evaluates the quantum/defer reschedule rule, and -- if a
// reschedule is due -- runs one full choose-next/context-switch cycle. It is
// the façade's single entry point for the sim harness and any real timer
// callback to drive forward progress; every lower-level step it calls
// requires the cell lock, which Tick acquires once and holds for the whole
// round.
func (s *Scheduler) Tick(pcpu topo.PCPUID, tickCount int) {
	c := s.Cell(pcpu)
	p := s.pcpuShadow[pcpu]
	if c == nil || p == nil {
		return
	}
	nStride := vtime.NStride(len(s.cellPCPUs[s.pcpuCell[pcpu]]))

	c.Lock()
	defer c.Unlock()

	now := s.timer.NowCycles()
	c.UpdateTime(now, nStride)

	due := p.TimerTick(s.cfg.ReschedOpt, tickCount, s.cfg.DeferredReschedTicks)
	if due || p.ConsumeReschedule() {
		s.dispatchLocked(c, p)
	}
}

// MarkReschedule sets pcpu's local reschedule flag, the Go form of spec.md
// §6's async_check_actions nudging a remote PCPU to re-run choose-next at
// its next tick rather than waiting out its full quantum.
func (s *Scheduler) MarkReschedule(pcpu topo.PCPUID) {
	c := s.Cell(pcpu)
	p := s.pcpuShadow[pcpu]
	if c == nil || p == nil {
		return
	}
	c.Lock()
	defer c.Unlock()
	p.MarkReschedule()
}

// AsyncCheckActions arms the target pcpu's local reschedule flag and, only
// when config.ReschedOpt is ReschedAlways, also sends it a reschedule IPI.
// Every other option, ReschedPreemptible included, sends no IPI.
func (s *Scheduler) AsyncCheckActions(pcpu topo.PCPUID) {
	s.MarkReschedule(pcpu)
	if s.cfg.ReschedOpt == config.ReschedAlways && s.ipi != nil {
		s.ipi.SendIPI(pcpu, 1)
	}
}

// ActionNotifyVcpu sets vc's pending action-wakeup bits and nudges its
// current PCPU to reconsider, the Go form of spec.md §6's
// action_notify_vcpu.
func (s *Scheduler) ActionNotifyVcpu(vc *entity.VCPU, mask uint32) {
	entity.NotifyAction(vc, mask)
	entity.ForceWakeup(vc)
	s.enqueueReady(vc)
}

// ForceWakeup makes vc ready and nudges its PCPU to reschedule, re-exporting
// entity.ForceWakeup plus the notification step spec.md's wait family
// expects every wakeup path to perform.
func (s *Scheduler) ForceWakeup(vc *entity.VCPU) {
	entity.ForceWakeup(vc)
	s.enqueueReady(vc)
}

// enqueueReady places a just-readied vc onto its vsmp's cell, choosing the
// first PCPU its affinity mask allows (preferring its last-run PCPU when
// that is still allowed), and nudges that PCPU to reconsider. A no-op for
// vCPUs with no VSMP (there should be none; every vCPU belongs to exactly
// one) or whose VSMP's cell has since been torn down.
//
// maxLimited is always false here: per-VSMP Max enforcement is applied by
// the balance algorithm rescaling shares/stride (package group), not by
// withholding a ready vCPU from the run queue, so QueueAdd's limbo branch
// is unused on this path.
func (s *Scheduler) enqueueReady(vc *entity.VCPU) {
	if vc.RunState != entity.Ready || vc.VSMP == nil {
		return
	}
	c, err := s.cellFor(vc.VSMP.ID)
	if err != nil {
		return
	}

	pcpus := s.cellPCPUs[c.ID]
	if len(pcpus) == 0 {
		c.Unlock()
		return
	}
	var target *cell.PCPU
	for _, p := range pcpus {
		if !vc.Affinity.Allows(p.ID) {
			continue
		}
		if p.ID == vc.PCPU {
			target = p
			break
		}
		if target == nil {
			target = p
		}
	}
	if target == nil {
		target = pcpus[0]
	}
	vc.PCPU = target.ID
	target.QueueAdd(vc, false)
	target.MarkReschedule()
	c.Unlock()

	if s.cfg.ReschedOpt == config.ReschedAlways && s.ipi != nil {
		s.ipi.SendIPI(target.ID, 1)
	}
}

// remoteCells returns every cell other than c, for ChooseNext's cross-cell
// candidate step. c is excluded by pointer identity rather than id so this
// stays correct even if cell ids are ever renumbered.
func (s *Scheduler) remoteCells(c *cell.Cell) []*cell.Cell {
	all := s.Cells()
	out := make([]*cell.Cell, 0, len(all))
	for _, other := range all {
		if other != c {
			out = append(out, other)
		}
	}
	return out
}

// dispatchLocked runs one choose-next/context-switch round on p. Must be
// called with c (== p's owning cell) locked.
func (s *Scheduler) dispatchLocked(c *cell.Cell, p *cell.PCPU) {
	prev := p.Running
	now := s.timer.NowCycles()
	var rawCycles int64
	if prev != nil {
		rawCycles = int64(now) - int64(p.LastDispatch)
		if rawCycles < 0 {
			rawCycles = 0
		}
	}
	lookup := func(id vtime.GroupID) (int64, bool) {
		n := s.tree.Lookup(group.ID(id))
		if n == nil {
			return 0, false
		}
		vt, _, _ := p.LookupGroupVtime(n)
		return vt, true
	}
	next := p.ChooseNext(s.policy, s.skewDet, p.PendingBonus(), s.remoteCells(c), lookup)
	if next == prev {
		p.LastDispatch = now
		return
	}
	p.ContextSwitch(prev, next, rawCycles, s.policy, s.skewDet, s.quantumCycles(), s.timer)
	p.LastDispatch = now
}
