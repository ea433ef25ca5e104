package cell

import "github.com/google/vsched/config"

// TimerTick evaluates spec.md §4.D's "Quantum & timer tick" rule on every
// timer interrupt: compares cell.now against the running vCPU's VSMP
// quantum expiry and raises the local reschedule flag on expiry, or every
// deferredTicks-th tick when in deferred-reschedule mode. Must be called
// with p.cell locked. Returns whether a reschedule was requested.
func (p *PCPU) TimerTick(opt config.RescheduleOpt, tickCount, deferredTicks int) bool {
	p.cell.assertLocked()
	if p.Running == nil {
		return false
	}
	expired := int64(p.cell.now) > int64(p.quantumExpire)
	if expired {
		p.reschedule = true
		return true
	}
	if opt == config.ReschedDefer && deferredTicks > 0 && tickCount%deferredTicks == 0 {
		p.reschedule = true
		return true
	}
	return false
}

// MarkReschedule sets p's reschedule flag directly (used by wakeup paths
// that must force a remote PCPU to re-run ChooseNext regardless of quantum
// state).
func (p *PCPU) MarkReschedule() { p.reschedule = true }

// ConsumeReschedule reports and clears p's pending reschedule flag.
func (p *PCPU) ConsumeReschedule() bool {
	r := p.reschedule
	p.reschedule = false
	return r
}
