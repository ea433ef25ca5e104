package ht

import "github.com/google/vsched/entity"

// Exponential-moving-average factors from spec.md §4.E: slow tracks 19/20
// of the prior value, fast tracks 2/3.
const (
	slowNum, slowDen = 19, 20
	fastNum, fastDen = 2, 3
)

// MachineClearTracker maintains the slow/fast EMAs of machine_clear_any
// counter deltas for one vCPU, sampled every HT_EVENT_PERIOD of used time.
type MachineClearTracker struct {
	slow, fast int64 // per-million-cycles rescaled EMA values
	lastCounter int64
}

// NewMachineClearTracker returns a zeroed tracker.
func NewMachineClearTracker() *MachineClearTracker {
	return &MachineClearTracker{}
}

// Sample records a new raw machine_clear_any counter reading alongside the
// used-cycles interval it was accumulated over, updating both EMAs with the
// per-million-cycles rescaled delta.
func (m *MachineClearTracker) Sample(counter, usedCycles int64) {
	delta := counter - m.lastCounter
	m.lastCounter = counter
	if delta < 0 {
		delta = 0
	}
	if usedCycles <= 0 {
		return
	}
	rate := (delta * 1_000_000) / usedCycles
	m.slow = ema(m.slow, rate, slowNum, slowDen)
	m.fast = ema(m.fast, rate, fastNum, fastDen)
}

func ema(prev, sample, num, den int64) int64 {
	return (prev*num + sample*(den-num)) / den
}

// Exceeds reports whether either EMA exceeds threshold (per-million-cycles).
func (m *MachineClearTracker) Exceeds(threshold int64) bool {
	return m.slow > threshold || m.fast > threshold
}

// QuarantineSampler drives Policy.SetQuarantined from per-vCPU
// MachineClearTrackers: a VSMP is quarantined the moment any of its vCPUs
// exceeds the threshold, and released only once every vCPU has dropped back
// below it.
type QuarantineSampler struct {
	policy    *Policy
	threshold int64
	trackers  map[*entity.VCPU]*MachineClearTracker
}

// NewQuarantineSampler returns a sampler enforcing threshold (per-million-
// cycles) against policy.
func NewQuarantineSampler(policy *Policy, threshold int64) *QuarantineSampler {
	return &QuarantineSampler{policy: policy, threshold: threshold, trackers: map[*entity.VCPU]*MachineClearTracker{}}
}

// trackerFor returns (creating if needed) vc's tracker.
func (s *QuarantineSampler) trackerFor(vc *entity.VCPU) *MachineClearTracker {
	t, ok := s.trackers[vc]
	if !ok {
		t = NewMachineClearTracker()
		s.trackers[vc] = t
	}
	return t
}

// Sample records one HT_EVENT_PERIOD reading for vc and re-evaluates its
// VSMP's quarantine state.
func (s *QuarantineSampler) Sample(vc *entity.VCPU, counter, usedCycles int64) {
	s.trackerFor(vc).Sample(counter, usedCycles)
	s.reevaluate(vc.VSMP)
}

func (s *QuarantineSampler) reevaluate(v *entity.VSMP) {
	if v == nil {
		return
	}
	anyExceeds := false
	for _, vc := range v.VCPUs {
		if s.trackerFor(vc).Exceeds(s.threshold) {
			anyExceeds = true
			break
		}
	}
	if anyExceeds {
		s.policy.SetQuarantined(v, true)
	} else if s.policy.Quarantined(v) {
		s.policy.SetQuarantined(v, false)
	}
}
