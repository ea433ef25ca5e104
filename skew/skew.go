// Package skew implements the co-scheduling skew detector (spec.md §4.C,
// §4.D): per-PCPU periodic sampling of a running VSMP's siblings, skew-point
// accounting, the strict/relaxed "skewed out" predicates, and the
// CO_RUN→CO_STOP transition trigger.
package skew

import (
	"github.com/google/vsched/entity"
)

// Points accumulated/lost per sample, per spec.md §4.C.
const (
	pointsNeedsCoschedHT    = 2 // MP, not idle, needs cosched, not HT-limited
	pointsNeedsCoschedNonHT = 1 // same, but non-HT (single logical per package)
	pointsMixedHT           = 1 // mixed whole/half-package HT skew
	pointsDecay             = 2 // lost by a running/idle vCPU each sample, floored at 0
)

// Config bundles the tunables spec.md §6 exposes for skew sampling.
type Config struct {
	// SampleThreshold is the strict-mode skew-point ceiling: a VSMP is
	// "skewed out" in strict mode once the sum of its vCPUs' IntraSkew
	// points exceeds this.
	SampleThreshold int
	// IntraSkewThreshold is the vtime-cycle gap beyond which a non-running
	// sibling is considered to "need" co-scheduling even outside strict mode.
	IntraSkewThreshold int64
	// Relaxed selects relaxed-mode semantics (needsCosched-based) over
	// strict-mode (point-sum-based).
	Relaxed bool
}

// Detector runs the periodic sampler against one VSMP's vCPUs and exposes
// the resulting co-schedulability queries.
type Detector struct {
	cfg Config
}

// New returns a Detector configured with cfg.
func New(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// NeedsCosched reports whether vc "needs" co-scheduling per spec.md's
// predicate: it belongs to an MP VSMP, isn't idle, and either strict mode
// is active or its IntraSkew exceeds the configured threshold.
func (d *Detector) NeedsCosched(vc *entity.VCPU) bool {
	if vc.VSMP == nil || vc.VSMP.IsUniprocessor() || vc.Idle {
		return false
	}
	return !d.cfg.Relaxed || vc.IntraSkew() > d.cfg.IntraSkewThreshold
}

// Sample runs one periodic skew-sampling pass over running's VSMP siblings,
// called from the PCPU currently running the leader/representative vCPU of
// an MP VSMP. It awards or decays skew points on every sibling and returns
// whether the VSMP is now skewed out.
func (d *Detector) Sample(running *entity.VCPU, htMixedPackage bool) bool {
	v := running.VSMP
	if v == nil || v.IsUniprocessor() {
		return false
	}
	anyNeeds := false
	for _, sib := range v.VCPUs {
		if sib == running {
			continue
		}
		switch {
		case sib.RunState == entity.Run || sib.Idle:
			decaySkew(sib, pointsDecay)
		case d.NeedsCosched(sib):
			anyNeeds = true
			if htMixedPackage {
				awardSkew(sib, pointsMixedHT)
			} else if nonHT(sib) {
				awardSkew(sib, pointsNeedsCoschedNonHT)
			} else {
				awardSkew(sib, pointsNeedsCoschedHT)
			}
		}
	}
	return d.IsSkewedOut(v, anyNeeds, htMixedPackage)
}

func awardSkew(vc *entity.VCPU, points int64)  { vc.AddIntraSkew(points) }
func decaySkew(vc *entity.VCPU, points int64)  { vc.AddIntraSkew(-points) }

func sumIntraSkew(v *entity.VSMP) int64 {
	var sum int64
	for _, vc := range v.VCPUs {
		sum += vc.IntraSkew()
	}
	return sum
}

// nonHT reports whether vc's VSMP runs with a sharing policy that doesn't
// engage HT package-splitting (HTNone), in which case skew points are
// awarded at half rate per spec.md ("1 on non-HT").
func nonHT(vc *entity.VCPU) bool {
	return vc.VSMP != nil && vc.VSMP.Sharing == entity.HTNone
}

// IsSkewedOut applies spec.md's strict/relaxed "skewed out" predicate.
// anyNeeds and htMixed are the outputs of the most recent Sample pass (or
// may be recomputed independently for diagnostics).
func (d *Detector) IsSkewedOut(v *entity.VSMP, anyNeeds, htMixed bool) bool {
	if v == nil || v.IsUniprocessor() {
		return false
	}
	if d.cfg.Relaxed {
		return anyNeeds || htMixed
	}
	return sumIntraSkew(v) > int64(d.cfg.SampleThreshold)
}

// MustCoscheduleSet returns every non-idle vCPU of v's VSMP that currently
// needs co-scheduling, the set the dispatcher must gang-dispatch together
// before the VSMP can leave CO_STOP.
func (d *Detector) MustCoscheduleSet(v *entity.VSMP) []*entity.VCPU {
	if v == nil {
		return nil
	}
	var out []*entity.VCPU
	for _, vc := range v.VCPUs {
		if d.NeedsCosched(vc) {
			out = append(out, vc)
		}
	}
	return out
}

// Descheduleable reports whether v is eligible to be CO_STOPped: per
// spec.md's CO_RUN→CO_STOP transition, a non-sibling has been selected to
// run on one of its PCPUs and the VSMP is not already stopped.
func Descheduleable(v *entity.VSMP) bool {
	return v != nil && v.CoState == entity.CoRun
}

// AdvanceCoState applies the CO_RUN/CO_STOP/CO_READY transition table from
// spec.md §4.C given the latest skewed-out verdict and a non-sibling
// candidate having been chosen on one of v's PCPUs.
func AdvanceCoState(v *entity.VSMP, skewedOut, nonSiblingSelected bool) {
	if v == nil || v.IsUniprocessor() {
		return
	}
	switch v.CoState {
	case entity.CoReady:
		// CO_READY -> CO_RUN happens when the first vCPU dispatches; that
		// transition is driven by the dispatcher (cell.ChooseNext), not here.
	case entity.CoRun:
		if skewedOut && Descheduleable(v) && nonSiblingSelected {
			v.CoState = entity.CoStop
		}
	case entity.CoStop:
		if v.NRunning+v.NIdle > 0 && v.NWait == v.NIdle {
			v.CoState = entity.CoRun
			if v.NRunning+v.NIdle == 0 {
				v.CoState = entity.CoReady
			}
		}
	}
}
