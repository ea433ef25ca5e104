// Package ht implements the hyperthreading-aware sharing policy, machine-
// clear quarantine, charge adjustment, and idle-halt accounting of
// spec.md §4.E.
package ht

import (
	"github.com/google/vsched/entity"
)

// Policy evaluates a VSMP's effective HT package-sharing constraint and
// tracks per-VSMP quarantine state.
type Policy struct {
	quarantined map[*entity.VSMP]bool
}

// NewPolicy returns an empty Policy.
func NewPolicy() *Policy {
	return &Policy{quarantined: map[*entity.VSMP]bool{}}
}

// EffectiveSharing returns the min of v's configured sharing policy, an
// affinity-derived floor (INTERNALLY if v cannot claim a whole package per
// vCPU in every cell it spans — approximated here by the caller passing
// affinityWholePackage=false when that's known not to hold), and a dynamic
// override to NONE while quarantined.
func (p *Policy) EffectiveSharing(v *entity.VSMP, affinityWholePackage bool) entity.HTSharing {
	s := v.Sharing
	if !affinityWholePackage {
		s = s.Min(entity.HTInternally)
	}
	if p.quarantined[v] {
		s = entity.HTNone
	}
	return s
}

// PackageSharingAllowed reports whether vc's VSMP may share a physical
// package with whatever partnerVSMP currently occupies the HT-partner
// logical CPU (nil meaning the partner is idle at the hardware level,
// distinct from partnerIdle which signals the partner vCPU is the idle
// world).
func (p *Policy) PackageSharingAllowed(v *entity.VSMP, partnerVSMP *entity.VSMP, partnerIdle bool) bool {
	if partnerVSMP == nil || partnerIdle {
		return true
	}
	eff := p.EffectiveSharing(v, true)
	switch eff {
	case entity.HTAny:
		return true
	case entity.HTInternally:
		return partnerVSMP == v
	default: // HTNone
		return false
	}
}

// SetQuarantined marks or clears v's quarantine state. Transitions
// invalidate the partner PCPU's preemption snapshot per spec.md; that
// invalidation is the caller's responsibility (it holds the relevant cell
// lock, which package ht does not reach into).
func (p *Policy) SetQuarantined(v *entity.VSMP, q bool) {
	if q {
		p.quarantined[v] = true
	} else {
		delete(p.quarantined, v)
	}
}

// Quarantined reports v's current quarantine state.
func (p *Policy) Quarantined(v *entity.VSMP) bool { return p.quarantined[v] }
