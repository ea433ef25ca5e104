// Package group implements the hierarchical allocation tree (spec.md §4.B):
// group creation, min/max/shares admission control, and the periodic
// balance algorithm that derives each VSMP's "base" shares from the tree.
package group

import "github.com/google/vsched/vtime"

// Units is the unit an Alloc's Min/Max are expressed in.
type Units int

const (
	// Percent expresses Min/Max as a percentage of one physical CPU.
	Percent Units = iota
	// MHz expresses Min/Max as a clock-frequency bound.
	MHz
	// BaseShares expresses Min/Max directly in shares.
	BaseShares
)

// MaxNone is the canonical "no maximum" sentinel: a Percent-unit Alloc.Max
// whose original request equaled (or exceeded) one package of capacity per
// vCPU is canonicalized to this value by VsmpSetAlloc; SetAlloc does not
// canonicalize.
const MaxNone int64 = -1

// Alloc is an administrator-specified resource allocation: a reservation
// (Min), a cap (Max, or MaxNone), and a relative weight (Shares) in Units.
type Alloc struct {
	Min, Max, Shares int64
	Units            Units
}

// HasMax reports whether a is capped.
func (a Alloc) HasMax() bool { return a.Max != MaxNone }

// Valid reports whether a's fields are internally consistent: shares within
// [MinShares,MaxShares], and (when capped) Min <= Max.
func (a Alloc) Valid() bool {
	if a.Shares < vtime.MinShares || a.Shares > vtime.MaxShares {
		return false
	}
	if a.Min < 0 {
		return false
	}
	if a.HasMax() && a.Min > a.Max {
		return false
	}
	return true
}

// canonicalizeMax returns a's Max canonicalized to MaxNone when the request
// equals or exceeds one full package of capacity per vCPU (percentCapPerVCPU is that
// package's worth in a's Units, e.g. 100 for Percent with 1 vCPU or
// 100*nvcpus for an nvcpus-wide VSMP).
func canonicalizeMax(a Alloc, percentCapPerVCPU int64) Alloc {
	if a.Units == Percent && a.HasMax() && a.Max >= percentCapPerVCPU {
		a.Max = MaxNone
	}
	return a
}
