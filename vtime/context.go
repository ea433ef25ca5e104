package vtime

// MaxGroupDepth bounds the depth of the allocation tree; a Path is always
// this many entries, with unused tail positions holding InvalidGroupID.
const MaxGroupDepth = 16

// GroupID identifies a node of the allocation tree (see package group).
type GroupID uint64

// InvalidGroupID is the sentinel filling unused tail positions of a Path, and
// marking a leaf (the VSMP itself, whose "group" vtime is its own Extra).
const InvalidGroupID GroupID = 0

// Path is a fixed-depth array of group ids from the root to a VSMP,
// shallowest first. Positions beyond the VSMP's actual depth hold
// InvalidGroupID.
type Path [MaxGroupDepth]GroupID

// CommonPrefixLen returns the number of leading entries a and b share.
func (a Path) CommonPrefixLen(b Path) int {
	n := 0
	for n < MaxGroupDepth && a[n] == b[n] && a[n] != InvalidGroupID {
		n++
	}
	return n
}

// Context is a scheduling entity's virtual-time state as consulted during
// comparison: two independent clocks (Main for entitled time, Extra for
// opportunistic time), the stride used to advance them, the cell's NStride
// for relating them to global vtime, and the entity's position in the
// allocation tree.
type Context struct {
	Main, Extra   int64
	Stride        int64
	NStride       int64
	Path          Path
}

// GroupVtimeLookup resolves a group id to that group's current vtime. In
// production this is backed by the per-PCPU group-vtime cache of package
// cell; tests may supply a plain map-backed function.
type GroupVtimeLookup func(GroupID) (vtime int64, ok bool)

// bonusVtime converts a cycles-denominated preemption bonus into vtime units
// using stride, or 0 if bonusCycles is 0 (the overwhelmingly common case, so
// this is a fast path, not just a readability helper).
func bonusVtime(stride, bonusCycles int64) int64 {
	if bonusCycles == 0 {
		return 0
	}
	return CyclesToVtime(stride, bonusCycles)
}

// Compare returns a value <0, 0, or >0 according to whether a's relevant
// vtime (with bonusACycles subtracted, converted at a's own stride) precedes,
// equals, or follows b's (symmetric treatment for b's bonus).
//
// In main mode (useExtra=false) this simply compares (a.Main - bonus(a))
// against (b.Main - bonus(b)).
//
// In extra mode (useExtra=true) it walks both group paths from the root
// until they diverge; the vtime basis is the diverging node's group vtime
// (fetched through lookup), or, if one side has reached a leaf
// (InvalidGroupID) before diverging, that side's own Extra. The bonus is
// converted at the diverging level's stride when available, else at the
// entity's own stride.
//
// The comparison is a total order per side when bonuses are zero; with
// nonzero bonuses it is evaluated at a single instant under the caller's
// locks and need not be symmetric across time -- it exists purely to pick a
// dispatch winner "right now".
func Compare(a Context, aBonusCycles int64, b Context, bBonusCycles int64, useExtra bool, lookup GroupVtimeLookup) int {
	if !useExtra {
		av := a.Main - bonusVtime(a.Stride, aBonusCycles)
		bv := b.Main - bonusVtime(b.Stride, bBonusCycles)
		return cmp64(av, bv)
	}

	abase, bbase := a.Extra, b.Extra
	if n := a.Path.CommonPrefixLen(b.Path); n < MaxGroupDepth && lookup != nil {
		ag, bg := a.Path[n], b.Path[n]
		// If a side has already reached a leaf (InvalidGroupID) at the
		// divergence point, its own Extra is the correct basis and is left
		// untouched; otherwise resolve the diverging group's vtime.
		if ag != InvalidGroupID {
			if v, ok := lookup(ag); ok {
				abase = v
			}
		}
		if bg != InvalidGroupID {
			if v, ok := lookup(bg); ok {
				bbase = v
			}
		}
	}
	av := abase - bonusVtime(a.Stride, aBonusCycles)
	bv := bbase - bonusVtime(b.Stride, bBonusCycles)
	return cmp64(av, bv)
}

func cmp64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
