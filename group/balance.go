package group

import (
	"github.com/google/vsched/vserr"
	"github.com/google/vsched/vtime"
)

// snapshotNode is the per-node record taken under lock at the start of a
// balance pass: {alloc, base-min, base-max, vsmpCount}, exactly as spec'd.
type snapshotNode struct {
	node       *Node
	alloc      Alloc
	baseMin    int64
	baseMax    int64
	vsmpCount  int // leaves in the subtree
	parent     *snapshotNode
	children   []*snapshotNode
	newShares  int64
}

// residualChunks are the decreasing fractions of total capacity distributed
// in step 2 of the balance algorithm: approx 1%, 0.5%, 0.25%, 0.05%.
var residualChunks = []int64{100, 50, 25, 5} // in basis points of 10000 (i.e. /10000)

// snapshot walks the tree once under t.mu, building the detached snapshot
// tree and computing base-min/base-max bottom-up, clamped by group max and
// per-VM limits.
func (t *Tree) snapshot() *snapshotNode {
	var build func(n *Node, parent *snapshotNode) *snapshotNode
	build = func(n *Node, parent *snapshotNode) *snapshotNode {
		s := &snapshotNode{node: n, alloc: n.Alloc, parent: parent}
		if len(n.Members) == 0 {
			s.baseMin, s.baseMax = n.Alloc.Min, n.Alloc.Max
			if !n.Alloc.HasMax() {
				s.baseMax = t.percentTotal
			}
			s.vsmpCount = 1
			if !n.IsLeaf {
				// An empty interior group contributes nothing.
				s.vsmpCount = 0
			}
			return s
		}
		var childMinSum, childMaxSum int64
		for _, m := range n.Members {
			cs := build(m, s)
			s.children = append(s.children, cs)
			childMinSum += cs.baseMin
			childMaxSum += cs.baseMax
			s.vsmpCount += cs.vsmpCount
		}
		s.baseMin = max64(n.Alloc.Min, childMinSum)
		s.baseMax = n.Alloc.Max
		if !n.Alloc.HasMax() {
			s.baseMax = t.percentTotal
		}
		if childMaxSum < s.baseMax {
			s.baseMax = childMaxSum
		}
		return s
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return build(t.root, nil)
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// rebalance runs the two-phase proportional-distribution algorithm over a
// detached snapshot subtree, writing s.newShares for every node.
func rebalance(s *snapshotNode, parentCapacity int64) {
	if len(s.children) == 0 {
		s.newShares = clamp64(parentCapacity, parentCapacity, s.baseMax)
		return
	}
	var totalWeight int64
	for _, c := range s.children {
		totalWeight += c.alloc.Shares
	}
	remaining := parentCapacity
	for _, c := range s.children {
		var proportional int64
		if totalWeight > 0 {
			proportional = (parentCapacity * c.alloc.Shares) / totalWeight
		}
		c.newShares = clamp64(max64(c.baseMin, proportional), parentCapacity, c.baseMax)
		remaining -= c.newShares
	}
	if remaining < 0 {
		shrinkToFit(s.children, -remaining)
		remaining = 0
	}
	// Distribute any residual (remaining > 0, some children still below max)
	// in decreasing chunk sizes to the child with the smallest
	// base.shares/alloc.shares ratio that's still below its max.
	for _, bp := range residualChunks {
		chunk := (parentCapacity * bp) / 10000
		if chunk == 0 {
			chunk = 1
		}
		for remaining > 0 {
			target := smallestRatioBelowMax(s.children)
			if target == nil {
				break
			}
			give := min64(chunk, remaining)
			give = min64(give, target.baseMax-target.newShares)
			if give <= 0 {
				break
			}
			target.newShares += give
			remaining -= give
		}
		if remaining <= 0 {
			break
		}
	}
	for _, c := range s.children {
		rebalance(c, c.newShares)
	}
}

// shrinkToFit reduces children's newShares, proportionally to each child's
// headroom above its baseMin, by a total of over -- needed when the initial
// min-floored proportional pass overcommits parentCapacity (every child's
// min floor, summed, can legitimately exceed a naive proportional split).
// Never reduces a child below its baseMin; iterates because reducing one
// child's headroom to zero may leave residual still to shed among the rest.
func shrinkToFit(children []*snapshotNode, over int64) {
	for over > 0 {
		var headroom int64
		for _, c := range children {
			headroom += c.newShares - c.baseMin
		}
		if headroom <= 0 {
			return // every child is already at its floor; nothing more to shed
		}
		reducedAny := false
		for _, c := range children {
			h := c.newShares - c.baseMin
			if h <= 0 {
				continue
			}
			cut := vtime.Scale(over, h, headroom)
			if cut > h {
				cut = h
			}
			if cut <= 0 {
				continue
			}
			c.newShares -= cut
			over -= cut
			reducedAny = true
		}
		if !reducedAny {
			return
		}
	}
}

func clamp64(v, capacity, max int64) int64 {
	if v > capacity {
		v = capacity
	}
	if v > max {
		v = max
	}
	if v < 0 {
		v = 0
	}
	return v
}

// smallestRatioBelowMax returns the child with the smallest
// newShares/alloc.Shares ratio that still has headroom under its max, or nil
// if none has headroom. Ties are broken by encounter order.
func smallestRatioBelowMax(children []*snapshotNode) *snapshotNode {
	var best *snapshotNode
	var bestNum, bestDen int64
	for _, c := range children {
		if c.newShares >= c.baseMax {
			continue
		}
		den := c.alloc.Shares
		if den <= 0 {
			den = 1
		}
		num := c.newShares
		if best == nil || num*bestDen < bestNum*den {
			best, bestNum, bestDen = c, num, den
		}
	}
	return best
}

// structurallyIdentical reports whether the live tree still matches the
// shape the snapshot was taken from: same VSMPs under the same parents with
// the same external allocations. Called with t.mu held.
func (t *Tree) structurallyIdentical(s *snapshotNode) bool {
	var walk func(s *snapshotNode) bool
	walk = func(s *snapshotNode) bool {
		live, ok := t.byID[s.node.ID]
		if !ok || live != s.node {
			return false
		}
		if live.Alloc != s.alloc {
			return false
		}
		if len(live.Members) != len(s.children) {
			return false
		}
		for i, m := range live.Members {
			if m.ID != s.children[i].node.ID {
				return false
			}
			if !walk(s.children[i]) {
				return false
			}
		}
		return true
	}
	return walk(s)
}

// CellRequeuer is implemented by the scheduler's cell layer so the balance
// commit can requeue any READY vCPUs whose main/extra queue membership may
// have changed after a base-alloc write, without package group depending on
// package cell.
type CellRequeuer interface {
	RequeueForNewBase(vsmpID ID)
}

// Reallocate executes the balance algorithm if the tree is dirty.
// lockAllCells must acquire every cell lock (in ascending cell-id order, per
// the scheduler's lock order I6) and return an unlock func; it models "drop
// all scheduling locks" / "re-acquire all locks" from spec.md §4.B steps 2-3.
// Returns Busy (dirty flag left set) if the snapshot was invalidated by a
// concurrent structural change; the caller is expected to retry later.
func (t *Tree) Reallocate(lockAllCells func() (unlock func()), requeuer CellRequeuer) error {
	t.mu.Lock()
	if !t.dirty {
		t.mu.Unlock()
		return nil
	}
	if t.reallocInProgress {
		t.mu.Unlock()
		return vserr.New(vserr.Busy, "reallocation already in progress")
	}
	t.reallocInProgress = true
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.reallocInProgress = false
		t.mu.Unlock()
	}()

	snap := t.snapshot()
	rebalance(snap, t.percentTotal)

	unlock := lockAllCells()
	t.mu.Lock()
	defer t.mu.Unlock()
	defer unlock()

	if !t.structurallyIdentical(snap) {
		t.dirty = true
		return vserr.New(vserr.Busy, "tree changed during rebalance, retry")
	}

	var commit func(s *snapshotNode)
	commit = func(s *snapshotNode) {
		if len(s.children) == 0 && s.node.IsLeaf {
			oldStride := s.node.base.stride
			newStride := vtime.Stride(s.newShares)
			rescaleAndSetBase(s.node, s.newShares, oldStride, newStride)
			if requeuer != nil {
				requeuer.RequeueForNewBase(s.node.ID)
			}
		} else {
			atomicStoreShares(s.node, s.newShares)
		}
		for _, c := range s.children {
			commit(c)
		}
	}
	commit(snap)
	t.dirty = false
	return nil
}

func atomicStoreShares(n *Node, shares int64) {
	n.base.setShares(shares)
	n.base.stride = vtime.Stride(maxShares1(shares))
}

func maxShares1(shares int64) int64 {
	if shares < vtime.MinShares {
		return vtime.MinShares
	}
	return shares
}

// rescaleAndSetBase is the Go form of vsmp_set_base_alloc: recomputes
// stride/strideLimit, and rescales vtime.main/extra/limit by
// new_stride/old_stride when the stride changed, preserving the
// entitlement delta from global vtime in real-cycle terms.
func rescaleAndSetBase(n *Node, newShares, oldStride, newStride int64) {
	vt, limit, _ := n.base.load()
	if oldStride != 0 && oldStride != newStride {
		vt = vtime.Scale(vt, newStride, oldStride)
		limit = vtime.Scale(limit, newStride, oldStride)
	}
	n.base.store(vt, limit, newStride, newStride)
	n.base.setShares(newShares)
}
