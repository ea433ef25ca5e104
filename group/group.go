package group

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/google/vsched/vtime"
)

// ID identifies a Group or a VSMP leaf in the allocation tree. Both share
// the same id space, since a group path's entries are GroupIDs and the VSMP
// itself terminates that path.
type ID = vtime.GroupID

// NewID mints a fresh ID the way the teacher's fs_upload_file.go mints
// upload ids: uuid.New(), folded down to the 64 bits the tree's fixed-depth
// Path array stores.
func NewID() ID {
	u := uuid.New()
	var v uint64
	for _, b := range u[:8] {
		v = v<<8 | uint64(b)
	}
	if v == uint64(vtime.InvalidGroupID) {
		v++
	}
	return ID(v)
}

// base is the tree's internally-derived allocation for a node: the balance
// algorithm's output, as opposed to the administrator-specified Alloc.
// vtime/vtimeLimit/stride/strideLimit are read lock-free through the seqlock
// below by the per-PCPU group-vtime cache (package cell); writers (the
// balance commit) must call store() to publish a consistent triple.
type base struct {
	shares, min, max int64

	seq      uint32 // odd while being written (seqlock)
	vtime    int64
	vtimeLimit int64
	stride   int64
	strideLimit int64
}

func (b *base) load() (vt, limit, stride int64) {
	for {
		s1 := atomic.LoadUint32(&b.seq)
		if s1&1 != 0 {
			continue
		}
		vt, limit, stride = b.vtime, b.vtimeLimit, b.stride
		s2 := atomic.LoadUint32(&b.seq)
		if s1 == s2 {
			return
		}
	}
}

func (b *base) store(vt, limit, stride, strideLimit int64) {
	atomic.AddUint32(&b.seq, 1)
	b.vtime, b.vtimeLimit, b.stride, b.strideLimit = vt, limit, stride, strideLimit
	atomic.AddUint32(&b.seq, 1)
}

func (b *base) setShares(shares int64) { atomic.StoreInt64(&b.shares, shares) }
func (b *base) loadShares() int64      { return atomic.LoadInt64(&b.shares) }

// Node is one entry of the allocation tree: either an interior Group or a
// VSMP leaf (the core's entity.VSMP type embeds *Node as its leaf).
type Node struct {
	ID       ID
	Name     string
	Parent   *Node
	IsLeaf   bool
	Alloc    Alloc
	base     base
	Members  []*Node // interior nodes only
	NVCPUs   int     // leaf nodes only: vcpu count, for per-vCPU max canonicalization
	charge   int64   // aggregate charge, cycles
}

// BaseShares returns the node's currently-committed base shares.
func (n *Node) BaseShares() int64 { return n.base.loadShares() }

// VtimeSnapshot returns the node's current {vtime, vtimeLimit, stride} triple
// via the seqlock, for lock-free readers (the per-PCPU group-vtime cache).
func (n *Node) VtimeSnapshot() (vt, limit, stride int64) { return n.base.load() }

// AddVtime charges delta (in vtime units, from vtime.CyclesToVtime) to the
// node's main vtime, clamping to ceiling and reporting any excess as
// overshoot (the caller's "bonus cycles" accounting). ceiling is supplied
// by the caller per spec.md's "clamps vtime.main <= cell.vtime +
// quantum_vtime": it is recomputed fresh by the caller at every charge, and
// each call also stores it as the node's vtimeLimit. Safe to call
// concurrently with VtimeSnapshot readers via the seqlock; concurrent
// AddVtime callers on the same node must still serialize externally (the
// cell lock, in the dispatcher's case), since this is a read-modify-write.
func (n *Node) AddVtime(delta, ceiling int64) (overshoot int64) {
	vt, _, stride := n.base.load()
	vt += delta
	if vt > ceiling {
		overshoot = vt - ceiling
		vt = ceiling
	}
	n.base.store(vt, ceiling, stride, n.base.strideLimit)
	return overshoot
}

// Tree is the whole allocation hierarchy rooted at one node covering the
// entire machine.
type Tree struct {
	mu              sync.Mutex // the tree's dedicated spinlock (§3 "Shared-resource policy")
	root            *Node
	byID            map[ID]*Node
	dirty           bool
	reallocInProgress bool // I5
	percentTotal    int64 // total percent-units of machine capacity (nPCPUs*100)
}

// NewTree builds a Tree whose root covers percentTotal percent-units of
// capacity (typically 100*nPCPUs).
func NewTree(percentTotal int64) *Tree {
	root := &Node{
		ID:   NewID(),
		Name: "root",
		Alloc: Alloc{
			Min:    percentTotal,
			Max:    percentTotal,
			Shares: vtime.MaxShares,
			Units:  Percent,
		},
	}
	root.base.setShares(root.Alloc.Shares)
	root.base.stride = vtime.Stride(root.Alloc.Shares)
	t := &Tree{
		root:         root,
		byID:         map[ID]*Node{root.ID: root},
		percentTotal: percentTotal,
	}
	return t
}

// Root returns the tree's root node.
func (t *Tree) Root() *Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.root
}

// PercentTotal returns the total percent-units of machine capacity, the Go
// form of the original source's CpuSched_PercentTotal.
func (t *Tree) PercentTotal() int64 {
	return t.percentTotal
}

// Lookup returns the node with the given id, or nil if none is registered.
func (t *Tree) Lookup(id ID) *Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byID[id]
}

// reservedMin sums the Min of every member of n (its direct children's
// administrator-specified reservation, not recursively).
func reservedMin(n *Node) int64 {
	var sum int64
	for _, m := range n.Members {
		sum += m.Alloc.Min
	}
	return sum
}

// unreservedMin returns how much of n's own Min remains unclaimed by its
// current members.
func unreservedMin(n *Node) int64 {
	return n.Alloc.Min - reservedMin(n)
}
