package entity

// qnode is a vCPU's membership record in one of a PCPU's run queues,
// forming an intrusive doubly-linked list the way the original source's
// cpusched_int.h links VCPUs through embedded list anchors.
type qnode struct {
	q          *Queue
	prev, next *qnode
	vcpu       *VCPU
}

// Queue is one FIFO of ready vCPUs, ordered by arrival (the scheduler's
// choose-next algorithm picks among a PCPU's Main/Extra/Limbo queues by
// vtime, but within a queue, ties resolve FIFO).
type Queue struct {
	head, tail *qnode
	n          int
}

// Len returns the number of queued vCPUs.
func (q *Queue) Len() int { return q.n }

// Push appends vc to the back of q. vc must not already be queued anywhere.
func (q *Queue) Push(vc *VCPU) {
	if vc.queueLink != nil {
		panic("entity: vcpu already queued")
	}
	nd := &qnode{q: q, vcpu: vc}
	vc.queueLink = nd
	if q.tail == nil {
		q.head, q.tail = nd, nd
	} else {
		nd.prev = q.tail
		q.tail.next = nd
		q.tail = nd
	}
	q.n++
}

// Remove detaches vc from whichever queue it's on, if any; a no-op if vc is
// not queued.
func Remove(vc *VCPU) {
	nd := vc.queueLink
	if nd == nil {
		return
	}
	q := nd.q
	if nd.prev != nil {
		nd.prev.next = nd.next
	} else {
		q.head = nd.next
	}
	if nd.next != nil {
		nd.next.prev = nd.prev
	} else {
		q.tail = nd.prev
	}
	q.n--
	vc.queueLink = nil
}

// Front returns the first queued vCPU without removing it, or nil if empty.
func (q *Queue) Front() *VCPU {
	if q.head == nil {
		return nil
	}
	return q.head.vcpu
}

// Each calls f for every queued vCPU, front to back. f must not mutate the
// queue.
func (q *Queue) Each(f func(*VCPU)) {
	for nd := q.head; nd != nil; nd = nd.next {
		f(nd.vcpu)
	}
}

// PCPUQueues is one PCPU's set of ready queues: Main for vCPUs running
// against their group's main vtime clock, Extra for vCPUs spending
// opportunistic (beyond-entitlement) time, and Limbo for vCPUs held ready
// but ineligible to dispatch yet (co-scheduling barrier, migration in
// flight).
type PCPUQueues struct {
	Main  Queue
	Extra Queue
	Limbo Queue
}

// Requeue moves vc from whatever queue it's on (if any) to dst, preserving
// FIFO order within dst.
func Requeue(vc *VCPU, dst *Queue) {
	Remove(vc)
	dst.Push(vc)
}
