// Package sim is a deterministic, test-only multi-PCPU harness around
// package scheduler: a fake timer advancing a logical clock and one
// goroutine per PCPU driving Scheduler.Tick forward, the way
// analysis.Collection.ThreadStats fans work out across an errgroup.Group
// and joins on its error. It exists to drive the end-to-end scenario and
// property tests against a whole running scheduler rather than one package
// in isolation.
package sim

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/google/vsched/config"
	"github.com/google/vsched/entity"
	"github.com/google/vsched/group"
	"github.com/google/vsched/scheduler"
	"github.com/google/vsched/timerif"
	"github.com/google/vsched/topo"
)

// Harness owns one Scheduler plus the fake collaborators driving it:
// nothing here touches a real clock, so a run is exactly reproducible given
// the same sequence of calls.
type Harness struct {
	Sched *scheduler.Scheduler
	Timer *timerif.FakeTimer
	IPI   *timerif.FakeIPI
	Topo  *topo.Static

	tickCycles int64
	tickCount  int
	pcpus      []topo.PCPUID
}

// New builds a Harness over a Static topology of numPCPUs logical CPUs,
// logicalPerPackage wide (1 = no HT, 2 = classic 2-way HT), at the given
// notional cycle frequency.
func New(numPCPUs, logicalPerPackage int, cyclesPerSecond int64, cfg *config.Options) *Harness {
	if cfg == nil {
		cfg = config.Default()
	}
	tp := topo.NewStatic(numPCPUs, logicalPerPackage)
	timer := timerif.NewFakeTimer(cyclesPerSecond)
	ipi := &timerif.FakeIPI{}
	h := &Harness{
		Sched:      scheduler.New(tp, timer, ipi, cfg),
		Timer:      timer,
		IPI:        ipi,
		Topo:       tp,
		tickCycles: cfg.Quantum.Nanoseconds() * cyclesPerSecond / 10 / 1_000_000_000, // 10 ticks/quantum
	}
	if h.tickCycles <= 0 {
		h.tickCycles = 1
	}
	for i := 0; i < numPCPUs; i++ {
		h.pcpus = append(h.pcpus, topo.PCPUID(i))
	}
	return h
}

// AddCPUBoundVM creates a uniprocessor-or-MP VM whose vCPUs never wait: once
// admitted they stay Ready/Run forever, requeuing at the tail of their
// PCPU's run queue every context switch, modeling a saturated CPU-bound
// workload. affinity, if non-zero, pins every vCPU of the VM to the given
// mask.
func (h *Harness) AddCPUBoundVM(name string, nvcpus int, alloc group.Alloc, sharing entity.HTSharing, affinity entity.AffinityMask) (uint32, error) {
	id, err := h.Sched.AddVSMP(h.Sched.Tree().Root(), name, nvcpus, alloc, sharing)
	if err != nil {
		return 0, err
	}
	if affinity != 0 {
		for _, vc := range h.Sched.VSMP(id).VCPUs {
			h.Sched.SetAffinity(vc, affinity)
		}
	}
	return id, nil
}

// AdvanceTicks runs n logical timer ticks. Each tick first advances the
// fake clock by one tickCycles interval, then drives every PCPU's
// Scheduler.Tick concurrently via an errgroup.Group, joining before
// starting the next tick -- so cross-PCPU effects of one tick (a wakeup
// landing on a different PCPU's queue) are always visible by the next.
func (h *Harness) AdvanceTicks(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		h.Timer.Advance(timerif.Cycles(h.tickCycles))
		g, _ := errgroup.WithContext(ctx)
		for _, p := range h.pcpus {
			p := p
			g.Go(func() error {
				h.Sched.Tick(p, h.tickCount)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		h.tickCount++
	}
	return nil
}

// AdvanceFor runs however many ticks cover d of simulated time, rounding up.
func (h *Harness) AdvanceFor(ctx context.Context, d timerif.Cycles) error {
	n := int(int64(d)/h.tickCycles) + 1
	return h.AdvanceTicks(ctx, n)
}

// PCPUs returns every logical CPU id in the harness, ascending.
func (h *Harness) PCPUs() []topo.PCPUID { return append([]topo.PCPUID(nil), h.pcpus...) }
