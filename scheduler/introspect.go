package scheduler

import (
	"github.com/google/vsched/group"
	"github.com/google/vsched/topo"
	"github.com/google/vsched/vserr"
)

// UsageMicros returns a vsmp's cumulative run and wait time, in
// microseconds, summed across its vCPUs -- the Go form of spec.md §6's
// usage introspection query. Run time is what each vCPU's RunMeter records
// at every context switch away from it; no scheduler path records wait
// intervals into WaitMeter, so waitMicros is always zero.
func (s *Scheduler) UsageMicros(id uint32) (runMicros, waitMicros int64, err error) {
	v := s.VSMP(id)
	if v == nil {
		return 0, 0, vserr.New(vserr.NotFound, "vsmp %d not registered", id)
	}
	cps := s.timer.CyclesPerSecond()
	var runCycles, waitCycles int64
	for _, vc := range v.VCPUs {
		runCycles += vc.RunMeter.Total()
		waitCycles += vc.WaitMeter.Total()
	}
	if cps == 0 {
		return runCycles, waitCycles, nil
	}
	return runCycles * 1_000_000 / cps, waitCycles * 1_000_000 / cps, nil
}

// LoadHistorySample folds a vsmp's current cumulative run/wait cycles into
// its rolling LoadHistory window and returns the updated recent-window
// series and basis-point usage ratio, the Go form of the original source's
// CpuMetrics_SampleCumulative.
func (s *Scheduler) LoadHistorySample(id uint32) (recentRun, recentReady []int64, usageBasisPoints int64, err error) {
	v := s.VSMP(id)
	if v == nil {
		return nil, nil, 0, vserr.New(vserr.NotFound, "vsmp %d not registered", id)
	}
	var runCycles, waitCycles int64
	for _, vc := range v.VCPUs {
		runCycles += vc.RunMeter.Total()
		waitCycles += vc.WaitMeter.Total()
	}
	s.regMu.Lock()
	h := s.loadHist[id]
	s.regMu.Unlock()
	if h == nil {
		return nil, nil, 0, vserr.New(vserr.NotFound, "vsmp %d has no load history", id)
	}
	h.SampleCumulative(runCycles, waitCycles)
	run, ready := h.Recent()
	return run, ready, h.UsageBasisPoints(), nil
}

// PCPUState is a read-only snapshot of one PCPU's dispatch shadow, for
// introspection handlers.
type PCPUState struct {
	ID          topo.PCPUID
	RunningVSMP uint32 // zero if idle or nothing dispatched yet
	Idle        bool
	MainLen     int
	ExtraLen    int
	LimboLen    int
}

// PCPUSnapshot returns pcpu's current dispatch state, the Go form of
// spec.md §6's per-PCPU introspection query.
func (s *Scheduler) PCPUSnapshot(pcpu topo.PCPUID) (PCPUState, error) {
	c := s.Cell(pcpu)
	p := s.pcpuShadow[pcpu]
	if c == nil || p == nil {
		return PCPUState{}, vserr.New(vserr.NotFound, "pcpu %d not registered", pcpu)
	}
	c.Lock()
	defer c.Unlock()
	st := PCPUState{
		ID:       pcpu,
		MainLen:  p.Queues().Main.Len(),
		ExtraLen: p.Queues().Extra.Len(),
		LimboLen: p.Queues().Limbo.Len(),
	}
	switch {
	case p.Running == nil, p.Running.Idle:
		// Nothing dispatched yet (freshly constructed) reads the same as
		// the idle world actually running: either way no domain vcpu owns
		// the pcpu.
		st.Idle = true
	case p.Running.VSMP != nil:
		st.RunningVSMP = p.Running.VSMP.ID
	}
	return st, nil
}

// GroupUsage reports a group or vsmp node's current vtime/vtimeLimit/stride
// triple, the Go form of spec.md §6's group introspection query.
func (s *Scheduler) GroupUsage(n *group.Node) (vt, limit, stride int64) {
	return n.VtimeSnapshot()
}
