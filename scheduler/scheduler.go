// Package scheduler is the top-level façade wiring the allocation tree
// (package group), entity state machines (package entity), the per-cell
// dispatcher (package cell), HT policy (package ht), the skew detector
// (package skew) and load-history sampling (package metrics) into the
// external interface spec.md §6 exposes: lifecycle, dispatch hints, the
// wait family (re-exported from entity; the façade adds nothing to it),
// control, and introspection.
//
// Per spec.md §9's "Global state" note, the scheduler, its constants, the
// cells array and the group tree are process-wide singletons -- but this
// package holds them as fields of an explicit Scheduler handle, never as
// package-level mutable globals, so tests can run several independent
// instances concurrently.
package scheduler

import (
	"fmt"
	"sort"
	"sync"

	"github.com/golang/glog"

	"github.com/google/vsched/cell"
	"github.com/google/vsched/config"
	"github.com/google/vsched/entity"
	"github.com/google/vsched/group"
	"github.com/google/vsched/ht"
	"github.com/google/vsched/metrics"
	"github.com/google/vsched/skew"
	"github.com/google/vsched/timerif"
	"github.com/google/vsched/topo"
	"github.com/google/vsched/vserr"
)

// packagesPerCell is spec.md §3's default scheduler-cell size: "the default
// size is four packages".
const packagesPerCell = 4

// Scheduler is the process-wide handle gluing every subsystem together. All
// exported methods are safe for concurrent use.
type Scheduler struct {
	topo  topo.Topology
	timer timerif.Timer
	ipi   timerif.IPI
	cfg   *config.Options

	tree *group.Tree

	cellsMu   sync.Mutex
	cells     map[cell.ID]*cell.Cell
	cellOrder []cell.ID // ascending, per I6's lock-order requirement
	pcpuCell  map[topo.PCPUID]cell.ID

	// pcpuShadow and cellPCPUs are resolved once at construction and never
	// mutated afterward, so hot paths can look a PCPU's shadow up without
	// calling Cell.PCPU/Cell.PCPUs -- both of which take the cell's own
	// lock, and so would deadlock if called while that lock is already
	// held (as it always is along the dispatch path).
	pcpuShadow map[topo.PCPUID]*cell.PCPU
	cellPCPUs  map[cell.ID][]*cell.PCPU

	policy  *ht.Policy
	skewDet *skew.Detector
	quar    *ht.QuarantineSampler

	regMu       sync.Mutex
	nextVSMPID  uint32
	vsmps       map[uint32]*entity.VSMP
	vsmpCells   map[uint32]*cell.VSMPCell
	loadHist    map[uint32]*metrics.LoadHistory
	idleLeaves  map[topo.PCPUID]*group.Node
	leafToVSMP  map[group.ID]uint32
}

// New builds a Scheduler over the given topology, partitioning its PCPUs
// into cells of up to packagesPerCell physical packages each (never
// splitting one package across cells, so HT partners are always
// cell-local), and installs one idle world per PCPU.
func New(t topo.Topology, timer timerif.Timer, ipi timerif.IPI, cfg *config.Options) *Scheduler {
	if cfg == nil {
		cfg = config.Default()
	}
	s := &Scheduler{
		topo:       t,
		timer:      timer,
		ipi:        ipi,
		cfg:        cfg,
		tree:       group.NewTree(100 * int64(t.NumPCPUs())),
		cells:      map[cell.ID]*cell.Cell{},
		pcpuCell:   map[topo.PCPUID]cell.ID{},
		pcpuShadow: map[topo.PCPUID]*cell.PCPU{},
		cellPCPUs:  map[cell.ID][]*cell.PCPU{},
		policy:     ht.NewPolicy(),
		skewDet:    skew.New(skew.Config{SampleThreshold: cfg.SkewSampleThreshold, IntraSkewThreshold: int64(cfg.IntraSkewThreshold), Relaxed: cfg.RelaxedCosched}),
		vsmps:      map[uint32]*entity.VSMP{},
		vsmpCells:  map[uint32]*cell.VSMPCell{},
		loadHist:   map[uint32]*metrics.LoadHistory{},
		idleLeaves: map[topo.PCPUID]*group.Node{},
		leafToVSMP: map[group.ID]uint32{},
	}
	s.quar = ht.NewQuarantineSampler(s.policy, int64(cfg.MachineClearThresh))
	s.buildCells()
	s.installIdleWorlds()
	return s
}

// buildCells partitions PCPUs into cells by whole physical packages, never
// splitting one package, chunking packagesPerCell at a time in package-id
// order.
func (s *Scheduler) buildCells() {
	byPackage := map[int][]topo.PCPUID{}
	for i := 0; i < s.topo.NumPCPUs(); i++ {
		p := topo.PCPUID(i)
		pkg := s.topo.PackageOf(p)
		byPackage[pkg] = append(byPackage[pkg], p)
	}
	var packages []int
	for pkg := range byPackage {
		packages = append(packages, pkg)
	}
	sort.Ints(packages)

	var id cell.ID
	for start := 0; start < len(packages); start += packagesPerCell {
		end := start + packagesPerCell
		if end > len(packages) {
			end = len(packages)
		}
		c := cell.NewCell(id, s.cfg.VtimeResetLG, s.timer)
		s.cells[id] = c
		s.cellOrder = append(s.cellOrder, id)
		for _, pkg := range packages[start:end] {
			for _, p := range byPackage[pkg] {
				sh := c.AddPCPU(p)
				s.pcpuCell[p] = id
				s.pcpuShadow[p] = sh
				s.cellPCPUs[id] = append(s.cellPCPUs[id], sh)
			}
		}
		id++
	}
	// Wire HT partner pointers: always resolvable within the owning cell,
	// since partitioning never splits a package.
	for p, sh := range s.pcpuShadow {
		partner := s.topo.PartnerOf(p)
		if partner < 0 {
			continue
		}
		if psh, ok := s.pcpuShadow[partner]; ok {
			sh.HTPartner = psh
		}
	}
}

// installIdleWorlds creates one minimal, unreserved uniprocessor VSMP per
// PCPU and installs its sole vCPU as that PCPU's idle world.
func (s *Scheduler) installIdleWorlds() {
	for p, cid := range s.pcpuCell {
		leaf, err := s.tree.CreateGroup(s.tree.Root(), idleGroupName(p), group.Alloc{Shares: 1, Max: group.MaxNone})
		if err != nil {
			glog.Fatalf("scheduler: failed to create idle world for pcpu %d: %v", p, err)
		}
		leaf.IsLeaf = true
		leaf.NVCPUs = 1
		v, err := entity.NewVSMP(0, leaf, 1, entity.HTAny)
		if err != nil {
			glog.Fatalf("scheduler: failed to build idle vsmp for pcpu %d: %v", p, err)
		}
		entity.SetIdle(v.VCPUs[0], true)
		s.idleLeaves[p] = leaf
		c := s.cells[cid]
		sh := s.pcpuShadow[p]
		c.Lock()
		c.AddResident(v, cell.NewVSMPCell(c))
		sh.Idle = v.VCPUs[0]
		c.Unlock()
	}
}

func idleGroupName(p topo.PCPUID) string { return fmt.Sprintf("__idle.%d", p) }

// Tree exposes the allocation tree for control-plane callers (the server
// package's handlers) that need direct group/alloc operations beyond the
// convenience wrappers in control.go.
func (s *Scheduler) Tree() *group.Tree { return s.tree }

// Cell returns the cell owning pcpu, or nil if pcpu is unknown.
func (s *Scheduler) Cell(p topo.PCPUID) *cell.Cell {
	s.cellsMu.Lock()
	defer s.cellsMu.Unlock()
	id, ok := s.pcpuCell[p]
	if !ok {
		return nil
	}
	return s.cells[id]
}

// Cells returns every cell in ascending id order (lock-order I6).
func (s *Scheduler) Cells() []*cell.Cell {
	s.cellsMu.Lock()
	defer s.cellsMu.Unlock()
	out := make([]*cell.Cell, len(s.cellOrder))
	for i, id := range s.cellOrder {
		out[i] = s.cells[id]
	}
	return out
}

// lockAllCells acquires every cell's lock in ascending id order, per I6, and
// returns a func that releases them in reverse order. Used by group.Tree's
// balance commit.
func (s *Scheduler) lockAllCells() func() {
	cells := s.Cells()
	for _, c := range cells {
		c.Lock()
	}
	return func() {
		for i := len(cells) - 1; i >= 0; i-- {
			cells[i].Unlock()
		}
	}
}

// VSMP returns the registered VSMP with the given id, or nil.
func (s *Scheduler) VSMP(id uint32) *entity.VSMP {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	return s.vsmps[id]
}

// cellFor returns the cell currently owning v's dispatch state, using the
// lock-and-recheck idiom (already locked on return).
func (s *Scheduler) cellFor(id uint32) (*cell.Cell, error) {
	s.regMu.Lock()
	vc, ok := s.vsmpCells[id]
	s.regMu.Unlock()
	if !ok {
		return nil, vserr.New(vserr.NotFound, "vsmp %d not registered", id)
	}
	return cell.LockAndRecheck(vc), nil
}

// pickCell returns the least-loaded cell (fewest resident VSMPs) for
// placing a newly-created VSMP. Ties favor the lowest cell id.
func (s *Scheduler) pickCell() *cell.Cell {
	cells := s.Cells()
	var best *cell.Cell
	bestLoad := -1
	for _, c := range cells {
		c.Lock()
		load := len(c.Residents())
		c.Unlock()
		if bestLoad < 0 || load < bestLoad {
			best, bestLoad = c, load
		}
	}
	return best
}
