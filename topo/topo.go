// Package topo defines the machine-topology collaborator interface the
// scheduler core consumes (spec.md §6): physical CPU count, package/HT
// layout, and NUMA node membership. The core never discovers topology
// itself -- that's out of scope -- it only queries it through this
// interface, and a Static implementation is provided for tests and the sim
// harness.
package topo

// PCPUID identifies one logical (hyperthread) processor.
type PCPUID int

// NodeID identifies a NUMA node.
type NodeID int

// Topology is the external collaborator the scheduler core consumes for all
// questions about physical machine layout.
type Topology interface {
	// NumPCPUs returns the total number of logical CPUs.
	NumPCPUs() int
	// LogicalPerPackage returns the number of logical CPUs (hyperthreads)
	// per physical package.
	LogicalPerPackage() int
	// HTEnabled reports whether hyperthreading is active on this machine.
	HTEnabled() bool
	// PackageOf returns the physical package id containing pcpu.
	PackageOf(pcpu PCPUID) int
	// PartnerOf returns the sibling logical CPU sharing pcpu's package, or
	// -1 if HT is disabled or pcpu has no partner.
	PartnerOf(pcpu PCPUID) PCPUID
	// Nodes returns every NUMA node id.
	Nodes() []NodeID
	// PCPUsOf returns the logical CPUs belonging to the given NUMA node.
	PCPUsOf(node NodeID) []PCPUID
}

// Static is a fixed, in-memory Topology used by tests and the simulation
// harness: uniform packages of a fixed logical-per-package width, a single
// NUMA node (or manually assigned nodes via WithNodes).
type Static struct {
	numPCPUs       int
	logicalPerPkg  int
	ht             bool
	pcpuToNode     map[PCPUID]NodeID
	nodeToPCPUs    map[NodeID][]PCPUID
}

// NewStatic builds a Static topology of numPCPUs logical CPUs grouped into
// packages of logicalPerPackage each (1 = no HT, 2 = classic 2-way HT). All
// PCPUs are placed on a single NUMA node 0 unless AssignNodes is called.
func NewStatic(numPCPUs, logicalPerPackage int) *Static {
	if logicalPerPackage < 1 {
		logicalPerPackage = 1
	}
	s := &Static{
		numPCPUs:      numPCPUs,
		logicalPerPkg: logicalPerPackage,
		ht:            logicalPerPackage > 1,
	}
	s.AssignNodes(map[NodeID][]PCPUID{0: s.allPCPUs()})
	return s
}

func (s *Static) allPCPUs() []PCPUID {
	out := make([]PCPUID, s.numPCPUs)
	for i := range out {
		out[i] = PCPUID(i)
	}
	return out
}

// AssignNodes overrides the NUMA node membership built by NewStatic.
func (s *Static) AssignNodes(byNode map[NodeID][]PCPUID) {
	s.nodeToPCPUs = byNode
	s.pcpuToNode = map[PCPUID]NodeID{}
	for node, pcpus := range byNode {
		for _, p := range pcpus {
			s.pcpuToNode[p] = node
		}
	}
}

func (s *Static) NumPCPUs() int          { return s.numPCPUs }
func (s *Static) LogicalPerPackage() int { return s.logicalPerPkg }
func (s *Static) HTEnabled() bool        { return s.ht }

func (s *Static) PackageOf(pcpu PCPUID) int {
	return int(pcpu) / s.logicalPerPkg
}

func (s *Static) PartnerOf(pcpu PCPUID) PCPUID {
	if !s.ht {
		return -1
	}
	pkg := s.PackageOf(pcpu)
	base := PCPUID(pkg * s.logicalPerPkg)
	offset := int(pcpu-base+1) % s.logicalPerPkg
	return base + PCPUID(offset)
}

func (s *Static) Nodes() []NodeID {
	var out []NodeID
	for n := range s.nodeToPCPUs {
		out = append(out, n)
	}
	return out
}

func (s *Static) PCPUsOf(node NodeID) []PCPUID {
	return append([]PCPUID(nil), s.nodeToPCPUs[node]...)
}
