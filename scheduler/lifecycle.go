package scheduler

import (
	"github.com/google/vsched/cell"
	"github.com/google/vsched/entity"
	"github.com/google/vsched/group"
	"github.com/google/vsched/metrics"
	"github.com/google/vsched/vserr"
)

// AddVSMP creates a new VSMP of nvcpus under the named parent group, the Go
// form of spec.md §6's vsmp_add. The new VSMP is admission-checked against
// parent's unreserved min exactly like any other leaf, placed in the
// least-loaded cell, and returns its assigned id.
func (s *Scheduler) AddVSMP(parent *group.Node, name string, nvcpus int, alloc group.Alloc, sharing entity.HTSharing) (uint32, error) {
	if nvcpus <= 0 {
		return 0, vserr.New(vserr.BadParam, "vsmp must have at least one vcpu, got %d", nvcpus)
	}
	leaf, err := s.tree.CreateGroup(parent, name, alloc)
	if err != nil {
		return 0, err
	}
	leaf.IsLeaf = true
	leaf.NVCPUs = nvcpus

	v, err := entity.NewVSMP(0, leaf, nvcpus, sharing)
	if err != nil {
		s.tree.RemoveGroup(leaf)
		return 0, err
	}

	c := s.pickCell()
	if c == nil {
		s.tree.RemoveGroup(leaf)
		return 0, vserr.New(vserr.Unknown, "scheduler: no cells available")
	}

	s.regMu.Lock()
	id := s.nextVSMPID
	s.nextVSMPID++
	v.ID = id
	s.regMu.Unlock()

	vc := cell.NewVSMPCell(c)
	c.Lock()
	c.AddResident(v, vc)
	c.Unlock()

	s.regMu.Lock()
	s.vsmps[id] = v
	s.vsmpCells[id] = vc
	s.loadHist[id] = metrics.NewLoadHistory()
	s.leafToVSMP[leaf.ID] = id
	s.regMu.Unlock()

	for _, vcpu := range v.VCPUs {
		entity.SetRunState(vcpu, entity.Ready)
		s.enqueueReady(vcpu)
	}

	return id, nil
}

// RemoveVSMP tears down a previously-added VSMP: removes it from its
// resident cell, drops its registration, and deletes its now-empty leaf
// group. Fails with Busy if any of its vCPUs are still running.
func (s *Scheduler) RemoveVSMP(id uint32) error {
	v := s.VSMP(id)
	if v == nil {
		return vserr.New(vserr.NotFound, "vsmp %d not registered", id)
	}
	for _, vc := range v.VCPUs {
		if vc.RunState == entity.Run {
			return vserr.New(vserr.Busy, "vsmp %d has a running vcpu, cannot remove", id)
		}
	}
	c, err := s.cellFor(id)
	if err != nil {
		return err
	}
	c.RemoveResident(v)
	c.Unlock()

	s.regMu.Lock()
	delete(s.vsmps, id)
	delete(s.vsmpCells, id)
	delete(s.loadHist, id)
	delete(s.leafToVSMP, v.Node.ID)
	s.regMu.Unlock()

	return s.tree.RemoveGroup(v.Node)
}

// Cleanup releases every resource held by a VSMP that exited abnormally
// (spec.md §6's vsmp_cleanup): forces every non-running vCPU dead and then
// removes it exactly as RemoveVSMP would, without requiring the caller to
// have already quiesced it.
func (s *Scheduler) Cleanup(id uint32) error {
	v := s.VSMP(id)
	if v == nil {
		return vserr.New(vserr.NotFound, "vsmp %d not registered", id)
	}
	c, err := s.cellFor(id)
	if err != nil {
		return err
	}
	for _, vc := range v.VCPUs {
		if vc.RunState != entity.Run {
			entity.SetRunState(vc, entity.Zombie)
		}
	}
	c.RemoveResident(v)
	c.Unlock()

	s.regMu.Lock()
	delete(s.vsmps, id)
	delete(s.vsmpCells, id)
	delete(s.loadHist, id)
	delete(s.leafToVSMP, v.Node.ID)
	s.regMu.Unlock()

	return s.tree.RemoveGroup(v.Node)
}
