package scheduler

import (
	"github.com/google/vsched/entity"
	"github.com/google/vsched/group"
	"github.com/google/vsched/vserr"
)

// SetVSMPAlloc applies a new min/max/shares allocation to the vsmp's leaf
// node, the Go form of spec.md §6's vsmp_set_alloc.
func (s *Scheduler) SetVSMPAlloc(id uint32, alloc group.Alloc) error {
	v := s.VSMP(id)
	if v == nil {
		return vserr.New(vserr.NotFound, "vsmp %d not registered", id)
	}
	return s.tree.VsmpSetAlloc(v.Node, alloc, len(v.VCPUs))
}

// SetGroupAlloc applies a new min/max/shares allocation to an interior
// group, the Go form of spec.md §6's group_set_alloc.
func (s *Scheduler) SetGroupAlloc(n *group.Node, alloc group.Alloc) error {
	return s.tree.SetAlloc(n, alloc)
}

// CreateGroup creates a new interior group under parent, the Go form of
// spec.md §6's group_create.
func (s *Scheduler) CreateGroup(parent *group.Node, name string, alloc group.Alloc) (*group.Node, error) {
	return s.tree.CreateGroup(parent, name, alloc)
}

// RemoveGroup deletes an empty interior group, the Go form of spec.md §6's
// group_remove.
func (s *Scheduler) RemoveGroup(n *group.Node) error {
	return s.tree.RemoveGroup(n)
}

// MoveGroup relocates an existing group (or VSMP leaf) to a new parent, the
// Go form of the original source's group-move half of CpuSched_AdmitGroup.
func (s *Scheduler) MoveGroup(n, newParent *group.Node) error {
	return s.tree.AdmitGroupMove(n, newParent)
}

// MoveVMAllocToGroup shifts amount of a VSMP's min reservation into its
// sibling group's min, the Go form of spec.md §6's
// move_vm_alloc_to_group.
func (s *Scheduler) MoveVMAllocToGroup(vsmpID uint32, dst *group.Node, amount int64) error {
	v := s.VSMP(vsmpID)
	if v == nil {
		return vserr.New(vserr.NotFound, "vsmp %d not registered", vsmpID)
	}
	return s.tree.MoveVMAllocToGroup(v.Node, dst, amount)
}

// MoveGroupAllocToVM shifts amount of a group's min reservation into a
// sibling VSMP's min, the Go form of spec.md §6's
// move_group_alloc_to_vm.
func (s *Scheduler) MoveGroupAllocToVM(src *group.Node, vsmpID uint32, amount int64) error {
	v := s.VSMP(vsmpID)
	if v == nil {
		return vserr.New(vserr.NotFound, "vsmp %d not registered", vsmpID)
	}
	return s.tree.MoveGroupAllocToVM(src, v.Node, amount)
}

// SetAffinity updates vc's hard affinity mask. A mask that excludes vc's
// current PCPU merely prevents future dispatch there; it does not force an
// immediate migration, matching spec.md's "affinity takes effect at the
// next choose-next" semantics.
func (s *Scheduler) SetAffinity(vc *entity.VCPU, mask entity.AffinityMask) {
	vc.Affinity = mask
}

// SetHTSharing updates a VSMP's configured hyperthread package-sharing
// policy, the Go form of spec.md §6's vsmp_set_ht_sharing.
func (s *Scheduler) SetHTSharing(id uint32, sharing entity.HTSharing) error {
	v := s.VSMP(id)
	if v == nil {
		return vserr.New(vserr.NotFound, "vsmp %d not registered", id)
	}
	v.Sharing = sharing
	return nil
}

// SampleMachineClear feeds one machine_clear_any counter reading for vc
// into the quarantine sampler, the Go form of spec.md §4.E's periodic HT
// event sampling. usedCycles is the interval of vc's own runtime the
// counter delta was accumulated over.
func (s *Scheduler) SampleMachineClear(vc *entity.VCPU, counter, usedCycles int64) {
	s.quar.Sample(vc, counter, usedCycles)
}
