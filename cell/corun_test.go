package cell

import (
	"testing"

	"github.com/google/vsched/entity"
	"github.com/google/vsched/skew"
)

func newMPTestVSMP(t *testing.T, n int) *entity.VSMP {
	v, _ := newTestVSMP(t, n)
	return v
}

func TestCoscheduleSiblingsHandsOffToFreePCPU(t *testing.T) {
	c := NewCell(1, 61, nil)
	p0 := c.AddPCPU(0)
	p1 := c.AddPCPU(1)
	c.Lock()
	defer c.Unlock()

	v := newMPTestVSMP(t, 2)
	winner, sib := v.VCPUs[0], v.VCPUs[1]
	entity.SetRunState(winner, entity.Run)
	p0.Running = winner
	entity.SetRunState(sib, entity.Ready)
	sib.PCPU = 1

	sk := skew.New(skew.Config{Relaxed: false})
	CoscheduleSiblings(p0, winner, sk)

	if p1.Handoff != sib {
		t.Fatalf("expected sib handed off to pcpu 1, got %v", p1.Handoff)
	}
	if sib.RunState != entity.ReadyCorun {
		t.Fatalf("RunState = %v, want ReadyCorun", sib.RunState)
	}
	if !p1.ConsumeReschedule() {
		t.Fatal("expected pcpu 1 marked for reschedule")
	}
}

func TestCoscheduleSiblingsSkipsUniprocessor(t *testing.T) {
	c := NewCell(1, 61, nil)
	p0 := c.AddPCPU(0)
	c.Lock()
	defer c.Unlock()

	v := newMPTestVSMP(t, 1)
	winner := v.VCPUs[0]
	entity.SetRunState(winner, entity.Run)
	p0.Running = winner

	sk := skew.New(skew.Config{Relaxed: false})
	CoscheduleSiblings(p0, winner, sk) // must not panic on a uniprocessor VSMP
}

func TestCoscheduleSiblingsLeavesQueuedWhenNoSlot(t *testing.T) {
	c := NewCell(1, 61, nil)
	p0 := c.AddPCPU(0)
	c.Lock()
	defer c.Unlock()

	v := newMPTestVSMP(t, 2)
	winner, sib := v.VCPUs[0], v.VCPUs[1]
	entity.SetRunState(winner, entity.Run)
	p0.Running = winner
	entity.SetRunState(sib, entity.Ready)
	sib.PCPU = 0 // only pcpu in the cell is already taken by winner

	sk := skew.New(skew.Config{Relaxed: false})
	CoscheduleSiblings(p0, winner, sk)

	if sib.RunState != entity.Ready {
		t.Fatalf("RunState = %v, want Ready (left queued, no slot available)", sib.RunState)
	}
}

func TestMigrateCandidateRelocatesSiblingsOntoTarget(t *testing.T) {
	v := newMPTestVSMP(t, 2)
	src := NewCell(1, 61, nil)
	dst := NewCell(2, 61, nil)
	src.Lock()
	dst.Lock()
	defer src.Unlock()
	defer dst.Unlock()

	srcP := src.AddPCPU(0)
	dstP := dst.AddPCPU(1)

	winner, sib := v.VCPUs[0], v.VCPUs[1]
	vc := NewVSMPCell(src)
	src.addResident(v, vc)
	entity.SetRunState(winner, entity.Ready)
	srcP.Queues().Main.Push(winner)
	entity.SetRunState(sib, entity.Ready)
	srcP.Queues().Main.Push(sib)

	MigrateCandidate(winner, src, dst, dstP)

	if vc.Snapshot() != dst {
		t.Fatal("vsmp should now be resident in dst")
	}
	if sib.RunState != entity.Ready {
		t.Fatalf("sib RunState = %v, want still Ready", sib.RunState)
	}
	found := false
	dstP.Queues().Main.Each(func(q *entity.VCPU) {
		if q == sib {
			found = true
		}
	})
	if !found {
		t.Fatal("sib should have been relocated onto dst's main queue")
	}
}

func TestChooseNextMigratesFromRemoteCellCandidate(t *testing.T) {
	local := NewCell(1, 61, nil)
	remote := NewCell(2, 61, nil)
	p := local.AddPCPU(0)
	rp := remote.AddPCPU(1)

	v, _ := newTestVSMP(t, 1)
	vc := NewVSMPCell(remote)
	remote.Lock()
	remote.addResident(v, vc)
	entity.SetRunState(v.VCPUs[0], entity.Ready)
	rp.Queues().Main.Push(v.VCPUs[0])
	remote.Unlock()

	local.Lock()
	defer local.Unlock()
	p.nextMigrateAllowed = 0
	p.nextCellMigrateAllowed = 0
	p.migrateJitter.jitterChance = 1 // always allow

	got := p.ChooseNext(nil, nil, 0, []*Cell{remote}, nil)
	if got != v.VCPUs[0] {
		t.Fatalf("ChooseNext = %v, want the remote cell's queued vcpu", got)
	}
	if got.PCPU != p.ID {
		t.Fatalf("winning vcpu's PCPU = %d, want %d after migration", got.PCPU, p.ID)
	}
	if vc.Snapshot() != local {
		t.Fatal("remote vsmp should have migrated into the local cell")
	}
}
