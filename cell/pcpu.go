package cell

import (
	"time"

	lru "github.com/hashicorp/golang-lru/simplelru"

	"github.com/google/vsched/entity"
	"github.com/google/vsched/group"
	"github.com/google/vsched/ht"
	"github.com/google/vsched/timerif"
	"github.com/google/vsched/topo"
)

// groupVtimeCacheSize bounds the per-PCPU group-vtime cache. The original
// source's cache is direct-mapped (one slot per hashed group id); a small
// fixed-capacity LRU gives the same "usually hits, cheap to evict" behavior
// without hand-rolling a hash-and-probe array (see DESIGN.md).
const groupVtimeCacheSize = 64

// groupVtimeEntry is one cached {vtime, vtimeLimit, stride} reading, tagged
// with the cache generation it was populated under.
type groupVtimeEntry struct {
	vt, limit, stride int64
	generation        uint32
}

// PreemptionSnapshot records the last-observed vtime context of whatever
// this PCPU is running, consulted by choose-next on a *different* PCPU when
// deciding whether to preempt it.
type PreemptionSnapshot struct {
	VSMP  *entity.VSMP
	Main  int64
	Extra int64
	Stride int64
	BonusCycles int64
	Valid bool
}

// PCPU is one physical CPU's dispatch shadow within its owning Cell.
type PCPU struct {
	ID    topo.PCPUID
	cell  *Cell
	queues entity.PCPUQueues

	Idle *entity.VCPU // the PCPU's idle-world placeholder vCPU, may be nil until installed
	Running *entity.VCPU
	LastDispatch timerif.Cycles // cycle count at which Running was installed, for charge accounting

	Handoff          *entity.VCPU
	DirectedYield    *entity.VCPU

	Preemption PreemptionSnapshot

	groupVtimeCache *lru.LRU
	generation      uint32

	nextMigrateAllowed    timerif.Cycles
	nextCellMigrateAllowed timerif.Cycles
	nextRunnerMoveAllowed  timerif.Cycles
	migrateJitter         migrateAllowance

	// HaltHistory records this PCPU's own halted (idle-world) windows, so an
	// HT partner charging a running vCPU can query how much of its quantum
	// overlapped this logical CPU being halted (spec.md §4.E's partner-halt
	// credit).
	HaltHistory *ht.HaltHistory

	HTPartner *PCPU

	quantumExpire timerif.Cycles
	reschedule    bool

	lastBonusCycles int64 // overshoot bonus accrued by Running as of the last ContextSwitch
}

func newPCPU(id topo.PCPUID, c *Cell) *PCPU {
	cache, _ := lru.NewLRU(groupVtimeCacheSize, nil)
	return &PCPU{
		ID:              id,
		cell:            c,
		groupVtimeCache: cache,
		HaltHistory:     ht.NewHaltHistory(),
		migrateJitter:   migrateAllowance{period: defaultMigratePeriod, jitterChance: defaultMigrateJitterChance},
	}
}

// PendingBonus returns the preemption bonus, in cycles, accrued by whatever
// vCPU p is currently running as of its last context switch -- the bonus
// ChooseNext's step 5 "current-vcpu-with-bonus" candidate weighs against
// remote candidates so a VSMP that has been overshooting its entitlement
// doesn't get evicted purely because it ran slightly ahead.
func (p *PCPU) PendingBonus() int64 { return p.lastBonusCycles }

// InvalidateGroupVtimeCache bumps the cache generation, the Go form of
// choose-next step 3's "generation++, clear on wraparound". Stale entries
// (from a prior generation) are treated as misses by lookupGroupVtime
// without being physically purged, except on the rare wraparound where the
// whole cache is dropped to reclaim the generation tag space.
func (p *PCPU) InvalidateGroupVtimeCache() {
	p.generation++
	if p.generation == 0 {
		p.groupVtimeCache.Purge()
	}
}

// LookupGroupVtime is the exported form of lookupGroupVtime, for the
// scheduler façade's vtime.GroupVtimeLookup closure (it alone holds the
// group.Tree needed to resolve a vtime.GroupID to the *group.Node this cache
// is keyed by).
func (p *PCPU) LookupGroupVtime(n *group.Node) (vt, limit, stride int64) {
	return p.lookupGroupVtime(n)
}

// lookupGroupVtime returns n's cached {vt, limit, stride} triple if present
// and current-generation; otherwise reads through to n and populates the
// cache.
func (p *PCPU) lookupGroupVtime(n *group.Node) (vt, limit, stride int64) {
	if v, ok := p.groupVtimeCache.Get(n.ID); ok {
		e := v.(groupVtimeEntry)
		if e.generation == p.generation {
			return e.vt, e.limit, e.stride
		}
	}
	vt, limit, stride = n.VtimeSnapshot()
	p.groupVtimeCache.Add(n.ID, groupVtimeEntry{vt: vt, limit: limit, stride: stride, generation: p.generation})
	return
}

// Queues exposes the PCPU's main/extra/limbo run queues.
func (p *PCPU) Queues() *entity.PCPUQueues { return &p.queues }

// QueueAdd places vc onto p's appropriate run queue per spec.md's
// queue_add mapping: main if vc's VSMP isn't ahead of its entitlement,
// extra if it is and still extra-eligible, limbo if the VSMP is
// max-limited and must not run at all. maxLimited is supplied by the
// caller; the scheduler façade always passes false, since it enforces Max
// through the balance pass's share rescaling rather than a queue gate.
func (p *PCPU) QueueAdd(vc *entity.VCPU, maxLimited bool) {
	switch {
	case maxLimited:
		entity.Requeue(vc, &p.queues.Limbo)
	case vc.VSMP != nil && vtimeAhead(vc.VSMP):
		entity.Requeue(vc, &p.queues.Extra)
	default:
		entity.Requeue(vc, &p.queues.Main)
	}
}

// migrateAllowance bundles the three independent "is it time yet" gates
// choose-next step 2 checks, each a simple deadline-plus-jitter timestamp.
type migrateAllowance struct {
	period       time.Duration
	jitterChance int // 1-in-N chance to allow early, so idle PCPUs still scan
}

// defaultMigratePeriod and defaultMigrateJitterChance are the deadlines and
// jitter odds choose-next step 2 reloads nextMigrateAllowed/
// nextCellMigrateAllowed/nextRunnerMoveAllowed with once each deadline
// passes; a shorter period means the scheduler scans for migration/runner-
// move opportunities more often, at the cost of more remote try-lock
// attempts per round.
const (
	defaultMigratePeriod      = 2 * time.Millisecond
	defaultMigrateJitterChance = 64
)

// migratePeriodCycles converts a migrateAllowance period into cycles at
// cyclesPerSec, the frequency the migration deadlines are expressed in.
func migratePeriodCycles(period time.Duration, cyclesPerSec int64) int64 {
	return int64(period) * cyclesPerSec / int64(time.Second)
}

// migrationDue reports whether nowCycles has reached deadline, applying a
// 1-in-jitterChance early-allow roll so an otherwise-quiescent PCPU still
// occasionally attempts a migration scan before its deadline (jitterRoll is
// supplied by the caller so the check stays deterministic and testable).
func migrationDue(nowCycles, deadline timerif.Cycles, jitterRoll, jitterChance int) bool {
	return MigrationAllowed(int64(nowCycles), int64(deadline), jitterRoll, jitterChance)
}
