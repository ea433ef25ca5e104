// Package config holds the scheduler's named, typed configuration options
// (spec.md §6), built the way github.com/google/schedviz's analysis package
// builds collectionOptions: a plain struct of resolved values plus a slice of
// Option funcs applied at construction.
package config

import "time"

// RescheduleOpt selects how making a remote vCPU READY triggers that PCPU to
// re-dispatch (CPU_RESCHED_OPT).
type RescheduleOpt int

const (
	// ReschedAlways sends an IPI unconditionally.
	ReschedAlways RescheduleOpt = iota
	// ReschedPreemptible names the policy of interrupting only a remote
	// vCPU that the newly-ready VSMP would preempt. The scheduler package
	// does not evaluate preemptibility: under this option it arms the
	// remote PCPU's reschedule flag and sends no IPI, as under ReschedDefer.
	ReschedPreemptible
	// ReschedDefer sets the local reschedule flag and waits for the next
	// timer tick rather than sending an IPI.
	ReschedDefer
	// ReschedNone never interrupts; the remote PCPU discovers the new
	// work only at its next tick.
	ReschedNone
)

// Options holds every named configuration value of spec.md §6. All time-like
// fields are expressed as cycle counts or plain durations and are resolved
// once at scheduler construction; nothing here is re-read per tick.
type Options struct {
	// Quantum is the length of a scheduling quantum.
	Quantum time.Duration
	// CreditAgePeriod is the vtime-aging period (CPU_CREDIT_AGE_PERIOD).
	CreditAgePeriod time.Duration
	// BoundLagQuanta is the half-distance clamp for vtime lag, in units of
	// Quantum (CPU_BOUND_LAG_QUANTA).
	BoundLagQuanta int

	// PCPUMigratePeriod is the minimum inter-arrival of PCPU migrations.
	PCPUMigratePeriod time.Duration
	// CellMigratePeriod is the minimum inter-arrival of cell migrations.
	CellMigratePeriod time.Duration
	// RunnerMovePeriod is the minimum inter-arrival of runner-move
	// decisions (push the current runner elsewhere, idle locally).
	RunnerMovePeriod time.Duration
	// MigrateJitter bounds the +/- random jitter applied to each of the
	// three migration periods above.
	MigrateJitter time.Duration
	// MigrateChance is N in "1/N probability a PCPU scans remote queues
	// outside its migrate window" (CPU_MIGRATE_CHANCE). 0 disables the
	// opportunistic scan.
	MigrateChance int

	// SkewSamplePeriod is the skew sampler's period (CPU_SKEW_SAMPLE_USEC).
	SkewSamplePeriod time.Duration
	// SkewSampleThreshold is the skew-point sum above which a strict-mode
	// VSMP is considered skewed out (CPU_SKEW_SAMPLE_THRESHOLD).
	SkewSampleThreshold int
	// IntraSkewThreshold is the per-vCPU intra-skew value above which a
	// relaxed-mode VSMP considers that vCPU in need of co-schedule
	// (CPU_INTRASKEW_THRESHOLD).
	IntraSkewThreshold int
	// RelaxedCosched selects relaxed (true) vs strict (false) co-schedule
	// mode by default (CPU_RELAXED_COSCHED).
	RelaxedCosched bool

	// ReschedOpt selects IPI-vs-defer behavior (CPU_RESCHED_OPT).
	ReschedOpt RescheduleOpt
	// DeferredReschedTicks: in defer mode, the number of timer ticks that
	// must pass before a deferred reschedule is honored.
	DeferredReschedTicks int

	// HaltingIdle enables HLT-on-idle (CPU_HALTING_IDLE).
	HaltingIdle bool
	// HaltingIdleMsPenalty is the halt wake latency penalty applied to the
	// idle-vtime computation (CPU_HALTING_IDLE_MS_PENALTY).
	HaltingIdleMsPenalty int

	// MachineClearThresh is the quarantine threshold, per million cycles;
	// 0 disables quarantine (CPU_MACHINE_CLEAR_THRESH).
	MachineClearThresh int
	// HTEventPeriod is the sampling period for machine_clear_any deltas.
	HTEventPeriod time.Duration

	// ConsoleWarpPeriod grants the console world vtime warp
	// (CPU_COS_WARP_PERIOD).
	ConsoleWarpPeriod time.Duration
	// ConsoleMinCPU is the console world's minimum share, in percent
	// (COS_MIN_CPU).
	ConsoleMinCPU int64

	// VtimeResetLG is the exponent of the vtime reset threshold
	// (CPU_VTIME_RESET_LG).
	VtimeResetLG uint
}

// Option mutates Options during construction.
type Option func(*Options)

// Default returns the Options populated with the scheduler's defaults, the
// values spec.md's component descriptions imply.
func Default() *Options {
	return &Options{
		Quantum:              50 * time.Millisecond,
		CreditAgePeriod:      2 * time.Second,
		BoundLagQuanta:       10,
		PCPUMigratePeriod:    100 * time.Microsecond,
		CellMigratePeriod:    350 * time.Microsecond,
		RunnerMovePeriod:     100 * time.Microsecond,
		MigrateJitter:        20 * time.Microsecond,
		MigrateChance:        1000,
		SkewSamplePeriod:     200 * time.Microsecond,
		SkewSampleThreshold:  6,
		IntraSkewThreshold:   3,
		RelaxedCosched:       true,
		ReschedOpt:           ReschedPreemptible,
		DeferredReschedTicks: 1,
		HaltingIdle:          true,
		HaltingIdleMsPenalty: 1,
		MachineClearThresh:   0,
		HTEventPeriod:        10 * time.Millisecond,
		ConsoleWarpPeriod:    0,
		ConsoleMinCPU:        0,
		VtimeResetLG:         61,
	}
}

// New builds Options from Default with the given overrides applied in
// order, the same "defaults + Option funcs" shape as
// analysis.collectionOptions.
func New(opts ...Option) *Options {
	o := Default()
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithQuantum overrides the quantum length.
func WithQuantum(d time.Duration) Option { return func(o *Options) { o.Quantum = d } }

// WithReschedOpt overrides CPU_RESCHED_OPT.
func WithReschedOpt(r RescheduleOpt) Option { return func(o *Options) { o.ReschedOpt = r } }

// WithMachineClearThresh overrides the quarantine threshold; 0 disables
// quarantine entirely.
func WithMachineClearThresh(t int) Option { return func(o *Options) { o.MachineClearThresh = t } }

// WithRelaxedCosched overrides CPU_RELAXED_COSCHED.
func WithRelaxedCosched(b bool) Option { return func(o *Options) { o.RelaxedCosched = b } }

// WithSkewSampleThreshold overrides CPU_SKEW_SAMPLE_THRESHOLD.
func WithSkewSampleThreshold(v int) Option { return func(o *Options) { o.SkewSampleThreshold = v } }

// WithIntraSkewThreshold overrides CPU_INTRASKEW_THRESHOLD.
func WithIntraSkewThreshold(v int) Option { return func(o *Options) { o.IntraSkewThreshold = v } }

// WithMigratePeriods overrides all three migration-kind periods at once.
func WithMigratePeriods(pcpu, cell, runner time.Duration) Option {
	return func(o *Options) {
		o.PCPUMigratePeriod = pcpu
		o.CellMigratePeriod = cell
		o.RunnerMovePeriod = runner
	}
}

// WithVtimeResetLG overrides CPU_VTIME_RESET_LG.
func WithVtimeResetLG(lg uint) Option { return func(o *Options) { o.VtimeResetLG = lg } }
