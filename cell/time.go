package cell

import (
	"github.com/google/vsched/timerif"
	"github.com/google/vsched/vtime"
)

// UpdateTime implements cell_update_time: advances c.now and c.vtime by the
// elapsed cycles since the last update, clamped to monotonic (a backward
// excursion, possible across a migrated TSC or a clock anomaly, is
// accounted to lostCycles instead of regressing the cell's clock). Must be
// called with c locked. nowCycles should come from timerif.Timer.NowCycles.
func (c *Cell) UpdateTime(nowCycles timerif.Cycles, nStride int64) {
	c.assertLocked()
	delta := int64(nowCycles) - int64(c.now)
	if delta < 0 {
		c.lostCycles += -delta
		return
	}
	c.now = nowCycles
	c.vtime += nStride * delta
	c.maybeScheduleReset()
}

// maybeScheduleReset checks whether c.vtime has crossed the configured
// reset threshold and, if so and no reset is already pending, arms a
// one-shot timer. The timer's callback only clears the pending handle; it
// does not rebase any vtime.
func (c *Cell) maybeScheduleReset() {
	threshold := vtime.ResetThreshold(c.resetLG)
	if !vtime.NeedsReset(threshold, c.vtime) {
		return
	}
	if c.resetHandle != 0 || c.timer == nil {
		return
	}
	c.resetHandle = c.timer.Add(0, func(interface{}) {
		c.resetHandle = 0
	}, nil)
}

// ApplyReset subtracts offset from the cell's own vtime only; VSMP
// main/extra/limit values and group base vtimes are left unchanged, and no
// caller in this repository applies the matching offset to them. Must be
// called with c locked.
func (c *Cell) ApplyReset(offset int64) {
	c.assertLocked()
	c.vtime = vtime.Apply(c.vtime, offset)
}

// Now returns the cell's last-updated cycle count.
func (c *Cell) Now() timerif.Cycles { return c.now }

// Vtime returns the cell's current virtual time.
func (c *Cell) Vtime() int64 { return c.vtime }

// LostCycles returns the cumulative backward-excursion cycles discarded by
// UpdateTime, a diagnostic counter only.
func (c *Cell) LostCycles() int64 { return c.lostCycles }
