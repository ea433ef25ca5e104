package main

import (
	"context"
	"time"

	log "github.com/golang/glog"

	"github.com/google/vsched/scheduler"
	"github.com/google/vsched/timerif"
	"github.com/google/vsched/topo"
)

// driveForever paces timer forward in tickInterval wall-clock steps and
// drives one Scheduler.Tick per PCPU each step, until ctx is cancelled. It
// is the server's substitute for a real per-CPU timer interrupt, the way
// sim.Harness.AdvanceTicks paces the same fake timer manually for tests.
func driveForever(ctx context.Context, s *scheduler.Scheduler, timer *timerif.FakeTimer, numPCPUs int) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	deltaCycles := timerif.Cycles(timer.CyclesPerSecond() * int64(tickInterval) / int64(time.Second))
	if deltaCycles <= 0 {
		deltaCycles = 1
	}

	count := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			timer.Advance(deltaCycles)
			for i := 0; i < numPCPUs; i++ {
				s.Tick(topo.PCPUID(i), count)
			}
			count++
			if count%10000 == 0 {
				log.V(1).Infof("driver: %d ticks elapsed", count)
			}
		}
	}
}
