package cywctl

import (
	"context"
	"runtime"
	"sync"
)

// RunnerStats counts runner iterations.
type RunnerStats struct {
	Steps    uint64
	Idle     uint64
	Commands uint64
}

// Runner is the dispatch loop that keeps the bus serviced and executes queued
// control commands. Obtain one from Control.Runner.
type Runner struct {
	bus *Bus
	ctl *Control

	mu    sync.Mutex
	stats RunnerStats
}

// Step services the bus engine, then executes at most one pending command.
// When there was nothing to do it yields the processor. It reports whether
// any work was done.
func (r *Runner) Step() bool {
	busWork := r.bus.Service()
	cmdWork := r.ctl.dispatch()
	r.mu.Lock()
	r.stats.Steps++
	if cmdWork {
		r.stats.Commands++
	}
	idle := !busWork && !cmdWork
	if idle {
		r.stats.Idle++
	}
	r.mu.Unlock()
	if idle {
		runtime.Gosched()
	}
	return !idle
}

// Run steps the runner until ctx is done. On the target ctx is never
// cancelled and Run does not return.
func (r *Runner) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		r.Step()
	}
}

func (r *Runner) Stats() RunnerStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
