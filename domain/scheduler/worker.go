package scheduler

import (
	"log"
	"runtime/debug"
	"time"
)

// WorkerLocal is per-worker state owned by the plan, such as a copy
// allocator. BeginCycle and EndCycle run while the worker is parked.
type WorkerLocal interface {
	BeginCycle(c *Cycle)
	EndCycle(c *Cycle)
}

// Worker is one collector thread of the pool.
type Worker struct {
	ID int

	sched *Scheduler
	local WorkerLocal

	cycle *Cycle
	stage Stage
}

// Cycle returns the collection the current packet belongs to.
func (w *Worker) Cycle() *Cycle { return w.cycle }

// Stage returns the stage of the current packet.
func (w *Worker) Stage() Stage { return w.stage }

// Local returns the plan's worker-local state.
func (w *Worker) Local() WorkerLocal { return w.local }

func (w *Worker) Scheduler() *Scheduler { return w.sched }

// Spawn pushes p into the stage currently executing.
func (w *Worker) Spawn(p Packet) { w.sched.Push(w.stage, p) }

// Push pushes p into stage s, which must not precede the current stage.
func (w *Worker) Push(s Stage, p Packet) { w.sched.Push(s, p) }

func (w *Worker) run() {
	defer w.sched.wg.Done()
	for {
		b, p, ok := w.sched.next()
		if !ok {
			return
		}
		w.execute(b, p)
	}
}

func (w *Worker) execute(b *bucket, p Packet) {
	c := w.sched.cycle.Load()
	w.cycle, w.stage = c, b.stage

	start := time.Now()
	w.guard(p)
	w.sched.observer.PacketExecuted(c, b.stage, PacketName(p), time.Since(start))
	c.packets[b.stage].Add(1)

	w.cycle = nil
	if b.complete() {
		w.sched.stageDrained(c, b.stage)
	}
}

// guard runs p. A panicking packet leaves the reachability analysis
// incomplete, so it is fatal.
func (w *Worker) guard(p Packet) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[scheduler] worker %d: packet %s panicked in %s: %v\n%s",
				w.ID, PacketName(p), w.stage, r, debug.Stack())
			w.sched.fatal(r)
		}
	}()
	p.Execute(w)
}
