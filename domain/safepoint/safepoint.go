// Package safepoint implements cooperative mutator suspension.
//
// A stop request advances the global epoch and raises a flag. Mutators
// notice the flag when they Poll, acknowledge the epoch and block until
// the world resumes. The world is stopped once every registered mutator
// has acknowledged the current epoch or is parked outside managed code.
package safepoint

import (
	"sync"
	"sync/atomic"

	"github.com/SababAosaf/tlxr/domain/vm"
	"github.com/SababAosaf/tlxr/infra/gcerr"
)

const idle = ^uint64(0)

type thread struct {
	tls vm.Thread
	// acked is the last epoch this thread acknowledged; idle while parked.
	acked   atomic.Uint64
	blocked bool
}

// Controller implements vm.Collection and vm.Safepoints.
type Controller struct {
	epoch    atomic.Uint64
	stopping atomic.Bool
	stopped  atomic.Bool

	mu      sync.Mutex
	changed *sync.Cond // acks, registrations, resume
	threads map[vm.Thread]*thread
}

func New() *Controller {
	c := &Controller{threads: make(map[vm.Thread]*thread)}
	c.changed = sync.NewCond(&c.mu)
	return c
}

// Register attaches a mutator thread. A thread attached while the world
// is stopped waits for resumption first.
func (c *Controller) Register(tls vm.Thread) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.stopping.Load() {
		c.changed.Wait()
	}
	if _, ok := c.threads[tls]; ok {
		gcerr.Fatalf("mutator %d registered twice", tls)
	}
	t := &thread{tls: tls}
	t.acked.Store(c.epoch.Load())
	c.threads[tls] = t
}

// Unregister detaches tls. A detached thread no longer holds up a stop.
func (c *Controller) Unregister(tls vm.Thread) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.threads, tls)
	c.changed.Broadcast()
}

// Poll is the safe point. It returns immediately unless a stop is pending.
func (c *Controller) Poll(tls vm.Thread) {
	if !c.stopping.Load() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.lookup(tls)
	for c.stopping.Load() {
		t.acked.Store(c.epoch.Load())
		c.changed.Broadcast()
		c.changed.Wait()
	}
}

// EnterBlocked parks tls outside managed code, e.g. while it waits for a
// collection it requested.
func (c *Controller) EnterBlocked(tls vm.Thread) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.lookup(tls)
	t.blocked = true
	t.acked.Store(idle)
	c.changed.Broadcast()
}

// LeaveBlocked returns tls to managed code, waiting out any stop in
// progress.
func (c *Controller) LeaveBlocked(tls vm.Thread) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.lookup(tls)
	for c.stopping.Load() {
		c.changed.Wait()
	}
	t.blocked = false
	t.acked.Store(c.epoch.Load())
}

// StopAllMutators raises the stop flag and waits until every mutator has
// reached a safe point, then calls visit for each of them.
func (c *Controller) StopAllMutators(visit func(vm.Thread)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopping.Load() {
		gcerr.Fatalf("stop requested while mutators are already stopping")
	}
	epoch := c.epoch.Add(1)
	c.stopping.Store(true)
	for c.minAcked() < epoch {
		c.changed.Wait()
	}
	c.stopped.Store(true)
	for tls := range c.threads {
		visit(tls)
	}
}

// ResumeMutators releases every mutator blocked at a safe point.
func (c *Controller) ResumeMutators() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.stopping.Load() {
		gcerr.Fatalf("resume without a matching stop")
	}
	c.stopped.Store(false)
	c.stopping.Store(false)
	c.changed.Broadcast()
}

// WorldStopped reports whether all mutators are currently held.
func (c *Controller) WorldStopped() bool { return c.stopped.Load() }

// StopPending reports whether a stop has been requested.
func (c *Controller) StopPending() bool { return c.stopping.Load() }

func (c *Controller) Epoch() uint64 { return c.epoch.Load() }

// Mutators returns the number of registered threads.
func (c *Controller) Mutators() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.threads)
}

func (c *Controller) lookup(tls vm.Thread) *thread {
	t, ok := c.threads[tls]
	if !ok {
		gcerr.Fatalf("mutator %d is not registered", tls)
	}
	return t
}

// minAcked is the oldest epoch acknowledged by a running thread; parked
// threads report idle.
func (c *Controller) minAcked() uint64 {
	min := idle
	for _, t := range c.threads {
		if v := t.acked.Load(); v < min {
			min = v
		}
	}
	return min
}

var (
	_ vm.Collection = (*Controller)(nil)
	_ vm.Safepoints = (*Controller)(nil)
)
