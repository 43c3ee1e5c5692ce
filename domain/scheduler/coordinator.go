package scheduler

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SababAosaf/tlxr/domain/vm"
	"github.com/SababAosaf/tlxr/infra/sequence"
)

// State is the coordinator's position in the collection protocol.
type State int32

const (
	Idle State = iota
	RequestRaised
	MutatorsStopped
	StageRunning
	MutatorsResuming
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case RequestRaised:
		return "RequestRaised"
	case MutatorsStopped:
		return "MutatorsStopped"
	case StageRunning:
		return "StageRunning"
	case MutatorsResuming:
		return "MutatorsResuming"
	default:
		return "Unknown"
	}
}

// Planner schedules the work of one cycle.
type Planner interface {
	// ScheduleCollection decides c.Kind and pushes the cycle's initial
	// packets. Mutators are stopped when it is called.
	ScheduleCollection(c *Cycle, s *Scheduler)
	// CycleFinished runs after the last stage, before mutators resume.
	CycleFinished(c *Cycle)
}

// Coordinator is the dedicated control goroutine: it stops mutators,
// has the plan schedule a cycle, runs it and resumes mutators. Requests
// raised while no cycle has started yet are coalesced into one.
type Coordinator struct {
	sched      *Scheduler
	collection vm.Collection
	planner    Planner
	ids        *sequence.Sequencer
	observer   Observer
	verbose    bool

	state atomic.Int32

	mu        sync.Mutex
	cond      *sync.Cond
	pending   bool
	request   Request
	completed uint64
	closed    bool
	exited    bool
	done      chan struct{}
}

// CoordinatorConfig wires a Coordinator.
type CoordinatorConfig struct {
	Scheduler  *Scheduler
	Collection vm.Collection
	Planner    Planner
	// IDs issues cycle IDs; a fresh sequencer is used when nil.
	IDs     *sequence.Sequencer
	Verbose bool
}

func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	ids := cfg.IDs
	if ids == nil {
		ids = sequence.New(0)
	}
	c := &Coordinator{
		sched:      cfg.Scheduler,
		collection: cfg.Collection,
		planner:    cfg.Planner,
		ids:        ids,
		observer:   cfg.Scheduler.observer,
		verbose:    cfg.Verbose,
		completed:  ids.Current(),
		done:       make(chan struct{}),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Start launches the coordinator goroutine and the worker pool.
func (c *Coordinator) Start() {
	c.sched.Start()
	go c.loop()
}

// Close lets an in-flight cycle finish, then stops the coordinator and
// the workers.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.cond.Broadcast()
	c.mu.Unlock()
	<-c.done
	c.sched.Stop()
}

func (c *Coordinator) State() State { return State(c.state.Load()) }

// Request raises a collection request and returns the ID of the cycle
// that will serve it.
func (c *Coordinator) Request(r Request) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending {
		c.request = c.request.merge(r)
	} else {
		c.pending = true
		c.request = r
		c.state.CompareAndSwap(int32(Idle), int32(RequestRaised))
	}
	c.cond.Broadcast()
	return c.ids.Current() + 1
}

// Wait blocks until cycle id has completed. It returns false if the
// coordinator closed first.
func (c *Coordinator) Wait(id uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.completed < id {
		if c.exited {
			return false
		}
		c.cond.Wait()
	}
	return true
}

// Collect requests a collection and waits for it. It must not be called
// from a mutator that is not parked.
func (c *Coordinator) Collect(r Request) uint64 {
	id := c.Request(r)
	c.Wait(id)
	return id
}

// Completed returns the ID of the last finished cycle.
func (c *Coordinator) Completed() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed
}

func (c *Coordinator) loop() {
	defer close(c.done)
	for {
		c.mu.Lock()
		for !c.pending && !c.closed {
			c.cond.Wait()
		}
		if !c.pending {
			c.exited = true
			c.cond.Broadcast()
			c.mu.Unlock()
			return
		}
		req := c.request
		c.pending = false
		c.request = Request{}
		id := c.ids.Next()
		c.mu.Unlock()

		c.collect(id, req)

		c.mu.Lock()
		c.completed = id
		c.cond.Broadcast()
		c.mu.Unlock()
	}
}

func (c *Coordinator) collect(id uint64, req Request) {
	cycle := NewCycle(id, req)
	c.state.Store(int32(RequestRaised))

	c.collection.StopAllMutators(func(tls vm.Thread) {
		cycle.Mutators = append(cycle.Mutators, tls)
	})
	c.state.Store(int32(MutatorsStopped))
	stopped := time.Now()

	c.planner.ScheduleCollection(cycle, c.sched)
	c.state.Store(int32(StageRunning))
	c.sched.Run(cycle)

	c.state.Store(int32(MutatorsResuming))
	c.planner.CycleFinished(cycle)
	c.collection.ResumeMutators()
	pause := time.Since(stopped)
	c.state.Store(int32(Idle))

	// observers may block on I/O; mutators are already running
	c.observer.CycleEnd(cycle, pause)

	if c.verbose {
		log.Printf("[coordinator] %s done: %d packets, pause %s", cycle, cycle.TotalPackets(), pause)
	}
}
