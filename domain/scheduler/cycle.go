package scheduler

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/SababAosaf/tlxr/domain/vm"
)

// Kind is the extent of a collection, decided by the plan.
type Kind uint8

const (
	Full Kind = iota
	Nursery
)

func (k Kind) String() string {
	if k == Nursery {
		return "nursery"
	}
	return "full"
}

// Request describes why a collection was asked for. Concurrent requests
// made before a cycle starts are merged into one.
type Request struct {
	// UserTriggered is an explicit request from the host.
	UserTriggered bool
	// Emergency follows an allocation that failed even after collecting;
	// soft references are cleared.
	Emergency bool
	// Pages is the allocation size that failed, if any.
	Pages int
}

func (r Request) merge(o Request) Request {
	r.UserTriggered = r.UserTriggered || o.UserTriggered
	r.Emergency = r.Emergency || o.Emergency
	if o.Pages > r.Pages {
		r.Pages = o.Pages
	}
	return r
}

// Cycle is the state of one collection, handed to every packet through
// its worker. Nothing about a running collection lives in globals.
type Cycle struct {
	ID      uint64
	Request Request
	Started time.Time

	// Kind is set by the plan while scheduling, before any stage opens.
	Kind Kind

	// Mutators are the threads stopped for this cycle.
	Mutators []vm.Thread

	stage   atomic.Int32
	packets [NumStages]atomic.Int64
	done    chan struct{}
}

func NewCycle(id uint64, req Request) *Cycle {
	c := &Cycle{
		ID:      id,
		Request: req,
		Started: time.Now(),
		done:    make(chan struct{}),
	}
	c.stage.Store(idleStage)
	return c
}

// Stage returns the currently open stage.
func (c *Cycle) Stage() Stage { return Stage(c.stage.Load()) }

// Packets returns how many packets of stage s have executed.
func (c *Cycle) Packets(s Stage) int64 { return c.packets[s].Load() }

func (c *Cycle) TotalPackets() int64 {
	var n int64
	for i := range c.packets {
		n += c.packets[i].Load()
	}
	return n
}

// Done is closed when the last stage drains.
func (c *Cycle) Done() <-chan struct{} { return c.done }

func (c *Cycle) String() string {
	return fmt.Sprintf("gc#%d(%s)", c.ID, c.Kind)
}
