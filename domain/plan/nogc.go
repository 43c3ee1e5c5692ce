package plan

import (
	"log"

	"github.com/SababAosaf/tlxr/domain/alloc"
	"github.com/SababAosaf/tlxr/domain/barrier"
	"github.com/SababAosaf/tlxr/domain/scheduler"
	"github.com/SababAosaf/tlxr/domain/space"
	"github.com/SababAosaf/tlxr/domain/vm"
	"github.com/SababAosaf/tlxr/infra/memory"
)

// NoGC allocates into the immortal space and never reclaims anything.
// Running out of pages is an immediate out-of-memory.
type NoGC struct {
	*CommonPlan
}

func newNoGC(opts Options, binding vm.Binding) (*NoGC, error) {
	base, err := newCommonPlan(opts, binding)
	if err != nil {
		return nil, err
	}
	p := &NoGC{CommonPlan: base}
	base.init(p, base.commonPages)
	return p, nil
}

func (p *NoGC) Name() string { return "NoGC" }

func (p *NoGC) Constraints() Constraints {
	return Constraints{
		Barrier:        barrier.None,
		MaxNonLOSBytes: alloc.TLABBytes / 2,
	}
}

// ScheduleCollection runs an empty cycle.
func (p *NoGC) ScheduleCollection(c *scheduler.Cycle, _ *scheduler.Scheduler) {
	p.beginCycle(c)
	if p.opts.Verbose {
		log.Printf("[plan] NoGC ignores %s", c)
	}
}

func (p *NoGC) TraceObject(_ *scheduler.Worker, q space.ObjectQueue, obj memory.ObjectReference) memory.ObjectReference {
	r, _ := p.traceCommon(q, obj)
	return r
}

func (p *NoGC) IsLive(obj memory.ObjectReference) bool { return p.IsReachable(obj) }

func (p *NoGC) IsReachable(obj memory.ObjectReference) bool {
	s := spaceOf(p.Spaces(), obj.ToAddress())
	return s != nil && s.IsReachable(obj)
}

func (p *NoGC) Forwarded(obj memory.ObjectReference) memory.ObjectReference { return obj }

func (p *NoGC) NewMutator(tls vm.Thread) *Mutator {
	return p.newMutator(tls, alloc.NewBumpAllocator(p.Immortal), barrier.NoBarrier{})
}

func (p *NoGC) NewWorkerLocal(int) scheduler.WorkerLocal { return nil }

func (p *NoGC) Spaces() []space.Space { return p.commonSpaces() }
