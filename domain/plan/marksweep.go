package plan

import (
	"github.com/SababAosaf/tlxr/domain/alloc"
	"github.com/SababAosaf/tlxr/domain/barrier"
	"github.com/SababAosaf/tlxr/domain/scheduler"
	"github.com/SababAosaf/tlxr/domain/space"
	"github.com/SababAosaf/tlxr/domain/vm"
	"github.com/SababAosaf/tlxr/infra/gcerr"
	"github.com/SababAosaf/tlxr/infra/memory"
)

// MarkSweep allocates from size-class free lists and never moves
// objects. Every collection is full heap.
type MarkSweep struct {
	*CommonPlan
	ms *space.MarkSweepSpace
}

func newMarkSweep(opts Options, binding vm.Binding) (*MarkSweep, error) {
	base, err := newCommonPlan(opts, binding)
	if err != nil {
		return nil, err
	}
	ext, err := base.reserve()
	if err != nil {
		return nil, err
	}
	p := &MarkSweep{
		CommonPlan: base,
		ms:         space.NewMarkSweepSpace("marksweep", ext, 0, base.env()),
	}
	base.init(p, func() int { return base.commonPages() + p.ms.CommittedPages() })
	return p, nil
}

func (p *MarkSweep) Name() string { return "MarkSweep" }

func (p *MarkSweep) Constraints() Constraints {
	return Constraints{
		Collects:       true,
		Barrier:        barrier.None,
		MaxNonLOSBytes: space.MaxCellBytes,
	}
}

func (p *MarkSweep) ScheduleCollection(c *scheduler.Cycle, s *scheduler.Scheduler) {
	p.beginCycle(c)
	c.Kind = scheduler.Full
	p.schedule(c, s, p)
}

func (p *MarkSweep) prepare(*scheduler.Cycle) {
	p.ms.Prepare(true)
	p.prepareCommon(true)
}

func (p *MarkSweep) release(*scheduler.Cycle) {
	p.ms.Release(true)
	p.releaseCommon(true)
}

func (p *MarkSweep) endOfGC(*scheduler.Cycle) {}

func (p *MarkSweep) TraceObject(_ *scheduler.Worker, q space.ObjectQueue, obj memory.ObjectReference) memory.ObjectReference {
	if p.ms.Contains(obj.ToAddress()) {
		return p.ms.TraceObject(q, obj, nil)
	}
	if r, ok := p.traceCommon(q, obj); ok {
		return r
	}
	gcerr.Fatal(gcerr.Corruption("%s traced outside every space", obj))
	return obj
}

func (p *MarkSweep) IsLive(obj memory.ObjectReference) bool {
	s := spaceOf(p.Spaces(), obj.ToAddress())
	return s != nil && s.IsLive(obj)
}

func (p *MarkSweep) IsReachable(obj memory.ObjectReference) bool {
	s := spaceOf(p.Spaces(), obj.ToAddress())
	return s != nil && s.IsReachable(obj)
}

func (p *MarkSweep) Forwarded(obj memory.ObjectReference) memory.ObjectReference { return obj }

func (p *MarkSweep) NewMutator(tls vm.Thread) *Mutator {
	return p.newMutator(tls, alloc.NewFreeListAllocator(p.ms), barrier.NoBarrier{})
}

func (p *MarkSweep) NewWorkerLocal(int) scheduler.WorkerLocal { return nil }

func (p *MarkSweep) Spaces() []space.Space {
	return append([]space.Space{p.ms}, p.commonSpaces()...)
}
