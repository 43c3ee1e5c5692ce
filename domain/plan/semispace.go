package plan

import (
	"sync/atomic"

	"github.com/SababAosaf/tlxr/domain/alloc"
	"github.com/SababAosaf/tlxr/domain/barrier"
	"github.com/SababAosaf/tlxr/domain/scheduler"
	"github.com/SababAosaf/tlxr/domain/space"
	"github.com/SababAosaf/tlxr/domain/vm"
	"github.com/SababAosaf/tlxr/infra/gcerr"
	"github.com/SababAosaf/tlxr/infra/memory"
)

// SemiSpace copies every live object from one copy space into the other
// each cycle. Mutators allocate into the current to-space, so half the
// copying space is held back as the copy reserve.
type SemiSpace struct {
	*CommonPlan
	copy   [2]*space.CopySpace
	active atomic.Int32
}

func newSemiSpace(opts Options, binding vm.Binding) (*SemiSpace, error) {
	base, err := newCommonPlan(opts, binding)
	if err != nil {
		return nil, err
	}
	p := &SemiSpace{CommonPlan: base}
	for i, name := range []string{"copy0", "copy1"} {
		ext, err := base.reserve()
		if err != nil {
			return nil, err
		}
		p.copy[i] = space.NewCopySpace(name, ext, 0, base.env())
	}
	base.init(p, func() int { return base.commonPages() + 2*p.toSpace().CommittedPages() })
	return p, nil
}

func (p *SemiSpace) Name() string { return "SemiSpace" }

func (p *SemiSpace) Constraints() Constraints {
	return Constraints{
		Collects:       true,
		Moves:          true,
		Barrier:        barrier.None,
		MaxNonLOSBytes: alloc.TLABBytes / 2,
	}
}

// toSpace is the space mutators allocate into and cycles copy into.
func (p *SemiSpace) toSpace() *space.CopySpace { return p.copy[p.active.Load()] }

func (p *SemiSpace) ScheduleCollection(c *scheduler.Cycle, s *scheduler.Scheduler) {
	p.beginCycle(c)
	c.Kind = scheduler.Full
	p.schedule(c, s, p)
}

// prepare flips the roles of the two copy spaces.
func (p *SemiSpace) prepare(*scheduler.Cycle) {
	from := p.active.Load()
	to := 1 - from
	p.copy[from].SetFromSpace(true)
	p.copy[to].SetFromSpace(false)
	for _, cs := range p.copy {
		cs.Prepare(true)
	}
	p.active.Store(to)
	p.prepareCommon(true)
}

func (p *SemiSpace) release(*scheduler.Cycle) {
	for _, cs := range p.copy {
		cs.Release(true)
	}
	p.releaseCommon(true)
}

func (p *SemiSpace) endOfGC(*scheduler.Cycle) {}

func (p *SemiSpace) TraceObject(w *scheduler.Worker, q space.ObjectQueue, obj memory.ObjectReference) memory.ObjectReference {
	a := obj.ToAddress()
	for _, cs := range p.copy {
		if cs.Contains(a) {
			return cs.TraceObject(q, obj, copierOf(w))
		}
	}
	if r, ok := p.traceCommon(q, obj); ok {
		return r
	}
	gcerr.Fatal(gcerr.Corruption("%s traced outside every space", obj))
	return obj
}

func (p *SemiSpace) IsLive(obj memory.ObjectReference) bool {
	s := spaceOf(p.Spaces(), obj.ToAddress())
	return s != nil && s.IsLive(obj)
}

func (p *SemiSpace) IsReachable(obj memory.ObjectReference) bool {
	s := spaceOf(p.Spaces(), obj.ToAddress())
	return s != nil && s.IsReachable(obj)
}

func (p *SemiSpace) Forwarded(obj memory.ObjectReference) memory.ObjectReference {
	a := obj.ToAddress()
	for _, cs := range p.copy {
		if cs.Contains(a) {
			to, _ := cs.Forwarded(obj)
			return to
		}
	}
	return obj
}

func (p *SemiSpace) NewMutator(tls vm.Thread) *Mutator {
	bump := alloc.NewBumpAllocator(p.toSpace())
	m := p.newMutator(tls, bump, barrier.NoBarrier{})
	m.release = func(*Mutator) { bump.Rebind(p.toSpace()) }
	return m
}

func (p *SemiSpace) NewWorkerLocal(id int) scheduler.WorkerLocal {
	return newCopyContext(id, p.binding.ObjectModel, p.toSpace, nil)
}

func (p *SemiSpace) Spaces() []space.Space {
	return append([]space.Space{p.copy[0], p.copy[1]}, p.commonSpaces()...)
}
