package plan

import (
	"log"
	"math"
	"sync/atomic"

	"github.com/SababAosaf/tlxr/domain/alloc"
	"github.com/SababAosaf/tlxr/domain/barrier"
	"github.com/SababAosaf/tlxr/domain/scheduler"
	"github.com/SababAosaf/tlxr/domain/space"
	"github.com/SababAosaf/tlxr/domain/vm"
	"github.com/SababAosaf/tlxr/infra/gcerr"
	"github.com/SababAosaf/tlxr/infra/memory"
)

// GenCopy allocates into a bounded nursery and promotes survivors into a
// semispace mature generation. Nursery collections trace only the
// nursery, using the remembered set for mature-to-nursery edges; full
// heap collections also flip and copy the mature generation.
type GenCopy struct {
	*CommonPlan
	nursery *space.CopySpace
	mature  [2]*space.CopySpace
	active  atomic.Int32

	// full is the kind of the running or last cycle.
	full     atomic.Bool
	nextFull atomic.Bool
	survival atomic.Uint64 // float64 bits

	// written in Prepare, read in Final
	nurseryAtStart int
	matureAtStart  int
}

func newGenCopy(opts Options, binding vm.Binding) (*GenCopy, error) {
	base, err := newCommonPlan(opts, binding)
	if err != nil {
		return nil, err
	}
	p := &GenCopy{CommonPlan: base}
	ext, err := base.reserve()
	if err != nil {
		return nil, err
	}
	p.nursery = space.NewCopySpace("nursery", ext, 0, base.env())
	p.nursery.SetFromSpace(true)
	for i, name := range []string{"mature0", "mature1"} {
		if ext, err = base.reserve(); err != nil {
			return nil, err
		}
		p.mature[i] = space.NewCopySpace(name, ext, 0, base.env())
	}
	base.init(p, p.usedPages)
	base.allow = p.allowNursery
	return p, nil
}

// usedPages reserves room to promote the whole nursery and to copy the
// whole mature generation.
func (p *GenCopy) usedPages() int {
	return p.commonPages() + 2*p.nursery.CommittedPages() + 2*p.toSpace().CommittedPages()
}

func (p *GenCopy) allowNursery(name string, pages int) error {
	if name != p.nursery.Name() {
		return nil
	}
	if n := p.nursery.CommittedPages(); n+pages > p.opts.NurseryPages {
		return gcerr.Exhausted("nursery: %d of %d pages committed", n, p.opts.NurseryPages)
	}
	return nil
}

func (p *GenCopy) Name() string { return "GenCopy" }

func (p *GenCopy) Constraints() Constraints {
	return Constraints{
		Collects:       true,
		Moves:          true,
		Barrier:        barrier.ObjectRemembering,
		MaxNonLOSBytes: alloc.TLABBytes / 2,
		NeedsLogBit:    true,
	}
}

func (p *GenCopy) toSpace() *space.CopySpace { return p.mature[p.active.Load()] }

// IsNursery reports whether obj is in the nursery.
func (p *GenCopy) IsNursery(obj memory.ObjectReference) bool {
	return p.nursery.Contains(obj.ToAddress())
}

// LastSurvivalRate is the fraction of the nursery promoted by the last
// nursery collection.
func (p *GenCopy) LastSurvivalRate() float64 {
	return math.Float64frombits(p.survival.Load())
}

// requiresFullHeap decides the kind of the next cycle.
func (p *GenCopy) requiresFullHeap(r scheduler.Request) bool {
	switch {
	case r.Emergency:
		return true
	case r.UserTriggered && p.opts.FullHeapSystemGC:
		return true
	case p.nextFull.Load():
		return true
	}
	// not enough free pages to promote a full nursery
	return p.opts.HeapPages-p.usedPages() < p.opts.NurseryPages
}

func (p *GenCopy) ScheduleCollection(c *scheduler.Cycle, s *scheduler.Scheduler) {
	p.beginCycle(c)
	full := p.requiresFullHeap(c.Request)
	p.full.Store(full)
	if full {
		c.Kind = scheduler.Full
	} else {
		c.Kind = scheduler.Nursery
	}
	p.schedule(c, s, p)
	s.Push(scheduler.Roots, scheduler.Func("ProcessRememberedSet", func(w *scheduler.Worker) {
		p.processRememberedSet(w, !full)
	}))
}

// processRememberedSet re-arms the barrier on every remembered object.
// In nursery cycles their fields are roots.
func (p *GenCopy) processRememberedSet(w *scheduler.Worker, scan bool) {
	unlogged := p.Planes.Unlogged
	sink := p.rootSink(w)
	for _, batch := range p.Remembered.Drain() {
		for _, src := range batch {
			unlogged.Store(src.ToAddress(), 1)
			if scan {
				p.binding.Scanning.ScanObject(src, sink.Visit)
			}
		}
	}
	sink.Flush()
}

func (p *GenCopy) prepare(c *scheduler.Cycle) {
	full := c.Kind == scheduler.Full
	p.nurseryAtStart = p.nursery.CommittedPages()
	p.nursery.Prepare(full)
	if full {
		from := p.active.Load()
		to := 1 - from
		p.mature[from].SetFromSpace(true)
		p.mature[to].SetFromSpace(false)
		for _, cs := range p.mature {
			cs.Prepare(true)
		}
		p.active.Store(to)
	}
	p.matureAtStart = p.toSpace().CommittedPages()
	p.prepareCommon(full)
}

func (p *GenCopy) release(c *scheduler.Cycle) {
	full := c.Kind == scheduler.Full
	p.nursery.Release(full)
	if full {
		for _, cs := range p.mature {
			cs.Release(true)
		}
	}
	p.releaseCommon(full)
}

func (p *GenCopy) endOfGC(c *scheduler.Cycle) {
	if c.Kind == scheduler.Full {
		p.nextFull.Store(false)
		return
	}
	rate := 0.0
	if p.nurseryAtStart > 0 {
		promoted := p.toSpace().CommittedPages() - p.matureAtStart
		rate = float64(promoted) / float64(p.nurseryAtStart)
	}
	p.survival.Store(math.Float64bits(rate))
	next := rate > p.opts.FullHeapSurvivalThreshold
	p.nextFull.Store(next)
	if p.opts.Verbose {
		log.Printf("[plan] %s survival %.2f, next full heap: %t", c, rate, next)
	}
}

func (p *GenCopy) TraceObject(w *scheduler.Worker, q space.ObjectQueue, obj memory.ObjectReference) memory.ObjectReference {
	a := obj.ToAddress()
	if p.nursery.Contains(a) {
		return p.nursery.TraceObject(q, obj, copierOf(w))
	}
	if !p.full.Load() {
		return obj
	}
	for _, cs := range p.mature {
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

func (p *GenCopy) IsLive(obj memory.ObjectReference) bool {
	a := obj.ToAddress()
	if p.nursery.Contains(a) {
		return p.nursery.IsLive(obj)
	}
	s := spaceOf(p.Spaces(), a)
	if s == nil {
		return false
	}
	// nursery cycles keep everything outside the nursery
	return !p.full.Load() || s.IsLive(obj)
}

func (p *GenCopy) IsReachable(obj memory.ObjectReference) bool {
	s := spaceOf(p.Spaces(), obj.ToAddress())
	return s != nil && s.IsReachable(obj)
}

func (p *GenCopy) Forwarded(obj memory.ObjectReference) memory.ObjectReference {
	a := obj.ToAddress()
	for _, cs := range []*space.CopySpace{p.nursery, p.mature[0], p.mature[1]} {
		if cs.Contains(a) {
			to, _ := cs.Forwarded(obj)
			return to
		}
	}
	return obj
}

func (p *GenCopy) NewMutator(tls vm.Thread) *Mutator {
	b := barrier.NewObjectRememberingBarrier(p.Planes.Unlogged, p.IsNursery, p.Remembered)
	m := p.newMutator(tls, alloc.NewBumpAllocator(p.nursery), b)
	m.postAlloc = func(obj memory.ObjectReference, _ alloc.Semantics) {
		if !p.IsNursery(obj) {
			p.setUnlogged(obj)
		}
	}
	return m
}

func (p *GenCopy) setUnlogged(obj memory.ObjectReference) {
	p.Planes.Unlogged.Store(obj.ToAddress(), 1)
}

func (p *GenCopy) NewWorkerLocal(id int) scheduler.WorkerLocal {
	return newCopyContext(id, p.binding.ObjectModel, p.toSpace, p.setUnlogged)
}

func (p *GenCopy) Spaces() []space.Space {
	return append([]space.Space{p.nursery, p.mature[0], p.mature[1]}, p.commonSpaces()...)
}
