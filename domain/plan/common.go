package plan

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/SababAosaf/tlxr/domain/alloc"
	"github.com/SababAosaf/tlxr/domain/barrier"
	"github.com/SababAosaf/tlxr/domain/scheduler"
	"github.com/SababAosaf/tlxr/domain/space"
	"github.com/SababAosaf/tlxr/domain/trace"
	"github.com/SababAosaf/tlxr/domain/vm"
	"github.com/SababAosaf/tlxr/infra/gcerr"
	"github.com/SababAosaf/tlxr/infra/memory"
	"github.com/SababAosaf/tlxr/infra/metadata"
	"github.com/SababAosaf/tlxr/infra/pageresource"
)

// maxSpaces is the most spaces a plan reserves extents for.
const maxSpaces = 6

// CommonPlan is the state every plan shares: the immortal, large-object
// and non-moving spaces, heap accounting and the mutator registry.
type CommonPlan struct {
	opts    Options
	binding vm.Binding

	Meta   *metadata.Context
	Planes *metadata.Planes
	Chunks *pageresource.ChunkMap

	Immortal  *space.ImmortalSpace
	LOS       *space.LargeObjectSpace
	NonMoving *space.MarkSweepSpace

	// Remembered collects barrier records; unused without a barrier.
	Remembered *barrier.RememberedSet

	self   Plan
	layout *space.Layout
	trace  *trace.Context
	// usedPages is the plan's page count including its copy reserve.
	usedPages func() int
	// allow adds plan specific limits to Allow; may be nil.
	allow func(name string, pages int) error

	collecting  atomic.Bool
	collections atomic.Uint64
	sinceGC     atomic.Int64

	mu       sync.Mutex
	mutators map[vm.Thread]*Mutator
}

func newCommonPlan(opts Options, binding vm.Binding) (*CommonPlan, error) {
	meta := metadata.NewContext()
	p := &CommonPlan{
		opts:       opts,
		binding:    binding,
		Meta:       meta,
		Planes:     metadata.NewPlanes(meta),
		Chunks:     pageresource.NewChunkMap(binding.Memory, meta),
		Remembered: barrier.NewRememberedSet(),
		layout:     space.NewLayout(),
		mutators:   make(map[vm.Thread]*Mutator),
	}
	if err := meta.Verify(); err != nil {
		return nil, err
	}

	env := p.env()
	ext, err := p.reserve()
	if err != nil {
		return nil, err
	}
	p.Immortal = space.NewImmortalSpace("immortal", ext, 0, env)
	if ext, err = p.reserve(); err != nil {
		return nil, err
	}
	p.LOS = space.NewLargeObjectSpace("los", ext, 0, env)
	if ext, err = p.reserve(); err != nil {
		return nil, err
	}
	p.NonMoving = space.NewMarkSweepSpace("nonmoving", ext, 0, env)
	return p, nil
}

// init binds the concrete plan embedding p.
func (p *CommonPlan) init(self Plan, usedPages func() int) {
	p.self = self
	p.usedPages = usedPages
	p.trace = &trace.Context{Tracer: self, Scanning: p.binding.Scanning}
}

func (p *CommonPlan) env() space.Env {
	return space.Env{Chunks: p.Chunks, Planes: p.Planes, Budget: p}
}

// reserve returns an extent as large as the heap.
func (p *CommonPlan) reserve() (space.Extent, error) {
	return p.layout.Reserve(memory.PagesToBytes(p.opts.HeapPages))
}

func (p *CommonPlan) Base() *CommonPlan { return p }

func (p *CommonPlan) Options() Options { return p.opts }

func (p *CommonPlan) Binding() vm.Binding { return p.binding }

// TraceContext is the tracing context of the plan's packets.
func (p *CommonPlan) TraceContext() *trace.Context { return p.trace }

// HeapPages is the configured heap size.
func (p *CommonPlan) HeapPages() int { return p.opts.HeapPages }

// UsedPages counts committed pages plus the copy reserve.
func (p *CommonPlan) UsedPages() int { return p.usedPages() }

func (p *CommonPlan) commonPages() int {
	return p.Immortal.CommittedPages() + p.LOS.CommittedPages() + p.NonMoving.CommittedPages()
}

// Collections returns the number of finished cycles.
func (p *CommonPlan) Collections() uint64 { return p.collections.Load() }

// Collecting reports whether a cycle is in progress.
func (p *CommonPlan) Collecting() bool { return p.collecting.Load() }

// CollectionRequired reports whether committing pages more needs a
// collection first.
func (p *CommonPlan) CollectionRequired(pages int) bool {
	if s := p.opts.StressFactor; s > 0 && int(p.sinceGC.Load())+pages > s {
		return true
	}
	return p.usedPages()+pages > p.opts.HeapPages
}

// Allow implements space.Budget for mutator page requests.
func (p *CommonPlan) Allow(name string, pages int) error {
	if s := p.opts.StressFactor; s > 0 && int(p.sinceGC.Add(int64(pages))) > s {
		return gcerr.Exhausted("%s: stress factor of %d pages reached", name, s)
	}
	if used := p.usedPages(); used+pages > p.opts.HeapPages {
		return gcerr.Exhausted("%s: %d pages requested, %d of %d in use", name, pages, used, p.opts.HeapPages)
	}
	if p.allow != nil {
		return p.allow(name, pages)
	}
	return nil
}

// traceCommon traces obj if one of the shared spaces holds it.
func (p *CommonPlan) traceCommon(q space.ObjectQueue, obj memory.ObjectReference) (memory.ObjectReference, bool) {
	if s := p.commonSpace(obj.ToAddress()); s != nil {
		return s.TraceObject(q, obj, nil), true
	}
	return obj, false
}

func (p *CommonPlan) commonSpace(a memory.Address) space.Space {
	switch {
	case p.Immortal.Contains(a):
		return p.Immortal
	case p.LOS.Contains(a):
		return p.LOS
	case p.NonMoving.Contains(a):
		return p.NonMoving
	}
	return nil
}

func (p *CommonPlan) commonSpaces() []space.Space {
	return []space.Space{p.Immortal, p.LOS, p.NonMoving}
}

func (p *CommonPlan) prepareCommon(full bool) {
	for _, s := range p.commonSpaces() {
		s.Prepare(full)
	}
}

func (p *CommonPlan) releaseCommon(full bool) {
	for _, s := range p.commonSpaces() {
		s.Release(full)
	}
}

// spaceOf finds the space holding a among spaces.
func spaceOf(spaces []space.Space, a memory.Address) space.Space {
	for _, s := range spaces {
		if s.Contains(a) {
			return s
		}
	}
	return nil
}

// Bind creates and registers the mutator context of tls.
func (p *CommonPlan) Bind(tls vm.Thread) *Mutator {
	m := p.self.NewMutator(tls)
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.mutators[tls]; ok {
		gcerr.Fatalf("mutator %d bound twice", tls)
	}
	p.mutators[tls] = m
	return m
}

// Unbind flushes m and forgets it.
func (p *CommonPlan) Unbind(m *Mutator) {
	m.Flush()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mutators[m.TLS] != m {
		gcerr.Fatalf("mutator %d is not bound", m.TLS)
	}
	delete(p.mutators, m.TLS)
}

// Mutator returns the context bound to tls.
func (p *CommonPlan) Mutator(tls vm.Thread) (*Mutator, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.mutators[tls]
	return m, ok
}

// Mutators returns every bound mutator context.
func (p *CommonPlan) Mutators() []*Mutator {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Mutator, 0, len(p.mutators))
	for _, m := range p.mutators {
		out = append(out, m)
	}
	return out
}

// newMutator builds the allocators every plan shares; the plan fills in
// the default allocator.
func (p *CommonPlan) newMutator(tls vm.Thread, def alloc.Allocator, b barrier.Barrier) *Mutator {
	return &Mutator{
		TLS:       tls,
		plan:      p,
		def:       def,
		immortal:  alloc.NewBumpAllocator(p.Immortal),
		los:       alloc.NewLargeObjectAllocator(p.LOS),
		nonMoving: alloc.NewFreeListAllocator(p.NonMoving),
		barrier:   b,
		maxNonLOS: p.self.Constraints().MaxNonLOSBytes,
	}
}

// beginCycle runs on the coordinator once mutators are stopped.
func (p *CommonPlan) beginCycle(c *scheduler.Cycle) {
	if !p.collecting.CompareAndSwap(false, true) {
		gcerr.Fatalf("%s scheduled while another cycle runs", c)
	}
}

// CycleFinished implements scheduler.Planner.
func (p *CommonPlan) CycleFinished(c *scheduler.Cycle) {
	p.collecting.Store(false)
}

// endOfGC is the bookkeeping of the Final stage.
func (p *CommonPlan) endOfGC(c *scheduler.Cycle) {
	p.collections.Add(1)
	p.sinceGC.Store(0)
	if p.opts.Verbose {
		log.Printf("[plan] %s %s finished: %d of %d pages in use",
			p.self.Name(), c, p.usedPages(), p.opts.HeapPages)
	}
}
