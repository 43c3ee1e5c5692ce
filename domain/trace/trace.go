// Package trace computes the transitive closure as packets: ProcessEdges
// traces the referents of up to EdgesPerPacket edges, ScanObjects
// enumerates the edges of newly reached objects. Marking and forwarding
// state stops revisits, so cyclic graphs terminate.
package trace

import (
	"github.com/SababAosaf/tlxr/domain/scheduler"
	"github.com/SababAosaf/tlxr/domain/space"
	"github.com/SababAosaf/tlxr/domain/vm"
	"github.com/SababAosaf/tlxr/infra/memory"
)

// EdgesPerPacket bounds the work of one ProcessEdges packet.
const EdgesPerPacket = 512

// Tracer resolves one object for the running cycle. Plans implement it.
type Tracer interface {
	TraceObject(w *scheduler.Worker, q space.ObjectQueue, obj memory.ObjectReference) memory.ObjectReference
}

// Context is shared by every tracing packet of a heap.
type Context struct {
	Tracer   Tracer
	Scanning vm.Scanning
}

// objectBuffer is the queue handed to TraceObject.
type objectBuffer struct {
	objs []memory.ObjectReference
}

func (b *objectBuffer) Enqueue(o memory.ObjectReference) { b.objs = append(b.objs, o) }

// ProcessEdges traces the referents of its edges and writes back moved
// referents.
type ProcessEdges struct {
	ctx   *Context
	edges []vm.Edge
	// Roots marks packets created from root scanning.
	Roots bool
}

func NewProcessEdges(ctx *Context, edges []vm.Edge, roots bool) *ProcessEdges {
	return &ProcessEdges{ctx: ctx, edges: edges, Roots: roots}
}

func (p *ProcessEdges) Name() string {
	if p.Roots {
		return "ProcessRootEdges"
	}
	return "ProcessEdges"
}

func (p *ProcessEdges) Execute(w *scheduler.Worker) {
	q := &objectBuffer{}
	for _, e := range p.edges {
		obj := e.Load()
		if obj.IsNull() {
			continue
		}
		if moved := p.ctx.Tracer.TraceObject(w, q, obj); moved != obj {
			e.Store(moved)
		}
	}
	if len(q.objs) > 0 {
		w.Spawn(&ScanObjects{ctx: p.ctx, objs: q.objs})
	}
}

// ScanObjects enumerates the edges of reached objects.
type ScanObjects struct {
	ctx  *Context
	objs []memory.ObjectReference
}

func NewScanObjects(ctx *Context, objs []memory.ObjectReference) *ScanObjects {
	return &ScanObjects{ctx: ctx, objs: objs}
}

func (s *ScanObjects) Name() string { return "ScanObjects" }

func (s *ScanObjects) Execute(w *scheduler.Worker) {
	sink := NewEdgeSink(s.ctx, false, w.Spawn)
	for _, o := range s.objs {
		s.ctx.Scanning.ScanObject(o, sink.Visit)
	}
	sink.Flush()
}

// EdgeSink batches visited edges into ProcessEdges packets.
type EdgeSink struct {
	ctx   *Context
	roots bool
	push  func(scheduler.Packet)
	buf   []vm.Edge
	total int
}

func NewEdgeSink(ctx *Context, roots bool, push func(scheduler.Packet)) *EdgeSink {
	return &EdgeSink{ctx: ctx, roots: roots, push: push}
}

// Visit is a vm.Visitor.
func (s *EdgeSink) Visit(e vm.Edge) {
	if s.buf == nil {
		s.buf = make([]vm.Edge, 0, EdgesPerPacket)
	}
	s.buf = append(s.buf, e)
	s.total++
	if len(s.buf) == EdgesPerPacket {
		s.Flush()
	}
}

// Flush pushes the pending edges, if any.
func (s *EdgeSink) Flush() {
	if len(s.buf) == 0 {
		return
	}
	s.push(NewProcessEdges(s.ctx, s.buf, s.roots))
	s.buf = nil
}

// Edges returns how many edges were visited.
func (s *EdgeSink) Edges() int { return s.total }

// Resurrect traces objs as if they were roots, continuing the closure in
// the worker's stage, and returns their current locations.
func Resurrect(w *scheduler.Worker, ctx *Context, objs []memory.ObjectReference) []memory.ObjectReference {
	q := &objectBuffer{}
	out := make([]memory.ObjectReference, len(objs))
	for i, o := range objs {
		out[i] = ctx.Tracer.TraceObject(w, q, o)
	}
	if len(q.objs) > 0 {
		w.Spawn(&ScanObjects{ctx: ctx, objs: q.objs})
	}
	return out
}
