// Package space implements the memory regions a plan composes: copying,
// immortal, large-object and mark-sweep spaces. Every space owns a page
// resource over a fixed virtual extent and answers liveness questions
// from side metadata.
package space

import (
	"github.com/SababAosaf/tlxr/infra/gcerr"
	"github.com/SababAosaf/tlxr/infra/memory"
	"github.com/SababAosaf/tlxr/infra/metadata"
	"github.com/SababAosaf/tlxr/infra/pageresource"
)

// Space is the capability set shared by every policy.
type Space interface {
	Name() string
	Contains(a memory.Address) bool
	// IsLive answers during tracing: has obj been reached in this cycle.
	IsLive(obj memory.ObjectReference) bool
	// IsReachable answers outside a cycle: did obj survive the last one.
	IsReachable(obj memory.ObjectReference) bool
	IsMovable() bool
	// TraceObject marks or forwards obj, queueing it for scanning the
	// first time it is reached, and returns its current location.
	TraceObject(q ObjectQueue, obj memory.ObjectReference, c Copier) memory.ObjectReference
	Prepare(full bool)
	Release(full bool)
	CommittedPages() int
}

// ObjectQueue collects objects that still need scanning.
type ObjectQueue interface {
	Enqueue(obj memory.ObjectReference)
}

// Copier moves objects out of a from-space. Each collector worker owns
// one, bound to its own allocation buffer.
type Copier interface {
	Copy(obj memory.ObjectReference) memory.ObjectReference
}

// Budget is consulted before a space commits pages for a mutator.
type Budget interface {
	// Allow returns a resource-exhaustion error when committing pages
	// more would require a collection first.
	Allow(space string, pages int) error
}

// Unlimited never asks for a collection.
type Unlimited struct{}

func (Unlimited) Allow(string, int) error { return nil }

// Env carries what every space is built from.
type Env struct {
	Chunks *pageresource.ChunkMap
	Planes *metadata.Planes
	Budget Budget
}

func (e Env) memory() *memory.AddressSpace { return e.Chunks.Memory() }

// Extent is a reserved virtual range.
type Extent struct {
	Start memory.Address
	Bytes uint64
}

func (e Extent) Limit() memory.Address { return e.Start.Add(e.Bytes) }

// Layout hands out chunk-aligned extents from the bottom of the heap.
type Layout struct {
	next memory.Address
}

func NewLayout() *Layout { return &Layout{next: memory.HeapStart} }

// Reserve returns an extent of at least bytes.
func (l *Layout) Reserve(bytes uint64) (Extent, error) {
	bytes = (bytes + memory.BytesInChunk - 1) &^ (memory.BytesInChunk - 1)
	if bytes == 0 {
		bytes = memory.BytesInChunk
	}
	if bytes > memory.HeapEnd.Sub(l.next) {
		return Extent{}, gcerr.Exhausted("layout: no room for %d bytes at %s", bytes, l.next)
	}
	e := Extent{Start: l.next, Bytes: bytes}
	l.next = e.Limit()
	return e, nil
}

type common struct {
	name   string
	extent Extent
	env    Env
	specs  []*metadata.Spec
}

func newCommon(name string, extent Extent, env Env, specs []*metadata.Spec) common {
	if env.Budget == nil {
		env.Budget = Unlimited{}
	}
	return common{name: name, extent: extent, env: env, specs: specs}
}

func (c *common) Name() string { return c.name }

func (c *common) Contains(a memory.Address) bool {
	return a >= c.extent.Start && a < c.extent.Limit()
}

func (c *common) Extent() Extent { return c.extent }

func (c *common) config(maxPages int) pageresource.Config {
	return pageresource.Config{
		Name:     c.name,
		Start:    c.extent.Start,
		Extent:   c.extent.Bytes,
		MaxPages: maxPages,
		Specs:    c.specs,
	}
}

// acquire commits pages from pr after the budget agrees.
func (c *common) acquire(pr pageresource.PageResource, pages int) (memory.Address, error) {
	if err := c.env.Budget.Allow(c.name, pages); err != nil {
		return 0, err
	}
	return pr.Acquire(pages)
}

func (c *common) mark() *metadata.Spec { return c.env.Planes.Mark }

// testAndMark sets obj's mark bit, reporting whether this caller set it.
func testAndMark(mark *metadata.Spec, obj memory.ObjectReference) bool {
	return mark.CompareAndSwap(obj.ToAddress(), 0, 1)
}

// isValid reports whether obj is a currently allocated object.
func isValid(valid *metadata.Spec, obj memory.ObjectReference) bool {
	a := obj.ToAddress()
	return valid.IsMapped(a) && valid.Load(a) == 1
}

// nonMovingSpecs are the planes mapped by every space that keeps objects
// in place.
func nonMovingSpecs(p *metadata.Planes) []*metadata.Spec {
	return []*metadata.Spec{p.Mark, p.ValidObject, p.Unlogged, p.SanityMark}
}
