// Package alloc holds the mutator-local allocators. None of them is safe
// for concurrent use: each belongs to exactly one mutator or collector
// worker, and only page acquisition below them is synchronised.
package alloc

import (
	"github.com/SababAosaf/tlxr/domain/space"
	"github.com/SababAosaf/tlxr/infra/gcerr"
	"github.com/SababAosaf/tlxr/infra/memory"
)

// Semantics selects where an allocation goes.
type Semantics uint8

const (
	Default Semantics = iota
	Immortal
	Los
	NonMoving
)

func (s Semantics) String() string {
	switch s {
	case Default:
		return "default"
	case Immortal:
		return "immortal"
	case Los:
		return "los"
	case NonMoving:
		return "non-moving"
	default:
		return "unknown"
	}
}

// Allocator hands out object memory. Alloc fails with a
// resource-exhaustion error when its space cannot grow.
type Allocator interface {
	Alloc(bytes, align uint64) (memory.Address, error)
	// Reset drops any buffered memory so the space can be collected.
	Reset()
	Space() space.Space
}

// TLABBytes is the size of a thread-local allocation buffer.
const TLABBytes = 32 << 10

// TLABSource is a space that hands out allocation buffers.
type TLABSource interface {
	space.Space
	AcquireTLAB(bytes uint64) (memory.Address, uint64, error)
}

// BumpAllocator allocates by bumping a cursor through a TLAB.
type BumpAllocator struct {
	space   space.Space
	acquire func(bytes uint64) (memory.Address, uint64, error)
	cursor  memory.Address
	limit   memory.Address
}

func NewBumpAllocator(src TLABSource) *BumpAllocator {
	return &BumpAllocator{space: src, acquire: src.AcquireTLAB}
}

// NewCopyAllocator allocates copies during a collection; it draws on the
// copy reserve instead of the mutator budget.
func NewCopyAllocator(to *space.CopySpace) *BumpAllocator {
	return &BumpAllocator{space: to, acquire: to.AcquireForCopy}
}

// Rebind points the allocator at another space and drops its buffer.
func (a *BumpAllocator) Rebind(src TLABSource) {
	a.space, a.acquire = src, src.AcquireTLAB
	a.Reset()
}

// RebindCopy is Rebind for copy allocators.
func (a *BumpAllocator) RebindCopy(to *space.CopySpace) {
	a.space, a.acquire = to, to.AcquireForCopy
	a.Reset()
}

func (a *BumpAllocator) Space() space.Space { return a.space }

func (a *BumpAllocator) Alloc(bytes, align uint64) (memory.Address, error) {
	checkAlign(align)
	start := a.cursor.AlignUp(align)
	if a.limit != 0 && start.Add(bytes) <= a.limit {
		a.cursor = start.Add(bytes)
		return start, nil
	}
	return a.slow(bytes, align)
}

func (a *BumpAllocator) slow(bytes, align uint64) (memory.Address, error) {
	want := uint64(TLABBytes)
	if bytes+align > want {
		want = bytes + align
	}
	buf, n, err := a.acquire(want)
	if err != nil {
		return 0, err
	}
	start := buf.AlignUp(align)
	if bytes > TLABBytes/2 {
		// oversized request: keep the current buffer
		return start, nil
	}
	a.cursor, a.limit = start.Add(bytes), buf.Add(n)
	return start, nil
}

func (a *BumpAllocator) Reset() { a.cursor, a.limit = 0, 0 }

// FreeListAllocator allocates cells from mark-sweep blocks, keeping one
// current block per size class.
type FreeListAllocator struct {
	space   *space.MarkSweepSpace
	current []*space.Block
}

func NewFreeListAllocator(s *space.MarkSweepSpace) *FreeListAllocator {
	return &FreeListAllocator{
		space:   s,
		current: make([]*space.Block, space.NumSizeClasses()),
	}
}

func (a *FreeListAllocator) Space() space.Space { return a.space }

func (a *FreeListAllocator) Alloc(bytes, align uint64) (memory.Address, error) {
	checkAlign(align)
	if align > 16 {
		gcerr.Fatalf("free-list allocation cannot align to %d", align)
	}
	class, ok := space.SizeClass(bytes)
	if !ok {
		gcerr.Fatalf("%d bytes exceed the largest size class", bytes)
	}
	for {
		if b := a.current[class]; b != nil {
			if cell, ok := b.Alloc(); ok {
				return cell, nil
			}
			a.space.ReturnBlock(b)
			a.current[class] = nil
		}
		b, err := a.space.AcquireBlock(class)
		if err != nil {
			return 0, err
		}
		a.current[class] = b
	}
}

func (a *FreeListAllocator) Reset() {
	for i, b := range a.current {
		if b != nil {
			a.space.ReturnBlock(b)
			a.current[i] = nil
		}
	}
}

// LargeObjectAllocator gives each object its own page run.
type LargeObjectAllocator struct {
	space *space.LargeObjectSpace
}

func NewLargeObjectAllocator(s *space.LargeObjectSpace) *LargeObjectAllocator {
	return &LargeObjectAllocator{space: s}
}

func (a *LargeObjectAllocator) Space() space.Space { return a.space }

func (a *LargeObjectAllocator) Alloc(bytes, align uint64) (memory.Address, error) {
	checkAlign(align)
	if align > memory.BytesInPage {
		gcerr.Fatalf("large objects cannot align to %d", align)
	}
	return a.space.Alloc(bytes)
}

func (a *LargeObjectAllocator) Reset() {}

func checkAlign(align uint64) {
	if align < memory.BytesInWord || align&(align-1) != 0 {
		gcerr.Fatalf("alignment %d is not a power of two of at least a word", align)
	}
}
