package plan

import (
	"github.com/SababAosaf/tlxr/domain/alloc"
	"github.com/SababAosaf/tlxr/domain/barrier"
	"github.com/SababAosaf/tlxr/domain/space"
	"github.com/SababAosaf/tlxr/domain/vm"
	"github.com/SababAosaf/tlxr/infra/gcerr"
	"github.com/SababAosaf/tlxr/infra/memory"
)

// Mutator is the allocation and barrier context of one host thread. It
// is used by that thread alone, and by collector packets while the
// thread is stopped.
type Mutator struct {
	TLS vm.Thread

	plan      *CommonPlan
	def       alloc.Allocator
	immortal  *alloc.BumpAllocator
	los       *alloc.LargeObjectAllocator
	nonMoving *alloc.FreeListAllocator
	barrier   barrier.Barrier
	maxNonLOS uint64

	// postAlloc initialises side metadata of a new object; may be nil.
	postAlloc func(obj memory.ObjectReference, sem alloc.Semantics)
	// release rebinds the default allocator after a cycle; may be nil.
	release func(m *Mutator)

	// failures counts allocation-failure collections since the last
	// allocation that succeeded on retry.
	failures int
}

// Alloc returns memory for an object of bytes. A resource-exhaustion
// error asks the caller to collect and retry.
func (m *Mutator) Alloc(bytes, align uint64, sem alloc.Semantics) (memory.Address, error) {
	if m.plan.collecting.Load() {
		gcerr.Fatalf("mutator %d allocates during a collection", m.TLS)
	}
	if bytes == 0 || bytes%memory.BytesInWord != 0 {
		gcerr.Fatalf("mutator %d: object size %d is not a positive multiple of the word size", m.TLS, bytes)
	}
	return m.allocator(bytes, sem).Alloc(bytes, align)
}

// AllocFailed records a collection run for a failed allocation and
// returns how many ran since the last successful retry.
func (m *Mutator) AllocFailed() int {
	m.failures++
	return m.failures
}

// AllocRetried clears the failure count after a successful retry.
func (m *Mutator) AllocRetried() { m.failures = 0 }

// allocator returns the allocator serving bytes under sem.
func (m *Mutator) allocator(bytes uint64, sem alloc.Semantics) alloc.Allocator {
	switch {
	case sem == alloc.Immortal:
		return m.immortal
	case sem == alloc.Los, bytes > m.maxNonLOS:
		return m.los
	case sem == alloc.NonMoving:
		if bytes > space.MaxCellBytes {
			return m.los
		}
		return m.nonMoving
	}
	return m.def
}

// PostAlloc runs once the host has initialised the object at its address.
func (m *Mutator) PostAlloc(obj memory.ObjectReference, sem alloc.Semantics) {
	if m.postAlloc != nil {
		m.postAlloc(obj, sem)
	}
}

// ObjectReferenceWrite stores target into slot of src through the barrier.
func (m *Mutator) ObjectReferenceWrite(src memory.ObjectReference, slot vm.Edge, target memory.ObjectReference) {
	m.barrier.ObjectReferenceWrite(src, slot, target)
}

// Barrier returns the mutator's write barrier.
func (m *Mutator) Barrier() barrier.Barrier { return m.barrier }

// Flush publishes barrier records and gives back allocation buffers, so
// the collector sees everything the mutator holds.
func (m *Mutator) Flush() {
	m.barrier.Flush()
	m.def.Reset()
	m.immortal.Reset()
	m.los.Reset()
	m.nonMoving.Reset()
}

// Prepare runs while the mutator is stopped, before roots are scanned.
func (m *Mutator) Prepare() { m.Flush() }

// Release runs after the plan released its spaces.
func (m *Mutator) Release() {
	if m.release != nil {
		m.release(m)
	}
}
