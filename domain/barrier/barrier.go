// Package barrier implements the write barriers a plan can select.
package barrier

import (
	"sync"

	"github.com/SababAosaf/tlxr/domain/vm"
	"github.com/SababAosaf/tlxr/infra/memory"
	"github.com/SababAosaf/tlxr/infra/metadata"
)

// Kind names a barrier implementation.
type Kind uint8

const (
	None Kind = iota
	ObjectRemembering
)

func (k Kind) String() string {
	if k == ObjectRemembering {
		return "object-remembering"
	}
	return "none"
}

// Barrier is invoked by the host on every reference store it performs on
// behalf of mutator code. It stores target into slot and records what the
// plan needs.
type Barrier interface {
	ObjectReferenceWrite(src memory.ObjectReference, slot vm.Edge, target memory.ObjectReference)
	// Flush hands buffered records to the plan.
	Flush()
}

// NoBarrier only performs the store.
type NoBarrier struct{}

func (NoBarrier) ObjectReferenceWrite(_ memory.ObjectReference, slot vm.Edge, target memory.ObjectReference) {
	slot.Store(target)
}

func (NoBarrier) Flush() {}

// BufferCapacity is the number of remembered objects a mutator buffers
// before flushing.
const BufferCapacity = 512

// RememberedSet is the global buffer of remembered objects. Duplicates
// are kept; tracing state filters them out later.
type RememberedSet struct {
	mu      sync.Mutex
	batches [][]memory.ObjectReference
	count   int
}

func NewRememberedSet() *RememberedSet { return &RememberedSet{} }

// Add takes ownership of batch.
func (r *RememberedSet) Add(batch []memory.ObjectReference) {
	if len(batch) == 0 {
		return
	}
	r.mu.Lock()
	r.batches = append(r.batches, batch)
	r.count += len(batch)
	r.mu.Unlock()
}

// Drain removes and returns every batch.
func (r *RememberedSet) Drain() [][]memory.ObjectReference {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.batches
	r.batches, r.count = nil, 0
	return out
}

func (r *RememberedSet) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// ObjectRememberingBarrier remembers a mature source object the first
// time a nursery reference is stored into it. The unlogged bit is the
// filter: it is set on objects that may need remembering and cleared by
// the one store that logs the object.
type ObjectRememberingBarrier struct {
	unlogged  *metadata.Spec
	inNursery func(memory.ObjectReference) bool
	global    *RememberedSet
	buf       []memory.ObjectReference
}

func NewObjectRememberingBarrier(unlogged *metadata.Spec, inNursery func(memory.ObjectReference) bool, global *RememberedSet) *ObjectRememberingBarrier {
	return &ObjectRememberingBarrier{
		unlogged:  unlogged,
		inNursery: inNursery,
		global:    global,
		buf:       make([]memory.ObjectReference, 0, BufferCapacity),
	}
}

func (b *ObjectRememberingBarrier) ObjectReferenceWrite(src memory.ObjectReference, slot vm.Edge, target memory.ObjectReference) {
	slot.Store(target)
	if target.IsNull() || !b.inNursery(target) {
		return
	}
	a := src.ToAddress()
	if b.unlogged.Load(a) == 0 {
		return
	}
	if !b.unlogged.CompareAndSwap(a, 1, 0) {
		return
	}
	b.buf = append(b.buf, src)
	if len(b.buf) >= BufferCapacity {
		b.Flush()
	}
}

func (b *ObjectRememberingBarrier) Flush() {
	if len(b.buf) == 0 {
		return
	}
	b.global.Add(b.buf)
	b.buf = make([]memory.ObjectReference, 0, BufferCapacity)
}

// Buffered returns the number of records not yet flushed.
func (b *ObjectRememberingBarrier) Buffered() int { return len(b.buf) }
