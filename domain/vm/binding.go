// Package vm declares what the collector needs from its host. The host
// binding owns thread attach/detach, object layout and root enumeration;
// the collector never interprets object headers itself.
package vm

import (
	"github.com/SababAosaf/tlxr/infra/memory"
)

// Thread identifies a host thread (a mutator or the coordinator).
type Thread uint64

// Edge is a slot holding an object reference.
type Edge interface {
	Load() memory.ObjectReference
	Store(memory.ObjectReference)
}

// SlotEdge is an Edge stored in heap memory.
type SlotEdge struct {
	Mem  *memory.AddressSpace
	Slot memory.Address
}

func (e SlotEdge) Load() memory.ObjectReference { return e.Mem.LoadReference(e.Slot) }

func (e SlotEdge) Store(o memory.ObjectReference) { e.Mem.StoreReference(e.Slot, o) }

// Visitor receives edges during scanning. It must not retain the
// callback beyond the scanning call.
type Visitor func(Edge)

// ObjectModel answers layout questions about host objects.
type ObjectModel interface {
	// ObjectSize returns obj's size in bytes, a multiple of the word size.
	ObjectSize(obj memory.ObjectReference) uint64
	// CopyObject copies obj into memory obtained from alloc and returns
	// the new reference.
	CopyObject(obj memory.ObjectReference, alloc func(bytes uint64) memory.Address) memory.ObjectReference
}

// Scanning enumerates edges. Each call produces a finite sequence and
// may be repeated in later cycles.
type Scanning interface {
	ScanObject(obj memory.ObjectReference, visit Visitor)
	ScanMutatorRoots(tls Thread, visit Visitor)
	// ScanVMSpecificRoots reports global roots; it is called once per cycle.
	ScanVMSpecificRoots(visit Visitor)
}

// Collection coordinates safe points with the host.
type Collection interface {
	// StopAllMutators returns once every mutator has reached a safe point,
	// calling visit once per stopped mutator.
	StopAllMutators(visit func(Thread))
	ResumeMutators()
}

// Safepoints is implemented by cooperative Collections: mutators poll a
// flag and block themselves; they are never preempted.
type Safepoints interface {
	Register(tls Thread)
	Unregister(tls Thread)
	Poll(tls Thread)
	// EnterBlocked marks tls as parked outside managed code; a parked
	// mutator counts as stopped.
	EnterBlocked(tls Thread)
	LeaveBlocked(tls Thread)
	WorldStopped() bool
}

// ReferenceGlue reads and writes the referent field of reference objects.
type ReferenceGlue interface {
	GetReferent(ref memory.ObjectReference) memory.ObjectReference
	SetReferent(ref, referent memory.ObjectReference)
	// EnqueueReferences hands cleared references to the host's queue.
	EnqueueReferences(refs []memory.ObjectReference)
}

// Binding bundles the host contracts.
type Binding struct {
	Memory      *memory.AddressSpace
	ObjectModel ObjectModel
	Scanning    Scanning
	Collection  Collection
	References  ReferenceGlue
	// OutOfMemory is told about unrecoverable allocation failures.
	OutOfMemory func(tls Thread, err error)
}
