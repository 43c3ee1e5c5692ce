// Package simvm is a small host binding used by the daemon and tests. Its
// objects live in the simulated address space with a one-word header:
//
//	bits 56..63 kind, bits 32..55 reference count, bits 0..31 size in words
//
// followed by a tag word, the referent slot for reference objects, and
// then the reference slots. The rest is payload.
package simvm

import (
	"fmt"

	"github.com/SababAosaf/tlxr/domain/vm"
	"github.com/SababAosaf/tlxr/infra/memory"
)

// Kind classifies objects.
type Kind uint8

const (
	Plain Kind = iota
	SoftReference
	WeakReference
	PhantomReference
)

func (k Kind) String() string {
	switch k {
	case Plain:
		return "plain"
	case SoftReference:
		return "soft"
	case WeakReference:
		return "weak"
	case PhantomReference:
		return "phantom"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

func (k Kind) isReference() bool { return k != Plain }

const (
	headerWords = 2 // header + tag
	maxRefs     = 1<<24 - 1
)

// Shape describes an object to allocate.
type Shape struct {
	Kind      Kind
	Refs      int
	DataWords int
}

// Bytes returns the object size for s.
func (s Shape) Bytes() uint64 {
	words := headerWords + s.Refs + s.DataWords
	if s.Kind.isReference() {
		words++
	}
	return uint64(words) * memory.BytesInWord
}

func header(s Shape) uint64 {
	if s.Refs > maxRefs {
		panic(fmt.Sprintf("simvm: %d references exceed the header", s.Refs))
	}
	return uint64(s.Kind)<<56 | uint64(s.Refs)<<32 | s.Bytes()/memory.BytesInWord
}

// Objects reads and writes simvm objects.
type Objects struct {
	mem *memory.AddressSpace
}

func (o Objects) header(obj memory.ObjectReference) uint64 { return o.mem.Load(obj.ToAddress()) }

// Format writes the header of a new object at a.
func (o Objects) Format(a memory.Address, s Shape, tag uint64) memory.ObjectReference {
	o.mem.Store(a, header(s))
	o.mem.Store(a.Add(memory.BytesInWord), tag)
	return a.ToObjectReference()
}

func (o Objects) Kind(obj memory.ObjectReference) Kind { return Kind(o.header(obj) >> 56) }

func (o Objects) NumRefs(obj memory.ObjectReference) int {
	return int(o.header(obj)>>32) & maxRefs
}

func (o Objects) Tag(obj memory.ObjectReference) uint64 {
	return o.mem.Load(obj.ToAddress().Add(memory.BytesInWord))
}

func (o Objects) firstRef(obj memory.ObjectReference) memory.Address {
	a := obj.ToAddress().Add(headerWords * memory.BytesInWord)
	if o.Kind(obj).isReference() {
		a = a.Add(memory.BytesInWord)
	}
	return a
}

func (o Objects) slot(obj memory.ObjectReference, i int) memory.Address {
	if i < 0 || i >= o.NumRefs(obj) {
		panic(fmt.Sprintf("simvm: %s has no reference slot %d", obj, i))
	}
	return o.firstRef(obj).Add(uint64(i) * memory.BytesInWord)
}

// Edge returns reference slot i of obj.
func (o Objects) Edge(obj memory.ObjectReference, i int) vm.Edge {
	return vm.SlotEdge{Mem: o.mem, Slot: o.slot(obj, i)}
}

func (o Objects) Field(obj memory.ObjectReference, i int) memory.ObjectReference {
	return o.mem.LoadReference(o.slot(obj, i))
}

// SetField stores without a barrier; mutator code goes through the heap.
func (o Objects) SetField(obj memory.ObjectReference, i int, v memory.ObjectReference) {
	o.mem.StoreReference(o.slot(obj, i), v)
}

func (o Objects) referentSlot(ref memory.ObjectReference) memory.Address {
	if !o.Kind(ref).isReference() {
		panic(fmt.Sprintf("simvm: %s is not a reference object", ref))
	}
	return ref.ToAddress().Add(headerWords * memory.BytesInWord)
}

// ObjectSize implements vm.ObjectModel.
func (o Objects) ObjectSize(obj memory.ObjectReference) uint64 {
	return (o.header(obj) & 0xffff_ffff) * memory.BytesInWord
}

// CopyObject implements vm.ObjectModel.
func (o Objects) CopyObject(obj memory.ObjectReference, alloc func(bytes uint64) memory.Address) memory.ObjectReference {
	size := o.ObjectSize(obj)
	dst := alloc(size)
	o.mem.Copy(dst, obj.ToAddress(), size)
	return dst.ToObjectReference()
}

// ScanObject implements vm.Scanning for heap objects. The referent of a
// reference object is not a strong edge and is not reported.
func (o Objects) ScanObject(obj memory.ObjectReference, visit vm.Visitor) {
	n := o.NumRefs(obj)
	first := o.firstRef(obj)
	for i := 0; i < n; i++ {
		visit(vm.SlotEdge{Mem: o.mem, Slot: first.Add(uint64(i) * memory.BytesInWord)})
	}
}

// GetReferent implements vm.ReferenceGlue.
func (o Objects) GetReferent(ref memory.ObjectReference) memory.ObjectReference {
	return o.mem.LoadReference(o.referentSlot(ref))
}

func (o Objects) SetReferent(ref, referent memory.ObjectReference) {
	o.mem.StoreReference(o.referentSlot(ref), referent)
}
