package simvm

import (
	"testing"

	"github.com/SababAosaf/tlxr/domain/vm"
	"github.com/SababAosaf/tlxr/infra/memory"
)

func newVM(t *testing.T) *VM {
	t.Helper()
	mem := memory.NewAddressSpace()
	if err := mem.Map(memory.HeapStart); err != nil {
		t.Fatal(err)
	}
	return New(mem)
}

func TestObjectLayout(t *testing.T) {
	v := newVM(t)
	shape := Shape{Refs: 3, DataWords: 2}
	if shape.Bytes() != 7*8 {
		t.Fatalf("Bytes() = %d", shape.Bytes())
	}
	obj := v.Format(memory.HeapStart, shape, 99)
	if v.ObjectSize(obj) != shape.Bytes() || v.NumRefs(obj) != 3 || v.Tag(obj) != 99 || v.Kind(obj) != Plain {
		t.Fatalf("header round trip failed for %s", obj)
	}

	other := v.Format(memory.HeapStart.Add(4096), Shape{}, 1)
	v.SetField(obj, 2, other)
	var seen []memory.ObjectReference
	v.ScanObject(obj, func(e vm.Edge) { seen = append(seen, e.Load()) })
	if len(seen) != 3 || seen[2] != other || !seen[0].IsNull() {
		t.Fatalf("scan reported %v", seen)
	}
}

func TestReferenceObjectHidesReferent(t *testing.T) {
	v := newVM(t)
	ref := v.Format(memory.HeapStart, Shape{Kind: WeakReference, Refs: 1}, 0)
	target := v.Format(memory.HeapStart.Add(1024), Shape{}, 0)
	v.SetReferent(ref, target)

	n := 0
	v.ScanObject(ref, func(e vm.Edge) {
		n++
		if e.Load() == target {
			t.Fatal("the referent must not be a strong edge")
		}
	})
	if n != 1 || v.GetReferent(ref) != target {
		t.Fatalf("scan saw %d edges, referent %s", n, v.GetReferent(ref))
	}
}

func TestCopyObject(t *testing.T) {
	v := newVM(t)
	obj := v.Format(memory.HeapStart, Shape{Refs: 1, DataWords: 1}, 7)
	dst := memory.HeapStart.Add(2048)
	moved := v.CopyObject(obj, func(bytes uint64) memory.Address {
		if bytes != v.ObjectSize(obj) {
			t.Fatalf("copy asked for %d bytes", bytes)
		}
		return dst
	})
	if moved.ToAddress() != dst || v.Tag(moved) != 7 {
		t.Fatalf("copy at %s has tag %d", moved, v.Tag(moved))
	}
}

func TestRootsAndStacks(t *testing.T) {
	v := newVM(t)
	obj := v.Format(memory.HeapStart, Shape{}, 0)
	v.Globals.Add(obj)
	v.Globals.Add(memory.Null)
	r := v.Stack(1).Add(obj)

	count := func(visit func(vm.Visitor)) int {
		n := 0
		visit(func(vm.Edge) { n++ })
		return n
	}
	if count(v.ScanVMSpecificRoots) != 1 {
		t.Fatal("null roots are skipped")
	}
	if count(func(f vm.Visitor) { v.ScanMutatorRoots(1, f) }) != 1 {
		t.Fatal("stack root missing")
	}
	v.Stack(1).Remove(r)
	v.DropStack(1)
	if count(func(f vm.Visitor) { v.ScanMutatorRoots(1, f) }) != 0 {
		t.Fatal("dropped stack still reports roots")
	}

	v.EnqueueReferences([]memory.ObjectReference{obj})
	if got := v.Cleared(); len(got) != 1 || len(v.Cleared()) != 0 {
		t.Fatalf("cleared = %v", got)
	}
}
