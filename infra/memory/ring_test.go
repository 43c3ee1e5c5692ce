package memory

import (
	"sync"
	"testing"
)

func TestRingBasic(t *testing.T) {
	r := NewRing[ObjectReference](4)
	o1 := ObjectReference(HeapStart + 8)
	o2 := ObjectReference(HeapStart + 16)

	if !r.Enqueue(o1) || !r.Enqueue(o2) {
		t.Fatal("enqueue failed unexpectedly")
	}
	if got, ok := r.Dequeue(); !ok || got != o1 {
		t.Errorf("expected first dequeue to be %v, got %v", o1, got)
	}
	if got, ok := r.Dequeue(); !ok || got != o2 {
		t.Errorf("expected second dequeue to be %v, got %v", o2, got)
	}
	if _, ok := r.Dequeue(); ok {
		t.Error("expected empty ring to report no value")
	}
}

func TestRingFull(t *testing.T) {
	r := NewRing[int](2)
	if !r.Enqueue(1) || !r.Enqueue(2) {
		t.Fatal("enqueue failed unexpectedly")
	}
	if r.Enqueue(3) {
		t.Fatal("enqueue should fail when ring is full")
	}
	if !r.IsFull() || r.Len() != 2 {
		t.Fatalf("unexpected ring state: %s", r)
	}
}

func TestRingProducerConsumer(t *testing.T) {
	const n = 10000
	r := NewRing[int](64)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; {
			if r.Enqueue(i) {
				i++
			}
		}
	}()

	for want := 0; want < n; {
		v, ok := r.Dequeue()
		if !ok {
			continue
		}
		if v != want {
			t.Fatalf("out of order: got=%d want=%d", v, want)
		}
		want++
	}
	wg.Wait()
}

func TestNewRingRejectsNonPowerOfTwo(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for non power of two size")
		}
	}()
	NewRing[int](3)
}
