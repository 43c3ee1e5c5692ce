package main

import (
	"context"
	"log"
	"math/rand"

	"github.com/SababAosaf/tlxr/domain/alloc"
	"github.com/SababAosaf/tlxr/domain/plan"
	"github.com/SababAosaf/tlxr/domain/vm"
	"github.com/SababAosaf/tlxr/infra/memory"
	"github.com/SababAosaf/tlxr/infra/simvm"
	"github.com/SababAosaf/tlxr/service"
)

// workload is one simulated mutator building and dropping object graphs.
type workload struct {
	heap  *service.Heap
	vm    *simvm.VM
	tls   vm.Thread
	rng   *rand.Rand
	m     *plan.Mutator
	roots *simvm.RootSet
	tag   uint64
}

func newWorkload(h *service.Heap, v *simvm.VM, tls vm.Thread, seed int64) *workload {
	return &workload{heap: h, vm: v, tls: tls, rng: rand.New(rand.NewSource(seed))}
}

func (w *workload) new(s simvm.Shape, sem alloc.Semantics) (memory.ObjectReference, bool) {
	a, err := w.heap.Alloc(w.m, s.Bytes(), memory.BytesInWord, sem)
	if err != nil {
		log.Printf("[workload] thread %d: %v", w.tls, err)
		return memory.Null, false
	}
	w.tag++
	obj := w.vm.Format(a, s, uint64(w.tls)<<40|w.tag)
	w.heap.PostAlloc(w.m, obj, sem)
	return obj, true
}

// run allocates until ctx is cancelled or the heap runs out of memory.
func (w *workload) run(ctx context.Context) {
	w.m = w.heap.BindMutator(w.tls)
	w.roots = w.vm.Stack(w.tls)
	defer func() {
		w.heap.DestroyMutator(w.m)
		w.vm.DropStack(w.tls)
	}()

	var live []*simvm.Root
	for i := 0; ctx.Err() == nil; i++ {
		w.heap.Poll(w.m)

		sem := alloc.Default
		switch r := w.rng.Intn(1000); {
		case r == 0:
			sem = alloc.Los
		case r < 5:
			sem = alloc.NonMoving
		}
		shape := simvm.Shape{Refs: w.rng.Intn(4), DataWords: w.rng.Intn(16)}
		if sem == alloc.Los {
			shape.DataWords = 4096
		}
		if w.rng.Intn(50) == 0 {
			shape.Kind = simvm.WeakReference
		}
		obj, ok := w.new(shape, sem)
		if !ok {
			return
		}

		switch {
		case shape.Kind == simvm.WeakReference && len(live) > 0:
			w.vm.SetReferent(obj, live[w.rng.Intn(len(live))].Load())
			w.heap.AddWeakCandidate(obj)
		case w.rng.Intn(200) == 0:
			w.heap.AddFinalizer(obj)
		}

		// link into a random live object through the barrier
		if len(live) > 0 && w.rng.Intn(4) == 0 {
			src := live[w.rng.Intn(len(live))].Load()
			if n := w.vm.NumRefs(src); n > 0 {
				f := w.rng.Intn(n)
				w.heap.ObjectReferenceWrite(w.m, src, w.vm.Edge(src, f), obj)
			}
		}
		if w.rng.Intn(10) == 0 {
			live = append(live, w.roots.Add(obj))
		}
		if len(live) > 256 {
			for _, r := range live[:128] {
				w.roots.Remove(r)
			}
			live = append(live[:0], live[128:]...)
		}
		if i%100000 == 0 && i > 0 {
			w.heap.HandleUserCollectionRequest(w.m)
		}
	}
}
