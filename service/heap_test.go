package service

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/SababAosaf/tlxr/domain/alloc"
	"github.com/SababAosaf/tlxr/domain/plan"
	"github.com/SababAosaf/tlxr/domain/vm"
	"github.com/SababAosaf/tlxr/infra/gcerr"
	"github.com/SababAosaf/tlxr/infra/memory"
	"github.com/SababAosaf/tlxr/infra/simvm"
)

func newTestHeap(t *testing.T, opts Options) (*Heap, *simvm.VM) {
	t.Helper()
	v := simvm.New(memory.NewAddressSpace())
	if opts.Threads == 0 {
		opts.Threads = 4
	}
	h, err := New(opts, v.Binding())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(h.Close)
	return h, v
}

type mutator struct {
	t     *testing.T
	h     *Heap
	v     *simvm.VM
	m     *plan.Mutator
	stack *simvm.RootSet
	tag   uint64
}

func bind(t *testing.T, h *Heap, v *simvm.VM, tls vm.Thread) *mutator {
	return &mutator{t: t, h: h, v: v, m: h.BindMutator(tls), stack: v.Stack(tls), tag: uint64(tls) << 40}
}

func (m *mutator) tryNew(s simvm.Shape) (memory.ObjectReference, error) {
	a, err := m.h.Alloc(m.m, s.Bytes(), memory.BytesInWord, alloc.Default)
	if err != nil {
		return memory.Null, err
	}
	m.tag++
	obj := m.v.Format(a, s, m.tag)
	m.h.PostAlloc(m.m, obj, alloc.Default)
	return obj, nil
}

func (m *mutator) new(s simvm.Shape) memory.ObjectReference {
	m.t.Helper()
	obj, err := m.tryNew(s)
	if err != nil {
		m.t.Fatalf("alloc: %v", err)
	}
	return obj
}

func (m *mutator) gc() { m.h.HandleUserCollectionRequest(m.m) }

func TestAllocationCollectsWhenHeapIsFull(t *testing.T) {
	h, v := newTestHeap(t, Options{Plan: plan.Options{Kind: plan.KindSemiSpace, HeapPages: 64}})
	m := bind(t, h, v, 1)

	keep := m.stack.Add(m.new(simvm.Shape{Refs: 1, DataWords: 4}))
	tag := v.Tag(keep.Load())
	for i := 0; i < 20000; i++ {
		m.new(simvm.Shape{DataWords: 30})
	}
	if h.Stats().Collections == 0 {
		t.Fatal("filling the heap must trigger collections")
	}
	if v.Tag(keep.Load()) != tag || !h.IsLive(keep.Load()) {
		t.Fatal("rooted object lost")
	}
	if len(v.OutOfMemoryReports()) != 0 {
		t.Fatalf("unexpected out of memory: %v", v.OutOfMemoryReports())
	}
}

func TestOutOfMemoryAfterRetry(t *testing.T) {
	h, v := newTestHeap(t, Options{Plan: plan.Options{Kind: plan.KindSemiSpace, HeapPages: 256}})
	m := bind(t, h, v, 1)

	var err error
	for i := 0; i < 100000 && err == nil; i++ {
		var obj memory.ObjectReference
		if obj, err = m.tryNew(simvm.Shape{DataWords: 62}); err == nil {
			m.stack.Add(obj)
		}
	}
	if !gcerr.IsOutOfMemory(err) {
		t.Fatalf("expected out of memory, got %v", err)
	}
	if len(v.OutOfMemoryReports()) != 1 {
		t.Fatalf("host saw %d reports", len(v.OutOfMemoryReports()))
	}
	if h.Stats().Collections == 0 {
		t.Fatal("a failing allocation must collect before giving up")
	}

	// the next failure escalates to an emergency collection
	before := h.Stats().Collections
	if _, err = m.tryNew(simvm.Shape{DataWords: 62}); !gcerr.IsOutOfMemory(err) {
		t.Fatalf("expected out of memory, got %v", err)
	}
	if h.Stats().Collections != before+1 {
		t.Fatal("each allocation collects at most once")
	}
}

func TestConcurrentAllocationFailuresKeepSoftReferences(t *testing.T) {
	h, v := newTestHeap(t, Options{Plan: plan.Options{Kind: plan.KindSemiSpace, HeapPages: 256}})
	owner := bind(t, h, v, 1)
	soft := owner.new(simvm.Shape{Kind: simvm.SoftReference})
	v.SetReferent(soft, owner.new(simvm.Shape{DataWords: 2}))
	root := owner.stack.Add(soft)
	h.AddSoftCandidate(soft)

	const threads = 8
	muts := []*mutator{owner}
	for tls := vm.Thread(2); tls <= threads; tls++ {
		muts = append(muts, bind(t, h, v, tls))
	}
	var wg sync.WaitGroup
	errs := make(chan error, threads)
	for _, m := range muts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// finished mutators stay parked so their roots keep being scanned
			defer h.EnterBlocked(m.m)
			for i := 0; i < 20000; i++ {
				h.Poll(m.m)
				if _, err := m.tryNew(simvm.Shape{DataWords: 14}); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
	for _, m := range muts {
		h.LeaveBlocked(m.m)
	}

	if h.Stats().Collections == 0 {
		t.Fatal("no collection ran")
	}
	if len(v.OutOfMemoryReports()) != 0 {
		t.Fatalf("unexpected out of memory: %v", v.OutOfMemoryReports())
	}
	if n := h.Stats().References.SoftCleared; n != 0 {
		t.Fatalf("%d soft references cleared without a failed retry", n)
	}
	if v.GetReferent(root.Load()).IsNull() {
		t.Fatal("soft referent cleared")
	}
}

func TestNoGCOutOfMemory(t *testing.T) {
	h, v := newTestHeap(t, Options{Plan: plan.Options{Kind: plan.KindNoGC, HeapPages: 16}})
	m := bind(t, h, v, 1)

	m.gc()
	var err error
	for i := 0; i < 10000 && err == nil; i++ {
		_, err = m.tryNew(simvm.Shape{DataWords: 62})
	}
	if !gcerr.IsOutOfMemory(err) {
		t.Fatalf("expected out of memory, got %v", err)
	}
	if n := h.Stats().Collections; n != 0 {
		t.Fatalf("NoGC ran %d collections", n)
	}
}

func TestLivenessQueries(t *testing.T) {
	for _, kind := range []plan.Kind{plan.KindSemiSpace, plan.KindGenCopy, plan.KindMarkSweep} {
		t.Run(string(kind), func(t *testing.T) {
			h, v := newTestHeap(t, Options{Plan: plan.Options{Kind: kind, Sanity: true}})
			m := bind(t, h, v, 1)

			obj := m.new(simvm.Shape{Refs: 1})
			dead := m.new(simvm.Shape{Refs: 1})
			root := m.stack.Add(obj)
			m.gc()

			if !h.IsLive(obj) || h.IsLive(dead) || h.IsLive(memory.Null) {
				t.Fatal("liveness does not match reachability")
			}
			if h.IsLive(root.Load().ToAddress().Add(memory.BytesInChunk).ToObjectReference()) {
				t.Fatal("unallocated memory reported live")
			}
			if h.GetForwardedReference(obj) != root.Load() {
				t.Fatalf("forwarded %s, root holds %s", h.GetForwardedReference(obj), root.Load())
			}
			if !h.IsInHeap(root.Load().ToAddress()) {
				t.Fatal("live object outside the heap")
			}
			if h.IsInHeap(0) || h.IsInHeap(memory.HeapEnd) {
				t.Fatal("addresses outside the heap reported inside")
			}
		})
	}
}

// liveTags walks m's roots.
func liveTags(v *simvm.VM, tls vm.Thread) map[uint64]bool {
	tags := make(map[uint64]bool)
	seen := make(map[memory.ObjectReference]bool)
	var stack []memory.ObjectReference
	push := func(e vm.Edge) {
		if o := e.Load(); !o.IsNull() && !seen[o] {
			seen[o] = true
			stack = append(stack, o)
		}
	}
	v.ScanMutatorRoots(tls, push)
	for len(stack) > 0 {
		o := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		tags[v.Tag(o)] = true
		v.ScanObject(o, push)
	}
	return tags
}

func TestPropertyCollectionIsIdempotent(t *testing.T) {
	for seed := int64(1); seed <= 3; seed++ {
		t.Run(fmt.Sprintf("seed%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewSource(seed))
			h, v := newTestHeap(t, Options{Plan: plan.Options{Kind: plan.KindGenCopy, Sanity: true}})
			m := bind(t, h, v, 1)

			var objs []memory.ObjectReference
			for i := 0; i < 500; i++ {
				obj := m.new(simvm.Shape{Refs: 2})
				if len(objs) > 0 {
					h.ObjectReferenceWrite(m.m, obj, v.Edge(obj, 0), objs[rng.Intn(len(objs))])
				}
				objs = append(objs, obj)
				if rng.Intn(10) == 0 {
					m.stack.Add(obj)
				}
			}
			m.gc()
			first := liveTags(v, 1)
			m.gc()
			second := liveTags(v, 1)
			if len(first) != len(second) {
				t.Fatalf("%d objects after one collection, %d after two", len(first), len(second))
			}
			for tag := range first {
				if !second[tag] {
					t.Fatalf("object %d lost by a second collection", tag)
				}
			}
		})
	}
}

func TestOldToYoungEdgesSurviveNurseryCollections(t *testing.T) {
	h, v := newTestHeap(t, Options{Plan: plan.Options{Kind: plan.KindGenCopy, Sanity: true}})
	m := bind(t, h, v, 1)

	head := m.stack.Add(m.new(simvm.Shape{Refs: 1}))
	m.gc()
	for i := 0; i < 50; i++ {
		young := m.new(simvm.Shape{Refs: 1})
		old := head.Load()
		h.ObjectReferenceWrite(m.m, young, v.Edge(young, 0), v.Field(old, 0))
		h.ObjectReferenceWrite(m.m, old, v.Edge(old, 0), young)
		if i%10 == 0 {
			m.gc()
		}
	}
	m.gc()
	if n := len(liveTags(v, 1)); n != 51 {
		t.Fatalf("%d objects reachable, want 51", n)
	}
}

func TestWeakReferenceClearedThroughHeap(t *testing.T) {
	h, v := newTestHeap(t, Options{Plan: plan.Options{Kind: plan.KindSemiSpace}})
	m := bind(t, h, v, 1)

	ref := m.new(simvm.Shape{Kind: simvm.WeakReference})
	held := m.new(simvm.Shape{Kind: simvm.WeakReference})
	target := m.new(simvm.Shape{})
	v.SetReferent(ref, m.new(simvm.Shape{}))
	v.SetReferent(held, target)
	refRoot := m.stack.Add(ref)
	heldRoot := m.stack.Add(held)
	targetRoot := m.stack.Add(target)
	h.AddWeakCandidate(ref)
	h.AddWeakCandidate(held)

	m.gc()
	if !v.GetReferent(refRoot.Load()).IsNull() {
		t.Fatal("weak referent must be cleared")
	}
	if v.GetReferent(heldRoot.Load()) != targetRoot.Load() {
		t.Fatal("referent of a live target must be forwarded")
	}
	if len(v.Cleared()) != 1 || h.Stats().References.WeakCleared != 1 {
		t.Fatalf("%d references enqueued", len(v.Cleared()))
	}
}

func TestFinalizerResurrection(t *testing.T) {
	h, v := newTestHeap(t, Options{Plan: plan.Options{Kind: plan.KindSemiSpace, Sanity: true}})
	m := bind(t, h, v, 1)

	obj := m.new(simvm.Shape{Refs: 1})
	child := m.new(simvm.Shape{DataWords: 2})
	v.SetField(obj, 0, child)
	tag, childTag := v.Tag(obj), v.Tag(child)
	h.AddFinalizer(obj)

	m.gc()
	m.gc() // ready objects stay alive until consumed
	ready, ok := h.GetFinalizedObject()
	if !ok || v.Tag(ready) != tag || v.Tag(v.Field(ready, 0)) != childTag {
		t.Fatal("finalizable object must be resurrected with its children")
	}
	if _, ok := h.GetFinalizedObject(); ok {
		t.Fatal("an object is finalized once")
	}

	m.gc()
	if h.IsLive(ready) {
		t.Fatal("a consumed finalizable object is garbage")
	}
	if s := h.Stats().References; s.Finalized != 1 || s.Pending != 0 {
		t.Fatalf("stats %+v", s)
	}
}

func TestNotifyPendingAllocationFailure(t *testing.T) {
	h, v := newTestHeap(t, Options{Plan: plan.Options{Kind: plan.KindMarkSweep}})
	m := bind(t, h, v, 1)

	h.NotifyPendingAllocationFailure(m.m)
	deadline := time.Now().Add(10 * time.Second)
	for h.Stats().Collections == 0 {
		if time.Now().After(deadline) {
			t.Fatal("requested collection never ran")
		}
		h.Poll(m.m)
		time.Sleep(time.Millisecond)
	}
}

func TestConcurrentMutators(t *testing.T) {
	h, v := newTestHeap(t, Options{Plan: plan.Options{Kind: plan.KindGenCopy, HeapPages: 1024, NurseryPages: 64}})

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for tls := vm.Thread(1); tls <= 4; tls++ {
		m := bind(t, h, v, tls)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer h.DestroyMutator(m.m)

			var kept []*simvm.Root
			var tags []uint64
			for i := 0; i < 5000; i++ {
				h.Poll(m.m)
				obj, err := m.tryNew(simvm.Shape{Refs: 1, DataWords: 6})
				if err != nil {
					errs <- err
					return
				}
				if i%100 == 0 {
					kept = append(kept, m.stack.Add(obj))
					tags = append(tags, v.Tag(obj))
				}
			}
			for i, r := range kept {
				if v.Tag(r.Load()) != tags[i] {
					errs <- fmt.Errorf("thread %d lost object %d", tls, tags[i])
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
	if h.Stats().Collections == 0 {
		t.Fatal("no collection ran")
	}
}
