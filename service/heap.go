package service

import (
	"sync/atomic"

	"github.com/SababAosaf/tlxr/domain/alloc"
	"github.com/SababAosaf/tlxr/domain/plan"
	"github.com/SababAosaf/tlxr/domain/refproc"
	"github.com/SababAosaf/tlxr/domain/scheduler"
	"github.com/SababAosaf/tlxr/domain/vm"
	"github.com/SababAosaf/tlxr/infra/gcerr"
	"github.com/SababAosaf/tlxr/infra/memory"
	"github.com/SababAosaf/tlxr/infra/sequence"
	"github.com/cockroachdb/errors"
)

// Options configure a Heap.
type Options struct {
	Plan plan.Options
	// Threads is the number of collector workers.
	Threads int

	NoReferenceTypes bool
	NoFinalizer      bool

	// Observer receives scheduler events; may be nil.
	Observer scheduler.Observer
	// IDs issues cycle IDs, e.g. resumed from a journal; may be nil.
	IDs *sequence.Sequencer
}

/*
Heap is the ONLY entry point the host uses.

It owns one plan, its reference processor, the worker pool and the
coordinator. Mutators call into it from their own goroutines; all
collection work happens on the workers while mutators are stopped.
*/
type Heap struct {
	opts    Options
	binding vm.Binding
	safe    vm.Safepoints
	plan    plan.Plan
	refs    *refproc.Processor
	sched   *scheduler.Scheduler
	coord   *scheduler.Coordinator

	closed atomic.Bool
}

// New builds a heap and starts its coordinator and workers. The
// binding's Collection must also implement vm.Safepoints.
func New(opts Options, binding vm.Binding) (*Heap, error) {
	safe, ok := binding.Collection.(vm.Safepoints)
	if !ok {
		return nil, errors.New("binding collection does not support safe points")
	}
	p, err := plan.New(opts.Plan, binding)
	if err != nil {
		return nil, errors.Wrap(err, "plan")
	}
	if opts.Threads <= 0 {
		opts.Threads = 1
	}

	h := &Heap{
		opts:    opts,
		binding: binding,
		safe:    safe,
		plan:    p,
	}
	h.refs = refproc.New(refproc.Config{
		NoReferenceTypes: opts.NoReferenceTypes,
		NoFinalizer:      opts.NoFinalizer,
	}, binding.References, p, p.Base().TraceContext())
	h.sched = scheduler.New(scheduler.Config{
		Threads:        opts.Threads,
		Observer:       opts.Observer,
		NewWorkerLocal: p.NewWorkerLocal,
	})
	h.coord = scheduler.NewCoordinator(scheduler.CoordinatorConfig{
		Scheduler:  h.sched,
		Collection: binding.Collection,
		Planner:    h,
		IDs:        opts.IDs,
		Verbose:    opts.Plan.Verbose,
	})
	h.coord.Start()
	return h, nil
}

//
// ──────────────────────────────────────────────────────────
// Planner
// ──────────────────────────────────────────────────────────
//

// ScheduleCollection adds reference processing to the plan's cycle.
func (h *Heap) ScheduleCollection(c *scheduler.Cycle, s *scheduler.Scheduler) {
	h.plan.ScheduleCollection(c, s)
	if !h.plan.Constraints().Collects {
		return
	}
	h.refs.ScheduleRoots(s)
	h.refs.Schedule(c, s)
}

func (h *Heap) CycleFinished(c *scheduler.Cycle) { h.plan.CycleFinished(c) }

//
// ──────────────────────────────────────────────────────────
// Mutators
// ──────────────────────────────────────────────────────────
//

// BindMutator attaches tls to the heap. It must not be bound already.
func (h *Heap) BindMutator(tls vm.Thread) *plan.Mutator {
	h.safe.Register(tls)
	return h.plan.Base().Bind(tls)
}

// DestroyMutator flushes m's buffers and detaches its thread.
func (h *Heap) DestroyMutator(m *plan.Mutator) {
	h.plan.Base().Unbind(m)
	h.safe.Unregister(m.TLS)
}

// Alloc returns zeroed memory for an object of size bytes. When the heap
// is full it collects once and retries; a second failure is out of
// memory.
func (h *Heap) Alloc(m *plan.Mutator, size, align uint64, sem alloc.Semantics) (memory.Address, error) {
	a, err := m.Alloc(size, align, sem)
	if err == nil {
		return a, nil
	}
	if !gcerr.IsExhausted(err) || !h.plan.Constraints().Collects {
		return 0, h.outOfMemory(m, size, err)
	}

	// this mutator's last collection was not enough for it
	h.collectFor(m.TLS, scheduler.Request{
		Emergency: m.AllocFailed() > 1,
		Pages:     memory.BytesToPages(size),
	})
	if a, err = m.Alloc(size, align, sem); err != nil {
		return 0, h.outOfMemory(m, size, err)
	}
	m.AllocRetried()
	return a, nil
}

func (h *Heap) outOfMemory(m *plan.Mutator, size uint64, cause error) error {
	err := gcerr.OutOfMemory(cause, "thread %d: allocating %d bytes", m.TLS, size)
	if h.binding.OutOfMemory != nil {
		h.binding.OutOfMemory(m.TLS, err)
	}
	return err
}

func (h *Heap) PostAlloc(m *plan.Mutator, obj memory.ObjectReference, sem alloc.Semantics) {
	m.PostAlloc(obj, sem)
}

// ObjectReferenceWrite stores target into slot of src through m's barrier.
func (h *Heap) ObjectReferenceWrite(m *plan.Mutator, src memory.ObjectReference, slot vm.Edge, target memory.ObjectReference) {
	m.ObjectReferenceWrite(src, slot, target)
}

// Poll is m's safe point. It blocks while a collection is running.
func (h *Heap) Poll(m *plan.Mutator) { h.safe.Poll(m.TLS) }

// EnterBlocked parks m outside managed code, e.g. before sleeping. A
// parked mutator counts as stopped and must not touch the heap.
func (h *Heap) EnterBlocked(m *plan.Mutator) { h.safe.EnterBlocked(m.TLS) }

// LeaveBlocked waits out a running collection before returning.
func (h *Heap) LeaveBlocked(m *plan.Mutator) { h.safe.LeaveBlocked(m.TLS) }

// NotifyPendingAllocationFailure asks for a collection without waiting
// for it. m stops at its next Poll.
func (h *Heap) NotifyPendingAllocationFailure(m *plan.Mutator) {
	if !h.plan.Constraints().Collects {
		return
	}
	h.coord.Request(scheduler.Request{Pages: 1})
}

// HandleUserCollectionRequest runs a collection for the host and waits
// for it. Plans that never collect ignore it.
func (h *Heap) HandleUserCollectionRequest(m *plan.Mutator) {
	if !h.plan.Constraints().Collects {
		return
	}
	h.collectFor(m.TLS, scheduler.Request{UserTriggered: true})
}

// collectFor parks tls for the duration of a collection.
func (h *Heap) collectFor(tls vm.Thread, r scheduler.Request) {
	h.safe.EnterBlocked(tls)
	defer h.safe.LeaveBlocked(tls)
	h.coord.Collect(r)
}

//
// ──────────────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────────────
//

// IsLive reports whether obj survived the last collection.
func (h *Heap) IsLive(obj memory.ObjectReference) bool {
	return !obj.IsNull() && h.plan.IsReachable(obj)
}

// GetForwardedReference returns obj's current location.
func (h *Heap) GetForwardedReference(obj memory.ObjectReference) memory.ObjectReference {
	if obj.IsNull() {
		return obj
	}
	return h.plan.Forwarded(obj)
}

// IsInHeap reports whether a lies in mapped memory of one of the plan's
// spaces.
func (h *Heap) IsInHeap(a memory.Address) bool {
	if !a.InHeap() || !h.binding.Memory.IsMapped(a) {
		return false
	}
	for _, s := range h.plan.Spaces() {
		if s.Contains(a) {
			return true
		}
	}
	return false
}

//
// ──────────────────────────────────────────────────────────
// References and finalization
// ──────────────────────────────────────────────────────────
//

func (h *Heap) AddSoftCandidate(ref memory.ObjectReference)    { h.refs.AddSoftCandidate(ref) }
func (h *Heap) AddWeakCandidate(ref memory.ObjectReference)    { h.refs.AddWeakCandidate(ref) }
func (h *Heap) AddPhantomCandidate(ref memory.ObjectReference) { h.refs.AddPhantomCandidate(ref) }
func (h *Heap) AddFinalizer(obj memory.ObjectReference)        { h.refs.AddFinalizer(obj) }

// GetFinalizedObject returns the next object whose finalizer is due.
func (h *Heap) GetFinalizedObject() (memory.ObjectReference, bool) {
	return h.refs.GetFinalizedObject()
}

// Stats is a point-in-time summary of the heap.
type Stats struct {
	Plan        string
	Collections uint64
	HeapPages   int
	UsedPages   int
	State       scheduler.State
	References  refproc.Stats
}

func (h *Heap) Stats() Stats {
	base := h.plan.Base()
	return Stats{
		Plan:        h.plan.Name(),
		Collections: base.Collections(),
		HeapPages:   base.HeapPages(),
		UsedPages:   base.UsedPages(),
		State:       h.coord.State(),
		References:  h.refs.Stats(),
	}
}

func (h *Heap) Plan() plan.Plan { return h.plan }

// Coordinator exposes the control loop for asynchronous requests.
func (h *Heap) Coordinator() *scheduler.Coordinator { return h.coord }

// Close lets a running collection finish and stops the workers.
func (h *Heap) Close() {
	if !h.closed.CompareAndSwap(false, true) {
		return
	}
	h.coord.Close()
}
