package space

import (
	"runtime"
	"sync/atomic"

	"github.com/SababAosaf/tlxr/infra/gcerr"
	"github.com/SababAosaf/tlxr/infra/memory"
	"github.com/SababAosaf/tlxr/infra/metadata"
	"github.com/SababAosaf/tlxr/infra/pageresource"
)

// Forwarding states.
const (
	notForwarded   = 0
	beingForwarded = 1
	forwarded      = 2
)

// CopySpace is a copying region. While it is the from-space, tracing an
// object copies it once and installs a forwarding pointer in side
// metadata; later traces of the same object return that pointer.
//
// Forwarding metadata outlives the release of the from-space, so
// Forwarded keeps answering after the cycle until the pages are reused.
type CopySpace struct {
	common
	pr        *pageresource.Monotone
	fromSpace atomic.Bool
	// released is set once a from-space has been given back; addresses
	// below the cursor then belong to objects allocated afterwards.
	released atomic.Bool
}

func NewCopySpace(name string, extent Extent, maxPages int, env Env) *CopySpace {
	p := env.Planes
	s := &CopySpace{
		common: newCommon(name, extent, env, []*metadata.Spec{
			p.ForwardingStatus, p.ForwardingPointer, p.Unlogged, p.SanityMark,
		}),
	}
	s.pr = pageresource.NewMonotone(s.config(maxPages), env.Chunks)
	return s
}

func (s *CopySpace) IsMovable() bool { return true }

func (s *CopySpace) IsFromSpace() bool { return s.fromSpace.Load() }

// SetFromSpace selects the space's role for the next cycle.
func (s *CopySpace) SetFromSpace(from bool) { s.fromSpace.Store(from) }

// AcquireTLAB commits a run of at least bytes for a bump allocator.
func (s *CopySpace) AcquireTLAB(bytes uint64) (memory.Address, uint64, error) {
	pages := memory.BytesToPages(bytes)
	start, err := s.acquire(s.pr, pages)
	if err != nil {
		return 0, 0, err
	}
	return start, memory.PagesToBytes(pages), nil
}

// AcquireForCopy is AcquireTLAB without consulting the budget: copying
// draws on the reserve the plan kept back.
func (s *CopySpace) AcquireForCopy(bytes uint64) (memory.Address, uint64, error) {
	pages := memory.BytesToPages(bytes)
	start, err := s.pr.Acquire(pages)
	if err != nil {
		return 0, 0, err
	}
	return start, memory.PagesToBytes(pages), nil
}

func (s *CopySpace) CommittedPages() int { return s.pr.CommittedPages() }

func (s *CopySpace) Prepare(bool) {
	if s.fromSpace.Load() {
		s.released.Store(false)
	}
}

// Release gives back every page of a from-space.
func (s *CopySpace) Release(bool) {
	if s.fromSpace.Load() {
		s.pr.Reset()
		s.released.Store(true)
	}
}

func (s *CopySpace) status(obj memory.ObjectReference) uint64 {
	return s.env.Planes.ForwardingStatus.Load(obj.ToAddress())
}

// Forwarded returns obj's new location if obj has been copied.
func (s *CopySpace) Forwarded(obj memory.ObjectReference) (memory.ObjectReference, bool) {
	a := obj.ToAddress()
	if !s.env.Planes.ForwardingStatus.IsMapped(a) || s.status(obj) != forwarded {
		return obj, false
	}
	return memory.ObjectReference(s.env.Planes.ForwardingPointer.Load(a)), true
}

func (s *CopySpace) IsLive(obj memory.ObjectReference) bool {
	if !s.fromSpace.Load() {
		return true
	}
	_, ok := s.Forwarded(obj)
	return ok
}

// IsReachable reports whether obj survived the last cycle, either in
// place (to-space) or by being copied, or was allocated after it.
// Nothing at or past the cursor has been handed out.
func (s *CopySpace) IsReachable(obj memory.ObjectReference) bool {
	a := obj.ToAddress()
	if s.fromSpace.Load() {
		if _, ok := s.Forwarded(obj); ok {
			return true
		}
		if !s.released.Load() {
			return false
		}
	}
	return s.Contains(a) && a < s.pr.Cursor()
}

func (s *CopySpace) TraceObject(q ObjectQueue, obj memory.ObjectReference, c Copier) memory.ObjectReference {
	if !s.fromSpace.Load() {
		return obj
	}
	a := obj.ToAddress()
	st := s.env.Planes.ForwardingStatus
	for {
		if st.CompareAndSwap(a, notForwarded, beingForwarded) {
			if c == nil {
				gcerr.Fatalf("%s: %s traced without a copy context", s.name, obj)
			}
			to := c.Copy(obj)
			s.env.Planes.ForwardingPointer.Store(a, uint64(to))
			st.Store(a, forwarded)
			q.Enqueue(to)
			return to
		}
		switch st.Load(a) {
		case forwarded:
			return memory.ObjectReference(s.env.Planes.ForwardingPointer.Load(a))
		case beingForwarded:
			runtime.Gosched()
		default:
			gcerr.Fatal(gcerr.Corruption("%s: %s has forwarding state %d", s.name, obj, st.Load(a)))
		}
	}
}
