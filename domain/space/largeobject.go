package space

import (
	"sync"

	"github.com/SababAosaf/tlxr/infra/memory"
	"github.com/SababAosaf/tlxr/infra/pageresource"
)

// LargeObjectSpace gives every object its own page run. Unmarked runs
// are returned to the free list at the end of a full collection.
type LargeObjectSpace struct {
	common
	pr *pageresource.FreeList

	mu      sync.Mutex
	objects map[memory.Address]int // start -> pages
}

func NewLargeObjectSpace(name string, extent Extent, maxPages int, env Env) *LargeObjectSpace {
	s := &LargeObjectSpace{
		common:  newCommon(name, extent, env, nonMovingSpecs(env.Planes)),
		objects: make(map[memory.Address]int),
	}
	s.pr = pageresource.NewFreeList(s.config(maxPages), env.Chunks)
	return s
}

func (s *LargeObjectSpace) IsMovable() bool { return false }

// Alloc commits a page run for one object of bytes.
func (s *LargeObjectSpace) Alloc(bytes uint64) (memory.Address, error) {
	pages := memory.BytesToPages(bytes)
	start, err := s.acquire(s.pr, pages)
	if err != nil {
		return 0, err
	}
	s.env.Planes.ValidObject.Store(start, 1)
	s.mu.Lock()
	s.objects[start] = pages
	s.mu.Unlock()
	return start, nil
}

func (s *LargeObjectSpace) CommittedPages() int { return s.pr.CommittedPages() }

// Objects returns the number of allocated large objects.
func (s *LargeObjectSpace) Objects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

func (s *LargeObjectSpace) Prepare(full bool) {
	if !full {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for start := range s.objects {
		s.mark().Store(start, 0)
	}
}

// Release sweeps after a full collection; nursery collections never
// trace large objects, so they keep everything.
func (s *LargeObjectSpace) Release(full bool) {
	if !full {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for start, pages := range s.objects {
		if s.mark().Load(start) == 1 {
			continue
		}
		s.env.Planes.ValidObject.Store(start, 0)
		delete(s.objects, start)
		s.pr.Release(start, pages)
	}
}

func (s *LargeObjectSpace) IsLive(obj memory.ObjectReference) bool {
	return s.mark().Load(obj.ToAddress()) == 1
}

func (s *LargeObjectSpace) IsReachable(obj memory.ObjectReference) bool {
	return isValid(s.env.Planes.ValidObject, obj)
}

func (s *LargeObjectSpace) TraceObject(q ObjectQueue, obj memory.ObjectReference, _ Copier) memory.ObjectReference {
	if testAndMark(s.mark(), obj) {
		q.Enqueue(obj)
	}
	return obj
}
