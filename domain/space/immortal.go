package space

import (
	"sync"

	"github.com/SababAosaf/tlxr/infra/memory"
	"github.com/SababAosaf/tlxr/infra/pageresource"
)

// ImmortalSpace is never reclaimed. Objects are still marked so tracing
// scans each of them once per cycle.
type ImmortalSpace struct {
	common
	pr *pageresource.Monotone

	mu   sync.Mutex
	runs []Extent
}

func NewImmortalSpace(name string, extent Extent, maxPages int, env Env) *ImmortalSpace {
	s := &ImmortalSpace{
		common: newCommon(name, extent, env, nonMovingSpecs(env.Planes)),
	}
	s.pr = pageresource.NewMonotone(s.config(maxPages), env.Chunks)
	return s
}

func (s *ImmortalSpace) IsMovable() bool { return false }

func (s *ImmortalSpace) AcquireTLAB(bytes uint64) (memory.Address, uint64, error) {
	pages := memory.BytesToPages(bytes)
	start, err := s.acquire(s.pr, pages)
	if err != nil {
		return 0, 0, err
	}
	n := memory.PagesToBytes(pages)
	s.mu.Lock()
	s.runs = append(s.runs, Extent{Start: start, Bytes: n})
	s.mu.Unlock()
	return start, n, nil
}

func (s *ImmortalSpace) CommittedPages() int { return s.pr.CommittedPages() }

// Prepare clears the mark bits of everything handed out so far.
func (s *ImmortalSpace) Prepare(bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.runs {
		s.mark().BulkZero(r.Start, r.Bytes)
	}
}

func (s *ImmortalSpace) Release(bool) {}

func (s *ImmortalSpace) IsLive(obj memory.ObjectReference) bool {
	return s.mark().Load(obj.ToAddress()) == 1
}

func (s *ImmortalSpace) IsReachable(memory.ObjectReference) bool { return true }

func (s *ImmortalSpace) TraceObject(q ObjectQueue, obj memory.ObjectReference, _ Copier) memory.ObjectReference {
	if testAndMark(s.mark(), obj) {
		q.Enqueue(obj)
	}
	return obj
}
