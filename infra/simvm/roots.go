package simvm

import (
	"sync"

	"github.com/SababAosaf/tlxr/domain/vm"
	"github.com/SababAosaf/tlxr/infra/memory"
)

// Root is a handle to an off-heap reference slot. The collector updates
// it when the referent moves.
type Root struct {
	mu  sync.Mutex
	ref memory.ObjectReference
}

func (r *Root) Load() memory.ObjectReference {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ref
}

func (r *Root) Store(o memory.ObjectReference) {
	r.mu.Lock()
	r.ref = o
	r.mu.Unlock()
}

// RootSet is a table of roots: the globals, or one mutator's stack.
type RootSet struct {
	mu    sync.Mutex
	roots map[*Root]struct{}
}

func NewRootSet() *RootSet {
	return &RootSet{roots: make(map[*Root]struct{})}
}

// Add registers a root holding obj.
func (s *RootSet) Add(obj memory.ObjectReference) *Root {
	r := &Root{ref: obj}
	s.mu.Lock()
	s.roots[r] = struct{}{}
	s.mu.Unlock()
	return r
}

func (s *RootSet) Remove(r *Root) {
	s.mu.Lock()
	delete(s.roots, r)
	s.mu.Unlock()
}

func (s *RootSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.roots)
}

// Visit reports every non-null root.
func (s *RootSet) Visit(visit vm.Visitor) {
	s.mu.Lock()
	roots := make([]*Root, 0, len(s.roots))
	for r := range s.roots {
		roots = append(roots, r)
	}
	s.mu.Unlock()
	for _, r := range roots {
		if !r.Load().IsNull() {
			visit(r)
		}
	}
}

// Clear drops every root.
func (s *RootSet) Clear() {
	s.mu.Lock()
	s.roots = make(map[*Root]struct{})
	s.mu.Unlock()
}
