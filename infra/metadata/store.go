package metadata

import (
	"sync"
	"sync/atomic"

	"github.com/SababAosaf/tlxr/infra/gcerr"
	"github.com/SababAosaf/tlxr/infra/memory"
)

type wordRef = atomic.Uint64

const (
	logWordsInSegment = 13 // 64 KiB segments
	wordsInSegment    = 1 << logWordsInSegment
)

type segment struct {
	words [wordsInSegment]wordRef
}

// store is the metadata address space. Segments are mapped lazily when
// the data chunks they shadow are mapped, and stay mapped afterwards.
type store struct {
	mu       sync.Mutex
	segments sync.Map // segment index -> *segment
	count    atomic.Int64
}

func (st *store) get(idx uint64) *segment {
	v, ok := st.segments.Load(idx)
	if !ok {
		return nil
	}
	return v.(*segment)
}

func (st *store) word(word uint64, s *Spec, a memory.Address) *wordRef {
	seg := st.get(word >> logWordsInSegment)
	if seg == nil {
		gcerr.Fatal(gcerr.Corruption("side metadata %s not mapped for %s", s.Name, a))
	}
	return &seg.words[word&(wordsInSegment-1)]
}

func (st *store) mapped(word uint64) bool {
	return st.get(word>>logWordsInSegment) != nil
}

// mapRange maps the segments holding metadata bytes [from, to).
func (st *store) mapRange(from, to uint64) {
	if to <= from {
		return
	}
	first := (from >> 3) >> logWordsInSegment
	last := ((to - 1) >> 3) >> logWordsInSegment

	st.mu.Lock()
	defer st.mu.Unlock()
	for idx := first; idx <= last; idx++ {
		if _, ok := st.segments.Load(idx); ok {
			continue
		}
		st.segments.Store(idx, new(segment))
		st.count.Add(1)
	}
}
