package sequence

import "sync/atomic"

// Sequencer generates strictly monotonic collection IDs. The journal
// restores it from the last persisted cycle so IDs survive restarts of
// the daemon even though the heap itself does not.
type Sequencer struct {
	next atomic.Uint64
}

// New creates a sequencer whose first Next returns start+1.
func New(start uint64) *Sequencer {
	s := &Sequencer{}
	s.next.Store(start)
	return s
}

// Next returns the next collection ID.
func (s *Sequencer) Next() uint64 {
	return s.next.Add(1)
}

// Current returns the last issued ID.
func (s *Sequencer) Current() uint64 {
	return s.next.Load()
}

// AdvanceTo raises the sequencer to at least v. It never moves backwards.
func (s *Sequencer) AdvanceTo(v uint64) {
	for {
		cur := s.next.Load()
		if cur >= v || s.next.CompareAndSwap(cur, v) {
			return
		}
	}
}
