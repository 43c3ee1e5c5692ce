package scheduler

import (
	"runtime"
	"sync/atomic"
)

type slot[T any] struct {
	sequence atomic.Uint64
	value    T
}

// ring is a bounded lock-free MPMC queue using per-slot sequence numbers.
type ring[T any] struct {
	capacity uint64
	mask     uint64

	_pad0 [48]byte
	head  atomic.Uint64
	_pad1 [48]byte
	tail  atomic.Uint64
	_pad2 [48]byte

	slots []slot[T]
}

func newRing[T any](capacity uint64) *ring[T] {
	if capacity < 2 || capacity&(capacity-1) != 0 {
		panic("scheduler: ring capacity must be a power of two >= 2")
	}
	slots := make([]slot[T], capacity)
	for i := range slots {
		slots[i].sequence.Store(uint64(i))
	}
	return &ring[T]{
		capacity: capacity,
		mask:     capacity - 1,
		slots:    slots,
	}
}

// enqueue returns false when the ring is full.
func (q *ring[T]) enqueue(v T) bool {
	for {
		pos := q.tail.Load()
		s := &q.slots[pos&q.mask]
		delta := int64(s.sequence.Load()) - int64(pos)
		switch {
		case delta == 0:
			if q.tail.CompareAndSwap(pos, pos+1) {
				s.value = v
				s.sequence.Store(pos + 1)
				return true
			}
		case delta < 0:
			return false
		default:
			runtime.Gosched()
		}
	}
}

func (q *ring[T]) dequeue() (T, bool) {
	var zero T
	for {
		pos := q.head.Load()
		s := &q.slots[pos&q.mask]
		delta := int64(s.sequence.Load()) - int64(pos+1)
		switch {
		case delta == 0:
			if q.head.CompareAndSwap(pos, pos+1) {
				v := s.value
				s.value = zero
				s.sequence.Store(pos + q.capacity)
				return v, true
			}
		case delta < 0:
			return zero, false
		default:
			runtime.Gosched()
		}
	}
}
