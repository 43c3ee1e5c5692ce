package memory

import (
	"fmt"
	"sync/atomic"
)

// Ring is a lock-free SPSC ring buffer. The collector uses it for the
// ready-for-finalization queue: one producer (the finalization packet)
// and one consumer (the host's finalizer thread).
type Ring[T any] struct {
	// align head/tail to separate cache lines
	head  uint64
	_pad1 [56]byte
	tail  uint64
	_pad2 [56]byte

	buf  []T
	mask uint64
}

func NewRing[T any](size uint64) *Ring[T] {
	if size == 0 || size&(size-1) != 0 {
		panic("memory.Ring size must be power of two")
	}
	return &Ring[T]{
		buf:  make([]T, size),
		mask: size - 1,
	}
}

// Enqueue returns false if the ring is full.
func (r *Ring[T]) Enqueue(v T) bool {
	h := atomic.LoadUint64(&r.head)
	t := atomic.LoadUint64(&r.tail)
	if h-t == uint64(len(r.buf)) {
		return false
	}
	r.buf[h&r.mask] = v
	atomic.StoreUint64(&r.head, h+1)
	return true
}

// Dequeue returns false if the ring is empty.
func (r *Ring[T]) Dequeue() (T, bool) {
	var zero T
	t := atomic.LoadUint64(&r.tail)
	h := atomic.LoadUint64(&r.head)
	if t == h {
		return zero, false
	}
	v := r.buf[t&r.mask]
	r.buf[t&r.mask] = zero
	atomic.StoreUint64(&r.tail, t+1)
	return v, true
}

func (r *Ring[T]) Len() int {
	h := atomic.LoadUint64(&r.head)
	t := atomic.LoadUint64(&r.tail)
	return int(h - t)
}

func (r *Ring[T]) Cap() int { return len(r.buf) }

func (r *Ring[T]) IsFull() bool { return r.Len() == len(r.buf) }

func (r *Ring[T]) IsEmpty() bool { return r.Len() == 0 }

func (r *Ring[T]) String() string {
	return fmt.Sprintf("ring{len=%d, cap=%d, head=%d, tail=%d}",
		r.Len(), r.Cap(), atomic.LoadUint64(&r.head), atomic.LoadUint64(&r.tail))
}
