package scheduler

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// The pending word packs a bucket's whole state:
//
//	bit 63      open
//	bits 32..62 queued (pushed, not yet taken)
//	bits 0..31  executing (taken, not yet completed)
//
// push adds to queued before the packet is enqueued, a worker moves one
// unit from queued to executing before it dequeues, and completion
// removes one executing unit. A stage is drained when the word equals
// openBit; whoever moves it from openBit to 0 advances the scheduler.
const (
	openBit      = uint64(1) << 63
	queuedOne    = uint64(1) << 32
	executingOne = uint64(1)
	countMask    = openBit - 1

	reserveDelta  = ^(queuedOne - executingOne) + 1 // -queuedOne + executingOne
	completeDelta = ^uint64(0)                      // -1
)

func queued(v uint64) uint64 { return (v & countMask) >> 32 }

func executing(v uint64) uint64 { return v & (queuedOne - 1) }

type bucket struct {
	stage   Stage
	pending atomic.Uint64
	ring    *ring[Packet]

	mu          sync.Mutex
	overflow    []Packet
	overflowLen atomic.Int64
}

func newBucket(stage Stage, capacity uint64) *bucket {
	return &bucket{stage: stage, ring: newRing[Packet](capacity)}
}

func (b *bucket) push(p Packet) {
	b.pending.Add(queuedOne)
	if b.ring.enqueue(p) {
		return
	}
	b.mu.Lock()
	b.overflow = append(b.overflow, p)
	b.overflowLen.Add(1)
	b.mu.Unlock()
}

// reserve claims one queued packet of an open bucket for execution.
func (b *bucket) reserve() bool {
	for {
		v := b.pending.Load()
		if v&openBit == 0 || queued(v) == 0 {
			return false
		}
		if b.pending.CompareAndSwap(v, v+reserveDelta) {
			return true
		}
	}
}

// take returns a reserved packet. A reservation only exists for a pushed
// packet, so the loop ends once the pusher finishes enqueueing.
func (b *bucket) take() Packet {
	for {
		if p, ok := b.ring.dequeue(); ok {
			return p
		}
		if b.overflowLen.Load() > 0 {
			b.mu.Lock()
			if n := len(b.overflow); n > 0 {
				p := b.overflow[n-1]
				b.overflow[n-1] = nil
				b.overflow = b.overflow[:n-1]
				b.overflowLen.Add(-1)
				b.mu.Unlock()
				return p
			}
			b.mu.Unlock()
		}
		runtime.Gosched()
	}
}

// complete retires one executing packet and reports whether the caller
// closed the bucket.
func (b *bucket) complete() bool {
	v := b.pending.Add(completeDelta)
	return v == openBit && b.pending.CompareAndSwap(openBit, 0)
}

// open makes the bucket consumable. It reports false, leaving the bucket
// closed, when there is nothing to run.
func (b *bucket) open() bool {
	old := b.pending.Or(openBit)
	if old&countMask != 0 {
		return true
	}
	return !b.pending.CompareAndSwap(openBit, 0)
}

func (b *bucket) isOpen() bool { return b.pending.Load()&openBit != 0 }

func (b *bucket) hasWork() bool {
	v := b.pending.Load()
	return v&openBit != 0 && queued(v) > 0
}

// counts returns the queued and executing packets.
func (b *bucket) counts() (uint64, uint64) {
	v := b.pending.Load()
	return queued(v), executing(v)
}
