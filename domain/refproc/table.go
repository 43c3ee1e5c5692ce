package refproc

import (
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/SababAosaf/tlxr/infra/memory"
)

const numShards = 16

type shard struct {
	mu   sync.Mutex
	refs map[memory.ObjectReference]struct{}
}

// table is a set of objects sharded by the hash of their address, so
// registering threads rarely contend.
type table struct {
	shards [numShards]shard
}

func newTable() *table {
	t := &table{}
	for i := range t.shards {
		t.shards[i].refs = make(map[memory.ObjectReference]struct{})
	}
	return t
}

func shardOf(o memory.ObjectReference) int {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(o))
	return int(xxhash.Sum64(b[:]) % numShards)
}

func (t *table) add(o memory.ObjectReference) {
	s := &t.shards[shardOf(o)]
	s.mu.Lock()
	s.refs[o] = struct{}{}
	s.mu.Unlock()
}

// take empties shard i and returns its members.
func (t *table) take(i int) []memory.ObjectReference {
	s := &t.shards[i]
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]memory.ObjectReference, 0, len(s.refs))
	for o := range s.refs {
		out = append(out, o)
	}
	s.refs = make(map[memory.ObjectReference]struct{}, len(out))
	return out
}

func (t *table) len() int {
	n := 0
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		n += len(s.refs)
		s.mu.Unlock()
	}
	return n
}

// readyQueue holds objects waiting for their finalizer. Collector
// packets produce into the ring; a host thread consumes.
type readyQueue struct {
	mu       sync.Mutex
	ring     *memory.Ring[memory.ObjectReference]
	overflow []memory.ObjectReference
}

func newReadyQueue(capacity uint64) *readyQueue {
	return &readyQueue{ring: memory.NewRing[memory.ObjectReference](capacity)}
}

func (q *readyQueue) push(o memory.ObjectReference) {
	if q.ring.Enqueue(o) {
		return
	}
	q.mu.Lock()
	q.overflow = append(q.overflow, o)
	q.mu.Unlock()
}

func (q *readyQueue) pop() (memory.ObjectReference, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if o, ok := q.ring.Dequeue(); ok {
		return o, true
	}
	if n := len(q.overflow); n > 0 {
		o := q.overflow[0]
		q.overflow = q.overflow[1:]
		return o, true
	}
	return memory.Null, false
}

// retain replaces every queued object by fn's result.
func (q *readyQueue) retain(fn func([]memory.ObjectReference) []memory.ObjectReference) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	var all []memory.ObjectReference
	for {
		o, ok := q.ring.Dequeue()
		if !ok {
			break
		}
		all = append(all, o)
	}
	all = append(all, q.overflow...)
	q.overflow = nil
	if len(all) == 0 {
		return 0
	}
	for _, o := range fn(all) {
		if !q.ring.Enqueue(o) {
			q.overflow = append(q.overflow, o)
		}
	}
	return len(all)
}

func (q *readyQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int(q.ring.Len()) + len(q.overflow)
}
