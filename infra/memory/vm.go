package memory

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
)

var (
	ErrOutOfAddressSpace = errors.New("address outside simulated heap")
)

type chunk struct {
	words [WordsInChunk]atomic.Uint64
}

func (c *chunk) zero() {
	for i := range c.words {
		c.words[i].Store(0)
	}
}

// AddressSpace is the simulated virtual memory the collector manages.
// Memory is mapped one chunk at a time; reads and writes to unmapped
// chunks are fatal. Word accesses are atomic so racing workers see
// consistent words.
type AddressSpace struct {
	mu     sync.Mutex
	chunks [MaxChunks]atomic.Pointer[chunk]
	pool   *Pool[chunk]
	mapped atomic.Int64
}

func NewAddressSpace() *AddressSpace {
	return &AddressSpace{
		pool: NewPool(func() *chunk { return new(chunk) }),
	}
}

// Map maps the chunk containing a. Mapping an already mapped chunk is a
// no-op; fresh chunks read as zero.
func (s *AddressSpace) Map(a Address) error {
	if !a.InHeap() {
		return errors.Wrapf(ErrOutOfAddressSpace, "map %s", a)
	}
	idx := ChunkIndex(a)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chunks[idx].Load() != nil {
		return nil
	}
	c := s.pool.Get()
	c.zero()
	s.chunks[idx].Store(c)
	s.mapped.Add(1)
	return nil
}

// Unmap drops the chunk containing a and recycles its buffer.
func (s *AddressSpace) Unmap(a Address) {
	if !a.InHeap() {
		return
	}
	idx := ChunkIndex(a)

	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.chunks[idx].Swap(nil)
	if c == nil {
		return
	}
	s.mapped.Add(-1)
	s.pool.Put(c)
}

func (s *AddressSpace) IsMapped(a Address) bool {
	if !a.InHeap() {
		return false
	}
	return s.chunks[ChunkIndex(a)].Load() != nil
}

// MappedChunks returns the number of currently mapped chunks.
func (s *AddressSpace) MappedChunks() int { return int(s.mapped.Load()) }

func (s *AddressSpace) word(a Address) *atomic.Uint64 {
	if !a.InHeap() {
		panic(fmt.Sprintf("memory: access to %s outside heap", a))
	}
	c := s.chunks[ChunkIndex(a)].Load()
	if c == nil {
		panic(fmt.Sprintf("memory: access to unmapped address %s", a))
	}
	off := a.Sub(a.ChunkStart()) >> LogBytesInWord
	return &c.words[off]
}

// Load reads the word at a, which must be word aligned.
func (s *AddressSpace) Load(a Address) uint64 { return s.word(a).Load() }

func (s *AddressSpace) Store(a Address, v uint64) { s.word(a).Store(v) }

func (s *AddressSpace) CompareAndSwap(a Address, old, new uint64) bool {
	return s.word(a).CompareAndSwap(old, new)
}

// LoadReference reads an object reference stored in a slot.
func (s *AddressSpace) LoadReference(slot Address) ObjectReference {
	return ObjectReference(s.Load(slot))
}

func (s *AddressSpace) StoreReference(slot Address, o ObjectReference) {
	s.Store(slot, uint64(o))
}

// Copy copies bytes (a multiple of the word size) from src to dst.
func (s *AddressSpace) Copy(dst, src Address, bytes uint64) {
	for off := uint64(0); off < bytes; off += BytesInWord {
		s.Store(dst.Add(off), s.Load(src.Add(off)))
	}
}

// Zero clears bytes starting at start.
func (s *AddressSpace) Zero(start Address, bytes uint64) {
	for off := uint64(0); off < bytes; off += BytesInWord {
		s.Store(start.Add(off), 0)
	}
}
