// Package metadata implements side metadata: out-of-band bit planes
// shadowing heap addresses. A Spec describes one plane (mark bits,
// forwarding state, log bits, ...). Specs are laid out by a Context at
// distinct, non-overlapping offsets of one metadata address space, so
// unrelated planes never share a word.
package metadata

import (
	"fmt"

	"github.com/SababAosaf/tlxr/infra/gcerr"
	"github.com/SababAosaf/tlxr/infra/memory"
)

const (
	// MaxLogNumBits allows planes of up to 64 bits per region.
	MaxLogNumBits = 6

	// MinLogBytesInRegion is the finest granule: one word.
	MinLogBytesInRegion = memory.LogBytesInWord
)

// Spec is one side metadata plane.
type Spec struct {
	Name string

	// LogNumBits is log2 of the bits stored per region (0..6).
	LogNumBits uint

	// LogBytesInRegion is log2 of the data bytes one entry covers.
	LogBytesInRegion uint

	// Offset is the plane's start in the metadata address space, in bytes.
	Offset uint64

	store *store
}

func (s *Spec) numBits() uint { return 1 << s.LogNumBits }

func (s *Spec) mask() uint64 {
	if s.LogNumBits == MaxLogNumBits {
		return ^uint64(0)
	}
	return (1 << s.numBits()) - 1
}

// Size is the number of metadata bytes the plane needs for the whole heap.
func (s *Spec) Size() uint64 {
	return metaBytesFor(s, memory.HeapEnd.Sub(memory.HeapStart))
}

// End is one past the last metadata byte of the plane.
func (s *Spec) End() uint64 { return s.Offset + s.Size() }

func (s *Spec) String() string {
	return fmt.Sprintf("%s{bits=%d, region=%dB, offset=%#x}",
		s.Name, s.numBits(), uint64(1)<<s.LogBytesInRegion, s.Offset)
}

func metaBytesFor(s *Spec, dataBytes uint64) uint64 {
	bits := (dataBytes >> s.LogBytesInRegion) << s.LogNumBits
	return (bits + 7) >> 3
}

// bitAddress returns the absolute bit position of a's entry.
func (s *Spec) bitAddress(a memory.Address) uint64 {
	if !a.InHeap() {
		gcerr.Fatal(gcerr.Corruption("side metadata %s: %s outside heap", s.Name, a))
	}
	region := a.Sub(memory.HeapStart) >> s.LogBytesInRegion
	return s.Offset<<3 + region<<s.LogNumBits
}

// locate returns the backing word and the entry's shift inside it.
func (s *Spec) locate(a memory.Address) (*wordRef, uint) {
	bit := s.bitAddress(a)
	w := s.store.word(bit>>6, s, a)
	return w, uint(bit & 63)
}

// Load reads the entry for a.
func (s *Spec) Load(a memory.Address) uint64 {
	w, shift := s.locate(a)
	return (w.Load() >> shift) & s.mask()
}

// Store overwrites the entry for a.
func (s *Spec) Store(a memory.Address, v uint64) {
	s.FetchUpdate(a, func(uint64) (uint64, bool) { return v, true })
}

// CompareAndSwap sets the entry for a to new if it currently holds old.
// Of several racing callers with the same old value exactly one wins.
func (s *Spec) CompareAndSwap(a memory.Address, old, new uint64) bool {
	w, shift := s.locate(a)
	m := s.mask()
	old &= m
	new &= m
	for {
		cur := w.Load()
		if (cur>>shift)&m != old {
			return false
		}
		next := cur&^(m<<shift) | new<<shift
		if w.CompareAndSwap(cur, next) {
			return true
		}
	}
}

// FetchUpdate applies fn to the entry until it is installed atomically
// or fn declines. It returns the previous value and whether fn's value
// was stored.
func (s *Spec) FetchUpdate(a memory.Address, fn func(old uint64) (uint64, bool)) (uint64, bool) {
	w, shift := s.locate(a)
	m := s.mask()
	for {
		cur := w.Load()
		old := (cur >> shift) & m
		v, ok := fn(old)
		if !ok {
			return old, false
		}
		next := cur&^(m<<shift) | (v&m)<<shift
		if w.CompareAndSwap(cur, next) {
			return old, true
		}
	}
}

// BulkZero clears the entries covering [start, start+bytes).
func (s *Spec) BulkZero(start memory.Address, bytes uint64) {
	if bytes == 0 {
		return
	}
	first := s.bitAddress(start)
	last := s.bitAddress(start.Add(bytes-1)) + uint64(s.numBits())
	for bit := first; bit < last; {
		w := s.store.word(bit>>6, s, start)
		lo := bit & 63
		hi := uint64(64)
		if rem := last - (bit &^ 63); rem < 64 {
			hi = rem
		}
		var m uint64
		if hi-lo == 64 {
			m = ^uint64(0)
		} else {
			m = ((uint64(1) << (hi - lo)) - 1) << lo
		}
		for {
			cur := w.Load()
			if w.CompareAndSwap(cur, cur&^m) {
				break
			}
		}
		bit = (bit &^ 63) + hi
	}
}

// IsMapped reports whether the entry for a has backing storage.
func (s *Spec) IsMapped(a memory.Address) bool {
	if !a.InHeap() {
		return false
	}
	return s.store.mapped(s.bitAddress(a) >> 6)
}
