package memory

import (
	"testing"

	"github.com/cockroachdb/errors"
)

func TestAddressAlignment(t *testing.T) {
	a := HeapStart.Add(13)
	if got := a.AlignUp(BytesInWord); got != HeapStart.Add(16) {
		t.Fatalf("align up: got %s", got)
	}
	if got := a.AlignDown(BytesInWord); got != HeapStart.Add(8) {
		t.Fatalf("align down: got %s", got)
	}
	if !HeapStart.IsAligned(BytesInChunk) {
		t.Fatal("heap start must be chunk aligned")
	}
	if BytesToPages(1) != 1 || BytesToPages(BytesInPage+1) != 2 {
		t.Fatal("bytes to pages must round up")
	}
}

func TestAddressSpaceMapLoadStore(t *testing.T) {
	s := NewAddressSpace()
	a := HeapStart.Add(3 * BytesInChunk)

	if s.IsMapped(a) {
		t.Fatal("chunk should start unmapped")
	}
	if err := s.Map(a); err != nil {
		t.Fatalf("map: %v", err)
	}
	if s.Load(a) != 0 {
		t.Fatal("fresh chunk must read as zero")
	}
	s.Store(a.Add(8), 42)
	if s.Load(a.Add(8)) != 42 {
		t.Fatal("store not visible")
	}
	if !s.CompareAndSwap(a.Add(8), 42, 7) || s.Load(a.Add(8)) != 7 {
		t.Fatal("cas failed")
	}

	s.Copy(a.Add(64), a, 16)
	if s.Load(a.Add(72)) != 7 {
		t.Fatal("copy did not move words")
	}
	s.Zero(a.Add(64), 16)
	if s.Load(a.Add(72)) != 0 {
		t.Fatal("zero did not clear words")
	}

	s.Unmap(a)
	if s.IsMapped(a) || s.MappedChunks() != 0 {
		t.Fatal("unmap left chunk mapped")
	}
	if err := s.Map(a); err != nil {
		t.Fatalf("remap: %v", err)
	}
	if s.Load(a.Add(8)) != 0 {
		t.Fatal("recycled chunk must read as zero")
	}
}

func TestAddressSpaceRejectsOutsideHeap(t *testing.T) {
	s := NewAddressSpace()
	if err := s.Map(HeapEnd); !errors.Is(err, ErrOutOfAddressSpace) {
		t.Fatalf("expected ErrOutOfAddressSpace, got %v", err)
	}
}

func TestAddressSpaceUnmappedAccessPanics(t *testing.T) {
	s := NewAddressSpace()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on unmapped access")
		}
	}()
	s.Load(HeapStart)
}
