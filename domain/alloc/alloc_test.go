package alloc

import (
	"testing"

	"github.com/SababAosaf/tlxr/domain/space"
	"github.com/SababAosaf/tlxr/infra/gcerr"
	"github.com/SababAosaf/tlxr/infra/memory"
	"github.com/SababAosaf/tlxr/infra/metadata"
	"github.com/SababAosaf/tlxr/infra/pageresource"
)

func newEnv() space.Env {
	meta := metadata.NewContext()
	return space.Env{
		Chunks: pageresource.NewChunkMap(memory.NewAddressSpace(), meta),
		Planes: metadata.NewPlanes(meta),
	}
}

type capped struct{ left int }

func (c *capped) Allow(_ string, pages int) error {
	if pages > c.left {
		return gcerr.Exhausted("budget exhausted")
	}
	c.left -= pages
	return nil
}

func TestBumpAllocatorStaysInTLAB(t *testing.T) {
	env := newEnv()
	e, _ := space.NewLayout().Reserve(memory.BytesInChunk)
	s := space.NewCopySpace("nursery", e, 0, env)
	a := NewBumpAllocator(s)

	first, err := a.Alloc(24, 8)
	if err != nil {
		t.Fatal(err)
	}
	second, _ := a.Alloc(16, 16)
	if second < first.Add(24) || !second.IsAligned(16) {
		t.Fatalf("second allocation %s overlaps or is misaligned (first %s)", second, first)
	}
	if s.CommittedPages() != TLABBytes/memory.BytesInPage {
		t.Fatalf("expected one TLAB committed, got %d pages", s.CommittedPages())
	}

	big, err := a.Alloc(TLABBytes, 8)
	if err != nil {
		t.Fatal(err)
	}
	third, _ := a.Alloc(8, 8)
	if third != second.Add(16) {
		t.Fatal("an oversized allocation must not discard the current TLAB")
	}
	if big == third {
		t.Fatal("oversized allocation aliases the TLAB")
	}
}

func TestBumpAllocatorReportsExhaustion(t *testing.T) {
	env := newEnv()
	env.Budget = &capped{left: 8}
	e, _ := space.NewLayout().Reserve(memory.BytesInChunk)
	s := space.NewCopySpace("nursery", e, 0, env)
	a := NewBumpAllocator(s)

	var err error
	for i := 0; i < 10000 && err == nil; i++ {
		_, err = a.Alloc(64, 8)
	}
	if !gcerr.IsExhausted(err) {
		t.Fatalf("expected resource exhaustion, got %v", err)
	}
}

func TestFreeListAllocatorRefillsBlocks(t *testing.T) {
	env := newEnv()
	e, _ := space.NewLayout().Reserve(memory.BytesInChunk)
	s := space.NewMarkSweepSpace("ms", e, 0, env)
	a := NewFreeListAllocator(s)

	cells := int(space.BytesInBlock / 4096)
	seen := map[memory.Address]bool{}
	for i := 0; i < cells+1; i++ {
		c, err := a.Alloc(4000, 8)
		if err != nil {
			t.Fatal(err)
		}
		if seen[c] {
			t.Fatalf("cell %s handed out twice", c)
		}
		seen[c] = true
	}
	if s.Blocks() != 2 {
		t.Fatalf("expected a second block, have %d", s.Blocks())
	}
	a.Reset()

	// every block is unowned again, so a sweep may run
	s.Prepare(true)
	s.Release(true)
	if s.Blocks() != 0 {
		t.Fatalf("unmarked blocks survived the sweep: %d", s.Blocks())
	}
}

func TestLargeObjectAllocator(t *testing.T) {
	env := newEnv()
	e, _ := space.NewLayout().Reserve(memory.BytesInChunk)
	s := space.NewLargeObjectSpace("los", e, 0, env)
	a := NewLargeObjectAllocator(s)

	obj, err := a.Alloc(3*memory.BytesInPage, 8)
	if err != nil {
		t.Fatal(err)
	}
	if !obj.IsAligned(memory.BytesInPage) || !s.IsReachable(obj.ToObjectReference()) {
		t.Fatalf("large object %s not page aligned or not valid", obj)
	}
}

func TestBadAlignmentIsFatal(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	env := newEnv()
	e, _ := space.NewLayout().Reserve(memory.BytesInChunk)
	NewBumpAllocator(space.NewCopySpace("c", e, 0, env)).Alloc(8, 12)
}
