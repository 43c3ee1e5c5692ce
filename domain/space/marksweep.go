package space

import (
	"sort"
	"sync"

	"github.com/SababAosaf/tlxr/infra/gcerr"
	"github.com/SababAosaf/tlxr/infra/memory"
	"github.com/SababAosaf/tlxr/infra/pageresource"
)

const (
	LogBytesInBlock = 14 // 16 KiB
	BytesInBlock    = 1 << LogBytesInBlock
	PagesInBlock    = BytesInBlock / memory.BytesInPage

	// MaxCellBytes is the largest size class; bigger objects belong in the
	// large-object space.
	MaxCellBytes = 8192
)

var sizeClasses = []uint64{
	16, 32, 48, 64, 96, 128, 192, 256, 384, 512, 768, 1024, 1536, 2048, 3072, 4096, 6144, 8192,
}

// SizeClass returns the index of the smallest class holding bytes.
func SizeClass(bytes uint64) (int, bool) {
	i := sort.Search(len(sizeClasses), func(i int) bool { return sizeClasses[i] >= bytes })
	return i, i < len(sizeClasses)
}

func CellBytes(class int) uint64 { return sizeClasses[class] }

func NumSizeClasses() int { return len(sizeClasses) }

// Block is a run of equally sized cells. A cell is allocated when its
// valid-object bit is set. A block is used by at most one allocator at a
// time.
type Block struct {
	Start memory.Address
	Class int

	space  *MarkSweepSpace
	cursor int
	owned  bool
}

func (b *Block) cells() int { return int(BytesInBlock / sizeClasses[b.Class]) }

func (b *Block) cell(i int) memory.Address {
	return b.Start.Add(uint64(i) * sizeClasses[b.Class])
}

// Alloc returns the next free cell, zeroed and marked allocated.
func (b *Block) Alloc() (memory.Address, bool) {
	valid := b.space.env.Planes.ValidObject
	for ; b.cursor < b.cells(); b.cursor++ {
		a := b.cell(b.cursor)
		if valid.Load(a) != 0 {
			continue
		}
		b.cursor++
		b.space.env.memory().Zero(a, sizeClasses[b.Class])
		valid.Store(a, 1)
		return a, true
	}
	return 0, false
}

// MarkSweepSpace is a non-moving free-list space. Cells are marked during
// tracing and swept in Release; empty blocks go back to the page
// resource.
type MarkSweepSpace struct {
	common
	pr *pageresource.FreeList

	mu        sync.Mutex
	blocks    map[memory.Address]*Block
	available [][]*Block // per size class, blocks with free cells
}

func NewMarkSweepSpace(name string, extent Extent, maxPages int, env Env) *MarkSweepSpace {
	s := &MarkSweepSpace{
		common:    newCommon(name, extent, env, nonMovingSpecs(env.Planes)),
		blocks:    make(map[memory.Address]*Block),
		available: make([][]*Block, len(sizeClasses)),
	}
	s.pr = pageresource.NewFreeList(s.config(maxPages), env.Chunks)
	return s
}

func (s *MarkSweepSpace) IsMovable() bool { return false }

func (s *MarkSweepSpace) CommittedPages() int { return s.pr.CommittedPages() }

// AcquireBlock hands an allocator a block of class with free cells,
// reusing swept blocks before committing new pages.
func (s *MarkSweepSpace) AcquireBlock(class int) (*Block, error) {
	s.mu.Lock()
	if n := len(s.available[class]); n > 0 {
		b := s.available[class][n-1]
		s.available[class] = s.available[class][:n-1]
		b.owned = true
		b.cursor = 0
		s.mu.Unlock()
		return b, nil
	}
	s.mu.Unlock()

	start, err := s.acquire(s.pr, PagesInBlock)
	if err != nil {
		return nil, err
	}
	b := &Block{Start: start, Class: class, space: s, owned: true}
	s.mu.Lock()
	s.blocks[start] = b
	s.mu.Unlock()
	return b, nil
}

// ReturnBlock gives a block back, e.g. when its allocator is reset.
func (s *MarkSweepSpace) ReturnBlock(b *Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !b.owned {
		gcerr.Fatalf("%s: block %s returned twice", s.name, b.Start)
	}
	b.owned = false
	if b.cursor < b.cells() {
		s.available[b.Class] = append(s.available[b.Class], b)
	}
}

// Blocks returns the number of blocks currently held.
func (s *MarkSweepSpace) Blocks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blocks)
}

func (s *MarkSweepSpace) Prepare(full bool) {
	if !full {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.blocks {
		s.mark().BulkZero(b.Start, BytesInBlock)
	}
}

// Release sweeps every block after a full collection. Allocators must
// have returned their blocks.
func (s *MarkSweepSpace) Release(full bool) {
	if !full {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	valid := s.env.Planes.ValidObject
	for i := range s.available {
		s.available[i] = s.available[i][:0]
	}
	for start, b := range s.blocks {
		if b.owned {
			gcerr.Fatalf("%s: block %s still owned during sweep", s.name, b.Start)
		}
		live := 0
		for i := 0; i < b.cells(); i++ {
			a := b.cell(i)
			if valid.Load(a) == 0 {
				continue
			}
			if s.mark().Load(a) == 1 {
				live++
				continue
			}
			valid.Store(a, 0)
		}
		switch {
		case live == 0:
			delete(s.blocks, start)
			s.pr.Release(start, PagesInBlock)
		case live < b.cells():
			b.cursor = 0
			s.available[b.Class] = append(s.available[b.Class], b)
		}
	}
}

func (s *MarkSweepSpace) IsLive(obj memory.ObjectReference) bool {
	return s.mark().Load(obj.ToAddress()) == 1
}

func (s *MarkSweepSpace) IsReachable(obj memory.ObjectReference) bool {
	return isValid(s.env.Planes.ValidObject, obj)
}

func (s *MarkSweepSpace) TraceObject(q ObjectQueue, obj memory.ObjectReference, _ Copier) memory.ObjectReference {
	if testAndMark(s.mark(), obj) {
		q.Enqueue(obj)
	}
	return obj
}
