package pageresource

import (
	"sort"
	"sync"

	"github.com/SababAosaf/tlxr/infra/gcerr"
	"github.com/SababAosaf/tlxr/infra/memory"
)

type run struct {
	start memory.Address
	pages int
}

func (r run) end() memory.Address { return r.start.Add(memory.PagesToBytes(r.pages)) }

// FreeList recycles released page runs first-fit and grows a highwater
// mark through its extent when no run fits.
type FreeList struct {
	common

	mu        sync.Mutex
	free      []run // sorted by start, coalesced
	highwater memory.Address
	mappedEnd memory.Address
}

func NewFreeList(cfg Config, chunks *ChunkMap) *FreeList {
	return &FreeList{
		common:    newCommon(cfg, chunks),
		highwater: cfg.Start,
		mappedEnd: cfg.Start,
	}
}

func (f *FreeList) Acquire(pages int) (memory.Address, error) {
	bytes := memory.PagesToBytes(pages)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.overBudget(pages) {
		return 0, gcerr.Exhausted("%s: %d committed pages, %d requested, max %d",
			f.name, f.CommittedPages(), pages, f.maxPages)
	}

	for i, r := range f.free {
		if r.pages < pages {
			continue
		}
		start := r.start
		if r.pages == pages {
			f.free = append(f.free[:i], f.free[i+1:]...)
		} else {
			f.free[i] = run{start: r.start.Add(bytes), pages: r.pages - pages}
		}
		f.prepare(start, bytes, false)
		f.committed.Add(int64(pages))
		return start, nil
	}

	start := f.highwater
	end := start.Add(bytes)
	if end > f.limit {
		return 0, gcerr.Exhausted("%s: extent exhausted at %s", f.name, start)
	}
	if end > f.mappedEnd {
		if err := f.chunks.Map(f.mappedEnd, end.Sub(f.mappedEnd), f.name, f.specs); err != nil {
			return 0, err
		}
		f.mappedEnd = end.AlignUp(memory.BytesInChunk)
	}
	f.prepare(start, bytes, true)
	f.highwater = end
	f.committed.Add(int64(pages))
	return start, nil
}

func (f *FreeList) Release(start memory.Address, pages int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := sort.Search(len(f.free), func(i int) bool { return f.free[i].start >= start })
	f.free = append(f.free, run{})
	copy(f.free[i+1:], f.free[i:])
	f.free[i] = run{start: start, pages: pages}

	// coalesce with the following run, then the preceding one
	if i+1 < len(f.free) && f.free[i].end() == f.free[i+1].start {
		f.free[i].pages += f.free[i+1].pages
		f.free = append(f.free[:i+1], f.free[i+2:]...)
	}
	if i > 0 && f.free[i-1].end() == f.free[i].start {
		f.free[i-1].pages += f.free[i].pages
		f.free = append(f.free[:i], f.free[i+1:]...)
	}
	f.committed.Add(-int64(pages))
}

// FreeRuns reports how many disjoint free runs are held.
func (f *FreeList) FreeRuns() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.free)
}
