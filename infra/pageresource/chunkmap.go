// Package pageresource hands out page-granular memory to spaces. All
// spaces share one ChunkMap, the mutex-protected table of chunk owners;
// chunk acquisition is rare next to object allocation, so a single lock
// is an acceptable contention point.
package pageresource

import (
	"sync"

	"github.com/SababAosaf/tlxr/infra/gcerr"
	"github.com/SababAosaf/tlxr/infra/memory"
	"github.com/SababAosaf/tlxr/infra/metadata"
)

// ChunkMap records which space owns each mapped chunk and maps data and
// side metadata together.
type ChunkMap struct {
	mu     sync.Mutex
	mem    *memory.AddressSpace
	meta   *metadata.Context
	owners map[int]string
}

func NewChunkMap(mem *memory.AddressSpace, meta *metadata.Context) *ChunkMap {
	return &ChunkMap{
		mem:    mem,
		meta:   meta,
		owners: make(map[int]string),
	}
}

func (m *ChunkMap) Memory() *memory.AddressSpace { return m.mem }

func (m *ChunkMap) Metadata() *metadata.Context { return m.meta }

// Map maps every chunk of [start, start+bytes) for owner together with
// owner's metadata planes.
func (m *ChunkMap) Map(start memory.Address, bytes uint64, owner string, specs []*metadata.Spec) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	end := start.Add(bytes)
	for c := start.ChunkStart(); c < end; c = c.Add(memory.BytesInChunk) {
		idx := memory.ChunkIndex(c)
		if cur, ok := m.owners[idx]; ok {
			if cur != owner {
				gcerr.Fatalf("chunk %s owned by %s, requested by %s", c, cur, owner)
			}
			continue
		}
		if err := m.mem.Map(c); err != nil {
			return gcerr.Exhausted("map chunk %s for %s: %v", c, owner, err)
		}
		m.meta.MapChunk(c, specs)
		m.owners[idx] = owner
	}
	return nil
}

// Unmap drops owner's chunks in [start, start+bytes). Metadata stays
// mapped so post-collection liveness queries keep working.
func (m *ChunkMap) Unmap(start memory.Address, bytes uint64, owner string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	end := start.Add(bytes)
	for c := start.ChunkStart(); c < end; c = c.Add(memory.BytesInChunk) {
		idx := memory.ChunkIndex(c)
		if m.owners[idx] != owner {
			continue
		}
		delete(m.owners, idx)
		m.mem.Unmap(c)
	}
}

// Owner returns the space owning a's chunk, or "".
func (m *ChunkMap) Owner(a memory.Address) string {
	if !a.InHeap() {
		return ""
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owners[memory.ChunkIndex(a)]
}

func (m *ChunkMap) MappedChunks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.owners)
}
