package pageresource

import (
	"sync"

	"github.com/SababAosaf/tlxr/infra/gcerr"
	"github.com/SababAosaf/tlxr/infra/memory"
)

// Monotone bumps a cursor through its extent. Pages are only given back
// all at once by Reset, which suits copying spaces whose from-space is
// released wholesale.
type Monotone struct {
	common

	mu        sync.Mutex
	cursor    memory.Address
	mappedEnd memory.Address
}

func NewMonotone(cfg Config, chunks *ChunkMap) *Monotone {
	return &Monotone{
		common:    newCommon(cfg, chunks),
		cursor:    cfg.Start,
		mappedEnd: cfg.Start,
	}
}

func (m *Monotone) Acquire(pages int) (memory.Address, error) {
	bytes := memory.PagesToBytes(pages)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.overBudget(pages) {
		return 0, gcerr.Exhausted("%s: %d committed pages, %d requested, max %d",
			m.name, m.CommittedPages(), pages, m.maxPages)
	}
	start := m.cursor
	end := start.Add(bytes)
	if end > m.limit {
		return 0, gcerr.Exhausted("%s: extent exhausted at %s", m.name, start)
	}
	if end > m.mappedEnd {
		if err := m.chunks.Map(m.mappedEnd, end.Sub(m.mappedEnd), m.name, m.specs); err != nil {
			return 0, err
		}
		m.mappedEnd = end.AlignUp(memory.BytesInChunk)
	}
	m.prepare(start, bytes, true)
	m.cursor = end
	m.committed.Add(int64(pages))
	return start, nil
}

// Release only adjusts accounting; the memory stays in use until Reset.
func (m *Monotone) Release(_ memory.Address, pages int) {
	m.committed.Add(-int64(pages))
}

// Cursor returns the first unallocated address.
func (m *Monotone) Cursor() memory.Address {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor
}

// Reset unmaps everything handed out so far and rewinds the cursor.
func (m *Monotone) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mappedEnd > m.start {
		m.chunks.Unmap(m.start, m.mappedEnd.Sub(m.start), m.name)
	}
	m.cursor = m.start
	m.mappedEnd = m.start
	m.committed.Store(0)
}
