package pageresource

import (
	"sync/atomic"

	"github.com/SababAosaf/tlxr/infra/memory"
	"github.com/SababAosaf/tlxr/infra/metadata"
)

// PageResource allocates and releases page runs for one space.
// Acquire fails, never panics, when the space's extent or configured
// maximum is exceeded. Acquired pages read as zero and have zeroed side
// metadata.
type PageResource interface {
	Acquire(pages int) (memory.Address, error)
	Release(start memory.Address, pages int)
	CommittedPages() int
	Start() memory.Address
	Limit() memory.Address
}

// Config describes the virtual range a page resource manages.
type Config struct {
	Name   string
	Start  memory.Address
	Extent uint64
	// MaxPages caps committed pages; 0 means the whole extent.
	MaxPages int
	// Specs are the metadata planes mapped alongside data.
	Specs []*metadata.Spec
}

type common struct {
	name      string
	start     memory.Address
	limit     memory.Address
	maxPages  int
	specs     []*metadata.Spec
	chunks    *ChunkMap
	committed atomic.Int64
}

func newCommon(cfg Config, chunks *ChunkMap) common {
	maxPages := cfg.MaxPages
	if maxPages == 0 {
		maxPages = memory.BytesToPages(cfg.Extent)
	}
	return common{
		name:     cfg.Name,
		start:    cfg.Start,
		limit:    cfg.Start.Add(cfg.Extent),
		maxPages: maxPages,
		specs:    cfg.Specs,
		chunks:   chunks,
	}
}

func (c *common) Start() memory.Address { return c.start }

func (c *common) Limit() memory.Address { return c.limit }

func (c *common) CommittedPages() int { return int(c.committed.Load()) }

func (c *common) overBudget(pages int) bool {
	return int(c.committed.Load())+pages > c.maxPages
}

// prepare clears data and metadata of a freshly handed out run.
func (c *common) prepare(start memory.Address, bytes uint64, fresh bool) {
	if !fresh {
		c.chunks.Memory().Zero(start, bytes)
	}
	for _, s := range c.specs {
		s.BulkZero(start, bytes)
	}
}
