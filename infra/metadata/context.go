package metadata

import (
	"fmt"
	"sort"
	"sync"

	"github.com/SababAosaf/tlxr/infra/memory"
)

// Well-known plane names.
const (
	MarkBit           = "mark"
	ForwardingStatus  = "forwarding-status"
	ForwardingPointer = "forwarding-pointer"
	UnloggedBit       = "unlogged"
	ValidObjectBit    = "valid-object"
	SanityMarkBit     = "sanity-mark"
)

// Context owns the metadata address space and assigns every registered
// Spec its own offset. One Context exists per heap instance.
type Context struct {
	mu    sync.Mutex
	store *store
	specs map[string]*Spec
	next  uint64
}

func NewContext() *Context {
	return &Context{
		store: &store{},
		specs: make(map[string]*Spec),
	}
}

// Register returns the plane called name, creating it on first use.
// Registering an existing name with a different shape is an error.
func (c *Context) Register(name string, logNumBits, logBytesInRegion uint) (*Spec, error) {
	if logNumBits > MaxLogNumBits {
		return nil, fmt.Errorf("metadata %s: %d bits per region unsupported", name, 1<<logNumBits)
	}
	if logBytesInRegion < MinLogBytesInRegion {
		return nil, fmt.Errorf("metadata %s: region smaller than a word", name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.specs[name]; ok {
		if s.LogNumBits != logNumBits || s.LogBytesInRegion != logBytesInRegion {
			return nil, fmt.Errorf("metadata %s: re-registered with a different layout", name)
		}
		return s, nil
	}

	s := &Spec{
		Name:             name,
		LogNumBits:       logNumBits,
		LogBytesInRegion: logBytesInRegion,
		Offset:           c.next,
		store:            c.store,
	}
	// keep every plane word aligned so entries never straddle words
	c.next = (s.End() + 7) &^ 7
	c.specs[name] = s
	return s, nil
}

// MustRegister is Register for the built-in planes whose shapes are fixed.
func (c *Context) MustRegister(name string, logNumBits, logBytesInRegion uint) *Spec {
	s, err := c.Register(name, logNumBits, logBytesInRegion)
	if err != nil {
		panic(err)
	}
	return s
}

func (c *Context) Lookup(name string) (*Spec, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.specs[name]
	return s, ok
}

// Specs returns the registered planes ordered by offset.
func (c *Context) Specs() []*Spec {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Spec, 0, len(c.specs))
	for _, s := range c.specs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}

// Verify checks that no two planes overlap in the metadata address space.
func (c *Context) Verify() error {
	specs := c.Specs()
	for i := 1; i < len(specs); i++ {
		prev, cur := specs[i-1], specs[i]
		if cur.Offset < prev.End() {
			return fmt.Errorf("metadata %s overlaps %s", cur, prev)
		}
	}
	return nil
}

// MapChunk maps the metadata of the given planes for the data chunk
// holding a.
func (c *Context) MapChunk(a memory.Address, specs []*Spec) {
	start := a.ChunkStart()
	for _, s := range specs {
		from := s.Offset + metaBytesFor(s, start.Sub(memory.HeapStart))
		to := from + metaBytesFor(s, memory.BytesInChunk)
		if to == from {
			to = from + 1
		}
		c.store.mapRange(from, to)
	}
}

// MappedSegments reports how many 64 KiB metadata segments are mapped.
func (c *Context) MappedSegments() int { return int(c.store.count.Load()) }
