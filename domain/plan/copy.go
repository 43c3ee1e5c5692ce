package plan

import (
	"github.com/SababAosaf/tlxr/domain/alloc"
	"github.com/SababAosaf/tlxr/domain/scheduler"
	"github.com/SababAosaf/tlxr/domain/space"
	"github.com/SababAosaf/tlxr/domain/vm"
	"github.com/SababAosaf/tlxr/infra/gcerr"
	"github.com/SababAosaf/tlxr/infra/memory"
)

// CopyContext is a collector worker's copy allocator. It binds to the
// plan's current to-space on the first copy of each cycle, after the
// Prepare stage has chosen it.
type CopyContext struct {
	worker int
	model  vm.ObjectModel
	target func() *space.CopySpace
	// postCopy initialises side metadata of a fresh copy; may be nil.
	postCopy func(obj memory.ObjectReference)

	alloc  *alloc.BumpAllocator
	bound  bool
	copies int
	bytes  uint64
}

func newCopyContext(id int, model vm.ObjectModel, target func() *space.CopySpace, postCopy func(memory.ObjectReference)) *CopyContext {
	return &CopyContext{worker: id, model: model, target: target, postCopy: postCopy}
}

func (c *CopyContext) BeginCycle(*scheduler.Cycle) {
	c.bound = false
	c.copies, c.bytes = 0, 0
}

func (c *CopyContext) EndCycle(*scheduler.Cycle) {
	if c.alloc != nil {
		c.alloc.Reset()
	}
}

// Copy implements space.Copier. Running out of copy reserve mid-cycle
// cannot be recovered from.
func (c *CopyContext) Copy(obj memory.ObjectReference) memory.ObjectReference {
	if !c.bound {
		to := c.target()
		if c.alloc == nil {
			c.alloc = alloc.NewCopyAllocator(to)
		} else {
			c.alloc.RebindCopy(to)
		}
		c.bound = true
	}
	to := c.model.CopyObject(obj, func(bytes uint64) memory.Address {
		a, err := c.alloc.Alloc(bytes, memory.BytesInWord)
		if err != nil {
			gcerr.Fatal(gcerr.OutOfMemory(err, "worker %d: copy reserve exhausted copying %s", c.worker, obj))
		}
		c.bytes += bytes
		return a
	})
	c.copies++
	if c.postCopy != nil {
		c.postCopy(to)
	}
	return to
}

// Copies returns the objects copied in the current cycle.
func (c *CopyContext) Copies() (int, uint64) { return c.copies, c.bytes }

// copierOf returns w's copy context, or nil for plans that never move.
func copierOf(w *scheduler.Worker) space.Copier {
	if w == nil {
		return nil
	}
	if c, ok := w.Local().(*CopyContext); ok {
		return c
	}
	return nil
}
