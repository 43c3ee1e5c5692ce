package plan

import (
	"log"

	"github.com/SababAosaf/tlxr/domain/scheduler"
	"github.com/SababAosaf/tlxr/domain/space"
	"github.com/SababAosaf/tlxr/domain/vm"
	"github.com/SababAosaf/tlxr/infra/gcerr"
	"github.com/SababAosaf/tlxr/infra/memory"
)

// sanityCheck re-traces the heap from the roots on a single worker and
// verifies that every reached object survived where the reference says.
// It runs in the Final stage, when no other packet touches the heap.
func (p *CommonPlan) sanityCheck(c *scheduler.Cycle) {
	mark := p.Planes.SanityMark
	scan := p.binding.Scanning
	spaces := p.self.Spaces()

	var stack, seen []memory.ObjectReference
	visit := func(e vm.Edge) {
		obj := e.Load()
		if obj.IsNull() {
			return
		}
		p.checkReached(c, spaces, obj)
		if mark.CompareAndSwap(obj.ToAddress(), 0, 1) {
			seen = append(seen, obj)
			stack = append(stack, obj)
		}
	}
	for _, tls := range c.Mutators {
		scan.ScanMutatorRoots(tls, visit)
	}
	scan.ScanVMSpecificRoots(visit)
	for len(stack) > 0 {
		obj := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		scan.ScanObject(obj, visit)
	}

	for _, obj := range seen {
		mark.Store(obj.ToAddress(), 0)
	}
	if p.opts.Verbose {
		log.Printf("[plan] %s sanity: %d objects reachable", c, len(seen))
	}
}

func (p *CommonPlan) checkReached(c *scheduler.Cycle, spaces []space.Space, obj memory.ObjectReference) {
	s := spaceOf(spaces, obj.ToAddress())
	if s == nil {
		gcerr.Fatal(gcerr.Corruption("%s: reachable %s lies outside every space", c, obj))
	}
	if cs, ok := s.(*space.CopySpace); ok && cs.IsFromSpace() {
		gcerr.Fatal(gcerr.Corruption("%s: reachable %s left behind in from-space %s", c, obj, s.Name()))
	}
	if !s.IsReachable(obj) {
		gcerr.Fatal(gcerr.Corruption("%s: reachable %s was reclaimed by %s", c, obj, s.Name()))
	}
}
