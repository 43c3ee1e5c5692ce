package plan

import (
	"github.com/SababAosaf/tlxr/domain/scheduler"
	"github.com/SababAosaf/tlxr/domain/trace"
	"github.com/SababAosaf/tlxr/domain/vm"
)

// collector is the per-cycle behaviour a concrete plan adds to the shared
// packet schedule.
type collector interface {
	// prepare runs in the Prepare stage, before any root is scanned.
	prepare(c *scheduler.Cycle)
	// release runs in the Release stage, after every closure stage.
	release(c *scheduler.Cycle)
	// endOfGC runs in the Final stage.
	endOfGC(c *scheduler.Cycle)
}

// schedule pushes the packets of a tracing cycle: plan and mutator
// preparation, root scanning, release and the end of the cycle. The
// closure grows out of the root packets.
func (p *CommonPlan) schedule(c *scheduler.Cycle, s *scheduler.Scheduler, col collector) {
	muts := p.Mutators()

	s.Push(scheduler.Prepare, scheduler.Func("PreparePlan", func(*scheduler.Worker) {
		col.prepare(c)
	}))
	for _, m := range muts {
		s.Push(scheduler.Prepare, scheduler.Func("PrepareMutator", func(*scheduler.Worker) {
			m.Prepare()
		}))
	}

	for _, tls := range c.Mutators {
		s.Push(scheduler.Roots, p.scanMutatorRoots(tls))
	}
	s.Push(scheduler.Roots, scheduler.Func("ScanVMSpecificRoots", func(w *scheduler.Worker) {
		sink := p.rootSink(w)
		p.binding.Scanning.ScanVMSpecificRoots(sink.Visit)
		sink.Flush()
	}))

	s.Push(scheduler.Release, scheduler.Func("ReleasePlan", func(w *scheduler.Worker) {
		col.release(c)
		for _, m := range muts {
			w.Spawn(scheduler.Func("ReleaseMutator", func(*scheduler.Worker) {
				m.Release()
			}))
		}
	}))

	s.Push(scheduler.Final, scheduler.Func("EndOfGC", func(*scheduler.Worker) {
		if p.opts.Sanity {
			p.sanityCheck(c)
		}
		col.endOfGC(c)
		p.endOfGC(c)
	}))
}

func (p *CommonPlan) scanMutatorRoots(tls vm.Thread) scheduler.Packet {
	return scheduler.Func("ScanMutatorRoots", func(w *scheduler.Worker) {
		sink := p.rootSink(w)
		p.binding.Scanning.ScanMutatorRoots(tls, sink.Visit)
		sink.Flush()
	})
}

// rootSink batches root edges into Closure packets.
func (p *CommonPlan) rootSink(w *scheduler.Worker) *trace.EdgeSink {
	return trace.NewEdgeSink(p.trace, true, func(pk scheduler.Packet) {
		w.Push(scheduler.Closure, pk)
	})
}
