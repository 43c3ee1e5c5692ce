// Package refproc resolves soft, weak and phantom references and
// finalizable objects after the strong closure. Each kind has its own
// stage, so an earlier kind's retention is visible to later kinds:
// soft, weak, finalization, then phantom.
package refproc

import (
	"sync/atomic"

	"github.com/SababAosaf/tlxr/domain/scheduler"
	"github.com/SababAosaf/tlxr/domain/trace"
	"github.com/SababAosaf/tlxr/domain/vm"
	"github.com/SababAosaf/tlxr/infra/memory"
)

// Liveness is what the processor asks the plan during a cycle.
type Liveness interface {
	IsLive(obj memory.ObjectReference) bool
	// Forwarded returns obj's current location, obj itself if unmoved.
	Forwarded(obj memory.ObjectReference) memory.ObjectReference
}

type Config struct {
	NoReferenceTypes bool
	NoFinalizer      bool
	// ReadyCapacity sizes the ready-for-finalization ring; a power of two.
	ReadyCapacity uint64
}

// Stats counts processing results since the processor was created.
type Stats struct {
	SoftCleared    int64
	WeakCleared    int64
	PhantomCleared int64
	Finalized      int64
	Pending        int
	Ready          int
}

type Processor struct {
	cfg   Config
	glue  vm.ReferenceGlue
	live  Liveness
	trace *trace.Context

	soft, weak, phantom *table
	finalizable         *table
	ready               *readyQueue

	softCleared, weakCleared, phantomCleared, finalized atomic.Int64
}

func New(cfg Config, glue vm.ReferenceGlue, live Liveness, tctx *trace.Context) *Processor {
	if cfg.ReadyCapacity == 0 {
		cfg.ReadyCapacity = 1024
	}
	return &Processor{
		cfg:         cfg,
		glue:        glue,
		live:        live,
		trace:       tctx,
		soft:        newTable(),
		weak:        newTable(),
		phantom:     newTable(),
		finalizable: newTable(),
		ready:       newReadyQueue(cfg.ReadyCapacity),
	}
}

func (p *Processor) AddSoftCandidate(ref memory.ObjectReference)    { p.soft.add(ref) }
func (p *Processor) AddWeakCandidate(ref memory.ObjectReference)    { p.weak.add(ref) }
func (p *Processor) AddPhantomCandidate(ref memory.ObjectReference) { p.phantom.add(ref) }

// AddFinalizer registers obj to be finalized once it becomes unreachable.
func (p *Processor) AddFinalizer(obj memory.ObjectReference) { p.finalizable.add(obj) }

// GetFinalizedObject returns an object whose finalizer is due. Once
// returned it is no longer retained by the collector.
func (p *Processor) GetFinalizedObject() (memory.ObjectReference, bool) {
	return p.ready.pop()
}

func (p *Processor) Stats() Stats {
	return Stats{
		SoftCleared:    p.softCleared.Load(),
		WeakCleared:    p.weakCleared.Load(),
		PhantomCleared: p.phantomCleared.Load(),
		Finalized:      p.finalized.Load(),
		Pending:        p.finalizable.len(),
		Ready:          p.ready.len(),
	}
}

// ScheduleRoots retains ready-but-unconsumed objects as roots.
func (p *Processor) ScheduleRoots(s *scheduler.Scheduler) {
	if p.cfg.NoFinalizer {
		return
	}
	s.Push(scheduler.Roots, scheduler.Func("RetainReady", func(w *scheduler.Worker) {
		p.ready.retain(func(objs []memory.ObjectReference) []memory.ObjectReference {
			return trace.Resurrect(w, p.trace, objs)
		})
	}))
}

// Schedule pushes the reference stages' packets for cycle c.
func (p *Processor) Schedule(c *scheduler.Cycle, s *scheduler.Scheduler) {
	if !p.cfg.NoReferenceTypes {
		for i := 0; i < numShards; i++ {
			if c.Request.Emergency {
				s.Push(scheduler.SoftRefClosure, scheduler.Func("ClearSoft", func(w *scheduler.Worker) {
					p.clear(w, p.soft, i, &p.softCleared)
				}))
			} else {
				s.Push(scheduler.SoftRefClosure, scheduler.Func("RetainSoft", func(w *scheduler.Worker) {
					p.retainSoft(w, i)
				}))
			}
			s.Push(scheduler.WeakRefClosure, scheduler.Func("ClearWeak", func(w *scheduler.Worker) {
				p.clear(w, p.weak, i, &p.weakCleared)
			}))
			s.Push(scheduler.PhantomRefClosure, scheduler.Func("ClearPhantom", func(w *scheduler.Worker) {
				p.clear(w, p.phantom, i, &p.phantomCleared)
			}))
		}
	}
	if !p.cfg.NoFinalizer {
		s.Push(scheduler.FinalRefClosure, scheduler.Func("Finalization", p.finalize))
	}
}

// clear drops dead references, forwards live referents and clears the
// rest, handing cleared references to the host.
func (p *Processor) clear(_ *scheduler.Worker, t *table, i int, counter *atomic.Int64) {
	var cleared []memory.ObjectReference
	for _, ref := range t.take(i) {
		if !p.live.IsLive(ref) {
			continue
		}
		ref = p.live.Forwarded(ref)
		referent := p.glue.GetReferent(ref)
		if referent.IsNull() {
			continue
		}
		if p.live.IsLive(referent) {
			p.glue.SetReferent(ref, p.live.Forwarded(referent))
			t.add(ref)
			continue
		}
		p.glue.SetReferent(ref, memory.Null)
		cleared = append(cleared, ref)
	}
	if len(cleared) > 0 {
		counter.Add(int64(len(cleared)))
		p.glue.EnqueueReferences(cleared)
	}
}

// retainSoft keeps the referents of live soft references alive.
func (p *Processor) retainSoft(w *scheduler.Worker, i int) {
	var refs, referents []memory.ObjectReference
	for _, ref := range p.soft.take(i) {
		if !p.live.IsLive(ref) {
			continue
		}
		ref = p.live.Forwarded(ref)
		referent := p.glue.GetReferent(ref)
		if referent.IsNull() {
			continue
		}
		refs = append(refs, ref)
		referents = append(referents, referent)
	}
	for j, to := range trace.Resurrect(w, p.trace, referents) {
		p.glue.SetReferent(refs[j], to)
		p.soft.add(refs[j])
	}
}

// finalize keeps live candidates registered and resurrects dead ones
// onto the ready queue.
func (p *Processor) finalize(w *scheduler.Worker) {
	var keep, dead []memory.ObjectReference
	for i := 0; i < numShards; i++ {
		for _, obj := range p.finalizable.take(i) {
			if p.live.IsLive(obj) {
				keep = append(keep, p.live.Forwarded(obj))
				continue
			}
			dead = append(dead, obj)
		}
	}
	for _, obj := range keep {
		p.finalizable.add(obj)
	}
	if len(dead) == 0 {
		return
	}
	for _, obj := range trace.Resurrect(w, p.trace, dead) {
		p.ready.push(obj)
	}
	p.finalized.Add(int64(len(dead)))
}
