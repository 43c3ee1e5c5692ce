// Package plan holds the whole-heap collection policies. A plan composes
// spaces, decides what a collection means and which barrier mutators
// need, and schedules the packets of every cycle.
package plan

import (
	"github.com/SababAosaf/tlxr/domain/barrier"
	"github.com/SababAosaf/tlxr/domain/scheduler"
	"github.com/SababAosaf/tlxr/domain/space"
	"github.com/SababAosaf/tlxr/domain/trace"
	"github.com/SababAosaf/tlxr/domain/vm"
	"github.com/SababAosaf/tlxr/infra/memory"
	"github.com/cockroachdb/errors"
)

// Kind selects a plan at startup.
type Kind string

const (
	KindNoGC      Kind = "nogc"
	KindSemiSpace Kind = "semispace"
	KindGenCopy   Kind = "gencopy"
	KindMarkSweep Kind = "marksweep"
)

// Kinds lists the selectable plans.
func Kinds() []Kind {
	return []Kind{KindNoGC, KindSemiSpace, KindGenCopy, KindMarkSweep}
}

// Options configure a plan.
type Options struct {
	Kind Kind

	// HeapPages bounds the pages all spaces may commit together,
	// including the copy reserve.
	HeapPages int

	// NurseryPages bounds the GenCopy nursery.
	NurseryPages int

	// StressFactor forces a collection every StressFactor pages of
	// allocation; 0 disables it.
	StressFactor int

	// FullHeapSystemGC makes user requested GenCopy collections full heap.
	FullHeapSystemGC bool

	// FullHeapSurvivalThreshold is the nursery survival rate above which
	// the next GenCopy collection is full heap.
	FullHeapSurvivalThreshold float64

	// Sanity re-traces the heap at the end of every cycle and verifies
	// the result.
	Sanity bool

	Verbose bool
}

const (
	DefaultHeapPages                 = 16 << 8 // 16 MiB
	DefaultNurseryPages              = 1 << 8  // 1 MiB
	DefaultFullHeapSurvivalThreshold = 0.5
)

func (o *Options) withDefaults() {
	if o.Kind == "" {
		o.Kind = KindGenCopy
	}
	if o.HeapPages == 0 {
		o.HeapPages = DefaultHeapPages
	}
	if o.NurseryPages == 0 {
		o.NurseryPages = DefaultNurseryPages
	}
	if o.FullHeapSurvivalThreshold == 0 {
		o.FullHeapSurvivalThreshold = DefaultFullHeapSurvivalThreshold
	}
}

// Constraints are the static properties mutators and the service rely on.
type Constraints struct {
	// Collects is false for plans that never reclaim memory.
	Collects bool
	// Moves reports whether objects may change address.
	Moves   bool
	Barrier barrier.Kind
	// MaxNonLOSBytes is the largest object allocated outside the
	// large-object space.
	MaxNonLOSBytes uint64
	// NeedsLogBit requires the unlogged bit on objects outside the nursery.
	NeedsLogBit bool
}

// Plan is the capability set shared by every policy.
type Plan interface {
	scheduler.Planner
	trace.Tracer
	space.Budget

	Name() string
	Constraints() Constraints
	Base() *CommonPlan

	// IsLive answers during a cycle, after tracing.
	IsLive(obj memory.ObjectReference) bool
	// IsReachable answers between cycles: did obj survive the last one.
	IsReachable(obj memory.ObjectReference) bool
	// Forwarded returns obj's current location.
	Forwarded(obj memory.ObjectReference) memory.ObjectReference

	NewMutator(tls vm.Thread) *Mutator
	NewWorkerLocal(id int) scheduler.WorkerLocal
	Spaces() []space.Space
}

// New builds the plan opts select over binding's memory.
func New(opts Options, binding vm.Binding) (Plan, error) {
	opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	switch opts.Kind {
	case KindNoGC:
		return newNoGC(opts, binding)
	case KindSemiSpace:
		return newSemiSpace(opts, binding)
	case KindGenCopy:
		return newGenCopy(opts, binding)
	case KindMarkSweep:
		return newMarkSweep(opts, binding)
	}
	return nil, errors.Newf("unknown plan %q", opts.Kind)
}

// Validate checks opts after defaults were applied.
func (o Options) Validate() error {
	if o.HeapPages < space.PagesInBlock {
		return errors.Newf("heap of %d pages is too small", o.HeapPages)
	}
	// every space gets an extent as large as the heap
	if uint64(o.HeapPages)*memory.BytesInPage*maxSpaces > memory.HeapEnd.Sub(memory.HeapStart) {
		return errors.Newf("heap of %d pages exceeds the address space", o.HeapPages)
	}
	if o.Kind == KindGenCopy && o.NurseryPages > o.HeapPages/2 {
		return errors.Newf("nursery of %d pages exceeds half the heap", o.NurseryPages)
	}
	if o.StressFactor < 0 {
		return errors.Newf("negative stress factor %d", o.StressFactor)
	}
	if o.FullHeapSurvivalThreshold < 0 || o.FullHeapSurvivalThreshold > 1 {
		return errors.Newf("survival threshold %.2f outside [0, 1]", o.FullHeapSurvivalThreshold)
	}
	return nil
}
