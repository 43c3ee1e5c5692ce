package simvm

import (
	"sync"

	"github.com/SababAosaf/tlxr/domain/safepoint"
	"github.com/SababAosaf/tlxr/domain/vm"
	"github.com/SababAosaf/tlxr/infra/memory"
)

// VM is the simulated host. Threads register a root stack each; global
// roots are scanned once per cycle.
type VM struct {
	Objects
	*safepoint.Controller

	Globals *RootSet

	mu      sync.Mutex
	stacks  map[vm.Thread]*RootSet
	cleared []memory.ObjectReference
	oom     []error
}

func New(mem *memory.AddressSpace) *VM {
	return &VM{
		Objects:    Objects{mem: mem},
		Controller: safepoint.New(),
		Globals:    NewRootSet(),
		stacks:     make(map[vm.Thread]*RootSet),
	}
}

// Binding returns the contracts the collector consumes.
func (v *VM) Binding() vm.Binding {
	return vm.Binding{
		Memory:      v.mem,
		ObjectModel: v.Objects,
		Scanning:    v,
		Collection:  v.Controller,
		References:  v,
		OutOfMemory: v.outOfMemory,
	}
}

// Stack returns tls's root stack, creating it on first use.
func (v *VM) Stack(tls vm.Thread) *RootSet {
	v.mu.Lock()
	defer v.mu.Unlock()
	s, ok := v.stacks[tls]
	if !ok {
		s = NewRootSet()
		v.stacks[tls] = s
	}
	return s
}

// DropStack forgets tls's roots, e.g. when the thread exits.
func (v *VM) DropStack(tls vm.Thread) {
	v.mu.Lock()
	delete(v.stacks, tls)
	v.mu.Unlock()
}

func (v *VM) ScanMutatorRoots(tls vm.Thread, visit vm.Visitor) {
	v.Stack(tls).Visit(visit)
}

func (v *VM) ScanVMSpecificRoots(visit vm.Visitor) {
	v.Globals.Visit(visit)
}

// EnqueueReferences records references cleared by the collector.
func (v *VM) EnqueueReferences(refs []memory.ObjectReference) {
	v.mu.Lock()
	v.cleared = append(v.cleared, refs...)
	v.mu.Unlock()
}

// Cleared drains the references enqueued so far.
func (v *VM) Cleared() []memory.ObjectReference {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := v.cleared
	v.cleared = nil
	return out
}

func (v *VM) outOfMemory(_ vm.Thread, err error) {
	v.mu.Lock()
	v.oom = append(v.oom, err)
	v.mu.Unlock()
}

// OutOfMemoryReports returns the allocation failures reported so far.
func (v *VM) OutOfMemoryReports() []error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]error(nil), v.oom...)
}

var (
	_ vm.ObjectModel   = Objects{}
	_ vm.Scanning      = (*VM)(nil)
	_ vm.ReferenceGlue = (*VM)(nil)
)
