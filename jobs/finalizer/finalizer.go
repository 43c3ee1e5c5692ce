// Package finalizer runs host finalizers for objects the collector found
// unreachable. The job is a mutator of its own: it only touches objects
// between safe points, so a collection never moves one under it.
package finalizer

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/SababAosaf/tlxr/domain/plan"
	"github.com/SababAosaf/tlxr/domain/vm"
	"github.com/SababAosaf/tlxr/infra/memory"
)

// Heap is what the job needs from service.Heap.
type Heap interface {
	BindMutator(tls vm.Thread) *plan.Mutator
	DestroyMutator(m *plan.Mutator)
	Poll(m *plan.Mutator)
	EnterBlocked(m *plan.Mutator)
	LeaveBlocked(m *plan.Mutator)
	GetFinalizedObject() (memory.ObjectReference, bool)
}

// Func finalizes one object. It must not retain obj after returning.
type Func func(obj memory.ObjectReference)

type Job struct {
	heap     Heap
	tls      vm.Thread
	fn       Func
	interval time.Duration

	finalized atomic.Int64
	done      chan struct{}
}

func New(h Heap, tls vm.Thread, fn Func, interval time.Duration) *Job {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Job{heap: h, tls: tls, fn: fn, interval: interval, done: make(chan struct{})}
}

// Start binds the job's thread and drains the queue every interval until
// ctx is cancelled.
func (j *Job) Start(ctx context.Context) {
	m := j.heap.BindMutator(j.tls)
	log.Printf("[finalizer] started on thread %d", j.tls)

	go func() {
		defer close(j.done)
		defer j.heap.DestroyMutator(m)

		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		j.heap.EnterBlocked(m)
		for {
			select {
			case <-ctx.Done():
				j.heap.LeaveBlocked(m)
				j.drain(m)
				return

			case <-ticker.C:
				j.heap.LeaveBlocked(m)
				j.drain(m)
				j.heap.EnterBlocked(m)
			}
		}
	}()
}

// drain finalizes everything queued, polling between objects.
func (j *Job) drain(m *plan.Mutator) int {
	n := 0
	for {
		j.heap.Poll(m)
		obj, ok := j.heap.GetFinalizedObject()
		if !ok {
			return n
		}
		j.fn(obj)
		n++
		j.finalized.Add(1)
	}
}

// Finalized returns how many finalizers have run.
func (j *Job) Finalized() int64 { return j.finalized.Load() }

// Done is closed when the job has exited and unbound its thread.
func (j *Job) Done() <-chan struct{} { return j.done }
