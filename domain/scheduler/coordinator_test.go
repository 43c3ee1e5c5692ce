package scheduler

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/SababAosaf/tlxr/domain/vm"
)

type fakeCollection struct {
	stops, resumes atomic.Int64
	threads        []vm.Thread
}

func (f *fakeCollection) StopAllMutators(visit func(vm.Thread)) {
	f.stops.Add(1)
	for _, t := range f.threads {
		visit(t)
	}
}

func (f *fakeCollection) ResumeMutators() { f.resumes.Add(1) }

type fakePlanner struct {
	scheduled atomic.Int64
	finished  atomic.Int64
	mutators  atomic.Int64
	ran       atomic.Int64
}

func (p *fakePlanner) ScheduleCollection(c *Cycle, s *Scheduler) {
	p.scheduled.Add(1)
	p.mutators.Store(int64(len(c.Mutators)))
	c.Kind = Nursery
	s.Push(Closure, Func("noop", func(w *Worker) {
		if w.Cycle() != c {
			panic("packet saw another cycle")
		}
		p.ran.Add(1)
	}))
}

func (p *fakePlanner) CycleFinished(*Cycle) { p.finished.Add(1) }

func TestCoordinatorRunsRequestedCycles(t *testing.T) {
	coll := &fakeCollection{threads: []vm.Thread{1, 2, 3}}
	plan := &fakePlanner{}
	c := NewCoordinator(CoordinatorConfig{
		Scheduler:  New(Config{Threads: 2}),
		Collection: coll,
		Planner:    plan,
	})
	c.Start()
	defer c.Close()

	id := c.Collect(Request{UserTriggered: true})
	if id != 1 || c.Completed() != 1 {
		t.Fatalf("first cycle id=%d completed=%d", id, c.Completed())
	}
	if coll.stops.Load() != 1 || coll.resumes.Load() != 1 {
		t.Fatalf("stops=%d resumes=%d", coll.stops.Load(), coll.resumes.Load())
	}
	if plan.mutators.Load() != 3 {
		t.Fatalf("cycle saw %d mutators, want 3", plan.mutators.Load())
	}
	if plan.ran.Load() != 1 || plan.finished.Load() != 1 {
		t.Fatalf("ran=%d finished=%d", plan.ran.Load(), plan.finished.Load())
	}
	if c.State() != Idle {
		t.Fatalf("state after cycle = %s", c.State())
	}
}

// resumeObserver records whether mutators had resumed when a cycle ended.
type resumeObserver struct {
	NopObserver
	coll         *fakeCollection
	resumedAtEnd atomic.Int64
	pauses       atomic.Int64
}

func (o *resumeObserver) CycleEnd(_ *Cycle, pause time.Duration) {
	o.resumedAtEnd.Store(o.coll.resumes.Load())
	if pause > 0 {
		o.pauses.Add(1)
	}
}

func TestCycleEndRunsAfterMutatorsResume(t *testing.T) {
	coll := &fakeCollection{threads: []vm.Thread{1}}
	obs := &resumeObserver{coll: coll}
	c := NewCoordinator(CoordinatorConfig{
		Scheduler:  New(Config{Threads: 1, Observer: obs}),
		Collection: coll,
		Planner:    &fakePlanner{},
	})
	c.Start()
	defer c.Close()

	c.Collect(Request{})
	if obs.resumedAtEnd.Load() != 1 {
		t.Fatal("cycle end observed before mutators resumed")
	}
	if obs.pauses.Load() != 1 {
		t.Fatal("cycle end carries no pause")
	}
}

func TestCoordinatorCoalescesRequests(t *testing.T) {
	coll := &fakeCollection{}
	plan := &fakePlanner{}
	c := NewCoordinator(CoordinatorConfig{
		Scheduler:  New(Config{Threads: 2}),
		Collection: coll,
		Planner:    plan,
	})
	c.Start()
	defer c.Close()

	const n = 32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Collect(Request{})
		}()
	}
	wg.Wait()

	// every request is served, but by fewer cycles than requests unless
	// they happened to arrive one at a time
	if got := plan.scheduled.Load(); got < 1 || got > n {
		t.Fatalf("scheduled %d cycles for %d requests", got, n)
	}
	if coll.stops.Load() != plan.scheduled.Load() {
		t.Fatalf("stops=%d cycles=%d", coll.stops.Load(), plan.scheduled.Load())
	}
}

func TestRequestMerge(t *testing.T) {
	r := Request{Pages: 3}.merge(Request{UserTriggered: true, Pages: 1})
	r = r.merge(Request{Emergency: true})
	if !r.UserTriggered || !r.Emergency || r.Pages != 3 {
		t.Fatalf("merged request = %+v", r)
	}
}

func TestWaitAfterCloseReturns(t *testing.T) {
	c := NewCoordinator(CoordinatorConfig{
		Scheduler:  New(Config{Threads: 1}),
		Collection: &fakeCollection{},
		Planner:    &fakePlanner{},
	})
	c.Start()
	c.Close()
	if c.Wait(c.Request(Request{})) {
		t.Fatal("wait on a closed coordinator must report failure")
	}
}
