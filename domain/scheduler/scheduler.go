package scheduler

import (
	"sync"
	"sync/atomic"

	"github.com/SababAosaf/tlxr/infra/gcerr"
)

// Config sizes a Scheduler.
type Config struct {
	// Threads is the number of workers.
	Threads int
	// BucketCapacity is the lock-free part of each bucket; pushes beyond it
	// spill into a locked overflow list.
	BucketCapacity uint64
	Observer       Observer
	// NewWorkerLocal builds the plan's state for worker id; may be nil.
	NewWorkerLocal func(id int) WorkerLocal
}

const defaultBucketCapacity = 1024

// Scheduler owns the buckets and the worker pool. Only the current
// stage's bucket is consumable; pushing into an earlier stage is a
// protocol violation.
type Scheduler struct {
	buckets  [NumStages]*bucket
	current  atomic.Int32
	cycle    atomic.Pointer[Cycle]
	workers  []*Worker
	observer Observer

	mu      sync.Mutex
	cond    *sync.Cond
	parked  atomic.Int32
	closing atomic.Bool
	started bool
	wg      sync.WaitGroup

	// fatal handles a panicking packet; it must not return normally.
	fatal func(v any)
}

func New(cfg Config) *Scheduler {
	if cfg.Threads <= 0 {
		cfg.Threads = 1
	}
	if cfg.BucketCapacity == 0 {
		cfg.BucketCapacity = defaultBucketCapacity
	}
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}
	s := &Scheduler{
		observer: cfg.Observer,
		fatal:    func(v any) { panic(v) },
	}
	s.cond = sync.NewCond(&s.mu)
	s.current.Store(idleStage)
	for i := range s.buckets {
		s.buckets[i] = newBucket(Stage(i), cfg.BucketCapacity)
	}
	for id := 0; id < cfg.Threads; id++ {
		w := &Worker{ID: id, sched: s}
		if cfg.NewWorkerLocal != nil {
			w.local = cfg.NewWorkerLocal(id)
		}
		s.workers = append(s.workers, w)
	}
	return s
}

// Start spawns the workers. They park until a stage opens.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	for _, w := range s.workers {
		s.wg.Add(1)
		go w.run()
	}
}

// Stop terminates the workers. Must not be called during a cycle.
func (s *Scheduler) Stop() {
	if s.cycle.Load() != nil {
		gcerr.Fatalf("scheduler stopped during %s", s.cycle.Load())
	}
	s.closing.Store(true)
	s.mu.Lock()
	s.cond.Broadcast()
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) Threads() int { return len(s.workers) }

func (s *Scheduler) Workers() []*Worker { return s.workers }

// CurrentStage returns the open stage and whether a cycle is running.
func (s *Scheduler) CurrentStage() (Stage, bool) {
	cur := s.current.Load()
	return Stage(cur), cur != idleStage
}

// Push adds p to stage st.
func (s *Scheduler) Push(st Stage, p Packet) {
	if int(st) < 0 || int(st) >= NumStages {
		gcerr.Fatalf("push %s into unknown stage %d", PacketName(p), st)
	}
	if cur := s.current.Load(); cur != idleStage && int32(st) < cur {
		gcerr.Fatalf("push %s into %s after it closed (current %s)", PacketName(p), st, Stage(cur))
	}
	s.buckets[st].push(p)
	if s.current.Load() == int32(st) {
		s.notifyOne()
	}
}

// PushAll adds every packet of ps to stage st.
func (s *Scheduler) PushAll(st Stage, ps []Packet) {
	for _, p := range ps {
		s.Push(st, p)
	}
}

// Run executes c to completion: it opens the first non-empty stage and
// blocks until the final stage drains. The initial packets must have been
// pushed before, and mutators must be stopped.
func (s *Scheduler) Run(c *Cycle) {
	if !s.cycle.CompareAndSwap(nil, c) {
		gcerr.Fatalf("%s started while %s is running", c, s.cycle.Load())
	}
	for _, w := range s.workers {
		if w.local != nil {
			w.local.BeginCycle(c)
		}
	}
	s.observer.CycleBegin(c)
	s.openFrom(c, Prepare)
	<-c.done

	for _, w := range s.workers {
		if w.local != nil {
			w.local.EndCycle(c)
		}
	}
	s.cycle.Store(nil)
}

// stageDrained runs on the worker that closed st's bucket.
func (s *Scheduler) stageDrained(c *Cycle, st Stage) {
	s.observer.StageClosed(c, st)
	s.openFrom(c, st+1)
}

// openFrom opens the first stage from st on that holds work. Stages with
// nothing queued open and close immediately. When no stage remains the
// cycle is over.
func (s *Scheduler) openFrom(c *Cycle, st Stage) {
	for ; int(st) < NumStages; st++ {
		c.stage.Store(int32(st))
		s.current.Store(int32(st))
		s.observer.StageOpened(c, st)
		if s.buckets[st].open() {
			s.notifyAll()
			return
		}
		s.observer.StageClosed(c, st)
	}
	c.stage.Store(idleStage)
	s.current.Store(idleStage)
	close(c.done)
}

// next blocks until a packet of the current stage is available.
func (s *Scheduler) next() (*bucket, Packet, bool) {
	for {
		if s.closing.Load() {
			return nil, nil, false
		}
		if cur := s.current.Load(); cur != idleStage {
			b := s.buckets[cur]
			if b.reserve() {
				return b, b.take(), true
			}
		}
		s.park()
	}
}

func (s *Scheduler) hasWork() bool {
	cur := s.current.Load()
	return cur != idleStage && s.buckets[cur].hasWork()
}

// park waits for work. parked is raised before hasWork is checked, so a
// pusher that reads parked == 0 pushed early enough for the check to see
// its packet.
func (s *Scheduler) park() {
	s.mu.Lock()
	s.parked.Add(1)
	for !s.closing.Load() && !s.hasWork() {
		s.cond.Wait()
	}
	s.parked.Add(-1)
	s.mu.Unlock()
}

func (s *Scheduler) notifyOne() {
	if s.parked.Load() == 0 {
		return
	}
	s.mu.Lock()
	s.cond.Signal()
	s.mu.Unlock()
}

func (s *Scheduler) notifyAll() {
	if s.parked.Load() == 0 {
		return
	}
	s.mu.Lock()
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Pending returns the queued and executing packets of stage st.
func (s *Scheduler) Pending(st Stage) (queued, executing uint64) {
	return s.buckets[st].counts()
}
