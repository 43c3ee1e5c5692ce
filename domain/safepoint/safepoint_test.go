package safepoint

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/SababAosaf/tlxr/domain/vm"
)

func TestStopWaitsForEveryMutator(t *testing.T) {
	c := New()
	const n = 4
	var (
		quit    atomic.Bool
		polls   atomic.Int64
		started sync.WaitGroup
		done    sync.WaitGroup
	)
	for i := 1; i <= n; i++ {
		c.Register(vm.Thread(i))
	}
	for i := 1; i <= n; i++ {
		started.Add(1)
		done.Add(1)
		go func(tls vm.Thread) {
			defer done.Done()
			started.Done()
			for !quit.Load() {
				c.Poll(tls)
				polls.Add(1)
			}
			c.Unregister(tls)
		}(vm.Thread(i))
	}
	started.Wait()

	var visited []vm.Thread
	c.StopAllMutators(func(tls vm.Thread) { visited = append(visited, tls) })
	if !c.WorldStopped() {
		t.Fatal("world must be stopped after StopAllMutators returns")
	}
	if len(visited) != n {
		t.Fatalf("visited %d mutators, want %d", len(visited), n)
	}

	// nobody makes progress while stopped
	before := polls.Load()
	time.Sleep(20 * time.Millisecond)
	if after := polls.Load(); after > before+n {
		t.Fatalf("mutators kept running while stopped: %d -> %d", before, after)
	}

	c.ResumeMutators()
	quit.Store(true)
	done.Wait()
	if c.Mutators() != 0 {
		t.Fatalf("expected all mutators unregistered, got %d", c.Mutators())
	}
}

func TestBlockedMutatorCountsAsStopped(t *testing.T) {
	c := New()
	c.Register(1)
	c.EnterBlocked(1)

	stopped := make(chan struct{})
	go func() {
		c.StopAllMutators(func(vm.Thread) {})
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("a parked mutator must not hold up the stop")
	}

	left := make(chan struct{})
	go func() {
		c.LeaveBlocked(1)
		close(left)
	}()
	select {
	case <-left:
		t.Fatal("LeaveBlocked returned while the world is stopped")
	case <-time.After(20 * time.Millisecond):
	}
	c.ResumeMutators()
	<-left
}

func TestUnregisterReleasesPendingStop(t *testing.T) {
	c := New()
	c.Register(7)

	stopped := make(chan struct{})
	go func() {
		c.StopAllMutators(func(vm.Thread) {})
		close(stopped)
	}()
	for !c.StopPending() {
		time.Sleep(time.Millisecond)
	}
	c.Unregister(7)
	<-stopped
	c.ResumeMutators()
}

func TestResumeWithoutStopIsFatal(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	New().ResumeMutators()
}
