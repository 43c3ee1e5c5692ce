package sequence

import (
	"sync"
	"testing"
)

func TestSequencerMonotonic(t *testing.T) {
	s := New(0)
	if s.Next() != 1 || s.Next() != 2 || s.Current() != 2 {
		t.Fatal("sequencer must count up from start")
	}

	s.AdvanceTo(10)
	if s.Next() != 11 {
		t.Fatal("advance must move the sequencer forward")
	}
	s.AdvanceTo(3)
	if s.Current() != 11 {
		t.Fatal("advance must never move backwards")
	}
}

func TestSequencerConcurrentUnique(t *testing.T) {
	s := New(0)
	const n = 1000
	seen := make([]uint64, 0, 4*n)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < n; i++ {
				v := s.Next()
				mu.Lock()
				seen = append(seen, v)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	unique := make(map[uint64]bool, len(seen))
	for _, v := range seen {
		if unique[v] {
			t.Fatalf("duplicate id %d", v)
		}
		unique[v] = true
	}
}
