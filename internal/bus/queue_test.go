package bus

import (
	"sync"
	"testing"
)

func TestQueuePushPop(t *testing.T) {
	q := NewQueue[int](8)
	for i := 0; i < 8; i++ {
		if !q.Push(i) {
			t.Fatalf("push %d failed on non-full queue", i)
		}
	}
	if q.Push(99) {
		t.Fatal("push succeeded on full queue")
	}
	for i := 0; i < 8; i++ {
		var v int
		if !q.Pop(&v) {
			t.Fatalf("pop %d failed on non-empty queue", i)
		}
		if v != i {
			t.Fatalf("expected %d, got %d", i, v)
		}
	}
	var v int
	if q.Pop(&v) {
		t.Fatal("pop succeeded on empty queue")
	}
}

func TestQueueWrapAround(t *testing.T) {
	q := NewQueue[int](4)
	var v int
	for round := 0; round < 100; round++ {
		for i := 0; i < 3; i++ {
			if !q.Push(round*10 + i) {
				t.Fatalf("round %d: push failed", round)
			}
		}
		for i := 0; i < 3; i++ {
			if !q.Pop(&v) {
				t.Fatalf("round %d: pop failed", round)
			}
			if v != round*10+i {
				t.Fatalf("round %d: expected %d, got %d", round, round*10+i, v)
			}
		}
	}
}

func TestQueueInvalidCapacity(t *testing.T) {
	for _, capacity := range []uint64{0, 1, 3, 100} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("capacity %d: expected panic", capacity)
				}
			}()
			NewQueue[int](capacity)
		}()
	}
}

func TestQueueConcurrent(t *testing.T) {
	const (
		producers = 4
		consumers = 4
		perProd   = 10000
	)
	q := NewQueue[int](256)

	var wg sync.WaitGroup
	results := make(chan int, producers*perProd)

	for c := 0; c < consumers; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var v int
			for {
				if q.Pop(&v) {
					if v < 0 {
						return
					}
					results <- v
				}
			}
		}()
	}

	var prodWG sync.WaitGroup
	for p := 0; p < producers; p++ {
		prodWG.Add(1)
		go func(p int) {
			defer prodWG.Done()
			for i := 0; i < perProd; i++ {
				q.pushWait(p*perProd + i)
			}
		}(p)
	}
	prodWG.Wait()
	for c := 0; c < consumers; c++ {
		q.pushWait(-1)
	}
	wg.Wait()
	close(results)

	seen := make(map[int]bool, producers*perProd)
	for v := range results {
		if seen[v] {
			t.Fatalf("value %d delivered twice", v)
		}
		seen[v] = true
	}
	if len(seen) != producers*perProd {
		t.Fatalf("expected %d values, got %d", producers*perProd, len(seen))
	}
}
