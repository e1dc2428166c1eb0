package bus

import (
	"runtime"
	"sync/atomic"
	"time"
)

// Queue is a bounded lock-free multi-producer multi-consumer ring buffer
// (Dmitry Vyukov's algorithm). Capacity must be a power of two. Push and Pop
// never block; both return false when the queue is full or empty.
type Queue[T any] struct {
	buffer []slot[T]
	mask   uint64
	_      [48]byte
	enq    atomic.Uint64
	_      [56]byte
	deq    atomic.Uint64
	_      [56]byte
}

type slot[T any] struct {
	seq  atomic.Uint64
	data T
}

// NewQueue allocates a queue with the given capacity, which must be a power
// of two greater than one.
func NewQueue[T any](capacity uint64) *Queue[T] {
	if capacity < 2 || capacity&(capacity-1) != 0 {
		panic("bus: queue capacity must be a power of two >= 2")
	}
	q := &Queue[T]{
		buffer: make([]slot[T], capacity),
		mask:   capacity - 1,
	}
	for i := range q.buffer {
		q.buffer[i].seq.Store(uint64(i))
	}
	return q
}

// Push attempts to enqueue v. Returns false if the queue is full.
func (q *Queue[T]) Push(v T) bool {
	pos := q.enq.Load()
	for {
		s := &q.buffer[pos&q.mask]
		seq := s.seq.Load()
		diff := int64(seq) - int64(pos)
		switch {
		case diff == 0:
			if q.enq.CompareAndSwap(pos, pos+1) {
				s.data = v
				s.seq.Store(pos + 1)
				return true
			}
			pos = q.enq.Load()
		case diff < 0:
			return false
		default:
			pos = q.enq.Load()
		}
	}
}

// Pop attempts to dequeue into out. Returns false if the queue is empty.
func (q *Queue[T]) Pop(out *T) bool {
	pos := q.deq.Load()
	for {
		s := &q.buffer[pos&q.mask]
		seq := s.seq.Load()
		diff := int64(seq) - int64(pos+1)
		switch {
		case diff == 0:
			if q.deq.CompareAndSwap(pos, pos+1) {
				*out = s.data
				var zero T
				s.data = zero
				s.seq.Store(pos + uint64(len(q.buffer)))
				return true
			}
			pos = q.deq.Load()
		case diff < 0:
			return false
		default:
			pos = q.deq.Load()
		}
	}
}

// Len is an approximate occupancy, racy by nature.
func (q *Queue[T]) Len() int {
	enq := q.enq.Load()
	deq := q.deq.Load()
	if enq < deq {
		return 0
	}
	n := enq - deq
	if n > uint64(len(q.buffer)) {
		n = uint64(len(q.buffer))
	}
	return int(n)
}

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int {
	return len(q.buffer)
}

// pushWait enqueues v, backing off when the queue is full: it yields for the
// first 64 attempts, then sleeps 100µs between retries. Messages are never
// dropped.
func (q *Queue[T]) pushWait(v T) {
	for spins := 0; ; spins++ {
		if q.Push(v) {
			return
		}
		if spins < 64 {
			runtime.Gosched()
		} else {
			time.Sleep(100 * time.Microsecond)
		}
	}
}
