package bus

import (
	"context"
	"sync/atomic"
	"time"

	"mdi/internal/model"
	"mdi/pkg/exception"
)

const cacheLinePad = 64

// Queue is a bounded, lock-free, multi-producer multi-consumer staging queue.
//
// Every slot carries a sequence number. A producer owns a slot only after it
// wins the CAS on tail while the slot sequence equals the claimed position, so
// the capacity check and the reservation are one atomic step. Consumers do the
// same on head. Items pushed by one producer are popped in push order.
type Queue struct {
	_    [cacheLinePad]byte
	tail atomic.Uint64
	_    [cacheLinePad - 8]byte
	head atomic.Uint64
	_    [cacheLinePad - 8]byte

	slots    []slot
	capacity uint64
	closed   atomic.Bool
}

type slot struct {
	seq   atomic.Uint64
	trade model.Trade
}

// NewQueue allocates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	q := &Queue{
		slots:    make([]slot, capacity),
		capacity: uint64(capacity),
	}
	for i := range q.slots {
		q.slots[i].seq.Store(uint64(i))
	}
	return q
}

// Push enqueues a trade without blocking.
// It returns exception.ErrQueueFull when the queue is at capacity; the caller
// owns the decision to drop the trade.
func (q *Queue) Push(t model.Trade) error {
	if q.closed.Load() {
		return exception.ErrQueueClosed
	}

	pos := q.tail.Load()
	for {
		s := &q.slots[pos%q.capacity]
		seq := s.seq.Load()
		switch diff := int64(seq - pos); {
		case diff == 0:
			if q.tail.CompareAndSwap(pos, pos+1) {
				s.trade = t
				s.seq.Store(pos + 1)
				return nil
			}
			pos = q.tail.Load()
		case diff < 0:
			return exception.ErrQueueFull
		default:
			pos = q.tail.Load()
		}
	}
}

// Pop dequeues the oldest available trade without blocking.
func (q *Queue) Pop() (model.Trade, bool) {
	pos := q.head.Load()
	for {
		s := &q.slots[pos%q.capacity]
		seq := s.seq.Load()
		switch diff := int64(seq - (pos + 1)); {
		case diff == 0:
			if q.head.CompareAndSwap(pos, pos+1) {
				t := s.trade
				s.trade = model.Trade{}
				s.seq.Store(pos + q.capacity)
				return t, true
			}
			pos = q.head.Load()
		case diff < 0:
			return model.Trade{}, false
		default:
			pos = q.head.Load()
		}
	}
}

// PopBatch appends up to max trades to dst and returns it.
// It is a loop over Pop: batches of concurrent consumers may interleave.
func (q *Queue) PopBatch(dst []model.Trade, max int) []model.Trade {
	for i := 0; i < max; i++ {
		t, ok := q.Pop()
		if !ok {
			break
		}
		dst = append(dst, t)
	}
	return dst
}

// Len returns the number of reserved slots, clamped to [0, Cap].
func (q *Queue) Len() int {
	for {
		tail := q.tail.Load()
		head := q.head.Load()
		if tail != q.tail.Load() {
			continue
		}
		if head >= tail {
			return 0
		}
		size := tail - head
		if size > q.capacity {
			size = q.capacity
		}
		return int(size)
	}
}

// Cap returns the fixed capacity.
func (q *Queue) Cap() int {
	return int(q.capacity)
}

// IsEmpty reports whether no trade is waiting.
func (q *Queue) IsEmpty() bool {
	return q.Len() == 0
}

// UsagePercent returns Len relative to Cap in the range 0-100.
func (q *Queue) UsagePercent() float64 {
	return float64(q.Len()) / float64(q.capacity) * 100
}

// Clear drops every pending trade and returns how many were dropped.
func (q *Queue) Clear() int {
	n := 0
	for {
		if _, ok := q.Pop(); !ok {
			return n
		}
		n++
	}
}

// Close stops the queue from accepting new trades. Pending trades stay poppable.
func (q *Queue) Close() {
	q.closed.Store(true)
}

// Closed reports whether Close was called.
func (q *Queue) Closed() bool {
	return q.closed.Load()
}

// Run consumes batches until ctx is done or the queue is closed and drained.
// It sleeps for idle whenever the queue is empty. On exit every trade still
// queued is handed to handler before Run returns.
func (q *Queue) Run(ctx context.Context, batch int, idle time.Duration, handler func([]model.Trade)) {
	if batch <= 0 {
		batch = 1
	}
	buf := make([]model.Trade, 0, batch)
	var timer *time.Timer
	if idle > 0 {
		timer = time.NewTimer(idle)
		defer timer.Stop()
	}

	for {
		buf = q.PopBatch(buf[:0], batch)
		if len(buf) > 0 {
			handler(buf)
			if ctx.Err() != nil {
				q.drain(buf, batch, handler)
				return
			}
			continue
		}
		if q.closed.Load() {
			q.drain(buf, batch, handler)
			return
		}

		if timer == nil {
			select {
			case <-ctx.Done():
				q.drain(buf, batch, handler)
				return
			default:
			}
			continue
		}

		timer.Reset(idle)
		select {
		case <-ctx.Done():
			q.drain(buf, batch, handler)
			return
		case <-timer.C:
		}
	}
}

func (q *Queue) drain(buf []model.Trade, batch int, handler func([]model.Trade)) {
	for {
		buf = q.PopBatch(buf[:0], batch)
		if len(buf) == 0 {
			return
		}
		handler(buf)
	}
}
