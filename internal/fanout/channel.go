package fanout

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"mdi/internal/model"
	"mdi/pkg/exception"
)

// LaggedError reports how many updates a subscriber missed because the
// channel ring overwrote them before they were read.
type LaggedError struct {
	Missed uint64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("fanout: subscriber lagged, missed %d updates", e.Missed)
}

// Is makes errors.Is(err, exception.ErrLagged) match.
func (e *LaggedError) Is(target error) bool {
	return target == exception.ErrLagged
}

// channel is a bounded broadcast ring for one key. Writers overwrite the
// oldest entry; every subscription keeps its own read sequence.
type channel struct {
	key model.Key

	mu     sync.RWMutex
	ring   []model.CandleUpdate
	next   uint64 // sequence of the next write
	subs   map[*Subscription]struct{}
	wake   chan struct{}
	closed bool

	subscribers atomic.Int64
	waiters     atomic.Int64
}

func newChannel(key model.Key, capacity int) *channel {
	return &channel{
		key:  key,
		ring: make([]model.CandleUpdate, capacity),
		subs: make(map[*Subscription]struct{}),
		wake: make(chan struct{}),
	}
}

func (c *channel) publish(u model.CandleUpdate) int {
	if c.subscribers.Load() == 0 {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || len(c.subs) == 0 {
		return 0
	}
	c.ring[c.next%uint64(len(c.ring))] = u
	c.next++
	if c.waiters.Load() > 0 {
		close(c.wake)
		c.wake = make(chan struct{})
	}
	return len(c.subs)
}

func (c *channel) subscribe() (*Subscription, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, false
	}
	s := &Subscription{key: c.key, ch: c, cursor: c.next}
	c.subs[s] = struct{}{}
	c.subscribers.Store(int64(len(c.subs)))
	return s, true
}

func (c *channel) unsubscribe(s *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.subs, s)
	c.subscribers.Store(int64(len(c.subs)))
}

func (c *channel) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	clear(c.subs)
	c.subscribers.Store(0)
	close(c.wake)
}

// read must be called with c.mu held for reading.
func (c *channel) read(cursor *uint64) (model.CandleUpdate, bool, error) {
	if c.closed {
		return model.CandleUpdate{}, false, exception.ErrChannelClosed
	}
	if *cursor == c.next {
		return model.CandleUpdate{}, false, nil
	}

	size := uint64(len(c.ring))
	if c.next > size {
		if oldest := c.next - size; *cursor < oldest {
			missed := oldest - *cursor
			*cursor = oldest
			return model.CandleUpdate{}, false, &LaggedError{Missed: missed}
		}
	}

	u := c.ring[*cursor%size]
	*cursor++
	return u, true, nil
}

// Subscription is one receiver of a key. It is not safe for concurrent use;
// give each consuming goroutine its own subscription.
type Subscription struct {
	key    model.Key
	ch     *channel
	cursor uint64
	closed atomic.Bool
}

// Key returns the subscribed key.
func (s *Subscription) Key() model.Key {
	return s.key
}

// TryRecv returns the next update without blocking. ok is false when nothing
// new was published. A *LaggedError means updates were lost; the following
// call resumes at the oldest retained update.
func (s *Subscription) TryRecv() (update model.CandleUpdate, ok bool, err error) {
	if s.closed.Load() {
		return model.CandleUpdate{}, false, exception.ErrChannelClosed
	}
	s.ch.mu.RLock()
	defer s.ch.mu.RUnlock()
	return s.ch.read(&s.cursor)
}

// Recv blocks until an update is available, the channel is cleared or ctx is done.
func (s *Subscription) Recv(ctx context.Context) (model.CandleUpdate, error) {
	for {
		if s.closed.Load() {
			return model.CandleUpdate{}, exception.ErrChannelClosed
		}

		s.ch.mu.RLock()
		u, ok, err := s.ch.read(&s.cursor)
		if ok || err != nil {
			s.ch.mu.RUnlock()
			return u, err
		}
		s.ch.waiters.Add(1)
		wake := s.ch.wake
		s.ch.mu.RUnlock()

		select {
		case <-wake:
			s.ch.waiters.Add(-1)
		case <-ctx.Done():
			s.ch.waiters.Add(-1)
			return model.CandleUpdate{}, ctx.Err()
		}
	}
}

// Pending returns how many updates are waiting to be read, capped at the ring size.
func (s *Subscription) Pending() int {
	s.ch.mu.RLock()
	defer s.ch.mu.RUnlock()

	n := s.ch.next - s.cursor
	if size := uint64(len(s.ch.ring)); n > size {
		n = size
	}
	return int(n)
}

// Close unregisters the subscription. Calling it more than once is a no-op.
func (s *Subscription) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.ch.unsubscribe(s)
}
