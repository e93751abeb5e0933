package fanout

import (
	"cmp"
	"slices"
	"sync"

	"mdi/internal/model"
	"mdi/pkg/exception"

	"github.com/cespare/xxhash/v2"
	"github.com/yanun0323/errors"
)

const shardCount = 32

// Registry maps (instrument, interval) keys to broadcast channels.
//
// Channels are created lazily by Subscribe and stay registered until Clear,
// even when their last subscriber leaves. Publish never blocks on a slow
// subscriber: the ring overwrites and the subscriber observes a LaggedError.
type Registry struct {
	capacity int
	shards   [shardCount]registryShard
}

type registryShard struct {
	mu       sync.RWMutex
	channels map[model.Key]*channel
}

// NewRegistry builds a registry whose channels retain capacity updates each.
func NewRegistry(capacity int) (*Registry, error) {
	if capacity <= 0 {
		return nil, errors.Wrap(exception.ErrZeroCapacity, "new registry").With("capacity", capacity)
	}

	r := &Registry{capacity: capacity}
	for i := range r.shards {
		r.shards[i].channels = make(map[model.Key]*channel)
	}
	return r, nil
}

// Capacity returns the per-channel backlog.
func (r *Registry) Capacity() int {
	return r.capacity
}

func (r *Registry) shard(key model.Key) *registryShard {
	h := xxhash.Sum64String(key.Symbol) ^ (key.Interval * 0x9e3779b97f4a7c15)
	return &r.shards[h%shardCount]
}

func (r *Registry) lookup(key model.Key) *channel {
	sh := r.shard(key)
	sh.mu.RLock()
	ch := sh.channels[key]
	sh.mu.RUnlock()
	return ch
}

// Subscribe returns a new subscription for the key, creating its channel on
// first use. The subscription only sees updates published after this call.
func (r *Registry) Subscribe(symbol string, interval uint64) *Subscription {
	key := model.Key{Symbol: symbol, Interval: interval}
	sh := r.shard(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	ch, ok := sh.channels[key]
	if !ok {
		ch = newChannel(key, r.capacity)
		sh.channels[key] = ch
	}
	// the shard lock keeps Clear from closing ch between lookup and subscribe
	s, _ := ch.subscribe()
	return s
}

// Publish sends the candle to every live subscriber of its key and returns how
// many were notified. A key nobody subscribed to yields 0 and creates nothing.
func (r *Registry) Publish(c model.Candle, closed bool) int {
	ch := r.lookup(c.Key())
	if ch == nil {
		return 0
	}
	return ch.publish(model.CandleUpdate{Candle: c, Closed: closed})
}

// PublishUpdate is Publish for an already built update.
func (r *Registry) PublishUpdate(u model.CandleUpdate) int {
	return r.Publish(u.Candle, u.Closed)
}

// SubscriberCount returns the number of live subscriptions of the key.
func (r *Registry) SubscriberCount(symbol string, interval uint64) int {
	ch := r.lookup(model.Key{Symbol: symbol, Interval: interval})
	if ch == nil {
		return 0
	}
	return int(ch.subscribers.Load())
}

// ActiveKeys returns the keys with at least one live subscriber, sorted by
// instrument then interval.
func (r *Registry) ActiveKeys() []model.Key {
	var keys []model.Key
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.RLock()
		for key, ch := range sh.channels {
			if ch.subscribers.Load() > 0 {
				keys = append(keys, key)
			}
		}
		sh.mu.RUnlock()
	}
	slices.SortFunc(keys, func(a, b model.Key) int {
		if c := cmp.Compare(a.Symbol, b.Symbol); c != 0 {
			return c
		}
		return cmp.Compare(a.Interval, b.Interval)
	})
	return keys
}

// Channels returns the number of registered channels, with or without subscribers.
func (r *Registry) Channels() int {
	n := 0
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.RLock()
		n += len(sh.channels)
		sh.mu.RUnlock()
	}
	return n
}

// Clear drops every channel. Existing subscriptions receive
// exception.ErrChannelClosed from then on.
func (r *Registry) Clear() {
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.Lock()
		for _, ch := range sh.channels {
			ch.close()
		}
		clear(sh.channels)
		sh.mu.Unlock()
	}
}
