package candle

import (
	"slices"
	"sync"

	"mdi/internal/model"
	"mdi/pkg/exception"

	"github.com/cespare/xxhash/v2"
	"github.com/yanun0323/errors"
)

const shardCount = 64

var standardIntervals = []uint64{60, 300, 900, 3600, 14400, 86400}

// Standard returns the default interval set in seconds: 1m, 5m, 15m, 1h, 4h, 1d.
func Standard() []uint64 {
	return slices.Clone(standardIntervals)
}

// Stats is a point-in-time view of the aggregator size.
type Stats struct {
	Instruments int      `json:"total_symbols"`
	Candles     int      `json:"total_klines"`
	Intervals   []uint64 `json:"intervals"`
}

// Aggregator keeps OHLCV state for every instrument and configured interval.
//
// Instruments are spread over RW-locked shards by hash, so writers for
// different instruments rarely contend and readers never block each other.
// The Aggregator is a handle: share the pointer, never copy the value.
type Aggregator struct {
	intervals []uint64
	shards    [shardCount]shard
}

type shard struct {
	mu          sync.RWMutex
	instruments map[string]*instrument
}

type instrument struct {
	summary model.InstrumentSummary
	series  []series // aligned with Aggregator.intervals
}

type series struct {
	buckets   map[uint64]*model.Candle
	latest    uint64
	hasLatest bool
}

// NewAggregator builds an aggregator for the given intervals in seconds.
// The order of intervals is the order of ProcessEvent results.
func NewAggregator(intervals ...uint64) (*Aggregator, error) {
	if len(intervals) == 0 {
		return nil, errors.Wrap(exception.ErrInvalidInterval, "no interval configured")
	}
	seen := make(map[uint64]struct{}, len(intervals))
	for _, iv := range intervals {
		if iv == 0 {
			return nil, errors.Wrap(exception.ErrInvalidInterval, "zero interval")
		}
		if _, ok := seen[iv]; ok {
			return nil, errors.Wrap(exception.ErrInvalidInterval, "duplicate interval").With("interval", iv)
		}
		seen[iv] = struct{}{}
	}

	a := &Aggregator{intervals: slices.Clone(intervals)}
	for i := range a.shards {
		a.shards[i].instruments = make(map[string]*instrument)
	}
	return a, nil
}

// Intervals returns the configured intervals in configuration order.
func (a *Aggregator) Intervals() []uint64 {
	return slices.Clone(a.intervals)
}

func (a *Aggregator) shard(symbol string) *shard {
	return &a.shards[xxhash.Sum64String(symbol)&(shardCount-1)]
}

func (a *Aggregator) indexOf(interval uint64) int {
	return slices.Index(a.intervals, interval)
}

// ProcessEvent folds the trade into every configured interval and returns the
// updated candle of each, in configuration order.
func (a *Aggregator) ProcessEvent(t model.Trade) []model.Candle {
	out := make([]model.Candle, 0, len(a.intervals))

	sh := a.shard(t.Symbol)
	sh.mu.Lock()
	inst := sh.instrument(t.Symbol, len(a.intervals))
	inst.summary.Apply(t)
	for i, iv := range a.intervals {
		_, _, cur, _ := inst.series[i].apply(t, iv)
		out = append(out, *cur)
	}
	sh.mu.Unlock()

	return out
}

// Apply folds the trade like ProcessEvent and appends the resulting updates to dst.
//
// For every interval it appends the updated candle. The first time a newer
// bucket shows up for a key, the previous latest bucket is appended before it
// with Closed set. A trade landing in an older bucket re-emits that bucket with
// Closed set.
func (a *Aggregator) Apply(t model.Trade, dst []model.CandleUpdate) []model.CandleUpdate {
	sh := a.shard(t.Symbol)
	sh.mu.Lock()
	inst := sh.instrument(t.Symbol, len(a.intervals))
	inst.summary.Apply(t)
	for i, iv := range a.intervals {
		prev, rolled, cur, late := inst.series[i].apply(t, iv)
		if rolled {
			dst = append(dst, model.CandleUpdate{Candle: prev, Closed: true})
		}
		dst = append(dst, model.CandleUpdate{Candle: *cur, Closed: late})
	}
	sh.mu.Unlock()

	return dst
}

// Latest returns the candle with the greatest bucket start for the key.
func (a *Aggregator) Latest(symbol string, interval uint64) (model.Candle, bool) {
	idx := a.indexOf(interval)
	if idx < 0 {
		return model.Candle{}, false
	}

	sh := a.shard(symbol)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	inst, ok := sh.instruments[symbol]
	if !ok || !inst.series[idx].hasLatest {
		return model.Candle{}, false
	}
	return *inst.series[idx].buckets[inst.series[idx].latest], true
}

// All returns every candle of the key sorted ascending by bucket start.
func (a *Aggregator) All(symbol string, interval uint64) []model.Candle {
	idx := a.indexOf(interval)
	if idx < 0 {
		return nil
	}

	sh := a.shard(symbol)
	sh.mu.RLock()
	inst, ok := sh.instruments[symbol]
	if !ok {
		sh.mu.RUnlock()
		return nil
	}
	out := make([]model.Candle, 0, len(inst.series[idx].buckets))
	for _, c := range inst.series[idx].buckets {
		out = append(out, *c)
	}
	sh.mu.RUnlock()

	slices.SortFunc(out, func(x, y model.Candle) int {
		switch {
		case x.Timestamp < y.Timestamp:
			return -1
		case x.Timestamp > y.Timestamp:
			return 1
		default:
			return 0
		}
	})
	return out
}

// Summary returns the running totals of one instrument.
func (a *Aggregator) Summary(symbol string) (model.InstrumentSummary, bool) {
	sh := a.shard(symbol)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	inst, ok := sh.instruments[symbol]
	if !ok {
		return model.InstrumentSummary{}, false
	}
	return inst.summary, true
}

// Symbols returns every instrument seen so far, sorted.
func (a *Aggregator) Symbols() []string {
	var out []string
	for i := range a.shards {
		sh := &a.shards[i]
		sh.mu.RLock()
		for symbol := range sh.instruments {
			out = append(out, symbol)
		}
		sh.mu.RUnlock()
	}
	slices.Sort(out)
	return out
}

// Stats counts instruments and candles. Shards are visited one at a time, so
// the numbers are not a global snapshot under concurrent writes.
func (a *Aggregator) Stats() Stats {
	st := Stats{Intervals: slices.Clone(a.intervals)}
	for i := range a.shards {
		sh := &a.shards[i]
		sh.mu.RLock()
		st.Instruments += len(sh.instruments)
		for _, inst := range sh.instruments {
			for j := range inst.series {
				st.Candles += len(inst.series[j].buckets)
			}
		}
		sh.mu.RUnlock()
	}
	return st
}

// Clear drops all state.
func (a *Aggregator) Clear() {
	for i := range a.shards {
		sh := &a.shards[i]
		sh.mu.Lock()
		clear(sh.instruments)
		sh.mu.Unlock()
	}
}

// instrument must be called with the shard write lock held.
func (sh *shard) instrument(symbol string, intervals int) *instrument {
	inst, ok := sh.instruments[symbol]
	if ok {
		return inst
	}
	inst = &instrument{
		summary: model.InstrumentSummary{Symbol: symbol},
		series:  make([]series, intervals),
	}
	for i := range inst.series {
		inst.series[i].buckets = make(map[uint64]*model.Candle)
	}
	sh.instruments[symbol] = inst
	return inst
}

// apply returns the closed previous latest candle when the trade opened a newer
// bucket, the updated candle, and whether the trade landed in an older bucket.
func (s *series) apply(t model.Trade, interval uint64) (prev model.Candle, rolled bool, cur *model.Candle, late bool) {
	bucket := t.BucketStart(interval)
	cur, ok := s.buckets[bucket]
	if !ok {
		c := model.NewCandle(t.Symbol, bucket, interval, t.Price)
		cur = &c
		s.buckets[bucket] = cur
	}
	cur.Apply(t)

	switch {
	case !s.hasLatest:
		s.latest, s.hasLatest = bucket, true
	case bucket > s.latest:
		prev, rolled = *s.buckets[s.latest], true
		s.latest = bucket
	case bucket < s.latest:
		late = true
	}
	return prev, rolled, cur, late
}
