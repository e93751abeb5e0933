package ingest

import (
	stderrors "errors"
	"sync/atomic"
	"time"

	"mdi/internal/bus"
	"mdi/internal/model"
	"mdi/internal/obs"
	"mdi/pkg/exception"

	"github.com/yanun0323/logs"
)

const defaultLogEvery = 10_000

// Journal receives every trade the staging queue accepted.
type Journal interface {
	TryAppend(t model.Trade) error
}

// Feeder pushes decoded trades into the staging queue and sheds them when the
// queue is full. Drops are counted and logged at a throttled rate.
type Feeder struct {
	queue    *bus.Queue
	metrics  *obs.Metrics
	journal  Journal
	logEvery uint64
	now      func() time.Time

	dropped     atomic.Uint64
	failed      atomic.Uint64
	unjournaled atomic.Uint64
}

// NewFeeder builds a feeder over q. m may be nil.
func NewFeeder(q *bus.Queue, m *obs.Metrics) *Feeder {
	return &Feeder{
		queue:    q,
		metrics:  m,
		logEvery: defaultLogEvery,
		now:      time.Now,
	}
}

// WithJournal records every accepted trade to j. Call before the first Push.
func (f *Feeder) WithJournal(j Journal) *Feeder {
	f.journal = j
	return f
}

// Push enqueues t and reports whether it was accepted.
func (f *Feeder) Push(t model.Trade) bool {
	err := f.queue.Push(t)
	if err == nil {
		f.metrics.IncAccepted()
		if t.EventTime > 0 {
			f.metrics.ObserveIngest(f.now().Sub(time.UnixMilli(int64(t.EventTime))))
		}
		if f.journal != nil {
			if err := f.journal.TryAppend(t); err != nil {
				if n := f.unjournaled.Add(1); n == 1 || n%f.logEvery == 0 {
					logs.Errorf("journal trade %s #%d, %d trades missing from journal so far, err: %+v", t.Symbol, t.TradeID, n, err)
				}
			}
		}
		return true
	}

	if stderrors.Is(err, exception.ErrQueueFull) {
		f.metrics.IncDropped()
		if n := f.dropped.Add(1); n == 1 || n%f.logEvery == 0 {
			logs.Errorf("staging queue full (cap %d), dropped %d trades so far, last %s #%d",
				f.queue.Cap(), n, t.Symbol, t.TradeID)
		}
		return false
	}

	f.metrics.IncRejected()
	return false
}

// DecodeFailed counts a malformed wire message and logs it at a throttled rate.
func (f *Feeder) DecodeFailed(err error) {
	f.metrics.IncDecodeFailure()
	if n := f.failed.Add(1); n == 1 || n%f.logEvery == 0 {
		logs.Errorf("decode trade message, %d failures so far, err: %+v", n, err)
	}
}

// Dropped returns the number of trades shed on a full queue.
func (f *Feeder) Dropped() uint64 {
	return f.dropped.Load()
}

// Unjournaled returns the number of accepted trades the journal refused.
func (f *Feeder) Unjournaled() uint64 {
	return f.unjournaled.Load()
}

// DecodeFailures returns the number of malformed messages seen.
func (f *Feeder) DecodeFailures() uint64 {
	return f.failed.Load()
}
