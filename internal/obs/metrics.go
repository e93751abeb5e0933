package obs

import (
	"sync/atomic"
	"time"
)

// Metrics collects lightweight pipeline counters and latency stats.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	tradesAccepted  uint64
	tradesDropped   uint64
	tradesRejected  uint64
	decodeFailures  uint64
	tradesProcessed uint64
	candlesEmitted  uint64
	candlesClosed   uint64
	deliveries      uint64
	storeFlushes    uint64
	storeErrors     uint64
	lagEvents       uint64
	lagMissed       uint64

	ingestLatency  LatencyStats
	processLatency LatencyStats
	flushLatency   LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64        `json:"count"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Avg   time.Duration `json:"avg"`
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	TradesAccepted  uint64          `json:"trades_accepted"`
	TradesDropped   uint64          `json:"trades_dropped"`
	TradesRejected  uint64          `json:"trades_rejected"`
	DecodeFailures  uint64          `json:"decode_failures"`
	TradesProcessed uint64          `json:"trades_processed"`
	CandlesEmitted  uint64          `json:"candles_emitted"`
	CandlesClosed   uint64          `json:"candles_closed"`
	Deliveries      uint64          `json:"deliveries"`
	StoreFlushes    uint64          `json:"store_flushes"`
	StoreErrors     uint64          `json:"store_errors"`
	LagEvents       uint64          `json:"lag_events"`
	LagMissed       uint64          `json:"lag_missed"`
	IngestLatency   LatencySnapshot `json:"ingest_latency"`
	ProcessLatency  LatencySnapshot `json:"process_latency"`
	FlushLatency    LatencySnapshot `json:"flush_latency"`
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// IncAccepted records a trade accepted by the staging queue.
func (m *Metrics) IncAccepted() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.tradesAccepted, 1)
}

// IncDropped records a trade shed because the staging queue was full and
// returns the running total.
func (m *Metrics) IncDropped() uint64 {
	if m == nil {
		return 0
	}
	return atomic.AddUint64(&m.tradesDropped, 1)
}

// IncRejected records a trade refused by a closed staging queue.
func (m *Metrics) IncRejected() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.tradesRejected, 1)
}

// IncDecodeFailure records a wire message that could not be decoded.
func (m *Metrics) IncDecodeFailure() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.decodeFailures, 1)
}

// ObserveIngest measures the delay between exchange event time and receipt.
func (m *Metrics) ObserveIngest(d time.Duration) {
	if m == nil {
		return
	}
	m.ingestLatency.Observe(d)
}

// ObserveProcess records one aggregated trade, the candles it produced and
// how many subscriber deliveries followed.
func (m *Metrics) ObserveProcess(d time.Duration, candles, closed, deliveries int) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.tradesProcessed, 1)
	atomic.AddUint64(&m.candlesEmitted, uint64(candles))
	atomic.AddUint64(&m.candlesClosed, uint64(closed))
	atomic.AddUint64(&m.deliveries, uint64(deliveries))
	m.processLatency.Observe(d)
}

// ObserveFlush measures a durability flush.
func (m *Metrics) ObserveFlush(d time.Duration, err error) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.storeFlushes, 1)
	if err != nil {
		atomic.AddUint64(&m.storeErrors, 1)
	}
	m.flushLatency.Observe(d)
}

// ObserveLag records a subscriber overrun of missed updates.
func (m *Metrics) ObserveLag(missed uint64) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.lagEvents, 1)
	atomic.AddUint64(&m.lagMissed, missed)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		TradesAccepted:  atomic.LoadUint64(&m.tradesAccepted),
		TradesDropped:   atomic.LoadUint64(&m.tradesDropped),
		TradesRejected:  atomic.LoadUint64(&m.tradesRejected),
		DecodeFailures:  atomic.LoadUint64(&m.decodeFailures),
		TradesProcessed: atomic.LoadUint64(&m.tradesProcessed),
		CandlesEmitted:  atomic.LoadUint64(&m.candlesEmitted),
		CandlesClosed:   atomic.LoadUint64(&m.candlesClosed),
		Deliveries:      atomic.LoadUint64(&m.deliveries),
		StoreFlushes:    atomic.LoadUint64(&m.storeFlushes),
		StoreErrors:     atomic.LoadUint64(&m.storeErrors),
		LagEvents:       atomic.LoadUint64(&m.lagEvents),
		LagMissed:       atomic.LoadUint64(&m.lagMissed),
		IngestLatency:   m.ingestLatency.Snapshot(),
		ProcessLatency:  m.processLatency.Snapshot(),
		FlushLatency:    m.flushLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		cur := atomic.LoadUint64(&l.min)
		if cur != 0 && nanos >= cur {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, cur, nanos) {
			break
		}
	}

	for {
		cur := atomic.LoadUint64(&l.max)
		if nanos <= cur {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, cur, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(atomic.LoadUint64(&l.min)),
		Max:   time.Duration(atomic.LoadUint64(&l.max)),
		Avg:   time.Duration(atomic.LoadUint64(&l.sum) / count),
	}
}
