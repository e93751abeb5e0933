package pipeline

import (
	"context"
	"sync"
	"time"

	"mdi/internal/bus"
	"mdi/internal/candle"
	"mdi/internal/fanout"
	"mdi/internal/model"
	"mdi/internal/obs"
	"mdi/internal/store"

	"github.com/yanun0323/logs"
)

const (
	defaultBatch        = 256
	defaultStoreBatch   = 500
	defaultFlushEvery   = time.Second
	defaultFlushTimeout = 5 * time.Second
	pendingFlushes      = 4
)

// Option tunes a Worker. Zero values fall back to defaults.
type Option struct {
	Batch         int           // trades popped per iteration
	Idle          time.Duration // sleep when the queue is empty, 0 spins
	StoreBatch    int           // trades buffered before a flush
	FlushInterval time.Duration // flush at least this often when something is pending
	FlushTimeout  time.Duration // per flush, also bounds the final flush on shutdown
	StoreCandles  bool          // also persist every touched candle
}

// Worker drains the staging queue, folds trades into the aggregator, publishes
// every resulting candle update and batches trades and candles to the store.
// Store writes run on a separate goroutine so a slow backend only stalls the
// worker once pendingFlushes batches are waiting.
type Worker struct {
	queue   *bus.Queue
	agg     *candle.Aggregator
	reg     *fanout.Registry
	store   store.Store
	metrics *obs.Metrics
	opt     Option

	updates   []model.CandleUpdate
	trades    []model.Trade
	candles   map[candleID]model.Candle
	lastFlush time.Time
}

type candleID struct {
	symbol   string
	interval uint64
	bucket   uint64
}

type flushBatch struct {
	trades  []model.Trade
	candles []model.Candle
}

// New builds a worker. st and m may be nil; a nil store disables durability.
func New(q *bus.Queue, agg *candle.Aggregator, reg *fanout.Registry, st store.Store, m *obs.Metrics, opt Option) *Worker {
	if opt.Batch <= 0 {
		opt.Batch = defaultBatch
	}
	if opt.StoreBatch <= 0 {
		opt.StoreBatch = defaultStoreBatch
	}
	if opt.FlushInterval <= 0 {
		opt.FlushInterval = defaultFlushEvery
	}
	if opt.FlushTimeout <= 0 {
		opt.FlushTimeout = defaultFlushTimeout
	}
	return &Worker{
		queue:   q,
		agg:     agg,
		reg:     reg,
		store:   st,
		metrics: m,
		opt:     opt,
		updates: make([]model.CandleUpdate, 0, 2*len(agg.Intervals())),
		candles: make(map[candleID]model.Candle),
	}
}

// Run processes trades until ctx is done or the queue is closed. Before it
// returns, every queued trade is processed and pending store batches are flushed.
func (w *Worker) Run(ctx context.Context) {
	var (
		flushes chan flushBatch
		wg      sync.WaitGroup
	)
	if w.store != nil {
		flushes = make(chan flushBatch, pendingFlushes)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for b := range flushes {
				w.write(ctx, b)
			}
		}()
	}

	w.lastFlush = time.Now()
	buf := make([]model.Trade, 0, w.opt.Batch)
	var timer *time.Timer
	if w.opt.Idle > 0 {
		timer = time.NewTimer(w.opt.Idle)
		defer timer.Stop()
	}

loop:
	for {
		buf = w.queue.PopBatch(buf[:0], w.opt.Batch)
		if len(buf) > 0 {
			w.process(buf)
			w.maybeFlush(flushes, false)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		w.maybeFlush(flushes, false)
		if w.queue.Closed() || ctx.Err() != nil {
			break
		}
		if timer == nil {
			continue
		}
		timer.Reset(w.opt.Idle)
		select {
		case <-ctx.Done():
			break loop
		case <-timer.C:
		}
	}

	drained := 0
	for {
		buf = w.queue.PopBatch(buf[:0], w.opt.Batch)
		if len(buf) == 0 {
			break
		}
		drained += len(buf)
		w.process(buf)
	}
	w.maybeFlush(flushes, true)
	if flushes != nil {
		close(flushes)
		wg.Wait()
	}
	logs.Infof("worker stopped, drained %d trades on shutdown", drained)
}

func (w *Worker) process(batch []model.Trade) {
	for _, t := range batch {
		start := time.Now()
		w.updates = w.agg.Apply(t, w.updates[:0])

		closed, deliveries := 0, 0
		for _, u := range w.updates {
			if u.Closed {
				closed++
			}
			deliveries += w.reg.PublishUpdate(u)
			if w.store != nil && w.opt.StoreCandles {
				w.candles[candleID{u.Candle.Symbol, u.Candle.Interval, u.Candle.Timestamp}] = u.Candle
			}
		}
		w.metrics.ObserveProcess(time.Since(start), len(w.updates), closed, deliveries)
	}

	if w.store != nil {
		w.trades = append(w.trades, batch...)
	}
}

func (w *Worker) maybeFlush(flushes chan<- flushBatch, force bool) {
	if flushes == nil {
		return
	}
	if len(w.trades) == 0 && len(w.candles) == 0 {
		w.lastFlush = time.Now()
		return
	}
	if !force && len(w.trades) < w.opt.StoreBatch && time.Since(w.lastFlush) < w.opt.FlushInterval {
		return
	}

	b := flushBatch{trades: w.trades}
	if len(w.candles) > 0 {
		b.candles = make([]model.Candle, 0, len(w.candles))
		for _, c := range w.candles {
			b.candles = append(b.candles, c)
		}
		clear(w.candles)
	}
	w.trades = make([]model.Trade, 0, w.opt.StoreBatch)
	w.lastFlush = time.Now()
	flushes <- b
}

func (w *Worker) write(ctx context.Context, b flushBatch) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.opt.FlushTimeout)
	defer cancel()

	start := time.Now()
	err := w.store.WriteTrades(ctx, b.trades)
	if err == nil && len(b.candles) > 0 {
		err = w.store.WriteCandles(ctx, b.candles)
	}
	w.metrics.ObserveFlush(time.Since(start), err)
	if err != nil {
		logs.Errorf("flush %d trades and %d candles, batch skipped, err: %+v", len(b.trades), len(b.candles), err)
	}
}
