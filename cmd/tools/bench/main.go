package main

import (
	"context"
	"flag"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"mdi/internal/bus"
	"mdi/internal/candle"
	"mdi/internal/fanout"
	"mdi/internal/ingest"
	"mdi/internal/ingest/binance"
	"mdi/internal/mdg"
	"mdi/internal/model"
	"mdi/internal/obs"
	"mdi/internal/pipeline"
	"mdi/internal/placement"
	"mdi/internal/sink"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

func main() {
	trades := flag.Int("trades", 1_000_000, "trades per stage")
	symbolsFlag := flag.String("symbols", "BTCUSDT,ETHUSDT,SOLUSDT,BNBUSDT", "comma separated symbols")
	intervalsFlag := flag.String("intervals", "", "comma separated intervals in seconds (default 1m,5m,15m,1h,4h,1d)")
	queueCap := flag.Int("queue", 1<<16, "staging queue capacity")
	fanoutCap := flag.Int("fanout", 1024, "broadcast channel capacity")
	pin := flag.Bool("pin", false, "pin pipeline threads to cores")
	seed := flag.Int64("seed", 1, "generator seed")
	flag.Parse()

	if err := run(*trades, *symbolsFlag, *intervalsFlag, *queueCap, *fanoutCap, *pin, *seed); err != nil {
		logs.Errorf("bench: %+v", err)
		os.Exit(1)
	}
}

func run(n int, symbolsFlag, intervalsFlag string, queueCap, fanoutCap int, pin bool, seed int64) error {
	if n <= 0 {
		return errors.New("trades must be > 0")
	}
	symbols := strings.Split(symbolsFlag, ",")
	intervals := candle.Standard()
	if intervalsFlag != "" {
		intervals = intervals[:0]
		for _, s := range strings.Split(intervalsFlag, ",") {
			iv, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
			if err != nil {
				return errors.Wrap(err, "parse interval "+s)
			}
			intervals = append(intervals, iv)
		}
	}

	gen, err := mdg.NewGenerator(symbols, 100, seed)
	if err != nil {
		return err
	}
	start := time.Now()
	input := make([]model.Trade, n)
	for i := range input {
		input[i] = gen.Next(start.Add(time.Duration(i) * time.Millisecond))
	}

	benchDecode(input)
	benchQueue(input, queueCap)
	if err := benchAggregator(input, intervals); err != nil {
		return err
	}
	return benchPipeline(symbols, intervals, n, queueCap, fanoutCap, pin, seed)
}

func report(stage string, n int, elapsed time.Duration) {
	logs.Infof("%-10s %10d ops in %-12s %8.0f ns/op %12.0f ops/s",
		stage, n, elapsed.Round(time.Microsecond), float64(elapsed.Nanoseconds())/float64(n), float64(n)/elapsed.Seconds())
}

func benchDecode(input []model.Trade) {
	payloads := make([][]byte, len(input))
	for i, t := range input {
		payloads[i] = binance.AppendTrade(nil, t)
	}
	dec := binance.NewDecoder()

	start := time.Now()
	for _, p := range payloads {
		if _, err := dec.Decode(p); err != nil {
			logs.Errorf("decode, err: %+v", err)
			return
		}
	}
	report("decode", len(input), time.Since(start))
}

func benchQueue(input []model.Trade, capacity int) {
	q := bus.NewQueue(capacity)
	var consumed atomic.Int64
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		q.Run(context.Background(), 256, 0, func(batch []model.Trade) {
			consumed.Add(int64(len(batch)))
		})
	}()

	start := time.Now()
	for _, t := range input {
		for q.Push(t) != nil {
		}
	}
	q.Close()
	wg.Wait()
	report("queue", int(consumed.Load()), time.Since(start))
}

func benchAggregator(input []model.Trade, intervals []uint64) error {
	agg, err := candle.NewAggregator(intervals...)
	if err != nil {
		return err
	}
	updates := make([]model.CandleUpdate, 0, 2*len(intervals))

	start := time.Now()
	for _, t := range input {
		updates = agg.Apply(t, updates[:0])
	}
	report("aggregate", len(input), time.Since(start))

	stats := agg.Stats()
	logs.Infof("aggregate  %d symbols, %d candles across %d intervals", stats.Instruments, stats.Candles, stats.Intervals)
	return nil
}

func benchPipeline(symbols []string, intervals []uint64, n, queueCap, fanoutCap int, pin bool, seed int64) error {
	agg, err := candle.NewAggregator(intervals...)
	if err != nil {
		return err
	}
	reg, err := fanout.NewRegistry(fanoutCap)
	if err != nil {
		return err
	}
	gen, err := mdg.NewGenerator(symbols, 100, seed)
	if err != nil {
		return err
	}

	metrics := obs.NewMetrics()
	queue := bus.NewQueue(queueCap)
	feeder := ingest.NewFeeder(queue, metrics)
	worker := pipeline.New(queue, agg, reg, nil, metrics, pipeline.Option{})

	var subs []*fanout.Subscription
	for _, s := range symbols {
		for _, iv := range intervals {
			subs = append(subs, reg.Subscribe(s, iv))
		}
	}
	var delivered atomic.Uint64
	counter := sink.HandlerFunc(func(context.Context, model.CandleUpdate) error {
		delivered.Add(1)
		return nil
	})

	var sched *placement.Scheduler
	plan := map[string]int{}
	if pin {
		sched = placement.NewScheduler()
		plan = sched.Plan("ingest", "aggregate", "sink")
	}
	spawn := func(role string, work func()) <-chan struct{} {
		if sched != nil {
			return sched.SpawnPinned(plan[role], role, work).Done()
		}
		done := make(chan struct{})
		go func() {
			defer close(done)
			work()
		}()
		return done
	}

	sinkCtx, stopSink := context.WithCancel(context.Background())
	defer stopSink()
	sinkDone := spawn("sink", func() { sink.Consume(sinkCtx, "bench", subs, counter, 0, metrics) })

	start := time.Now()
	workerDone := spawn("aggregate", func() { worker.Run(context.Background()) })
	<-spawn("ingest", func() {
		ingest.Simulate(context.Background(), gen, feeder, ingest.SimOption{Limit: uint64(n)})
	})
	queue.Close()
	<-workerDone
	elapsed := time.Since(start)
	stopSink()
	<-sinkDone

	snap := metrics.Snapshot()
	report("pipeline", int(snap.TradesProcessed), elapsed)
	logs.Infof("pipeline   accepted %d, dropped %d, candles %d, closed %d, published %d, delivered %d, lagged %d (missed %d)",
		snap.TradesAccepted, snap.TradesDropped, snap.CandlesEmitted, snap.CandlesClosed,
		snap.Deliveries, delivered.Load(), snap.LagEvents, snap.LagMissed)
	logs.Infof("pipeline   process latency avg %s max %s", snap.ProcessLatency.Avg, snap.ProcessLatency.Max)
	return nil
}
