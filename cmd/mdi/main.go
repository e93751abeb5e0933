package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"mdi/internal/bus"
	"mdi/internal/candle"
	"mdi/internal/fanout"
	"mdi/internal/ingest"
	"mdi/internal/ingest/binance"
	"mdi/internal/mdg"
	"mdi/internal/model/enum"
	"mdi/internal/obs"
	"mdi/internal/ops"
	"mdi/internal/pipeline"
	"mdi/internal/placement"
	"mdi/internal/recorder"
	"mdi/internal/sink"
	"mdi/internal/sink/kafka"
	"mdi/internal/store"
	"mdi/internal/store/memory"
	"mdi/internal/store/postgres"
	"mdi/internal/store/redis"
	"mdi/pkg/conn"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

const (
	roleIngest    = "ingest"
	roleAggregate = "aggregate"
	sinkIdle      = time.Millisecond
)

func main() {
	if err := run(); err != nil {
		logs.Errorf("mdi: %+v", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path of the JSON config file (optional)")
	sourceFlag := flag.String("source", "", "trade source: "+strings.Join(enum.SourceNames(), ", ")+" (overrides config)")
	flag.Parse()

	cfg, err := loadConfig(*configPath, *sourceFlag)
	if err != nil {
		return err
	}

	if cfg.Pyroscope.Address != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: cfg.Pyroscope.AppName,
			ServerAddress:   cfg.Pyroscope.Address,
			Logger:          emptyLogger{},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			return errors.Wrap(err, "start pyroscope")
		}
		defer func() { _ = profiler.Stop() }()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := obs.NewMetrics()
	queue := bus.NewQueue(cfg.Queue.Capacity)
	agg, err := candle.NewAggregator(cfg.Intervals...)
	if err != nil {
		return err
	}
	reg, err := fanout.NewRegistry(cfg.Fanout.Capacity)
	if err != nil {
		return err
	}

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	if st != nil {
		defer func() {
			if err := st.Close(); err != nil {
				logs.Errorf("close store, err: %+v", err)
			}
		}()
	}

	sinks, err := buildSinks(cfg.Sinks)
	if err != nil {
		return err
	}

	roles := []string{roleIngest, roleAggregate}
	for _, s := range sinks {
		roles = append(roles, s.name)
	}
	var sched *placement.Scheduler
	plan := map[string]int{}
	if cfg.Placement.Enabled {
		sched = placement.NewScheduler()
		plan = sched.Plan(roles...)
		logs.Infof("placement %+v, plan %v", sched.Topology(), plan)
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

	// sinks outlive the worker so updates published while draining still reach them
	sinkCtx, stopSinks := context.WithCancel(context.Background())
	defer stopSinks()
	sinkDone := make([]<-chan struct{}, 0, len(sinks))
	for _, s := range sinks {
		subs := make([]*fanout.Subscription, 0, len(cfg.Symbols)*len(cfg.Intervals))
		for _, symbol := range cfg.Symbols {
			for _, iv := range cfg.Intervals {
				subs = append(subs, reg.Subscribe(symbol, iv))
			}
		}
		sinkDone = append(sinkDone, spawn(s.name, func() {
			sink.Consume(sinkCtx, s.name, subs, s.handler, sinkIdle, metrics)
		}))
	}

	worker := pipeline.New(queue, agg, reg, st, metrics, pipeline.Option{
		Batch:         cfg.Worker.Batch,
		Idle:          cfg.Worker.Idle.Std(),
		StoreBatch:    cfg.Store.BatchSize,
		FlushInterval: cfg.Store.FlushInterval.Std(),
		StoreCandles:  cfg.Store.Candles,
	})
	// the worker stops once the queue is closed and drained, after ingestion ends
	workerDone := spawn(roleAggregate, func() { worker.Run(context.Background()) })

	feeder := ingest.NewFeeder(queue, metrics)
	journal, err := openJournal(cfg.Journal)
	if err != nil {
		queue.Close()
		<-workerDone
		return err
	}
	if journal != nil {
		feeder.WithJournal(journal)
		defer func() {
			if err := journal.Close(); err != nil {
				logs.Errorf("close journal, err: %+v", err)
			}
		}()
	}

	ingestDone, err := startSource(ctx, cfg, feeder, spawn)
	if err != nil {
		queue.Close()
		<-workerDone
		return err
	}

	reporter := obs.NewReporter(metrics)
	reporter.AddGauge("queue_usage_pct", queue.UsagePercent)
	reporter.AddGauge("channels", func() float64 { return float64(reg.Channels()) })
	go reporter.Run(ctx, cfg.Metrics.ReportInterval.Std())

	logs.Infof("mdi started, source: %s, symbols: %v, intervals: %v", cfg.Source, cfg.Symbols, cfg.Intervals)
	select {
	case <-ctx.Done():
	case <-ingestDone:
		logs.Info("trade source finished")
		stop()
	}
	logs.Info("shutting down")

	<-ingestDone
	queue.Close()
	<-workerDone

	stopSinks()
	for _, done := range sinkDone {
		<-done
	}
	for _, s := range sinks {
		if s.close != nil {
			if err := s.close(); err != nil {
				logs.Errorf("close sink %s, err: %+v", s.name, err)
			}
		}
	}
	reg.Clear()

	stats := agg.Stats()
	logs.Infof("final stats, symbols: %d, candles: %d, metrics: %+v", stats.Instruments, stats.Candles, metrics.Snapshot())
	return nil
}

func loadConfig(path, source string) (ops.Config, error) {
	cfg, err := ops.Load(path)
	if err != nil {
		return ops.Config{}, err
	}
	if source != "" {
		cfg.Source = source
		if err := cfg.Validate(); err != nil {
			return ops.Config{}, err
		}
	}
	return cfg, nil
}

func openStore(ctx context.Context, cfg ops.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case ops.StoreMemory:
		return memory.New(), nil
	case ops.StorePostgres:
		st, err := postgres.New(postgres.Option{
			Conn: conn.Option{
				ConnString:   cfg.Postgres.DSN,
				MaxOpenConns: cfg.Postgres.MaxOpenConns,
			},
			Table:     cfg.Postgres.Table,
			BatchSize: cfg.BatchSize,
			Migrate:   cfg.Postgres.Migrate,
		})
		if err != nil {
			return nil, err
		}
		return st, nil
	case ops.StoreRedis:
		st, err := redis.New(ctx, redis.Option{
			Addr:      cfg.Redis.Addr,
			Username:  cfg.Redis.Username,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Namespace: cfg.Redis.Namespace,
		})
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, nil
	}
}

func openJournal(cfg ops.JournalConfig) (*recorder.Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	jc := recorder.DefaultConfig(cfg.Dir)
	jc.SegmentMaxBytes = cfg.SegmentMaxBytes
	jc.SyncInterval = cfg.SyncInterval.Std()
	w, err := recorder.NewWriter(jc)
	if err != nil {
		return nil, err
	}
	// stopped by Close once ingestion is done
	if err := w.Start(context.Background()); err != nil {
		return nil, err
	}
	return w, nil
}

type namedSink struct {
	name    string
	handler sink.Handler
	close   func() error
}

func buildSinks(cfg ops.SinksConfig) ([]namedSink, error) {
	var sinks []namedSink
	if cfg.Logger.Enabled {
		sinks = append(sinks, namedSink{name: "sink-logger", handler: sink.NewLogger(cfg.Logger.Live)})
	}
	if cfg.Kafka.Enabled {
		k, err := kafka.New(kafka.Option{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			BatchSize:    cfg.Kafka.BatchSize,
			BatchTimeout: cfg.Kafka.BatchTimeout.Std(),
			ClosedOnly:   cfg.Kafka.ClosedOnly,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, namedSink{name: "sink-kafka", handler: k, close: k.Close})
	}
	return sinks, nil
}

func startSource(ctx context.Context, cfg ops.Config, feeder *ingest.Feeder, spawn func(string, func()) <-chan struct{}) (<-chan struct{}, error) {
	switch cfg.SourceKind() {
	case enum.SourceReplay:
		pb, err := recorder.NewPlayback(recorder.PlaybackConfig{Dir: cfg.Replay.Dir, Speed: cfg.Replay.Speed})
		if err != nil {
			return nil, err
		}
		return spawn(roleIngest, func() {
			if _, err := ingest.Replay(ctx, pb, feeder); err != nil {
				logs.Errorf("replay, err: %+v", err)
			}
		}), nil
	case enum.SourceBinance:
		client := binance.NewClient(ctx, cfg.Binance.URL)
		if err := client.Start(ctx); err != nil {
			return nil, err
		}
		if err := client.Subscribe(ctx, cfg.Symbols...); err != nil {
			client.Close()
			return nil, err
		}
		return spawn(roleIngest, func() {
			defer client.Close()
			client.Run(ctx, feeder)
		}), nil
	default:
		gen, err := mdg.NewGenerator(cfg.Symbols, cfg.Sim.Price, cfg.Sim.Seed)
		if err != nil {
			return nil, err
		}
		return spawn(roleIngest, func() {
			ingest.Simulate(ctx, gen, feeder, ingest.SimOption{Rate: cfg.Sim.Rate})
		}), nil
	}
}

type emptyLogger struct{}

func (emptyLogger) Infof(string, ...interface{})  {}
func (emptyLogger) Debugf(string, ...interface{}) {}
func (emptyLogger) Errorf(string, ...interface{}) {}
