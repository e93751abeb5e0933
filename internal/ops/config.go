package ops

import (
	"os"
	"strconv"
	"strings"
	"time"

	"mdi/internal/model/enum"
	"mdi/pkg/exception"

	"github.com/bytedance/sonic"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/yanun0323/errors"
)

// EnvPrefix prefixes every environment override, e.g. MDI_QUEUE_CAPACITY.
const EnvPrefix = "MDI_"

// Store backends.
const (
	StoreNone     = "none"
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Config mirrors the JSON config layout. Every field can be overridden by
// an environment variable named after its env tag under EnvPrefix.
type Config struct {
	Source    string   `json:"source" env:"SOURCE"`
	Symbols   []string `json:"symbols" env:"SYMBOLS" envSeparator:","`
	Intervals []uint64 `json:"intervals" env:"INTERVALS" envSeparator:","`

	Queue     QueueConfig     `json:"queue" envPrefix:"QUEUE_"`
	Worker    WorkerConfig    `json:"worker" envPrefix:"WORKER_"`
	Fanout    FanoutConfig    `json:"fanout" envPrefix:"FANOUT_"`
	Store     StoreConfig     `json:"store" envPrefix:"STORE_"`
	Sinks     SinksConfig     `json:"sinks" envPrefix:"SINK_"`
	Binance   BinanceConfig   `json:"binance" envPrefix:"BINANCE_"`
	Sim       SimConfig       `json:"sim" envPrefix:"SIM_"`
	Replay    ReplayConfig    `json:"replay" envPrefix:"REPLAY_"`
	Journal   JournalConfig   `json:"journal" envPrefix:"JOURNAL_"`
	Placement PlacementConfig `json:"placement" envPrefix:"PLACEMENT_"`
	Metrics   MetricsConfig   `json:"metrics" envPrefix:"METRICS_"`
	Pyroscope PyroscopeConfig `json:"pyroscope" envPrefix:"PYROSCOPE_"`
}

// QueueConfig sizes the staging queue.
type QueueConfig struct {
	Capacity int `json:"capacity" env:"CAPACITY"`
}

// WorkerConfig tunes the aggregation worker loop.
type WorkerConfig struct {
	Batch int      `json:"batch" env:"BATCH"`
	Idle  Duration `json:"idle" env:"IDLE"`
}

// FanoutConfig sizes each broadcast channel.
type FanoutConfig struct {
	Capacity int `json:"capacity" env:"CAPACITY"`
}

// StoreConfig selects and tunes the durability backend.
type StoreConfig struct {
	Backend       string         `json:"backend" env:"BACKEND"`
	BatchSize     int            `json:"batch_size" env:"BATCH_SIZE"`
	FlushInterval Duration       `json:"flush_interval" env:"FLUSH_INTERVAL"`
	Candles       bool           `json:"candles" env:"CANDLES"`
	Postgres      PostgresConfig `json:"postgres" envPrefix:"POSTGRES_"`
	Redis         RedisConfig    `json:"redis" envPrefix:"REDIS_"`
}

type PostgresConfig struct {
	DSN          string `json:"dsn" env:"DSN"`
	Table        string `json:"table" env:"TABLE"`
	Migrate      bool   `json:"migrate" env:"MIGRATE"`
	MaxOpenConns int    `json:"max_open_conns" env:"MAX_OPEN_CONNS"`
}

type RedisConfig struct {
	Addr      string `json:"addr" env:"ADDR"`
	Username  string `json:"username" env:"USERNAME"`
	Password  string `json:"password" env:"PASSWORD"`
	DB        int    `json:"db" env:"DB"`
	Namespace string `json:"namespace" env:"NAMESPACE"`
}

// SinksConfig enables the dedicated candle consumers.
type SinksConfig struct {
	Logger LoggerSinkConfig `json:"logger" envPrefix:"LOGGER_"`
	Kafka  KafkaSinkConfig  `json:"kafka" envPrefix:"KAFKA_"`
}

type LoggerSinkConfig struct {
	Enabled bool `json:"enabled" env:"ENABLED"`
	Live    bool `json:"live" env:"LIVE"`
}

type KafkaSinkConfig struct {
	Enabled      bool     `json:"enabled" env:"ENABLED"`
	Brokers      []string `json:"brokers" env:"BROKERS" envSeparator:","`
	Topic        string   `json:"topic" env:"TOPIC"`
	ClosedOnly   bool     `json:"closed_only" env:"CLOSED_ONLY"`
	BatchSize    int      `json:"batch_size" env:"BATCH_SIZE"`
	BatchTimeout Duration `json:"batch_timeout" env:"BATCH_TIMEOUT"`
}

type BinanceConfig struct {
	URL string `json:"url" env:"URL"`
}

type SimConfig struct {
	Rate  int     `json:"rate" env:"RATE"` // trades per second across all symbols, 0 runs unthrottled
	Seed  int64   `json:"seed" env:"SEED"`
	Price float64 `json:"price" env:"PRICE"`
}

type ReplayConfig struct {
	Dir   string  `json:"dir" env:"DIR"`
	Speed float64 `json:"speed" env:"SPEED"` // 1 keeps the recorded pace, 0 replays as fast as possible
}

// JournalConfig records every accepted trade for later replay.
type JournalConfig struct {
	Enabled         bool     `json:"enabled" env:"ENABLED"`
	Dir             string   `json:"dir" env:"DIR"`
	SegmentMaxBytes int64    `json:"segment_max_bytes" env:"SEGMENT_MAX_BYTES"`
	SyncInterval    Duration `json:"sync_interval" env:"SYNC_INTERVAL"`
}

type PlacementConfig struct {
	Enabled bool `json:"enabled" env:"ENABLED"`
}

type MetricsConfig struct {
	ReportInterval Duration `json:"report_interval" env:"REPORT_INTERVAL"`
}

type PyroscopeConfig struct {
	Address string `json:"address" env:"ADDRESS"`
	AppName string `json:"app_name" env:"APP_NAME"`
}

// Default returns the configuration used when neither file nor env sets a field.
func Default() Config {
	return Config{
		Source:    enum.SourceSim.String(),
		Symbols:   []string{"BTCUSDT", "ETHUSDT"},
		Intervals: []uint64{60, 300, 900, 3600, 14400, 86400},
		Queue:     QueueConfig{Capacity: 1 << 16},
		Worker:    WorkerConfig{Batch: 256, Idle: Duration(time.Millisecond)},
		Fanout:    FanoutConfig{Capacity: 1024},
		Store: StoreConfig{
			Backend:       StoreMemory,
			BatchSize:     500,
			FlushInterval: Duration(time.Second),
			Candles:       true,
			Postgres:      PostgresConfig{Table: "mdi_records", Migrate: true},
			Redis:         RedisConfig{Addr: "localhost:6379", Namespace: "mdi:"},
		},
		Sinks: SinksConfig{
			Logger: LoggerSinkConfig{Enabled: true},
			Kafka:  KafkaSinkConfig{Topic: "mdi.klines", BatchSize: 100, BatchTimeout: Duration(10 * time.Millisecond)},
		},
		Binance:   BinanceConfig{URL: "wss://stream.binance.com:9443/ws"},
		Sim:       SimConfig{Rate: 1000, Seed: 1, Price: 100},
		Replay:    ReplayConfig{Dir: "data/journal"},
		Journal:   JournalConfig{Dir: "data/journal", SegmentMaxBytes: 256 << 20},
		Placement: PlacementConfig{Enabled: true},
		Metrics:   MetricsConfig{ReportInterval: Duration(10 * time.Second)},
		Pyroscope: PyroscopeConfig{AppName: "mdi"},
	}
}

// Load layers defaults, the JSON file at path (skipped when empty), an
// optional .env file and MDI_* environment variables, then validates.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrap(err, "read config").With("path", path)
		}
		if err := sonic.Unmarshal(data, &cfg); err != nil {
			return Config{}, errors.Wrap(exception.ErrInvalidConfig, "decode "+path+": "+err.Error())
		}
	}

	// a missing .env is fine
	_ = godotenv.Load()

	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with MDI_* environment variables. Unset variables
// keep the current value.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return errors.Wrap(exception.ErrInvalidConfig, "parse env: "+err.Error())
	}
	return nil
}

// Validate rejects configurations the pipeline cannot start with.
func (c Config) Validate() error {
	invalid := func(msg string) error {
		return errors.Wrap(exception.ErrInvalidConfig, msg)
	}

	source, ok := enum.ParseSource(c.Source)
	if !ok {
		return invalid("unknown source " + strconv.Quote(c.Source))
	}
	if len(c.Symbols) == 0 {
		return invalid("no symbols configured")
	}
	for _, s := range c.Symbols {
		if strings.TrimSpace(s) == "" {
			return invalid("empty symbol")
		}
	}
	if len(c.Intervals) == 0 {
		return invalid("no intervals configured")
	}
	seen := make(map[uint64]struct{}, len(c.Intervals))
	for _, iv := range c.Intervals {
		if iv == 0 {
			return invalid("interval must be > 0")
		}
		if _, dup := seen[iv]; dup {
			return invalid("duplicate interval " + strconv.FormatUint(iv, 10))
		}
		seen[iv] = struct{}{}
	}
	if c.Queue.Capacity <= 0 {
		return invalid("queue.capacity must be > 0")
	}
	if c.Fanout.Capacity <= 0 {
		return invalid("fanout.capacity must be > 0")
	}
	if c.Worker.Batch <= 0 {
		return invalid("worker.batch must be > 0")
	}
	if c.Worker.Idle < 0 {
		return invalid("worker.idle must be >= 0")
	}

	switch c.Store.Backend {
	case StoreNone, StoreMemory:
	case StorePostgres:
		if c.Store.Postgres.DSN == "" {
			return invalid("store.postgres.dsn is required")
		}
	case StoreRedis:
		if c.Store.Redis.Addr == "" {
			return invalid("store.redis.addr is required")
		}
	default:
		return invalid("unknown store backend " + strconv.Quote(c.Store.Backend))
	}
	if c.Store.Backend != StoreNone {
		if c.Store.BatchSize <= 0 {
			return invalid("store.batch_size must be > 0")
		}
		if c.Store.FlushInterval <= 0 {
			return invalid("store.flush_interval must be > 0")
		}
	}

	if c.Sinks.Kafka.Enabled && (len(c.Sinks.Kafka.Brokers) == 0 || c.Sinks.Kafka.Topic == "") {
		return invalid("sinks.kafka needs brokers and topic")
	}
	if source == enum.SourceBinance && c.Binance.URL == "" {
		return invalid("binance.url is required")
	}
	if source == enum.SourceSim && (c.Sim.Rate < 0 || c.Sim.Price <= 0) {
		return invalid("sim.rate must be >= 0 and sim.price > 0")
	}
	if source == enum.SourceReplay && (c.Replay.Dir == "" || c.Replay.Speed < 0) {
		return invalid("replay.dir is required and replay.speed must be >= 0")
	}
	if c.Journal.Enabled {
		if c.Journal.Dir == "" || c.Journal.SegmentMaxBytes <= 0 {
			return invalid("journal needs a dir and segment_max_bytes > 0")
		}
		if source == enum.SourceReplay && c.Journal.Dir == c.Replay.Dir {
			return invalid("journal.dir must differ from replay.dir")
		}
	}
	return nil
}

// SourceKind returns the parsed source. Call after Validate.
func (c Config) SourceKind() enum.Source {
	s, _ := enum.ParseSource(c.Source)
	return s
}

// Duration is a time.Duration written as "250ms" in JSON and env values.
// Plain JSON numbers are read as nanoseconds.
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(time.Duration(d).String())), nil
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		return nil
	}
	if unquoted, err := strconv.Unquote(s); err == nil {
		return d.UnmarshalText([]byte(unquoted))
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return errors.Errorf("invalid duration %s", s)
	}
	*d = Duration(n)
	return nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}
