package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"mdi/internal/model/enum"
	"mdi/pkg/exception"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, enum.SourceSim, cfg.SourceKind())
	assert.Equal(t, time.Millisecond, cfg.Worker.Idle.Std())
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `{
		"source": "binance",
		"symbols": ["SOLUSDT"],
		"intervals": [60, 300],
		"queue": {"capacity": 8},
		"worker": {"batch": 16, "idle": "250us"},
		"store": {"backend": "none", "flush_interval": 5000000},
		"sinks": {"kafka": {"enabled": true, "brokers": ["k1:9092"], "topic": "t"}}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, enum.SourceBinance, cfg.SourceKind())
	assert.Equal(t, []string{"SOLUSDT"}, cfg.Symbols)
	assert.Equal(t, []uint64{60, 300}, cfg.Intervals)
	assert.Equal(t, 8, cfg.Queue.Capacity)
	assert.Equal(t, 250*time.Microsecond, cfg.Worker.Idle.Std())
	assert.Equal(t, 5*time.Millisecond, cfg.Store.FlushInterval.Std())
	assert.Equal(t, StoreNone, cfg.Store.Backend)
	// untouched sections keep their defaults
	assert.Equal(t, 1024, cfg.Fanout.Capacity)
	assert.Equal(t, []string{"k1:9092"}, cfg.Sinks.Kafka.Brokers)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `{"queue": {"capacity": 8}, "symbols": ["SOLUSDT"]}`)
	t.Setenv("MDI_QUEUE_CAPACITY", "32")
	t.Setenv("MDI_SYMBOLS", "BTCUSDT,ETHUSDT")
	t.Setenv("MDI_INTERVALS", "60,3600")
	t.Setenv("MDI_WORKER_IDLE", "2ms")
	t.Setenv("MDI_STORE_REDIS_ADDR", "redis:6379")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.Queue.Capacity)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Symbols)
	assert.Equal(t, []uint64{60, 3600}, cfg.Intervals)
	assert.Equal(t, 2*time.Millisecond, cfg.Worker.Idle.Std())
	assert.Equal(t, "redis:6379", cfg.Store.Redis.Addr)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, `{`))
	require.ErrorIs(t, err, exception.ErrInvalidConfig)

	t.Setenv("MDI_QUEUE_CAPACITY", "lots")
	_, err = Load("")
	require.ErrorIs(t, err, exception.ErrInvalidConfig)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown source":     func(c *Config) { c.Source = "ftx" },
		"no symbols":         func(c *Config) { c.Symbols = nil },
		"blank symbol":       func(c *Config) { c.Symbols = []string{" "} },
		"no intervals":       func(c *Config) { c.Intervals = nil },
		"zero interval":      func(c *Config) { c.Intervals = []uint64{60, 0} },
		"duplicate interval": func(c *Config) { c.Intervals = []uint64{60, 60} },
		"zero queue":         func(c *Config) { c.Queue.Capacity = 0 },
		"zero fanout":        func(c *Config) { c.Fanout.Capacity = 0 },
		"zero batch":         func(c *Config) { c.Worker.Batch = 0 },
		"unknown backend":    func(c *Config) { c.Store.Backend = "rocks" },
		"postgres no dsn":    func(c *Config) { c.Store.Backend = StorePostgres },
		"redis no addr":      func(c *Config) { c.Store.Backend = StoreRedis; c.Store.Redis.Addr = "" },
		"zero flush":         func(c *Config) { c.Store.FlushInterval = 0 },
		"kafka no brokers":   func(c *Config) { c.Sinks.Kafka.Enabled = true },
		"binance no url":     func(c *Config) { c.Source = "binance"; c.Binance.URL = "" },
		"sim zero price":     func(c *Config) { c.Sim.Price = 0 },
		"replay no dir":      func(c *Config) { c.Source = "replay"; c.Replay.Dir = "" },
		"journal no dir":     func(c *Config) { c.Journal.Enabled = true; c.Journal.Dir = "" },
		"journal in replay":  func(c *Config) { c.Source = "replay"; c.Journal.Enabled = true },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), exception.ErrInvalidConfig)
		})
	}

	cfg := Default()
	cfg.Store.Backend = StoreNone
	cfg.Store.FlushInterval = 0
	require.NoError(t, cfg.Validate())

	cfg = Default()
	cfg.Source = "replay"
	cfg.Journal.Enabled = true
	cfg.Journal.Dir = "data/rerecord"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, enum.SourceReplay, cfg.SourceKind())
}

func TestDurationJSON(t *testing.T) {
	d := Duration(1500 * time.Millisecond)
	data, err := d.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1.5s"`, string(data))

	var got Duration
	require.NoError(t, got.UnmarshalJSON(data))
	assert.Equal(t, d, got)
	require.Error(t, got.UnmarshalJSON([]byte(`"soon"`)))
	require.Error(t, got.UnmarshalJSON([]byte(`true`)))
}
