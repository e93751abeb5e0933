package recorder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"mdi/internal/ingest/binance"
	"mdi/internal/model"
	"mdi/pkg/exception"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTrades(n int) []model.Trade {
	out := make([]model.Trade, n)
	for i := range out {
		out[i] = model.Trade{
			Symbol:    "BTCUSDT",
			Timestamp: uint64(1_700_000_000_000 + i),
			EventTime: uint64(1_700_000_000_000 + i),
			Price:     100 + float64(i)*0.25,
			Quantity:  0.5,
			TradeID:   uint64(i + 1),
		}
	}
	return out
}

func writeJournal(t *testing.T, cfg Config, trades []model.Trade) {
	t.Helper()
	w, err := NewWriter(cfg)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	for _, tr := range trades {
		require.NoError(t, w.TryAppend(tr))
	}
	require.NoError(t, w.Close())
	assert.Equal(t, uint64(len(trades)), w.Written())
}

func readJournal(t *testing.T, dir string) ([]Header, []model.Trade) {
	t.Helper()
	pb, err := NewPlayback(PlaybackConfig{Dir: dir})
	require.NoError(t, err)

	dec := binance.NewDecoder()
	var (
		headers []Header
		trades  []model.Trade
	)
	require.NoError(t, pb.Run(context.Background(), func(h Header, payload []byte) error {
		tr, err := dec.Decode(payload)
		if err != nil {
			return err
		}
		headers = append(headers, h)
		trades = append(trades, tr)
		return nil
	}))
	return headers, trades
}

func TestJournalRoundTrip(t *testing.T) {
	dir := t.TempDir()
	want := sampleTrades(100)
	writeJournal(t, DefaultConfig(dir), want)

	headers, got := readJournal(t, dir)
	assert.Equal(t, want, got)
	for i, h := range headers {
		assert.Equal(t, uint64(i+1), h.Seq)
		assert.Positive(t, h.TsRecv)
	}
}

func TestJournalRotatesSegments(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.SegmentMaxBytes = 1024
	want := sampleTrades(50)
	writeJournal(t, cfg, want)

	pb, err := NewPlayback(PlaybackConfig{Dir: dir})
	require.NoError(t, err)
	files, err := pb.Files()
	require.NoError(t, err)
	assert.Greater(t, len(files), 1)
	name := regexp.MustCompile(`^trades-\d{8}-\d{6}-\d{6}\.jnl$`)
	for _, f := range files {
		assert.Regexp(t, name, filepath.Base(f))
	}

	_, got := readJournal(t, dir)
	assert.Equal(t, want, got)
}

func TestJournalDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	writeJournal(t, DefaultConfig(dir), sampleTrades(3))

	pb, err := NewPlayback(PlaybackConfig{Dir: dir})
	require.NoError(t, err)
	files, err := pb.Files()
	require.NoError(t, err)
	require.Len(t, files, 1)

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	data[recordHeaderSize+5] ^= 0xff
	require.NoError(t, os.WriteFile(files[0], data, 0o644))

	err = pb.Run(context.Background(), func(Header, []byte) error { return nil })
	require.ErrorIs(t, err, exception.ErrJournalChecksum)

	// a truncated tail is reported as corruption, not as a clean end
	require.NoError(t, os.WriteFile(files[0], data[:len(data)-2], 0o644))
	pb, err = NewPlayback(PlaybackConfig{Dir: dir, DisableChecksum: true})
	require.NoError(t, err)
	err = pb.Run(context.Background(), func(Header, []byte) error { return nil })
	require.ErrorIs(t, err, exception.ErrJournalCorrupt)
}

func TestWriterLifecycle(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.QueueSize = 1
	w, err := NewWriter(cfg)
	require.NoError(t, err)

	require.ErrorIs(t, w.TryAppend(model.Trade{}), exception.ErrJournalNotStarted)

	// started without a loop draining the queue
	w.started.Store(true)
	require.NoError(t, w.TryAppend(model.Trade{Symbol: "X"}))
	require.ErrorIs(t, w.TryAppend(model.Trade{Symbol: "X"}), exception.ErrJournalFull)

	w.started.Store(false)
	require.NoError(t, w.Start(context.Background()))
	require.ErrorIs(t, w.Start(context.Background()), exception.ErrJournalStarted)
	require.NoError(t, w.Close())
	require.ErrorIs(t, w.TryAppend(model.Trade{}), exception.ErrJournalClosed)
	assert.Equal(t, uint64(1), w.Written())
}

func TestWriterCloseWhileAppending(t *testing.T) {
	w, err := NewWriter(DefaultConfig(t.TempDir()))
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted uint64
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, tr := range sampleTrades(500) {
				err := w.TryAppend(tr)
				if err == nil {
					mu.Lock()
					accepted++
					mu.Unlock()
					continue
				}
				if errors.Is(err, exception.ErrJournalClosed) {
					return
				}
				assert.ErrorIs(t, err, exception.ErrJournalFull)
			}
		}()
	}

	require.NoError(t, w.Close())
	wg.Wait()
	assert.Equal(t, accepted, w.Written())
}

func TestConfigValidate(t *testing.T) {
	require.ErrorIs(t, Config{}.Validate(), exception.ErrInvalidConfig)
	require.NoError(t, DefaultConfig("x").Validate())

	_, err := NewPlayback(PlaybackConfig{})
	require.ErrorIs(t, err, exception.ErrInvalidConfig)
	_, err = NewPlayback(PlaybackConfig{Dir: "x", Speed: -1})
	require.ErrorIs(t, err, exception.ErrInvalidConfig)
}

type fakeClock struct {
	slept []time.Duration
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.slept = append(c.slept, d)
	return nil
}

func TestPlaybackPacing(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(DefaultConfig(dir))
	require.NoError(t, err)
	base := time.Unix(1_700_000_000, 0)
	step := 0
	w.now = func() time.Time {
		return base.Add(time.Duration(step) * 100 * time.Millisecond)
	}
	require.NoError(t, w.Start(context.Background()))
	for _, tr := range sampleTrades(3) {
		require.NoError(t, w.TryAppend(tr))
		step++
	}
	require.NoError(t, w.Close())

	clock := &fakeClock{}
	pb, err := NewPlayback(PlaybackConfig{Dir: dir, Speed: 2})
	require.NoError(t, err)
	pb.WithClock(clock)

	n := 0
	require.NoError(t, pb.Run(context.Background(), func(Header, []byte) error {
		n++
		return nil
	}))
	assert.Equal(t, 3, n)
	assert.Equal(t, []time.Duration{50 * time.Millisecond, 50 * time.Millisecond}, clock.slept)
}
