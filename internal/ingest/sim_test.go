package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"mdi/internal/bus"
	"mdi/internal/mdg"
	"mdi/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collectSink struct {
	mu     sync.Mutex
	trades []model.Trade
	failed int
}

func (s *collectSink) Push(t model.Trade) bool {
	s.mu.Lock()
	s.trades = append(s.trades, t)
	s.mu.Unlock()
	return true
}

func (s *collectSink) DecodeFailed(error) {
	s.mu.Lock()
	s.failed++
	s.mu.Unlock()
}

func (s *collectSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trades)
}

func TestSimulateLimit(t *testing.T) {
	gen, err := mdg.NewGenerator([]string{"BTCUSDT", "ETHUSDT"}, 100, 3)
	require.NoError(t, err)

	sink := &collectSink{}
	n := Simulate(context.Background(), gen, sink, SimOption{Limit: 100})
	assert.Equal(t, uint64(100), n)
	require.Len(t, sink.trades, 100)
	assert.Zero(t, sink.failed)

	// the wire round trip keeps the generated values
	ref, err := mdg.NewGenerator([]string{"BTCUSDT", "ETHUSDT"}, 100, 3)
	require.NoError(t, err)
	want := ref.Next(time.UnixMilli(int64(sink.trades[0].Timestamp)))
	assert.Equal(t, want, sink.trades[0])
}

func TestSimulateStopsOnCancel(t *testing.T) {
	gen, err := mdg.NewGenerator([]string{"BTCUSDT"}, 100, 3)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	sink := &collectSink{}
	done := make(chan uint64)
	go func() { done <- Simulate(ctx, gen, sink, SimOption{Rate: 1000}) }()

	require.Eventually(t, func() bool { return sink.len() > 0 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case n := <-done:
		assert.Equal(t, uint64(sink.len()), n)
	case <-time.After(time.Second):
		t.Fatal("Simulate did not stop")
	}
}

func TestSimulateIntoFeeder(t *testing.T) {
	gen, err := mdg.NewGenerator([]string{"BTCUSDT"}, 100, 3)
	require.NoError(t, err)

	q := bus.NewQueue(16)
	f := NewFeeder(q, nil)
	Simulate(context.Background(), gen, f, SimOption{Limit: 20})

	assert.Equal(t, 16, q.Len())
	assert.Equal(t, uint64(4), f.Dropped())
}
