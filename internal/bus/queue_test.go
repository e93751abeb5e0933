package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"mdi/internal/model"
	"mdi/pkg/exception"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trade(id uint64) model.Trade {
	return model.Trade{Symbol: "BTCUSDT", Timestamp: 1_000_000 + id, Price: 100, Quantity: 1, TradeID: id}
}

func TestQueueFull(t *testing.T) {
	q := NewQueue(2)
	require.NoError(t, q.Push(trade(1)))
	require.NoError(t, q.Push(trade(2)))

	err := q.Push(trade(3))
	require.ErrorIs(t, err, exception.ErrQueueFull)
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, 2, q.Cap())
	assert.Equal(t, 100.0, q.UsagePercent())
}

func TestQueuePopOrder(t *testing.T) {
	q := NewQueue(8)
	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, q.Push(trade(i)))
	}

	got, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, uint64(1), got.TradeID)

	batch := q.PopBatch(nil, 3)
	require.Len(t, batch, 3)
	assert.Equal(t, uint64(2), batch[0].TradeID)
	assert.Equal(t, uint64(4), batch[2].TradeID)

	batch = q.PopBatch(batch[:0], 10)
	require.Len(t, batch, 1)
	assert.Equal(t, uint64(5), batch[0].TradeID)

	_, ok = q.Pop()
	assert.False(t, ok)
	assert.True(t, q.IsEmpty())
	assert.Zero(t, q.UsagePercent())
}

func TestQueueWrapAround(t *testing.T) {
	q := NewQueue(3)
	for round := uint64(0); round < 10; round++ {
		for i := uint64(0); i < 3; i++ {
			require.NoError(t, q.Push(trade(round*3+i)))
		}
		require.ErrorIs(t, q.Push(trade(999)), exception.ErrQueueFull)
		for i := uint64(0); i < 3; i++ {
			got, ok := q.Pop()
			require.True(t, ok)
			require.Equal(t, round*3+i, got.TradeID)
		}
	}
}

func TestQueueCapacityClamp(t *testing.T) {
	q := NewQueue(0)
	assert.Equal(t, 1, q.Cap())
	require.NoError(t, q.Push(trade(1)))
	require.ErrorIs(t, q.Push(trade(2)), exception.ErrQueueFull)
}

func TestQueueCloseAndClear(t *testing.T) {
	q := NewQueue(4)
	require.NoError(t, q.Push(trade(1)))
	require.NoError(t, q.Push(trade(2)))

	q.Close()
	assert.True(t, q.Closed())
	require.ErrorIs(t, q.Push(trade(3)), exception.ErrQueueClosed)

	assert.Equal(t, 2, q.Clear())
	assert.Zero(t, q.Len())
}

func TestQueueConcurrentProducersConsumers(t *testing.T) {
	const (
		producers   = 4
		consumers   = 4
		perProducer = 5000
	)
	q := NewQueue(producers * perProducer)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				id := uint64(p)<<32 | uint64(i)
				require.NoError(t, q.Push(trade(id)))
			}
		}(p)
	}
	wg.Wait()
	require.Equal(t, producers*perProducer, q.Len())

	var (
		mu   sync.Mutex
		seen = make(map[uint64]int, producers*perProducer)
	)
	for c := 0; c < consumers; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			last := make(map[uint64]int64, producers)
			for {
				got, ok := q.Pop()
				if !ok {
					return
				}
				p, i := got.TradeID>>32, int64(got.TradeID&0xffffffff)
				prev, found := last[p]
				if found && i <= prev {
					t.Errorf("producer %d out of order: %d after %d", p, i, prev)
				}
				last[p] = i
				mu.Lock()
				seen[got.TradeID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, producers*perProducer)
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("trade %d popped %d times", id, n)
		}
	}
}

func TestQueueConcurrentPushRespectsCapacity(t *testing.T) {
	const capacity = 64
	q := NewQueue(capacity)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if q.Push(trade(uint64(i))) == nil {
					mu.Lock()
					accepted++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, capacity, accepted)
	assert.Equal(t, capacity, q.Len())
}

func TestQueueRunDrainsOnCancel(t *testing.T) {
	q := NewQueue(16)
	ctx, cancel := context.WithCancel(context.Background())

	var (
		mu  sync.Mutex
		got []uint64
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		q.Run(ctx, 4, time.Millisecond, func(batch []model.Trade) {
			mu.Lock()
			for _, tr := range batch {
				got = append(got, tr.TradeID)
			}
			mu.Unlock()
		})
	}()

	for i := uint64(1); i <= 10; i++ {
		require.NoError(t, q.Push(trade(i)))
	}
	cancel()
	<-done

	// Trades pushed before cancel are either handled by the loop or by the final drain.
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 10)
	for i, id := range got {
		assert.Equal(t, uint64(i+1), id)
	}
}

func TestQueueRunStopsWhenClosed(t *testing.T) {
	q := NewQueue(4)
	require.NoError(t, q.Push(trade(1)))
	q.Close()

	var n int
	q.Run(context.Background(), 2, 0, func(batch []model.Trade) { n += len(batch) })
	assert.Equal(t, 1, n)
}

func BenchmarkQueuePushPop(b *testing.B) {
	q := NewQueue(1024)
	tr := trade(1)
	for b.Loop() {
		_ = q.Push(tr)
		_, _ = q.Pop()
	}
}
