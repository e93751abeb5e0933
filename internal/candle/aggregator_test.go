package candle

import (
	"fmt"
	"sync"
	"testing"

	"mdi/internal/model"
	"mdi/pkg/exception"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTrade(symbol string, ts uint64, price, qty float64) model.Trade {
	return model.Trade{Symbol: symbol, Timestamp: ts, EventTime: ts, Price: price, Quantity: qty}
}

func TestNewAggregatorRejectsBadIntervals(t *testing.T) {
	_, err := NewAggregator()
	require.ErrorIs(t, err, exception.ErrInvalidInterval)

	_, err = NewAggregator(60, 0)
	require.ErrorIs(t, err, exception.ErrInvalidInterval)

	_, err = NewAggregator(60, 300, 60)
	require.ErrorIs(t, err, exception.ErrInvalidInterval)

	a, err := NewAggregator(Standard()...)
	require.NoError(t, err)
	assert.Equal(t, []uint64{60, 300, 900, 3600, 14400, 86400}, a.Intervals())
}

func TestProcessEventSingleBucket(t *testing.T) {
	a, err := NewAggregator(60)
	require.NoError(t, err)

	a.ProcessEvent(newTrade("BTCUSDT", 1_000_000, 100, 1))
	out := a.ProcessEvent(newTrade("BTCUSDT", 1_000_030, 102, 2))
	require.Len(t, out, 1)

	c, ok := a.Latest("BTCUSDT", 60)
	require.True(t, ok)
	assert.Equal(t, out[0], c)
	assert.Equal(t, uint64(960), c.Timestamp)
	assert.Equal(t, 100.0, c.Open)
	assert.Equal(t, 102.0, c.High)
	assert.Equal(t, 100.0, c.Low)
	assert.Equal(t, 102.0, c.Close)
	assert.Equal(t, 3.0, c.Volume)
	assert.Equal(t, uint64(2), c.NumberOfTrades)
	assert.Equal(t, uint64(960), c.OpenTime)
	assert.Equal(t, uint64(1020), c.CloseTime)
	assert.InDelta(t, 304.0, c.QuoteVolume, 1e-9)
}

func TestProcessEventAllIntervalsInOrder(t *testing.T) {
	a, err := NewAggregator(300, 60, 3600)
	require.NoError(t, err)

	out := a.ProcessEvent(newTrade("ETHUSDT", 3_725_000, 10, 1))
	require.Len(t, out, 3)
	assert.Equal(t, uint64(300), out[0].Interval)
	assert.Equal(t, uint64(3600), out[0].Timestamp)
	assert.Equal(t, uint64(60), out[1].Interval)
	assert.Equal(t, uint64(3720), out[1].Timestamp)
	assert.Equal(t, uint64(3600), out[2].Interval)
	assert.Equal(t, uint64(3600), out[2].Timestamp)
}

func TestBucketBoundary(t *testing.T) {
	a, err := NewAggregator(60)
	require.NoError(t, err)

	a.ProcessEvent(newTrade("BTCUSDT", 59_999, 1, 1))
	a.ProcessEvent(newTrade("BTCUSDT", 60_000, 2, 1))

	all := a.All("BTCUSDT", 60)
	require.Len(t, all, 2)
	assert.Equal(t, uint64(0), all[0].Timestamp)
	assert.Equal(t, uint64(60), all[1].Timestamp)
}

func TestZeroTimestampAccepted(t *testing.T) {
	a, err := NewAggregator(60)
	require.NoError(t, err)

	out := a.ProcessEvent(newTrade("BTCUSDT", 0, 5, 1))
	require.Len(t, out, 1)
	assert.Equal(t, uint64(0), out[0].Timestamp)
	assert.Equal(t, uint64(60), out[0].CloseTime)
}

func TestApplyEmitsClosedOnRollover(t *testing.T) {
	a, err := NewAggregator(60)
	require.NoError(t, err)

	ups := a.Apply(newTrade("BTCUSDT", 1_000_000, 100, 1), nil)
	require.Len(t, ups, 1)
	assert.False(t, ups[0].Closed)

	ups = a.Apply(newTrade("BTCUSDT", 1_020_000, 101, 1), ups[:0])
	require.Len(t, ups, 2)
	assert.True(t, ups[0].Closed)
	assert.Equal(t, uint64(960), ups[0].Candle.Timestamp)
	assert.Equal(t, 100.0, ups[0].Candle.Close)
	assert.False(t, ups[1].Closed)
	assert.Equal(t, uint64(1020), ups[1].Candle.Timestamp)

	// a late trade updates its old bucket and re-emits it closed
	ups = a.Apply(newTrade("BTCUSDT", 1_000_010, 99, 1), ups[:0])
	require.Len(t, ups, 1)
	assert.True(t, ups[0].Closed)
	assert.Equal(t, uint64(960), ups[0].Candle.Timestamp)
	assert.Equal(t, 99.0, ups[0].Candle.Low)

	latest, ok := a.Latest("BTCUSDT", 60)
	require.True(t, ok)
	assert.Equal(t, uint64(1020), latest.Timestamp)
}

func TestOutOfOrderWithinBucket(t *testing.T) {
	a, err := NewAggregator(60)
	require.NoError(t, err)

	a.ProcessEvent(newTrade("BTCUSDT", 1_000_030, 102, 1))
	a.ProcessEvent(newTrade("BTCUSDT", 1_000_000, 100, 1))

	c, ok := a.Latest("BTCUSDT", 60)
	require.True(t, ok)
	// open is the first applied trade, close the last applied one
	assert.Equal(t, 102.0, c.Open)
	assert.Equal(t, 100.0, c.Close)
}

func TestLatestUnknown(t *testing.T) {
	a, err := NewAggregator(60)
	require.NoError(t, err)

	_, ok := a.Latest("BTCUSDT", 60)
	assert.False(t, ok)

	a.ProcessEvent(newTrade("BTCUSDT", 1, 1, 1))
	_, ok = a.Latest("BTCUSDT", 300)
	assert.False(t, ok)
	assert.Nil(t, a.All("BTCUSDT", 300))
	assert.Nil(t, a.All("ETHUSDT", 60))
}

func TestReturnedCandlesAreCopies(t *testing.T) {
	a, err := NewAggregator(60)
	require.NoError(t, err)

	out := a.ProcessEvent(newTrade("BTCUSDT", 1, 1, 1))
	out[0].Close = 42

	c, _ := a.Latest("BTCUSDT", 60)
	assert.Equal(t, 1.0, c.Close)
}

func TestStatsSummaryClear(t *testing.T) {
	a, err := NewAggregator(60, 300)
	require.NoError(t, err)

	a.ProcessEvent(newTrade("BTCUSDT", 1_000_000, 100, 1))
	a.ProcessEvent(newTrade("BTCUSDT", 1_060_000, 104, 2))
	a.ProcessEvent(newTrade("ETHUSDT", 1_000_000, 10, 1))

	st := a.Stats()
	assert.Equal(t, 2, st.Instruments)
	// BTC: two 1m buckets + one 5m bucket, ETH: one of each
	assert.Equal(t, 5, st.Candles)
	assert.Equal(t, []uint64{60, 300}, st.Intervals)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, a.Symbols())

	sum, ok := a.Summary("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, uint64(2), sum.TradeCount)
	assert.Equal(t, 3.0, sum.Volume)
	assert.Equal(t, 100.0, sum.Open)
	assert.Equal(t, 104.0, sum.LastPrice)
	assert.Equal(t, uint64(1_060_000), sum.LastUpdate)

	a.Clear()
	st = a.Stats()
	assert.Zero(t, st.Instruments)
	assert.Zero(t, st.Candles)
	_, ok = a.Summary("BTCUSDT")
	assert.False(t, ok)
}

func TestConcurrentProcessEvent(t *testing.T) {
	a, err := NewAggregator(60, 300)
	require.NoError(t, err)

	const (
		writers   = 8
		perWriter = 2000
	)
	symbols := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				symbol := symbols[(w+i)%len(symbols)]
				a.ProcessEvent(newTrade(symbol, uint64(i)*100, float64(1+i%7), 1))
			}
		}(w)
	}
	for r := 0; r < 2; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				_, _ = a.Latest("BTCUSDT", 60)
				_ = a.Stats()
			}
		}()
	}
	wg.Wait()

	var trades uint64
	var volume float64
	for _, symbol := range symbols {
		for _, c := range a.All(symbol, 60) {
			trades += c.NumberOfTrades
			volume += c.Volume
			assert.GreaterOrEqual(t, c.High, max(c.Open, c.Close))
			assert.LessOrEqual(t, c.Low, min(c.Open, c.Close))
		}
	}
	assert.Equal(t, uint64(writers*perWriter), trades)
	assert.Equal(t, float64(writers*perWriter), volume)
}

func BenchmarkProcessEvent(b *testing.B) {
	a, err := NewAggregator(Standard()...)
	require.NoError(b, err)

	tr := newTrade("BTCUSDT", 1_000_000, 100, 1)
	for b.Loop() {
		tr.Timestamp += 10
		a.ProcessEvent(tr)
	}
}

func BenchmarkApplyParallel(b *testing.B) {
	a, err := NewAggregator(Standard()...)
	require.NoError(b, err)

	symbols := make([]string, 32)
	for i := range symbols {
		symbols[i] = fmt.Sprintf("SYM%02dUSDT", i)
	}

	b.RunParallel(func(pb *testing.PB) {
		var (
			i   int
			dst []model.CandleUpdate
		)
		for pb.Next() {
			i++
			dst = a.Apply(newTrade(symbols[i%len(symbols)], uint64(i)*10, 100, 1), dst[:0])
		}
	})
}
