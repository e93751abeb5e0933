// Package storetest holds the behavior every store backend must share.
package storetest

import (
	"context"
	"testing"

	"mdi/internal/model"
	"mdi/internal/store"
	"mdi/pkg/exception"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises s. The store must start empty for the symbols used here.
func Run(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("trades by key and prefix", func(t *testing.T) {
		trades := []model.Trade{
			{Symbol: "BTCUSDT", Timestamp: 1_000_000, Price: 100, Quantity: 1, TradeID: 10},
			{Symbol: "BTCUSDT", Timestamp: 1_000_001, Price: 101, Quantity: 2, TradeID: 9},
			{Symbol: "BTCUSDT", Timestamp: 1_000_002, Price: 102, Quantity: 3, TradeID: 100},
			{Symbol: "BTCUSDTX", Timestamp: 1_000_003, Price: 1, Quantity: 1, TradeID: 1},
		}
		require.NoError(t, s.WriteTrades(ctx, trades))

		got, err := s.Trade(ctx, "BTCUSDT", 9)
		require.NoError(t, err)
		assert.Equal(t, trades[1], got)

		_, err = s.Trade(ctx, "BTCUSDT", 11)
		require.ErrorIs(t, err, exception.ErrNotFound)

		all, err := s.Trades(ctx, "BTCUSDT", 0)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, uint64(9), all[0].TradeID)
		assert.Equal(t, uint64(10), all[1].TradeID)
		assert.Equal(t, uint64(100), all[2].TradeID)

		limited, err := s.Trades(ctx, "BTCUSDT", 2)
		require.NoError(t, err)
		require.Len(t, limited, 2)
		assert.Equal(t, uint64(10), limited[1].TradeID)

		none, err := s.Trades(ctx, "NOPE", 10)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("candles overwrite by key", func(t *testing.T) {
		c1 := model.NewCandle("ETHUSDT", 960, 60, 10)
		c2 := model.NewCandle("ETHUSDT", 1020, 60, 11)
		c5 := model.NewCandle("ETHUSDT", 900, 300, 10)
		require.NoError(t, s.WriteCandles(ctx, []model.Candle{c2, c1, c5}))

		c1.Apply(model.Trade{Symbol: "ETHUSDT", Price: 12, Quantity: 1})
		require.NoError(t, s.WriteCandles(ctx, []model.Candle{c1}))

		got, err := s.Candle(ctx, "ETHUSDT", 60, 960)
		require.NoError(t, err)
		assert.Equal(t, c1, got)

		_, err = s.Candle(ctx, "ETHUSDT", 60, 0)
		require.ErrorIs(t, err, exception.ErrNotFound)

		list, err := s.Candles(ctx, "ETHUSDT", 60)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, uint64(960), list[0].Timestamp)
		assert.Equal(t, uint64(1020), list[1].Timestamp)

		list, err = s.Candles(ctx, "ETHUSDT", 300)
		require.NoError(t, err)
		require.Len(t, list, 1)
	})

	t.Run("empty writes", func(t *testing.T) {
		require.NoError(t, s.WriteTrades(ctx, nil))
		require.NoError(t, s.WriteCandles(ctx, nil))
	})
}
