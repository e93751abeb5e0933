package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTradeBucketStart(t *testing.T) {
	trade := Trade{Timestamp: 1_000_000}
	assert.Equal(t, uint64(960), trade.BucketStart(60))
	assert.Equal(t, uint64(900), trade.BucketStart(300))
	assert.Equal(t, uint64(0), trade.BucketStart(3600))
	assert.Equal(t, uint64(0), Trade{}.BucketStart(60))
}

func TestCandleApply(t *testing.T) {
	c := NewCandle("BTCUSDT", 960, 60, 100)
	c.Apply(Trade{Price: 100, Quantity: 1})
	c.Apply(Trade{Price: 102, Quantity: 2})
	c.Apply(Trade{Price: 99, Quantity: 1})

	assert.Equal(t, 100.0, c.Open)
	assert.Equal(t, 102.0, c.High)
	assert.Equal(t, 99.0, c.Low)
	assert.Equal(t, 99.0, c.Close)
	assert.Equal(t, 4.0, c.Volume)
	assert.Equal(t, 403.0, c.QuoteVolume)
	assert.Equal(t, uint64(3), c.NumberOfTrades)
	assert.Equal(t, uint64(960), c.OpenTime)
	assert.Equal(t, uint64(1020), c.CloseTime)
}

func TestCandleDerived(t *testing.T) {
	c := NewCandle("BTCUSDT", 0, 60, 100)
	assert.Zero(t, c.VWAP())
	assert.Zero(t, c.ChangePercent())

	c.Apply(Trade{Price: 110, Quantity: 2})
	assert.InDelta(t, 110.0, c.VWAP(), 1e-9)
	assert.InDelta(t, 10.0, c.ChangePercent(), 1e-9)

	assert.Zero(t, Candle{Close: 1}.ChangePercent())
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "BTCUSDT:60", Key{Symbol: "BTCUSDT", Interval: 60}.String())
	assert.Equal(t, Key{Symbol: "ETHUSDT", Interval: 300}, NewCandle("ETHUSDT", 0, 300, 1).Key())
}

func TestInstrumentSummaryApply(t *testing.T) {
	var s InstrumentSummary
	s.Apply(Trade{Price: 10, Quantity: 1, Timestamp: 5})
	s.Apply(Trade{Price: 12, Quantity: 1, Timestamp: 6})
	s.Apply(Trade{Price: 8, Quantity: 0.5, Timestamp: 7})

	assert.Equal(t, uint64(3), s.TradeCount)
	assert.Equal(t, 10.0, s.Open)
	assert.Equal(t, 12.0, s.High)
	assert.Equal(t, 8.0, s.Low)
	assert.Equal(t, 8.0, s.LastPrice)
	assert.Equal(t, 2.5, s.Volume)
	assert.Equal(t, uint64(7), s.LastUpdate)
}
