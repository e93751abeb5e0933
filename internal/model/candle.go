package model

import "strconv"

// Candle is the OHLCV summary of one bucket for one symbol and interval.
type Candle struct {
	Symbol         string  `json:"symbol"`
	Timestamp      uint64  `json:"timestamp"` // bucket start, seconds
	Interval       uint64  `json:"interval"`  // seconds
	Open           float64 `json:"open"`
	High           float64 `json:"high"`
	Low            float64 `json:"low"`
	Close          float64 `json:"close"`
	Volume         float64 `json:"volume"`
	QuoteVolume    float64 `json:"quote_asset_volume"`
	NumberOfTrades uint64  `json:"number_of_trades"`
	OpenTime       uint64  `json:"open_time"`
	CloseTime      uint64  `json:"close_time"`
}

// NewCandle opens an empty candle priced at open.
func NewCandle(symbol string, bucket, interval uint64, open float64) Candle {
	return Candle{
		Symbol:    symbol,
		Timestamp: bucket,
		Interval:  interval,
		Open:      open,
		High:      open,
		Low:       open,
		Close:     open,
		OpenTime:  bucket,
		CloseTime: bucket + interval,
	}
}

// Apply folds a trade into the candle.
func (c *Candle) Apply(t Trade) {
	if t.Price > c.High {
		c.High = t.Price
	}
	if t.Price < c.Low {
		c.Low = t.Price
	}
	c.Close = t.Price
	c.Volume += t.Quantity
	c.QuoteVolume += t.Price * t.Quantity
	c.NumberOfTrades++
}

// VWAP returns the volume weighted average price, 0 without volume.
func (c Candle) VWAP() float64 {
	if c.Volume == 0 {
		return 0
	}
	return c.QuoteVolume / c.Volume
}

// ChangePercent returns the close to open change in percent, 0 without open.
func (c Candle) ChangePercent() float64 {
	if c.Open == 0 {
		return 0
	}
	return (c.Close - c.Open) / c.Open * 100
}

// Key returns the fan-out key of the candle.
func (c Candle) Key() Key {
	return Key{Symbol: c.Symbol, Interval: c.Interval}
}

// CandleUpdate is the unit published to subscribers.
type CandleUpdate struct {
	Candle Candle `json:"kline"`
	Closed bool   `json:"is_closed"`
}

// Key identifies one broadcast channel.
type Key struct {
	Symbol   string
	Interval uint64
}

func (k Key) String() string {
	return k.Symbol + ":" + strconv.FormatUint(k.Interval, 10)
}

// InstrumentSummary tracks running totals of one symbol across all buckets.
type InstrumentSummary struct {
	Symbol     string  `json:"symbol"`
	TradeCount uint64  `json:"tick_count"`
	Volume     float64 `json:"volume"`
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	LastPrice  float64 `json:"last_price"`
	LastUpdate uint64  `json:"last_update"`
}

// Apply folds a trade into the summary.
func (s *InstrumentSummary) Apply(t Trade) {
	if s.TradeCount == 0 {
		s.Open = t.Price
		s.High = t.Price
		s.Low = t.Price
	}
	s.TradeCount++
	s.Volume += t.Quantity
	if t.Price > s.High {
		s.High = t.Price
	}
	if t.Price < s.Low {
		s.Low = t.Price
	}
	s.LastPrice = t.Price
	s.LastUpdate = t.Timestamp
}
