package store

import (
	"context"
	"strconv"

	"mdi/internal/model"
	"mdi/pkg/exception"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
)

// Store persists raw trades and candles under lexically ordered keys.
type Store interface {
	WriteTrades(ctx context.Context, trades []model.Trade) error
	WriteCandles(ctx context.Context, candles []model.Candle) error

	// Trade returns exception.ErrNotFound when the key is absent.
	Trade(ctx context.Context, symbol string, tradeID uint64) (model.Trade, error)
	// Candle returns exception.ErrNotFound when the key is absent.
	Candle(ctx context.Context, symbol string, interval, bucket uint64) (model.Candle, error)

	// Trades returns up to limit trades of the symbol in trade id order; limit <= 0 means all.
	Trades(ctx context.Context, symbol string, limit int) ([]model.Trade, error)
	// Candles returns every stored candle of the key in bucket order.
	Candles(ctx context.Context, symbol string, interval uint64) ([]model.Candle, error)

	Close() error
}

const (
	tradeNamespace  = "tick:"
	candleNamespace = "kline:"
	numberWidth     = 20 // len(strconv.FormatUint(math.MaxUint64, 10))
)

// TradeKey returns tick:{symbol}:{trade_id}.
func TradeKey(symbol string, tradeID uint64) string {
	b := make([]byte, 0, len(tradeNamespace)+len(symbol)+1+numberWidth)
	b = append(b, tradeNamespace...)
	b = append(b, symbol...)
	b = append(b, ':')
	return string(appendPadded(b, tradeID))
}

// TradePrefix returns the key prefix shared by every trade of the symbol.
func TradePrefix(symbol string) string {
	return tradeNamespace + symbol + ":"
}

// CandleKey returns kline:{symbol}:{interval}:{bucket}.
func CandleKey(symbol string, interval, bucket uint64) string {
	b := make([]byte, 0, len(candleNamespace)+len(symbol)+2+2*numberWidth)
	b = append(b, candleNamespace...)
	b = append(b, symbol...)
	b = append(b, ':')
	b = appendPadded(b, interval)
	b = append(b, ':')
	return string(appendPadded(b, bucket))
}

// CandlePrefix returns the key prefix shared by every candle of the symbol and interval.
func CandlePrefix(symbol string, interval uint64) string {
	b := make([]byte, 0, len(candleNamespace)+len(symbol)+2+numberWidth)
	b = append(b, candleNamespace...)
	b = append(b, symbol...)
	b = append(b, ':')
	b = appendPadded(b, interval)
	return string(append(b, ':'))
}

// appendPadded zero-pads n to numberWidth digits so lexical order is numeric order.
func appendPadded(b []byte, n uint64) []byte {
	var digits [numberWidth]byte
	s := strconv.AppendUint(digits[:0], n, 10)
	for i := len(s); i < numberWidth; i++ {
		b = append(b, '0')
	}
	return append(b, s...)
}

// EncodeTrade marshals a trade to its JSON record.
func EncodeTrade(t model.Trade) ([]byte, error) {
	data, err := sonic.Marshal(t)
	if err != nil {
		return nil, errors.Wrap(err, "encode trade").With("trade_id", t.TradeID)
	}
	return data, nil
}

// DecodeTrade unmarshals a JSON trade record.
func DecodeTrade(data []byte) (model.Trade, error) {
	var t model.Trade
	if err := sonic.Unmarshal(data, &t); err != nil {
		return model.Trade{}, errors.Wrap(exception.ErrStorage, "decode trade: "+err.Error())
	}
	return t, nil
}

// EncodeCandle marshals a candle to its JSON record.
func EncodeCandle(c model.Candle) ([]byte, error) {
	data, err := sonic.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(err, "encode candle").With("key", c.Key().String())
	}
	return data, nil
}

// DecodeCandle unmarshals a JSON candle record.
func DecodeCandle(data []byte) (model.Candle, error) {
	var c model.Candle
	if err := sonic.Unmarshal(data, &c); err != nil {
		return model.Candle{}, errors.Wrap(exception.ErrStorage, "decode candle: "+err.Error())
	}
	return c, nil
}

// Record is one encoded key/value pair ready for a backend write.
type Record struct {
	Key   string
	Value []byte
}

// TradeRecords encodes trades into records.
func TradeRecords(trades []model.Trade) ([]Record, error) {
	out := make([]Record, 0, len(trades))
	for _, t := range trades {
		v, err := EncodeTrade(t)
		if err != nil {
			return nil, err
		}
		out = append(out, Record{Key: TradeKey(t.Symbol, t.TradeID), Value: v})
	}
	return out, nil
}

// CandleRecords encodes candles into records.
func CandleRecords(candles []model.Candle) ([]Record, error) {
	out := make([]Record, 0, len(candles))
	for _, c := range candles {
		v, err := EncodeCandle(c)
		if err != nil {
			return nil, err
		}
		out = append(out, Record{Key: CandleKey(c.Symbol, c.Interval, c.Timestamp), Value: v})
	}
	return out, nil
}
