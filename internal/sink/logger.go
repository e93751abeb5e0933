package sink

import (
	"context"
	"sync/atomic"

	"mdi/internal/model"

	"github.com/yanun0323/logs"
)

// Logger logs candle updates. Live updates are skipped unless Live is set.
type Logger struct {
	Live bool

	seen   atomic.Uint64
	closed atomic.Uint64
}

// NewLogger returns a logger sink.
func NewLogger(live bool) *Logger {
	return &Logger{Live: live}
}

func (l *Logger) Handle(_ context.Context, u model.CandleUpdate) error {
	l.seen.Add(1)
	if u.Closed {
		l.closed.Add(1)
	} else if !l.Live {
		return nil
	}

	c := u.Candle
	logs.Infof("kline %s bucket=%d closed=%t o=%g h=%g l=%g c=%g v=%g n=%d vwap=%g chg=%.3f%%",
		c.Key(), c.Timestamp, u.Closed, c.Open, c.High, c.Low, c.Close, c.Volume, c.NumberOfTrades, c.VWAP(), c.ChangePercent())
	return nil
}

// Seen returns the number of updates handled, live and closed.
func (l *Logger) Seen() uint64 {
	return l.seen.Load()
}

// Closed returns the number of closed updates handled.
func (l *Logger) Closed() uint64 {
	return l.closed.Load()
}
