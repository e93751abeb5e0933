package ingest

import (
	"context"
	"time"

	"mdi/internal/ingest/binance"
	"mdi/internal/mdg"

	"github.com/yanun0323/logs"
)

const simTick = 10 * time.Millisecond

// SimOption paces a simulated source.
type SimOption struct {
	Rate  int    // trades per second, 0 runs unthrottled
	Limit uint64 // stop after this many trades, 0 runs until ctx is done
}

// Simulate feeds generated trades to sink until ctx is done or opt.Limit is
// reached, and returns the number of trades generated. Every trade is encoded
// as a Binance trade message and decoded again, so the source exercises the
// same wire path as the live feed.
func Simulate(ctx context.Context, gen *mdg.Generator, sink binance.Sink, opt SimOption) uint64 {
	var (
		dec  = binance.NewDecoder()
		buf  = make([]byte, 0, 256)
		sent uint64
	)

	emit := func(now time.Time) bool {
		buf = binance.AppendTrade(buf[:0], gen.Next(now))
		t, err := dec.Decode(buf)
		if err != nil {
			sink.DecodeFailed(err)
		} else {
			sink.Push(t)
		}
		sent++
		return opt.Limit == 0 || sent < opt.Limit
	}

	logs.Infof("simulated source started, symbols: %v, rate: %d/s", gen.Symbols(), opt.Rate)
	defer func() { logs.Infof("simulated source stopped after %d trades", sent) }()

	if opt.Rate <= 0 {
		for {
			if sent&1023 == 0 && ctx.Err() != nil {
				return sent
			}
			if !emit(time.Now()) {
				return sent
			}
		}
	}

	ticker := time.NewTicker(simTick)
	defer ticker.Stop()

	last := time.Now()
	var carry float64
	for {
		select {
		case <-ctx.Done():
			return sent
		case now := <-ticker.C:
			carry += float64(opt.Rate) * now.Sub(last).Seconds()
			last = now
			for ; carry >= 1; carry-- {
				if !emit(now) {
					return sent
				}
			}
		}
	}
}
