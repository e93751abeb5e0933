package mdg

import (
	"math"
	"math/rand/v2"
	"time"

	"mdi/internal/model"
	"mdi/pkg/exception"

	"github.com/yanun0323/errors"
)

// Generator creates synthetic trades following a bounded random walk per symbol.
// A Generator is not safe for concurrent use.
type Generator struct {
	symbols []string
	prices  []float64
	ids     []uint64
	rng     *rand.Rand
	index   int
}

// NewGenerator creates a generator cycling through symbols, all starting at basePrice.
func NewGenerator(symbols []string, basePrice float64, seed int64) (*Generator, error) {
	if len(symbols) == 0 {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "generator needs at least one symbol")
	}
	if basePrice <= 0 {
		return nil, errors.Wrapf(exception.ErrInvalidArgument, "base price must be > 0, got %g", basePrice)
	}
	prices := make([]float64, len(symbols))
	for i := range prices {
		prices[i] = basePrice
	}
	return &Generator{
		symbols: append([]string(nil), symbols...),
		prices:  prices,
		ids:     make([]uint64, len(symbols)),
		rng:     rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15)),
	}, nil
}

// Next creates the next trade in sequence, stamped at now.
func (g *Generator) Next(now time.Time) model.Trade {
	i := g.index
	g.index = (g.index + 1) % len(g.symbols)

	// up to 0.1% per step, prices kept on a 0.01 tick
	step := (g.rng.Float64()*2 - 1) * 0.001
	price := round(g.prices[i]*(1+step), 100)
	if price < 0.01 {
		price = 0.01
	}
	g.prices[i] = price
	g.ids[i]++

	ms := uint64(now.UnixMilli())
	return model.Trade{
		Symbol:       g.symbols[i],
		Timestamp:    ms,
		EventTime:    ms,
		Price:        price,
		Quantity:     round(0.0001+g.rng.Float64(), 10_000),
		IsBuyerMaker: g.rng.IntN(2) == 0,
		TradeID:      g.ids[i],
	}
}

// Symbols returns the generated symbols.
func (g *Generator) Symbols() []string {
	return append([]string(nil), g.symbols...)
}

func round(v, scale float64) float64 {
	return math.Round(v*scale) / scale
}
