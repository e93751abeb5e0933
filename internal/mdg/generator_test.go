package mdg

import (
	"math"
	"testing"
	"time"

	"mdi/pkg/exception"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGeneratorValidation(t *testing.T) {
	_, err := NewGenerator(nil, 100, 1)
	require.ErrorIs(t, err, exception.ErrInvalidArgument)
	_, err = NewGenerator([]string{"BTCUSDT"}, 0, 1)
	require.ErrorIs(t, err, exception.ErrInvalidArgument)
}

func TestGeneratorNext(t *testing.T) {
	g, err := NewGenerator([]string{"BTCUSDT", "ETHUSDT"}, 100, 7)
	require.NoError(t, err)

	now := time.UnixMilli(1_000_000)
	ids := map[string]uint64{}
	for i := 0; i < 1000; i++ {
		tr := g.Next(now)
		assert.Equal(t, uint64(1_000_000), tr.Timestamp)
		assert.Positive(t, tr.Price)
		assert.Positive(t, tr.Quantity)
		assert.Equal(t, tr.Price, math.Round(tr.Price*100)/100)
		assert.Equal(t, ids[tr.Symbol]+1, tr.TradeID)
		ids[tr.Symbol] = tr.TradeID
	}
	assert.Equal(t, uint64(500), ids["BTCUSDT"])
	assert.Equal(t, uint64(500), ids["ETHUSDT"])
}

func TestGeneratorDeterministic(t *testing.T) {
	a, err := NewGenerator([]string{"BTCUSDT"}, 100, 42)
	require.NoError(t, err)
	b, err := NewGenerator([]string{"BTCUSDT"}, 100, 42)
	require.NoError(t, err)

	now := time.Now()
	for i := 0; i < 100; i++ {
		require.Equal(t, a.Next(now), b.Next(now))
	}
}
