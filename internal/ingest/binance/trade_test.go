package binance

import (
	"testing"

	"mdi/internal/model"
	"mdi/pkg/exception"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePayload = `{"e":"trade","E":1672515782136,"s":"BNBBTC","t":12345,"p":"0.001","q":"100","T":1672515782130,"m":true,"M":true}`

func TestDecoderDecode(t *testing.T) {
	d := NewDecoder()
	tr, err := d.Decode([]byte(samplePayload))
	require.NoError(t, err)
	assert.Equal(t, model.Trade{
		Symbol:       "BNBBTC",
		Timestamp:    1672515782136,
		EventTime:    1672515782130,
		Price:        0.001,
		Quantity:     100,
		IsBuyerMaker: true,
		TradeID:      12345,
	}, tr)
}

func TestDecoderEventTimeFallback(t *testing.T) {
	d := NewDecoder()
	tr, err := d.Decode([]byte(`{"e":"trade","E":5,"s":"X","t":1,"p":"1","q":"2"}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), tr.EventTime)
	assert.False(t, tr.IsBuyerMaker)
}

func TestDecoderRejects(t *testing.T) {
	d := NewDecoder()
	for _, payload := range []string{
		`{"result":null,"id":1}`,
		`{"e":"aggTrade","E":1,"s":"X","t":1,"p":"1","q":"1"}`,
		`{"e":"trade","E":1,"t":1,"p":"1","q":"1"}`,
		`{"e":"trade","s":"X","t":1,"p":"1","q":"1"}`,
		`{"e":"trade","E":1,"s":"X","p":"1","q":"1"}`,
		`{"e":"trade","E":1,"s":"X","t":1,"p":"abc","q":"1"}`,
		`{"e":"trade","E":1,"s":"X","t":1,"p":"1"}`,
	} {
		_, err := d.Decode([]byte(payload))
		require.ErrorIs(t, err, exception.ErrDecode, payload)
	}
}

func TestAppendTradeRoundTrip(t *testing.T) {
	tr := model.Trade{Symbol: "ETHUSDT", Timestamp: 1_000_000, EventTime: 999_999, Price: 2345.67, Quantity: 0.0123, TradeID: 77}
	payload := AppendTrade(nil, tr)

	got, err := NewDecoder().Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, tr, got)

	// the payload is also valid for the reflective decoder
	var ev TradeEvent
	require.NoError(t, sonic.Unmarshal(payload, &ev))
	fromEvent, err := ev.Trade()
	require.NoError(t, err)
	assert.Equal(t, tr, fromEvent)
}

func TestTradeEventTrade(t *testing.T) {
	var ev TradeEvent
	require.NoError(t, sonic.Unmarshal([]byte(samplePayload), &ev))
	tr, err := ev.Trade()
	require.NoError(t, err)
	assert.Equal(t, "BNBBTC", tr.Symbol)
	assert.Equal(t, uint64(1672515782136), tr.Timestamp)
	assert.Equal(t, uint64(1672515782130), tr.EventTime)
	assert.True(t, tr.IsBuyerMaker)

	ev.Price = "x"
	_, err = ev.Trade()
	require.ErrorIs(t, err, exception.ErrDecode)

	_, err = TradeEvent{EventType: "kline"}.Trade()
	require.ErrorIs(t, err, exception.ErrDecode)
}

func TestStreamName(t *testing.T) {
	assert.Equal(t, "btcusdt@trade", StreamName("BTCUSDT"))
}

func BenchmarkDecoderDecode(b *testing.B) {
	d := NewDecoder()
	payload := []byte(samplePayload)
	b.ReportAllocs()
	for b.Loop() {
		_, _ = d.Decode(payload)
	}
}
