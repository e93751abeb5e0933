package binance

import (
	"context"
	"strings"
	"sync/atomic"

	"mdi/internal/model"
	"mdi/pkg/exception"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"github.com/yanun0323/pkg/ws"
)

const DefaultURL = "wss://stream.binance.com:9443/ws"

// Sink receives decoded trades and decode failures.
type Sink interface {
	Push(t model.Trade) bool
	DecodeFailed(err error)
}

// Client subscribes to Binance trade streams over one websocket.
type Client struct {
	wss    *ws.WebSocket
	nextID atomic.Int64
}

// NewClient prepares a client for url; DefaultURL when empty.
func NewClient(ctx context.Context, url string) *Client {
	if url == "" {
		url = DefaultURL
	}
	return &Client{
		wss: ws.New(ctx, url),
	}
}

// Start dials the websocket.
func (c *Client) Start(ctx context.Context) error {
	if err := c.wss.Start(ctx); err != nil {
		return errors.Wrap(err, "start wss")
	}
	return nil
}

func (c *Client) Len() int {
	return c.wss.Len()
}

func (c *Client) Close() {
	c.wss.Close()
}

// StreamName returns the trade stream of a symbol, e.g. btcusdt@trade.
func StreamName(symbol string) string {
	return strings.ToLower(symbol) + "@trade"
}

type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

type subscribeResponse struct {
	ID     int64 `json:"id"`
	Result any   `json:"result"`
}

// Subscribe subscribes the trade streams of symbols and waits for the ack.
// The request is registered so it is replayed after a reconnect.
func (c *Client) Subscribe(ctx context.Context, symbols ...string) error {
	if len(symbols) == 0 {
		return nil
	}
	params := make([]string, 0, len(symbols))
	for _, s := range symbols {
		params = append(params, StreamName(s))
	}
	id := c.nextID.Add(1)

	appendIntoRegister := true
	if err := c.wss.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, ws *ws.WebSocket) error {
			payload := subscribeRequest{
				Method: "SUBSCRIBE",
				Params: params,
				ID:     id,
			}
			if err := ws.WriteJSON(payload); err != nil {
				return errors.Wrap(err, "write subscribe payload").With("payload", payload)
			}
			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			var resp subscribeResponse
			if err := m.Unmarshal(&resp); err != nil || resp.ID != id {
				return false, nil
			}
			if resp.Result != nil {
				return false, errors.Wrapf(exception.ErrSubscribe, "%v: %+v", params, resp.Result)
			}
			return true, nil
		},
	}, appendIntoRegister); err != nil {
		return errors.Wrap(err, "send and wait")
	}

	return nil
}

// Run forwards every trade message to sink until ctx is done, the process
// shuts down or the websocket closes. Messages that are not trades, such as
// subscription acks, are ignored; malformed trades go to sink.DecodeFailed.
func (c *Client) Run(ctx context.Context, sink Sink) {
	ch, cancel := c.wss.Subscribe()
	defer cancel()

	for {
		select {
		case <-sys.Shutdown():
			return
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				logs.Info("binance trade stream closed")
				return
			}

			ev, ok := ws.ReadMessage[TradeEvent](m)
			if !ok {
				sink.DecodeFailed(errors.Wrap(exception.ErrDecode, "unmarshal trade message"))
				continue
			}
			if ev.EventType == "" {
				continue
			}

			t, err := ev.Trade()
			if err != nil {
				sink.DecodeFailed(err)
				continue
			}
			sink.Push(t)
		}
	}
}
