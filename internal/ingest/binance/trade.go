package binance

import (
	"strconv"

	"mdi/internal/model"
	"mdi/pkg/exception"
	"mdi/pkg/scanner"

	"github.com/yanun0323/errors"
)

var (
	keyEventType    = []byte(`"e"`)
	keyEventTime    = []byte(`"E"`)
	keySymbol       = []byte(`"s"`)
	keyTradeID      = []byte(`"t"`)
	keyPrice        = []byte(`"p"`)
	keyQuantity     = []byte(`"q"`)
	keyTradeTime    = []byte(`"T"`)
	keyIsBuyerMaker = []byte(`"m"`)

	tradeEvent = []byte("trade")
)

// TradeEvent is the payload of the <symbol>@trade stream.
type TradeEvent struct {
	EventType    string `json:"e"`
	EventTime    uint64 `json:"E"`
	Symbol       string `json:"s"`
	TradeID      uint64 `json:"t"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    uint64 `json:"T"`
	IsBuyerMaker bool   `json:"m"`
	Ignore       bool   `json:"M"`
}

// Trade converts the event. The trade timestamp is the event time E; the
// trade time T becomes the event time and falls back to E when absent.
func (e TradeEvent) Trade() (model.Trade, error) {
	if e.EventType != string(tradeEvent) {
		return model.Trade{}, errors.Wrap(exception.ErrDecode, "not a trade event: "+e.EventType)
	}
	if e.Symbol == "" {
		return model.Trade{}, errors.Wrap(exception.ErrDecode, "missing symbol")
	}
	price, err := strconv.ParseFloat(e.Price, 64)
	if err != nil {
		return model.Trade{}, errors.Wrap(exception.ErrDecode, "price "+strconv.Quote(e.Price))
	}
	qty, err := strconv.ParseFloat(e.Quantity, 64)
	if err != nil {
		return model.Trade{}, errors.Wrap(exception.ErrDecode, "quantity "+strconv.Quote(e.Quantity))
	}
	eventTime := e.TradeTime
	if eventTime == 0 {
		eventTime = e.EventTime
	}
	return model.Trade{
		Symbol:       e.Symbol,
		Timestamp:    e.EventTime,
		EventTime:    eventTime,
		Price:        price,
		Quantity:     qty,
		IsBuyerMaker: e.IsBuyerMaker,
		TradeID:      e.TradeID,
	}, nil
}

// Decoder turns raw trade stream payloads into trades by scanning fields in
// place. Symbols are interned so steady-state decoding does not allocate.
// A Decoder is not safe for concurrent use.
type Decoder struct {
	symbols map[string]string
}

// NewDecoder returns a decoder with an empty symbol table.
func NewDecoder() *Decoder {
	return &Decoder{symbols: make(map[string]string)}
}

// Decode extracts a trade from payload. Missing or malformed fields are
// reported as exception.ErrDecode.
func (d *Decoder) Decode(payload []byte) (model.Trade, error) {
	if ev, ok := scanner.ScanStringField(payload, keyEventType); !ok || string(ev) != string(tradeEvent) {
		return model.Trade{}, errors.Wrap(exception.ErrDecode, "not a trade event")
	}

	var t model.Trade
	sym, ok := scanner.ScanStringField(payload, keySymbol)
	if !ok || len(sym) == 0 {
		return model.Trade{}, errors.Wrap(exception.ErrDecode, "missing symbol")
	}
	t.Symbol = d.intern(sym)

	if t.Timestamp, ok = scanner.ScanUintField(payload, keyEventTime); !ok {
		return model.Trade{}, errors.Wrap(exception.ErrDecode, "missing event time")
	}
	if t.TradeID, ok = scanner.ScanUintField(payload, keyTradeID); !ok {
		return model.Trade{}, errors.Wrap(exception.ErrDecode, "missing trade id")
	}
	if t.Price, ok = scanner.ScanDecimalField(payload, keyPrice); !ok {
		return model.Trade{}, errors.Wrap(exception.ErrDecode, "missing price")
	}
	if t.Quantity, ok = scanner.ScanDecimalField(payload, keyQuantity); !ok {
		return model.Trade{}, errors.Wrap(exception.ErrDecode, "missing quantity")
	}
	if t.EventTime, ok = scanner.ScanUintField(payload, keyTradeTime); !ok {
		t.EventTime = t.Timestamp
	}
	t.IsBuyerMaker, _ = scanner.ScanBoolField(payload, keyIsBuyerMaker)
	return t, nil
}

func (d *Decoder) intern(b []byte) string {
	if s, ok := d.symbols[string(b)]; ok {
		return s
	}
	s := string(b)
	d.symbols[s] = s
	return s
}

// AppendTrade appends the trade stream payload of t to dst.
func AppendTrade(dst []byte, t model.Trade) []byte {
	dst = append(dst, `{"e":"trade","E":`...)
	dst = strconv.AppendUint(dst, t.Timestamp, 10)
	dst = append(dst, `,"s":"`...)
	dst = append(dst, t.Symbol...)
	dst = append(dst, `","t":`...)
	dst = strconv.AppendUint(dst, t.TradeID, 10)
	dst = append(dst, `,"p":"`...)
	dst = strconv.AppendFloat(dst, t.Price, 'f', -1, 64)
	dst = append(dst, `","q":"`...)
	dst = strconv.AppendFloat(dst, t.Quantity, 'f', -1, 64)
	dst = append(dst, `","T":`...)
	dst = strconv.AppendUint(dst, t.EventTime, 10)
	dst = append(dst, `,"m":`...)
	dst = strconv.AppendBool(dst, t.IsBuyerMaker)
	dst = append(dst, `,"M":true}`...)
	return dst
}
