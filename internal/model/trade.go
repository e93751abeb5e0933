package model

// Trade is a single executed trade as decoded by ingestion.
// It is treated as immutable once built.
type Trade struct {
	Symbol       string  `json:"symbol"`
	Timestamp    uint64  `json:"timestamp"`  // ms
	EventTime    uint64  `json:"event_time"` // ms
	Price        float64 `json:"price"`
	Quantity     float64 `json:"quantity"`
	IsBuyerMaker bool    `json:"is_buyer_maker"`
	TradeID      uint64  `json:"trade_id"`
}

// BucketStart returns the start second of the bucket the trade falls into.
func (t Trade) BucketStart(interval uint64) uint64 {
	if interval == 0 {
		return 0
	}
	return (t.Timestamp / 1000) / interval * interval
}
