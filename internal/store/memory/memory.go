package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"mdi/internal/model"
	"mdi/internal/store"
	"mdi/pkg/exception"
)

// Store is an in-process ordered key/value store.
type Store struct {
	mu     sync.RWMutex
	values map[string][]byte
	keys   []string // sorted
	closed bool
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{values: make(map[string][]byte)}
}

func (s *Store) put(recs []store.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return exception.ErrStorageClosed
	}
	for _, r := range recs {
		if _, ok := s.values[r.Key]; !ok {
			i, _ := slices.BinarySearch(s.keys, r.Key)
			s.keys = slices.Insert(s.keys, i, r.Key)
		}
		s.values[r.Key] = r.Value
	}
	return nil
}

func (s *Store) get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, exception.ErrStorageClosed
	}
	v, ok := s.values[key]
	if !ok {
		return nil, exception.ErrNotFound
	}
	return v, nil
}

func (s *Store) scan(prefix string, limit int) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, exception.ErrStorageClosed
	}
	var out [][]byte
	i, _ := slices.BinarySearch(s.keys, prefix)
	for ; i < len(s.keys) && strings.HasPrefix(s.keys[i], prefix); i++ {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, s.values[s.keys[i]])
	}
	return out, nil
}

func (s *Store) WriteTrades(_ context.Context, trades []model.Trade) error {
	recs, err := store.TradeRecords(trades)
	if err != nil {
		return err
	}
	return s.put(recs)
}

func (s *Store) WriteCandles(_ context.Context, candles []model.Candle) error {
	recs, err := store.CandleRecords(candles)
	if err != nil {
		return err
	}
	return s.put(recs)
}

func (s *Store) Trade(_ context.Context, symbol string, tradeID uint64) (model.Trade, error) {
	v, err := s.get(store.TradeKey(symbol, tradeID))
	if err != nil {
		return model.Trade{}, err
	}
	return store.DecodeTrade(v)
}

func (s *Store) Candle(_ context.Context, symbol string, interval, bucket uint64) (model.Candle, error) {
	v, err := s.get(store.CandleKey(symbol, interval, bucket))
	if err != nil {
		return model.Candle{}, err
	}
	return store.DecodeCandle(v)
}

func (s *Store) Trades(_ context.Context, symbol string, limit int) ([]model.Trade, error) {
	values, err := s.scan(store.TradePrefix(symbol), limit)
	if err != nil {
		return nil, err
	}
	out := make([]model.Trade, 0, len(values))
	for _, v := range values {
		t, err := store.DecodeTrade(v)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Store) Candles(_ context.Context, symbol string, interval uint64) ([]model.Candle, error) {
	values, err := s.scan(store.CandlePrefix(symbol, interval), 0)
	if err != nil {
		return nil, err
	}
	out := make([]model.Candle, 0, len(values))
	for _, v := range values {
		c, err := store.DecodeCandle(v)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Len returns the number of stored keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
