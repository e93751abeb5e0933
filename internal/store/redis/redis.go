package redis

import (
	"context"
	stderrors "errors"
	"time"

	"mdi/internal/model"
	"mdi/internal/store"
	"mdi/pkg/exception"

	"github.com/redis/go-redis/v9"
	"github.com/yanun0323/errors"
)

// indexPrefix namespaces the sorted sets that index record keys by prefix.
const indexPrefix = "idx:"

// Option configures the redis store.
type Option struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// Namespace is prepended to every key, e.g. "mdi:".
	Namespace string
}

// Store keeps each record under its key and indexes keys in a lexicographic
// sorted set per prefix, so prefix scans come back in key order.
type Store struct {
	rdb    redis.Cmdable
	closer func() error
	ns     string
}

var _ store.Store = (*Store)(nil)

// New dials redis and pings it.
func New(ctx context.Context, opt Option) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opt.Addr,
		Username:     opt.Username,
		Password:     opt.Password,
		DB:           opt.DB,
		PoolSize:     opt.PoolSize,
		DialTimeout:  opt.DialTimeout,
		ReadTimeout:  opt.ReadTimeout,
		WriteTimeout: opt.WriteTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(exception.ErrStorage, "ping redis "+opt.Addr+": "+err.Error())
	}
	return &Store{rdb: client, closer: client.Close, ns: opt.Namespace}, nil
}

// NewWithClient wraps an existing client. Close leaves it open.
func NewWithClient(rdb redis.Cmdable, namespace string) *Store {
	return &Store{rdb: rdb, ns: namespace}
}

func (s *Store) put(ctx context.Context, recs []store.Record, prefixOf func(i int) string) error {
	if len(recs) == 0 {
		return nil
	}
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for i, r := range recs {
			p.Set(ctx, s.ns+r.Key, r.Value, 0)
			p.ZAdd(ctx, s.ns+indexPrefix+prefixOf(i), redis.Z{Score: 0, Member: r.Key})
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(exception.ErrStorage, "write records: "+err.Error())
	}
	return nil
}

func (s *Store) get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.rdb.Get(ctx, s.ns+key).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, exception.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(exception.ErrStorage, "get "+key+": "+err.Error())
	}
	return v, nil
}

func (s *Store) scan(ctx context.Context, prefix string, limit int) ([][]byte, error) {
	by := &redis.ZRangeBy{Min: "-", Max: "+"}
	if limit > 0 {
		by.Count = int64(limit)
	}
	keys, err := s.rdb.ZRangeByLex(ctx, s.ns+indexPrefix+prefix, by).Result()
	if err != nil {
		return nil, errors.Wrap(exception.ErrStorage, "scan "+prefix+": "+err.Error())
	}
	if len(keys) == 0 {
		return nil, nil
	}

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.ns + k
	}
	values, err := s.rdb.MGet(ctx, full...).Result()
	if err != nil {
		return nil, errors.Wrap(exception.ErrStorage, "mget "+prefix+": "+err.Error())
	}

	out := make([][]byte, 0, len(values))
	for _, v := range values {
		// a nil entry is an index member whose value was removed outside this store
		if str, ok := v.(string); ok {
			out = append(out, []byte(str))
		}
	}
	return out, nil
}

func (s *Store) WriteTrades(ctx context.Context, trades []model.Trade) error {
	recs, err := store.TradeRecords(trades)
	if err != nil {
		return err
	}
	return s.put(ctx, recs, func(i int) string { return store.TradePrefix(trades[i].Symbol) })
}

func (s *Store) WriteCandles(ctx context.Context, candles []model.Candle) error {
	recs, err := store.CandleRecords(candles)
	if err != nil {
		return err
	}
	return s.put(ctx, recs, func(i int) string {
		return store.CandlePrefix(candles[i].Symbol, candles[i].Interval)
	})
}

func (s *Store) Trade(ctx context.Context, symbol string, tradeID uint64) (model.Trade, error) {
	v, err := s.get(ctx, store.TradeKey(symbol, tradeID))
	if err != nil {
		return model.Trade{}, err
	}
	return store.DecodeTrade(v)
}

func (s *Store) Candle(ctx context.Context, symbol string, interval, bucket uint64) (model.Candle, error) {
	v, err := s.get(ctx, store.CandleKey(symbol, interval, bucket))
	if err != nil {
		return model.Candle{}, err
	}
	return store.DecodeCandle(v)
}

func (s *Store) Trades(ctx context.Context, symbol string, limit int) ([]model.Trade, error) {
	values, err := s.scan(ctx, store.TradePrefix(symbol), limit)
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

func (s *Store) Candles(ctx context.Context, symbol string, interval uint64) ([]model.Candle, error) {
	values, err := s.scan(ctx, store.CandlePrefix(symbol, interval), 0)
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

func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
