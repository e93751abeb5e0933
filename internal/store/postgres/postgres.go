package postgres

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"mdi/internal/model"
	"mdi/internal/store"
	"mdi/pkg/conn"
	"mdi/pkg/exception"

	"github.com/yanun0323/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultTable     = "mdi_records"
	defaultBatchSize = 500
)

type record struct {
	RecordKey string    `gorm:"column:record_key;primaryKey;type:text"`
	Value     []byte    `gorm:"column:value;type:bytea;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

// Store keeps records in a single key/value table and scans prefixes in key order.
type Store struct {
	client    *conn.Client
	db        *gorm.DB
	table     string
	batchSize int
}

var _ store.Store = (*Store)(nil)

// Option configures the postgres store.
type Option struct {
	Conn      conn.Option
	Table     string
	BatchSize int
	Migrate   bool
}

// New connects and, when opt.Migrate is set, creates the table.
func New(opt Option) (*Store, error) {
	client, err := conn.New(opt.Conn)
	if err != nil {
		return nil, errors.Wrap(exception.ErrStorage, "connect postgres: "+err.Error())
	}

	s := newStore(client.DB(), opt)
	s.client = client
	if opt.Migrate {
		if err := s.migrate(); err != nil {
			_ = client.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewWithDB wraps an existing gorm handle. Close leaves db open.
func NewWithDB(db *gorm.DB, opt Option) (*Store, error) {
	s := newStore(db, opt)
	if opt.Migrate {
		if err := s.migrate(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func newStore(db *gorm.DB, opt Option) *Store {
	table := opt.Table
	if table == "" {
		table = defaultTable
	}
	batch := opt.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &Store{db: db, table: table, batchSize: batch}
}

func (s *Store) migrate() error {
	if err := s.db.Table(s.table).AutoMigrate(&record{}); err != nil {
		return errors.Wrap(exception.ErrStorage, "migrate "+s.table+": "+err.Error())
	}
	return nil
}

func (s *Store) put(ctx context.Context, recs []store.Record) error {
	if len(recs) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]record, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, record{RecordKey: r.Key, Value: r.Value, UpdatedAt: now})
	}

	err := s.db.WithContext(ctx).Table(s.table).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "record_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		CreateInBatches(rows, s.batchSize).Error
	if err != nil {
		return errors.Wrap(exception.ErrStorage, "upsert records: "+err.Error())
	}
	return nil
}

func (s *Store) get(ctx context.Context, key string) ([]byte, error) {
	var row record
	err := s.db.WithContext(ctx).Table(s.table).Where("record_key = ?", key).Take(&row).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, exception.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(exception.ErrStorage, "get "+key+": "+err.Error())
	}
	return row.Value, nil
}

func (s *Store) scan(ctx context.Context, prefix string, limit int) ([][]byte, error) {
	q := s.db.WithContext(ctx).Table(s.table).
		Where("record_key LIKE ?", escapeLike(prefix)+"%").
		Order("record_key")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []record
	if err := q.Find(&rows).Error; err != nil {
		return nil, errors.Wrap(exception.ErrStorage, "scan "+prefix+": "+err.Error())
	}
	out := make([][]byte, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Value)
	}
	return out, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func (s *Store) WriteTrades(ctx context.Context, trades []model.Trade) error {
	recs, err := store.TradeRecords(trades)
	if err != nil {
		return err
	}
	return s.put(ctx, recs)
}

func (s *Store) WriteCandles(ctx context.Context, candles []model.Candle) error {
	recs, err := store.CandleRecords(candles)
	if err != nil {
		return err
	}
	return s.put(ctx, recs)
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

// Truncate removes every record. Used by tests.
func (s *Store) Truncate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Exec("TRUNCATE TABLE " + s.table).Error; err != nil {
		return errors.Wrap(exception.ErrStorage, "truncate "+s.table+": "+err.Error())
	}
	return nil
}

func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}
