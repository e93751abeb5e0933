package kafka

import (
	"context"
	"time"

	"mdi/internal/model"

	"github.com/bytedance/sonic"
	"github.com/segmentio/kafka-go"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// MessageWriter is the part of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Option configures the kafka sink.
type Option struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	// ClosedOnly drops live updates and forwards only closed candles.
	ClosedOnly bool
}

// Sink forwards candle updates as JSON messages keyed by instrument:interval,
// so every key lands on one partition in publish order.
type Sink struct {
	writer     MessageWriter
	closedOnly bool
}

// New builds a sink over an async kafka writer. Delivery errors are logged by
// the writer completion callback.
func New(opt Option) (*Sink, error) {
	if len(opt.Brokers) == 0 || opt.Topic == "" {
		return nil, errors.New("kafka sink: brokers and topic are required")
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(opt.Brokers...),
		Topic:        opt.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    opt.BatchSize,
		BatchTimeout: opt.BatchTimeout,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logs.Errorf("kafka sink write %d messages to %s, err: %+v", len(messages), opt.Topic, err)
			}
		},
	}
	return NewWithWriter(w, opt.ClosedOnly), nil
}

// NewWithWriter builds a sink over w.
func NewWithWriter(w MessageWriter, closedOnly bool) *Sink {
	return &Sink{writer: w, closedOnly: closedOnly}
}

// Message encodes an update into a kafka message.
func Message(u model.CandleUpdate) (kafka.Message, error) {
	value, err := sonic.Marshal(u)
	if err != nil {
		return kafka.Message{}, errors.Wrap(err, "encode candle update").With("key", u.Candle.Key().String())
	}
	return kafka.Message{
		Key:   []byte(u.Candle.Key().String()),
		Value: value,
		Time:  time.Unix(int64(u.Candle.Timestamp), 0).UTC(),
	}, nil
}

func (s *Sink) Handle(ctx context.Context, u model.CandleUpdate) error {
	if s.closedOnly && !u.Closed {
		return nil
	}
	msg, err := Message(u)
	if err != nil {
		return err
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return errors.Wrap(err, "write kafka message").With("key", string(msg.Key))
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (s *Sink) Close() error {
	return s.writer.Close()
}
