package ingest

import (
	"context"
	stderrors "errors"

	"mdi/internal/ingest/binance"
	"mdi/internal/recorder"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// Replay feeds every journaled trade to sink in recorded order and returns
// how many records were read. Records that fail to decode go to
// sink.DecodeFailed. A cancelled ctx is not reported as an error.
func Replay(ctx context.Context, pb *recorder.Playback, sink binance.Sink) (uint64, error) {
	dec := binance.NewDecoder()
	var n uint64
	err := pb.Run(ctx, func(_ recorder.Header, payload []byte) error {
		n++
		t, err := dec.Decode(payload)
		if err != nil {
			sink.DecodeFailed(err)
			return nil
		}
		sink.Push(t)
		return nil
	})
	logs.Infof("replay finished after %d records", n)
	if err != nil && !stderrors.Is(err, context.Canceled) {
		return n, errors.Wrap(err, "replay journal")
	}
	return n, nil
}
