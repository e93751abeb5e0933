package sink

import (
	"context"
	stderrors "errors"
	"time"

	"mdi/internal/fanout"
	"mdi/internal/model"
	"mdi/internal/obs"
	"mdi/pkg/exception"

	"github.com/yanun0323/logs"
)

// Handler receives candle updates from Consume.
type Handler interface {
	Handle(ctx context.Context, u model.CandleUpdate) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, u model.CandleUpdate) error

func (f HandlerFunc) Handle(ctx context.Context, u model.CandleUpdate) error {
	return f(ctx, u)
}

// Consume feeds every update of subs to h until ctx is done or all
// subscriptions are closed. A single subscription is read blocking; several
// are polled round-robin with an idle sleep when none has data. Lag is logged
// and counted, then consumption resumes at the oldest retained update.
// Handler errors are logged and do not stop consumption.
//
// Once ctx is done, updates already published are still handed to h before
// Consume returns. h gets a context that is not cancelled with ctx.
func Consume(ctx context.Context, name string, subs []*fanout.Subscription, h Handler, idle time.Duration, m *obs.Metrics) {
	if len(subs) == 0 {
		return
	}
	hctx := context.WithoutCancel(ctx)
	if len(subs) == 1 {
		consumeOne(ctx, hctx, name, subs[0], h, m)
		return
	}
	if idle <= 0 {
		idle = time.Millisecond
	}

	live := append([]*fanout.Subscription(nil), subs...)
	timer := time.NewTimer(idle)
	defer timer.Stop()

	for len(live) > 0 {
		got := false
		for i := 0; i < len(live); i++ {
			u, ok, err := live[i].TryRecv()
			switch {
			case err != nil:
				if !handleRecvErr(name, live[i], err, m) {
					live = append(live[:i], live[i+1:]...)
					i--
				}
			case ok:
				got = true
				dispatch(hctx, name, h, u)
			}
		}
		if got {
			continue
		}
		if ctx.Err() != nil {
			return
		}

		timer.Reset(idle)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

func consumeOne(ctx, hctx context.Context, name string, sub *fanout.Subscription, h Handler, m *obs.Metrics) {
	for {
		// Recv returns a pending update before it looks at ctx
		u, err := sub.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !handleRecvErr(name, sub, err, m) {
				return
			}
			continue
		}
		dispatch(hctx, name, h, u)
	}
}

// handleRecvErr reports whether the subscription is still usable.
func handleRecvErr(name string, sub *fanout.Subscription, err error, m *obs.Metrics) bool {
	var lagged *fanout.LaggedError
	if stderrors.As(err, &lagged) {
		m.ObserveLag(lagged.Missed)
		logs.Errorf("sink %s lagged on %s, missed %d updates", name, sub.Key(), lagged.Missed)
		return true
	}
	if stderrors.Is(err, exception.ErrChannelClosed) {
		logs.Infof("sink %s subscription %s closed", name, sub.Key())
		return false
	}
	logs.Errorf("sink %s receive %s, err: %+v", name, sub.Key(), err)
	return false
}

func dispatch(ctx context.Context, name string, h Handler, u model.CandleUpdate) {
	if err := h.Handle(ctx, u); err != nil {
		logs.Errorf("sink %s handle %s, err: %+v", name, u.Candle.Key(), err)
	}
}
