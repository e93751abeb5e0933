package exception

import "github.com/yanun0323/errors"

// Staging queue errors
var (
	ErrQueueFull   = errors.New("staging queue: full")
	ErrQueueClosed = errors.New("staging queue: closed")
)

// Aggregation errors
var (
	ErrInvalidInterval = errors.New("candle: invalid interval")
)

// Fan-out errors
var (
	// ErrZeroCapacity is returned when a registry is built without backlog capacity.
	ErrZeroCapacity = errors.New("fanout: zero channel capacity")

	// ErrLagged is matched by LaggedError when a subscriber was overrun.
	ErrLagged = errors.New("fanout: subscriber lagged")

	// ErrChannelClosed is returned once the channel of a subscription was cleared.
	ErrChannelClosed = errors.New("fanout: channel closed")
)

// Placement errors
var (
	ErrPlacement   = errors.New("placement: bind thread")
	ErrInvalidCore = errors.New("placement: invalid core index")
)
