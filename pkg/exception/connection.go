package exception

import "github.com/yanun0323/errors"

var (
	ErrDecode    = errors.New("ingest: decode message")
	ErrSubscribe = errors.New("ingest: subscribe stream")
)
