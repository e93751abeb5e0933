package recorder

import (
	"time"

	"mdi/pkg/exception"

	"github.com/yanun0323/errors"
)

const (
	defaultSegmentMaxBytes int64 = 256 << 20
	defaultQueueSize             = 1 << 14
	defaultBufferSize            = 256 * 1024
	defaultFilePrefix            = "trades"
	segmentSuffix                = ".jnl"
)

var defaultSegmentMaxDuration = time.Hour

// Config controls the journal writer.
type Config struct {
	Dir                string
	SegmentMaxBytes    int64
	SegmentMaxDuration time.Duration
	QueueSize          int
	BufferSize         int
	FilePrefix         string
	FlushInterval      time.Duration
	SyncInterval       time.Duration
}

// DefaultConfig returns a baseline configuration writing into dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:                dir,
		SegmentMaxBytes:    defaultSegmentMaxBytes,
		SegmentMaxDuration: defaultSegmentMaxDuration,
		QueueSize:          defaultQueueSize,
		BufferSize:         defaultBufferSize,
		FilePrefix:         defaultFilePrefix,
		FlushInterval:      time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.SegmentMaxBytes == 0 {
		c.SegmentMaxBytes = defaultSegmentMaxBytes
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.BufferSize == 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.FilePrefix == "" {
		c.FilePrefix = defaultFilePrefix
	}
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	invalid := func(msg string) error {
		return errors.Wrap(exception.ErrInvalidConfig, "journal: "+msg)
	}
	switch {
	case c.Dir == "":
		return invalid("dir is empty")
	case c.SegmentMaxBytes <= 0:
		return invalid("segment max bytes must be > 0")
	case c.QueueSize <= 0:
		return invalid("queue size must be > 0")
	case c.BufferSize <= 0:
		return invalid("buffer size must be > 0")
	case c.FilePrefix == "":
		return invalid("file prefix is empty")
	case c.FlushInterval < 0:
		return invalid("flush interval must be >= 0")
	case c.SyncInterval < 0:
		return invalid("sync interval must be >= 0")
	}
	return nil
}
