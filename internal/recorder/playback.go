package recorder

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"mdi/pkg/exception"

	"github.com/yanun0323/errors"
)

// PlaybackConfig controls journal playback.
type PlaybackConfig struct {
	Dir             string
	FilePrefix      string
	Speed           float64 // 1 replays at recorded pace, 0 disables pacing
	DisableChecksum bool
}

// Clock allows deterministic playback control.
type Clock interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Playback replays journal records in segment order.
type Playback struct {
	cfg   PlaybackConfig
	clock Clock
}

// NewPlayback validates the config and creates a playback engine.
func NewPlayback(cfg PlaybackConfig) (*Playback, error) {
	if cfg.FilePrefix == "" {
		cfg.FilePrefix = defaultFilePrefix
	}
	if cfg.Dir == "" {
		return nil, errors.Wrap(exception.ErrInvalidConfig, "playback: dir is empty")
	}
	if cfg.Speed < 0 {
		return nil, errors.Wrap(exception.ErrInvalidConfig, "playback: speed must be >= 0")
	}
	return &Playback{cfg: cfg, clock: realClock{}}, nil
}

// WithClock swaps the clock implementation.
func (p *Playback) WithClock(clock Clock) *Playback {
	if clock != nil {
		p.clock = clock
	}
	return p
}

// Files lists the segments playback reads, in order.
func (p *Playback) Files() ([]string, error) {
	entries, err := os.ReadDir(p.cfg.Dir)
	if err != nil {
		return nil, errors.Wrap(err, "read journal dir").With("dir", p.cfg.Dir)
	}
	prefix := p.cfg.FilePrefix + "-"
	var files []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, segmentSuffix) {
			continue
		}
		files = append(files, filepath.Join(p.cfg.Dir, name))
	}
	slices.Sort(files)
	return files, nil
}

// Run replays every record and calls handler for each. A handler error stops playback.
func (p *Playback) Run(ctx context.Context, handler func(Header, []byte) error) error {
	files, err := p.Files()
	if err != nil {
		return err
	}

	var prevTS int64
	for _, path := range files {
		if err := p.playFile(ctx, path, handler, &prevTS); err != nil {
			return err
		}
	}
	return nil
}

func (p *Playback) playFile(ctx context.Context, path string, handler func(Header, []byte) error, prevTS *int64) error {
	file, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open journal segment").With("path", path)
	}
	defer file.Close()

	reader := NewReader(file, p.cfg.DisableChecksum)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		h, payload, err := reader.Next()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return errors.Wrap(err, "read "+filepath.Base(path))
		}

		if err := p.pace(ctx, h, prevTS); err != nil {
			return err
		}
		if err := handler(h, payload); err != nil {
			return err
		}
	}
}

func (p *Playback) pace(ctx context.Context, h Header, prevTS *int64) error {
	if p.cfg.Speed <= 0 || h.TsRecv <= 0 {
		return nil
	}
	if *prevTS > 0 {
		if delta := h.TsRecv - *prevTS; delta > 0 {
			if err := p.clock.Sleep(ctx, time.Duration(float64(delta)/p.cfg.Speed)); err != nil {
				return err
			}
		}
	}
	*prevTS = h.TsRecv
	return nil
}
