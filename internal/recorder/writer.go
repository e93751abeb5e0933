package recorder

import (
	"bufio"
	"context"
	"encoding/binary"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"mdi/internal/ingest/binance"
	"mdi/internal/model"
	"mdi/pkg/exception"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// Writer journals trades into size and time rotated segment files. Trades are
// queued without blocking and encoded in the Binance trade wire form on the
// writer goroutine.
type Writer struct {
	cfg Config
	ch  chan request
	wg  sync.WaitGroup
	err atomic.Pointer[error]
	now func() time.Time

	// mu orders sends on ch against close(ch)
	mu      sync.RWMutex
	started atomic.Bool
	closed  atomic.Bool
	written atomic.Uint64
}

type request struct {
	trade  model.Trade
	tsRecv int64
}

type segmentWriter struct {
	file     *os.File
	buf      *bufio.Writer
	size     int64
	openedAt time.Time
}

// NewWriter creates a journal writer and ensures the target directory exists.
func NewWriter(cfg Config) (*Writer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create journal dir").With("dir", cfg.Dir)
	}
	return &Writer{
		cfg: cfg,
		ch:  make(chan request, cfg.QueueSize),
		now: time.Now,
	}, nil
}

// Start runs the writer loop in a new goroutine.
func (w *Writer) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return exception.ErrJournalStarted
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
	return nil
}

// Close stops accepting trades, writes everything queued and closes the
// current segment.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed.CompareAndSwap(false, true) {
		close(w.ch)
	}
	w.mu.Unlock()
	w.wg.Wait()
	return w.Err()
}

// Err returns the first error observed by the writer loop, if any.
func (w *Writer) Err() error {
	if p := w.err.Load(); p != nil {
		return *p
	}
	return nil
}

// Written returns the number of trades handed to segment files.
func (w *Writer) Written() uint64 {
	return w.written.Load()
}

// TryAppend queues t without blocking. It is safe to call concurrently with Close.
func (w *Writer) TryAppend(t model.Trade) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed.Load() {
		return exception.ErrJournalClosed
	}
	if !w.started.Load() {
		return exception.ErrJournalNotStarted
	}
	if err := w.Err(); err != nil {
		return err
	}

	select {
	case w.ch <- request{trade: t, tsRecv: w.now().UnixNano()}:
		return nil
	default:
		return exception.ErrJournalFull
	}
}

func (w *Writer) run(ctx context.Context) {
	var (
		seg         *segmentWriter
		seq         uint64
		segID       uint64
		headerBuf   = make([]byte, recordHeaderSize)
		payloadBuf  = make([]byte, 0, 256)
		checksumBuf [recordChecksumSize]byte
		flushC      <-chan time.Time
		syncC       <-chan time.Time
	)

	if w.cfg.FlushInterval > 0 {
		t := time.NewTicker(w.cfg.FlushInterval)
		defer t.Stop()
		flushC = t.C
	}
	if w.cfg.SyncInterval > 0 {
		t := time.NewTicker(w.cfg.SyncInterval)
		defer t.Stop()
		syncC = t.C
	}

	write := func(req request) error {
		seq++
		payloadBuf = binance.AppendTrade(payloadBuf[:0], req.trade)
		return w.writeRecord(&seg, &segID, headerBuf, payloadBuf, &checksumBuf, Header{Seq: seq, TsRecv: req.tsRecv})
	}

	defer func() {
		if err := closeSegment(seg); err != nil {
			w.setErr(err)
		}
		logs.Infof("journal writer stopped, %d trades written to %s", w.written.Load(), w.cfg.Dir)
	}()

	for {
		select {
		case <-ctx.Done():
			// drain whatever is already queued
			for {
				select {
				case req, ok := <-w.ch:
					if !ok {
						return
					}
					if err := write(req); err != nil {
						w.setErr(err)
						return
					}
				default:
					return
				}
			}
		case req, ok := <-w.ch:
			if !ok {
				return
			}
			if err := write(req); err != nil {
				w.setErr(err)
				return
			}
		case <-flushC:
			if seg != nil {
				if err := seg.buf.Flush(); err != nil {
					w.setErr(err)
					return
				}
			}
		case <-syncC:
			if seg != nil {
				if err := syncSegment(seg); err != nil {
					w.setErr(err)
					return
				}
			}
		}
	}
}

func (w *Writer) writeRecord(seg **segmentWriter, segID *uint64, headerBuf, payload []byte, checksumBuf *[recordChecksumSize]byte, h Header) error {
	now := time.Now().UTC()
	recordSize := int64(recordHeaderSize + len(payload) + recordChecksumSize)
	if w.shouldRotate(*seg, now, recordSize) {
		if err := closeSegment(*seg); err != nil {
			return err
		}
		opened, err := w.openSegment(segID, now)
		if err != nil {
			return err
		}
		*seg = opened
	}

	encodeHeader(headerBuf, h, len(payload))
	binary.LittleEndian.PutUint32(checksumBuf[:], checksum(headerBuf, payload))

	buf := (*seg).buf
	if _, err := buf.Write(headerBuf); err != nil {
		return err
	}
	if _, err := buf.Write(payload); err != nil {
		return err
	}
	if _, err := buf.Write(checksumBuf[:]); err != nil {
		return err
	}

	(*seg).size += recordSize
	w.written.Add(1)
	return nil
}

func (w *Writer) shouldRotate(seg *segmentWriter, now time.Time, nextSize int64) bool {
	if seg == nil {
		return true
	}
	if seg.size > 0 && seg.size+nextSize > w.cfg.SegmentMaxBytes {
		return true
	}
	return w.cfg.SegmentMaxDuration > 0 && now.Sub(seg.openedAt) >= w.cfg.SegmentMaxDuration
}

func (w *Writer) openSegment(segID *uint64, now time.Time) (*segmentWriter, error) {
	ts := now.Format("20060102-150405")
	for {
		*segID++
		name := fmt.Sprintf("%s-%s-%06d%s", w.cfg.FilePrefix, ts, *segID, segmentSuffix)
		path := filepath.Join(w.cfg.Dir, name)
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
		if err != nil {
			if stderrors.Is(err, os.ErrExist) {
				continue
			}
			return nil, errors.Wrap(err, "open journal segment").With("path", path)
		}
		return &segmentWriter{
			file:     file,
			buf:      bufio.NewWriterSize(file, w.cfg.BufferSize),
			openedAt: now,
		}, nil
	}
}

func (w *Writer) setErr(err error) {
	if err == nil {
		return
	}
	if w.err.CompareAndSwap(nil, &err) {
		logs.Errorf("journal writer failed, err: %+v", err)
	}
}

func syncSegment(seg *segmentWriter) error {
	if err := seg.buf.Flush(); err != nil {
		return err
	}
	return seg.file.Sync()
}

func closeSegment(seg *segmentWriter) error {
	if seg == nil {
		return nil
	}
	if err := syncSegment(seg); err != nil {
		_ = seg.file.Close()
		return err
	}
	return seg.file.Close()
}
