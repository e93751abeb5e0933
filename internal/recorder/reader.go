package recorder

import (
	"bufio"
	"encoding/binary"
	"io"

	"mdi/pkg/exception"

	"github.com/yanun0323/errors"
)

// Reader decodes journal records sequentially.
type Reader struct {
	r               *bufio.Reader
	disableChecksum bool
	headerBuf       []byte
	payload         []byte
}

// NewReader wraps r with journal decoding.
func NewReader(r io.Reader, disableChecksum bool) *Reader {
	return &Reader{
		r:               bufio.NewReader(r),
		disableChecksum: disableChecksum,
		headerBuf:       make([]byte, recordHeaderSize),
	}
}

// Next returns the next record header and payload, or io.EOF at a clean end.
// The payload is only valid until the next call to Next.
func (r *Reader) Next() (Header, []byte, error) {
	n, err := io.ReadFull(r.r, r.headerBuf)
	if err != nil {
		if err == io.EOF && n == 0 {
			return Header{}, nil, io.EOF
		}
		return Header{}, nil, errors.Wrap(exception.ErrJournalCorrupt, "truncated header")
	}

	h, payloadLen, err := decodeHeader(r.headerBuf)
	if err != nil {
		return h, nil, err
	}

	if cap(r.payload) < int(payloadLen) {
		r.payload = make([]byte, payloadLen)
	}
	r.payload = r.payload[:payloadLen]
	if _, err := io.ReadFull(r.r, r.payload); err != nil {
		return h, nil, errors.Wrap(exception.ErrJournalCorrupt, "truncated payload")
	}

	var sum [recordChecksumSize]byte
	if _, err := io.ReadFull(r.r, sum[:]); err != nil {
		return h, nil, errors.Wrap(exception.ErrJournalCorrupt, "truncated checksum")
	}
	if !r.disableChecksum && binary.LittleEndian.Uint32(sum[:]) != checksum(r.headerBuf, r.payload) {
		return h, nil, errors.Wrapf(exception.ErrJournalChecksum, "seq %d", h.Seq)
	}

	return h, r.payload, nil
}
