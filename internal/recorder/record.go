package recorder

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	"mdi/pkg/exception"

	"github.com/yanun0323/errors"
)

const (
	recordVersion      uint16 = 1
	recordHeaderSize          = 32
	recordChecksumSize        = 4
	maxPayloadLen             = 1 << 16
)

var (
	recordMagic = [4]byte{'T', 'R', 'D', '1'}
	crcTable    = crc32.MakeTable(crc32.Castagnoli)
)

// Header describes one journaled trade.
type Header struct {
	Seq    uint64 // 1-based, per writer
	TsRecv int64  // unix nanoseconds when the trade was journaled
}

func encodeHeader(dst []byte, h Header, payloadLen int) {
	_ = dst[recordHeaderSize-1]
	copy(dst[0:4], recordMagic[:])
	binary.LittleEndian.PutUint16(dst[4:6], recordVersion)
	binary.LittleEndian.PutUint16(dst[6:8], uint16(recordHeaderSize))
	binary.LittleEndian.PutUint32(dst[8:12], uint32(payloadLen))
	binary.LittleEndian.PutUint32(dst[12:16], 0)
	binary.LittleEndian.PutUint64(dst[16:24], h.Seq)
	binary.LittleEndian.PutUint64(dst[24:32], uint64(h.TsRecv))
}

func checksum(header []byte, payload []byte) uint32 {
	crc := crc32.Update(0, crcTable, header)
	return crc32.Update(crc, crcTable, payload)
}

func decodeHeader(src []byte) (Header, uint32, error) {
	if len(src) < recordHeaderSize {
		return Header{}, 0, errors.Wrap(exception.ErrJournalCorrupt, "short header")
	}
	if !bytes.Equal(src[0:4], recordMagic[:]) {
		return Header{}, 0, errors.Wrap(exception.ErrJournalCorrupt, "invalid magic")
	}
	if ver := binary.LittleEndian.Uint16(src[4:6]); ver != recordVersion {
		return Header{}, 0, errors.Wrapf(exception.ErrJournalCorrupt, "unsupported version %d", ver)
	}
	if size := binary.LittleEndian.Uint16(src[6:8]); size != recordHeaderSize {
		return Header{}, 0, errors.Wrapf(exception.ErrJournalCorrupt, "invalid header size %d", size)
	}
	payloadLen := binary.LittleEndian.Uint32(src[8:12])
	if payloadLen > maxPayloadLen {
		return Header{}, 0, errors.Wrapf(exception.ErrJournalCorrupt, "payload of %d bytes", payloadLen)
	}
	return Header{
		Seq:    binary.LittleEndian.Uint64(src[16:24]),
		TsRecv: int64(binary.LittleEndian.Uint64(src[24:32])),
	}, payloadLen, nil
}
