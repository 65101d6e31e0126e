package protocol

import (
	"errors"
	"fmt"

	"github.com/kstaniek/cz2gate/internal/metrics"
)

// ErrInvalidArgument is returned by Build when the payload cannot be framed.
var ErrInvalidArgument = errors.New("protocol: invalid argument")

// Crc16ARC computes CRC-16/ARC (polynomial 0x8005, init 0x0000, reflected
// input/output, no final xor) over data. Two source implementations of
// this project's ancestor disagreed on the CRC variant (ARC little-endian
// vs CCITT-FALSE big-endian); ARC + little-endian is the one the current
// wire format commits to (spec design notes, §9).
func Crc16ARC(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// Build assembles a wire frame: an 8-byte header, the data payload,
// and a little-endian CRC, for a total length of ProtocolSize+len(data)
// (ProtocolSize already accounts for the header's 8 bytes plus the
// trailing 2-byte CRC). It fails if data is longer than 255 bytes.
func Build(destination, source byte, function Function, data []byte) ([]byte, error) {
	if len(data) > 255 {
		return nil, fmt.Errorf("%w: data length %d exceeds 255", ErrInvalidArgument, len(data))
	}
	total := ProtocolSize + len(data)
	frame := make([]byte, total)
	frame[0] = destination
	frame[1] = 0x00
	frame[2] = source
	frame[3] = 0x00
	frame[4] = byte(len(data))
	frame[5] = 0x00
	frame[6] = 0x00
	frame[7] = byte(function)
	copy(frame[8:8+len(data)], data)
	crc := Crc16ARC(frame[:total-2])
	frame[total-2] = byte(crc)
	frame[total-1] = byte(crc >> 8)
	return frame, nil
}

// decodeFunction maps a raw function byte to the nearest enumerant,
// normalizing unknown codes to FuncError per the "duck-typed reply
// frames" design note.
func decodeFunction(b byte) Function {
	switch Function(b) {
	case FuncReply, FuncRead, FuncWrite, FuncError:
		return Function(b)
	default:
		return FuncError
	}
}

// Scan locates the next valid frame within buf. A candidate frame at
// offset i is valid when the length byte (offset i+4) is in [1,255] and
// the CRC over the full 10+length bytes evaluates to zero. Non-validating
// prefixes are skipped byte by byte; the bus carries crosstalk from other
// masters so recovery must be byte-level, not frame-level.
//
// Scan returns the decoded frame, the number of bytes consumed from buf
// (advance past exactly the matched frame), and ok=true on success. When
// no valid frame can yet be found (more data may still complete one),
// ok is false and consumed is 0.
func Scan(buf []byte) (frame Frame, consumed int, ok bool) {
	for offset := 0; offset+5 <= len(buf); offset++ {
		length := int(buf[offset+4])
		if length < 1 || length > 255 {
			continue
		}
		total := ProtocolSize + length
		if offset+total > len(buf) {
			continue
		}
		candidate := buf[offset : offset+total]
		if Crc16ARC(candidate) != 0 {
			metrics.IncFrameMalformed()
			continue
		}
		f := Frame{
			Destination: candidate[0],
			Source:      candidate[2],
			Function:    decodeFunction(candidate[7]),
			Data:        append([]byte(nil), candidate[8:8+length]...),
		}
		return f, offset + total, true
	}
	return Frame{}, 0, false
}
