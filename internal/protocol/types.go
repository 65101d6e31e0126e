// Package protocol implements the ComfortZone II wire protocol: frame
// layout, CRC validation, and byte-level scan-and-resync parsing against
// a noisy multi-master RS-485 bus.
package protocol

import "fmt"

// Function is the wire function code carried by a Frame.
type Function byte

const (
	FuncReply Function = 0x06
	FuncRead  Function = 0x0B
	FuncWrite Function = 0x0C
	FuncError Function = 0x15
)

func (f Function) String() string {
	switch f {
	case FuncReply:
		return "reply"
	case FuncRead:
		return "read"
	case FuncWrite:
		return "write"
	case FuncError:
		return "error"
	default:
		return fmt.Sprintf("unknown(0x%02X)", byte(f))
	}
}

// Protocol size limits (spec ref: PROTOCOL_SIZE / MIN_MESSAGE_SIZE / MAX_MESSAGE_SIZE).
const (
	ProtocolSize   = 10
	MinMessageSize = ProtocolSize + 1
	MaxMessageSize = ProtocolSize + 255
)

// Frame is a single unit on the ComfortZone II bus.
//
// Destination and Source are device addresses (0..255). Data is the
// variable-length payload (0..255 bytes); Function decodes to the
// nearest enumerant, with unknown codes normalized to FuncError.
type Frame struct {
	Destination byte
	Source      byte
	Function    Function
	Data        []byte
}

// CopyShallow returns a Frame with its own backing Data slice, handy for
// tests and for callers that need to retain a frame past the next read.
func (f Frame) CopyShallow() Frame {
	g := f
	g.Data = append([]byte(nil), f.Data...)
	return g
}
