package packet

import (
	"errors"
	"fmt"

	"github.com/Haba1234/go-artnet/packet/code"
)

var (
	// ErrMalformedHeader is returned when the datagram does not start with the Art-Net identifier.
	ErrMalformedHeader = errors.New("malformed header")
	// ErrUnknownOpcode is returned for opcodes the codec does not handle.
	ErrUnknownOpcode = errors.New("unknown opcode")
	// ErrTruncatedPayload is returned when the datagram is shorter than the opcode minimum.
	ErrTruncatedPayload = errors.New("truncated payload")
	// ErrInconsistentLength is returned when a length field disagrees with the payload.
	ErrInconsistentLength = errors.New("inconsistent length")
)

// DecodeError describes why a datagram was rejected.
type DecodeError struct {
	Kind   error
	OpCode code.OpCode
	Length int // actual datagram length
	Want   int // expected length, when known
}

func (e *DecodeError) Error() string {
	if e.Want > 0 {
		return fmt.Sprintf("art-net decode: %v (opcode 0x%04x, length %d, want %d)", e.Kind, uint16(e.OpCode), e.Length, e.Want)
	}
	return fmt.Sprintf("art-net decode: %v (opcode 0x%04x, length %d)", e.Kind, uint16(e.OpCode), e.Length)
}

func (e *DecodeError) Unwrap() error {
	return e.Kind
}

func decodeErr(kind error, op code.OpCode, length, want int) *DecodeError {
	return &DecodeError{Kind: kind, OpCode: op, Length: length, Want: want}
}
