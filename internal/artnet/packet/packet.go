// Package packet encodes and decodes the Art-Net packets used by the engine:
// ArtPoll, ArtPollReply, ArtDmx and ArtAddress.
//
// All functions are pure and safe for concurrent use.
package packet

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/Haba1234/go-artnet/packet/code"
)

const (
	// ProtocolVersion is the Art-Net protocol revision sent in every versioned packet.
	ProtocolVersion uint16 = 14
	// DefaultPort is the standard Art-Net UDP port.
	DefaultPort = 6454
	// MaxChannels is the number of channels in a DMX universe.
	MaxChannels = 512

	headerLen = 10 // ID + OpCode
)

// ID is the 8 byte identifier every Art-Net datagram starts with.
var ID = [8]byte{'A', 'r', 't', '-', 'N', 'e', 't', 0x00}

// Packet is one of the decoded packet types.
type Packet interface {
	OpCode() code.OpCode
}

// Encode serializes p into a new datagram.
func Encode(p Packet) ([]byte, error) {
	switch v := p.(type) {
	case *Poll:
		return v.encode(), nil
	case *PollReply:
		return v.encode()
	case *DMX:
		return v.encode()
	case *Address:
		return v.encode()
	default:
		return nil, fmt.Errorf("art-net encode: unsupported packet %T", p)
	}
}

// Decode parses a datagram. Any failure is a *DecodeError.
func Decode(b []byte) (Packet, error) {
	op, err := readHeader(b)
	if err != nil {
		return nil, err
	}

	switch op {
	case code.OpPoll:
		return result(decodePoll(b))
	case code.OpPollReply:
		return result(decodePollReply(b))
	case code.OpDMX:
		return result(decodeDMX(b))
	case code.OpAddress:
		return result(decodeAddress(b))
	default:
		return nil, decodeErr(ErrUnknownOpcode, op, len(b), 0)
	}
}

// result keeps a typed nil pointer from escaping as a non-nil Packet.
func result[T Packet](p T, err error) (Packet, error) {
	if err != nil {
		return nil, err
	}
	return p, nil
}

// PeekOpCode returns the opcode of a datagram without decoding its payload.
func PeekOpCode(b []byte) (code.OpCode, error) {
	return readHeader(b)
}

func readHeader(b []byte) (code.OpCode, error) {
	n := len(b)
	if n < len(ID) {
		// a prefix of a valid header is a short read, anything else is garbage
		if !bytes.Equal(b, ID[:n]) {
			return 0, decodeErr(ErrMalformedHeader, 0, n, 0)
		}
		return 0, decodeErr(ErrTruncatedPayload, 0, n, headerLen)
	}
	if !bytes.Equal(b[:len(ID)], ID[:]) {
		return 0, decodeErr(ErrMalformedHeader, 0, n, 0)
	}
	if n < headerLen {
		return 0, decodeErr(ErrTruncatedPayload, 0, n, headerLen)
	}
	return code.OpCode(binary.LittleEndian.Uint16(b[8:10])), nil
}

func putHeader(b []byte, op code.OpCode) {
	copy(b[0:8], ID[:])
	binary.LittleEndian.PutUint16(b[8:10], uint16(op))
}

func putVersionedHeader(b []byte, op code.OpCode) {
	putHeader(b, op)
	binary.BigEndian.PutUint16(b[10:12], ProtocolVersion)
}

// putString writes s into a fixed, NUL padded field. The last byte is always NUL.
func putString(dst []byte, s, field string) error {
	if len(s) > len(dst)-1 {
		return fmt.Errorf("art-net encode: %s %q longer than %d bytes", field, s, len(dst)-1)
	}
	copy(dst, s)
	return nil
}

func readString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}
