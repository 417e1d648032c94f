package packet

import (
	"encoding/binary"

	"github.com/Haba1234/go-artnet/packet/code"
)

const (
	pollLen    = 18
	pollMinLen = 14
)

// Poll flag bits.
const (
	PollReplyOnChange  uint8 = 1 << 1
	PollDiagnostics    uint8 = 1 << 2
	PollDiagUnicast    uint8 = 1 << 3
	PollTargetedEnable uint8 = 1 << 5
)

// Poll is an ArtPoll discovery request.
type Poll struct {
	Flags        uint8
	DiagPriority uint8
	// TargetTop and TargetBottom bound the port addresses a targeted poll applies to.
	TargetTop    PortAddress
	TargetBottom PortAddress
}

func (p *Poll) OpCode() code.OpCode { return code.OpPoll }

func (p *Poll) encode() []byte {
	b := make([]byte, pollLen)
	putVersionedHeader(b, code.OpPoll)
	b[12] = p.Flags
	b[13] = p.DiagPriority
	binary.BigEndian.PutUint16(b[14:16], uint16(p.TargetTop))
	binary.BigEndian.PutUint16(b[16:18], uint16(p.TargetBottom))
	return b
}

func decodePoll(b []byte) (*Poll, error) {
	if len(b) < pollMinLen {
		return nil, decodeErr(ErrTruncatedPayload, code.OpPoll, len(b), pollMinLen)
	}
	p := &Poll{
		Flags:        b[12],
		DiagPriority: b[13],
	}
	// older controllers stop after the priority byte
	if len(b) >= pollLen {
		p.TargetTop = PortAddress(binary.BigEndian.Uint16(b[14:16]))
		p.TargetBottom = PortAddress(binary.BigEndian.Uint16(b[16:18]))
	}
	return p, nil
}
