package packet

import (
	"encoding/binary"
	"fmt"

	"github.com/Haba1234/go-artnet/packet/code"
)

const (
	dmxHeaderLen = 18
	dmxMinLen    = dmxHeaderLen + 2
)

// DMX is an ArtDmx frame carrying channel data for one universe.
type DMX struct {
	// Sequence is 0 when sequencing is disabled, otherwise 1-255 wrapping.
	Sequence uint8
	Physical uint8
	Address  PortAddress
	// Data holds 2-512 channels; the length is always even.
	Data []byte
}

func (p *DMX) OpCode() code.OpCode { return code.OpDMX }

// Length returns the channel count carried by the frame.
func (p *DMX) Length() int { return len(p.Data) }

func validDMXLength(n int) bool {
	return n >= 2 && n <= MaxChannels && n%2 == 0
}

func (p *DMX) encode() ([]byte, error) {
	if !validDMXLength(len(p.Data)) {
		return nil, fmt.Errorf("art-net encode: dmx length %d must be even and within 2..%d", len(p.Data), MaxChannels)
	}
	if !p.Address.Valid() {
		return nil, fmt.Errorf("art-net encode: port address %d exceeds 15 bits", p.Address)
	}
	b := make([]byte, dmxHeaderLen+len(p.Data))
	putVersionedHeader(b, code.OpDMX)
	b[12] = p.Sequence
	b[13] = p.Physical
	binary.LittleEndian.PutUint16(b[14:16], uint16(p.Address))
	binary.BigEndian.PutUint16(b[16:18], uint16(len(p.Data)))
	copy(b[dmxHeaderLen:], p.Data)
	return b, nil
}

func decodeDMX(b []byte) (*DMX, error) {
	if len(b) < dmxMinLen {
		return nil, decodeErr(ErrTruncatedPayload, code.OpDMX, len(b), dmxMinLen)
	}
	n := int(binary.BigEndian.Uint16(b[16:18]))
	if !validDMXLength(n) || len(b) != dmxHeaderLen+n {
		return nil, decodeErr(ErrInconsistentLength, code.OpDMX, len(b), dmxHeaderLen+n)
	}
	data := make([]byte, n)
	copy(data, b[dmxHeaderLen:])
	return &DMX{
		Sequence: b[12],
		Physical: b[13],
		Address:  PortAddress(binary.LittleEndian.Uint16(b[14:16])) & MaxPortAddress,
		Data:     data,
	}, nil
}
