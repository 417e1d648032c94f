package packet

import (
	"github.com/Haba1234/go-artnet/packet/code"
)

const addressLen = 107

// ArtAddress commands used by the engine.
const (
	AddressCmdNone        uint8 = 0x00
	AddressCmdCancelMerge uint8 = 0x01
	AddressCmdLedNormal   uint8 = 0x02
	AddressCmdLedMute     uint8 = 0x03
	AddressCmdLedLocate   uint8 = 0x04
)

// ProgramBit must be set in a switch field for the node to apply its low bits.
// A switch field without it leaves the remote setting untouched.
const ProgramBit uint8 = 0x80

// Address is an ArtAddress packet that reprograms a node.
type Address struct {
	NetSwitch uint8
	BindIndex uint8
	ShortName string
	LongName  string
	SwIn      [MaxPorts]uint8
	SwOut     [MaxPorts]uint8
	SubSwitch uint8
	AcnPrio   uint8
	Command   uint8
}

func (p *Address) OpCode() code.OpCode { return code.OpAddress }

func (p *Address) encode() ([]byte, error) {
	b := make([]byte, addressLen)
	putVersionedHeader(b, code.OpAddress)
	b[12] = p.NetSwitch
	b[13] = p.BindIndex
	if err := putString(b[14:14+shortNameLen], p.ShortName, "short name"); err != nil {
		return nil, err
	}
	if err := putString(b[32:32+longNameLen], p.LongName, "long name"); err != nil {
		return nil, err
	}
	copy(b[96:100], p.SwIn[:])
	copy(b[100:104], p.SwOut[:])
	b[104] = p.SubSwitch
	b[105] = p.AcnPrio
	b[106] = p.Command
	return b, nil
}

func decodeAddress(b []byte) (*Address, error) {
	if len(b) < addressLen {
		return nil, decodeErr(ErrTruncatedPayload, code.OpAddress, len(b), addressLen)
	}
	p := &Address{
		NetSwitch: b[12],
		BindIndex: b[13],
		ShortName: readString(b[14 : 14+shortNameLen]),
		LongName:  readString(b[32 : 32+longNameLen]),
		SubSwitch: b[104],
		AcnPrio:   b[105],
		Command:   b[106],
	}
	copy(p.SwIn[:], b[96:100])
	copy(p.SwOut[:], b[100:104])
	return p, nil
}
