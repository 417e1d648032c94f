package packet

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/Haba1234/go-artnet/packet/code"
)

const (
	pollReplyLen    = 239
	pollReplyMinLen = 207 // nodes predating bind IP stop after the MAC
	bindFieldsEnd   = 213

	shortNameLen  = 18
	longNameLen   = 64
	nodeReportLen = 64

	// MaxPorts is the number of port slots in one ArtPollReply.
	MaxPorts = 4
)

// Port type bits of ArtPollReply.PortTypes.
const (
	PortTypeOutput uint8 = 0x80 // port outputs DMX received over Art-Net
	PortTypeInput  uint8 = 0x40 // port feeds DMX onto Art-Net
)

// Node styles.
const (
	StyleNode       uint8 = 0x00
	StyleController uint8 = 0x01
)

// PollReply is an ArtPollReply sent by a node in answer to ArtPoll.
type PollReply struct {
	IP         [4]byte
	Port       uint16
	Firmware   uint16
	NetSwitch  uint8
	SubSwitch  uint8
	OEM        uint16
	UBEA       uint8
	Status1    uint8
	ESTA       uint16
	ShortName  string
	LongName   string
	NodeReport string
	NumPorts   uint16
	PortTypes  [MaxPorts]uint8
	GoodInput  [MaxPorts]uint8
	GoodOutput [MaxPorts]uint8
	SwIn       [MaxPorts]uint8
	SwOut      [MaxPorts]uint8
	AcnPrio    uint8
	SwMacro    uint8
	SwRemote   uint8
	Style      uint8
	MAC        [6]byte
	BindIP     [4]byte
	BindIndex  uint8
	Status2    uint8
}

func (p *PollReply) OpCode() code.OpCode { return code.OpPollReply }

// Addr returns the node IP as reported inside the packet.
func (p *PollReply) Addr() netip.Addr {
	return netip.AddrFrom4(p.IP)
}

// PortInfo describes one active port slot of a reply.
type PortInfo struct {
	Index  int
	Input  bool
	Output bool
	In     PortAddress
	Out    PortAddress
	Type   uint8
}

// Ports expands the port slots into full 15 bit addresses.
func (p *PollReply) Ports() []PortInfo {
	n := int(p.NumPorts)
	if n > MaxPorts {
		n = MaxPorts
	}
	ports := make([]PortInfo, 0, n)
	for i := 0; i < n; i++ {
		t := p.PortTypes[i]
		ports = append(ports, PortInfo{
			Index:  i,
			Input:  t&PortTypeInput != 0,
			Output: t&PortTypeOutput != 0,
			In:     NewPortAddress(p.NetSwitch, p.SubSwitch, p.SwIn[i]),
			Out:    NewPortAddress(p.NetSwitch, p.SubSwitch, p.SwOut[i]),
			Type:   t,
		})
	}
	return ports
}

func (p *PollReply) encode() ([]byte, error) {
	if p.NumPorts > MaxPorts {
		return nil, fmt.Errorf("art-net encode: %d ports exceed the %d slots of a reply", p.NumPorts, MaxPorts)
	}
	b := make([]byte, pollReplyLen)
	putHeader(b, code.OpPollReply)
	copy(b[10:14], p.IP[:])
	binary.LittleEndian.PutUint16(b[14:16], p.Port)
	binary.BigEndian.PutUint16(b[16:18], p.Firmware)
	b[18] = p.NetSwitch
	b[19] = p.SubSwitch
	binary.BigEndian.PutUint16(b[20:22], p.OEM)
	b[22] = p.UBEA
	b[23] = p.Status1
	binary.LittleEndian.PutUint16(b[24:26], p.ESTA)
	if err := putString(b[26:26+shortNameLen], p.ShortName, "short name"); err != nil {
		return nil, err
	}
	if err := putString(b[44:44+longNameLen], p.LongName, "long name"); err != nil {
		return nil, err
	}
	if err := putString(b[108:108+nodeReportLen], p.NodeReport, "node report"); err != nil {
		return nil, err
	}
	binary.BigEndian.PutUint16(b[172:174], p.NumPorts)
	copy(b[174:178], p.PortTypes[:])
	copy(b[178:182], p.GoodInput[:])
	copy(b[182:186], p.GoodOutput[:])
	copy(b[186:190], p.SwIn[:])
	copy(b[190:194], p.SwOut[:])
	b[194] = p.AcnPrio
	b[195] = p.SwMacro
	b[196] = p.SwRemote
	b[200] = p.Style
	copy(b[201:207], p.MAC[:])
	copy(b[207:211], p.BindIP[:])
	b[211] = p.BindIndex
	b[212] = p.Status2
	return b, nil
}

func decodePollReply(b []byte) (*PollReply, error) {
	if len(b) < pollReplyMinLen {
		return nil, decodeErr(ErrTruncatedPayload, code.OpPollReply, len(b), pollReplyMinLen)
	}
	p := &PollReply{
		Port:       binary.LittleEndian.Uint16(b[14:16]),
		Firmware:   binary.BigEndian.Uint16(b[16:18]),
		NetSwitch:  b[18],
		SubSwitch:  b[19],
		OEM:        binary.BigEndian.Uint16(b[20:22]),
		UBEA:       b[22],
		Status1:    b[23],
		ESTA:       binary.LittleEndian.Uint16(b[24:26]),
		ShortName:  readString(b[26 : 26+shortNameLen]),
		LongName:   readString(b[44 : 44+longNameLen]),
		NodeReport: readString(b[108 : 108+nodeReportLen]),
		NumPorts:   binary.BigEndian.Uint16(b[172:174]),
		AcnPrio:    b[194],
		SwMacro:    b[195],
		SwRemote:   b[196],
		Style:      b[200],
	}
	if p.NumPorts > MaxPorts {
		return nil, decodeErr(ErrInconsistentLength, code.OpPollReply, len(b), 0)
	}
	copy(p.IP[:], b[10:14])
	copy(p.PortTypes[:], b[174:178])
	copy(p.GoodInput[:], b[178:182])
	copy(p.GoodOutput[:], b[182:186])
	copy(p.SwIn[:], b[186:190])
	copy(p.SwOut[:], b[190:194])
	copy(p.MAC[:], b[201:207])
	if len(b) >= bindFieldsEnd {
		copy(p.BindIP[:], b[207:211])
		p.BindIndex = b[211]
		p.Status2 = b[212]
	}
	return p, nil
}
