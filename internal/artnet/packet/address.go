package packet

import "fmt"

// MaxPortAddress is the highest 15 bit Art-Net port address.
const MaxPortAddress PortAddress = 0x7fff

// PortAddress is a 15 bit Art-Net universe address: net (7 bits), sub-net
// (4 bits) and universe (4 bits).
type PortAddress uint16

// NewPortAddress assembles a port address from its parts.
func NewPortAddress(net, subNet, universe uint8) PortAddress {
	return PortAddress(uint16(net&0x7f)<<8 | uint16(subNet&0x0f)<<4 | uint16(universe&0x0f))
}

// Net returns the upper 7 bits.
func (a PortAddress) Net() uint8 { return uint8(a>>8) & 0x7f }

// SubNet returns bits 4-7.
func (a PortAddress) SubNet() uint8 { return uint8(a>>4) & 0x0f }

// Universe returns the lower 4 bits.
func (a PortAddress) Universe() uint8 { return uint8(a) & 0x0f }

// SubUni returns the low byte as carried in ArtDmx.
func (a PortAddress) SubUni() uint8 { return uint8(a) }

// Valid reports whether a fits in 15 bits.
func (a PortAddress) Valid() bool { return a <= MaxPortAddress }

func (a PortAddress) String() string {
	return fmt.Sprintf("%d:%d:%d", a.Net(), a.SubNet(), a.Universe())
}
