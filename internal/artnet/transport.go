package artnet

import (
	"fmt"
	"net"
	"net/netip"
)

// Transport is the datagram socket the engine reads and writes.
// *net.UDPConn satisfies it; tests inject an in-memory one.
type Transport interface {
	ReadFromUDPAddrPort(b []byte) (int, netip.AddrPort, error)
	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)
	Close() error
}

// TransportError is a socket failure: bind at start, send or receive.
type TransportError struct {
	Op   string
	Addr netip.AddrPort
	Err  error
}

func (e *TransportError) Error() string {
	if e.Addr.IsValid() {
		return fmt.Sprintf("art-net %s %s: %v", e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("art-net %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// listenUDP binds the Art-Net socket. Go enables SO_BROADCAST on UDP sockets,
// so the same socket sends polls to the broadcast address.
func listenUDP(bind netip.Addr, port int) (*net.UDPConn, error) {
	if !bind.IsValid() {
		bind = netip.IPv4Unspecified()
	}
	laddr := net.UDPAddrFromAddrPort(netip.AddrPortFrom(bind, uint16(port)))
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, &TransportError{Op: "listen", Addr: laddr.AddrPort(), Err: err}
	}
	return conn, nil
}
