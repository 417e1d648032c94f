package artnet

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
)

// ErrNoInterface is returned when no local IPv4 address matches.
var ErrNoInterface = errors.New("no matching art-net interface")

// FindArtNetIP finds the local IPv4 address inside cidr and the prefix of its
// interface. An empty cidr picks the first non-loopback IPv4 address.
func FindArtNetIP(cidr string) (netip.Addr, netip.Prefix, error) {
	var want netip.Prefix
	if cidr != "" {
		p, err := netip.ParsePrefix(cidr)
		if err != nil {
			return netip.Addr{}, netip.Prefix{}, fmt.Errorf("interface cidr %q: %w", cidr, err)
		}
		want = p.Masked()
	}

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return netip.Addr{}, netip.Prefix{}, fmt.Errorf("error getting ips: %w", err)
	}

	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip, ok := netip.AddrFromSlice(ipNet.IP)
		if !ok {
			continue
		}
		ip = ip.Unmap()
		if !ip.Is4() || ip.IsLoopback() {
			continue
		}
		ones, _ := ipNet.Mask.Size()
		prefix := netip.PrefixFrom(ip, ones)

		if want.IsValid() && !want.Contains(ip) {
			continue
		}
		return ip, prefix, nil
	}

	if want.IsValid() {
		return netip.Addr{}, netip.Prefix{}, fmt.Errorf("%w in %s", ErrNoInterface, want)
	}
	return netip.Addr{}, netip.Prefix{}, ErrNoInterface
}

// BroadcastAddr returns the directed broadcast address of an IPv4 prefix,
// or the limited broadcast address when the prefix is unusable.
func BroadcastAddr(p netip.Prefix) netip.Addr {
	if !p.IsValid() || !p.Addr().Is4() {
		return netip.AddrFrom4([4]byte{255, 255, 255, 255})
	}
	ip := p.Addr().As4()
	bits := p.Bits()
	for i := 0; i < 4; i++ {
		keep := bits - i*8
		switch {
		case keep >= 8:
			continue
		case keep <= 0:
			ip[i] = 0xff
		default:
			ip[i] |= 0xff >> keep
		}
	}
	return netip.AddrFrom4(ip)
}
