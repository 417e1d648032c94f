// Package registry keeps the set of Art-Net nodes seen on the network.
package registry

import (
	"net/netip"
	"sync"
	"time"

	"artnetd/internal/artnet/packet"
)

// Direction of a node port, seen from the node.
type Direction uint8

const (
	// PortInput feeds DMX onto the network.
	PortInput Direction = iota + 1
	// PortOutput consumes DMX from the network.
	PortOutput
)

func (d Direction) String() string {
	switch d {
	case PortInput:
		return "input"
	case PortOutput:
		return "output"
	default:
		return "unknown"
	}
}

// Port is one physical port of a node.
type Port struct {
	BindIndex uint8
	Index     int
	Direction Direction
	Address   packet.PortAddress
}

// Node is a remote Art-Net node. Values returned by the registry are copies.
type Node struct {
	Addr      netip.AddrPort
	ShortName string
	LongName  string
	Report    string
	Ports     []Port
	MAC       [6]byte
	Firmware  uint16
	OEM       uint16
	ESTA      uint16
	FirstSeen time.Time
	LastSeen  time.Time
}

func (n Node) clone() Node {
	n.Ports = append([]Port(nil), n.Ports...)
	return n
}

// FromPollReply builds node info from a reply received from src.
func FromPollReply(src netip.AddrPort, r *packet.PollReply, now time.Time) Node {
	n := Node{
		Addr:      src,
		ShortName: r.ShortName,
		LongName:  r.LongName,
		Report:    r.NodeReport,
		MAC:       r.MAC,
		Firmware:  r.Firmware,
		OEM:       r.OEM,
		ESTA:      r.ESTA,
		FirstSeen: now,
		LastSeen:  now,
	}
	for _, p := range r.Ports() {
		if p.Input {
			n.Ports = append(n.Ports, Port{BindIndex: r.BindIndex, Index: p.Index, Direction: PortInput, Address: p.In})
		}
		if p.Output {
			n.Ports = append(n.Ports, Port{BindIndex: r.BindIndex, Index: p.Index, Direction: PortOutput, Address: p.Out})
		}
	}
	return n
}

// Registry holds discovered nodes keyed by address, in insertion order.
// Only discovery writes to it; every method is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	nodes map[netip.AddrPort]*Node
	order []netip.AddrPort
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		nodes: make(map[netip.AddrPort]*Node),
	}
}

// Upsert inserts info or merges it into the node already known at the same
// address. It returns the stored node and whether it was new.
func (r *Registry) Upsert(info Node) (Node, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[info.Addr]
	if !ok {
		stored := info.clone()
		if stored.FirstSeen.IsZero() {
			stored.FirstSeen = stored.LastSeen
		}
		r.nodes[info.Addr] = &stored
		r.order = append(r.order, info.Addr)
		return stored.clone(), true
	}

	n.ShortName = info.ShortName
	n.LongName = info.LongName
	n.Report = info.Report
	n.MAC = info.MAC
	n.Firmware = info.Firmware
	n.OEM = info.OEM
	n.ESTA = info.ESTA
	if info.LastSeen.After(n.LastSeen) {
		n.LastSeen = info.LastSeen
	}
	n.Ports = mergePorts(n.Ports, info.Ports)

	return n.clone(), false
}

// mergePorts replaces the ports of every bind index present in update and
// keeps the rest. A node with more than four ports answers once per bind index.
func mergePorts(current, update []Port) []Port {
	replaced := make(map[uint8]bool)
	for _, p := range update {
		replaced[p.BindIndex] = true
	}
	merged := make([]Port, 0, len(current)+len(update))
	for _, p := range current {
		if !replaced[p.BindIndex] {
			merged = append(merged, p)
		}
	}
	return append(merged, update...)
}

// EvictStale removes nodes not seen for longer than timeout and returns them.
func (r *Registry) EvictStale(now time.Time, timeout time.Duration) []Node {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []Node
	kept := r.order[:0]
	for _, addr := range r.order {
		n := r.nodes[addr]
		if now.Sub(n.LastSeen) > timeout {
			evicted = append(evicted, n.clone())
			delete(r.nodes, addr)
			continue
		}
		kept = append(kept, addr)
	}
	r.order = kept

	return evicted
}

// Lookup returns the node at addr.
func (r *Registry) Lookup(addr netip.AddrPort) (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.nodes[addr]
	if !ok {
		return Node{}, false
	}
	return n.clone(), true
}

// FindByName returns the first node whose short or long name matches.
// Empty names never match.
func (r *Registry) FindByName(shortName, longName string) (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, addr := range r.order {
		n := r.nodes[addr]
		if (longName != "" && n.LongName == longName) || (shortName != "" && n.ShortName == shortName) {
			return n.clone(), true
		}
	}
	return Node{}, false
}

// Snapshot returns all nodes in insertion order.
func (r *Registry) Snapshot() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	nodes := make([]Node, 0, len(r.order))
	for _, addr := range r.order {
		nodes = append(nodes, r.nodes[addr].clone())
	}
	return nodes
}

// Len returns the number of known nodes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
