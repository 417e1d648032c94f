// Package universe holds the engine's universes: their channel buffers and
// the mapping of each universe to network destinations and input sources.
package universe

import (
	"fmt"
	"net/netip"
	"strings"
	"sync"
	"time"

	"artnetd/internal/artnet/packet"
)

// Size is the number of channels in a universe.
const Size = packet.MaxChannels

// MaxID is the highest universe id, the 15 bit Art-Net port address space.
const MaxID = ID(packet.MaxPortAddress)

// ID identifies a universe inside the engine.
type ID uint16

// Direction of a universe, seen from the host application.
type Direction uint8

const (
	Output Direction = 1 << iota
	Input
	Both = Output | Input
)

// ParseDirection parses "output", "input" or "both".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "output", "out":
		return Output, nil
	case "input", "in":
		return Input, nil
	case "both", "io":
		return Both, nil
	default:
		return 0, configErr("direction", s, "must be output, input or both")
	}
}

func (d Direction) String() string {
	switch d {
	case Output:
		return "output"
	case Input:
		return "input"
	case Both:
		return "both"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// IsOutput reports whether the host sends this universe.
func (d Direction) IsOutput() bool { return d&Output != 0 }

// IsInput reports whether the universe is fed from the network.
func (d Direction) IsInput() bool { return d&Input != 0 }

// Destination is one network target of an output universe. Nodes are
// referenced by address only; ShortName/LongName let a mapping follow a node
// whose IP changed.
type Destination struct {
	ID        string
	Addr      netip.AddrPort
	Remote    packet.PortAddress
	ShortName string
	LongName  string
}

type streamKey struct {
	addr   netip.AddrPort
	remote packet.PortAddress
}

func (d Destination) key() streamKey {
	return streamKey{addr: d.Addr, remote: d.Remote}
}

// InputFilter selects which inbound frames feed an input universe.
type InputFilter struct {
	// Source restricts frames to one sender IP; the zero value accepts any.
	Source  netip.Addr
	Address packet.PortAddress
}

// Matches reports whether a frame from src passes the source restriction.
func (f InputFilter) Matches(src netip.Addr) bool {
	return !f.Source.IsValid() || f.Source == src.Unmap()
}

// Check validates the port address the filter listens on.
func (f InputFilter) Check() error {
	if !f.Address.Valid() {
		return configErr("input universe", f.Address, "exceeds 15 bits")
	}
	return nil
}

// Frame is one destination's share of an output send.
type Frame struct {
	Dest     Destination
	Sequence uint8
}

// Universe is a 512 channel buffer with its output bookkeeping. The host
// owns writes to the output buffer, the input aggregator owns writes to the
// input buffer; both are guarded by the universe's own lock.
type Universe struct {
	id  ID
	dir Direction

	mu       sync.Mutex
	out      [Size]byte
	in       [Size]byte
	dirty    bool
	lastSent time.Time
	dests    []Destination
	seq      map[streamKey]uint8
	input    InputFilter
}

func newUniverse(id ID, dir Direction) *Universe {
	return &Universe{
		id:    id,
		dir:   dir,
		seq:   make(map[streamKey]uint8),
		input: InputFilter{Address: packet.PortAddress(id)},
	}
}

// ID returns the universe id.
func (u *Universe) ID() ID { return u.id }

// Direction returns the universe direction.
func (u *Universe) Direction() Direction { return u.dir }

// Write copies data into the start of the output buffer. Channels past
// len(data) keep their value.
func (u *Universe) Write(data []byte) error {
	if !u.dir.IsOutput() {
		return configErr("universe", u.id, "is not an output universe")
	}
	if len(data) == 0 || len(data) > Size {
		return configErr("channel count", len(data), fmt.Sprintf("must be within 1..%d", Size))
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	for i, v := range data {
		if u.out[i] != v {
			u.out[i] = v
			u.dirty = true
		}
	}
	return nil
}

// SetChannel sets one 0-based channel of the output buffer.
func (u *Universe) SetChannel(channel int, value byte) error {
	if !u.dir.IsOutput() {
		return configErr("universe", u.id, "is not an output universe")
	}
	if channel < 0 || channel >= Size {
		return configErr("channel", channel, fmt.Sprintf("must be within 0..%d", Size-1))
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if u.out[channel] != value {
		u.out[channel] = value
		u.dirty = true
	}
	return nil
}

// Read returns the buffer the host reads: the merged input for input
// universes, the output buffer otherwise.
func (u *Universe) Read() [Size]byte {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.dir.IsInput() {
		return u.in
	}
	return u.out
}

// ReadOutput returns the output buffer.
func (u *Universe) ReadOutput() [Size]byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.out
}

// Merge copies inbound channel data over the start of the input buffer and
// reports whether anything changed.
func (u *Universe) Merge(data []byte) bool {
	if len(data) > Size {
		data = data[:Size]
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	changed := false
	for i, v := range data {
		if u.in[i] != v {
			u.in[i] = v
			changed = true
		}
	}
	return changed
}

// OutputState returns the dirty flag and the time of the last send.
func (u *Universe) OutputState() (dirty bool, lastSent time.Time) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.dirty, u.lastSent
}

// Collect snapshots the output buffer for a send at now. It assigns the
// next sequence number of every destination stream (0 when sequencing is
// off), clears the dirty flag and records the send time. fallback is used
// when the universe has no destinations; nil means nothing is sent.
func (u *Universe) Collect(now time.Time, sequencing bool, fallback *Destination) ([Size]byte, []Frame) {
	u.mu.Lock()
	defer u.mu.Unlock()

	dests := u.dests
	if len(dests) == 0 && fallback != nil {
		dests = []Destination{*fallback}
	}

	frames := make([]Frame, 0, len(dests))
	for _, d := range dests {
		var seq uint8
		if sequencing {
			seq = nextSequence(u.seq[d.key()])
			u.seq[d.key()] = seq
		}
		frames = append(frames, Frame{Dest: d, Sequence: seq})
	}

	u.dirty = false
	u.lastSent = now
	return u.out, frames
}

// nextSequence advances 1..255 and skips 0, which means "sequencing off".
func nextSequence(prev uint8) uint8 {
	if prev == 255 {
		return 1
	}
	return prev + 1
}

// Destinations returns a copy of the output destinations.
func (u *Universe) Destinations() []Destination {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]Destination(nil), u.dests...)
}

// InputFilter returns the input routing of the universe.
func (u *Universe) InputFilter() InputFilter {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.input
}

func (u *Universe) setDestinations(dests []Destination) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.dests = dests
	keep := make(map[streamKey]uint8, len(dests))
	for _, d := range dests {
		keep[d.key()] = u.seq[d.key()]
	}
	u.seq = keep
}

// dropTargets removes destinations that point at any of keys.
func (u *Universe) dropTargets(keys map[streamKey]bool) []Destination {
	u.mu.Lock()
	defer u.mu.Unlock()

	var dropped []Destination
	kept := u.dests[:0:0]
	for _, d := range u.dests {
		if keys[d.key()] {
			dropped = append(dropped, d)
			delete(u.seq, d.key())
			continue
		}
		kept = append(kept, d)
	}
	u.dests = kept
	return dropped
}

// follow moves destinations matching the node names to addr. A moved
// destination whose node port the universe already targets is merged into
// the existing one.
func (u *Universe) follow(addr netip.AddrPort, shortName, longName string, alive func(netip.AddrPort) bool) []Rebound {
	u.mu.Lock()
	defer u.mu.Unlock()

	owned := make(map[streamKey]bool, len(u.dests))
	for _, d := range u.dests {
		owned[d.key()] = true
	}

	var rebound []Rebound
	kept := u.dests[:0:0]
	for _, d := range u.dests {
		if d.Addr == addr || !namesMatch(d, shortName, longName) || alive(d.Addr) {
			kept = append(kept, d)
			continue
		}
		from, old := d.Addr, d.key()
		d.Addr = addr
		delete(owned, old)
		if owned[d.key()] {
			delete(u.seq, old)
			continue
		}
		owned[d.key()] = true
		u.seq[d.key()] = u.seq[old]
		delete(u.seq, old)
		kept = append(kept, d)
		rebound = append(rebound, Rebound{Universe: u.id, From: from, Dest: d})
	}
	u.dests = kept
	return rebound
}

func (u *Universe) setInput(f InputFilter) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.input = f
}
