package artnet

import (
	"net/netip"
	"sync"
	"time"

	"artnetd/internal/artnet/packet"
	"artnetd/internal/artnet/universe"
	"artnetd/internal/events"
	"artnetd/internal/logger"
	"artnetd/internal/stats"
)

// inputAggregator merges inbound ArtDmx into input universes. It is the only
// writer of their input buffers.
type inputAggregator struct {
	log       *logger.Log
	universes *universe.Map
	stats     *stats.Counters
	bus       *events.Bus
	tracker   *sequenceTracker
}

func (a *inputAggregator) handle(src netip.AddrPort, p *packet.DMX, now time.Time) {
	u, ok := a.universes.RouteInput(src, p.Address)
	if !ok {
		a.stats.IncUnrouted()
		return
	}
	id := uint16(u.ID())
	a.stats.IncReceived(id)

	if !a.tracker.accept(streamID{src: src, universe: u.ID()}, p.Sequence, now) {
		a.stats.IncDropped(id)
		a.log.Debugf("universe %d: frame seq %d from %s dropped", id, p.Sequence, src)
		return
	}
	a.stats.IncApplied(id)

	if u.Merge(p.Data) {
		events.Publish(a.bus, events.InputUpdated{Universe: id, Data: u.Read(), At: now})
	}
}

type streamID struct {
	src      netip.AddrPort
	universe universe.ID
}

type streamState struct {
	last uint8
	seen time.Time
}

// sequenceTracker filters duplicate and late frames per (source, universe).
// Sequence numbers live in 1..255; 0 means the sender does not sequence.
type sequenceTracker struct {
	backlog int
	timeout time.Duration

	mu        sync.Mutex
	streams   map[streamID]*streamState
	lastSweep time.Time
}

func newSequenceTracker(backlog int, timeout time.Duration) *sequenceTracker {
	return &sequenceTracker{
		backlog: backlog,
		timeout: timeout,
		streams: make(map[streamID]*streamState),
	}
}

// accept reports whether a frame with seq should be applied.
func (t *sequenceTracker) accept(id streamID, seq uint8, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sweep(now)

	if seq == 0 {
		delete(t.streams, id)
		return true
	}

	st, ok := t.streams[id]
	if !ok || (t.timeout > 0 && now.Sub(st.seen) > t.timeout) {
		t.streams[id] = &streamState{last: seq, seen: now}
		return true
	}
	st.seen = now

	switch d := sequenceDelta(st.last, seq); {
	case d == 0:
		return false
	case d < 0:
		return -d <= t.backlog
	default:
		st.last = seq
		return true
	}
}

// sweep drops streams silent for longer than the timeout. Expects t.mu held.
func (t *sequenceTracker) sweep(now time.Time) {
	if t.timeout <= 0 || now.Sub(t.lastSweep) < t.timeout {
		return
	}
	t.lastSweep = now
	for id, st := range t.streams {
		if now.Sub(st.seen) > t.timeout {
			delete(t.streams, id)
		}
	}
}

// sequenceDelta returns how far next is ahead of last on the 1..255 ring,
// in -127..127.
func sequenceDelta(last, next uint8) int {
	d := (int(next) - int(last)) % 255
	if d < 0 {
		d += 255
	}
	if d > 127 {
		d -= 255
	}
	return d
}
