package artnet

import (
	"context"
	"net/netip"
	"sync/atomic"
	"time"

	"artnetd/internal/artnet/packet"
	"artnetd/internal/artnet/registry"
	"artnetd/internal/artnet/universe"
	"artnetd/internal/events"
	"artnetd/internal/logger"
	"artnetd/internal/stats"
)

// State of the discovery service.
type State int32

const (
	Stopped State = iota
	Polling
)

func (s State) String() string {
	if s == Polling {
		return "polling"
	}
	return "stopped"
}

// sendFunc encodes p and writes it to one address.
type sendFunc func(p packet.Packet, to netip.AddrPort) error

// discovery polls the network and keeps the node registry current.
// It is the only writer of the registry.
type discovery struct {
	log       *logger.Log
	nodes     *registry.Registry
	universes *universe.Map
	stats     *stats.Counters
	bus       *events.Bus
	send      sendFunc

	interval  time.Duration
	missed    int
	broadcast netip.AddrPort

	state atomic.Int32
}

// run polls immediately and then every interval until ctx is done.
func (d *discovery) run(ctx context.Context, now func() time.Time) {
	d.state.Store(int32(Polling))
	defer d.state.Store(int32(Stopped))

	d.cycle(now())

	t := time.NewTicker(d.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			d.cycle(now())
		}
	}
}

// cycle evicts nodes that missed too many polls and broadcasts a new poll.
func (d *discovery) cycle(now time.Time) {
	for _, n := range d.nodes.EvictStale(now, d.timeout()) {
		d.log.Infof("node %s (%s) lost after %v of silence", n.Addr, n.ShortName, now.Sub(n.LastSeen).Round(time.Millisecond))
		events.Publish(d.bus, events.NodeLost{Node: n})
	}
	d.stats.SetNodes(d.nodes.Len())

	poll := &packet.Poll{Flags: packet.PollReplyOnChange, DiagPriority: diagPriorityLow}
	if err := d.send(poll, d.broadcast); err != nil {
		d.stats.IncSendErrors()
		d.log.Warnf("ArtPoll to %s: %v", d.broadcast, err)
		events.Publish(d.bus, events.EngineFault{Op: "poll", Err: err})
	}
}

func (d *discovery) timeout() time.Duration {
	return d.interval * time.Duration(d.missed)
}

// handleReply records a node and moves mappings that follow it by name.
func (d *discovery) handleReply(src netip.AddrPort, r *packet.PollReply, now time.Time) {
	info := registry.FromPollReply(nodeAddr(src, r), r, now)
	node, isNew := d.nodes.Upsert(info)
	if isNew {
		d.stats.IncDiscovered()
		d.log.Infof("node discovered: %s %q %q, %d ports", node.Addr, node.ShortName, node.LongName, len(node.Ports))
		events.Publish(d.bus, events.NodeDiscovered{Node: node})
	} else {
		d.log.Debugf("node refreshed: %s", node.Addr)
		events.Publish(d.bus, events.NodeUpdated{Node: node})
	}
	d.stats.SetNodes(d.nodes.Len())

	alive := func(addr netip.AddrPort) bool {
		_, ok := d.nodes.Lookup(addr)
		return ok
	}
	for _, rb := range d.universes.Rebind(node.Addr, node.ShortName, node.LongName, alive) {
		d.log.Infof("universe %d destination %s moved %s -> %s", rb.Universe, rb.Dest.ID, rb.From, rb.Dest.Addr)
		events.Publish(d.bus, events.DestinationRebound{
			Universe:      uint16(rb.Universe),
			DestinationID: rb.Dest.ID,
			From:          rb.From.String(),
			To:            rb.Dest.Addr.String(),
		})
	}
}

// nodeAddr is where a node receives Art-Net: the datagram's source IP and
// the port the reply announces.
func nodeAddr(src netip.AddrPort, r *packet.PollReply) netip.AddrPort {
	port := r.Port
	if port == 0 {
		port = packet.DefaultPort
	}
	return netip.AddrPortFrom(src.Addr().Unmap(), port)
}

const diagPriorityLow = 0x10
