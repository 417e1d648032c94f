package artnet

import (
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"artnetd/internal/artnet/packet"
	"artnetd/internal/artnet/registry"
	"artnetd/internal/artnet/universe"
	"artnetd/internal/events"
	"artnetd/internal/logger"
	"artnetd/internal/stats"
)

type sentPacket struct {
	p  packet.Packet
	to netip.AddrPort
}

func newTestDiscovery(send sendFunc) *discovery {
	return &discovery{
		log:       logger.NewNop(),
		nodes:     registry.New(),
		universes: universe.NewMap(),
		stats:     stats.New(),
		bus:       events.New(),
		send:      send,
		interval:  time.Second,
		missed:    3,
		broadcast: netip.MustParseAddrPort("10.0.0.255:6454"),
	}
}

func TestDiscoveryCycleBroadcastsPoll(t *testing.T) {
	var sent []sentPacket
	d := newTestDiscovery(func(p packet.Packet, to netip.AddrPort) error {
		sent = append(sent, sentPacket{p, to})
		return nil
	})

	d.cycle(time.Unix(1000, 0))

	require.Len(t, sent, 1)
	assert.Equal(t, netip.MustParseAddrPort("10.0.0.255:6454"), sent[0].to)
	poll, ok := sent[0].p.(*packet.Poll)
	require.True(t, ok)
	assert.Equal(t, packet.PollReplyOnChange, poll.Flags)
}

func TestDiscoveryEvictsAfterMissedPolls(t *testing.T) {
	d := newTestDiscovery(func(packet.Packet, netip.AddrPort) error { return nil })

	lost := make(chan events.NodeLost, 1)
	defer events.Subscribe(d.bus, func(ev events.NodeLost) { lost <- ev })()

	t0 := time.Unix(1000, 0)
	d.handleReply(netip.MustParseAddrPort("10.0.0.7:6454"), &packet.PollReply{ShortName: "A"}, t0)
	require.Equal(t, 1, d.nodes.Len())

	for i := 1; i <= 3; i++ {
		d.cycle(t0.Add(time.Duration(i) * time.Second))
		assert.Equal(t, 1, d.nodes.Len(), "cycle %d", i)
	}
	d.cycle(t0.Add(4 * time.Second))
	assert.Empty(t, d.nodes.Snapshot())

	select {
	case ev := <-lost:
		assert.Equal(t, "A", ev.Node.ShortName)
	case <-time.After(time.Second):
		t.Fatal("NodeLost not published")
	}
}

func TestDiscoveryRepliesKeepNodeAlive(t *testing.T) {
	d := newTestDiscovery(func(packet.Packet, netip.AddrPort) error { return nil })
	src := netip.MustParseAddrPort("10.0.0.7:6454")
	t0 := time.Unix(1000, 0)

	for i := 0; i < 10; i++ {
		now := t0.Add(time.Duration(i) * time.Second)
		d.cycle(now)
		d.handleReply(src, &packet.PollReply{ShortName: "A"}, now.Add(100*time.Millisecond))
	}
	nodes := d.nodes.Snapshot()
	require.Len(t, nodes, 1)
	assert.True(t, nodes[0].FirstSeen.Equal(t0.Add(100*time.Millisecond)))
	assert.Equal(t, uint64(1), d.stats.Totals().Discovered)
}

func TestDiscoveryPollFailureIsReported(t *testing.T) {
	boom := errors.New("network unreachable")
	d := newTestDiscovery(func(packet.Packet, netip.AddrPort) error { return boom })

	faults := make(chan events.EngineFault, 1)
	defer events.Subscribe(d.bus, func(ev events.EngineFault) { faults <- ev })()

	d.cycle(time.Unix(1000, 0))
	assert.Equal(t, uint64(1), d.stats.Totals().SendErrors)

	select {
	case ev := <-faults:
		assert.Equal(t, "poll", ev.Op)
		assert.ErrorIs(t, ev.Err, boom)
	case <-time.After(time.Second):
		t.Fatal("EngineFault not published")
	}
}

func TestNodeAddr(t *testing.T) {
	src := netip.MustParseAddrPort("10.0.0.7:50000")
	assert.Equal(t, netip.MustParseAddrPort("10.0.0.7:6454"), nodeAddr(src, &packet.PollReply{}))
	assert.Equal(t, netip.MustParseAddrPort("10.0.0.7:6455"), nodeAddr(src, &packet.PollReply{Port: 6455}))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "stopped", Stopped.String())
	assert.Equal(t, "polling", Polling.String())
}
