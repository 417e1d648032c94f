package artnet

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"artnetd/internal/artnet/packet"
	"artnetd/internal/artnet/universe"
	"artnetd/internal/logger"
)

type captured struct {
	out []outbound
}

func (c *captured) dispatch(o outbound) bool {
	c.out = append(c.out, o)
	return true
}

func (c *captured) frames(t *testing.T) []*packet.DMX {
	t.Helper()
	frames := make([]*packet.DMX, 0, len(c.out))
	for _, o := range c.out {
		p, err := packet.Decode(o.payload)
		require.NoError(t, err)
		frames = append(frames, p.(*packet.DMX))
	}
	return frames
}

func newTestScheduler(m *universe.Map, c *captured) *scheduler {
	return &scheduler{
		log:         logger.NewNop(),
		universes:   m,
		dispatch:    c.dispatch,
		minInterval: 30 * time.Millisecond,
		keepalive:   time.Second,
		sequencing:  true,
		broadcast:   netip.MustParseAddrPort("10.0.0.255:6454"),
	}
}

var nodeA = netip.MustParseAddrPort("10.0.0.5:6454")

func TestSchedulerPacesWrites(t *testing.T) {
	m := universe.NewMap()
	u, err := m.Create(0, universe.Output)
	require.NoError(t, err)
	require.NoError(t, m.SetOutputTargets(0, []universe.Destination{{Addr: nodeA}}))

	c := &captured{}
	s := newTestScheduler(m, c)
	t0 := time.Unix(1000, 0)

	require.NoError(t, u.Write([]byte{1}))
	assert.Equal(t, 1, s.Tick(t0))
	assert.Equal(t, 0, s.Tick(t0.Add(5*time.Millisecond)), "idle universe")

	require.NoError(t, u.Write([]byte{2}))
	require.NoError(t, u.Write([]byte{3}))
	assert.Equal(t, 0, s.Tick(t0.Add(10*time.Millisecond)), "inside min interval")
	assert.Equal(t, 1, s.Tick(t0.Add(40*time.Millisecond)), "writes coalesced into one send")

	frames := c.frames(t)
	require.Len(t, frames, 2)
	assert.Equal(t, uint8(1), frames[0].Data[0])
	assert.Equal(t, uint8(3), frames[1].Data[0])
	assert.Equal(t, uint8(1), frames[0].Sequence)
	assert.Equal(t, uint8(2), frames[1].Sequence)
	assert.Equal(t, nodeA, c.out[0].addr)
}

func TestSchedulerKeepalive(t *testing.T) {
	m := universe.NewMap()
	_, err := m.Create(0, universe.Output)
	require.NoError(t, err)
	require.NoError(t, m.SetOutputTargets(0, []universe.Destination{{Addr: nodeA}}))

	c := &captured{}
	s := newTestScheduler(m, c)
	t0 := time.Unix(1000, 0)

	assert.Equal(t, 1, s.Tick(t0), "never sent universes are due")
	assert.Equal(t, 0, s.Tick(t0.Add(999*time.Millisecond)))
	assert.Equal(t, 1, s.Tick(t0.Add(time.Second)))
	assert.Equal(t, 0, s.Tick(t0.Add(1500*time.Millisecond)))
}

func TestSchedulerSequencePerDestination(t *testing.T) {
	m := universe.NewMap()
	u, err := m.Create(0, universe.Output)
	require.NoError(t, err)
	nodeB := netip.MustParseAddrPort("10.0.0.6:6454")
	require.NoError(t, m.SetOutputTargets(0, []universe.Destination{{Addr: nodeA}, {Addr: nodeB, Remote: 7}}))

	c := &captured{}
	s := newTestScheduler(m, c)
	t0 := time.Unix(1000, 0)
	s.Tick(t0)
	require.NoError(t, u.Write([]byte{9}))
	s.Tick(t0.Add(50 * time.Millisecond))

	frames := c.frames(t)
	require.Len(t, frames, 4)
	assert.Equal(t, []uint8{1, 1, 2, 2}, []uint8{frames[0].Sequence, frames[1].Sequence, frames[2].Sequence, frames[3].Sequence})
	assert.Equal(t, packet.PortAddress(0), frames[0].Address)
	assert.Equal(t, packet.PortAddress(7), frames[1].Address)
	assert.Equal(t, nodeB, c.out[1].addr)
}

func TestSchedulerSequencingDisabled(t *testing.T) {
	m := universe.NewMap()
	_, err := m.Create(0, universe.Output)
	require.NoError(t, err)
	require.NoError(t, m.SetOutputTargets(0, []universe.Destination{{Addr: nodeA}}))

	c := &captured{}
	s := newTestScheduler(m, c)
	s.sequencing = false
	s.Tick(time.Unix(1000, 0))
	s.Tick(time.Unix(1002, 0))

	for _, f := range c.frames(t) {
		assert.Equal(t, uint8(0), f.Sequence)
	}
}

func TestSchedulerBroadcastsUnmappedUniverses(t *testing.T) {
	m := universe.NewMap()
	_, err := m.Create(3, universe.Output)
	require.NoError(t, err)
	_, err = m.Create(4, universe.Input)
	require.NoError(t, err)

	c := &captured{}
	s := newTestScheduler(m, c)
	assert.Equal(t, 0, s.Tick(time.Unix(1000, 0)))

	s.broadcastUnmapped = true
	assert.Equal(t, 1, s.Tick(time.Unix(1002, 0)))
	frames := c.frames(t)
	require.Len(t, frames, 1)
	assert.Equal(t, packet.PortAddress(3), frames[0].Address)
	assert.Equal(t, netip.MustParseAddrPort("10.0.0.255:6454"), c.out[0].addr)
	assert.Equal(t, universe.ID(3), c.out[0].universe)
}

func TestSchedulerForgetsRemovedUniverses(t *testing.T) {
	m := universe.NewMap()
	_, err := m.Create(0, universe.Output)
	require.NoError(t, err)

	c := &captured{}
	s := newTestScheduler(m, c)
	s.Tick(time.Unix(1000, 0))
	assert.Len(t, s.limiters, 1)

	m.Remove(0)
	s.Tick(time.Unix(1001, 0))
	assert.Empty(t, s.limiters)
}
