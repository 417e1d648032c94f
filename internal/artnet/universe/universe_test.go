package universe

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"artnetd/internal/artnet/packet"
)

var (
	nodeA = netip.MustParseAddrPort("10.0.0.5:6454")
	nodeB = netip.MustParseAddrPort("10.0.0.6:6454")
	t0    = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
)

func TestCreateValidation(t *testing.T) {
	m := NewMap()

	_, err := m.Create(MaxID+1, Output)
	assert.ErrorIs(t, err, ErrConfig)

	_, err = m.Create(1, 0)
	assert.ErrorIs(t, err, ErrConfig)

	u, err := m.Create(1, Output)
	require.NoError(t, err)
	assert.Equal(t, ID(1), u.ID())

	again, err := m.Create(1, Output)
	require.NoError(t, err)
	assert.Same(t, u, again)

	_, err = m.Create(1, Input)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestParseDirection(t *testing.T) {
	for in, want := range map[string]Direction{"output": Output, "Input": Input, " both ": Both} {
		got, err := ParseDirection(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseDirection("sideways")
	assert.ErrorIs(t, err, ErrConfig)
}

func TestWriteMarksDirtyOnlyOnChange(t *testing.T) {
	m := NewMap()
	u, err := m.Create(0, Output)
	require.NoError(t, err)

	require.NoError(t, u.Write([]byte{0, 0, 0}))
	dirty, _ := u.OutputState()
	assert.False(t, dirty, "writing identical data is not a change")

	require.NoError(t, u.Write([]byte{1, 2}))
	dirty, _ = u.OutputState()
	assert.True(t, dirty)

	buf := u.Read()
	assert.Equal(t, byte(1), buf[0])
	assert.Equal(t, byte(2), buf[1])
}

func TestWriteValidation(t *testing.T) {
	m := NewMap()
	out, _ := m.Create(0, Output)
	in, _ := m.Create(1, Input)

	assert.ErrorIs(t, out.Write(nil), ErrConfig)
	assert.ErrorIs(t, out.Write(make([]byte, Size+1)), ErrConfig)
	assert.ErrorIs(t, out.SetChannel(Size, 1), ErrConfig)
	assert.ErrorIs(t, out.SetChannel(-1, 1), ErrConfig)
	assert.ErrorIs(t, in.Write([]byte{1}), ErrConfig)

	var cfgErr *ConfigError
	require.ErrorAs(t, in.SetChannel(0, 1), &cfgErr)
	assert.Equal(t, "universe", cfgErr.Field)
}

func TestMergeKeepsTail(t *testing.T) {
	m := NewMap()
	u, _ := m.Create(2, Input)

	full := make([]byte, Size)
	for i := range full {
		full[i] = 9
	}
	assert.True(t, u.Merge(full))
	assert.True(t, u.Merge([]byte{1, 2, 3, 4}))
	assert.False(t, u.Merge([]byte{1, 2, 3, 4}))

	buf := u.Read()
	assert.Equal(t, []byte{1, 2, 3, 4}, buf[:4])
	for i := 4; i < Size; i++ {
		require.Equal(t, byte(9), buf[i], "channel %d", i)
	}
}

func TestCollectSequencesPerDestination(t *testing.T) {
	m := NewMap()
	u, _ := m.Create(0, Output)
	require.NoError(t, m.SetOutputTargets(0, []Destination{
		{Addr: nodeA, Remote: 0},
		{Addr: nodeB, Remote: 3},
	}))
	require.NoError(t, u.SetChannel(0, 255))

	_, frames := u.Collect(t0, true, nil)
	require.Len(t, frames, 2)
	assert.Equal(t, uint8(1), frames[0].Sequence)
	assert.Equal(t, uint8(1), frames[1].Sequence)

	dirty, last := u.OutputState()
	assert.False(t, dirty)
	assert.Equal(t, t0, last)

	for i := 0; i < 254; i++ {
		u.Collect(t0, true, nil)
	}
	_, frames = u.Collect(t0, true, nil)
	assert.Equal(t, uint8(1), frames[0].Sequence, "wraps to 1, skipping 0")

	_, frames = u.Collect(t0, false, nil)
	assert.Equal(t, uint8(0), frames[0].Sequence)
}

func TestCollectFallback(t *testing.T) {
	m := NewMap()
	u, _ := m.Create(4, Output)

	_, frames := u.Collect(t0, true, nil)
	assert.Empty(t, frames)

	bcast := Destination{Addr: netip.MustParseAddrPort("10.0.0.255:6454"), Remote: 4}
	_, frames = u.Collect(t0, true, &bcast)
	require.Len(t, frames, 1)
	assert.Equal(t, bcast, frames[0].Dest)
}

func TestSetOutputTargetsLastMappingWins(t *testing.T) {
	m := NewMap()
	m.Create(0, Output)
	m.Create(1, Output)

	require.NoError(t, m.SetOutputTargets(0, []Destination{{Addr: nodeA, Remote: 0}, {Addr: nodeB, Remote: 0}}))
	require.NoError(t, m.SetOutputTargets(1, []Destination{{Addr: nodeA, Remote: 0}}))

	zero := m.ResolveOutput(0)
	require.Len(t, zero, 1)
	assert.Equal(t, nodeB, zero[0].Addr)

	one := m.ResolveOutput(1)
	require.Len(t, one, 1)
	assert.Equal(t, nodeA, one[0].Addr)
	assert.NotEmpty(t, one[0].ID, "mapping identity is assigned")
}

func TestSetOutputTargetsValidation(t *testing.T) {
	m := NewMap()
	m.Create(0, Output)
	m.Create(1, Input)

	assert.ErrorIs(t, m.SetOutputTargets(7, nil), ErrConfig)
	assert.ErrorIs(t, m.SetOutputTargets(1, []Destination{{Addr: nodeA}}), ErrConfig)
	assert.ErrorIs(t, m.SetOutputTargets(0, []Destination{{}}), ErrConfig)
	assert.ErrorIs(t, m.SetOutputTargets(0, []Destination{{Addr: nodeA, Remote: 0x8000}}), ErrConfig)
}

func TestRouteInput(t *testing.T) {
	m := NewMap()
	m.Create(3, Input)
	m.Create(4, Both)
	m.Create(5, Output)

	u, ok := m.RouteInput(nodeA, 3)
	require.True(t, ok, "input universes default to their own address")
	assert.Equal(t, ID(3), u.ID())

	_, ok = m.RouteInput(nodeA, 5)
	assert.False(t, ok, "output-only universes take no input")

	_, ok = m.RouteInput(nodeA, 99)
	assert.False(t, ok)

	require.NoError(t, m.SetInputSource(4, InputFilter{Source: nodeB.Addr(), Address: packet.NewPortAddress(0, 2, 0)}))
	_, ok = m.RouteInput(nodeA, 32)
	assert.False(t, ok, "source filter rejects other senders")
	u, ok = m.RouteInput(nodeB, 32)
	require.True(t, ok)
	assert.Equal(t, ID(4), u.ID())

	_, ok = m.RouteInput(nodeB, 4)
	assert.False(t, ok, "old address is unindexed")

	assert.ErrorIs(t, m.SetInputSource(5, InputFilter{}), ErrConfig)
}

func TestRemove(t *testing.T) {
	m := NewMap()
	m.Create(3, Input)
	m.Remove(3)

	_, ok := m.RouteInput(nodeA, 3)
	assert.False(t, ok)
	_, err := m.Get(3)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestRebind(t *testing.T) {
	m := NewMap()
	m.Create(0, Output)
	require.NoError(t, m.SetOutputTargets(0, []Destination{{ID: "stage", Addr: nodeA, Remote: 1, LongName: "Stage rack"}}))

	moved := netip.MustParseAddrPort("10.0.0.50:6454")
	alive := func(netip.AddrPort) bool { return false }

	assert.Empty(t, m.Rebind(moved, "x", "Other rack", alive))

	rebound := m.Rebind(moved, "", "Stage rack", alive)
	require.Len(t, rebound, 1)
	assert.Equal(t, nodeA, rebound[0].From)

	dests := m.ResolveOutput(0)
	require.Len(t, dests, 1)
	assert.Equal(t, moved, dests[0].Addr)
	assert.Equal(t, "stage", dests[0].ID)

	stillAlive := func(netip.AddrPort) bool { return true }
	assert.Empty(t, m.Rebind(nodeB, "", "Stage rack", stillAlive))
}

func TestRebindTakesOverNodePort(t *testing.T) {
	m := NewMap()
	m.Create(1, Output)
	m.Create(2, Output)
	require.NoError(t, m.SetOutputTargets(1, []Destination{{ID: "rack", Addr: nodeA, Remote: 0, LongName: "Rack"}}))
	require.NoError(t, m.SetOutputTargets(2, []Destination{{ID: "plain", Addr: nodeB, Remote: 0}}))

	dead := func(netip.AddrPort) bool { return false }
	rebound := m.Rebind(nodeB, "r", "Rack", dead)
	require.Len(t, rebound, 1)
	assert.Equal(t, ID(1), rebound[0].Universe)

	one := m.ResolveOutput(1)
	require.Len(t, one, 1)
	assert.Equal(t, nodeB, one[0].Addr)
	assert.Empty(t, m.ResolveOutput(2))
}

func TestRebindMergesWithinUniverse(t *testing.T) {
	m := NewMap()
	m.Create(1, Output)
	require.NoError(t, m.SetOutputTargets(1, []Destination{
		{ID: "old", Addr: nodeA, Remote: 4, LongName: "Rack"},
		{ID: "new", Addr: nodeB, Remote: 4},
	}))

	dead := func(netip.AddrPort) bool { return false }
	assert.Empty(t, m.Rebind(nodeB, "", "Rack", dead))

	dests := m.ResolveOutput(1)
	require.Len(t, dests, 1)
	assert.Equal(t, "new", dests[0].ID)
	assert.Equal(t, nodeB, dests[0].Addr)
}

func TestListOrdered(t *testing.T) {
	m := NewMap()
	m.Create(9, Output)
	m.Create(2, Input)
	m.Create(5, Both)

	list := m.List()
	require.Len(t, list, 3)
	assert.Equal(t, []ID{2, 5, 9}, []ID{list[0].ID, list[1].ID, list[2].ID})
	assert.Equal(t, packet.PortAddress(2), list[0].Input.Address)
}
