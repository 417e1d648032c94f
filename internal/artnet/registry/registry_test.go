package registry

import (
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"artnetd/internal/artnet/packet"
)

var (
	addrA = netip.MustParseAddrPort("10.0.0.5:6454")
	addrB = netip.MustParseAddrPort("10.0.0.6:6454")
	addrC = netip.MustParseAddrPort("10.0.0.7:6454")
	t0    = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
)

func TestUpsertNewNode(t *testing.T) {
	r := New()

	n, created := r.Upsert(Node{Addr: addrA, ShortName: "A", LongName: "Node A", LastSeen: t0})
	assert.True(t, created)
	assert.Equal(t, t0, n.FirstSeen)

	got, ok := r.Lookup(addrA)
	require.True(t, ok)
	assert.Equal(t, "A", got.ShortName)
	assert.Equal(t, "Node A", got.LongName)
}

func TestUpsertMergesExisting(t *testing.T) {
	r := New()
	r.Upsert(Node{Addr: addrA, ShortName: "A", LastSeen: t0, FirstSeen: t0, Ports: []Port{
		{BindIndex: 1, Index: 0, Direction: PortOutput, Address: 1},
		{BindIndex: 2, Index: 0, Direction: PortOutput, Address: 5},
	}})

	n, created := r.Upsert(Node{Addr: addrA, ShortName: "A2", LastSeen: t0.Add(time.Second), FirstSeen: t0.Add(time.Second), Ports: []Port{
		{BindIndex: 1, Index: 0, Direction: PortOutput, Address: 2},
	}})
	assert.False(t, created)
	assert.Equal(t, "A2", n.ShortName)
	assert.Equal(t, t0, n.FirstSeen, "identity keeps first-seen")
	assert.Equal(t, t0.Add(time.Second), n.LastSeen)
	assert.ElementsMatch(t, []Port{
		{BindIndex: 2, Index: 0, Direction: PortOutput, Address: 5},
		{BindIndex: 1, Index: 0, Direction: PortOutput, Address: 2},
	}, n.Ports)
	assert.Equal(t, 1, r.Len())
}

func TestSnapshotInsertionOrder(t *testing.T) {
	r := New()
	r.Upsert(Node{Addr: addrC, LastSeen: t0})
	r.Upsert(Node{Addr: addrA, LastSeen: t0})
	r.Upsert(Node{Addr: addrB, LastSeen: t0})
	r.Upsert(Node{Addr: addrC, LastSeen: t0.Add(time.Second)})

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, addrC, snap[0].Addr)
	assert.Equal(t, addrA, snap[1].Addr)
	assert.Equal(t, addrB, snap[2].Addr)
}

func TestEvictStale(t *testing.T) {
	r := New()
	r.Upsert(Node{Addr: addrA, LastSeen: t0})
	r.Upsert(Node{Addr: addrB, LastSeen: t0.Add(5 * time.Second)})

	evicted := r.EvictStale(t0.Add(8*time.Second), 7500*time.Millisecond)
	require.Len(t, evicted, 1)
	assert.Equal(t, addrA, evicted[0].Addr)

	_, ok := r.Lookup(addrA)
	assert.False(t, ok)
	snap := r.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, addrB, snap[0].Addr)
}

func TestEvictedCopyStaysUsable(t *testing.T) {
	r := New()
	r.Upsert(Node{Addr: addrA, ShortName: "A", LastSeen: t0, Ports: []Port{{Address: 3}}})

	held, ok := r.Lookup(addrA)
	require.True(t, ok)

	r.EvictStale(t0.Add(time.Hour), time.Second)
	assert.Equal(t, "A", held.ShortName)
	assert.Len(t, held.Ports, 1)
}

func TestFindByName(t *testing.T) {
	r := New()
	r.Upsert(Node{Addr: addrA, ShortName: "A", LongName: "Rack A", LastSeen: t0})
	r.Upsert(Node{Addr: addrB, ShortName: "B", LongName: "Rack B", LastSeen: t0})

	n, ok := r.FindByName("", "Rack B")
	require.True(t, ok)
	assert.Equal(t, addrB, n.Addr)

	n, ok = r.FindByName("A", "")
	require.True(t, ok)
	assert.Equal(t, addrA, n.Addr)

	_, ok = r.FindByName("", "")
	assert.False(t, ok)
}

func TestFromPollReply(t *testing.T) {
	reply := &packet.PollReply{
		ShortName: "dim",
		LongName:  "Dimmer rack",
		NetSwitch: 0,
		SubSwitch: 1,
		NumPorts:  2,
		PortTypes: [packet.MaxPorts]uint8{packet.PortTypeOutput, packet.PortTypeInput | packet.PortTypeOutput},
		SwIn:      [packet.MaxPorts]uint8{0, 4},
		SwOut:     [packet.MaxPorts]uint8{2, 3},
		BindIndex: 1,
	}

	n := FromPollReply(addrA, reply, t0)
	assert.Equal(t, "dim", n.ShortName)
	assert.Equal(t, t0, n.LastSeen)
	assert.Equal(t, []Port{
		{BindIndex: 1, Index: 0, Direction: PortOutput, Address: packet.NewPortAddress(0, 1, 2)},
		{BindIndex: 1, Index: 1, Direction: PortInput, Address: packet.NewPortAddress(0, 1, 4)},
		{BindIndex: 1, Index: 1, Direction: PortOutput, Address: packet.NewPortAddress(0, 1, 3)},
	}, n.Ports)
}

func TestConcurrentAccess(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			addr := netip.AddrPortFrom(netip.AddrFrom4([4]byte{10, 0, 1, byte(i)}), packet.DefaultPort)
			for j := 0; j < 100; j++ {
				r.Upsert(Node{Addr: addr, LastSeen: t0.Add(time.Duration(j) * time.Millisecond)})
				r.Snapshot()
				r.EvictStale(t0, time.Hour)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 8, r.Len())
}
