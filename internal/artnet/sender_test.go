package artnet

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"artnetd/internal/logger"
	"artnetd/internal/stats"
)

func TestSlowDestinationDoesNotBlockOthers(t *testing.T) {
	slow := netip.MustParseAddrPort("10.0.0.5:6454")
	fast := netip.MustParseAddrPort("10.0.0.6:6454")

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var mu sync.Mutex
	var delivered []netip.AddrPort

	st := stats.New()
	p := newSenderPool(context.Background(), logger.NewNop(), st, 1, time.Minute, func(b []byte, to netip.AddrPort) error {
		if to == slow {
			select {
			case started <- struct{}{}:
			default:
			}
			<-release
		}
		mu.Lock()
		delivered = append(delivered, to)
		mu.Unlock()
		return nil
	})

	assert.True(t, p.enqueue(outbound{universe: 1, addr: slow, payload: []byte{1}}))
	<-started
	assert.True(t, p.enqueue(outbound{universe: 1, addr: slow, payload: []byte{2}}), "fills the queue")
	assert.False(t, p.enqueue(outbound{universe: 1, addr: slow, payload: []byte{3}}), "queue full")
	assert.Equal(t, uint64(1), st.Snapshot(1).QueueDropped)
	assert.Zero(t, st.Snapshot(1).Dropped)

	assert.True(t, p.enqueue(outbound{universe: 2, addr: fast, payload: []byte{4}}))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(delivered) == 1 && delivered[0] == fast
	}, time.Second, 5*time.Millisecond)

	close(release)
	p.close()
	assert.Len(t, delivered, 3)
	assert.Equal(t, uint64(2), st.Snapshot(1).Sent)
	assert.False(t, p.enqueue(outbound{universe: 2, addr: fast}), "closed pool")
}

func TestSendErrorsAreCounted(t *testing.T) {
	st := stats.New()
	p := newSenderPool(context.Background(), logger.NewNop(), st, 4, time.Minute, func([]byte, netip.AddrPort) error {
		return &TransportError{Op: "send", Err: errors.New("host unreachable")}
	})

	require.True(t, p.enqueue(outbound{universe: 1, addr: nodeA}))
	p.close()
	assert.Equal(t, uint64(1), st.Totals().SendErrors)
	assert.Equal(t, uint64(0), st.Snapshot(1).Sent)
}

func TestCancelledPoolSendsNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	writes := 0
	p := newSenderPool(ctx, logger.NewNop(), stats.New(), 4, time.Minute, func([]byte, netip.AddrPort) error {
		writes++
		return nil
	})
	p.enqueue(outbound{universe: 1, addr: nodeA})
	p.close()
	assert.Equal(t, 0, writes)
}

func TestIdleWorkersAreReaped(t *testing.T) {
	var mu sync.Mutex
	var delivered []netip.AddrPort
	p := newSenderPool(context.Background(), logger.NewNop(), stats.New(), 4, 20*time.Millisecond, func(_ []byte, to netip.AddrPort) error {
		mu.Lock()
		defer mu.Unlock()
		delivered = append(delivered, to)
		return nil
	})
	defer p.close()

	require.True(t, p.enqueue(outbound{universe: 1, addr: nodeA}))
	assert.Equal(t, 1, p.workerCount())
	assert.Eventually(t, func() bool { return p.workerCount() == 0 }, time.Second, 5*time.Millisecond)

	require.True(t, p.enqueue(outbound{universe: 1, addr: nodeA}))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(delivered) == 2
	}, time.Second, 5*time.Millisecond)
}
