package artnet

import (
	"context"
	"net/netip"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"artnetd/internal/artnet/packet"
	"artnetd/internal/artnet/universe"
	"artnetd/internal/logger"
)

// outbound is one encoded ArtDmx frame for one destination.
type outbound struct {
	universe universe.ID
	addr     netip.AddrPort
	payload  []byte
}

// scheduler decides when each output universe is sent. A universe goes out
// when it is dirty and its limiter allows, or when the keepalive elapsed.
type scheduler struct {
	log       *logger.Log
	universes *universe.Map
	dispatch  func(outbound) bool

	minInterval       time.Duration
	keepalive         time.Duration
	sequencing        bool
	broadcastUnmapped bool
	broadcast         netip.AddrPort

	mu       sync.Mutex
	limiters map[universe.ID]*rate.Limiter
}

func (s *scheduler) run(ctx context.Context, tick time.Duration, now func() time.Time) {
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Tick(now())
		}
	}
}

// Tick evaluates every output universe at now and returns the number of
// frames handed to the senders.
func (s *scheduler) Tick(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.universes.Universes()
	sent := 0
	seen := make(map[universe.ID]bool, len(all))
	for _, u := range all {
		if !u.Direction().IsOutput() {
			continue
		}
		seen[u.ID()] = true

		dirty, last := u.OutputState()
		keepalive := last.IsZero() || now.Sub(last) >= s.keepalive
		if !dirty && !keepalive {
			continue
		}
		if !s.limiter(u.ID()).AllowN(now, 1) {
			continue
		}
		sent += s.send(u, now)
	}

	for id := range s.limiters {
		if !seen[id] {
			delete(s.limiters, id)
		}
	}
	return sent
}

// limiter expects s.mu to be held.
func (s *scheduler) limiter(id universe.ID) *rate.Limiter {
	if s.limiters == nil {
		s.limiters = make(map[universe.ID]*rate.Limiter)
	}
	l, ok := s.limiters[id]
	if !ok {
		l = rate.NewLimiter(rate.Every(s.minInterval), 1)
		s.limiters[id] = l
	}
	return l
}

func (s *scheduler) send(u *universe.Universe, now time.Time) int {
	var fallback *universe.Destination
	if s.broadcastUnmapped && s.broadcast.IsValid() {
		fallback = &universe.Destination{
			ID:     "broadcast",
			Addr:   s.broadcast,
			Remote: packet.PortAddress(u.ID()),
		}
	}

	data, frames := u.Collect(now, s.sequencing, fallback)
	n := 0
	for _, f := range frames {
		b, err := packet.Encode(&packet.DMX{
			Sequence: f.Sequence,
			Address:  f.Dest.Remote,
			Data:     data[:],
		})
		if err != nil {
			s.log.Errorf("universe %d: encode ArtDmx for %s: %v", u.ID(), f.Dest.Addr, err)
			continue
		}
		if s.dispatch(outbound{universe: u.ID(), addr: f.Dest.Addr, payload: b}) {
			n++
		}
	}
	return n
}
