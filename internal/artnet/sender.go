package artnet

import (
	"context"
	"net/netip"
	"sync"
	"time"

	"artnetd/internal/logger"
	"artnetd/internal/stats"
)

// senderPool runs one worker per destination address so a slow or failing
// destination only delays its own queue. Frames of one destination leave in
// the order they were queued. A worker idle for longer than idle exits, so
// destinations dropped by a remap or rebind do not keep a goroutine.
type senderPool struct {
	ctx   context.Context
	log   *logger.Log
	stats *stats.Counters
	write func(b []byte, to netip.AddrPort) error
	size  int
	idle  time.Duration

	mu      sync.Mutex
	closed  bool
	workers map[netip.AddrPort]chan outbound
	wg      sync.WaitGroup
}

func newSenderPool(ctx context.Context, log *logger.Log, st *stats.Counters, size int, idle time.Duration, write func([]byte, netip.AddrPort) error) *senderPool {
	if size < 1 {
		size = 1
	}
	if idle <= 0 {
		idle = time.Minute
	}
	return &senderPool{
		ctx:     ctx,
		log:     log,
		stats:   st,
		write:   write,
		size:    size,
		idle:    idle,
		workers: make(map[netip.AddrPort]chan outbound),
	}
}

// enqueue hands o to its destination's worker. A full queue drops the frame.
func (p *senderPool) enqueue(o outbound) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}
	q, ok := p.workers[o.addr]
	if !ok {
		q = make(chan outbound, p.size)
		p.workers[o.addr] = q
		p.wg.Add(1)
		go p.worker(o.addr, q)
	}

	select {
	case q <- o:
		return true
	default:
		p.stats.IncQueueDropped(uint16(o.universe))
		p.log.Warnf("send queue for %s full, universe %d frame dropped", o.addr, o.universe)
		return false
	}
}

func (p *senderPool) worker(addr netip.AddrPort, q <-chan outbound) {
	defer p.wg.Done()
	idle := time.NewTimer(p.idle)
	defer idle.Stop()
	for {
		select {
		case o, ok := <-q:
			if !ok {
				return
			}
			p.send(addr, o)
			idle.Reset(p.idle)
		case <-idle.C:
			if p.retire(addr, q) {
				p.log.Debugf("sender for %s idle, stopped", addr)
				return
			}
			idle.Reset(p.idle)
		}
	}
}

// retire removes an idle worker's queue unless a frame raced in.
func (p *senderPool) retire(addr netip.AddrPort, q <-chan outbound) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || len(q) > 0 {
		return false
	}
	delete(p.workers, addr)
	return true
}

func (p *senderPool) send(addr netip.AddrPort, o outbound) {
	if p.ctx.Err() != nil {
		return
	}
	if err := p.write(o.payload, addr); err != nil {
		p.stats.IncSendErrors()
		p.log.Warnf("universe %d: %v", o.universe, err)
		return
	}
	p.stats.AddSent(uint16(o.universe), 1)
}

// workerCount returns the number of running workers.
func (p *senderPool) workerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// close stops accepting frames and waits for every worker to exit.
func (p *senderPool) close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		for _, q := range p.workers {
			close(q)
		}
	}
	p.mu.Unlock()
	p.wg.Wait()
}
