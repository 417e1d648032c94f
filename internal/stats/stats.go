// Package stats keeps the engine's packet counters and exports them to Prometheus.
package stats

import (
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "artnet"

// Universe holds the counters of one universe.
type Universe struct {
	Sent     uint64 `json:"sent"`
	Received uint64 `json:"received"`
	Applied  uint64 `json:"applied"`
	Dropped  uint64 `json:"dropped"`

	// QueueDropped counts output frames lost to a full send queue.
	QueueDropped uint64 `json:"queue_dropped"`
}

// Totals holds engine-wide counters.
type Totals struct {
	Sent         uint64 `json:"sent"`
	Received     uint64 `json:"received"`
	Applied      uint64 `json:"applied"`
	DecodeErrors uint64 `json:"decode_errors"`
	SendErrors   uint64 `json:"send_errors"`
	Unrouted     uint64 `json:"unrouted"`
	Discovered   uint64 `json:"nodes_discovered"`
}

type universeCounters struct {
	sent, received, applied, dropped atomic.Uint64
	queueDropped                     atomic.Uint64
}

// Counters is safe for concurrent use. Each instance owns its Prometheus
// registry so several engines can live in one process.
type Counters struct {
	mu        sync.RWMutex
	universes map[uint16]*universeCounters

	decodeErrors atomic.Uint64
	sendErrors   atomic.Uint64
	unrouted     atomic.Uint64
	discovered   atomic.Uint64

	registry     *prometheus.Registry
	packets      *prometheus.CounterVec
	errors       *prometheus.CounterVec
	nodes        prometheus.Gauge
	nodesTotal   prometheus.Counter
	unroutedProm prometheus.Counter
}

// New creates zeroed counters.
func New() *Counters {
	c := &Counters{
		universes: make(map[uint16]*universeCounters),
		registry:  prometheus.NewRegistry(),
		packets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dmx_packets_total",
			Help:      "ArtDmx packets per universe and direction",
		}, []string{"universe", "kind"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Dropped datagrams and failed sends",
		}, []string{"kind"}),
		nodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "nodes",
			Help:      "Nodes currently known from discovery",
		}),
		nodesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_discovered_total",
			Help:      "Nodes discovered since start",
		}),
		unroutedProm: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dmx_unrouted_total",
			Help:      "ArtDmx packets for universes without an input mapping",
		}),
	}
	c.registry.MustRegister(c.packets, c.errors, c.nodes, c.nodesTotal, c.unroutedProm)
	return c
}

func (c *Counters) universe(id uint16) *universeCounters {
	c.mu.RLock()
	u, ok := c.universes[id]
	c.mu.RUnlock()
	if ok {
		return u
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if u, ok = c.universes[id]; !ok {
		u = &universeCounters{}
		c.universes[id] = u
	}
	return u
}

func label(id uint16) string {
	return strconv.Itoa(int(id))
}

// AddSent counts n packets sent for a universe.
func (c *Counters) AddSent(id uint16, n int) {
	c.universe(id).sent.Add(uint64(n))
	c.packets.WithLabelValues(label(id), "sent").Add(float64(n))
}

// IncReceived counts a structurally valid inbound frame, accepted or not.
func (c *Counters) IncReceived(id uint16) {
	c.universe(id).received.Add(1)
	c.packets.WithLabelValues(label(id), "received").Inc()
}

// IncApplied counts a frame merged into the universe buffer.
func (c *Counters) IncApplied(id uint16) {
	c.universe(id).applied.Add(1)
	c.packets.WithLabelValues(label(id), "applied").Inc()
}

// IncDropped counts an input frame rejected by sequence checking.
func (c *Counters) IncDropped(id uint16) {
	c.universe(id).dropped.Add(1)
	c.packets.WithLabelValues(label(id), "dropped").Inc()
}

// IncQueueDropped counts an output frame dropped because its destination's
// send queue was full.
func (c *Counters) IncQueueDropped(id uint16) {
	c.universe(id).queueDropped.Add(1)
	c.packets.WithLabelValues(label(id), "queue_dropped").Inc()
}

// IncDecodeErrors counts a datagram the codec rejected.
func (c *Counters) IncDecodeErrors() {
	c.decodeErrors.Add(1)
	c.errors.WithLabelValues("decode").Inc()
}

// IncSendErrors counts a failed or dropped send.
func (c *Counters) IncSendErrors() {
	c.sendErrors.Add(1)
	c.errors.WithLabelValues("send").Inc()
}

// IncUnrouted counts a frame for a universe nobody listens to.
func (c *Counters) IncUnrouted() {
	c.unrouted.Add(1)
	c.unroutedProm.Inc()
}

// IncDiscovered counts a newly discovered node.
func (c *Counters) IncDiscovered() {
	c.discovered.Add(1)
	c.nodesTotal.Inc()
}

// SetNodes records the current registry size.
func (c *Counters) SetNodes(n int) {
	c.nodes.Set(float64(n))
}

// Snapshot returns the counters of one universe.
func (c *Counters) Snapshot(id uint16) Universe {
	c.mu.RLock()
	u, ok := c.universes[id]
	c.mu.RUnlock()
	if !ok {
		return Universe{}
	}
	return Universe{
		Sent:     u.sent.Load(),
		Received: u.received.Load(),
		Applied:  u.applied.Load(),
		Dropped:  u.dropped.Load(),

		QueueDropped: u.queueDropped.Load(),
	}
}

// Totals sums every universe and adds the engine-wide counters.
func (c *Counters) Totals() Totals {
	t := Totals{
		DecodeErrors: c.decodeErrors.Load(),
		SendErrors:   c.sendErrors.Load(),
		Unrouted:     c.unrouted.Load(),
		Discovered:   c.discovered.Load(),
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, u := range c.universes {
		t.Sent += u.sent.Load()
		t.Received += u.received.Load()
		t.Applied += u.applied.Load()
	}
	return t
}

// Registry exposes the Prometheus registry, e.g. for extra collectors.
func (c *Counters) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the counters in the Prometheus text format.
func (c *Counters) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
