package artnet

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"artnetd/internal/artnet/packet"
	"artnetd/internal/artnet/registry"
	"artnetd/internal/artnet/universe"
	"artnetd/internal/events"
	"artnetd/internal/logger"
	"artnetd/internal/stats"
)

const (
	maxDatagram    = 1024
	receiveBackoff = 100 * time.Millisecond

	firmwareVersion = 0x0001
	oemUnknown      = 0x00ff
	estaPrototype   = 0x7ff0
	// status2PortAddress15 announces 15 bit port addresses.
	status2PortAddress15 = 0x08

	maxShortName = 17
	maxLongName  = 63
)

var (
	// ErrRunning is returned by Start on a running engine.
	ErrRunning = errors.New("art-net engine already running")
	// ErrNotRunning is returned by operations that need the socket.
	ErrNotRunning = errors.New("art-net engine not running")
)

// Engine is transport for the Art-Net protocol (DMX over UDP/IP): it sends
// output universes, merges input universes and tracks the nodes on the network.
type Engine struct {
	cfg Config
	log *logger.Log
	now func() time.Time

	universes *universe.Map
	nodes     *registry.Registry
	stats     *stats.Counters
	bus       *events.Bus

	discovery *discovery
	scheduler *scheduler
	input     *inputAggregator

	nameMu    sync.RWMutex
	shortName string
	longName  string
	polls     atomic.Uint32

	// life serializes Start and Stop.
	life     sync.Mutex
	injected Transport
	local    netip.Addr
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	sess     atomic.Pointer[session]
}

// session is the state of one Start..Stop run.
type session struct {
	t         Transport
	local     netip.AddrPort
	broadcast netip.AddrPort
	senders   *senderPool
}

// Option configures an Engine.
type Option func(*Engine)

// WithTransport makes the next Start use t instead of binding a UDP socket.
// local is the address the engine answers polls with and ignores as a source.
func WithTransport(t Transport, local netip.Addr) Option {
	return func(e *Engine) {
		e.injected = t
		e.local = local
	}
}

// WithClock replaces time.Now for sequence windows, stats and node ages.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithStats shares counters with the caller.
func WithStats(c *stats.Counters) Option {
	return func(e *Engine) { e.stats = c }
}

// WithEvents shares an event bus with the caller.
func WithEvents(b *events.Bus) Option {
	return func(e *Engine) { e.bus = b }
}

// NewEngine returns a stopped engine.
func NewEngine(cfg Config, log logger.Logger, opts ...Option) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:       cfg,
		log:       log.With(logger.Fields{"module": "art-net"}),
		now:       time.Now,
		universes: universe.NewMap(),
		nodes:     registry.New(),
		shortName: cfg.ShortName,
		longName:  cfg.LongName,
	}
	if cfg.Bind.IsValid() && !cfg.Bind.IsUnspecified() {
		e.local = cfg.Bind
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.stats == nil {
		e.stats = stats.New()
	}
	if e.bus == nil {
		e.bus = events.New()
	}

	e.discovery = &discovery{
		log:       e.log.With(logger.Fields{"component": "discovery"}),
		nodes:     e.nodes,
		universes: e.universes,
		stats:     e.stats,
		bus:       e.bus,
		send:      e.send,
		interval:  cfg.PollInterval,
		missed:    cfg.MissedPolls,
	}
	e.scheduler = &scheduler{
		log:               e.log.With(logger.Fields{"component": "output"}),
		universes:         e.universes,
		dispatch:          e.dispatch,
		minInterval:       cfg.MinInterval,
		keepalive:         cfg.Keepalive,
		sequencing:        cfg.Sequencing,
		broadcastUnmapped: cfg.BroadcastUnmapped,
	}
	e.input = &inputAggregator{
		log:       e.log.With(logger.Fields{"component": "input"}),
		universes: e.universes,
		stats:     e.stats,
		bus:       e.bus,
		tracker:   newSequenceTracker(cfg.Backlog, cfg.StreamTimeout),
	}
	return e
}

// Start binds the socket and starts the receive, discovery and output loops.
// A bind failure is returned as *TransportError and nothing is started.
func (e *Engine) Start(ctx context.Context) error {
	e.life.Lock()
	defer e.life.Unlock()

	if e.sess.Load() != nil {
		return ErrRunning
	}

	local := e.local
	var prefix netip.Prefix
	if !local.IsValid() || !e.cfg.Broadcast.IsValid() {
		ip, p, err := FindArtNetIP(e.cfg.InterfaceCIDR)
		if err != nil {
			e.log.Warnf("failed to find the art-net IP: %v", err)
		} else {
			prefix = p
			if !local.IsValid() {
				local = ip
			}
		}
	}

	t := e.injected
	e.injected = nil
	if t == nil {
		conn, err := listenUDP(e.cfg.Bind, e.cfg.Port)
		if err != nil {
			return err
		}
		t = conn
	}

	bcast := e.cfg.Broadcast
	if !bcast.IsValid() {
		bcast = BroadcastAddr(prefix)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s := &session{
		t:         t,
		broadcast: netip.AddrPortFrom(bcast, uint16(e.cfg.Port)),
		senders:   newSenderPool(runCtx, e.log, e.stats, e.cfg.QueueSize, 2*e.cfg.Keepalive, e.write),
	}
	if local.IsValid() {
		s.local = netip.AddrPortFrom(local, uint16(e.cfg.Port))
	}
	e.discovery.broadcast = s.broadcast
	e.scheduler.broadcast = s.broadcast
	e.cancel = cancel
	e.sess.Store(s)

	e.wg.Add(3)
	go func() {
		defer e.wg.Done()
		<-runCtx.Done()
		// unblocks the receive loop
		if err := t.Close(); err != nil {
			e.log.Debugf("close socket: %v", err)
		}
	}()
	go func() {
		defer e.wg.Done()
		e.receive(runCtx, s)
	}()
	go func() {
		defer e.wg.Done()
		e.discovery.run(runCtx, e.now)
	}()
	if e.cfg.ListenOnly {
		e.log.Info("listen only: DMX output disabled")
	} else {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.scheduler.run(runCtx, e.cfg.Tick, e.now)
		}()
	}

	e.log.Infof("Using Art-Net IP %s, broadcast %s, port %d", local, s.broadcast.Addr(), e.cfg.Port)
	return nil
}

// Stop closes the socket, stops every loop and waits for them. No frame is
// sent after Stop returns.
func (e *Engine) Stop() {
	e.life.Lock()
	defer e.life.Unlock()

	s := e.sess.Load()
	if s == nil {
		return
	}
	e.cancel()
	e.wg.Wait()
	s.senders.close()
	e.sess.Store(nil)
	e.log.Info("art-net engine stopped")
}

// State returns the discovery state.
func (e *Engine) State() State {
	return State(e.discovery.state.Load())
}

func (e *Engine) receive(ctx context.Context, s *session) {
	buf := make([]byte, maxDatagram)
	for {
		n, src, err := s.t.ReadFromUDPAddrPort(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			terr := &TransportError{Op: "receive", Err: err}
			e.log.Errorf("%v", terr)
			events.Publish(e.bus, events.EngineFault{Op: "receive", Err: terr})
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(receiveBackoff):
			}
			continue
		}
		e.handleDatagram(s, buf[:n], src)
	}
}

func (e *Engine) handleDatagram(s *session, b []byte, src netip.AddrPort) {
	src = netip.AddrPortFrom(src.Addr().Unmap(), src.Port())
	if e.cfg.IgnoreSelf && s.local.IsValid() && src == s.local {
		return
	}

	p, err := packet.Decode(b)
	if err != nil {
		e.stats.IncDecodeErrors()
		e.log.Debugf("datagram from %s dropped: %v", src, err)
		return
	}

	now := e.now()
	switch p := p.(type) {
	case *packet.Poll:
		e.replyToPoll(s, src)
	case *packet.PollReply:
		e.discovery.handleReply(src, p, now)
	case *packet.DMX:
		e.input.handle(src, p, now)
	case *packet.Address:
		e.handleAddress(s, src, p)
	}
}

// replyToPoll answers a poll with one reply per bind index.
func (e *Engine) replyToPoll(s *session, src netip.AddrPort) {
	to := netip.AddrPortFrom(src.Addr(), uint16(e.cfg.Port))
	for _, r := range e.pollReplies(s.local.Addr()) {
		if err := e.send(r, to); err != nil {
			e.stats.IncSendErrors()
			e.log.Warnf("ArtPollReply: %v", err)
			return
		}
	}
}

// pollReplies describes the engine's universes as node ports. Universes the
// engine sends are input ports, universes it receives are output ports.
// Ports are grouped per net/sub-net, four per bind index.
func (e *Engine) pollReplies(local netip.Addr) []*packet.PollReply {
	short, long := e.Name()
	var ip [4]byte
	if local.Is4() {
		ip = local.As4()
	}
	count := e.polls.Add(1)
	all := e.universes.Universes()

	newReply := func(group uint16, bind uint8) *packet.PollReply {
		return &packet.PollReply{
			IP:         ip,
			Port:       uint16(e.cfg.Port),
			Firmware:   firmwareVersion,
			NetSwitch:  uint8(group>>4) & 0x7f,
			SubSwitch:  uint8(group) & 0x0f,
			OEM:        oemUnknown,
			ESTA:       estaPrototype,
			ShortName:  short,
			LongName:   long,
			NodeReport: fmt.Sprintf("#0001 [%04d] %d universes", count%10000, len(all)),
			Style:      packet.StyleController,
			BindIP:     ip,
			BindIndex:  bind,
			Status2:    status2PortAddress15,
		}
	}

	var replies []*packet.PollReply
	var cur *packet.PollReply
	curGroup := -1
	for _, u := range all {
		group := uint16(u.ID()) >> 4
		if cur == nil || int(group) != curGroup || cur.NumPorts == packet.MaxPorts {
			if len(replies) == 255 {
				e.log.Debugf("ArtPollReply: bind indexes exhausted, %d universes not announced", len(all))
				break
			}
			cur = newReply(group, uint8(len(replies)+1))
			curGroup = int(group)
			replies = append(replies, cur)
		}
		i := cur.NumPorts
		uni := uint8(u.ID()) & 0x0f
		if u.Direction().IsOutput() {
			cur.PortTypes[i] |= packet.PortTypeInput
			cur.SwIn[i] = uni
			cur.GoodInput[i] = 0x80
		}
		if u.Direction().IsInput() {
			cur.PortTypes[i] |= packet.PortTypeOutput
			cur.SwOut[i] = uni
			cur.GoodOutput[i] = 0x80
		}
		cur.NumPorts++
	}
	if len(replies) == 0 {
		replies = append(replies, newReply(0, 1))
	}
	return replies
}

// handleAddress applies an ArtAddress sent to the engine. Empty names keep
// the current ones.
func (e *Engine) handleAddress(s *session, src netip.AddrPort, a *packet.Address) {
	e.nameMu.Lock()
	if a.ShortName != "" {
		e.shortName = a.ShortName
	}
	if a.LongName != "" {
		e.longName = a.LongName
	}
	short, long := e.shortName, e.longName
	e.nameMu.Unlock()

	switch a.Command {
	case packet.AddressCmdNone:
	case packet.AddressCmdLedLocate, packet.AddressCmdLedMute, packet.AddressCmdLedNormal:
		e.log.Infof("ArtAddress from %s: indicator command 0x%02x", src, a.Command)
	default:
		e.log.Debugf("ArtAddress from %s: command 0x%02x ignored", src, a.Command)
	}
	e.log.Infof("ArtAddress from %s: name %q %q", src, short, long)
	e.replyToPoll(s, src)
}

// Name returns the short and long names the engine announces.
func (e *Engine) Name() (short, long string) {
	e.nameMu.RLock()
	defer e.nameMu.RUnlock()
	return e.shortName, e.longName
}

// SetName changes the announced names.
func (e *Engine) SetName(short, long string) error {
	if len(short) > maxShortName {
		return &universe.ConfigError{Field: "short name", Value: short, Reason: fmt.Sprintf("longer than %d bytes", maxShortName)}
	}
	if len(long) > maxLongName {
		return &universe.ConfigError{Field: "long name", Value: long, Reason: fmt.Sprintf("longer than %d bytes", maxLongName)}
	}
	e.nameMu.Lock()
	defer e.nameMu.Unlock()
	e.shortName, e.longName = short, long
	return nil
}

// ProgramNode sends an ArtAddress to a remote node.
func (e *Engine) ProgramNode(addr netip.AddrPort, a *packet.Address) error {
	if !addr.IsValid() || addr.Port() == 0 {
		return &universe.ConfigError{Field: "node", Value: addr, Reason: "needs an IP and a port"}
	}
	if a == nil {
		return &universe.ConfigError{Field: "ArtAddress", Value: nil, Reason: "is empty"}
	}
	return e.send(a, addr)
}

func (e *Engine) send(p packet.Packet, to netip.AddrPort) error {
	b, err := packet.Encode(p)
	if err != nil {
		return err
	}
	return e.write(b, to)
}

func (e *Engine) write(b []byte, to netip.AddrPort) error {
	s := e.sess.Load()
	if s == nil {
		return ErrNotRunning
	}
	if _, err := s.t.WriteToUDPAddrPort(b, to); err != nil {
		return &TransportError{Op: "send", Addr: to, Err: err}
	}
	return nil
}

func (e *Engine) dispatch(o outbound) bool {
	s := e.sess.Load()
	if s == nil {
		return false
	}
	return s.senders.enqueue(o)
}

// CreateUniverse declares a universe.
func (e *Engine) CreateUniverse(id universe.ID, dir universe.Direction) error {
	_, err := e.universes.Create(id, dir)
	return err
}

// RemoveUniverse tears a universe down.
func (e *Engine) RemoveUniverse(id universe.ID) {
	e.universes.Remove(id)
}

// Universes describes every declared universe in ascending id order.
func (e *Engine) Universes() []universe.Info {
	return e.universes.List()
}

// WriteUniverse copies data into the start of an output universe.
func (e *Engine) WriteUniverse(id universe.ID, data []byte) error {
	u, err := e.universes.Get(id)
	if err != nil {
		return err
	}
	return u.Write(data)
}

// SetChannel sets one 0-based channel of an output universe.
func (e *Engine) SetChannel(id universe.ID, channel int, value uint8) error {
	u, err := e.universes.Get(id)
	if err != nil {
		return err
	}
	return u.SetChannel(channel, value)
}

// SetChannels applies a batch of channel values; every valid value is
// applied even when others fail.
func (e *Engine) SetChannels(values []ChannelValue) error {
	var errs []error
	for _, v := range values {
		if err := e.SetChannel(v.Universe, v.Channel, v.Value); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ReadUniverse returns the current buffer of a universe: the merged input
// for input universes, the output buffer otherwise.
func (e *Engine) ReadUniverse(id universe.ID) ([universe.Size]byte, error) {
	u, err := e.universes.Get(id)
	if err != nil {
		return [universe.Size]byte{}, err
	}
	return u.Read(), nil
}

// Nodes returns the discovered nodes in discovery order.
func (e *Engine) Nodes() []registry.Node {
	return e.nodes.Snapshot()
}

// Node returns the node at addr.
func (e *Engine) Node(addr netip.AddrPort) (registry.Node, bool) {
	return e.nodes.Lookup(addr)
}

// SetOutputTargets replaces where an output universe is sent.
func (e *Engine) SetOutputTargets(id universe.ID, dests []universe.Destination) error {
	return e.universes.SetOutputTargets(id, dests)
}

// OutputTargets returns where a universe is sent.
func (e *Engine) OutputTargets(id universe.ID) ([]universe.Destination, error) {
	return e.universes.OutputTargets(id)
}

// SetInputSource sets which inbound traffic feeds an input universe.
func (e *Engine) SetInputSource(id universe.ID, f universe.InputFilter) error {
	return e.universes.SetInputSource(id, f)
}

// InputSource returns the input routing of an input universe.
func (e *Engine) InputSource(id universe.ID) (universe.InputFilter, error) {
	return e.universes.InputSource(id)
}

// ApplyMappings makes the declared universes match mappings: missing ones
// are created, others removed, and every mapping's targets and input source
// replaced. Universes whose direction changed are recreated. An invalid set
// is rejected before anything changes.
func (e *Engine) ApplyMappings(mappings []Mapping) error {
	want := make(map[universe.ID]Mapping, len(mappings))
	for _, m := range mappings {
		if _, dup := want[m.Universe]; dup {
			return &universe.ConfigError{Field: "universe", Value: m.Universe, Reason: "mapped twice"}
		}
		if len(m.Destinations) > 0 && !m.Direction.IsOutput() {
			return &universe.ConfigError{Field: "universe", Value: m.Universe, Reason: "has destinations but is not an output universe"}
		}
		if m.Input != nil && !m.Direction.IsInput() {
			return &universe.ConfigError{Field: "universe", Value: m.Universe, Reason: "has an input source but is not an input universe"}
		}
		if err := universe.CheckUniverse(m.Universe, m.Direction); err != nil {
			return err
		}
		if err := universe.CheckDestinations(m.Destinations); err != nil {
			return fmt.Errorf("universe %d: %w", m.Universe, err)
		}
		if m.Input != nil {
			if err := m.Input.Check(); err != nil {
				return fmt.Errorf("universe %d: %w", m.Universe, err)
			}
		}
		want[m.Universe] = m
	}

	for _, info := range e.universes.List() {
		if m, ok := want[info.ID]; !ok || m.Direction != info.Direction {
			e.universes.Remove(info.ID)
		}
	}

	var errs []error
	for _, m := range mappings {
		if _, err := e.universes.Create(m.Universe, m.Direction); err != nil {
			errs = append(errs, err)
			continue
		}
		if m.Direction.IsOutput() {
			if err := e.universes.SetOutputTargets(m.Universe, m.Destinations); err != nil {
				errs = append(errs, err)
			}
		}
		if m.Direction.IsInput() {
			f := universe.InputFilter{Address: packet.PortAddress(m.Universe)}
			if m.Input != nil {
				f = *m.Input
			}
			if err := e.universes.SetInputSource(m.Universe, f); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	e.log.Infof("mappings applied: %d universes", len(mappings))
	return nil
}

// Stats returns the counters of one universe.
func (e *Engine) Stats(id universe.ID) stats.Universe {
	return e.stats.Snapshot(uint16(id))
}

// Totals returns the engine wide counters.
func (e *Engine) Totals() stats.Totals {
	return e.stats.Totals()
}

// Metrics serves the counters in Prometheus format.
func (e *Engine) Metrics() http.Handler {
	return e.stats.Handler()
}

// Events returns the bus engine events are published on.
func (e *Engine) Events() *events.Bus {
	return e.bus
}
