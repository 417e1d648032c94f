package artnet

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"artnetd/internal/artnet/packet"
	"artnetd/internal/artnet/registry"
	"artnetd/internal/artnet/universe"
)

// Config holds the engine settings.
type Config struct {
	// Network.
	InterfaceCIDR string
	Bind          netip.Addr
	Port          int
	// Broadcast overrides the broadcast address derived from the interface.
	Broadcast  netip.Addr
	IgnoreSelf bool

	// Discovery.
	PollInterval time.Duration
	MissedPolls  int
	ShortName    string
	LongName     string

	// Output.
	MinInterval       time.Duration
	Keepalive         time.Duration
	Tick              time.Duration
	Sequencing        bool
	BroadcastUnmapped bool
	QueueSize         int
	// ListenOnly runs discovery and input without sending any ArtDmx.
	ListenOnly bool

	// Input.
	Backlog       int
	StreamTimeout time.Duration
}

// DefaultConfig returns Art-Net friendly defaults.
func DefaultConfig() Config {
	return Config{
		Port:              packet.DefaultPort,
		IgnoreSelf:        true,
		PollInterval:      2500 * time.Millisecond,
		MissedPolls:       3,
		ShortName:         "artnetd",
		LongName:          "artnetd Art-Net engine",
		MinInterval:       25 * time.Millisecond,
		Keepalive:         4 * time.Second,
		Tick:              5 * time.Millisecond,
		Sequencing:        true,
		BroadcastUnmapped: true,
		QueueSize:         16,
		Backlog:           4,
		StreamTimeout:     2500 * time.Millisecond,
	}
}

// withDefaults fills zero values from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Port == 0 {
		c.Port = d.Port
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.MissedPolls < 1 {
		c.MissedPolls = d.MissedPolls
	}
	if c.ShortName == "" {
		c.ShortName = d.ShortName
	}
	if c.LongName == "" {
		c.LongName = d.LongName
	}
	if c.MinInterval <= 0 {
		c.MinInterval = d.MinInterval
	}
	if c.Keepalive <= 0 {
		c.Keepalive = d.Keepalive
	}
	if c.Tick <= 0 {
		c.Tick = d.Tick
	}
	if c.QueueSize < 1 {
		c.QueueSize = d.QueueSize
	}
	if c.StreamTimeout <= 0 {
		c.StreamTimeout = d.StreamTimeout
	}
	return c
}

// ChannelValue addresses one channel of one universe.
type ChannelValue struct {
	Universe universe.ID
	Channel  int   // Channel: 0-based channel index (0-511).
	Value    uint8 // Value: значение для канала.
}

// Mapping is the declarative form of one universe: its direction, where it
// is sent and which traffic feeds it.
type Mapping struct {
	Universe     universe.ID
	Direction    universe.Direction
	Destinations []universe.Destination
	// Input nil keeps the default filter: any source, port address == Universe.
	Input *universe.InputFilter
}

// NodeToString returns a one line description of a node.
func NodeToString(n registry.Node) string {
	var inputs, outputs []string
	for _, p := range n.Ports {
		s := fmt.Sprintf("%s[%d.%d]", p.Address, p.BindIndex, p.Index)
		if p.Direction == registry.PortInput {
			inputs = append(inputs, s)
		} else {
			outputs = append(outputs, s)
		}
	}

	return fmt.Sprintf(
		"IP=%s name=%q desc=%q inputs=%q outputs=%q seen=%s",
		n.Addr, n.ShortName, n.LongName,
		strings.Join(inputs, "; "), strings.Join(outputs, "; "),
		n.LastSeen.Format(time.RFC3339),
	)
}
