// Package events lets the host subscribe to engine changes instead of polling.
package events

import (
	"time"

	"github.com/kelindar/event"

	"artnetd/internal/artnet/registry"
)

// Event type identifiers for kelindar/event.
const (
	TypeNodeDiscovered uint32 = iota + 1
	TypeNodeUpdated
	TypeNodeLost
	TypeInputUpdated
	TypeEngineFault
	TypeDestinationRebound
)

// Event is implemented by every engine event.
type Event interface {
	Type() uint32
}

// NodeDiscovered is published the first time a node answers a poll.
type NodeDiscovered struct {
	Node registry.Node
}

// Type returns the event type identifier for NodeDiscovered.
func (e NodeDiscovered) Type() uint32 { return TypeNodeDiscovered }

// NodeUpdated is published when a known node answers again.
type NodeUpdated struct {
	Node registry.Node
}

// Type returns the event type identifier for NodeUpdated.
func (e NodeUpdated) Type() uint32 { return TypeNodeUpdated }

// NodeLost is published when a node is evicted after missing polls.
type NodeLost struct {
	Node registry.Node
}

// Type returns the event type identifier for NodeLost.
func (e NodeLost) Type() uint32 { return TypeNodeLost }

// InputUpdated is published when an inbound frame changed an input universe.
type InputUpdated struct {
	Universe uint16
	Data     [512]byte
	At       time.Time
}

// Type returns the event type identifier for InputUpdated.
func (e InputUpdated) Type() uint32 { return TypeInputUpdated }

// EngineFault reports a transport failure the engine could not recover from.
type EngineFault struct {
	Op  string
	Err error
}

// Type returns the event type identifier for EngineFault.
func (e EngineFault) Type() uint32 { return TypeEngineFault }

// DestinationRebound reports an output mapping that followed a node to a new address.
type DestinationRebound struct {
	Universe      uint16
	DestinationID string
	From          string
	To            string
}

// Type returns the event type identifier for DestinationRebound.
func (e DestinationRebound) Type() uint32 { return TypeDestinationRebound }

// Bus wraps a kelindar/event dispatcher.
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a bus with its own dispatcher.
func New() *Bus {
	return &Bus{dispatcher: event.NewDispatcher()}
}

// Publish delivers ev to subscribers of its type. Delivery is asynchronous.
func Publish[T Event](b *Bus, ev T) {
	event.Publish(b.dispatcher, ev)
}

// Subscribe registers handler for events of type T and returns the
// function that removes it.
// Usage: unsub := events.Subscribe(bus, func(e events.NodeLost) { ... })
func Subscribe[T Event](b *Bus, handler func(T)) func() {
	return event.Subscribe(b.dispatcher, handler)
}
