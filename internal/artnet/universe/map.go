package universe

import (
	"fmt"
	"net/netip"
	"sort"
	"sync"

	"github.com/lucsky/cuid"

	"artnetd/internal/artnet/packet"
)

// Info is a read-only description of a universe and its mappings.
type Info struct {
	ID           ID
	Direction    Direction
	Destinations []Destination
	Input        InputFilter
}

// Rebound reports a destination moved to a node's new address.
type Rebound struct {
	Universe ID
	From     netip.AddrPort
	Dest     Destination
}

// Map owns every universe of the engine. Its lock guards only the set of
// universes and the input index; channel data is guarded per universe.
type Map struct {
	mu        sync.RWMutex
	universes map[ID]*Universe
	inputs    map[packet.PortAddress][]ID
}

// NewMap creates an empty universe map.
func NewMap() *Map {
	return &Map{
		universes: make(map[ID]*Universe),
		inputs:    make(map[packet.PortAddress][]ID),
	}
}

// CheckUniverse validates a universe id and direction.
func CheckUniverse(id ID, dir Direction) error {
	if id > MaxID {
		return configErr("universe", id, fmt.Sprintf("must be within 0..%d", MaxID))
	}
	if dir == 0 || dir&^Both != 0 {
		return configErr("direction", dir, "must be output, input or both")
	}
	return nil
}

// CheckDestinations validates output targets.
func CheckDestinations(dests []Destination) error {
	for _, d := range dests {
		if !d.Addr.IsValid() || d.Addr.Port() == 0 {
			return configErr("destination", d.Addr, "needs an IP and a port")
		}
		if !d.Remote.Valid() {
			return configErr("remote universe", d.Remote, "exceeds 15 bits")
		}
	}
	return nil
}

// Create declares a universe. Re-creating an existing id with the same
// direction is a no-op.
func (m *Map) Create(id ID, dir Direction) (*Universe, error) {
	if err := CheckUniverse(id, dir); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if u, ok := m.universes[id]; ok {
		if u.dir != dir {
			return nil, configErr("universe", id, "already declared as "+u.dir.String())
		}
		return u, nil
	}

	u := newUniverse(id, dir)
	m.universes[id] = u
	if dir.IsInput() {
		m.indexInput(id, u.input.Address)
	}
	return u, nil
}

// Remove tears a universe down.
func (m *Map) Remove(id ID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.universes[id]
	if !ok {
		return
	}
	if u.dir.IsInput() {
		m.unindexInput(id, u.InputFilter().Address)
	}
	delete(m.universes, id)
}

// Get returns the universe with id.
func (m *Map) Get(id ID) (*Universe, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.universes[id]
	if !ok {
		return nil, configErr("universe", id, "is not declared")
	}
	return u, nil
}

// Universes returns every universe in ascending id order.
func (m *Map) Universes() []*Universe {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]*Universe, 0, len(m.universes))
	for _, u := range m.universes {
		list = append(list, u)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].id < list[j].id })
	return list
}

// List describes every universe in ascending id order.
func (m *Map) List() []Info {
	universes := m.Universes()
	infos := make([]Info, 0, len(universes))
	for _, u := range universes {
		infos = append(infos, Info{
			ID:           u.id,
			Direction:    u.dir,
			Destinations: u.Destinations(),
			Input:        u.InputFilter(),
		})
	}
	return infos
}

// SetOutputTargets replaces the destinations of an output universe. A node
// port (address + remote universe) belongs to one universe only: mapping it
// here removes it from whichever universe held it before.
func (m *Map) SetOutputTargets(id ID, dests []Destination) error {
	if err := CheckDestinations(dests); err != nil {
		return err
	}
	normalized := make([]Destination, 0, len(dests))
	seen := make(map[streamKey]bool, len(dests))
	for _, d := range dests {
		if seen[d.key()] {
			continue
		}
		seen[d.key()] = true
		if d.ID == "" {
			d.ID = cuid.New()
		}
		normalized = append(normalized, d)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.universes[id]
	if !ok {
		return configErr("universe", id, "is not declared")
	}
	if !u.dir.IsOutput() {
		return configErr("universe", id, "is not an output universe")
	}

	for otherID, other := range m.universes {
		if otherID != id {
			other.dropTargets(seen)
		}
	}
	u.setDestinations(normalized)
	return nil
}

// ResolveOutput returns where a universe is sent.
func (m *Map) ResolveOutput(id ID) []Destination {
	m.mu.RLock()
	u, ok := m.universes[id]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return u.Destinations()
}

// OutputTargets returns the destinations of a declared universe.
func (m *Map) OutputTargets(id ID) ([]Destination, error) {
	u, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return u.Destinations(), nil
}

// InputSource returns the input routing of a declared input universe.
func (m *Map) InputSource(id ID) (InputFilter, error) {
	u, err := m.Get(id)
	if err != nil {
		return InputFilter{}, err
	}
	if !u.dir.IsInput() {
		return InputFilter{}, configErr("universe", id, "is not an input universe")
	}
	return u.InputFilter(), nil
}

// SetInputSource sets which inbound frames feed an input universe.
func (m *Map) SetInputSource(id ID, f InputFilter) error {
	if err := f.Check(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.universes[id]
	if !ok {
		return configErr("universe", id, "is not declared")
	}
	if !u.dir.IsInput() {
		return configErr("universe", id, "is not an input universe")
	}

	m.unindexInput(id, u.InputFilter().Address)
	f.Source = f.Source.Unmap()
	u.setInput(f)
	m.indexInput(id, f.Address)
	return nil
}

// RouteInput finds the input universe a frame from src for addr belongs to.
// Unmapped traffic returns false.
func (m *Map) RouteInput(src netip.AddrPort, addr packet.PortAddress) (*Universe, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, id := range m.inputs[addr] {
		u := m.universes[id]
		if u.InputFilter().Matches(src.Addr()) {
			return u, true
		}
	}
	return nil, false
}

// Rebind moves destinations that name a node to the node's current address
// when their recorded address is no longer alive. A moved destination takes
// over its node port: other universes targeting the same port lose it, as
// with SetOutputTargets.
func (m *Map) Rebind(addr netip.AddrPort, shortName, longName string, alive func(netip.AddrPort) bool) []Rebound {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]ID, 0, len(m.universes))
	for id := range m.universes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var moved []Rebound
	owner := make(map[streamKey]ID)
	for _, id := range ids {
		for _, rb := range m.universes[id].follow(addr, shortName, longName, alive) {
			owner[rb.Dest.key()] = id
			moved = append(moved, rb)
		}
	}
	if len(moved) == 0 {
		return nil
	}

	for _, id := range ids {
		lost := make(map[streamKey]bool)
		for key, o := range owner {
			if o != id {
				lost[key] = true
			}
		}
		m.universes[id].dropTargets(lost)
	}

	rebound := moved[:0]
	for _, rb := range moved {
		if owner[rb.Dest.key()] == rb.Universe {
			rebound = append(rebound, rb)
		}
	}
	return rebound
}

func namesMatch(d Destination, shortName, longName string) bool {
	if d.LongName != "" {
		return d.LongName == longName
	}
	return d.ShortName != "" && d.ShortName == shortName
}

// indexInput and unindexInput expect m.mu to be held.
func (m *Map) indexInput(id ID, addr packet.PortAddress) {
	ids := m.inputs[addr]
	i := sort.Search(len(ids), func(i int) bool { return ids[i] >= id })
	ids = append(ids, 0)
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	m.inputs[addr] = ids
}

func (m *Map) unindexInput(id ID, addr packet.PortAddress) {
	ids := m.inputs[addr]
	for i, v := range ids {
		if v == id {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(m.inputs, addr)
		return
	}
	m.inputs[addr] = ids
}
