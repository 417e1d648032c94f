package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"artnetd/internal/artnet/packet"
	"artnetd/internal/artnet/registry"
	"artnetd/internal/artnet/universe"
	"artnetd/internal/stats"
)

// PortView is one node port.
type PortView struct {
	BindIndex uint8  `json:"bindIndex"`
	Index     int    `json:"index"`
	Direction string `json:"direction"`
	Address   string `json:"address"`
	Universe  uint16 `json:"universe"`
}

// NodeView is a discovered node.
type NodeView struct {
	Address   string     `json:"address"`
	ShortName string     `json:"shortName"`
	LongName  string     `json:"longName"`
	Report    string     `json:"report"`
	MAC       string     `json:"mac"`
	Ports     []PortView `json:"ports"`
	FirstSeen time.Time  `json:"firstSeen"`
	LastSeen  time.Time  `json:"lastSeen"`
}

// DestinationView is one output target.
type DestinationView struct {
	ID             string `json:"id,omitempty"`
	Address        string `json:"address"`
	RemoteUniverse uint16 `json:"remoteUniverse"`
	ShortName      string `json:"shortName,omitempty"`
	LongName       string `json:"longName,omitempty"`
}

// UniverseView is a universe with its mappings and counters.
type UniverseView struct {
	ID           uint16            `json:"id"`
	Direction    string            `json:"direction"`
	Destinations []DestinationView `json:"destinations"`
	InputSource  string            `json:"inputSource,omitempty"`
	InputAddress *uint16           `json:"inputAddress,omitempty"`
	Stats        stats.Universe    `json:"stats"`
	Data         []int             `json:"data,omitempty"`
}

// DMXRequest is the body of PUT /api/universes/{id}/dmx.
type DMXRequest struct {
	Data []int `json:"data"`
}

// handleStatus returns the engine state and totals.
//
// GET /api/status
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	short, long := s.engine.Name()
	writeJSON(w, http.StatusOK, map[string]any{
		"state":     s.engine.State().String(),
		"shortName": short,
		"longName":  long,
		"totals":    s.engine.Totals(),
	})
}

// handleListNodes returns the discovered nodes in discovery order.
//
// GET /api/nodes
// Response: {"nodes": [...], "count": N}
func (s *Server) handleListNodes(w http.ResponseWriter, _ *http.Request) {
	nodes := s.engine.Nodes()
	views := make([]NodeView, 0, len(nodes))
	for _, n := range nodes {
		views = append(views, nodeView(n))
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": views, "count": len(views)})
}

// handleListUniverses returns every universe.
//
// GET /api/universes
// Response: {"universes": [...], "count": N}
func (s *Server) handleListUniverses(w http.ResponseWriter, _ *http.Request) {
	infos := s.engine.Universes()
	views := make([]UniverseView, 0, len(infos))
	for _, info := range infos {
		views = append(views, s.universeView(info))
	}
	writeJSON(w, http.StatusOK, map[string]any{"universes": views, "count": len(views)})
}

// handleGetUniverse returns one universe with its current channel data.
//
// GET /api/universes/{id}
func (s *Server) handleGetUniverse(w http.ResponseWriter, r *http.Request) {
	info, ok := s.lookup(w, r)
	if !ok {
		return
	}
	data, err := s.engine.ReadUniverse(info.ID)
	if err != nil {
		writeNotFound(w, err.Error())
		return
	}
	view := s.universeView(info)
	view.Data = make([]int, len(data))
	for i, v := range data {
		view.Data[i] = int(v)
	}
	writeJSON(w, http.StatusOK, view)
}

// handleWriteDMX writes channel data into an output universe.
//
// PUT /api/universes/{id}/dmx
// Body: {"data": [0..255, ...]}
func (s *Server) handleWriteDMX(w http.ResponseWriter, r *http.Request) {
	info, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req DMXRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	data := make([]byte, len(req.Data))
	for i, v := range req.Data {
		if v < 0 || v > 255 {
			writeBadRequest(w, fmt.Sprintf("channel %d: value %d out of range 0..255", i, v))
			return
		}
		data[i] = byte(v)
	}
	if err := s.engine.WriteUniverse(info.ID, data); err != nil {
		writeConfigError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetOutputs returns the destinations of a universe.
//
// GET /api/universes/{id}/outputs
func (s *Server) handleGetOutputs(w http.ResponseWriter, r *http.Request) {
	info, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"destinations": destinationViews(info.Destinations)})
}

// handleSetOutputs replaces the destinations of an output universe.
//
// PUT /api/universes/{id}/outputs
// Body: {"destinations": [{"address": "10.0.0.5:6454", "remoteUniverse": 0}]}
func (s *Server) handleSetOutputs(w http.ResponseWriter, r *http.Request) {
	info, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req struct {
		Destinations []DestinationView `json:"destinations"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	dests := make([]universe.Destination, 0, len(req.Destinations))
	for _, d := range req.Destinations {
		addr, err := parseAddrPort(d.Address)
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}
		dests = append(dests, universe.Destination{
			ID:        d.ID,
			Addr:      addr,
			Remote:    packet.PortAddress(d.RemoteUniverse),
			ShortName: d.ShortName,
			LongName:  d.LongName,
		})
	}
	if err := s.engine.SetOutputTargets(info.ID, dests); err != nil {
		writeConfigError(w, err)
		return
	}

	stored, err := s.engine.OutputTargets(info.ID)
	if err != nil {
		writeConfigError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"destinations": destinationViews(stored)})
}

// lookup resolves the {id} URL parameter to a declared universe.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (universe.Info, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 16)
	if err != nil || universe.ID(id) > universe.MaxID {
		writeBadRequest(w, fmt.Sprintf("invalid universe id %q", raw))
		return universe.Info{}, false
	}
	for _, info := range s.engine.Universes() {
		if info.ID == universe.ID(id) {
			return info, true
		}
	}
	writeNotFound(w, fmt.Sprintf("universe %d is not declared", id))
	return universe.Info{}, false
}

func (s *Server) universeView(info universe.Info) UniverseView {
	v := UniverseView{
		ID:           uint16(info.ID),
		Direction:    info.Direction.String(),
		Destinations: destinationViews(info.Destinations),
		Stats:        s.engine.Stats(info.ID),
	}
	if info.Direction.IsInput() {
		addr := uint16(info.Input.Address)
		v.InputAddress = &addr
		if info.Input.Source.IsValid() {
			v.InputSource = info.Input.Source.String()
		}
	}
	return v
}

func nodeView(n registry.Node) NodeView {
	v := NodeView{
		Address:   n.Addr.String(),
		ShortName: n.ShortName,
		LongName:  n.LongName,
		Report:    n.Report,
		MAC:       fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", n.MAC[0], n.MAC[1], n.MAC[2], n.MAC[3], n.MAC[4], n.MAC[5]),
		Ports:     make([]PortView, 0, len(n.Ports)),
		FirstSeen: n.FirstSeen,
		LastSeen:  n.LastSeen,
	}
	for _, p := range n.Ports {
		v.Ports = append(v.Ports, PortView{
			BindIndex: p.BindIndex,
			Index:     p.Index,
			Direction: p.Direction.String(),
			Address:   p.Address.String(),
			Universe:  uint16(p.Address),
		})
	}
	return v
}

func destinationViews(dests []universe.Destination) []DestinationView {
	views := make([]DestinationView, 0, len(dests))
	for _, d := range dests {
		views = append(views, DestinationView{
			ID:             d.ID,
			Address:        d.Addr.String(),
			RemoteUniverse: uint16(d.Remote),
			ShortName:      d.ShortName,
			LongName:       d.LongName,
		})
	}
	return views
}

// parseAddrPort accepts "ip:port" or a bare IP on the Art-Net port.
func parseAddrPort(s string) (netip.AddrPort, error) {
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap, nil
	}
	ip, err := netip.ParseAddr(s)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("invalid address %q", s)
	}
	return netip.AddrPortFrom(ip, packet.DefaultPort), nil
}

func writeConfigError(w http.ResponseWriter, err error) {
	if errors.Is(err, universe.ErrConfig) {
		writeBadRequest(w, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, err.Error())
}
