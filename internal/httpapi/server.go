// Package httpapi exposes the engine over HTTP: nodes, universes, output
// mappings and Prometheus metrics.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"artnetd/internal/artnet"
	"artnetd/internal/artnet/registry"
	"artnetd/internal/artnet/universe"
	"artnetd/internal/logger"
	"artnetd/internal/stats"
)

// Engine is the part of the Art-Net engine the API serves.
type Engine interface {
	State() artnet.State
	Name() (short, long string)
	Nodes() []registry.Node
	Universes() []universe.Info
	ReadUniverse(id universe.ID) ([universe.Size]byte, error)
	WriteUniverse(id universe.ID, data []byte) error
	SetOutputTargets(id universe.ID, dests []universe.Destination) error
	OutputTargets(id universe.ID) ([]universe.Destination, error)
	Stats(id universe.ID) stats.Universe
	Totals() stats.Totals
	Metrics() http.Handler
}

// Server is the HTTP API server.
type Server struct {
	log    *logger.Log
	engine Engine
	srv    *http.Server
	done   chan error
}

// New creates a server listening on addr once started.
func New(log logger.Logger, addr string, engine Engine) *Server {
	s := &Server{
		log:    log.With(logger.Fields{"module": "http"}),
		engine: engine,
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.done = make(chan error, 1)
	go func() {
		err := s.srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.done <- err
	}()
	s.log.Infof("HTTP API listening on %s", ln.Addr())
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.done == nil {
		return nil
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		return err
	}
	return <-s.done
}
