package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)

	r.Handle("/metrics", s.engine.Metrics())

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/nodes", s.handleListNodes)

		r.Route("/universes", func(r chi.Router) {
			r.Get("/", s.handleListUniverses)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetUniverse)
				r.Put("/dmx", s.handleWriteDMX)
				r.Get("/outputs", s.handleGetOutputs)
				r.Put("/outputs", s.handleSetOutputs)
			})
		})
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debugf("%s %s -> %d (%s)", r.Method, r.URL.Path, ww.Status(), middleware.GetReqID(r.Context()))
	})
}
