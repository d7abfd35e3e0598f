// Package server exposes event ingress and run status over HTTP.
package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ShayCichocki/tierci/internal/coordinator"
	"github.com/ShayCichocki/tierci/internal/state"
	"github.com/ShayCichocki/tierci/internal/version"
)

// Server routes HTTP requests to a coordinator.
type Server struct {
	coord  *coordinator.Coordinator
	reader state.RunReader
	router *mux.Router
	http   *http.Server
}

// New creates a server listening on addr. reader may be nil, in which case
// only runs held in memory by the coordinator are visible.
func New(addr string, coord *coordinator.Coordinator, reader state.RunReader) *Server {
	s := &Server{
		coord:  coord,
		reader: reader,
		router: mux.NewRouter(),
	}
	s.routes()
	s.router.Use(serverHeader)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	api := s.router.PathPrefix("/v1").Subrouter()

	api.HandleFunc("/events", s.submitEvent).Methods(http.MethodPost)
	api.HandleFunc("/pipelines/{name}/dispatch", s.dispatch).Methods(http.MethodPost)
	api.HandleFunc("/pipelines/{name}/plan", s.plan).Methods(http.MethodPost)
	api.HandleFunc("/runs", s.listRuns).Methods(http.MethodGet)
	api.HandleFunc("/runs/active", s.activeRuns).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}", s.getRun).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}/summary", s.getSummary).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}/cancel", s.cancelRun).Methods(http.MethodPost)

	s.router.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods(http.MethodGet)
}

func serverHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", version.UserAgent())
		next.ServeHTTP(w, r)
	})
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until Shutdown is called.
func (s *Server) ListenAndServe() error {
	log.Printf("[server] listening on %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Printf("[server] shutting down")
	return s.http.Shutdown(ctx)
}
