package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tokenrelay/tokenrelay/internal/archive"
	"github.com/tokenrelay/tokenrelay/internal/logstore"
	"github.com/tokenrelay/tokenrelay/internal/stream"
)

// Server exposes the relay's HTTP surface: the SSE reader endpoint and
// the producer endpoints that feed the token log.
type Server struct {
	store     logstore.Store
	publisher *stream.Publisher
	ingester  *stream.Ingester
	archiver  *archive.Archiver
}

func New(store logstore.Store, publisher *stream.Publisher, ingester *stream.Ingester, archiver *archive.Archiver) *Server {
	return &Server{
		store:     store,
		publisher: publisher,
		ingester:  ingester,
		archiver:  archiver,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api/stream", func(api chi.Router) {
		api.Post("/", s.handleCreate)
		api.Get("/{id}", s.handleRead)
		api.Post("/{id}/append", s.handleAppend)
		api.Post("/{id}/ingest", s.handleIngest)
		api.Post("/{id}/complete", s.handleComplete)
		api.Post("/{id}/fail", s.handleFail)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
