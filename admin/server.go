// Package admin serves a read-only HTTP view of the bot's store.
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tetsuhou/iv-rhash-bot/storage"
)

// CandidateLister reads a host's candidate list.
type CandidateLister interface {
	List(ctx context.Context, host string) ([]string, error)
}

// Server exposes health checks and the stored collections over HTTP.
type Server struct {
	store      storage.Store
	candidates CandidateLister
}

// NewServer creates a Server reading from store and candidates.
func NewServer(store storage.Store, candidates CandidateLister) *Server {
	return &Server{store: store, candidates: candidates}
}

// Router returns the HTTP handler with every admin route mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.health)
	r.Get("/ready", s.ready)
	r.Get("/stats", s.stats)
	r.Get("/hosts", s.listHosts)
	r.Get("/hosts/{host}/candidates", s.listCandidates)

	return r
}

type statusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSONStatus(w, statusResponse{Status: "ok"}, http.StatusOK)
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		writeJSONStatus(w, statusResponse{Status: "error", Error: err.Error()}, http.StatusServiceUnavailable)
		return
	}
	writeJSONStatus(w, statusResponse{Status: "ok"}, http.StatusOK)
}

type statsResponse struct {
	Hosts       int `json:"hosts"`
	Candidates  int `json:"candidates"`
	Preferences int `json:"preferences"`
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.Snapshot(r.Context())
	if err != nil {
		writeJSONStatus(w, statusResponse{Status: "error", Error: "store unavailable"}, http.StatusServiceUnavailable)
		return
	}

	resp := statsResponse{Hosts: len(snap.Candidates), Preferences: len(snap.Preferences)}
	for _, tokens := range snap.Candidates {
		resp.Candidates += len(tokens)
	}
	writeJSONStatus(w, resp, http.StatusOK)
}

type hostsResponse struct {
	Hosts []string `json:"hosts"`
}

func (s *Server) listHosts(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.Snapshot(r.Context())
	if err != nil {
		writeJSONStatus(w, statusResponse{Status: "error", Error: "store unavailable"}, http.StatusServiceUnavailable)
		return
	}

	hosts := make([]string, 0, len(snap.Candidates))
	for host := range snap.Candidates {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	writeJSONStatus(w, hostsResponse{Hosts: hosts}, http.StatusOK)
}

type candidatesResponse struct {
	Host   string   `json:"host"`
	Tokens []string `json:"tokens"`
}

func (s *Server) listCandidates(w http.ResponseWriter, r *http.Request) {
	host := chi.URLParam(r, "host")

	tokens, err := s.candidates.List(r.Context(), host)
	if err != nil {
		writeJSONStatus(w, statusResponse{Status: "error", Error: "store unavailable"}, http.StatusServiceUnavailable)
		return
	}
	if len(tokens) == 0 {
		writeJSONStatus(w, statusResponse{Status: "not found"}, http.StatusNotFound)
		return
	}
	writeJSONStatus(w, candidatesResponse{Host: host, Tokens: tokens}, http.StatusOK)
}

func writeJSONStatus(w http.ResponseWriter, value any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}
