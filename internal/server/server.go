// Package server exposes fetched usage snapshots over a small local HTTP
// API.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvcrn/quotabar/internal/fetch"
)

// UsageFetcher is what the server needs from the engine.
type UsageFetcher interface {
	Providers() []string
	FetchOne(ctx context.Context, name string) (fetch.Outcome, error)
	FetchAll(ctx context.Context) map[string]fetch.Outcome
}

type Server struct {
	fetcher UsageFetcher
	mux     *http.ServeMux
	logger  zerolog.Logger
}

func New(logger zerolog.Logger, fetcher UsageFetcher) *Server {
	s := &Server{
		fetcher: fetcher,
		mux:     http.NewServeMux(),
		logger:  logger,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/usage", s.usageHandler)
	s.mux.HandleFunc("/usage/", s.usageProviderHandler)
	s.mux.HandleFunc("/providers", s.providersHandler)
	s.mux.HandleFunc("/health", s.healthHandler)
	s.mux.HandleFunc("/", s.notFoundHandler)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.loggingMiddleware(s.mux).ServeHTTP(w, r)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		s.logger.Info().
			Str("method", r.Method).
			Str("uri", r.RequestURI).
			Str("remote_addr", r.RemoteAddr).
			Msg("Incoming request")
		next.ServeHTTP(w, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("uri", r.RequestURI).
			Dur("duration", time.Since(start)).
			Msg("Finished request")
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status": "ok"}`))
}

func (s *Server) providersHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string][]string{"providers": s.fetcher.Providers()})
}

// usageResponse is one provider's fetch result on the wire. The error is
// flattened to a string so callers never depend on internal error types.
type usageResponse struct {
	Provider string        `json:"provider"`
	Outcome  fetch.Outcome `json:"outcome"`
	Error    string        `json:"error,omitempty"`
}

func (s *Server) usageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	outcomes := s.fetcher.FetchAll(r.Context())
	results := make([]usageResponse, 0, len(outcomes))
	for _, name := range s.fetcher.Providers() {
		outcome, ok := outcomes[name]
		if !ok {
			continue
		}
		results = append(results, toResponse(name, outcome))
	}
	s.writeJSON(w, http.StatusOK, map[string][]usageResponse{"results": results})
}

func (s *Server) usageProviderHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/usage/")
	if name == "" || strings.Contains(name, "/") {
		http.NotFound(w, r)
		return
	}

	outcome, err := s.fetcher.FetchOne(r.Context(), name)
	if err != nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}

	status := http.StatusOK
	if outcome.Err != nil {
		status = http.StatusBadGateway
	}
	s.writeJSON(w, status, toResponse(name, outcome))
}

func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	s.logger.Warn().
		Str("method", r.Method).
		Str("uri", r.RequestURI).
		Str("remote_addr", r.RemoteAddr).
		Msg("Unhandled route")
	http.NotFound(w, r)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func toResponse(name string, outcome fetch.Outcome) usageResponse {
	resp := usageResponse{Provider: name, Outcome: outcome}
	if outcome.Err != nil {
		resp.Error = outcome.Err.Error()
	}
	return resp
}
