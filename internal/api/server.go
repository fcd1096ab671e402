package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/feed-ingestor/internal/filter"
	"github.com/JakeFAU/feed-ingestor/internal/ingest"
	"github.com/JakeFAU/feed-ingestor/internal/metrics"
)

// PassReporter exposes scheduler progress.
type PassReporter interface {
	LastPass() (ingest.PassSummary, bool)
	Passes() int
}

// FilterInspector is the read-only view of the membership filter.
type FilterInspector interface {
	Contains(id string) bool
	Stats() filter.Stats
}

// Pinger checks a downstream dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires ops handlers to the scheduler, filter and store.
type Server struct {
	router chi.Router
	passes PassReporter
	filter FilterInspector
	store  Pinger
	logger *zap.Logger
}

type statusResponse struct {
	Passes   int                 `json:"passes"`
	LastPass *ingest.PassSummary `json:"last_pass"`
	Filter   filter.Stats        `json:"filter"`
}

type containsResponse struct {
	ID   string `json:"id"`
	Seen bool   `json:"seen"`
}

// NewServer constructs a Server with middleware and routes. store may be nil.
func NewServer(passes PassReporter, f FilterInspector, store Pinger, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		passes: passes,
		filter: f,
		store:  store,
		logger: logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metricsMiddleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.status)
		r.Get("/filter/contains", s.filterContains)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server started", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz reports ready once a pass has finished and storage answers.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.passes == nil || s.passes.Passes() == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			s.logger.Warn("readiness ping failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "storage unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	var resp statusResponse
	if s.passes != nil {
		resp.Passes = s.passes.Passes()
		if last, ok := s.passes.LastPass(); ok {
			resp.LastPass = &last
		}
	}
	if s.filter != nil {
		resp.Filter = s.filter.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) filterContains(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "id query parameter required")
		return
	}
	if s.filter == nil {
		writeError(w, http.StatusServiceUnavailable, "filter not loaded")
		return
	}
	writeJSON(w, http.StatusOK, containsResponse{ID: id, Seen: s.filter.Contains(id)})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
