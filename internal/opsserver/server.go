// Package opsserver exposes the operator HTTP surface: health, cache
// invalidation and runtime counters.
package opsserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const healthText = "Health check OK"

// CacheAdmin is the cache surface the server invalidates and reports on.
type CacheAdmin interface {
	Delete(key string)
	Clear()
	Len() int
}

// SubjectCounter reports how many requesters the limiter currently tracks.
type SubjectCounter interface {
	Len() int
}

// Stats is the JSON body served by GET /stats.
type Stats struct {
	RateLimitSubjects int   `json:"rate_limit_subjects"`
	CacheEntries      int   `json:"cache_entries"`
	CommandsAdmitted  int64 `json:"commands_admitted"`
	CommandsRejected  int64 `json:"commands_rejected"`
}

// Option mutates server construction configuration.
type Option func(*Server)

// WithLogger configures request and lifecycle logging.
func WithLogger(logger *slog.Logger) Option {
	return func(server *Server) {
		if logger != nil {
			server.logger = logger
		}
	}
}

// WithAdmissionStats supplies admitted and rejected command counters.
func WithAdmissionStats(stats func() (admitted int64, rejected int64)) Option {
	return func(server *Server) {
		if stats != nil {
			server.admissionStats = stats
		}
	}
}

// Server serves the operator endpoints on one listener.
type Server struct {
	router         chi.Router
	cache          CacheAdmin
	limiter        SubjectCounter
	admissionStats func() (int64, int64)
	logger         *slog.Logger
	httpServer     *http.Server
}

// New builds the router. cache and limiter are required.
func New(cache CacheAdmin, limiter SubjectCounter, options ...Option) (*Server, error) {
	if cache == nil {
		return nil, fmt.Errorf("new ops server: nil cache")
	}
	if limiter == nil {
		return nil, fmt.Errorf("new ops server: nil limiter")
	}

	server := &Server{
		cache:          cache,
		limiter:        limiter,
		admissionStats: func() (int64, int64) { return 0, 0 },
		logger:         slog.Default(),
	}
	for _, option := range options {
		option(server)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(server.logRequests)

	router.Get("/healthz", server.handleHealth)
	router.Get("/stats", server.handleStats)
	router.Delete("/cache", server.handleClearCache)
	router.Delete("/cache/{key}", server.handleDeleteCacheKey)
	server.router = router

	return server, nil
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve accepts connections on listener until ctx ends, then drains within
// shutdownTimeout.
func (s *Server) Serve(ctx context.Context, listener net.Listener, shutdownTimeout time.Duration) error {
	if listener == nil {
		return fmt.Errorf("serve ops server: nil listener")
	}

	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(listener)
	}()
	s.logger.Info("ops server listening", "addr", listener.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve ops server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown ops server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve ops server: %w", err)
	}

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(healthText))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	admitted, rejected := s.admissionStats()
	s.writeJSON(w, r, http.StatusOK, Stats{
		RateLimitSubjects: s.limiter.Len(),
		CacheEntries:      s.cache.Len(),
		CommandsAdmitted:  admitted,
		CommandsRejected:  rejected,
	})
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	s.cache.Clear()
	s.logger.InfoContext(r.Context(), "response cache cleared")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteCacheKey(w http.ResponseWriter, r *http.Request) {
	key, err := cacheKeyParam(r)
	if err != nil {
		s.writeJSON(w, r, http.StatusBadRequest, map[string]string{"error": "malformed cache key"})
		return
	}
	if key == "" {
		s.writeJSON(w, r, http.StatusBadRequest, map[string]string{"error": "missing cache key"})
		return
	}

	s.cache.Delete(key)
	s.logger.InfoContext(r.Context(), "response cache entry deleted", "key", key)
	w.WriteHeader(http.StatusNoContent)
}

// cacheKeyParam decodes the {key} segment. chi matches against RawPath when
// the request carries one, so an escaped "/" arrives still encoded as "%2F".
func cacheKeyParam(r *http.Request) (string, error) {
	key := chi.URLParam(r, "key")
	if r.URL.RawPath == "" {
		return key, nil
	}

	return url.PathUnescape(key)
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WarnContext(r.Context(), "ops server encode response", "error", err)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(wrapped, r)

		s.logger.DebugContext(r.Context(), "ops request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.Status(),
			"duration", time.Since(started),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
