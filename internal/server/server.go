// Package server runs the status HTTP endpoint next to the bot.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/example/studybot/internal/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	shutdownTimeout    = 10 * time.Second
	mirrorCountTimeout = 2 * time.Second
)

// Counter reports how many users are known
type Counter interface {
	Count() int
}

// MirrorCounter reports how many users the SQL mirror holds.
// database.Mirror implements it.
type MirrorCounter interface {
	Count(ctx context.Context) (int, error)
}

type routerOptions struct {
	mirror MirrorCounter
}

// RouterOption customises NewRouter
type RouterOption func(*routerOptions)

// WithMirror adds the mirror row count to /healthz
func WithMirror(m MirrorCounter) RouterOption {
	return func(o *routerOptions) { o.mirror = m }
}

// Server serves liveness, health and metrics
type Server struct {
	http *http.Server
	log  *logger.Logger
}

// NewRouter builds the status routes
func NewRouter(users Counter, metrics http.Handler, opts ...RouterOption) http.Handler {
	var o routerOptions
	for _, opt := range opts {
		opt(&o)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("Telegram Bot is running!"))
	})

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		body := map[string]any{
			"status": "ok",
			"users":  users.Count(),
		}
		if o.mirror != nil {
			body["mirror"] = mirrorHealth(req.Context(), o.mirror)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	})

	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	return r
}

// mirrorHealth reports the mirror row count, or the error when the mirror
// cannot be queried. The mirror is optional, so it never fails the check.
func mirrorHealth(ctx context.Context, m MirrorCounter) map[string]any {
	ctx, cancel := context.WithTimeout(ctx, mirrorCountTimeout)
	defer cancel()

	n, err := m.Count(ctx)
	if err != nil {
		return map[string]any{"status": "unavailable", "error": err.Error()}
	}
	return map[string]any{"status": "ok", "users": n}
}

// New creates a server listening on port
func New(port string, handler http.Handler, log *logger.Logger) *Server {
	return &Server{
		http: &http.Server{
			Addr:         ":" + port,
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		log: log,
	}
}

// Start listens in the background. Listen errors are logged.
func (s *Server) Start() {
	go func() {
		s.log.Info().Str("addr", s.http.Addr).Msg("status server starting")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("status server stopped")
		}
	}()
}

// Shutdown stops accepting connections and waits for in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("status server shutdown failed: %w", err)
	}
	return nil
}
