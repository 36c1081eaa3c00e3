// Package server exposes the wager state machine over HTTP and streams
// lifecycle events over WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/wagerbot/internal/domain"
	"github.com/alanyoungcy/wagerbot/internal/server/handler"
	"github.com/alanyoungcy/wagerbot/internal/server/middleware"
	"github.com/alanyoungcy/wagerbot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	// TrustTimeHeader lets the relayer pin the action time via X-Wager-Time.
	TrustTimeHeader bool
	RateLimit       int // requests per RateWindow per caller; 0 disables
	RateWindow      time.Duration
}

// Handlers aggregates the HTTP handlers the server registers. Evidence,
// Metrics and the hub are optional.
type Handlers struct {
	Health   *handler.HealthHandler
	Wagers   *handler.WagerHandler
	Players  *handler.PlayerHandler
	Evidence *handler.EvidenceHandler
	Metrics  http.Handler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware
// chain. limiter may be nil.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := Routes(handlers, hub)

	var h http.Handler = mux
	h = middleware.Identity(cfg.TrustTimeHeader)(h)
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	}
	h = middleware.Auth(cfg.APIKey, "/healthz", "/metrics")(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	// WriteTimeout covers verification, which waits on the arbiter quorum.
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      3 * time.Minute,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Routes builds the mux without middleware.
func Routes(handlers Handlers, hub *ws.Hub) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", handlers.Health.HealthCheck)
	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}

	mux.HandleFunc("POST /api/wagers", handlers.Wagers.Create)
	mux.HandleFunc("GET /api/wagers", handlers.Wagers.List)
	mux.HandleFunc("GET /api/wagers/last", handlers.Wagers.Last)
	mux.HandleFunc("GET /api/wagers/{id}", handlers.Wagers.Get)
	mux.HandleFunc("GET /api/wagers/{id}/status", handlers.Wagers.Status)
	mux.HandleFunc("GET /api/wagers/{id}/payouts", handlers.Wagers.Payouts)
	mux.HandleFunc("POST /api/wagers/{id}/accept", handlers.Wagers.Accept)
	mux.HandleFunc("POST /api/wagers/{id}/verify", handlers.Wagers.Verify)
	mux.HandleFunc("POST /api/wagers/{id}/appeal", handlers.Wagers.Appeal)
	mux.HandleFunc("POST /api/wagers/{id}/resolve", handlers.Wagers.Resolve)

	mux.HandleFunc("GET /api/players", handlers.Players.List)
	mux.HandleFunc("GET /api/players/{address}", handlers.Players.Get)
	mux.HandleFunc("PUT /api/players/me/username", handlers.Players.SetUsername)
	mux.HandleFunc("GET /api/leaderboard", handlers.Players.Leaderboard)
	mux.HandleFunc("GET /api/stats", handlers.Players.Stats)

	if handlers.Evidence != nil {
		mux.HandleFunc("GET /api/evidence/{digest}", handlers.Evidence.Get)
	}
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}
	return mux
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
