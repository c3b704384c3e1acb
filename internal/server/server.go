// Package server exposes the node's HTTP and WebSocket API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/veilmarket/veilmarket/internal/domain"
	"github.com/veilmarket/veilmarket/internal/server/handler"
	"github.com/veilmarket/veilmarket/internal/server/middleware"
	"github.com/veilmarket/veilmarket/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// SubmitLimit caps signed submissions per client IP per SubmitWindow.
	// Zero disables the limiter.
	SubmitLimit  int
	SubmitWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health  *handler.HealthHandler
	Markets *handler.MarketHandler
	Bets    *handler.BetHandler
}

// Server is the headless HTTP + WebSocket API of a market node.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered, wires up middleware
// (logging, CORS, auth, submission rate limiting), and attaches the
// WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Submission routes get their own rate-limited chain.
	submit := func(h http.HandlerFunc) http.Handler {
		if limiter == nil || cfg.SubmitLimit <= 0 {
			return h
		}
		window := cfg.SubmitWindow
		if window <= 0 {
			window = time.Minute
		}
		return middleware.RateLimit(limiter, cfg.SubmitLimit, window)(h)
	}

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Read surface.
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/bettors", handlers.Markets.BettorCount)
	mux.HandleFunc("GET /api/users/{addr}/markets", handlers.Markets.UserMarkets)
	mux.HandleFunc("GET /api/fees/creation", handlers.Markets.CreationFee)

	// Signed market operations.
	mux.Handle("POST /api/markets", submit(handlers.Markets.CreateMarket))
	mux.Handle("POST /api/markets/{id}/close", submit(handlers.Markets.CloseMarket))
	mux.Handle("POST /api/markets/{id}/settle", submit(handlers.Markets.SettleMarket))
	mux.Handle("POST /api/markets/{id}/cancel", submit(handlers.Markets.CancelMarket))
	mux.Handle("POST /api/markets/{id}/oracle", submit(handlers.Markets.ChangeOracle))
	mux.Handle("POST /api/markets/{id}/refund", submit(handlers.Markets.RefundBet))
	mux.Handle("POST /api/markets/{id}/claim", submit(handlers.Markets.ClaimPayout))

	// Bet intake.
	mux.Handle("POST /api/bets", submit(handlers.Bets.PlaceBet))

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
