// Package server exposes the market over HTTP JSON and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/opinionmarket/internal/crypto"
	"github.com/alanyoungcy/opinionmarket/internal/domain"
	"github.com/alanyoungcy/opinionmarket/internal/guard"
	"github.com/alanyoungcy/opinionmarket/internal/server/handler"
	"github.com/alanyoungcy/opinionmarket/internal/server/middleware"
	"github.com/alanyoungcy/opinionmarket/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimit requests per RateWindow per caller or IP; 0 disables.
	RateLimit  int
	RateWindow time.Duration

	SignatureWindow   time.Duration
	TrustCallerHeader bool
	// Replay tracks used request signatures; nil keeps them in process.
	Replay domain.ReplayGuard
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Opinions *handler.OpinionHandler
	Pools    *handler.PoolHandler
	Fees     *handler.FeeHandler
	Admin    *handler.AdminHandler
	Events   *handler.EventHandler
}

// NewHandlers builds every handler over one market service.
func NewHandlers(svc Market, cache domain.OpinionCache, logger *slog.Logger) Handlers {
	return Handlers{
		Health:   handler.NewHealthHandler(svc, logger),
		Opinions: handler.NewOpinionHandler(svc, cache, logger),
		Pools:    handler.NewPoolHandler(svc, logger),
		Fees:     handler.NewFeeHandler(svc, logger),
		Admin:    handler.NewAdminHandler(svc, logger),
		Events:   handler.NewEventHandler(svc, logger),
	}
}

// Market is everything the HTTP surface calls. *engine.Engine satisfies it.
type Market interface {
	handler.HealthService
	handler.OpinionService
	handler.PoolService
	handler.FeeService
	handler.AdminService
	handler.EventService
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered on the ServeMux.
// limiter and wsHub may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.HandleFunc("POST /api/opinions", handlers.Opinions.CreateOpinion)
	mux.HandleFunc("GET /api/opinions", handlers.Opinions.ListOpinions)
	mux.HandleFunc("GET /api/opinions/{id}", handlers.Opinions.GetOpinion)
	mux.HandleFunc("GET /api/opinions/{id}/history", handlers.Opinions.GetHistory)
	mux.HandleFunc("GET /api/opinions/{id}/next-price", handlers.Opinions.GetNextPrice)
	mux.HandleFunc("GET /api/opinions/{id}/pools", handlers.Opinions.ListPools)
	mux.HandleFunc("POST /api/opinions/{id}/answers", handlers.Opinions.SubmitAnswer)
	mux.HandleFunc("POST /api/opinions/{id}/listing", handlers.Opinions.ListForSale)
	mux.HandleFunc("DELETE /api/opinions/{id}/listing", handlers.Opinions.CancelListing)
	mux.HandleFunc("POST /api/opinions/{id}/purchase", handlers.Opinions.Purchase)
	mux.HandleFunc("POST /api/opinions/{id}/deactivate", handlers.Opinions.Deactivate)
	mux.HandleFunc("POST /api/opinions/{id}/reactivate", handlers.Opinions.Reactivate)

	mux.HandleFunc("POST /api/pools", handlers.Pools.CreatePool)
	mux.HandleFunc("GET /api/pools/{id}", handlers.Pools.GetPool)
	mux.HandleFunc("POST /api/pools/{id}/contributions", handlers.Pools.Contribute)
	mux.HandleFunc("POST /api/pools/{id}/expiry", handlers.Pools.CheckExpiry)
	mux.HandleFunc("POST /api/pools/{id}/withdrawal", handlers.Pools.Withdraw)

	mux.HandleFunc("GET /api/fees/{address}", handlers.Fees.GetFees)
	mux.HandleFunc("POST /api/fees/claim", handlers.Fees.Claim)

	mux.HandleFunc("POST /api/admin/pause", handlers.Admin.Pause)
	mux.HandleFunc("POST /api/admin/unpause", handlers.Admin.Unpause)
	mux.HandleFunc("POST /api/admin/emergency-withdraw", handlers.Admin.EmergencyWithdraw)
	mux.HandleFunc("POST /api/admin/platform-fees/withdraw", handlers.Admin.WithdrawPlatformFees)
	mux.HandleFunc("POST /api/admin/roles", handlers.Admin.GrantRole)
	mux.HandleFunc("DELETE /api/admin/roles", handlers.Admin.RevokeRole)

	mux.HandleFunc("GET /api/events", handlers.Events.ListEvents)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Outermost last: CORS, Caller, Logging, Auth, RateLimit, mux.
	var h http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	}
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger)(h)
	replay := cfg.Replay
	if replay == nil {
		replay = guard.NewSeen()
	}
	h = middleware.Caller(middleware.CallerConfig{
		Verifier:    crypto.Verifier{Window: cfg.SignatureWindow},
		TrustHeader: cfg.TrustCallerHeader,
		Replay:      replay,
	}, logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		handler:    h,
		logger:     logger,
	}
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler { return s.handler }

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
