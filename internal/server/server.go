// Package server exposes the HTTP and WebSocket API over the marketplace
// engine, oracle, and risk layers.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kamalbuilds/aptos-markets/internal/domain"
	"github.com/kamalbuilds/aptos-markets/internal/server/handler"
	"github.com/kamalbuilds/aptos-markets/internal/server/middleware"
	"github.com/kamalbuilds/aptos-markets/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimit is the per-client request budget per window. Zero
	// disables throttling.
	RateLimit       int
	RateLimitWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health     *handler.HealthHandler
	Status     *handler.StatusHandler
	Markets    *handler.MarketHandler
	Governance *handler.GovernanceHandler
	Risk       *handler.RiskHandler
	Oracle     *handler.OracleHandler
	Accounts   *handler.AccountHandler
	Admin      *handler.AdminHandler
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered on the ServeMux and
// the middleware chain (rate limiting, auth, logging, CORS) applied.
// limiter and wsHub may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health and status (no auth required for health).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	// Marketplace directory and market lifecycle.
	mux.HandleFunc("GET /api/marketplaces", handlers.Markets.ListMarketplaces)
	mux.HandleFunc("GET /api/marketplaces/{asset}/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("POST /api/marketplaces/{asset}/markets", handlers.Markets.CreateMarket)
	mux.HandleFunc("GET /api/marketplaces/{asset}/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("POST /api/marketplaces/{asset}/markets/{id}/start", handlers.Markets.StartMarket)
	mux.HandleFunc("POST /api/marketplaces/{asset}/markets/{id}/pause", handlers.Markets.PauseMarket)
	mux.HandleFunc("POST /api/marketplaces/{asset}/markets/{id}/resume", handlers.Markets.ResumeMarket)
	mux.HandleFunc("POST /api/marketplaces/{asset}/markets/{id}/cancel", handlers.Markets.CancelMarket)
	mux.HandleFunc("POST /api/marketplaces/{asset}/markets/{id}/resolve", handlers.Markets.ResolveMarket)

	// Betting, liquidity, and payouts.
	mux.HandleFunc("POST /api/marketplaces/{asset}/markets/{id}/bets", handlers.Markets.PlaceBet)
	mux.HandleFunc("POST /api/marketplaces/{asset}/markets/{id}/liquidity", handlers.Markets.ChangeLiquidity)
	mux.HandleFunc("GET /api/marketplaces/{asset}/markets/{id}/prices", handlers.Markets.GetPrices)
	mux.HandleFunc("GET /api/marketplaces/{asset}/markets/{id}/history", handlers.Markets.GetHistory)
	mux.HandleFunc("GET /api/marketplaces/{asset}/markets/{id}/payouts", handlers.Markets.GetPayouts)
	mux.HandleFunc("POST /api/marketplaces/{asset}/markets/{id}/claim", handlers.Markets.ClaimPayout)

	// Governance voting for event markets.
	mux.HandleFunc("GET /api/marketplaces/{asset}/markets/{id}/governance", handlers.Governance.GetStatus)
	mux.HandleFunc("POST /api/marketplaces/{asset}/markets/{id}/governance/validators", handlers.Governance.RegisterValidator)
	mux.HandleFunc("POST /api/marketplaces/{asset}/markets/{id}/governance/votes", handlers.Governance.CastVote)
	mux.HandleFunc("POST /api/marketplaces/{asset}/markets/{id}/governance/disputes", handlers.Governance.RaiseDispute)
	mux.HandleFunc("POST /api/marketplaces/{asset}/markets/{id}/governance/close", handlers.Governance.CloseGovernance)

	// Risk profiles and fraud reporting.
	mux.HandleFunc("GET /api/marketplaces/{asset}/risk/{address}", handlers.Risk.GetProfile)
	mux.HandleFunc("DELETE /api/marketplaces/{asset}/risk/{address}", handlers.Risk.ResetProfile)
	mux.HandleFunc("PUT /api/marketplaces/{asset}/risk/{address}/max-position", handlers.Risk.SetMaxPosition)
	mux.HandleFunc("GET /api/marketplaces/{asset}/risk/{address}/fraud", handlers.Risk.ListFraudReports)
	mux.HandleFunc("POST /api/marketplaces/{asset}/risk/fraud", handlers.Risk.ReportFraud)
	mux.HandleFunc("POST /api/marketplaces/{asset}/risk/ai", handlers.Risk.UpdateAIRisk)

	// Oracle consensus and attestation.
	mux.HandleFunc("GET /api/oracle/consensus/{symbol}", handlers.Oracle.GetConsensus)
	mux.HandleFunc("POST /api/oracle/attest", handlers.Oracle.Attest)

	// On-chain lookups.
	mux.HandleFunc("GET /api/accounts/{address}/balance", handlers.Accounts.GetBalance)
	mux.HandleFunc("GET /api/chain/ledger", handlers.Accounts.GetLedger)

	// Operator endpoints.
	mux.HandleFunc("GET /api/admin/risk/metrics", handlers.Admin.GetRiskMetrics)
	mux.HandleFunc("POST /api/admin/risk/breaker", handlers.Admin.SetBreaker)
	mux.HandleFunc("POST /api/admin/archive", handlers.Admin.TriggerArchive)
	mux.HandleFunc("GET /api/admin/audit", handlers.Admin.ListAudit)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey)(h)

	// Apply per-client rate limiting when a limiter is wired.
	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateLimitWindow
		if window <= 0 {
			window = time.Minute
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window)(h)
	}

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply CORS middleware.
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
