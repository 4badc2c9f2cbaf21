// Package server assembles the HTTP API: routes, middleware chain, and the
// WebSocket event feed.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/chainbazaar/marketd/internal/domain"
	"github.com/chainbazaar/marketd/internal/server/handler"
	"github.com/chainbazaar/marketd/internal/server/middleware"
	"github.com/chainbazaar/marketd/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	AdminToken  string // if empty, admin endpoints are unauthenticated

	// RateLimit is requests per RateWindow per client IP; zero disables
	// limiting.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server registers.
type Handlers struct {
	Health   *handler.HealthHandler
	Listings *handler.ListingHandler
	Bids     *handler.BidHandler
	Trades   *handler.TradeHandler
	Admin    *handler.AdminHandler
}

// Server is the marketplace HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered and the middleware
// chain (rate limiting, logging, CORS) applied. Admin routes additionally
// pass through token auth.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.Health)

	// Listing endpoints.
	mux.HandleFunc("GET /api/collections/{collection}/listings", handlers.Listings.ListListings)
	mux.HandleFunc("GET /api/collections/{collection}/listings/{token}", handlers.Listings.GetListing)
	mux.HandleFunc("POST /api/collections/{collection}/listings/{token}", handlers.Listings.CreateListing)
	mux.HandleFunc("DELETE /api/collections/{collection}/listings/{token}", handlers.Listings.DeleteListing)

	// Bid endpoints.
	mux.HandleFunc("GET /api/collections/{collection}/tokens/{token}/bids", handlers.Bids.ListBids)
	mux.HandleFunc("POST /api/collections/{collection}/tokens/{token}/bids", handlers.Bids.CreateBid)
	mux.HandleFunc("DELETE /api/collections/{collection}/tokens/{token}/bids", handlers.Bids.DeleteBid)
	mux.HandleFunc("GET /api/collections/{collection}/tokens/{token}/bids/highest", handlers.Bids.GetHighestBid)
	mux.HandleFunc("GET /api/collections/{collection}/tokens/{token}/bids/{bidder}", handlers.Bids.GetBid)
	mux.HandleFunc("GET /api/collections/{collection}/bids/highest", handlers.Bids.ListHighestBids)
	mux.HandleFunc("GET /api/collections/{collection}/bidders/{bidder}/bids", handlers.Bids.ListBidsByBidder)

	// Settlement endpoints.
	mux.HandleFunc("POST /api/collections/{collection}/tokens/{token}/buy", handlers.Listings.BuyToken)
	mux.HandleFunc("POST /api/collections/{collection}/tokens/{token}/accept", handlers.Bids.AcceptBid)

	// Trade journal endpoints.
	mux.HandleFunc("GET /api/trades", handlers.Trades.ListTrades)
	mux.HandleFunc("GET /api/trades/{id}", handlers.Trades.GetTrade)
	mux.HandleFunc("GET /api/collections/{collection}/trades", handlers.Trades.ListCollectionTrades)

	// Admin endpoints behind token auth.
	admin := http.NewServeMux()
	admin.HandleFunc("GET /api/admin/policy", handlers.Admin.GetPolicy)
	admin.HandleFunc("PUT /api/admin/policy/trading", handlers.Admin.SetTrading)
	admin.HandleFunc("PUT /api/admin/policy/expire-window", handlers.Admin.SetExpireWindow)
	admin.HandleFunc("PUT /api/admin/policy/service-fee", handlers.Admin.SetServiceFee)
	admin.HandleFunc("POST /api/admin/collections/{collection}/prune", handlers.Admin.Prune)
	admin.HandleFunc("GET /api/admin/audit", handlers.Admin.ListAudit)
	admin.HandleFunc("GET /api/admin/archive", handlers.Admin.ListArchive)
	admin.HandleFunc("GET /api/admin/archive/{key...}", handlers.Admin.GetArchiveObject)
	mux.Handle("/api/admin/", middleware.AdminAuth(cfg.AdminToken)(admin))

	// WebSocket event feed.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow)(h)
	}
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
