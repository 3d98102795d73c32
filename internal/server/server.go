package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/clobwatch/internal/domain"
	"github.com/alanyoungcy/clobwatch/internal/server/handler"
	"github.com/alanyoungcy/clobwatch/internal/server/middleware"
	"github.com/alanyoungcy/clobwatch/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port         int
	CORSOrigins  []string
	APIKey       string // if empty, authentication is disabled
	RateLimitRPS int    // requests per second per client IP; 0 disables
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health     *handler.HealthHandler
	Status     *handler.StatusHandler
	Markets    *handler.MarketHandler
	Books      *handler.BookHandler
	Alerts     *handler.AlertHandler
	Strategies *handler.StrategyHandler
	Feeds      *handler.FeedHandler
	Reference  *handler.ReferenceHandler
	Archives   *handler.ArchiveHandler
	Audit      *handler.AuditHandler
}

// Server is the headless HTTP + WebSocket API server for the monitor.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (CORS, logging, rate limiting, auth) and attaches
// the WebSocket hub. limiter may be nil to disable rate limiting.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Monitor status and market catalog.
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)

	// Live order books.
	mux.HandleFunc("GET /api/books", handlers.Books.ListBooks)
	mux.HandleFunc("GET /api/books/{asset}", handlers.Books.GetBook)
	mux.HandleFunc("GET /api/books/{asset}/bbo", handlers.Books.GetQuote)

	// Alert history and the bus replay journal.
	mux.HandleFunc("GET /api/alerts", handlers.Alerts.ListAlerts)
	mux.HandleFunc("GET /api/alerts/replay", handlers.Alerts.ReplayAlerts)

	// Strategy lifecycle and selection.
	mux.HandleFunc("GET /api/strategies", handlers.Strategies.List)
	mux.HandleFunc("POST /api/strategies/{kind}/start", handlers.Strategies.Start)
	mux.HandleFunc("POST /api/strategies/{kind}/stop", handlers.Strategies.Stop)
	mux.HandleFunc("POST /api/strategies/{kind}/markets", handlers.Strategies.SelectMarket)
	mux.HandleFunc("POST /api/strategies/{kind}/events", handlers.Strategies.SelectEvent)
	mux.HandleFunc("DELETE /api/strategies/{kind}/selection", handlers.Strategies.ClearSelection)

	// Feed recovery.
	mux.HandleFunc("POST /api/feeds/{name}/rearm", handlers.Feeds.Rearm)

	// Crypto reference quotes.
	mux.HandleFunc("GET /api/reference", handlers.Reference.List)
	mux.HandleFunc("GET /api/reference/{symbol}", handlers.Reference.GetSymbol)

	// Archive verification and the operational audit trail.
	mux.HandleFunc("GET /api/archives", handlers.Archives.List)
	mux.HandleFunc("GET /api/audit", handlers.Audit.List)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first: the API-key guard on
	// mutating endpoints, then rate limiting, then request logging, with CORS
	// outermost so preflights never hit the limiter.
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	if limiter != nil && cfg.RateLimitRPS > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimitRPS, time.Second)(h)
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
