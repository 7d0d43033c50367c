// Package http exposes the ledger as a JSON API.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"cassa/internal/cache"
	"cassa/internal/gateway"
	logx "cassa/internal/log"
	"cassa/internal/middleware/ratelimit"
	"cassa/internal/middleware/security"
	"cassa/internal/services"
)

const settlementCacheSize = 32

// Options configures a Server. Zero values pick defaults.
type Options struct {
	Addr               string
	RateLimitPerMinute int
	SettlementCacheTTL time.Duration
	CacheCleanup       time.Duration
	Logger             *logx.Logger
	// Ready is checked by /readyz; nil reports ready.
	Ready gateway.Pinger
}

type Server struct {
	http.Server
	svc          *services.LedgerService
	ready        gateway.Pinger
	logger       *logx.Logger
	now          func() time.Time
	settlements  *cache.SettlementCache
	cacheManager *cache.Manager
	limiter      *ratelimit.Limiter
	detector     *security.Detector
	shutdownOnce sync.Once
}

// NewServer builds the router and starts the background cache and rate
// limiter cleanup. Call Shutdown to stop them.
func NewServer(svc *services.LedgerService, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		cfg := logx.DefaultConfig()
		cfg.Component = logx.ComponentHTTP
		cfg.Handler = slog.Default().Handler()
		logger = logx.New(cfg)
	}
	if opts.CacheCleanup <= 0 {
		opts.CacheCleanup = 10 * time.Minute
	}

	s := &Server{
		svc:          svc,
		ready:        opts.Ready,
		logger:       logger,
		now:          time.Now,
		settlements:  cache.NewSettlementCache(settlementCacheSize, opts.SettlementCacheTTL),
		cacheManager: cache.NewManager(logger.Logger),
		limiter:      ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitPerMinute}),
		detector:     security.NewDetector(),
	}
	s.cacheManager.Register(s.settlements)
	s.cacheManager.StartCleanup(opts.CacheCleanup)

	s.Server = http.Server{
		Addr:              opts.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logx.Middleware(s.logger))
	r.Use(logx.AccessLog)
	r.Use(middleware.Recoverer)
	r.Use(s.detector.Middleware(extractClientIP, func(r *http.Request) *slog.Logger {
		return logx.FromContext(r.Context()).Logger
	}))
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "route not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
	})

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Route("/api", func(r chi.Router) {
		r.Get("/members", s.handleMembers)
		r.Get("/expenses", s.handleListExpenses)
		r.Get("/expenses/{id}", s.handleGetExpense)
		r.Get("/fund", s.handleFund)
		r.Get("/fund/transactions", s.handleFundTransactions)
		r.Get("/settlement", s.handleSettlement)

		r.Group(func(r chi.Router) {
			r.Use(s.limiter.Middleware(extractClientIP, s.handleRateLimited))
			r.Post("/expenses", s.handleCreateExpense)
			r.Put("/expenses/{id}", s.handleUpdateExpense)
			r.Delete("/expenses/{id}", s.handleDeleteExpense)
			r.Post("/fund/deposits", s.handleDeposit)
			r.Post("/reload", s.handleReload)
		})
	})
	return r
}

func (s *Server) handleRateLimited(w http.ResponseWriter, r *http.Request) {
	logx.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
		logx.FieldComponent, logx.ComponentRateLimit,
		logx.FieldClientIP, extractClientIP(r),
		logx.FieldMethod, r.Method,
		logx.FieldPath, r.URL.Path)
	writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded, try again later"})
}

// Shutdown stops background goroutines and then the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
