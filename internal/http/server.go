// Package http serves the JSON API of the finance tracker: authentication,
// transaction writes and the per-browser dashboard view with its live stream.
package http

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"fintrack/internal/auth"
	"fintrack/internal/cache"
	"fintrack/internal/log"
	"fintrack/internal/middleware/ratelimit"
	"fintrack/internal/middleware/security"
	"fintrack/internal/middleware/trace"
	"fintrack/internal/session"
	"fintrack/internal/store"
)

const (
	// DefaultMaxViews bounds the number of live dashboard views.
	DefaultMaxViews = 1000
	// cacheSweepInterval is how often expired sessions and views are closed.
	cacheSweepInterval = time.Minute
	// streamHeartbeat keeps idle event streams open through proxies.
	streamHeartbeat = 25 * time.Second
)

// Deps are the collaborators of the server.
type Deps struct {
	Store store.TransactionStore
	Auth  *auth.Provider
	// Ready reports whether the backing store can serve requests. Optional.
	Ready func(ctx context.Context) error
}

// Options tune the server.
type Options struct {
	SessionTTL    time.Duration
	MaxViews      int
	RateLimitRPM  int
	SecureCookies bool
	View          session.Options
}

type Server struct {
	http.Server
	logger   *log.Logger
	requests *log.StructuredLogger
	auth     *auth.Provider
	views    *viewRegistry
	caches   *cache.Manager
	ready    func(ctx context.Context) error

	sessionTTL    time.Duration
	secureCookies bool

	rateLimiter      *ratelimit.Limiter
	securityDetector *security.Detector
	traceMiddleware  *trace.Middleware

	appMetrics struct {
		uptime              time.Time
		transactionsWritten atomic.Int64
		streams             atomic.Int64
	}

	// closing is closed on Shutdown so that event streams return.
	closing      chan struct{}
	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, deps Deps, opts Options, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Discard()
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 24 * time.Hour
	}
	if opts.MaxViews <= 0 {
		opts.MaxViews = DefaultMaxViews
	}

	httpLogger := logger.WithComponent(log.ComponentHTTP)
	s := &Server{
		logger:        httpLogger,
		requests:      log.NewStructuredLogger(httpLogger),
		auth:          deps.Auth,
		ready:         deps.Ready,
		sessionTTL:    opts.SessionTTL,
		secureCookies: opts.SecureCookies,
		views:         newViewRegistry(deps.Store, opts.MaxViews, opts.SessionTTL, opts.View, logger),
		caches:        cache.NewManager(logger),
		closing:       make(chan struct{}),
	}
	s.appMetrics.uptime = time.Now()

	s.securityDetector = security.NewDetector(logger)
	s.traceMiddleware = trace.NewMiddleware(s.securityDetector.ExtractClientIP, logger)
	s.rateLimiter = ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitRPM}, logger)
	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())

	s.caches.Register(deps.Auth.Sessions())
	s.caches.Register(s.views)
	s.caches.StartCleanup(cacheSweepInterval)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	mux.HandleFunc("GET /api/auth/me", s.handleMe)

	mux.HandleFunc("POST /api/transactions", s.requireUser(s.handleCreateTransaction))
	mux.HandleFunc("PATCH /api/transactions/{id}", s.requireUser(s.handleUpdateTransaction))
	mux.HandleFunc("DELETE /api/transactions/{id}", s.requireUser(s.handleDeleteTransaction))

	mux.HandleFunc("GET /api/dashboard", s.requireUser(s.handleDashboard))
	mux.HandleFunc("GET /api/dashboard/stream", s.requireUser(s.handleDashboardStream))
	mux.HandleFunc("PUT /api/dashboard/filters", s.requireUser(s.handleSetFilters))
	mux.HandleFunc("DELETE /api/dashboard/filters/dates", s.requireUser(s.handleClearDates))
	mux.HandleFunc("POST /api/dashboard/categories/{name}/toggle", s.requireUser(s.handleToggleCategory))
	mux.HandleFunc("POST /api/dashboard/categories/all", s.requireUser(s.handleSelectAllCategories))
	mux.HandleFunc("POST /api/dashboard/categories/none", s.requireUser(s.handleClearCategories))
	mux.HandleFunc("PUT /api/dashboard/search", s.requireUser(s.handleSetSearch))
	mux.HandleFunc("POST /api/dashboard/month/prev", s.requireUser(s.handlePrevMonth))
	mux.HandleFunc("POST /api/dashboard/month/next", s.requireUser(s.handleNextMonth))
	mux.HandleFunc("POST /api/dashboard/swipe", s.requireUser(s.handleSwipe))
	mux.HandleFunc("POST /api/dashboard/groups/{key}/toggle", s.requireUser(s.handleToggleGroup))

	limited := s.rateLimiter.Middleware(s.securityDetector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
		ErrorResponse(http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.").Write(w)
	})(mux)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.traceMiddleware.Middleware(s.securityDetector.Middleware(headers.Middleware(limited))),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Shutdown ends event streams, stops background cleanup, closes every view
// and shuts the HTTP server down.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		close(s.closing)
		shutdownErr = s.Server.Shutdown(ctx)
		if errors.Is(shutdownErr, http.ErrServerClosed) {
			shutdownErr = nil
		}

		s.caches.Stop()
		s.rateLimiter.Stop()

		// Closing views cancels their store subscriptions.
		s.views.closeAll()

		s.logger.InfoContext(ctx, "HTTP server stopped", log.FieldOperation, log.OpShutdown)
	})

	return shutdownErr
}
