package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"saldo/internal/cache"
	"saldo/internal/core"
	"saldo/internal/identity"
	"saldo/internal/log"
	"saldo/internal/middleware/ratelimit"
	"saldo/internal/middleware/security"
	"saldo/internal/middleware/trace"
)

// Ledger is the subset of the ledger service the API exposes.
// *services.LedgerService implements it.
type Ledger interface {
	InsertTransaction(ctx context.Context, userID string, tx core.Transaction) (core.Transaction, error)
	DeleteTransaction(ctx context.Context, userID, id string, date *core.Date) (core.Transaction, error)
	InsertIncome(ctx context.Context, userID string, in core.Income) (core.Income, error)
	DeleteIncome(ctx context.Context, userID, id string, date *core.Date) (core.Income, error)

	AddCategory(ctx context.Context, userID, name string) (core.Tag, error)
	RemoveCategory(ctx context.Context, userID, id string) (core.Tag, error)
	AddLabel(ctx context.Context, userID, name string) (core.Tag, error)
	RemoveLabel(ctx context.Context, userID, id string) (core.Tag, error)

	Snapshot(ctx context.Context, userID string, year, month int) (core.MonthSnapshot, error)
	ListTransactions(ctx context.Context, userID string, year, month int) ([]core.Transaction, error)
	ListIncomes(ctx context.Context, userID string, year, month int) ([]core.Income, error)
	Categories(ctx context.Context, userID string) ([]core.Tag, error)
	Labels(ctx context.Context, userID string) ([]core.Tag, error)
	Balance(ctx context.Context, userID string) (core.Money, error)
	Profile(ctx context.Context, userID string) (identity.Profile, error)
}

// ReadinessCheck probes one dependency; nil means healthy.
type ReadinessCheck func(ctx context.Context) error

// StatsSource reports counters of one cache for /metrics.
type StatsSource interface {
	Stats() cache.Stats
}

type Options struct {
	AllowedOrigins  []string
	RateLimitPerMin int
	ReadyChecks     map[string]ReadinessCheck
	Caches          map[string]StatsSource
	// TrustedProxies are CIDRs whose forwarded headers name the real client.
	TrustedProxies []string
}

// appMetrics holds application-specific counters
type appMetrics struct {
	uptime            time.Time
	transactionsAdded int64
	incomesAdded      int64
	entriesDeleted    int64
	failedRequests    int64
}

type Server struct {
	http.Server
	ledger Ledger
	opts   Options

	securityDetector *security.Detector
	rateLimiter      *ratelimit.Limiter
	traceMiddleware  *trace.Middleware
	appMetrics       *appMetrics

	shutdownOnce sync.Once
}

// NewServer wires routes and middleware around ledger and returns a
// ready-to-run server.
func NewServer(addr string, ledger Ledger, opts Options) *Server {
	detector := security.NewDetector()
	for _, cidr := range opts.TrustedProxies {
		if err := detector.AddTrustedProxy(cidr); err != nil {
			slog.Warn("Ignoring trusted proxy", log.FieldComponent, log.ComponentSecurity, log.FieldError, err)
		}
	}

	rlConfig := ratelimit.DefaultConfig()
	if opts.RateLimitPerMin > 0 {
		rlConfig.RequestsPerMinute = opts.RateLimitPerMin
	}

	s := &Server{
		ledger:           ledger,
		opts:             opts,
		securityDetector: detector,
		rateLimiter:      ratelimit.NewLimiter(rlConfig),
		traceMiddleware:  trace.NewMiddleware(detector.ExtractClientIP),
		appMetrics:       &appMetrics{uptime: time.Now()},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	const base = "/api/v1/users/{userId}"
	mux.HandleFunc("GET "+base+"/months/{year}/{month}", s.handleSnapshot)
	mux.HandleFunc("GET "+base+"/months/{year}/{month}/transactions", s.handleListTransactions)
	mux.HandleFunc("GET "+base+"/months/{year}/{month}/incomes", s.handleListIncomes)
	mux.HandleFunc("POST "+base+"/transactions", s.handleCreateTransaction)
	mux.HandleFunc("DELETE "+base+"/transactions/{transactionId}", s.handleDeleteTransaction)
	mux.HandleFunc("POST "+base+"/incomes", s.handleCreateIncome)
	mux.HandleFunc("DELETE "+base+"/incomes/{incomeId}", s.handleDeleteIncome)
	mux.HandleFunc("GET "+base+"/categories", s.handleListCategories)
	mux.HandleFunc("POST "+base+"/categories", s.handleCreateCategory)
	mux.HandleFunc("DELETE "+base+"/categories/{categoryId}", s.handleDeleteCategory)
	mux.HandleFunc("GET "+base+"/labels", s.handleListLabels)
	mux.HandleFunc("POST "+base+"/labels", s.handleCreateLabel)
	mux.HandleFunc("DELETE "+base+"/labels/{labelId}", s.handleDeleteLabel)
	mux.HandleFunc("GET "+base+"/balance", s.handleBalance)
	mux.HandleFunc("GET "+base+"/profile", s.handleProfile)

	// Outermost first: trace sees every response, including rejections.
	var h http.Handler = mux
	h = s.rateLimiter.Middleware(detector.ExtractClientIP, s.writeRateLimited)(h)
	h = withCORS(opts.AllowedOrigins)(h)
	h = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(h)
	h = detector.Middleware(h)
	h = s.traceMiddleware.Middleware(h)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) writeRateLimited(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded, try again later"})
}

// Shutdown stops background routines and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func (s *Server) countFailure() {
	atomic.AddInt64(&s.appMetrics.failedRequests, 1)
}
