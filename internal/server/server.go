// Package server wires configuration, storage, the payment gateways,
// and the HTTP surface into a runnable service.
package server

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/workbridge/paycore/internal/alerts"
	"github.com/workbridge/paycore/internal/assignments"
	"github.com/workbridge/paycore/internal/config"
	"github.com/workbridge/paycore/internal/escrow"
	"github.com/workbridge/paycore/internal/gateway"
	"github.com/workbridge/paycore/internal/health"
	"github.com/workbridge/paycore/internal/idgen"
	"github.com/workbridge/paycore/internal/ledger"
	"github.com/workbridge/paycore/internal/logging"
	"github.com/workbridge/paycore/internal/metrics"
	"github.com/workbridge/paycore/internal/payments"
	"github.com/workbridge/paycore/internal/ratelimit"
	"github.com/workbridge/paycore/internal/realtime"
	"github.com/workbridge/paycore/internal/reconciliation"
	"github.com/workbridge/paycore/internal/security"
	"github.com/workbridge/paycore/internal/traces"
	"github.com/workbridge/paycore/internal/validation"
	"github.com/workbridge/paycore/internal/webhooks"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies.
type Server struct {
	cfg          *config.Config
	db           *sql.DB // nil if using in-memory stores
	ledger       *ledger.Ledger
	escrows      *escrow.Service
	gateways     *gateway.Registry
	orchestrator payments.PaymentService
	assignments  assignments.Reader
	alertQueue   *alerts.Queue
	ingestor     *webhooks.Ingestor
	reconciler   *reconciliation.Service
	reconTimer   *reconciliation.Timer
	releaseTimer *payments.Timer
	realtimeHub  *realtime.Hub
	rateLimiter  *ratelimit.Limiter
	healthReg    *health.Registry
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	traceStop    func(context.Context) error
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithAssignments injects an assignment reader (for testing, or for a
// deployment where assignments come from a service client rather than
// the default in-memory reader).
func WithAssignments(r assignments.Reader) Option {
	return func(s *Server) {
		s.assignments = r
	}
}

// New creates a new server instance.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
	}

	// Apply options first (may set logger/assignments)
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	if cfg.OTLPEndpoint != "" {
		stop, err := traces.Init(ctx, cfg.OTLPEndpoint, s.logger)
		if err != nil {
			s.logger.Warn("failed to initialize tracing, continuing without", "error", err)
		} else {
			s.traceStop = stop
			s.logger.Info("tracing enabled", "endpoint", cfg.OTLPEndpoint)
		}
	}

	// Storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		escrowStore  escrow.Store
		ledgerStore  ledger.Store
		paymentStore payments.Store
		webhookStore webhooks.Store
		alertStore   alerts.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		escrowStore = escrow.NewPostgresStore(db)
		ledgerStore = ledger.NewPostgresStore(db)
		paymentStore = payments.NewPostgresStore(db)
		webhookStore = webhooks.NewPostgresStore(db)
		alertStore = alerts.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		ledgerStore = ledger.NewMemoryStore()
		escrowStore = escrow.NewMemoryStore(ledgerStore)
		paymentStore = payments.NewMemoryStore()
		webhookStore = webhooks.NewMemoryStore()
		alertStore = alerts.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	s.ledger = ledger.New(ledgerStore)
	s.escrows = escrow.NewService(escrowStore, s.ledger)

	s.alertQueue = alerts.NewQueue(alertStore, s.logger, cfg.AlertNotifyURL, cfg.AlertNotifySecret)

	if s.assignments == nil {
		if cfg.AssignmentsURL != "" {
			s.assignments = assignments.NewHTTPReader(cfg.AssignmentsURL, cfg.AssignmentsToken)
		} else {
			s.assignments = assignments.NewMemoryReader()
		}
	}

	gw, err := buildGateways(cfg)
	if err != nil {
		return nil, err
	}
	s.gateways = gw
	s.logger.Info("payment gateways configured", "providers", providerNames(gw.Configured()))

	// Realtime hub feeds the ops dashboard; the orchestrator publishes
	// payment updates into it.
	s.realtimeHub = realtime.NewHub(s.logger)

	limits := make(map[string]payments.AmountLimits)
	for _, p := range gw.Configured() {
		limits[string(p)] = payments.AmountLimits{Min: cfg.MinPaymentMinor, Max: cfg.MaxPaymentMinor}
	}
	s.orchestrator = payments.NewOrchestrator(payments.Config{
		Store:       paymentStore,
		Escrows:     s.escrows,
		Gateways:    s.gateways,
		Assignments: s.assignments,
		Alerts:      s.alertQueue,
		Limits:      limits,
		FeeBps:      cfg.FeeBps,
		Notifier:    s.realtimeHub,
		Logger:      s.logger,
	})

	s.ingestor = webhooks.NewIngestor(webhookStore, s.gateways, s.orchestrator, s.alertQueue, s.logger)

	s.reconciler = reconciliation.NewService(escrowStore, s.ledger, s.alertQueue, s.logger)
	s.reconTimer = reconciliation.NewTimer(s.reconciler, s.logger)

	s.releaseTimer = payments.NewTimer(s.orchestrator, paymentStore, s.assignments, s.escrows, s.logger)
	if cfg.ReleaseInterval > 0 {
		s.releaseTimer.SetInterval(time.Duration(cfg.ReleaseInterval) * time.Second)
	}
	s.releaseTimer.SetBatchSize(cfg.ReleaseBatchSize)

	s.setupHealthChecks()

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes(webhookStore)

	s.healthy.Store(true)

	return s, nil
}

// buildGateways registers an adapter per configured provider. The
// internal wallet rail is always on; card rails come up only with
// credentials so a dev box without Stripe keys still boots.
func buildGateways(cfg *config.Config) (*gateway.Registry, error) {
	adapters := []gateway.Adapter{
		gateway.NewWalletAdapter(gateway.NewMemoryCreditLedger(), cfg.WalletSecret),
	}
	if cfg.Stripe.Configured() {
		adapters = append(adapters, gateway.NewStripeAdapter(cfg.Stripe.APIKey, cfg.Stripe.WebhookSecret))
	}
	if cfg.Adyen.Configured() {
		adapters = append(adapters, gateway.NewAdyenAdapter(cfg.Adyen.BaseURL, cfg.Adyen.APIKey, cfg.Adyen.WebhookSecret))
	}
	if cfg.PayPal.Configured() {
		adapters = append(adapters, gateway.NewPayPalAdapter(cfg.PayPal.BaseURL, cfg.PayPal.APIKey, cfg.PayPal.WebhookSecret))
	}
	if cfg.Paystack.Configured() {
		adapters = append(adapters, gateway.NewPaystackAdapter(cfg.Paystack.BaseURL, cfg.Paystack.APIKey))
	}
	if cfg.Razorpay.Configured() {
		adapters = append(adapters, gateway.NewRazorpayAdapter(cfg.Razorpay.BaseURL, cfg.Razorpay.APIKey, cfg.Razorpay.WebhookSecret))
	}
	if cfg.USDCRPCURL != "" {
		usdc, err := gateway.NewUSDCAdapter(cfg.USDCRPCURL, cfg.USDCPrivateKey, cfg.USDCContract, cfg.USDCWatcherSecret)
		if err != nil {
			return nil, fmt.Errorf("failed to create usdc adapter: %w", err)
		}
		adapters = append(adapters, usdc)
	}
	return gateway.NewRegistry(adapters...), nil
}

func providerNames(ps []gateway.Provider) []string {
	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = string(p)
	}
	return names
}

func (s *Server) setupHealthChecks() {
	s.healthReg = health.NewRegistry()

	if s.db != nil {
		db := s.db
		s.healthReg.Register("database", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	}

	s.healthReg.Register("gateways", func(_ context.Context) health.Status {
		n := len(s.gateways.Configured())
		if n == 0 {
			return health.Status{Name: "gateways", Healthy: false, Detail: "no providers configured"}
		}
		return health.Status{Name: "gateways", Healthy: true, Detail: fmt.Sprintf("%d providers", n)}
	})

	s.healthReg.Register("ledger", func(ctx context.Context) health.Status {
		// A readable ledger is the one thing payments cannot run without.
		if _, err := s.ledger.Balance(ctx, "healthcheck"); err != nil {
			return health.Status{Name: "ledger", Healthy: false, Detail: err.Error()}
		}
		return health.Status{Name: "ledger", Healthy: true}
	})
}

// maskDSN hides password in connection string for logging.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS for the ops dashboard
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	rlCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPS > 0 {
		rlCfg.RequestsPerMinute = s.cfg.RateLimitRPS * 60
		rlCfg.BurstSize = s.cfg.RateLimitRPS * 2
	}
	s.rateLimiter = ratelimit.New(rlCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// adminAuth gates operator endpoints on the admin secret, accepted as
// either a Bearer token or the X-Admin-Secret header. With no secret
// configured (local development) the gate is open.
func (s *Server) adminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AdminSecret == "" {
			c.Next()
			return
		}
		provided := c.GetHeader("X-Admin-Secret")
		if provided == "" {
			auth := c.GetHeader("Authorization")
			provided = strings.TrimPrefix(auth, "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(s.cfg.AdminSecret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Admin credentials required",
			})
			return
		}
		c.Next()
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes(webhookStore webhooks.Store) {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for the real-time payment feed
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")
	// Validate :id URL params on all v1 routes (no-op when param absent)
	v1.Use(validation.IDParamMiddleware("id"))

	paymentHandler := payments.NewHandler(s.orchestrator, s.escrows)
	paymentHandler.RegisterRoutes(v1)

	ledgerHandler := ledger.NewHandler(s.ledger)
	ledgerHandler.RegisterRoutes(v1)

	webhookHandler := webhooks.NewHandler(s.ingestor, webhookStore)
	webhookHandler.RegisterRoutes(v1)

	// Operator surface: dispute resolution, alert management, and the
	// on-demand reconciliation sweep.
	admin := v1.Group("")
	admin.Use(s.adminAuth())
	paymentHandler.RegisterAdminRoutes(admin)

	alertHandler := alerts.NewHandler(s.alertQueue)
	alertHandler.RegisterRoutes(admin)

	admin.POST("/reconciliation/run", s.runReconciliation)
}

// runReconciliation handles POST /v1/reconciliation/run.
func (s *Server) runReconciliation(c *gin.Context) {
	res, err := s.reconciler.Run(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "reconciliation_failed",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"checkedAt": res.CheckedAt,
		"checked":   res.Checked,
		"clean":     res.Clean(),
		"drifts":    res.Drifts,
		"stuck":     res.Stuck,
	})
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.healthReg.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"version":   "0.1.0",
		"checks":    statuses,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "paycore",
		"description": "Escrow and payment orchestration for shift work",
		"version":     "0.1.0",
		"currency":    s.cfg.DefaultCurrency,
		"providers":   providerNames(s.gateways.Configured()),
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	// Cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Sample connection pool stats into Prometheus
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Start the scheduled release batch
	go s.releaseTimer.Start(runCtx)

	// Start the reconciliation sweep
	go s.reconTimer.Start(runCtx)

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, timers)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	if s.releaseTimer != nil {
		s.releaseTimer.Stop()
		s.logger.Info("release timer stopped")
	}

	if s.reconTimer != nil {
		s.reconTimer.Stop()
		s.logger.Info("reconciliation timer stopped")
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	if s.traceStop != nil {
		if err := s.traceStop(ctx); err != nil {
			s.logger.Error("tracer shutdown error", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	return idgen.WithPrefix("req_")
}
