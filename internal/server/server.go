// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mbd888/gangboard/internal/auth"
	"github.com/mbd888/gangboard/internal/billing"
	"github.com/mbd888/gangboard/internal/config"
	"github.com/mbd888/gangboard/internal/entitlement"
	"github.com/mbd888/gangboard/internal/featureflag"
	"github.com/mbd888/gangboard/internal/health"
	"github.com/mbd888/gangboard/internal/idgen"
	"github.com/mbd888/gangboard/internal/license"
	"github.com/mbd888/gangboard/internal/logging"
	"github.com/mbd888/gangboard/internal/member"
	"github.com/mbd888/gangboard/internal/metrics"
	"github.com/mbd888/gangboard/internal/permission"
	"github.com/mbd888/gangboard/internal/ratelimit"
	"github.com/mbd888/gangboard/internal/realtime"
	"github.com/mbd888/gangboard/internal/security"
	"github.com/mbd888/gangboard/internal/tenant"
	"github.com/mbd888/gangboard/internal/validation"
	"github.com/mbd888/gangboard/internal/webhooks"
	"github.com/mbd888/gangboard/migrations"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg *config.Config
	db  *sql.DB // nil if using in-memory

	tenants      tenant.Store
	members      member.Store
	flags        featureflag.Store
	flagCache    *featureflag.CachedStore
	licenseStore license.Store
	webhookStore webhooks.Store

	resolver    *permission.Resolver
	roles       *permission.RoleChanger
	gate        *entitlement.Gate
	licenses    *license.Service
	sweeper     *license.Sweeper
	sweepTimer  *license.Timer
	billing     *billing.Service
	dispatcher  *webhooks.Dispatcher
	realtimeHub *realtime.Hub
	events      *subscriptionEvents
	rateLimiter *ratelimit.Limiter
	health      *health.Registry

	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run
	startedAt    time.Time
	drainDelay   time.Duration

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithDB injects an open database instead of dialing DATABASE_URL.
func WithDB(db *sql.DB) Option {
	return func(s *Server) {
		s.db = db
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		startedAt:  time.Now(),
		drainDelay: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	if s.db == nil && cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	}

	if s.db != nil {
		if err := migrations.Up(ctx, s.db, s.logger); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		s.tenants = tenant.NewPostgresStore(s.db)
		s.members = member.NewPostgresStore(s.db)
		s.flags = featureflag.NewPostgresStore(s.db)
		s.licenseStore = license.NewPostgresStore(s.db)
		s.webhookStore = webhooks.NewPostgresStore(s.db)
	} else {
		s.tenants = tenant.NewMemoryStore()
		s.members = member.NewMemoryStore()
		s.flags = featureflag.NewMemoryStore()
		s.licenseStore = license.NewMemoryStore()
		s.webhookStore = webhooks.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	if cfg.FlagCacheTTL > 0 {
		cached, err := featureflag.NewCachedStore(s.flags, cfg.FlagCacheTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to create flag cache: %w", err)
		}
		s.flagCache = cached
		s.flags = cached
	}

	s.realtimeHub = realtime.NewHub(s.logger, realtime.WithAllowedOrigins(cfg.CORSOrigins))

	s.gate = entitlement.NewGate(s.flags, s.tenants, s.logger)
	s.resolver = permission.NewResolver(s.tenants, s.members, s.logger)
	s.roles = permission.NewRoleChanger(s.members, s.gate)

	s.dispatcher = webhooks.NewDispatcher(s.webhookStore, s.gate, s.logger)
	s.events = &subscriptionEvents{
		hub:   s.realtimeHub,
		hooks: webhooks.NewEmitter(s.dispatcher),
	}

	s.licenses = license.NewService(s.licenseStore, s.tenants, s.logger).WithEvents(s.events)
	s.sweeper = license.NewSweeper(s.tenants, cfg.LicenseGracePeriod, s.logger).WithEvents(s.events)
	s.sweepTimer = license.NewTimer(s.sweeper, cfg.LicenseSweepDelay, cfg.LicenseSweepInterval, s.logger)
	s.billing = billing.NewService(billing.Config{
		WebhookSecret: cfg.StripeWebhookSecret,
		PricePro:      cfg.StripePricePro,
		PricePremium:  cfg.StripePricePremium,
	}, s.tenants, s.logger).WithEvents(s.events)

	s.rateLimiter = ratelimit.New(ratelimit.Config{
		Requests:          cfg.RateLimitRequests,
		FinancialRequests: cfg.RateLimitFinancialRequests,
		Window:            cfg.RateLimitWindow,
		MaxEntries:        cfg.RateLimitMaxEntries,
		FinancialPaths:    cfg.FinancialPaths,
	})

	s.health = health.NewRegistry(2 * time.Second)
	if s.db != nil {
		s.health.Register("database", health.DatabaseCheck(s.db), true)
	}
	// Two missed runs mean the sweep is stuck.
	s.health.Register("license_sweep", health.FreshnessCheck(
		s.sweeper.LastRun, s.startedAt, cfg.LicenseSweepDelay+2*cfg.LicenseSweepInterval, time.Now), false)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.AdminSecret == "" {
		s.logger.Warn("ADMIN_SECRET not set: any identified caller may use admin routes")
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
}

// maskDSN hides password in connection string for logging
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
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))
	s.router.Use(metrics.Middleware())
	s.router.Use(auth.Middleware(s.cfg.ServiceToken))
	s.router.Use(s.requestContextMiddleware())
	s.router.Use(s.loggingMiddleware())
}

// requestContextMiddleware attaches the request id, caller and gang to the
// request context so every log line below carries them.
func (s *Server) requestContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.Hex(16)
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		if caller := auth.CallerID(c); caller != "" {
			ctx = logging.WithCaller(ctx, caller)
		}
		if gangID := c.Param(permission.GangParam); gangID != "" {
			ctx = logging.WithGang(ctx, gangID)
		}
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
			logger.Debug("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())
	s.router.GET("/ws", gin.WrapF(s.realtimeHub.HandleWebSocket))

	// Every /v1 request is counted against the caller's budget first.
	v1 := s.router.Group("/v1", s.rateLimiter.Middleware())
	v1.GET("/tiers", s.tiersHandler)

	billing.NewHandler(s.cfg.StripeWebhookSecret, s.billing).RegisterRoutes(v1)

	gangs := v1.Group("", auth.RequireCaller())
	permission.NewHandler(s.resolver, s.roles).RegisterRoutes(gangs)
	entitlement.NewHandler(s.gate, s.tenants, s.cfg.LicenseGracePeriod).
		RegisterRoutes(gangs.Group("", permission.RequireMembership(s.resolver)))
	license.NewHandler(s.licenses, s.sweeper).
		RegisterGangRoutes(gangs, permission.RequireCapability(s.resolver, permission.CapOwner))
	webhooks.NewHandler(s.webhookStore, s.dispatcher).RegisterRoutes(gangs,
		permission.RequireCapability(s.resolver, permission.CapAdmin),
		entitlement.RequireFeature(s.gate, entitlement.FeatureWebhookNotify),
	)

	adminOnly := auth.RequireAdmin(s.cfg.AdminSecret)
	tenant.NewHandler(s.tenants, s.members).WithEvents(s.events).RegisterAdminRoutes(v1.Group("", adminOnly))

	admin := v1.Group("/admin", adminOnly)
	featureflag.NewHandler(s.flags).WithEvents(s.events).RegisterAdminRoutes(admin)
	license.NewHandler(s.licenses, s.sweeper).RegisterAdminRoutes(admin)
	admin.GET("/realtime/stats", s.realtimeStatsHandler)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	report := s.health.Run(ctx)
	httpStatus := http.StatusOK
	if report.State == health.StateUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    string(report.State),
		Version:   Version,
		Checks:    report.Checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
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

// tiersHandler lists the tier catalogue with the features each tier grants.
func (s *Server) tiersHandler(c *gin.Context) {
	type tierView struct {
		tenant.TierConfig
		Features []entitlement.Feature `json:"features"`
	}
	order := []tenant.Tier{tenant.TierFree, tenant.TierTrial, tenant.TierPro, tenant.TierPremium}
	out := make([]tierView, 0, len(order))
	for _, t := range order {
		cfg := tenant.ConfigFor(t)
		out = append(out, tierView{TierConfig: cfg, Features: entitlement.FeaturesFor(cfg)})
	}
	c.JSON(http.StatusOK, gin.H{"tiers": out})
}

func (s *Server) realtimeStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"realtime":        s.realtimeHub.Stats(),
		"rateLimitKeys":   s.rateLimiter.Len(),
		"lastExpirySweep": s.sweeper.LastRun(),
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
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
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)
	go s.sweepTimer.Start(runCtx)
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		cancel()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(s.drainDelay)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.sweepTimer.Stop()
	s.logger.Info("expiry sweep stopped")

	s.dispatcher.Wait()
	if s.flagCache != nil {
		s.flagCache.Close()
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

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
