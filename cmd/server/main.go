package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/staryer/backend/internal/application/billingsync"
	appmetering "github.com/staryer/backend/internal/application/metering"
	apppricing "github.com/staryer/backend/internal/application/pricing"
	apptiers "github.com/staryer/backend/internal/application/tiers"
	"github.com/staryer/backend/internal/infrastructure/billing"
	"github.com/staryer/backend/internal/infrastructure/cache"
	"github.com/staryer/backend/internal/infrastructure/config"
	"github.com/staryer/backend/internal/infrastructure/logger"
	"github.com/staryer/backend/internal/infrastructure/persistence"
	"github.com/staryer/backend/internal/infrastructure/scheduler"
	"github.com/staryer/backend/internal/interfaces/http/handler"
	"github.com/staryer/backend/internal/interfaces/http/middleware"
	"github.com/staryer/backend/internal/interfaces/http/router"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting Staryer backend",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	// Create GORM logger backed by zap
	gormLogLevel := logger.MapGormLogLevel(cfg.Log.Level)
	gormLog := logger.NewGormLogger(log, gormLogLevel)

	// Initialize database connection with custom logger
	db, err := persistence.NewDatabaseWithCustomLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	// Redis-backed cache for hot usage aggregates
	redisClient, err := cache.NewRedisClient(&cfg.Redis)
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			log.Error("Error closing Redis client", zap.Error(err))
		}
	}()
	aggCache := cache.NewRedisAggregateCache(redisClient, cfg.Redis.CacheTTL, log)
	log.Info("Redis connected successfully", zap.String("addr", cfg.Redis.RedisAddr()))

	// Billing provider adapter. Without credentials the server falls back
	// to a log-only reporter so development environments can run the full
	// sync pipeline against nothing.
	var reporter billingsync.MeterEventReporter
	if cfg.Stripe.SecretKey != "" {
		stripeReporter, err := billing.NewStripeReporter(&cfg.Stripe, log)
		if err != nil {
			log.Fatal("Failed to initialize Stripe reporter", zap.Error(err))
		}
		reporter = stripeReporter
		log.Info("Stripe reporter initialized", zap.Bool("connect_enabled", cfg.Stripe.ConnectEnabled))
	} else {
		reporter = billing.NewLogReporter(log)
		log.Warn("No Stripe secret key configured, billing sync will only log meter events")
	}

	// Initialize repositories
	meterRepo := persistence.NewMeterRepository(db.DB)
	limitRepo := persistence.NewPlanLimitRepository(db.DB)
	eventRepo := persistence.NewUsageEventRepository(db.DB)
	aggRepo := persistence.NewUsageAggregateRepository(db.DB)
	alertRepo := persistence.NewAlertRepository(db.DB)
	tierRepo := persistence.NewTierRepository(db.DB)
	assignmentRepo := persistence.NewAssignmentRepository(db.DB)
	overageRepo := persistence.NewOverageRepository(db.DB)
	changeRepo := persistence.NewPricingChangeRepository(db.DB)

	// Initialize application services
	meterService := appmetering.NewMeterService(meterRepo, limitRepo, log)
	aggregationService := appmetering.NewAggregationService(meterRepo, eventRepo, aggRepo, aggCache, log)
	enforcementService := appmetering.NewEnforcementService(meterRepo, limitRepo, alertRepo, assignmentRepo, aggregationService, log)
	trackingService := appmetering.NewTrackingService(meterRepo, eventRepo, aggregationService, enforcementService, log)
	tierService := apptiers.NewTierService(tierRepo, assignmentRepo, log)
	analyzerService := apppricing.NewAnalyzerService(changeRepo, tierRepo, assignmentRepo, impactPolicy(cfg.Pricing), log)
	syncService := billingsync.NewSyncService(meterRepo, eventRepo, aggRepo, limitRepo, assignmentRepo, overageRepo, reporter, log)

	// Background aggregation rebuild and billing sync across all tenants
	tenantSource := persistence.NewTenantSource(db.DB)
	usageScheduler := scheduler.NewUsageSyncScheduler(tenantSource, aggregationService, syncService, cfg.Scheduler, log)
	if err := usageScheduler.Start(context.Background()); err != nil {
		log.Fatal("Failed to start usage sync scheduler", zap.Error(err))
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Scheduler.ShutdownTimeout)
		defer cancel()
		if err := usageScheduler.Stop(stopCtx); err != nil {
			log.Error("Error stopping usage sync scheduler", zap.Error(err))
		}
	}()

	// Set Gin mode based on environment
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	// Configure trusted proxies
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	// Middleware stack: request ID first so recovery and logging can tag
	// entries, then CORS, then tenant resolution for API routes.
	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))

	corsConfig := middleware.DefaultCORSConfig()
	corsConfig.AllowOrigins = cfg.HTTP.CORSAllowOrigins
	if len(cfg.HTTP.CORSAllowMethods) > 0 {
		corsConfig.AllowMethods = cfg.HTTP.CORSAllowMethods
	}
	if len(cfg.HTTP.CORSAllowHeaders) > 0 {
		corsConfig.AllowHeaders = cfg.HTTP.CORSAllowHeaders
	}
	engine.Use(middleware.CORSWithConfig(corsConfig))
	engine.Use(middleware.TenantContext())

	// Register API routes
	r := router.NewRouter(engine,
		router.WithAPIVersion("v1"),
		router.WithHealthCheck(healthHandler(db)),
	)
	r.Register(
		handler.NewMeterHandler(meterService),
		handler.NewUsageHandler(trackingService, enforcementService),
		handler.NewTierHandler(tierService),
		handler.NewBillingHandler(syncService),
		handler.NewPricingHandler(analyzerService),
	)
	r.Setup()

	// Create HTTP server with config
	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Scheduler.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// impactPolicy maps the pricing config section onto the analyzer policy
func impactPolicy(cfg config.PricingConfig) apppricing.ImpactPolicy {
	return apppricing.ImpactPolicy{
		GrandfatherMonths:   cfg.GrandfatherMonths,
		ChurnRate:           cfg.ChurnRate,
		AutoMigratePct:      cfg.AutoMigratePct,
		RenewalMigratePct:   cfg.RenewalMigratePct,
		RequiresApprovalPct: cfg.RequiresApprovalPct,
		AtRiskPct:           cfg.AtRiskPct,
	}
}

// healthHandler reports liveness of the server and its database
func healthHandler(db *persistence.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqLog := logger.GetGinLogger(c)
		if err := db.Ping(); err != nil {
			reqLog.Warn("Health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"time":     time.Now().Format(time.RFC3339),
				"database": "error",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "healthy",
			"time":     time.Now().Format(time.RFC3339),
			"database": "ok",
		})
	}
}
