package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mariiahub/booking-reconciliation/internal/config"
	"github.com/mariiahub/booking-reconciliation/internal/database"
	"github.com/mariiahub/booking-reconciliation/internal/handlers"
	"github.com/mariiahub/booking-reconciliation/internal/middleware"
	"github.com/mariiahub/booking-reconciliation/internal/services"
	"github.com/mariiahub/booking-reconciliation/pkg/jwt"
	"github.com/mariiahub/booking-reconciliation/pkg/mq"
	"github.com/mariiahub/booking-reconciliation/pkg/payment"
	"github.com/mariiahub/booking-reconciliation/pkg/sms"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting MariiaHub booking service")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Set log level
	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Set Gin mode
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize database connection
	logger.Info("Connecting to database...")
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Database connection established")

	// Repositories
	holdRepo := database.NewHoldRepository(db.DB)
	bookingRepo := database.NewBookingRepository(db.DB)
	catalogRepo := database.NewCatalogRepository(db.DB)
	grantRepo := database.NewPackageGrantRepository(db.DB)
	auditRepo := database.NewPaymentAuditRepository(db.DB)

	// Payment provider
	paymentClient := payment.NewClient(payment.Config{
		BaseURL:          cfg.Payment.BaseURL,
		SecretKey:        cfg.Payment.SecretKey,
		WebhookSecret:    cfg.Payment.WebhookSecret,
		Timeout:          cfg.Payment.Timeout,
		WebhookTolerance: cfg.Payment.WebhookTolerance,
		BreakerThreshold: cfg.Payment.BreakerThreshold,
	}, logger)

	// Notification channels
	dispatcher, closeDispatchers := buildDispatcher(cfg, logger)
	defer closeDispatchers()

	// Initialize services
	logger.Info("Initializing services...")
	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessTokenExpiry)
	auditRecorder := services.NewAuditRecorder(auditRepo, logger)

	holdService := services.NewHoldService(holdRepo, catalogRepo, services.HoldServiceConfig{
		DefaultTTL:   cfg.Hold.DefaultTTL,
		MaxTTL:       cfg.Hold.MaxTTL,
		CutoffWindow: cfg.Hold.CutoffWindow,
		ExpiryBatch:  cfg.Hold.ExpiryBatch,
	}, logger)
	ledger := services.NewBookingLedger(bookingRepo, catalogRepo, logger)
	orchestrator := services.NewPaymentOrchestrator(
		ledger,
		holdService,
		paymentClient,
		auditRecorder,
		services.PaymentOrchestratorConfig{
			SuccessURL: cfg.Payment.SuccessURL,
			CancelURL:  cfg.Payment.CancelURL,
		},
		logger,
	)
	reconciler := services.NewReconciliationService(
		ledger,
		holdService,
		orchestrator,
		catalogRepo,
		grantRepo,
		dispatcher,
		auditRecorder,
		services.ReconciliationConfig{
			FailureWindow:  cfg.Reconciliation.FailureWindow,
			StaleThreshold: cfg.Reconciliation.StaleThreshold,
			SweepBatch:     cfg.Reconciliation.SweepBatch,
		},
		logger,
	)

	// Sweep lock: Redis when configured, otherwise every replica sweeps
	var sweepLock services.SweepLock = services.NoopSweepLock{}
	if cfg.RedisEnabled() {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.WithError(err).Warn("Redis unreachable at startup; sweeps will be skipped until it recovers")
		}
		cancel()

		sweepLock = services.NewRedisSweepLock(redisClient)
		logger.WithField("addr", cfg.Redis.Addr).Info("Sweep lock backed by Redis")
	} else {
		logger.Warn("REDIS_ADDR not set; sweep jobs run without a cross-replica lock")
	}

	scheduler := services.NewSweepScheduler(holdService, reconciler, sweepLock, services.SweepSchedulerConfig{
		HoldExpirySchedule:    cfg.Hold.ExpirySchedule,
		StalePaymentSchedule:  cfg.Reconciliation.SweepSchedule,
		GrantBackfillSchedule: cfg.Reconciliation.GrantBackfillSchedule,
		LockTTL:               cfg.Redis.LockTTL,
	}, logger)
	if err := scheduler.Start(); err != nil {
		logger.Fatalf("Failed to start sweep scheduler: %v", err)
	}
	logger.Info("✓ Sweep scheduler started")

	// Initialize handlers
	holdHandler := handlers.NewHoldHandler(holdService, logger)
	bookingHandler := handlers.NewBookingHandler(orchestrator, ledger, reconciler, logger)
	webhookHandler := handlers.NewWebhookHandler(paymentClient, reconciler, auditRecorder, logger)
	healthHandler := handlers.NewHealthHandler(db, scheduler, logger)

	// Initialize Gin router
	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	if cfg.Server.EnableRequestLog {
		router.Use(middleware.RequestLogger(logger))
	}

	// CORS configuration
	router.Use(cors.New(cors.Config{
		AllowOrigins:  cfg.CORS.AllowedOrigins,
		AllowMethods:  cfg.CORS.AllowedMethods,
		AllowHeaders:  cfg.CORS.AllowedHeaders,
		ExposeHeaders: []string{"Content-Length", middleware.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}))

	router.GET("/health", healthHandler.Health)
	router.NoRoute(handlers.NoRoute)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		v1.POST("/holds", middleware.OptionalAuthMiddleware(jwtService), holdHandler.CreateHold)

		bookings := v1.Group("/bookings")
		bookings.Use(middleware.AuthMiddleware(jwtService))
		{
			bookings.POST("/payment-sessions", bookingHandler.Checkout)
			bookings.POST("/payment-sessions/:sessionId/verify", bookingHandler.VerifyPayment)
			bookings.GET("/:id", bookingHandler.GetBooking)
			bookings.GET("/:id/package-grant", bookingHandler.GetPackageGrant)
			bookings.POST("/:id/cancel", bookingHandler.Cancel)
		}

		// Authenticated by the payload signature, not a JWT
		v1.POST("/webhooks/payment", webhookHandler.HandlePayment)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	logger.Info("Stopping sweep scheduler...")
	scheduler.Stop()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited successfully")
}

// buildDispatcher assembles the configured notification channels. The
// returned func closes any broker connection that was opened.
func buildDispatcher(cfg *config.Config, logger *logrus.Logger) (services.Dispatcher, func()) {
	var (
		dispatchers []services.Dispatcher
		closers     []func() error
	)

	if cfg.UsesChannel("log") {
		dispatchers = append(dispatchers, services.NewLogDispatcher(logger))
	}

	if cfg.UsesChannel("amqp") {
		publisher, err := mq.NewPublisher(cfg.Notification.AMQPURL, cfg.Notification.AMQPExchange)
		if err != nil {
			logger.Fatalf("Failed to connect to AMQP broker: %v", err)
		}
		closers = append(closers, publisher.Close)
		dispatchers = append(dispatchers, services.NewAMQPDispatcher(publisher))
		logger.WithField("exchange", cfg.Notification.AMQPExchange).Info("AMQP notifications enabled")
	}

	if cfg.UsesChannel("sms") {
		gateway := sms.NewHTTPGateway(sms.HTTPConfig{
			APIURL:   cfg.Notification.SMSAPIURL,
			APIKey:   cfg.Notification.SMSAPIKey,
			SenderID: cfg.Notification.SMSSenderID,
			Timeout:  10 * time.Second,
		})
		dispatchers = append(dispatchers, services.NewSMSDispatcher(gateway, logger))
		logger.Info("SMS notifications enabled")
	}

	closeAll := func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				logger.WithError(err).Warn("Failed to close notification channel")
			}
		}
	}

	if len(dispatchers) == 1 {
		return dispatchers[0], closeAll
	}
	return services.NewMultiDispatcher(dispatchers...), closeAll
}
