// Command run-job runs one maintenance job immediately, outside the cron
// schedule. It takes the same sweep lock as the server, so it is safe to run
// next to live replicas.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/mariiahub/booking-reconciliation/internal/config"
	"github.com/mariiahub/booking-reconciliation/internal/database"
	"github.com/mariiahub/booking-reconciliation/internal/services"
	"github.com/mariiahub/booking-reconciliation/pkg/payment"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	var (
		job     string
		timeout time.Duration
	)
	flag.StringVar(&job, "job", "", fmt.Sprintf("job to run: %s, %s or %s",
		services.JobExpireHolds, services.JobSweepStalePayments, services.JobBackfillPackageGrant))
	flag.DurationVar(&timeout, "timeout", 5*time.Minute, "overall timeout")
	flag.Parse()

	if job == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	catalogRepo := database.NewCatalogRepository(db.DB)
	auditRecorder := services.NewAuditRecorder(database.NewPaymentAuditRepository(db.DB), logger)

	holdService := services.NewHoldService(database.NewHoldRepository(db.DB), catalogRepo, services.HoldServiceConfig{
		DefaultTTL:   cfg.Hold.DefaultTTL,
		MaxTTL:       cfg.Hold.MaxTTL,
		CutoffWindow: cfg.Hold.CutoffWindow,
		ExpiryBatch:  cfg.Hold.ExpiryBatch,
	}, logger)
	ledger := services.NewBookingLedger(database.NewBookingRepository(db.DB), catalogRepo, logger)
	orchestrator := services.NewPaymentOrchestrator(
		ledger,
		holdService,
		payment.NewClient(payment.Config{
			BaseURL:          cfg.Payment.BaseURL,
			SecretKey:        cfg.Payment.SecretKey,
			Timeout:          cfg.Payment.Timeout,
			BreakerThreshold: cfg.Payment.BreakerThreshold,
		}, logger),
		auditRecorder,
		services.PaymentOrchestratorConfig{SuccessURL: cfg.Payment.SuccessURL, CancelURL: cfg.Payment.CancelURL},
		logger,
	)
	// Events raised by a manual run are only logged
	reconciler := services.NewReconciliationService(
		ledger,
		holdService,
		orchestrator,
		catalogRepo,
		database.NewPackageGrantRepository(db.DB),
		services.NewLogDispatcher(logger),
		auditRecorder,
		services.ReconciliationConfig{
			FailureWindow:  cfg.Reconciliation.FailureWindow,
			StaleThreshold: cfg.Reconciliation.StaleThreshold,
			SweepBatch:     cfg.Reconciliation.SweepBatch,
		},
		logger,
	)

	var lock services.SweepLock = services.NoopSweepLock{}
	if cfg.RedisEnabled() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		lock = services.NewRedisSweepLock(client)
	}

	scheduler := services.NewSweepScheduler(holdService, reconciler, lock, services.SweepSchedulerConfig{
		LockTTL: timeout,
	}, logger)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	ran, err := scheduler.RunOnce(ctx, job)
	if err != nil {
		log.Fatalf("Job %s failed: %v", job, err)
	}
	if !ran {
		fmt.Printf("Job %s is running on another replica; nothing done\n", job)
		return
	}
	fmt.Printf("Job %s finished in %s\n", job, time.Since(start).Round(time.Millisecond))
}
