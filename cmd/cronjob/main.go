package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"fulfillment-backend-trusted/internal/app"
	"fulfillment-backend-trusted/internal/config"
	"fulfillment-backend-trusted/internal/jobs"
	"fulfillment-backend-trusted/internal/logger"
	"fulfillment-backend-trusted/internal/scheduler"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "config/config.dev.yaml", "Path to configuration file")
	runOnce := flag.String("run-once", "", "Run a specific job once and exit (e.g., 'recover-stale-sagas', 'all-audits', 'all')")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger.Initialize(cfg.Log.Level, cfg.Log.Format)
	logger.Info("Starting fulfillment cronjob runner...", "log_level", cfg.Log.Level)

	ctx := context.Background()

	// Initialize storage
	storage, err := app.OpenStorage(ctx, cfg)
	if err != nil {
		logger.Error("Failed to open storage", "error", err)
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer storage.Close()

	// Initialize services
	services, err := app.NewServices(cfg, storage.Repositories, app.NewAlerter(cfg.Alerts))
	if err != nil {
		logger.Error("Failed to initialize services", "error", err)
		log.Fatalf("Failed to initialize services: %v", err)
	}

	// Initialize job runner
	jobRunner := services.JobRunner(cfg)

	// Check if running a single job
	if *runOnce != "" {
		logger.Info("Running job once", "job", *runOnce)
		runJobOnce(jobRunner, *runOnce)
		logger.Info("Job execution completed", "job", *runOnce)
		return
	}

	// Initialize scheduler
	cronScheduler := scheduler.NewScheduler(jobRunner)

	cronScheduler.Start()
	logger.Info("Cronjob scheduler is running. Press Ctrl+C to stop.", "jobs", cronScheduler.JobCount())

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	// Graceful shutdown
	logger.Info("Shutting down cronjob scheduler...")
	cronScheduler.Stop()
	logger.Info("Cronjob scheduler stopped")
}

// runJobOnce runs a specific job once and exits
func runJobOnce(jobRunner *jobs.JobRunner, jobName string) {
	switch jobName {
	case "recover-stale-sagas":
		jobRunner.RecoverStaleSagas()
	case "audit-wallet-ledgers":
		jobRunner.AuditWalletLedgers()
	case "audit-platform-ledger":
		jobRunner.AuditPlatformLedger()
	case "cleanup-leases":
		jobRunner.CleanupExpiredLeases()
	case "all-audits":
		jobRunner.RunAllAudits()
	case "all":
		jobRunner.RunAll()
	default:
		logger.Error("Unknown job name", "job", jobName)
		fmt.Printf("Available jobs:\n")
		fmt.Printf("  - recover-stale-sagas\n")
		fmt.Printf("  - audit-wallet-ledgers\n")
		fmt.Printf("  - audit-platform-ledger\n")
		fmt.Printf("  - cleanup-leases\n")
		fmt.Printf("  - all-audits\n")
		fmt.Printf("  - all\n")
		os.Exit(1)
	}
}
