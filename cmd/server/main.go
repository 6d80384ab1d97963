package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	grpcapi "fulfillment-backend-trusted/internal/api/grpc"
	httpapi "fulfillment-backend-trusted/internal/api/http"
	"fulfillment-backend-trusted/internal/app"
	"fulfillment-backend-trusted/internal/config"
	"fulfillment-backend-trusted/internal/logger"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "config/config.dev.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger.Initialize(cfg.Log.Level, cfg.Log.Format)
	logger.Info("Starting fulfillment server...", "log_level", cfg.Log.Level, "log_format", cfg.Log.Format)
	logger.Info("Server configuration", "http", cfg.GetHTTPAddress(), "grpc", cfg.GetGRPCAddress())
	logger.Info("Fulfillment configuration",
		"dispatch", cfg.Fulfillment.Dispatch,
		"lock_wait", cfg.Fulfillment.LockWait(),
		"lock_ttl", cfg.Fulfillment.LockTTL())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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
	services.Start(ctx)
	defer services.Stop()

	// Set up HTTP server
	router := httpapi.NewRouter(httpapi.Dependencies{
		Payments:      services.Payments,
		Events:        services.Events,
		Refunds:       services.Refunds,
		Operator:      services.Operator,
		Audit:         services.Audit,
		Tokens:        services.Tokens,
		WebhookSecret: cfg.Gateway.WebhookSecret,
	})
	httpServer := &http.Server{
		Addr:              cfg.GetHTTPAddress(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Set up gRPC server
	reporter := grpcapi.NewHealthReporter(storage.Ping, 15*time.Second)
	grpcServer := grpcapi.NewServer(services.Tokens, reporter)
	lis, err := net.Listen("tcp", cfg.GetGRPCAddress())
	if err != nil {
		logger.Error("Failed to listen", "error", err, "address", cfg.GetGRPCAddress())
		log.Fatalf("Failed to listen: %v", err)
	}

	go reporter.Run(ctx)

	go func() {
		logger.Info("gRPC server listening", "address", cfg.GetGRPCAddress())
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", "error", err)
			stop()
		}
	}()

	go func() {
		logger.Info("HTTP server listening", "address", cfg.GetHTTPAddress())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	// Graceful shutdown
	logger.Info("Shutting down servers...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", "error", err)
	}
	grpcServer.GracefulStop()
	logger.Info("Servers stopped")
}
