// Package grpc exposes fulfillment readiness over the standard gRPC health
// protocol.
package grpc

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"fulfillment-backend-trusted/internal/api/grpc/interceptor"
	"fulfillment-backend-trusted/internal/logger"
	"fulfillment-backend-trusted/internal/security"
)

// ServiceName is the health service name reported alongside the overall ("") status.
const ServiceName = "fulfillment"

// Dependency reports whether fulfillment can currently make progress.
type Dependency func(ctx context.Context) error

// HealthReporter keeps the health server in step with a dependency check.
type HealthReporter struct {
	log      *slog.Logger
	server   *health.Server
	depend   Dependency
	interval time.Duration
	serving  bool
}

func NewHealthReporter(depend Dependency, interval time.Duration) *HealthReporter {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &HealthReporter{
		log:      logger.WithService(ServiceName),
		server:   health.NewServer(),
		depend:   depend,
		interval: interval,
	}
}

// Check runs the dependency check once and publishes the result.
func (h *HealthReporter) Check(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if err := h.depend(ctx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		if h.serving {
			h.log.WarnContext(ctx, "Health check failed", "error", err)
		}
		h.serving = false
	} else {
		if !h.serving {
			h.log.InfoContext(ctx, "Serving")
		}
		h.serving = true
	}
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(ServiceName, status)
}

// Run checks until ctx is done, then reports NOT_SERVING for good.
func (h *HealthReporter) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			h.server.Shutdown()
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, h.interval)
			h.Check(checkCtx)
			cancel()
		}
	}
}

// NewServer builds the gRPC server with the health and reflection services.
func NewServer(tokens security.TokenManager, reporter *HealthReporter) *grpc.Server {
	auth := interceptor.NewAuthInterceptor(tokens)
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(interceptor.Logging(), auth.Unary()),
		grpc.ChainStreamInterceptor(auth.Stream()),
	)
	healthpb.RegisterHealthServer(s, reporter.server)

	// Register reflection service for grpcurl
	reflection.Register(s)
	return s
}
