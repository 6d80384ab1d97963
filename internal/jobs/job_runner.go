package jobs

import (
	"fulfillment-backend-trusted/internal/config"
	"fulfillment-backend-trusted/internal/logger"
	"fulfillment-backend-trusted/internal/repository"
	"fulfillment-backend-trusted/internal/service"
)

// JobRunner coordinates all scheduled jobs
type JobRunner struct {
	leases   repository.LeaseRepository
	services *Services
	config   *config.Config
}

// Services holds all service dependencies needed by jobs
type Services struct {
	Saga  service.AllocationSaga
	Audit service.AuditService
}

// NewJobRunner creates a new job runner with all dependencies
func NewJobRunner(leases repository.LeaseRepository, services *Services, cfg *config.Config) *JobRunner {
	return &JobRunner{
		leases:   leases,
		services: services,
		config:   cfg,
	}
}

func (jr *JobRunner) Config() *config.Config {
	return jr.config
}

// runWithRecovery wraps job execution with panic recovery
func (jr *JobRunner) runWithRecovery(jobName string, jobFunc func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Job panicked", "job", jobName, "panic", r)
		}
	}()

	logger.Info("Starting job", "job", jobName)
	jobFunc()
	logger.Info("Job completed", "job", jobName)
}

// RunAllAudits runs both ledger auditors (for manual execution)
func (jr *JobRunner) RunAllAudits() {
	jr.AuditWalletLedgers()
	jr.AuditPlatformLedger()
}

// RunAll runs every job once
func (jr *JobRunner) RunAll() {
	jr.RecoverStaleSagas()
	jr.RunAllAudits()
	jr.CleanupExpiredLeases()
}
