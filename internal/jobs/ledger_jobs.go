package jobs

import (
	"context"
	"time"

	"fulfillment-backend-trusted/internal/logger"
)

// AuditWalletLedgers replays every wallet ledger and compares cached against
// recomputed balances. Violations raise critical alerts.
func (jr *JobRunner) AuditWalletLedgers() {
	jr.runWithRecovery("AuditWalletLedgers", func() {
		ctx := context.Background()

		summary, err := jr.services.Audit.AuditWallets(ctx)
		if err != nil {
			logger.Error("Wallet ledger audit failed", "error", err)
			return
		}
		if !summary.Clean() {
			logger.Warn("Wallet ledgers failed integrity audit",
				"accounts", summary.Accounts,
				"invalid", len(summary.Invalid),
				"drifted", summary.Drifted)
		}
	})
}

func (jr *JobRunner) AuditPlatformLedger() {
	jr.runWithRecovery("AuditPlatformLedger", func() {
		ctx := context.Background()

		report, err := jr.services.Audit.AuditPlatform(ctx)
		if err != nil {
			logger.Error("Platform ledger audit failed", "error", err)
			return
		}
		if !report.Valid() {
			logger.Warn("Platform ledger failed integrity audit",
				"violations", len(report.Violations),
				"drift", report.Drift())
		}
	})
}

// CleanupExpiredLeases deletes fulfillment leases whose expiry passed.
func (jr *JobRunner) CleanupExpiredLeases() {
	jr.runWithRecovery("CleanupExpiredLeases", func() {
		ctx := context.Background()

		deleted, err := jr.leases.DeleteExpired(ctx, time.Now())
		if err != nil {
			logger.Error("Failed to delete expired leases", "error", err)
			return
		}
		logger.Info("Deleted expired leases", "count", deleted)
	})
}
