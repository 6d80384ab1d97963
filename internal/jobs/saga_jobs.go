package jobs

import (
	"context"

	"fulfillment-backend-trusted/internal/logger"
)

// RecoverStaleSagas flags sagas stuck in processing or failed for manual
// resolution. Nothing is re-run.
func (jr *JobRunner) RecoverStaleSagas() {
	jr.runWithRecovery("RecoverStaleSagas", func() {
		ctx := context.Background()
		threshold := jr.config.Saga.StaleAfter()

		flagged, err := jr.services.Saga.RecoverStale(ctx, threshold)
		if err != nil {
			logger.Error("Stale saga sweep incomplete", "error", err, "flagged", len(flagged))
			return
		}

		logger.Info("Stale saga sweep finished", "flagged", len(flagged), "threshold", threshold)
		for _, saga := range flagged {
			logger.Debug("Flagged stale saga",
				"saga_id", saga.ID,
				"payment_id", saga.PaymentID,
				"steps_completed", saga.StepsCompleted)
		}
	})
}
