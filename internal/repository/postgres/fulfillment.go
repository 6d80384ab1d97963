package postgres

import (
	"context"
	"database/sql"

	"fulfillment-backend-trusted/internal/domain"
	"fulfillment-backend-trusted/internal/logger"
	"fulfillment-backend-trusted/internal/repository"
)

type fulfillmentRepository struct {
	db *sql.DB
}

func NewFulfillmentRepository(db *sql.DB) repository.FulfillmentRepository {
	return &fulfillmentRepository{db: db}
}

func (r *fulfillmentRepository) CommitFulfillment(ctx context.Context, c domain.FulfillmentCommit) error {
	logger.DatabaseCall("CommitFulfillment", "UPDATE payments/subscriptions, INSERT saga_executions", "payment_id", c.PaymentID)
	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE payments SET status = 'paid', paid_at = $1, updated_at = $1,
			        gateway_reference = COALESCE($2, gateway_reference)
			 WHERE id = $3 AND status = 'pending'`,
			c.PaidAt, nullString(c.GatewayReference), c.PaymentID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var exists bool
			if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM payments WHERE id = $1)`, c.PaymentID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return domain.ErrNotFound
			}
			return domain.ErrInvalidTransition
		}

		if c.SubscriptionID != nil {
			res, err := tx.ExecContext(ctx,
				`UPDATE subscriptions SET installments_paid = installments_paid + 1, failed_attempts = 0,
				        next_charge_at = next_charge_at + make_interval(days => interval_days), updated_at = $1
				 WHERE id = $2`,
				c.PaidAt, *c.SubscriptionID)
			if err != nil {
				return err
			}
			if err := expectOne(res, domain.ErrNotFound); err != nil {
				return err
			}
		}

		if c.Saga != nil {
			return insertSaga(ctx, tx, c.Saga)
		}
		return nil
	})
	logger.DatabaseResult("CommitFulfillment", 0, err, "payment_id", c.PaymentID)
	return err
}
