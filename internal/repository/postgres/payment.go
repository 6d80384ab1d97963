package postgres

import (
	"context"
	"database/sql"
	"time"

	"fulfillment-backend-trusted/internal/domain"
	"fulfillment-backend-trusted/internal/repository"
)

const paymentColumns = `id, user_id, subscription_id, amount, status, COALESCE(gateway_order_id, ''),
	COALESCE(gateway_payment_id, ''), COALESCE(gateway_reference, ''), retry_count, COALESCE(failure_reason, ''),
	paid_at, failed_at, refunded_at, created_at, updated_at`

type paymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) repository.PaymentRepository {
	return &paymentRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var p domain.Payment
	var subID sql.NullInt64
	var paidAt, failedAt, refundedAt sql.NullTime
	err := row.Scan(&p.ID, &p.UserID, &subID, &p.Amount, &p.Status, &p.GatewayOrderID,
		&p.GatewayPaymentID, &p.GatewayReference, &p.RetryCount, &p.FailureReason,
		&paidAt, &failedAt, &refundedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	p.SubscriptionID = nullInt64Ptr(subID)
	p.PaidAt = nullTimePtr(paidAt)
	p.FailedAt = nullTimePtr(failedAt)
	p.RefundedAt = nullTimePtr(refundedAt)
	return &p, nil
}

func (r *paymentRepository) Create(ctx context.Context, p *domain.Payment) error {
	if p.Status == "" {
		p.Status = domain.PaymentStatusPending
	}
	query := `INSERT INTO payments (user_id, subscription_id, amount, status, gateway_order_id, gateway_payment_id)
	          VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at, updated_at`
	return r.db.QueryRowContext(ctx, query, p.UserID, p.SubscriptionID, p.Amount, p.Status,
		nullString(p.GatewayOrderID), nullString(p.GatewayPaymentID)).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

func (r *paymentRepository) GetByID(ctx context.Context, id int64) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	return scanPayment(r.db.QueryRowContext(ctx, query, id))
}

func (r *paymentRepository) GetByGatewayOrderID(ctx context.Context, orderID string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE gateway_order_id = $1`
	return scanPayment(r.db.QueryRowContext(ctx, query, orderID))
}

func (r *paymentRepository) EnsureByGatewayPaymentID(ctx context.Context, p *domain.Payment) (*domain.Payment, error) {
	query := `INSERT INTO payments (user_id, subscription_id, amount, status, gateway_order_id, gateway_payment_id)
	          VALUES ($1, $2, $3, 'pending', $4, $5)
	          ON CONFLICT (gateway_payment_id) WHERE gateway_payment_id IS NOT NULL DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, p.UserID, p.SubscriptionID, p.Amount,
		nullString(p.GatewayOrderID), p.GatewayPaymentID); err != nil {
		return nil, err
	}
	sel := `SELECT ` + paymentColumns + ` FROM payments WHERE gateway_payment_id = $1`
	return scanPayment(r.db.QueryRowContext(ctx, sel, p.GatewayPaymentID))
}

func (r *paymentRepository) MarkFailed(ctx context.Context, id int64, reason string, at time.Time) error {
	query := `UPDATE payments SET status = 'failed', failure_reason = $1, failed_at = $2, updated_at = $2,
	          retry_count = retry_count + 1 WHERE id = $3 AND status = 'pending'`
	res, err := r.db.ExecContext(ctx, query, reason, at, id)
	if err != nil {
		return err
	}
	return r.transitionResult(ctx, res, id)
}

func (r *paymentRepository) MarkRefunded(ctx context.Context, id int64, at time.Time) error {
	query := `UPDATE payments SET status = 'refunded', refunded_at = $1, updated_at = $1 WHERE id = $2 AND status = 'paid'`
	res, err := r.db.ExecContext(ctx, query, at, id)
	if err != nil {
		return err
	}
	return r.transitionResult(ctx, res, id)
}

// transitionResult tells a missing payment apart from one in the wrong state.
func (r *paymentRepository) transitionResult(ctx context.Context, res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM payments WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrInvalidTransition
}

func (r *paymentRepository) SumFundedByUser(ctx context.Context, userID, currentPaymentID int64) (int64, error) {
	var sum int64
	query := `SELECT COALESCE(SUM(l.amount), 0)
	          FROM wallet_ledger l
	          JOIN wallet_accounts a ON a.id = l.account_id
	          JOIN payments p ON l.reference_type = 'payment' AND l.reference_id = p.id::text
	          LEFT JOIN saga_executions s ON s.payment_id = p.id
	          WHERE a.user_id = $1 AND l.entry_type = 'deposit' AND NOT l.is_reversed
	            AND p.status = 'paid' AND (p.id = $2 OR s.status = 'completed')`
	err := r.db.QueryRowContext(ctx, query, userID, currentPaymentID).Scan(&sum)
	return sum, err
}

type subscriptionRepository struct {
	db *sql.DB
}

func NewSubscriptionRepository(db *sql.DB) repository.SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

const subscriptionColumns = `id, user_id, gateway_subscription_id, installment_amount, interval_days,
	installments_paid, failed_attempts, next_charge_at, pan_verified, status, created_at, updated_at`

func scanSubscription(row rowScanner) (*domain.Subscription, error) {
	var s domain.Subscription
	err := row.Scan(&s.ID, &s.UserID, &s.GatewaySubscriptionID, &s.InstallmentAmount, &s.IntervalDays,
		&s.InstallmentsPaid, &s.FailedAttempts, &s.NextChargeAt, &s.PanVerified, &s.Status, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (r *subscriptionRepository) Create(ctx context.Context, s *domain.Subscription) error {
	if s.Status == "" {
		s.Status = domain.SubscriptionStatusActive
	}
	query := `INSERT INTO subscriptions (user_id, gateway_subscription_id, installment_amount, interval_days, next_charge_at, pan_verified, status)
	          VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, created_at, updated_at`
	return r.db.QueryRowContext(ctx, query, s.UserID, s.GatewaySubscriptionID, s.InstallmentAmount, s.IntervalDays,
		s.NextChargeAt, s.PanVerified, s.Status).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
}

func (r *subscriptionRepository) GetByID(ctx context.Context, id int64) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`
	return scanSubscription(r.db.QueryRowContext(ctx, query, id))
}

func (r *subscriptionRepository) GetByGatewayID(ctx context.Context, gatewayID string) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE gateway_subscription_id = $1`
	return scanSubscription(r.db.QueryRowContext(ctx, query, gatewayID))
}

func (r *subscriptionRepository) RecordFailedAttempt(ctx context.Context, id int64) error {
	query := `UPDATE subscriptions SET failed_attempts = failed_attempts + 1, updated_at = now() WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	return expectOne(res, domain.ErrNotFound)
}
