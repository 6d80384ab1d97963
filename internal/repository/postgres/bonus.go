package postgres

import (
	"context"
	"database/sql"
	"time"

	"fulfillment-backend-trusted/internal/domain"
	"fulfillment-backend-trusted/internal/repository"
)

type bonusRepository struct {
	db *sql.DB
}

func NewBonusRepository(db *sql.DB) repository.BonusRepository {
	return &bonusRepository{db: db}
}

func (r *bonusRepository) Create(ctx context.Context, b *domain.Bonus) error {
	if b.Status == "" {
		b.Status = domain.BonusStatusActive
	}
	query := `INSERT INTO bonuses (payment_id, user_id, subscription_id, gross_amount, tds_rate, tds_amount, net_amount, status)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id, created_at`
	return r.db.QueryRowContext(ctx, query, b.PaymentID, b.UserID, b.SubscriptionID, b.GrossAmount, b.TdsRate,
		b.TdsAmount, b.NetAmount, b.Status).Scan(&b.ID, &b.CreatedAt)
}

func (r *bonusRepository) GetByID(ctx context.Context, id int64) (*domain.Bonus, error) {
	var b domain.Bonus
	var subID sql.NullInt64
	var reversedAt sql.NullTime
	query := `SELECT id, payment_id, user_id, subscription_id, gross_amount, tds_rate, tds_amount, net_amount, status, reversed_at, created_at
	          FROM bonuses WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&b.ID, &b.PaymentID, &b.UserID, &subID, &b.GrossAmount, &b.TdsRate,
		&b.TdsAmount, &b.NetAmount, &b.Status, &reversedAt, &b.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	b.SubscriptionID = nullInt64Ptr(subID)
	b.ReversedAt = nullTimePtr(reversedAt)
	return &b, nil
}

func (r *bonusRepository) MarkReversed(ctx context.Context, id int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE bonuses SET status = 'reversed', reversed_at = $1 WHERE id = $2 AND status = 'active'`, at, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return domain.ErrAlreadyReversed
}
