package postgres

import (
	"context"
	"database/sql"
	"time"

	"fulfillment-backend-trusted/internal/domain"
	"fulfillment-backend-trusted/internal/repository"
)

type inventoryRepository struct {
	db *sql.DB
}

func NewInventoryRepository(db *sql.DB) repository.InventoryRepository {
	return &inventoryRepository{db: db}
}

func (r *inventoryRepository) AddLot(ctx context.Context, lot *domain.InventoryLot) error {
	if lot.TotalValue <= 0 {
		return domain.ErrInvalidAmount
	}
	lot.RemainingValue = lot.TotalValue
	query := `INSERT INTO inventory_lots (label, total_value, remaining_value) VALUES ($1, $2, $2) RETURNING id, created_at`
	return r.db.QueryRowContext(ctx, query, lot.Label, lot.TotalValue).Scan(&lot.ID, &lot.CreatedAt)
}

// AllocateFIFO locks lots oldest first and draws from them until amount is
// covered. The transaction rolls back when the lots run out.
func (r *inventoryRepository) AllocateFIFO(ctx context.Context, actx domain.AllocationContext, amount int64) ([]domain.Allocation, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	var out []domain.Allocation
	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id, remaining_value FROM inventory_lots WHERE remaining_value > 0 ORDER BY created_at, id FOR UPDATE`)
		if err != nil {
			return err
		}
		type lot struct{ id, remaining int64 }
		var lots []lot
		for rows.Next() {
			var l lot
			if err := rows.Scan(&l.id, &l.remaining); err != nil {
				rows.Close()
				return err
			}
			lots = append(lots, l)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		remaining := amount
		for _, l := range lots {
			if remaining == 0 {
				break
			}
			take := min(l.remaining, remaining)
			if _, err := tx.ExecContext(ctx, `UPDATE inventory_lots SET remaining_value = remaining_value - $1 WHERE id = $2`, take, l.id); err != nil {
				return err
			}
			a := domain.Allocation{UserID: actx.UserID, PaymentID: actx.PaymentID, LotID: l.id, Amount: take}
			err := tx.QueryRowContext(ctx,
				`INSERT INTO allocations (user_id, payment_id, lot_id, amount) VALUES ($1, $2, $3, $4) RETURNING id, created_at`,
				a.UserID, a.PaymentID, a.LotID, a.Amount).Scan(&a.ID, &a.CreatedAt)
			if err != nil {
				return err
			}
			out = append(out, a)
			remaining -= take
		}
		if remaining > 0 {
			return domain.ErrInsufficientInventory
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *inventoryRepository) ReverseAllocation(ctx context.Context, allocationID int64, at time.Time) error {
	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		var lotID, amount int64
		var reversed bool
		err := tx.QueryRowContext(ctx, `SELECT lot_id, amount, is_reversed FROM allocations WHERE id = $1 FOR UPDATE`, allocationID).
			Scan(&lotID, &amount, &reversed)
		if err != nil {
			return notFound(err)
		}
		if reversed {
			return domain.ErrAlreadyReversed
		}
		if _, err := tx.ExecContext(ctx, `UPDATE allocations SET is_reversed = TRUE, reversed_at = $1 WHERE id = $2`, at, allocationID); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE inventory_lots SET remaining_value = remaining_value + $1 WHERE id = $2`, amount, lotID)
		return err
	})
}

func (r *inventoryRepository) SumActiveByUser(ctx context.Context, userID int64) (int64, error) {
	var sum int64
	err := r.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount), 0) FROM allocations WHERE user_id = $1 AND NOT is_reversed`, userID).Scan(&sum)
	return sum, err
}

type leaseRepository struct {
	db *sql.DB
}

func NewLeaseRepository(db *sql.DB) repository.LeaseRepository {
	return &leaseRepository{db: db}
}

// TryAcquire inserts the lease or takes over an expired one. Zero rows
// affected means another holder's lease is still live.
func (r *leaseRepository) TryAcquire(ctx context.Context, lease domain.Lease, now time.Time) (bool, error) {
	query := `INSERT INTO fulfillment_leases (lease_key, holder, expires_at) VALUES ($1, $2, $3)
	          ON CONFLICT (lease_key) DO UPDATE SET holder = EXCLUDED.holder, expires_at = EXCLUDED.expires_at
	          WHERE fulfillment_leases.expires_at <= $4 OR fulfillment_leases.holder = EXCLUDED.holder`
	res, err := r.db.ExecContext(ctx, query, lease.Key, lease.Holder, lease.ExpiresAt, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *leaseRepository) Release(ctx context.Context, key, holder string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM fulfillment_leases WHERE lease_key = $1 AND holder = $2`, key, holder)
	return err
}

func (r *leaseRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM fulfillment_leases WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
