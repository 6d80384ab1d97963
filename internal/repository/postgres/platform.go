package postgres

import (
	"context"
	"database/sql"
	"time"

	"fulfillment-backend-trusted/internal/domain"
	"fulfillment-backend-trusted/internal/repository"
)

const platformColumns = `id, direction, amount, balance_before, balance_after, source_type, source_id,
	entry_pair_id, is_reversed, reversed_by_id, reversed_at, created_at`

type platformLedgerRepository struct {
	db *sql.DB
}

func NewPlatformLedgerRepository(db *sql.DB) repository.PlatformLedgerRepository {
	return &platformLedgerRepository{db: db}
}

func scanPlatformEntry(row rowScanner) (*domain.PlatformLedgerEntry, error) {
	var e domain.PlatformLedgerEntry
	var direction string
	var pair, reversedBy sql.NullInt64
	var reversedAt sql.NullTime
	err := row.Scan(&e.ID, &direction, &e.Amount, &e.BalanceBefore, &e.BalanceAfter, &e.SourceType, &e.SourceID,
		&pair, &e.IsReversed, &reversedBy, &reversedAt, &e.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if e.Type, err = domain.ParseDirection(direction); err != nil {
		return nil, err
	}
	e.EntryPairID = nullInt64Ptr(pair)
	e.ReversedByID = nullInt64Ptr(reversedBy)
	e.ReversedAt = nullTimePtr(reversedAt)
	return &e, nil
}

func listPlatformEntries(ctx context.Context, q querier) ([]domain.PlatformLedgerEntry, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+platformColumns+` FROM platform_ledger ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PlatformLedgerEntry
	for rows.Next() {
		e, err := scanPlatformEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (r *platformLedgerRepository) GetEntry(ctx context.Context, id int64) (*domain.PlatformLedgerEntry, error) {
	return scanPlatformEntry(r.db.QueryRowContext(ctx, `SELECT `+platformColumns+` FROM platform_ledger WHERE id = $1`, id))
}

func (r *platformLedgerRepository) ListEntries(ctx context.Context) ([]domain.PlatformLedgerEntry, error) {
	return listPlatformEntries(ctx, r.db)
}

func (r *platformLedgerRepository) CachedBalance(ctx context.Context) (int64, error) {
	var bal int64
	err := r.db.QueryRowContext(ctx, `SELECT cached_balance FROM platform_balance WHERE id = 1`).Scan(&bal)
	return bal, notFound(err)
}

func (r *platformLedgerRepository) WithLock(ctx context.Context, fn func(tx repository.PlatformLedgerTx) error) error {
	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		var bal int64
		if err := tx.QueryRowContext(ctx, `SELECT cached_balance FROM platform_balance WHERE id = 1 FOR UPDATE`).Scan(&bal); err != nil {
			return notFound(err)
		}
		return fn(&platformTx{ctx: ctx, tx: tx, balance: bal})
	})
}

type platformTx struct {
	ctx     context.Context
	tx      *sql.Tx
	balance int64
}

func (t *platformTx) CachedBalance() int64 {
	return t.balance
}

func (t *platformTx) Entries() ([]domain.PlatformLedgerEntry, error) {
	return listPlatformEntries(t.ctx, t.tx)
}

func (t *platformTx) Entry(id int64) (*domain.PlatformLedgerEntry, error) {
	return scanPlatformEntry(t.tx.QueryRowContext(t.ctx, `SELECT `+platformColumns+` FROM platform_ledger WHERE id = $1`, id))
}

func (t *platformTx) Insert(e *domain.PlatformLedgerEntry) error {
	if e.Amount <= 0 {
		return domain.ErrInvalidAmount
	}
	query := `INSERT INTO platform_ledger (direction, amount, balance_before, balance_after, source_type, source_id, entry_pair_id)
	          VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, created_at`
	return t.tx.QueryRowContext(t.ctx, query, e.Type.String(), e.Amount, e.BalanceBefore, e.BalanceAfter,
		e.SourceType, e.SourceID, e.EntryPairID).Scan(&e.ID, &e.CreatedAt)
}

func (t *platformTx) MarkReversed(id, reversedByID int64, at time.Time) error {
	res, err := t.tx.ExecContext(t.ctx,
		`UPDATE platform_ledger SET is_reversed = TRUE, reversed_by_id = $1, reversed_at = $2
		 WHERE id = $3 AND is_reversed = FALSE`, reversedByID, at, id)
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
	if _, err := t.Entry(id); err != nil {
		return err
	}
	return domain.ErrAlreadyReversed
}

func (t *platformTx) SetCachedBalance(balance int64) error {
	_, err := t.tx.ExecContext(t.ctx, `UPDATE platform_balance SET cached_balance = $1 WHERE id = 1`, balance)
	if err == nil {
		t.balance = balance
	}
	return err
}
