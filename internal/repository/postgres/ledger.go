package postgres

import (
	"context"
	"database/sql"
	"time"

	"fulfillment-backend-trusted/internal/domain"
	"fulfillment-backend-trusted/internal/repository"
)

const entryColumns = `id, account_id, entry_type, amount, balance_before, balance_after, reference_type, reference_id,
	paired_entry_id, is_reversed, reversed_by_id, reversed_at, COALESCE(reversal_reason, ''), created_at`

type ledgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) repository.LedgerRepository {
	return &ledgerRepository{db: db}
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func scanEntry(row rowScanner) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	var entryType string
	var paired, reversedBy sql.NullInt64
	var reversedAt sql.NullTime
	err := row.Scan(&e.ID, &e.AccountID, &entryType, &e.Amount, &e.BalanceBefore, &e.BalanceAfter,
		&e.Reference.Type, &e.Reference.ID, &paired, &e.IsReversed, &reversedBy, &reversedAt,
		&e.ReversalReason, &e.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if e.Type, err = domain.ParseEntryType(entryType); err != nil {
		return nil, err
	}
	e.PairedEntryID = nullInt64Ptr(paired)
	e.ReversedByID = nullInt64Ptr(reversedBy)
	e.ReversedAt = nullTimePtr(reversedAt)
	return &e, nil
}

func listEntries(ctx context.Context, q querier, accountID int64) ([]domain.LedgerEntry, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+entryColumns+` FROM wallet_ledger WHERE account_id = $1 ORDER BY id`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func (r *ledgerRepository) EnsureAccount(ctx context.Context, userID int64) (*domain.Account, error) {
	_, err := r.db.ExecContext(ctx, `INSERT INTO wallet_accounts (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID)
	if err != nil {
		return nil, err
	}
	var a domain.Account
	err = r.db.QueryRowContext(ctx, `SELECT id, user_id, cached_balance, created_at, updated_at FROM wallet_accounts WHERE user_id = $1`, userID).
		Scan(&a.ID, &a.UserID, &a.CachedBalance, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (r *ledgerRepository) GetAccount(ctx context.Context, accountID int64) (*domain.Account, error) {
	var a domain.Account
	err := r.db.QueryRowContext(ctx, `SELECT id, user_id, cached_balance, created_at, updated_at FROM wallet_accounts WHERE id = $1`, accountID).
		Scan(&a.ID, &a.UserID, &a.CachedBalance, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (r *ledgerRepository) ListAccountIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM wallet_accounts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *ledgerRepository) GetEntry(ctx context.Context, id int64) (*domain.LedgerEntry, error) {
	return scanEntry(r.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM wallet_ledger WHERE id = $1`, id))
}

func (r *ledgerRepository) ListEntries(ctx context.Context, accountID int64) ([]domain.LedgerEntry, error) {
	return listEntries(ctx, r.db, accountID)
}

func (r *ledgerRepository) WithAccountLock(ctx context.Context, accountID int64, fn func(tx repository.LedgerTx) error) error {
	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		var a domain.Account
		err := tx.QueryRowContext(ctx,
			`SELECT id, user_id, cached_balance, created_at, updated_at FROM wallet_accounts WHERE id = $1 FOR UPDATE`, accountID).
			Scan(&a.ID, &a.UserID, &a.CachedBalance, &a.CreatedAt, &a.UpdatedAt)
		if err != nil {
			return notFound(err)
		}
		return fn(&ledgerTx{ctx: ctx, tx: tx, account: a})
	})
}

type ledgerTx struct {
	ctx     context.Context
	tx      *sql.Tx
	account domain.Account
}

func (t *ledgerTx) Account() domain.Account {
	return t.account
}

func (t *ledgerTx) Entries() ([]domain.LedgerEntry, error) {
	return listEntries(t.ctx, t.tx, t.account.ID)
}

func (t *ledgerTx) Entry(id int64) (*domain.LedgerEntry, error) {
	return scanEntry(t.tx.QueryRowContext(t.ctx,
		`SELECT `+entryColumns+` FROM wallet_ledger WHERE id = $1 AND account_id = $2`, id, t.account.ID))
}

func (t *ledgerTx) Insert(e *domain.LedgerEntry) error {
	if e.Amount <= 0 {
		return domain.ErrInvalidAmount
	}
	e.AccountID = t.account.ID
	query := `INSERT INTO wallet_ledger (account_id, entry_type, amount, balance_before, balance_after,
	              reference_type, reference_id, paired_entry_id)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id, created_at`
	return t.tx.QueryRowContext(t.ctx, query, e.AccountID, e.Type.String(), e.Amount, e.BalanceBefore, e.BalanceAfter,
		e.Reference.Type, e.Reference.ID, e.PairedEntryID).Scan(&e.ID, &e.CreatedAt)
}

func (t *ledgerTx) MarkReversed(id, reversedByID int64, reason string, at time.Time) error {
	res, err := t.tx.ExecContext(t.ctx,
		`UPDATE wallet_ledger SET is_reversed = TRUE, reversed_by_id = $1, reversed_at = $2, reversal_reason = $3
		 WHERE id = $4 AND account_id = $5 AND is_reversed = FALSE`,
		reversedByID, at, reason, id, t.account.ID)
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

func (t *ledgerTx) SetCachedBalance(balance int64) error {
	_, err := t.tx.ExecContext(t.ctx,
		`UPDATE wallet_accounts SET cached_balance = $1, updated_at = now() WHERE id = $2`, balance, t.account.ID)
	if err == nil {
		t.account.CachedBalance = balance
	}
	return err
}
