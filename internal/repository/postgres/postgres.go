package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"fulfillment-backend-trusted/internal/domain"
	"fulfillment-backend-trusted/internal/logger"
	"fulfillment-backend-trusted/internal/repository"

	"github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
	repository.PaymentRepository
	repository.SubscriptionRepository
	repository.FulfillmentRepository
	repository.LedgerRepository
	repository.PlatformLedgerRepository
	repository.SagaRepository
	repository.BonusRepository
	repository.InventoryRepository
	repository.LeaseRepository
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:                       db,
		PaymentRepository:        NewPaymentRepository(db),
		SubscriptionRepository:   NewSubscriptionRepository(db),
		FulfillmentRepository:    NewFulfillmentRepository(db),
		LedgerRepository:         NewLedgerRepository(db),
		PlatformLedgerRepository: NewPlatformLedgerRepository(db),
		SagaRepository:           NewSagaRepository(db),
		BonusRepository:          NewBonusRepository(db),
		InventoryRepository:      NewInventoryRepository(db),
		LeaseRepository:          NewLeaseRepository(db),
	}
}

// Migrate applies the embedded schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	logger.DatabaseCall("Migrate", "schema.sql")
	_, err := db.ExecContext(ctx, schemaSQL)
	logger.DatabaseResult("Migrate", 0, err)
	if err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// inTx runs fn in a transaction and commits if fn returns nil.
func inTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

// expectOne maps a zero-row conditional update to the given error.
func expectOne(res sql.Result, zero error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return zero
	}
	return nil
}

// isUniqueViolation reports whether err is a postgres unique_violation (23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullInt64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
