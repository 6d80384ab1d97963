package postgres_test

import (
	"context"
	"testing"
	"time"

	"fulfillment-backend-trusted/internal/domain"
	"fulfillment-backend-trusted/internal/repository/postgres"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

func TestFulfillmentRepository_CommitFulfillment(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error opening mock database: %v", err)
	}
	defer db.Close()

	repo := postgres.NewFulfillmentRepository(db)
	ctx := context.Background()
	now := time.Now()

	t.Run("Success", func(t *testing.T) {
		subID := int64(5)
		commit := domain.FulfillmentCommit{
			PaymentID:        42,
			SubscriptionID:   &subID,
			GatewayReference: "pay_abc",
			PaidAt:           now,
			Saga:             domain.NewSagaExecution("saga-1", 42, now),
		}

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE payments SET status = 'paid'").
			WithArgs(now, sqlmock.AnyArg(), int64(42)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE subscriptions SET installments_paid = installments_paid \\+ 1").
			WithArgs(now, subID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO saga_executions").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := repo.CommitFulfillment(ctx, commit)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("AlreadyPaid", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE payments SET status = 'paid'").
			WithArgs(now, sqlmock.AnyArg(), int64(42)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(int64(42)).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectRollback()

		err := repo.CommitFulfillment(ctx, domain.FulfillmentCommit{PaymentID: 42, PaidAt: now})
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("UnknownPayment", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE payments SET status = 'paid'").
			WithArgs(now, sqlmock.AnyArg(), int64(99)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(int64(99)).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectRollback()

		err := repo.CommitFulfillment(ctx, domain.FulfillmentCommit{PaymentID: 99, PaidAt: now})
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSagaRepository_Update(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error opening mock database: %v", err)
	}
	defer db.Close()

	repo := postgres.NewSagaRepository(db)
	ctx := context.Background()
	now := time.Now()
	saga := domain.NewSagaExecution("saga-1", 42, now)
	saga.Fail("late", now)

	mock.ExpectExec("UPDATE saga_executions SET (.+) WHERE saga_id = \\$10 AND status <> 'completed'").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM saga_executions WHERE saga_id = \\$1").
		WithArgs("saga-1").
		WillReturnRows(sqlmock.NewRows([]string{"saga_id", "payment_id", "status", "steps_total", "steps_completed",
			"metadata", "failure_reason", "resolution_data", "initiated_at", "completed_at", "failed_at",
			"compensated_at", "updated_at"}).
			AddRow("saga-1", 42, "completed", 3, 3, []byte(`{"steps":{}}`), "", nil, now, now, nil, nil, now))

	err = repo.Update(ctx, saga)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLeaseRepository_TryAcquire(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error opening mock database: %v", err)
	}
	defer db.Close()

	repo := postgres.NewLeaseRepository(db)
	ctx := context.Background()
	now := time.Now()
	lease := domain.Lease{Key: "payment:42", Holder: "h1", ExpiresAt: now.Add(30 * time.Second)}

	mock.ExpectExec("INSERT INTO fulfillment_leases").
		WithArgs(lease.Key, lease.Holder, lease.ExpiresAt, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := repo.TryAcquire(ctx, lease, now)
	assert.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectExec("INSERT INTO fulfillment_leases").
		WithArgs(lease.Key, "h2", lease.ExpiresAt, now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	lease.Holder = "h2"
	ok, err = repo.TryAcquire(ctx, lease, now)
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInventoryRepository_AllocateFIFO_Insufficient(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error opening mock database: %v", err)
	}
	defer db.Close()

	repo := postgres.NewInventoryRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, remaining_value FROM inventory_lots").
		WillReturnRows(sqlmock.NewRows([]string{"id", "remaining_value"}).AddRow(1, 100))
	mock.ExpectExec("UPDATE inventory_lots SET remaining_value = remaining_value - \\$1").
		WithArgs(int64(100), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO allocations").
		WithArgs(int64(7), int64(42), int64(1), int64(100)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(1, time.Now()))
	mock.ExpectRollback()

	_, err = repo.AllocateFIFO(context.Background(), domain.AllocationContext{UserID: 7, PaymentID: 42}, 500)
	assert.ErrorIs(t, err, domain.ErrInsufficientInventory)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepository_SumFundedByUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error opening mock database: %v", err)
	}
	defer db.Close()

	repo := postgres.NewPaymentRepository(db)

	mock.ExpectQuery("FROM wallet_ledger l .* NOT l.is_reversed .* s.status = 'completed'").
		WithArgs(int64(7), int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(int64(15_000)))

	sum, err := repo.SumFundedByUser(context.Background(), 7, 42)
	assert.NoError(t, err)
	assert.Equal(t, int64(15_000), sum)
	assert.NoError(t, mock.ExpectationsWereMet())
}
