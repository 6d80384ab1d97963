package repository

import (
	"context"
	"time"

	"fulfillment-backend-trusted/internal/domain"
)

type PaymentRepository interface {
	Create(ctx context.Context, payment *domain.Payment) error
	GetByID(ctx context.Context, id int64) (*domain.Payment, error)
	GetByGatewayOrderID(ctx context.Context, orderID string) (*domain.Payment, error)
	// EnsureByGatewayPaymentID inserts payment unless a row with the same
	// gateway payment id exists, and returns whichever row is stored.
	EnsureByGatewayPaymentID(ctx context.Context, payment *domain.Payment) (*domain.Payment, error)
	MarkFailed(ctx context.Context, id int64, reason string, at time.Time) error
	MarkRefunded(ctx context.Context, id int64, at time.Time) error
	// SumFundedByUser sums the live wallet deposits of the user's paid
	// payments whose saga completed, plus the deposit of currentPaymentID.
	// Deposits undone by compensation are not counted.
	SumFundedByUser(ctx context.Context, userID, currentPaymentID int64) (int64, error)
}

type SubscriptionRepository interface {
	Create(ctx context.Context, sub *domain.Subscription) error
	GetByID(ctx context.Context, id int64) (*domain.Subscription, error)
	GetByGatewayID(ctx context.Context, gatewaySubscriptionID string) (*domain.Subscription, error)
	RecordFailedAttempt(ctx context.Context, id int64) error
}

// FulfillmentRepository writes the pending -> paid transition together with
// the subscription advance and the saga record, in one transaction.
// Returns domain.ErrInvalidTransition if the payment is no longer pending.
type FulfillmentRepository interface {
	CommitFulfillment(ctx context.Context, commit domain.FulfillmentCommit) error
}

// LedgerRepository is append-only: entries are inserted and, once, flagged as
// reversed. There is no update or delete.
type LedgerRepository interface {
	EnsureAccount(ctx context.Context, userID int64) (*domain.Account, error)
	GetAccount(ctx context.Context, accountID int64) (*domain.Account, error)
	ListAccountIDs(ctx context.Context) ([]int64, error)
	GetEntry(ctx context.Context, id int64) (*domain.LedgerEntry, error)
	// ListEntries returns the account's entries in creation order.
	ListEntries(ctx context.Context, accountID int64) ([]domain.LedgerEntry, error)
	// WithAccountLock runs fn in a transaction holding an exclusive lock on
	// the account. Nothing fn wrote is visible if it returns an error.
	WithAccountLock(ctx context.Context, accountID int64, fn func(tx LedgerTx) error) error
}

type LedgerTx interface {
	Account() domain.Account
	Entries() ([]domain.LedgerEntry, error)
	Entry(id int64) (*domain.LedgerEntry, error)
	Insert(entry *domain.LedgerEntry) error
	// MarkReversed returns domain.ErrAlreadyReversed if the flag is already set.
	MarkReversed(id, reversedByID int64, reason string, at time.Time) error
	SetCachedBalance(balance int64) error
}

type PlatformLedgerRepository interface {
	GetEntry(ctx context.Context, id int64) (*domain.PlatformLedgerEntry, error)
	ListEntries(ctx context.Context) ([]domain.PlatformLedgerEntry, error)
	CachedBalance(ctx context.Context) (int64, error)
	WithLock(ctx context.Context, fn func(tx PlatformLedgerTx) error) error
}

type PlatformLedgerTx interface {
	CachedBalance() int64
	Entries() ([]domain.PlatformLedgerEntry, error)
	Entry(id int64) (*domain.PlatformLedgerEntry, error)
	Insert(entry *domain.PlatformLedgerEntry) error
	MarkReversed(id, reversedByID int64, at time.Time) error
	SetCachedBalance(balance int64) error
}

type SagaRepository interface {
	GetByID(ctx context.Context, id string) (*domain.SagaExecution, error)
	GetByPaymentID(ctx context.Context, paymentID int64) (*domain.SagaExecution, error)
	// Update persists saga state. A completed saga is never written again;
	// attempting to returns domain.ErrInvalidTransition.
	Update(ctx context.Context, saga *domain.SagaExecution) error
	ListByStatus(ctx context.Context, statuses []domain.SagaStatus, limit int) ([]domain.SagaExecution, error)
	ListStale(ctx context.Context, statuses []domain.SagaStatus, updatedBefore time.Time) ([]domain.SagaExecution, error)
}

type BonusRepository interface {
	Create(ctx context.Context, bonus *domain.Bonus) error
	GetByID(ctx context.Context, id int64) (*domain.Bonus, error)
	MarkReversed(ctx context.Context, id int64, at time.Time) error
}

type InventoryRepository interface {
	AddLot(ctx context.Context, lot *domain.InventoryLot) error
	// AllocateFIFO draws amount from the oldest lots with remaining value.
	// Nothing is written when the lots cannot cover the amount.
	AllocateFIFO(ctx context.Context, actx domain.AllocationContext, amount int64) ([]domain.Allocation, error)
	ReverseAllocation(ctx context.Context, allocationID int64, at time.Time) error
	SumActiveByUser(ctx context.Context, userID int64) (int64, error)
}

type LeaseRepository interface {
	// TryAcquire claims key for holder if it is free or its lease expired before now.
	TryAcquire(ctx context.Context, lease domain.Lease, now time.Time) (bool, error)
	Release(ctx context.Context, key, holder string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
