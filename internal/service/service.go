package service

import (
	"context"
	"time"

	"fulfillment-backend-trusted/internal/domain"

	"github.com/shopspring/decimal"
)

// LedgerStore is the append-only wallet ledger. Balances are always derived
// from entries; an account's cached balance is only a hint.
type LedgerStore interface {
	Append(ctx context.Context, accountID int64, entryType domain.EntryType, amount int64, ref domain.Reference, opts ...AppendOption) (*domain.LedgerEntry, error)
	RecomputeBalance(ctx context.Context, accountID int64) (int64, error)
	Reverse(ctx context.Context, entryID int64, reason string) (*domain.LedgerEntry, error)
	VerifyChain(ctx context.Context, entryID int64) (*ChainReport, error)
	VerifyIntegrity(ctx context.Context, accountID int64) (*IntegrityReport, error)
}

type WalletAccount interface {
	Deposit(ctx context.Context, userID, amount int64, entryType domain.EntryType, ref domain.Reference) (*domain.LedgerEntry, error)
	Withdraw(ctx context.Context, userID, amount int64, entryType domain.EntryType, ref domain.Reference, allowOverdraft bool) (*domain.LedgerEntry, error)
	Balance(ctx context.Context, userID int64) (int64, error)
	Account(ctx context.Context, userID int64) (*domain.Account, error)
}

// PlatformLedger is the platform-wide capital ledger.
type PlatformLedger interface {
	Record(ctx context.Context, direction domain.Direction, amount int64, sourceType, sourceID string) (*domain.PlatformLedgerEntry, error)
	Reverse(ctx context.Context, entryID int64, reason string) (*domain.PlatformLedgerEntry, error)
	VerifyIntegrity(ctx context.Context) (*IntegrityReport, error)
}

// Locker hands out time-bounded leases. The returned release func is safe to
// call on every exit path.
type Locker interface {
	Acquire(ctx context.Context, key string, wait, ttl time.Duration) (release func(), err error)
}

// FulfillmentGate moves a pending payment to paid exactly once. It returns
// false when the payment was already paid.
type FulfillmentGate interface {
	Fulfill(ctx context.Context, paymentID int64, gatewayReference string) (bool, error)
}

// Dispatcher hands a processing saga to whatever runs it.
type Dispatcher interface {
	Dispatch(ctx context.Context, sagaID string) error
}

// AllocationSaga executions are exclusive per saga: a second concurrent run
// of the same saga fails with domain.ErrLockNotAcquired.
type AllocationSaga interface {
	Run(ctx context.Context, sagaID string) (*domain.SagaExecution, error)
	// Resume runs a processing saga or one flagged for manual resolution
	// before any compensation was attempted.
	Resume(ctx context.Context, sagaID string) (*domain.SagaExecution, error)
	// CompensateStored undoes a saga's completed steps using only what was
	// persisted in its metadata.
	CompensateStored(ctx context.Context, sagaID string) (*domain.SagaExecution, error)
	RecoverStale(ctx context.Context, olderThan time.Duration) ([]domain.SagaExecution, error)
}

// AllocationService draws inventory for a user and returns it on reversal.
type AllocationService interface {
	Allocate(ctx context.Context, actx domain.AllocationContext, amount int64) ([]domain.Allocation, error)
	ReverseAllocation(ctx context.Context, allocationID int64) error
}

// BonusCalculator is a pure function of the payment and subscription.
type BonusCalculator interface {
	Compute(bctx domain.BonusContext) int64
}

// TdsLookup returns the withholding percentage, in [0, 30].
type TdsLookup interface {
	Rate(incomeType string, panVerified bool) decimal.Decimal
}

type PaymentService interface {
	VerifyAndFulfill(ctx context.Context, paymentID int64, orderID, gatewayPaymentID, signature string) (bool, error)
	MarkFailed(ctx context.Context, paymentID int64, reason string) error
}

type RefundService interface {
	Refund(ctx context.Context, paymentID int64, reason string) (*domain.LedgerEntry, error)
}

// GatewayEventService handles inbound gateway notifications. Every method is
// safe to call repeatedly with the same payload.
type GatewayEventService interface {
	PaymentCaptured(ctx context.Context, ev PaymentCapturedEvent) (EventOutcome, error)
	SubscriptionCharged(ctx context.Context, ev SubscriptionChargedEvent) (EventOutcome, error)
	PaymentFailed(ctx context.Context, ev PaymentFailedEvent) (EventOutcome, error)
}

type SagaOperatorService interface {
	List(ctx context.Context, statuses []domain.SagaStatus, limit int) ([]domain.SagaExecution, error)
	Get(ctx context.Context, sagaID string) (*domain.SagaExecution, error)
	Resolve(ctx context.Context, sagaID, operatorID, note string) (*domain.SagaExecution, error)
	Compensate(ctx context.Context, sagaID string) (*domain.SagaExecution, error)
	Resume(ctx context.Context, sagaID string) (*domain.SagaExecution, error)
}

type AuditService interface {
	AuditWallets(ctx context.Context) (*AuditSummary, error)
	AuditPlatform(ctx context.Context) (*IntegrityReport, error)
	AccountIntegrity(ctx context.Context, accountID int64) (*IntegrityReport, error)
}
