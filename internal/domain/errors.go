package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAmount is a programming error: ledger amounts are always positive.
	ErrInvalidAmount = errors.New("invalid amount: must be positive")

	// ErrLedgerCorruption means the cached balance disagrees with the balance
	// recomputed from history. Never corrected automatically.
	ErrLedgerCorruption = errors.New("ledger corruption detected")

	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrLockNotAcquired is transient; the caller or queue should redeliver.
	ErrLockNotAcquired = errors.New("lock not acquired")

	// ErrCompensationFailure is terminal for a saga and needs an operator.
	ErrCompensationFailure = errors.New("saga compensation failed")

	ErrAlreadyReversed       = errors.New("entry already reversed")
	ErrNotFound              = errors.New("not found")
	ErrInvalidTransition     = errors.New("invalid state transition")
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrInvalidSignature      = errors.New("invalid signature")
	ErrQueueFull             = errors.New("dispatch queue full")
)

type LedgerCorruptionError struct {
	AccountID  int64
	Cached     int64
	Recomputed int64
}

func (e *LedgerCorruptionError) Error() string {
	return fmt.Sprintf("ledger corruption on account %d: cached balance %d, recomputed %d",
		e.AccountID, e.Cached, e.Recomputed)
}

func (e *LedgerCorruptionError) Unwrap() error {
	return ErrLedgerCorruption
}

type InsufficientFundsError struct {
	AccountID int64
	Available int64
	Requested int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds on account %d: available %d, requested %d",
		e.AccountID, e.Available, e.Requested)
}

func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

type CompensationError struct {
	SagaID string
	Step   SagaStep
	Cause  error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("saga %s: compensating %s: %v", e.SagaID, e.Step, e.Cause)
}

func (e *CompensationError) Unwrap() []error {
	return []error{ErrCompensationFailure, e.Cause}
}

// IsRetryable returns true if the error might succeed on redelivery.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockNotAcquired) || errors.Is(err, ErrQueueFull)
}

// IsClientError returns true if the error is caused by the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrInvalidSignature)
}
