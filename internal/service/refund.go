package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"fulfillment-backend-trusted/internal/domain"
	"fulfillment-backend-trusted/internal/logger"
	"fulfillment-backend-trusted/internal/repository"
)

type refundService struct {
	locker   Locker
	payments repository.PaymentRepository
	sagas    repository.SagaRepository
	wallet   WalletAccount
	ledger   LedgerStore
	platform PlatformLedger
	lockWait time.Duration
	lockTTL  time.Duration
	now      func() time.Time
}

func NewRefundService(
	locker Locker,
	payments repository.PaymentRepository,
	sagas repository.SagaRepository,
	wallet WalletAccount,
	ledger LedgerStore,
	platform PlatformLedger,
	lockWait, lockTTL time.Duration,
) RefundService {
	return &refundService{
		locker:   locker,
		payments: payments,
		sagas:    sagas,
		wallet:   wallet,
		ledger:   ledger,
		platform: platform,
		lockWait: lockWait,
		lockTTL:  lockTTL,
		now:      time.Now,
	}
}

// Refund returns a paid payment's amount out of the wallet. It holds the same
// lease as fulfillment and only refunds payments whose saga completed.
// Allocations made from the payment are left in place.
func (s *refundService) Refund(ctx context.Context, paymentID int64, reason string) (*domain.LedgerEntry, error) {
	release, err := s.locker.Acquire(ctx, paymentLockKey(paymentID), s.lockWait, s.lockTTL)
	if err != nil {
		return nil, err
	}
	defer release()

	p, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !p.Status.CanTransitionTo(domain.PaymentStatusRefunded) {
		return nil, fmt.Errorf("payment %d is %s: %w", paymentID, p.Status, domain.ErrInvalidTransition)
	}
	saga, err := s.sagas.GetByPaymentID(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("load saga for payment %d: %w", paymentID, err)
	}
	if saga.Status != domain.SagaStatusCompleted {
		return nil, fmt.Errorf("saga %s is %s: %w", saga.ID, saga.Status, domain.ErrInvalidTransition)
	}

	entry, err := s.wallet.Withdraw(ctx, p.UserID, p.Amount, domain.EntryWithdrawal, domain.PaymentReference(p.ID), false)
	if err != nil {
		return nil, err
	}
	undo := fmt.Sprintf("refund of payment %d aborted", p.ID)

	pentry, err := s.platform.Record(ctx, domain.Debit, p.Amount, SourceRefund, strconv.FormatInt(p.ID, 10))
	if err != nil {
		return nil, errors.Join(err, s.unwind(ctx, entry.ID, 0, undo))
	}
	if err := s.payments.MarkRefunded(ctx, p.ID, s.now()); err != nil {
		return nil, errors.Join(err, s.unwind(ctx, entry.ID, pentry.ID, undo))
	}

	logger.Info("Payment refunded", "payment_id", p.ID, "user_id", p.UserID, "amount", p.Amount,
		"entry_id", entry.ID, "reason", reason)
	return entry, nil
}

func (s *refundService) unwind(ctx context.Context, entryID, platformEntryID int64, reason string) error {
	var errs []error
	if platformEntryID != 0 {
		if _, err := s.platform.Reverse(ctx, platformEntryID, reason); err != nil {
			errs = append(errs, fmt.Errorf("reverse platform entry %d: %w", platformEntryID, err))
		}
	}
	if _, err := s.ledger.Reverse(ctx, entryID, reason); err != nil {
		errs = append(errs, fmt.Errorf("reverse refund entry %d: %w", entryID, err))
	}
	if err := errors.Join(errs...); err != nil {
		logger.Error("Refund unwind incomplete", "entry_id", entryID, "error", err)
		return err
	}
	return nil
}
