package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fulfillment-backend-trusted/internal/domain"
	"fulfillment-backend-trusted/internal/logger"
	"fulfillment-backend-trusted/internal/metrics"
	"fulfillment-backend-trusted/internal/repository"

	"github.com/google/uuid"
)

// Fulfillment outcomes, used as metric labels and webhook responses.
const (
	OutcomeFulfilled   = "fulfilled"
	OutcomeDuplicate   = "duplicate"
	OutcomeLockTimeout = "lock_timeout"
	OutcomeRejected    = "rejected"
	OutcomeError       = "error"
)

type fulfillmentGate struct {
	locker      Locker
	payments    repository.PaymentRepository
	fulfillment repository.FulfillmentRepository
	sagas       repository.SagaRepository
	dispatcher  Dispatcher
	lockWait    time.Duration
	lockTTL     time.Duration
	now         func() time.Time
	newSagaID   func() string
}

func NewFulfillmentGate(
	locker Locker,
	payments repository.PaymentRepository,
	fulfillment repository.FulfillmentRepository,
	sagas repository.SagaRepository,
	dispatcher Dispatcher,
	lockWait, lockTTL time.Duration,
) FulfillmentGate {
	return &fulfillmentGate{
		locker:      locker,
		payments:    payments,
		fulfillment: fulfillment,
		sagas:       sagas,
		dispatcher:  dispatcher,
		lockWait:    lockWait,
		lockTTL:     lockTTL,
		now:         time.Now,
		newSagaID:   uuid.NewString,
	}
}

func paymentLockKey(paymentID int64) string {
	return fmt.Sprintf("payment:%d", paymentID)
}

// Fulfill marks a pending payment paid and hands it to the allocation saga.
// If the handoff fails the error is returned but the payment stays paid. A
// redelivery of a paid payment hands its saga over again while it is still
// processing.
func (g *fulfillmentGate) Fulfill(ctx context.Context, paymentID int64, gatewayReference string) (bool, error) {
	log := logger.WithPayment(paymentID)

	release, err := g.locker.Acquire(ctx, paymentLockKey(paymentID), g.lockWait, g.lockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockNotAcquired) {
			metrics.FulfillmentTotal.WithLabelValues(OutcomeLockTimeout).Inc()
		} else {
			metrics.FulfillmentTotal.WithLabelValues(OutcomeError).Inc()
		}
		return false, err
	}
	defer release()

	payment, err := g.payments.GetByID(ctx, paymentID)
	if err != nil {
		metrics.FulfillmentTotal.WithLabelValues(OutcomeError).Inc()
		return false, fmt.Errorf("reload payment %d: %w", paymentID, err)
	}

	switch payment.Status {
	case domain.PaymentStatusPaid:
		metrics.FulfillmentTotal.WithLabelValues(OutcomeDuplicate).Inc()
		return false, g.redispatch(ctx, payment.ID, log)
	case domain.PaymentStatusRefunded:
		log.Info("Payment already fulfilled, ignoring", "status", payment.Status)
		metrics.FulfillmentTotal.WithLabelValues(OutcomeDuplicate).Inc()
		return false, nil
	case domain.PaymentStatusPending:
	default:
		metrics.FulfillmentTotal.WithLabelValues(OutcomeRejected).Inc()
		return false, fmt.Errorf("payment %d is %s: %w", paymentID, payment.Status, domain.ErrInvalidTransition)
	}

	now := g.now()
	saga := domain.NewSagaExecution(g.newSagaID(), payment.ID, now)
	err = g.fulfillment.CommitFulfillment(ctx, domain.FulfillmentCommit{
		PaymentID:        payment.ID,
		SubscriptionID:   payment.SubscriptionID,
		GatewayReference: gatewayReference,
		PaidAt:           now,
		Saga:             saga,
	})
	if err != nil {
		metrics.FulfillmentTotal.WithLabelValues(OutcomeError).Inc()
		return false, fmt.Errorf("commit fulfillment for payment %d: %w", paymentID, err)
	}
	log.Info("Payment marked paid", "saga_id", saga.ID, "gateway_reference", gatewayReference)
	metrics.FulfillmentTotal.WithLabelValues(OutcomeFulfilled).Inc()

	if err := g.dispatcher.Dispatch(ctx, saga.ID); err != nil {
		log.Error("Saga handoff failed, payment stays paid", "saga_id", saga.ID, "error", err)
		return true, fmt.Errorf("dispatch saga %s: %w", saga.ID, err)
	}
	return true, nil
}

// redispatch hands a paid payment's saga over again if it never finished,
// e.g. because the first handoff found the queue full.
func (g *fulfillmentGate) redispatch(ctx context.Context, paymentID int64, log *slog.Logger) error {
	saga, err := g.sagas.GetByPaymentID(ctx, paymentID)
	if err != nil {
		return fmt.Errorf("load saga for payment %d: %w", paymentID, err)
	}
	if saga.Status != domain.SagaStatusProcessing {
		log.Info("Payment already fulfilled, ignoring", "saga_id", saga.ID, "saga_status", saga.Status)
		return nil
	}
	log.Warn("Paid payment has an unfinished saga, dispatching again", "saga_id", saga.ID, "steps_completed", saga.StepsCompleted)
	if err := g.dispatcher.Dispatch(ctx, saga.ID); err != nil {
		return fmt.Errorf("dispatch saga %s: %w", saga.ID, err)
	}
	return nil
}
