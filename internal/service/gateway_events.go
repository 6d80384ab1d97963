package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fulfillment-backend-trusted/internal/domain"
	"fulfillment-backend-trusted/internal/logger"
	"fulfillment-backend-trusted/internal/repository"
)

// Gateway event names.
const (
	EventPaymentCaptured     = "payment.captured"
	EventSubscriptionCharged = "subscription.charged"
	EventPaymentFailed       = "payment.failed"
)

// PaymentCapturedEvent is a one-off checkout success.
type PaymentCapturedEvent struct {
	OrderID   string `json:"order_id" validate:"required"`
	PaymentID string `json:"id" validate:"required"`
}

// SubscriptionChargedEvent is a recurring debit success.
type SubscriptionChargedEvent struct {
	SubscriptionID string `json:"subscription_id" validate:"required"`
	PaymentID      string `json:"payment_id" validate:"required"`
	Amount         int64  `json:"amount" validate:"gt=0"`
}

type PaymentFailedEvent struct {
	OrderID   string `json:"order_id" validate:"required"`
	PaymentID string `json:"id"`
	Reason    string `json:"reason" validate:"max=512"`
}

type EventOutcome string

const (
	EventFulfilled EventOutcome = "fulfilled"
	EventDuplicate EventOutcome = "duplicate"
	EventIgnored   EventOutcome = "ignored"
	EventFailed    EventOutcome = "failed"
)

type gatewayEventService struct {
	payments      repository.PaymentRepository
	subscriptions repository.SubscriptionRepository
	gate          FulfillmentGate
	paymentSvc    PaymentService
	now           func() time.Time
}

func NewGatewayEventService(
	payments repository.PaymentRepository,
	subscriptions repository.SubscriptionRepository,
	gate FulfillmentGate,
	paymentSvc PaymentService,
) GatewayEventService {
	return &gatewayEventService{
		payments:      payments,
		subscriptions: subscriptions,
		gate:          gate,
		paymentSvc:    paymentSvc,
		now:           time.Now,
	}
}

func outcome(fulfilled bool) EventOutcome {
	if fulfilled {
		return EventFulfilled
	}
	return EventDuplicate
}

func (s *gatewayEventService) PaymentCaptured(ctx context.Context, ev PaymentCapturedEvent) (EventOutcome, error) {
	p, err := s.payments.GetByGatewayOrderID(ctx, ev.OrderID)
	if err != nil {
		return "", fmt.Errorf("payment for order %s: %w", ev.OrderID, err)
	}
	fulfilled, err := s.gate.Fulfill(ctx, p.ID, ev.PaymentID)
	return outcome(fulfilled), err
}

// SubscriptionCharged creates the installment's payment the first time the
// gateway payment id is seen and fulfills it. Redelivery finds the same row.
func (s *gatewayEventService) SubscriptionCharged(ctx context.Context, ev SubscriptionChargedEvent) (EventOutcome, error) {
	sub, err := s.subscriptions.GetByGatewayID(ctx, ev.SubscriptionID)
	if err != nil {
		return "", fmt.Errorf("subscription %s: %w", ev.SubscriptionID, err)
	}
	if ev.Amount != sub.InstallmentAmount {
		logger.Warn("Charged amount differs from installment",
			"subscription_id", sub.ID, "charged", ev.Amount, "installment", sub.InstallmentAmount)
	}

	now := s.now()
	p, err := s.payments.EnsureByGatewayPaymentID(ctx, &domain.Payment{
		UserID:           sub.UserID,
		SubscriptionID:   &sub.ID,
		Amount:           ev.Amount,
		Status:           domain.PaymentStatusPending,
		GatewayPaymentID: ev.PaymentID,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if err != nil {
		return "", fmt.Errorf("ensure payment %s: %w", ev.PaymentID, err)
	}
	fulfilled, err := s.gate.Fulfill(ctx, p.ID, ev.PaymentID)
	return outcome(fulfilled), err
}

func (s *gatewayEventService) PaymentFailed(ctx context.Context, ev PaymentFailedEvent) (EventOutcome, error) {
	p, err := s.payments.GetByGatewayOrderID(ctx, ev.OrderID)
	if err != nil {
		return "", fmt.Errorf("payment for order %s: %w", ev.OrderID, err)
	}
	err = s.paymentSvc.MarkFailed(ctx, p.ID, ev.Reason)
	if errors.Is(err, domain.ErrInvalidTransition) {
		logger.Info("Failure event for non-pending payment ignored", "payment_id", p.ID, "status", p.Status)
		return EventIgnored, nil
	}
	if err != nil {
		return "", err
	}
	return EventFailed, nil
}
