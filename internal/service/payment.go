package service

import (
	"context"
	"fmt"
	"time"

	"fulfillment-backend-trusted/internal/domain"
	"fulfillment-backend-trusted/internal/logger"
	"fulfillment-backend-trusted/internal/repository"
	"fulfillment-backend-trusted/internal/security"
)

type paymentService struct {
	payments      repository.PaymentRepository
	subscriptions repository.SubscriptionRepository
	gate          FulfillmentGate
	secret        string
	now           func() time.Time
}

func NewPaymentService(
	payments repository.PaymentRepository,
	subscriptions repository.SubscriptionRepository,
	gate FulfillmentGate,
	gatewaySecret string,
) PaymentService {
	return &paymentService{
		payments:      payments,
		subscriptions: subscriptions,
		gate:          gate,
		secret:        gatewaySecret,
		now:           time.Now,
	}
}

// VerifyAndFulfill is the client-initiated path: the checkout hands back the
// gateway's signed order and payment ids. It races the webhook for the same
// payment; the gate lets exactly one of them fulfill.
func (s *paymentService) VerifyAndFulfill(ctx context.Context, paymentID int64, orderID, gatewayPaymentID, signature string) (bool, error) {
	p, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return false, err
	}
	if p.GatewayOrderID == "" || p.GatewayOrderID != orderID {
		logger.Warn("Verification order mismatch", "payment_id", paymentID, "order_id", orderID)
		return false, fmt.Errorf("order %q does not belong to payment %d: %w", orderID, paymentID, domain.ErrInvalidSignature)
	}
	if !security.VerifySignature(s.secret, security.PaymentSignaturePayload(orderID, gatewayPaymentID), signature) {
		logger.Warn("Verification signature rejected", "payment_id", paymentID, "order_id", orderID)
		return false, domain.ErrInvalidSignature
	}
	return s.gate.Fulfill(ctx, p.ID, gatewayPaymentID)
}

// MarkFailed moves a pending payment to failed and counts the attempt
// against its subscription.
func (s *paymentService) MarkFailed(ctx context.Context, paymentID int64, reason string) error {
	p, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return err
	}
	if err := s.payments.MarkFailed(ctx, paymentID, reason, s.now()); err != nil {
		return fmt.Errorf("mark payment %d failed: %w", paymentID, err)
	}
	if p.SubscriptionID != nil {
		if err := s.subscriptions.RecordFailedAttempt(ctx, *p.SubscriptionID); err != nil {
			return fmt.Errorf("record failed attempt on subscription %d: %w", *p.SubscriptionID, err)
		}
	}
	logger.Info("Payment marked failed", "payment_id", paymentID, "reason", reason)
	return nil
}
