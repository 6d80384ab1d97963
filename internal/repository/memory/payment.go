package memory

import (
	"context"
	"strconv"
	"time"

	"fulfillment-backend-trusted/internal/domain"
)

type paymentRepository struct {
	s *state
}

func (r *paymentRepository) Create(_ context.Context, p *domain.Payment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.createLocked(p)
	return nil
}

func (r *paymentRepository) createLocked(p *domain.Payment) {
	p.ID = r.s.nextID()
	if p.Status == "" {
		p.Status = domain.PaymentStatusPending
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	p.UpdatedAt = p.CreatedAt
	r.s.payments[p.ID] = *p
}

func (r *paymentRepository) GetByID(_ context.Context, id int64) (*domain.Payment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	p, ok := r.s.payments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (r *paymentRepository) GetByGatewayOrderID(_ context.Context, orderID string) (*domain.Payment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, p := range r.s.payments {
		if p.GatewayOrderID == orderID {
			return &p, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *paymentRepository) EnsureByGatewayPaymentID(_ context.Context, p *domain.Payment) (*domain.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.payments {
		if existing.GatewayPaymentID != "" && existing.GatewayPaymentID == p.GatewayPaymentID {
			return &existing, nil
		}
	}
	r.createLocked(p)
	out := *p
	return &out, nil
}

func (r *paymentRepository) MarkFailed(_ context.Context, id int64, reason string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.payments[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !p.Status.CanTransitionTo(domain.PaymentStatusFailed) {
		return domain.ErrInvalidTransition
	}
	p.Status = domain.PaymentStatusFailed
	p.FailureReason = reason
	p.RetryCount++
	p.FailedAt = ptr(at)
	p.UpdatedAt = at
	r.s.payments[id] = p
	return nil
}

func (r *paymentRepository) MarkRefunded(_ context.Context, id int64, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.payments[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !p.Status.CanTransitionTo(domain.PaymentStatusRefunded) {
		return domain.ErrInvalidTransition
	}
	p.Status = domain.PaymentStatusRefunded
	p.RefundedAt = ptr(at)
	p.UpdatedAt = at
	r.s.payments[id] = p
	return nil
}

func (r *paymentRepository) SumFundedByUser(_ context.Context, userID, currentPaymentID int64) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	completed := make(map[int64]bool, len(r.s.sagas))
	for _, saga := range r.s.sagas {
		completed[saga.PaymentID] = saga.Status == domain.SagaStatusCompleted
	}

	var sum int64
	for _, acc := range r.s.accounts {
		if acc.UserID != userID {
			continue
		}
		for _, e := range r.s.entries[acc.ID] {
			if e.Type != domain.EntryDeposit || e.IsReversed || e.Reference.Type != domain.ReferencePayment {
				continue
			}
			paymentID, err := strconv.ParseInt(e.Reference.ID, 10, 64)
			if err != nil {
				continue
			}
			p, ok := r.s.payments[paymentID]
			if !ok || p.Status != domain.PaymentStatusPaid {
				continue
			}
			if paymentID == currentPaymentID || completed[paymentID] {
				sum += e.Amount
			}
		}
	}
	return sum, nil
}

type subscriptionRepository struct {
	s *state
}

func (r *subscriptionRepository) Create(_ context.Context, sub *domain.Subscription) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	sub.ID = r.s.nextID()
	if sub.Status == "" {
		sub.Status = domain.SubscriptionStatusActive
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	sub.UpdatedAt = sub.CreatedAt
	r.s.subscriptions[sub.ID] = *sub
	return nil
}

func (r *subscriptionRepository) GetByID(_ context.Context, id int64) (*domain.Subscription, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	sub, ok := r.s.subscriptions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &sub, nil
}

func (r *subscriptionRepository) GetByGatewayID(_ context.Context, gatewayID string) (*domain.Subscription, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, sub := range r.s.subscriptions {
		if sub.GatewaySubscriptionID == gatewayID {
			return &sub, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *subscriptionRepository) RecordFailedAttempt(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	sub, ok := r.s.subscriptions[id]
	if !ok {
		return domain.ErrNotFound
	}
	sub.FailedAttempts++
	sub.UpdatedAt = time.Now()
	r.s.subscriptions[id] = sub
	return nil
}

type fulfillmentRepository struct {
	s *state
}

func (r *fulfillmentRepository) CommitFulfillment(_ context.Context, c domain.FulfillmentCommit) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.payments[c.PaymentID]
	if !ok {
		return domain.ErrNotFound
	}
	if !p.Status.CanTransitionTo(domain.PaymentStatusPaid) {
		return domain.ErrInvalidTransition
	}

	var sub domain.Subscription
	if c.SubscriptionID != nil {
		if sub, ok = r.s.subscriptions[*c.SubscriptionID]; !ok {
			return domain.ErrNotFound
		}
		sub.Advance(c.PaidAt)
	}
	if c.Saga != nil {
		if _, exists := r.s.sagas[c.Saga.ID]; exists {
			return domain.ErrInvalidTransition
		}
	}

	p.Status = domain.PaymentStatusPaid
	p.PaidAt = ptr(c.PaidAt)
	p.UpdatedAt = c.PaidAt
	if c.GatewayReference != "" {
		p.GatewayReference = c.GatewayReference
	}
	r.s.payments[p.ID] = p
	if c.SubscriptionID != nil {
		r.s.subscriptions[sub.ID] = sub
	}
	if c.Saga != nil {
		r.s.sagas[c.Saga.ID] = cloneSaga(*c.Saga)
	}
	return nil
}
