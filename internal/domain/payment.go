package domain

import "time"

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending: {PaymentStatusPaid, PaymentStatusFailed},
	PaymentStatusPaid:    {PaymentStatusRefunded},
}

// CanTransitionTo reports whether s -> next is an allowed payment transition.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Payment is one external charge attempt.
type Payment struct {
	ID               int64         `json:"id"`
	UserID           int64         `json:"user_id"`
	SubscriptionID   *int64        `json:"subscription_id,omitempty"`
	Amount           int64         `json:"amount"` // minor units
	Status           PaymentStatus `json:"status"`
	GatewayOrderID   string        `json:"gateway_order_id,omitempty"`
	GatewayPaymentID string        `json:"gateway_payment_id,omitempty"`
	GatewayReference string        `json:"gateway_reference,omitempty"`
	RetryCount       int32         `json:"retry_count"`
	FailureReason    string        `json:"failure_reason,omitempty"`
	PaidAt           *time.Time    `json:"paid_at,omitempty"`
	FailedAt         *time.Time    `json:"failed_at,omitempty"`
	RefundedAt       *time.Time    `json:"refunded_at,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// FulfillmentCommit is written atomically when a pending payment is fulfilled:
// the payment becomes paid, its subscription schedule advances and the saga
// record that will allocate the money is created.
type FulfillmentCommit struct {
	PaymentID        int64
	SubscriptionID   *int64
	GatewayReference string
	PaidAt           time.Time
	Saga             *SagaExecution
}
