package domain

import "time"

type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusPaused    SubscriptionStatus = "paused"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

type Subscription struct {
	ID                    int64              `json:"id"`
	UserID                int64              `json:"user_id"`
	GatewaySubscriptionID string             `json:"gateway_subscription_id"`
	InstallmentAmount     int64              `json:"installment_amount"`
	IntervalDays          int32              `json:"interval_days"`
	InstallmentsPaid      int32              `json:"installments_paid"`
	FailedAttempts        int32              `json:"failed_attempts"`
	NextChargeAt          time.Time          `json:"next_charge_at"`
	PanVerified           bool               `json:"pan_verified"`
	Status                SubscriptionStatus `json:"status"`
	CreatedAt             time.Time          `json:"created_at"`
	UpdatedAt             time.Time          `json:"updated_at"`
}

// Advance moves the schedule forward by one paid installment.
func (s *Subscription) Advance(at time.Time) {
	s.InstallmentsPaid++
	s.FailedAttempts = 0
	s.NextChargeAt = s.NextChargeAt.AddDate(0, 0, int(s.IntervalDays))
	s.UpdatedAt = at
}
