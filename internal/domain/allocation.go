package domain

import "time"

type InventoryLot struct {
	ID             int64     `json:"id"`
	Label          string    `json:"label"`
	TotalValue     int64     `json:"total_value"`
	RemainingValue int64     `json:"remaining_value"`
	CreatedAt      time.Time `json:"created_at"`
}

// Allocation is value drawn from one inventory lot on behalf of a user.
type Allocation struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"user_id"`
	PaymentID  int64      `json:"payment_id"`
	LotID      int64      `json:"lot_id"`
	Amount     int64      `json:"amount"`
	IsReversed bool       `json:"is_reversed"`
	ReversedAt *time.Time `json:"reversed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

type AllocationContext struct {
	UserID         int64
	PaymentID      int64
	SubscriptionID *int64
}
