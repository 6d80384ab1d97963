package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type BonusStatus string

const (
	BonusStatusActive   BonusStatus = "active"
	BonusStatusReversed BonusStatus = "reversed"
)

// Bonus records a promotional credit. Only NetAmount reaches the wallet; the
// difference is tax withheld at source.
type Bonus struct {
	ID             int64           `json:"id"`
	PaymentID      int64           `json:"payment_id"`
	UserID         int64           `json:"user_id"`
	SubscriptionID *int64          `json:"subscription_id,omitempty"`
	GrossAmount    int64           `json:"gross_amount"`
	TdsRate        decimal.Decimal `json:"tds_rate"`
	TdsAmount      int64           `json:"tds_amount"`
	NetAmount      int64           `json:"net_amount"`
	Status         BonusStatus     `json:"status"`
	ReversedAt     *time.Time      `json:"reversed_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// BonusContext is everything a bonus rule may look at.
type BonusContext struct {
	Payment      Payment
	Subscription *Subscription
}
