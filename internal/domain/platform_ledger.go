package domain

import "time"

// PlatformLedgerEntry is one row of the platform-wide capital ledger. It obeys
// the same conservation and immutability rules as LedgerEntry.
type PlatformLedgerEntry struct {
	ID            int64      `json:"id"`
	Type          Direction  `json:"type"`
	Amount        int64      `json:"amount"`
	BalanceBefore int64      `json:"balance_before"`
	BalanceAfter  int64      `json:"balance_after"`
	SourceType    string     `json:"source_type"`
	SourceID      string     `json:"source_id"`
	EntryPairID   *int64     `json:"entry_pair_id,omitempty"`
	IsReversed    bool       `json:"is_reversed"`
	ReversedByID  *int64     `json:"reversed_by_id,omitempty"`
	ReversedAt    *time.Time `json:"reversed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func (e PlatformLedgerEntry) Signed() int64 {
	return int64(e.Type) * e.Amount
}

func (e PlatformLedgerEntry) Conserves() bool {
	return e.BalanceAfter == e.BalanceBefore+e.Signed()
}
