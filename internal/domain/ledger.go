package domain

import (
	"fmt"
	"time"
)

// Direction is the sign an entry applies to its account balance.
type Direction int8

const (
	Debit  Direction = -1
	Credit Direction = 1
)

func (d Direction) String() string {
	if d == Credit {
		return "credit"
	}
	return "debit"
}

// Opposite returns the direction that undoes d.
func (d Direction) Opposite() Direction {
	return -d
}

func ParseDirection(s string) (Direction, error) {
	switch s {
	case "credit":
		return Credit, nil
	case "debit":
		return Debit, nil
	}
	return 0, fmt.Errorf("unknown direction %q", s)
}

type EntryType uint8

// New entry types must be added directly above entryTypeCount and given a row
// in entryTypes; the array assertions below fail the build otherwise.
const (
	EntryDeposit EntryType = iota
	EntryBonus
	EntryRefund
	EntryWithdrawal
	EntryTdsDeduction
	EntryReversalCredit
	EntryReversalDebit
	entryTypeCount
)

type entryTypeInfo struct {
	name      string
	direction Direction
	reversal  EntryType
}

var entryTypes = [...]entryTypeInfo{
	EntryDeposit:        {"deposit", Credit, EntryReversalDebit},
	EntryBonus:          {"bonus", Credit, EntryReversalDebit},
	EntryRefund:         {"refund", Credit, EntryReversalDebit},
	EntryWithdrawal:     {"withdrawal", Debit, EntryReversalCredit},
	EntryTdsDeduction:   {"tds_deduction", Debit, EntryReversalCredit},
	EntryReversalCredit: {"reversal_credit", Credit, EntryReversalDebit},
	EntryReversalDebit:  {"reversal_debit", Debit, EntryReversalCredit},
}

// Compile-time check that every EntryType has exactly one row in entryTypes.
var (
	_ [len(entryTypes) - int(entryTypeCount)]struct{}
	_ [int(entryTypeCount) - len(entryTypes)]struct{}
)

func init() {
	for i, info := range entryTypes {
		if info.name == "" || info.direction == 0 {
			panic(fmt.Sprintf("domain: entry type %d has no mapping", i))
		}
		if entryTypes[info.reversal].direction != info.direction.Opposite() {
			panic(fmt.Sprintf("domain: reversal of %s does not flip direction", info.name))
		}
	}
}

func (t EntryType) valid() bool { return t < entryTypeCount }

func (t EntryType) String() string {
	if !t.valid() {
		return fmt.Sprintf("EntryType(%d)", uint8(t))
	}
	return entryTypes[t].name
}

func (t EntryType) Direction() Direction {
	return entryTypes[t].direction
}

// ReversalType is the entry type written when an entry of type t is reversed.
func (t EntryType) ReversalType() EntryType {
	return entryTypes[t].reversal
}

func (t EntryType) IsReversal() bool {
	return t == EntryReversalCredit || t == EntryReversalDebit
}

func (t EntryType) MarshalText() ([]byte, error) {
	if !t.valid() {
		return nil, fmt.Errorf("invalid entry type %d", uint8(t))
	}
	return []byte(t.String()), nil
}

func (t *EntryType) UnmarshalText(b []byte) error {
	parsed, err := ParseEntryType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func ParseEntryType(s string) (EntryType, error) {
	for i, info := range entryTypes {
		if info.name == s {
			return EntryType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown entry type %q", s)
}

// Reference points at the business event that caused an entry.
type Reference struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

const (
	ReferencePayment = "payment"
	ReferenceBonus   = "bonus"
	ReferenceRefund  = "refund"
	ReferenceSaga    = "saga"
)

func PaymentReference(paymentID int64) Reference {
	return Reference{Type: ReferencePayment, ID: fmt.Sprintf("%d", paymentID)}
}

func BonusReference(bonusID int64) Reference {
	return Reference{Type: ReferenceBonus, ID: fmt.Sprintf("%d", bonusID)}
}

// Account is a per-user wallet. CachedBalance is a denormalized hint; the
// ledger entries are authoritative.
type Account struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"user_id"`
	CachedBalance int64     `json:"cached_balance"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// LedgerEntry is an immutable balance-affecting fact. Only IsReversed,
// ReversedByID, ReversedAt and ReversalReason are ever written after insert,
// together and exactly once.
type LedgerEntry struct {
	ID             int64      `json:"id"`
	AccountID      int64      `json:"account_id"`
	Type           EntryType  `json:"type"`
	Amount         int64      `json:"amount"` // minor units, always positive
	BalanceBefore  int64      `json:"balance_before"`
	BalanceAfter   int64      `json:"balance_after"`
	Reference      Reference  `json:"reference"`
	PairedEntryID  *int64     `json:"paired_entry_id,omitempty"`
	IsReversed     bool       `json:"is_reversed"`
	ReversedByID   *int64     `json:"reversed_by_id,omitempty"`
	ReversedAt     *time.Time `json:"reversed_at,omitempty"`
	ReversalReason string     `json:"reversal_reason,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Signed returns the amount with the entry's direction applied.
func (e LedgerEntry) Signed() int64 {
	return int64(e.Type.Direction()) * e.Amount
}

// Conserves reports whether BalanceAfter = BalanceBefore ± Amount.
func (e LedgerEntry) Conserves() bool {
	return e.BalanceAfter == e.BalanceBefore+e.Signed()
}
