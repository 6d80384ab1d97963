package memory

import (
	"context"
	"time"

	"fulfillment-backend-trusted/internal/domain"
	"fulfillment-backend-trusted/internal/repository"
)

type platformLedgerRepository struct {
	s *state
}

func (r *platformLedgerRepository) GetEntry(_ context.Context, id int64) (*domain.PlatformLedgerEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, e := range r.s.platform {
		if e.ID == id {
			return &e, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *platformLedgerRepository) ListEntries(_ context.Context) ([]domain.PlatformLedgerEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]domain.PlatformLedgerEntry, len(r.s.platform))
	copy(out, r.s.platform)
	return out, nil
}

func (r *platformLedgerRepository) CachedBalance(_ context.Context) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.platformBal, nil
}

func (r *platformLedgerRepository) WithLock(ctx context.Context, fn func(tx repository.PlatformLedgerTx) error) error {
	r.s.platformLock.Lock()
	defer r.s.platformLock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	r.s.mu.RLock()
	tx := &platformTx{s: r.s, balance: r.s.platformBal, entries: make([]domain.PlatformLedgerEntry, len(r.s.platform))}
	copy(tx.entries, r.s.platform)
	r.s.mu.RUnlock()

	if err := fn(tx); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.platform = tx.entries
	r.s.platformBal = tx.balance
	return nil
}

type platformTx struct {
	s       *state
	balance int64
	entries []domain.PlatformLedgerEntry
}

func (t *platformTx) CachedBalance() int64 {
	return t.balance
}

func (t *platformTx) Entries() ([]domain.PlatformLedgerEntry, error) {
	out := make([]domain.PlatformLedgerEntry, len(t.entries))
	copy(out, t.entries)
	return out, nil
}

func (t *platformTx) Entry(id int64) (*domain.PlatformLedgerEntry, error) {
	for i := range t.entries {
		if t.entries[i].ID == id {
			e := t.entries[i]
			return &e, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (t *platformTx) Insert(e *domain.PlatformLedgerEntry) error {
	if e.Amount <= 0 {
		return domain.ErrInvalidAmount
	}
	e.ID = t.s.nextID()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	t.entries = append(t.entries, *e)
	return nil
}

func (t *platformTx) MarkReversed(id, reversedByID int64, at time.Time) error {
	for i := range t.entries {
		if t.entries[i].ID != id {
			continue
		}
		if t.entries[i].IsReversed {
			return domain.ErrAlreadyReversed
		}
		t.entries[i].IsReversed = true
		t.entries[i].ReversedByID = ptr(reversedByID)
		t.entries[i].ReversedAt = ptr(at)
		return nil
	}
	return domain.ErrNotFound
}

func (t *platformTx) SetCachedBalance(balance int64) error {
	t.balance = balance
	return nil
}
