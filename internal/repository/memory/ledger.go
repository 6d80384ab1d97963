package memory

import (
	"context"
	"sort"
	"time"

	"fulfillment-backend-trusted/internal/domain"
	"fulfillment-backend-trusted/internal/repository"
)

type ledgerRepository struct {
	s *state
}

func (r *ledgerRepository) EnsureAccount(_ context.Context, userID int64) (*domain.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, a := range r.s.accounts {
		if a.UserID == userID {
			return &a, nil
		}
	}
	now := time.Now()
	a := domain.Account{ID: r.s.nextID(), UserID: userID, CreatedAt: now, UpdatedAt: now}
	r.s.accounts[a.ID] = a
	return &a, nil
}

func (r *ledgerRepository) GetAccount(_ context.Context, accountID int64) (*domain.Account, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	a, ok := r.s.accounts[accountID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &a, nil
}

func (r *ledgerRepository) ListAccountIDs(_ context.Context) ([]int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	ids := make([]int64, 0, len(r.s.accounts))
	for id := range r.s.accounts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *ledgerRepository) GetEntry(_ context.Context, id int64) (*domain.LedgerEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, list := range r.s.entries {
		for _, e := range list {
			if e.ID == id {
				return &e, nil
			}
		}
	}
	return nil, domain.ErrNotFound
}

func (r *ledgerRepository) ListEntries(_ context.Context, accountID int64) ([]domain.LedgerEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]domain.LedgerEntry, len(r.s.entries[accountID]))
	copy(out, r.s.entries[accountID])
	return out, nil
}

// WithAccountLock serialises fn against every other locked transaction on the
// same account. Writes are staged on the tx and applied only when fn succeeds.
func (r *ledgerRepository) WithAccountLock(ctx context.Context, accountID int64, fn func(tx repository.LedgerTx) error) error {
	lock := r.s.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	r.s.mu.RLock()
	account, ok := r.s.accounts[accountID]
	committed := make([]domain.LedgerEntry, len(r.s.entries[accountID]))
	copy(committed, r.s.entries[accountID])
	r.s.mu.RUnlock()
	if !ok {
		return domain.ErrNotFound
	}

	tx := &ledgerTx{s: r.s, account: account, entries: committed}
	if err := fn(tx); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.entries[accountID] = tx.entries
	r.s.accounts[accountID] = tx.account
	return nil
}

// ledgerTx works on a private copy of the account's rows.
type ledgerTx struct {
	s       *state
	account domain.Account
	entries []domain.LedgerEntry
}

func (t *ledgerTx) Account() domain.Account {
	return t.account
}

func (t *ledgerTx) Entries() ([]domain.LedgerEntry, error) {
	out := make([]domain.LedgerEntry, len(t.entries))
	copy(out, t.entries)
	return out, nil
}

func (t *ledgerTx) Entry(id int64) (*domain.LedgerEntry, error) {
	for i := range t.entries {
		if t.entries[i].ID == id {
			e := t.entries[i]
			return &e, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (t *ledgerTx) Insert(e *domain.LedgerEntry) error {
	if e.Amount <= 0 {
		return domain.ErrInvalidAmount
	}
	e.ID = t.s.nextID()
	e.AccountID = t.account.ID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	t.entries = append(t.entries, *e)
	return nil
}

func (t *ledgerTx) MarkReversed(id, reversedByID int64, reason string, at time.Time) error {
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
		t.entries[i].ReversalReason = reason
		return nil
	}
	return domain.ErrNotFound
}

func (t *ledgerTx) SetCachedBalance(balance int64) error {
	t.account.CachedBalance = balance
	t.account.UpdatedAt = time.Now()
	return nil
}

// CorruptCachedBalance overwrites an account's cached balance without a
// ledger entry. It exists so tests can simulate out-of-band writes.
func (s *Store) CorruptCachedBalance(accountID, balance int64) {
	r := s.LedgerRepository.(*ledgerRepository)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a := r.s.accounts[accountID]
	a.CachedBalance = balance
	r.s.accounts[accountID] = a
}

// TamperEntry rewrites a stored entry in place, bypassing append-only rules,
// so integrity checks can be exercised.
func (s *Store) TamperEntry(entryID int64, mutate func(e *domain.LedgerEntry)) {
	r := s.LedgerRepository.(*ledgerRepository)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for acc, list := range r.s.entries {
		for i := range list {
			if list[i].ID == entryID {
				mutate(&r.s.entries[acc][i])
				return
			}
		}
	}
}
