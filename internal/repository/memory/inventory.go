package memory

import (
	"context"
	"sort"
	"time"

	"fulfillment-backend-trusted/internal/domain"
)

type inventoryRepository struct {
	s *state
}

func (r *inventoryRepository) AddLot(_ context.Context, lot *domain.InventoryLot) error {
	if lot.TotalValue <= 0 {
		return domain.ErrInvalidAmount
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	lot.ID = r.s.nextID()
	lot.RemainingValue = lot.TotalValue
	if lot.CreatedAt.IsZero() {
		lot.CreatedAt = time.Now()
	}
	r.s.lots = append(r.s.lots, *lot)
	sort.SliceStable(r.s.lots, func(i, j int) bool {
		return r.s.lots[i].CreatedAt.Before(r.s.lots[j].CreatedAt)
	})
	return nil
}

func (r *inventoryRepository) AllocateFIFO(_ context.Context, actx domain.AllocationContext, amount int64) ([]domain.Allocation, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var available int64
	for _, lot := range r.s.lots {
		available += lot.RemainingValue
	}
	if available < amount {
		return nil, domain.ErrInsufficientInventory
	}

	now := time.Now()
	var out []domain.Allocation
	remaining := amount
	for i := range r.s.lots {
		if remaining == 0 {
			break
		}
		lot := &r.s.lots[i]
		if lot.RemainingValue == 0 {
			continue
		}
		take := min(lot.RemainingValue, remaining)
		lot.RemainingValue -= take
		remaining -= take

		a := domain.Allocation{
			ID:        r.s.nextID(),
			UserID:    actx.UserID,
			PaymentID: actx.PaymentID,
			LotID:     lot.ID,
			Amount:    take,
			CreatedAt: now,
		}
		r.s.allocations[a.ID] = a
		out = append(out, a)
	}
	return out, nil
}

func (r *inventoryRepository) ReverseAllocation(_ context.Context, allocationID int64, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.allocations[allocationID]
	if !ok {
		return domain.ErrNotFound
	}
	if a.IsReversed {
		return domain.ErrAlreadyReversed
	}
	for i := range r.s.lots {
		if r.s.lots[i].ID == a.LotID {
			r.s.lots[i].RemainingValue += a.Amount
			break
		}
	}
	a.IsReversed = true
	a.ReversedAt = ptr(at)
	r.s.allocations[allocationID] = a
	return nil
}

func (r *inventoryRepository) SumActiveByUser(_ context.Context, userID int64) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var sum int64
	for _, a := range r.s.allocations {
		if a.UserID == userID && !a.IsReversed {
			sum += a.Amount
		}
	}
	return sum, nil
}

type leaseRepository struct {
	s *state
}

func (r *leaseRepository) TryAcquire(_ context.Context, lease domain.Lease, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if held, ok := r.s.leases[lease.Key]; ok && held.ExpiresAt.After(now) && held.Holder != lease.Holder {
		return false, nil
	}
	r.s.leases[lease.Key] = lease
	return true, nil
}

func (r *leaseRepository) Release(_ context.Context, key, holder string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if held, ok := r.s.leases[key]; ok && held.Holder == holder {
		delete(r.s.leases, key)
	}
	return nil
}

func (r *leaseRepository) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for key, l := range r.s.leases {
		if !l.ExpiresAt.After(now) {
			delete(r.s.leases, key)
			n++
		}
	}
	return n, nil
}
