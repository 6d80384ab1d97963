package service

import (
	"context"
	"time"

	"fulfillment-backend-trusted/internal/domain"
	"fulfillment-backend-trusted/internal/logger"
	"fulfillment-backend-trusted/internal/repository"
)

type fifoAllocator struct {
	inventory repository.InventoryRepository
	now       func() time.Time
}

// NewFIFOAllocator draws from the oldest inventory lots first. Lot row
// locking belongs to the repository.
func NewFIFOAllocator(inventory repository.InventoryRepository) AllocationService {
	return &fifoAllocator{inventory: inventory, now: time.Now}
}

func (a *fifoAllocator) Allocate(ctx context.Context, actx domain.AllocationContext, amount int64) ([]domain.Allocation, error) {
	allocs, err := a.inventory.AllocateFIFO(ctx, actx, amount)
	if err != nil {
		logger.Warn("FIFO allocation failed", "user_id", actx.UserID, "payment_id", actx.PaymentID, "amount", amount, "error", err)
		return nil, err
	}
	logger.Debug("FIFO allocation done", "user_id", actx.UserID, "payment_id", actx.PaymentID, "lots", len(allocs))
	return allocs, nil
}

func (a *fifoAllocator) ReverseAllocation(ctx context.Context, allocationID int64) error {
	return a.inventory.ReverseAllocation(ctx, allocationID, a.now())
}
