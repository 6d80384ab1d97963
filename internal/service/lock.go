package service

import (
	"context"
	"time"

	"fulfillment-backend-trusted/internal/domain"
	"fulfillment-backend-trusted/internal/logger"
	"fulfillment-backend-trusted/internal/metrics"
	"fulfillment-backend-trusted/internal/repository"

	"github.com/google/uuid"
)

const defaultLeasePoll = 50 * time.Millisecond

type leaseLocker struct {
	repo repository.LeaseRepository
	now  func() time.Time
	poll time.Duration
}

func NewLeaseLocker(repo repository.LeaseRepository) Locker {
	return &leaseLocker{repo: repo, now: time.Now, poll: defaultLeasePoll}
}

// Acquire polls for the lease until wait elapses. A lease left behind by a
// crashed holder becomes free once its ttl passes.
func (l *leaseLocker) Acquire(ctx context.Context, key string, wait, ttl time.Duration) (func(), error) {
	holder := uuid.NewString()
	start := l.now()
	deadline := start.Add(wait)

	for {
		now := l.now()
		ok, err := l.repo.TryAcquire(ctx, domain.Lease{Key: key, Holder: holder, ExpiresAt: now.Add(ttl)}, now)
		if err != nil {
			return nil, err
		}
		if ok {
			metrics.LockWaitSeconds.Observe(l.now().Sub(start).Seconds())
			return func() { l.release(ctx, key, holder) }, nil
		}
		if !now.Before(deadline) {
			logger.Warn("Lease wait timed out", "key", key, "wait", wait)
			return nil, domain.ErrLockNotAcquired
		}

		timer := time.NewTimer(l.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *leaseLocker) release(ctx context.Context, key, holder string) {
	if err := l.repo.Release(context.WithoutCancel(ctx), key, holder); err != nil {
		// the lease expires on its own
		logger.Error("Failed to release lease", "key", key, "error", err)
	}
}
