package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"fulfillment-backend-trusted/internal/domain"
	"fulfillment-backend-trusted/internal/repository/memory"
	"fulfillment-backend-trusted/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestLeaseLocker(t *testing.T) {
	ctx := context.Background()

	t.Run("ExclusiveUntilReleased", func(t *testing.T) {
		locker := service.NewLeaseLocker(memory.NewStore().LeaseRepository)
		release, err := locker.Acquire(ctx, "payment:1", 0, time.Minute)
		require.NoError(t, err)

		_, err = locker.Acquire(ctx, "payment:1", 10*time.Millisecond, time.Minute)
		assert.ErrorIs(t, err, domain.ErrLockNotAcquired)

		other, err := locker.Acquire(ctx, "payment:2", 0, time.Minute)
		require.NoError(t, err)
		other()

		release()
		again, err := locker.Acquire(ctx, "payment:1", 0, time.Minute)
		require.NoError(t, err)
		again()
	})

	t.Run("ExpiredLeaseTakenOver", func(t *testing.T) {
		locker := service.NewLeaseLocker(memory.NewStore().LeaseRepository)
		// never released: the holder crashed
		_, err := locker.Acquire(ctx, "payment:1", 0, 5*time.Millisecond)
		require.NoError(t, err)

		release, err := locker.Acquire(ctx, "payment:1", time.Second, time.Minute)
		require.NoError(t, err)
		release()
	})

	t.Run("WaitsForRelease", func(t *testing.T) {
		locker := service.NewLeaseLocker(memory.NewStore().LeaseRepository)
		release, err := locker.Acquire(ctx, "k", 0, time.Minute)
		require.NoError(t, err)
		time.AfterFunc(30*time.Millisecond, release)

		second, err := locker.Acquire(ctx, "k", 2*time.Second, time.Minute)
		require.NoError(t, err)
		second()
	})

	t.Run("ContextCancelled", func(t *testing.T) {
		locker := service.NewLeaseLocker(memory.NewStore().LeaseRepository)
		release, err := locker.Acquire(ctx, "k", 0, time.Minute)
		require.NoError(t, err)
		defer release()

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err = locker.Acquire(cctx, "k", time.Minute, time.Minute)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestAsyncDispatcher(t *testing.T) {
	ctx := context.Background()

	t.Run("RunsQueuedSagas", func(t *testing.T) {
		saga := new(MockAllocationSaga)
		var wg sync.WaitGroup
		wg.Add(2)
		saga.On("Run", mock.Anything, mock.AnythingOfType("string")).
			Run(func(mock.Arguments) { wg.Done() }).
			Return(&domain.SagaExecution{Status: domain.SagaStatusCompleted}, nil).Twice()

		d := service.NewAsyncDispatcher(saga, 2, 8)
		d.Start(ctx)
		require.NoError(t, d.Dispatch(ctx, "saga-1"))
		require.NoError(t, d.Dispatch(ctx, "saga-2"))
		wg.Wait()
		d.Stop()

		saga.AssertExpectations(t)
	})

	t.Run("QueueFull", func(t *testing.T) {
		saga := new(MockAllocationSaga)
		d := service.NewAsyncDispatcher(saga, 1, 1)

		require.NoError(t, d.Dispatch(ctx, "saga-1"))
		err := d.Dispatch(ctx, "saga-2")
		assert.ErrorIs(t, err, domain.ErrQueueFull)
		assert.True(t, domain.IsRetryable(err))
	})

	t.Run("DrainsAfterStartContextCancelled", func(t *testing.T) {
		f := newFixture(t)
		f.addLot(t, 50_000)
		_, saga := f.paidWithSaga(t, 1, 10_000)

		cctx, cancel := context.WithCancel(ctx)
		d := service.NewAsyncDispatcher(f.saga, 1, 4)
		d.Start(cctx)
		cancel()
		require.NoError(t, d.Dispatch(ctx, saga.ID))
		d.Stop()

		done, err := f.store.SagaRepository.GetByID(ctx, saga.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.SagaStatusCompleted, done.Status)
		assert.Empty(t, done.FailureReason)
		bal, _ := f.wallet.Balance(ctx, 1)
		assert.Equal(t, int64(10_000), bal)
	})

	t.Run("InlineDetachedFromCaller", func(t *testing.T) {
		f := newFixture(t)
		f.addLot(t, 50_000)
		_, saga := f.paidWithSaga(t, 1, 10_000)

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		require.NoError(t, service.NewInlineDispatcher(f.saga).Dispatch(cctx, saga.ID))
		assert.Equal(t, domain.SagaStatusCompleted, f.sagaFor(t, saga.PaymentID).Status)
	})

	t.Run("Inline", func(t *testing.T) {
		saga := new(MockAllocationSaga)
		saga.On("Run", mock.Anything, "saga-1").Return(nil, domain.ErrNotFound).Once()

		err := service.NewInlineDispatcher(saga).Dispatch(ctx, "saga-1")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		saga.AssertExpectations(t)
	})
}
