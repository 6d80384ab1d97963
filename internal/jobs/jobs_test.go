package jobs_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"fulfillment-backend-trusted/internal/config"
	"fulfillment-backend-trusted/internal/domain"
	"fulfillment-backend-trusted/internal/jobs"
	"fulfillment-backend-trusted/internal/repository/memory"
	"fulfillment-backend-trusted/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockAllocationSaga struct {
	mock.Mock
}

func (m *MockAllocationSaga) Run(ctx context.Context, sagaID string) (*domain.SagaExecution, error) {
	args := m.Called(ctx, sagaID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SagaExecution), args.Error(1)
}

func (m *MockAllocationSaga) Resume(ctx context.Context, sagaID string) (*domain.SagaExecution, error) {
	args := m.Called(ctx, sagaID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SagaExecution), args.Error(1)
}

func (m *MockAllocationSaga) CompensateStored(ctx context.Context, sagaID string) (*domain.SagaExecution, error) {
	args := m.Called(ctx, sagaID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SagaExecution), args.Error(1)
}

func (m *MockAllocationSaga) RecoverStale(ctx context.Context, olderThan time.Duration) ([]domain.SagaExecution, error) {
	args := m.Called(ctx, olderThan)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.SagaExecution), args.Error(1)
}

type MockAuditService struct {
	mock.Mock
}

func (m *MockAuditService) AuditWallets(ctx context.Context) (*service.AuditSummary, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.AuditSummary), args.Error(1)
}

func (m *MockAuditService) AuditPlatform(ctx context.Context) (*service.IntegrityReport, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.IntegrityReport), args.Error(1)
}

func (m *MockAuditService) AccountIntegrity(ctx context.Context, accountID int64) (*service.IntegrityReport, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.IntegrityReport), args.Error(1)
}

func newRunner(store *memory.Store, saga *MockAllocationSaga, audit *MockAuditService) *jobs.JobRunner {
	cfg := &config.Config{Saga: config.SagaConfig{StaleAfterHours: 24}}
	return jobs.NewJobRunner(store.LeaseRepository, &jobs.Services{Saga: saga, Audit: audit}, cfg)
}

func TestRecoverStaleSagas(t *testing.T) {
	t.Run("UsesConfiguredThreshold", func(t *testing.T) {
		saga := new(MockAllocationSaga)
		saga.On("RecoverStale", mock.Anything, 24*time.Hour).
			Return([]domain.SagaExecution{{ID: "saga-1", PaymentID: 7}}, nil).Once()

		newRunner(memory.NewStore(), saga, new(MockAuditService)).RecoverStaleSagas()
		saga.AssertExpectations(t)
	})

	t.Run("ErrorDoesNotPanic", func(t *testing.T) {
		saga := new(MockAllocationSaga)
		saga.On("RecoverStale", mock.Anything, mock.Anything).Return(nil, errors.New("db down")).Once()

		assert.NotPanics(t, newRunner(memory.NewStore(), saga, new(MockAuditService)).RecoverStaleSagas)
		saga.AssertExpectations(t)
	})

	t.Run("PanicRecovered", func(t *testing.T) {
		saga := new(MockAllocationSaga)
		saga.On("RecoverStale", mock.Anything, mock.Anything).Run(func(mock.Arguments) { panic("boom") })

		assert.NotPanics(t, newRunner(memory.NewStore(), saga, new(MockAuditService)).RecoverStaleSagas)
	})
}

func TestAuditJobs(t *testing.T) {
	audit := new(MockAuditService)
	audit.On("AuditWallets", mock.Anything).
		Return(&service.AuditSummary{Accounts: 3, Violations: 1, Drifted: []int64{2}}, nil).Once()
	audit.On("AuditPlatform", mock.Anything).Return(&service.IntegrityReport{Recomputed: 10, Cached: 10}, nil).Once()

	newRunner(memory.NewStore(), new(MockAllocationSaga), audit).RunAllAudits()
	audit.AssertExpectations(t)
}

func TestCleanupExpiredLeases(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	now := time.Now()

	ok, err := store.LeaseRepository.TryAcquire(ctx, domain.Lease{Key: "payment:1", Holder: "a", ExpiresAt: now.Add(-time.Minute)}, now.Add(-time.Hour))
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = store.LeaseRepository.TryAcquire(ctx, domain.Lease{Key: "payment:2", Holder: "a", ExpiresAt: now.Add(time.Hour)}, now)
	require.NoError(t, err)
	require.True(t, ok)

	newRunner(store, new(MockAllocationSaga), new(MockAuditService)).CleanupExpiredLeases()

	// only the expired lease is gone, so another holder can claim it even
	// at a time when it would still have been valid
	ok, err = store.LeaseRepository.TryAcquire(ctx, domain.Lease{Key: "payment:1", Holder: "b", ExpiresAt: now.Add(time.Hour)}, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.LeaseRepository.TryAcquire(ctx, domain.Lease{Key: "payment:2", Holder: "b", ExpiresAt: now.Add(time.Hour)}, now)
	require.NoError(t, err)
	assert.False(t, ok)
}
