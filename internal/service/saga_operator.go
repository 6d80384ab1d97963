package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fulfillment-backend-trusted/internal/domain"
	"fulfillment-backend-trusted/internal/logger"
	"fulfillment-backend-trusted/internal/repository"
)

const defaultSagaListLimit = 100

type sagaOperatorService struct {
	sagas repository.SagaRepository
	saga  AllocationSaga
	now   func() time.Time
}

func NewSagaOperatorService(sagas repository.SagaRepository, saga AllocationSaga) SagaOperatorService {
	return &sagaOperatorService{sagas: sagas, saga: saga, now: time.Now}
}

func (s *sagaOperatorService) List(ctx context.Context, statuses []domain.SagaStatus, limit int) ([]domain.SagaExecution, error) {
	if limit <= 0 {
		limit = defaultSagaListLimit
	}
	return s.sagas.ListByStatus(ctx, statuses, limit)
}

func (s *sagaOperatorService) Get(ctx context.Context, sagaID string) (*domain.SagaExecution, error) {
	return s.sagas.GetByID(ctx, sagaID)
}

// Resolve records that an operator reconciled a stuck saga by hand. It
// writes resolution data only; no money moves.
func (s *sagaOperatorService) Resolve(ctx context.Context, sagaID, operatorID, note string) (*domain.SagaExecution, error) {
	saga, err := s.sagas.GetByID(ctx, sagaID)
	if err != nil {
		return nil, err
	}
	switch saga.Status {
	case domain.SagaStatusCompensationFailed, domain.SagaStatusRequiresManualResolution:
	default:
		return nil, fmt.Errorf("saga %s is %s: %w", sagaID, saga.Status, domain.ErrInvalidTransition)
	}
	if len(saga.ResolutionData) > 0 {
		return nil, fmt.Errorf("saga %s already resolved: %w", sagaID, domain.ErrInvalidTransition)
	}

	now := s.now()
	data, err := json.Marshal(domain.SagaResolution{OperatorID: operatorID, Note: note, ResolvedAt: now})
	if err != nil {
		return nil, err
	}
	saga.ResolutionData = data
	saga.UpdatedAt = now
	if err := s.sagas.Update(ctx, saga); err != nil {
		return nil, err
	}
	logger.WithSaga(saga.ID, saga.PaymentID).Warn("Saga resolved by operator", "operator_id", operatorID, "status", saga.Status)
	return saga, nil
}

func (s *sagaOperatorService) Compensate(ctx context.Context, sagaID string) (*domain.SagaExecution, error) {
	return s.saga.CompensateStored(ctx, sagaID)
}

// Resume restarts a saga that stopped before finishing. Steps already
// recorded are not executed again.
func (s *sagaOperatorService) Resume(ctx context.Context, sagaID string) (*domain.SagaExecution, error) {
	return s.saga.Resume(ctx, sagaID)
}
