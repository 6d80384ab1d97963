package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"time"

	"fulfillment-backend-trusted/internal/domain"
)

type sagaRepository struct {
	s *state
}

func cloneSaga(s domain.SagaExecution) domain.SagaExecution {
	s.Metadata.Steps = maps.Clone(s.Metadata.Steps)
	if s.Metadata.Steps == nil {
		s.Metadata.Steps = map[domain.SagaStep]domain.StepRecord{}
	}
	s.ResolutionData = slices.Clone(s.ResolutionData)
	return s
}

func (r *sagaRepository) GetByID(_ context.Context, id string) (*domain.SagaExecution, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	saga, ok := r.s.sagas[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := cloneSaga(saga)
	return &out, nil
}

func (r *sagaRepository) GetByPaymentID(_ context.Context, paymentID int64) (*domain.SagaExecution, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, saga := range r.s.sagas {
		if saga.PaymentID == paymentID {
			out := cloneSaga(saga)
			return &out, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *sagaRepository) Update(_ context.Context, saga *domain.SagaExecution) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.sagas[saga.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Status == domain.SagaStatusCompleted {
		return domain.ErrInvalidTransition
	}
	r.s.sagas[saga.ID] = cloneSaga(*saga)
	return nil
}

func (r *sagaRepository) ListByStatus(_ context.Context, statuses []domain.SagaStatus, limit int) ([]domain.SagaExecution, error) {
	return r.list(func(s domain.SagaExecution) bool {
		return len(statuses) == 0 || slices.Contains(statuses, s.Status)
	}, limit), nil
}

func (r *sagaRepository) ListStale(_ context.Context, statuses []domain.SagaStatus, updatedBefore time.Time) ([]domain.SagaExecution, error) {
	return r.list(func(s domain.SagaExecution) bool {
		return slices.Contains(statuses, s.Status) && s.UpdatedAt.Before(updatedBefore)
	}, 0), nil
}

func (r *sagaRepository) list(match func(domain.SagaExecution) bool, limit int) []domain.SagaExecution {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []domain.SagaExecution
	for _, saga := range r.s.sagas {
		if match(saga) {
			out = append(out, cloneSaga(saga))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].InitiatedAt.Equal(out[j].InitiatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].InitiatedAt.Before(out[j].InitiatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// SetSagaUpdatedAt backdates a saga so recovery sweeps can be exercised.
func (s *Store) SetSagaUpdatedAt(id string, at time.Time) {
	r := s.SagaRepository.(*sagaRepository)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	saga := r.s.sagas[id]
	saga.UpdatedAt = at
	r.s.sagas[id] = saga
}

type bonusRepository struct {
	s *state
}

func (r *bonusRepository) Create(_ context.Context, b *domain.Bonus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	b.ID = r.s.nextID()
	if b.Status == "" {
		b.Status = domain.BonusStatusActive
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	r.s.bonuses[b.ID] = *b
	return nil
}

func (r *bonusRepository) GetByID(_ context.Context, id int64) (*domain.Bonus, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	b, ok := r.s.bonuses[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &b, nil
}

func (r *bonusRepository) MarkReversed(_ context.Context, id int64, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	b, ok := r.s.bonuses[id]
	if !ok {
		return domain.ErrNotFound
	}
	if b.Status == domain.BonusStatusReversed {
		return domain.ErrAlreadyReversed
	}
	b.Status = domain.BonusStatusReversed
	b.ReversedAt = ptr(at)
	r.s.bonuses[id] = b
	return nil
}
