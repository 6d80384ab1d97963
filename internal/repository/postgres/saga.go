package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"fulfillment-backend-trusted/internal/domain"
	"fulfillment-backend-trusted/internal/repository"

	"github.com/lib/pq"
)

const sagaColumns = `saga_id, payment_id, status, steps_total, steps_completed, metadata, COALESCE(failure_reason, ''),
	resolution_data, initiated_at, completed_at, failed_at, compensated_at, updated_at`

type sagaRepository struct {
	db *sql.DB
}

func NewSagaRepository(db *sql.DB) repository.SagaRepository {
	return &sagaRepository{db: db}
}

func scanSaga(row rowScanner) (*domain.SagaExecution, error) {
	var s domain.SagaExecution
	var metadata, resolution []byte
	var completedAt, failedAt, compensatedAt sql.NullTime
	err := row.Scan(&s.ID, &s.PaymentID, &s.Status, &s.StepsTotal, &s.StepsCompleted, &metadata, &s.FailureReason,
		&resolution, &s.InitiatedAt, &completedAt, &failedAt, &compensatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if err := json.Unmarshal(metadata, &s.Metadata); err != nil {
		return nil, fmt.Errorf("decode saga %s metadata: %w", s.ID, err)
	}
	if s.Metadata.Steps == nil {
		s.Metadata.Steps = map[domain.SagaStep]domain.StepRecord{}
	}
	if len(resolution) > 0 {
		s.ResolutionData = json.RawMessage(resolution)
	}
	s.CompletedAt = nullTimePtr(completedAt)
	s.FailedAt = nullTimePtr(failedAt)
	s.CompensatedAt = nullTimePtr(compensatedAt)
	return &s, nil
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func insertSaga(ctx context.Context, q querier, s *domain.SagaExecution) error {
	metadata, err := json.Marshal(s.Metadata)
	if err != nil {
		return err
	}
	query := `INSERT INTO saga_executions (saga_id, payment_id, status, steps_total, steps_completed, metadata,
	              failure_reason, resolution_data, initiated_at, completed_at, failed_at, compensated_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err = q.ExecContext(ctx, query, s.ID, s.PaymentID, s.Status, s.StepsTotal, s.StepsCompleted, metadata,
		nullString(s.FailureReason), nullJSON(s.ResolutionData), s.InitiatedAt, s.CompletedAt, s.FailedAt,
		s.CompensatedAt, s.UpdatedAt)
	if isUniqueViolation(err) {
		// one saga per payment
		return domain.ErrInvalidTransition
	}
	return err
}

func (r *sagaRepository) GetByID(ctx context.Context, id string) (*domain.SagaExecution, error) {
	return scanSaga(r.db.QueryRowContext(ctx, `SELECT `+sagaColumns+` FROM saga_executions WHERE saga_id = $1`, id))
}

func (r *sagaRepository) GetByPaymentID(ctx context.Context, paymentID int64) (*domain.SagaExecution, error) {
	return scanSaga(r.db.QueryRowContext(ctx, `SELECT `+sagaColumns+` FROM saga_executions WHERE payment_id = $1`, paymentID))
}

func (r *sagaRepository) Update(ctx context.Context, s *domain.SagaExecution) error {
	metadata, err := json.Marshal(s.Metadata)
	if err != nil {
		return err
	}
	query := `UPDATE saga_executions SET status = $1, steps_completed = $2, metadata = $3, failure_reason = $4,
	              resolution_data = $5, completed_at = $6, failed_at = $7, compensated_at = $8, updated_at = $9
	          WHERE saga_id = $10 AND status <> 'completed'`
	res, err := r.db.ExecContext(ctx, query, s.Status, s.StepsCompleted, metadata, nullString(s.FailureReason),
		nullJSON(s.ResolutionData), s.CompletedAt, s.FailedAt, s.CompensatedAt, s.UpdatedAt, s.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := r.GetByID(ctx, s.ID); err != nil {
		return err
	}
	return domain.ErrInvalidTransition
}

func statusStrings(statuses []domain.SagaStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func (r *sagaRepository) ListByStatus(ctx context.Context, statuses []domain.SagaStatus, limit int) ([]domain.SagaExecution, error) {
	query := `SELECT ` + sagaColumns + ` FROM saga_executions
	          WHERE (cardinality($1::text[]) = 0 OR status = ANY($1)) ORDER BY initiated_at, saga_id`
	args := []any{pq.Array(statusStrings(statuses))}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	return r.list(ctx, query, args...)
}

func (r *sagaRepository) ListStale(ctx context.Context, statuses []domain.SagaStatus, updatedBefore time.Time) ([]domain.SagaExecution, error) {
	query := `SELECT ` + sagaColumns + ` FROM saga_executions
	          WHERE status = ANY($1) AND updated_at < $2 ORDER BY initiated_at, saga_id`
	return r.list(ctx, query, pq.Array(statusStrings(statuses)), updatedBefore)
}

func (r *sagaRepository) list(ctx context.Context, query string, args ...any) ([]domain.SagaExecution, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SagaExecution
	for rows.Next() {
		s, err := scanSaga(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}
