package domain

import (
	"encoding/json"
	"time"
)

type SagaStatus string

const (
	SagaStatusProcessing               SagaStatus = "processing"
	SagaStatusCompleted                SagaStatus = "completed"
	SagaStatusFailed                   SagaStatus = "failed"
	SagaStatusCompensated              SagaStatus = "compensated"
	SagaStatusCompensationFailed       SagaStatus = "compensation_failed"
	SagaStatusRequiresManualResolution SagaStatus = "requires_manual_resolution"
)

func ParseSagaStatus(s string) (SagaStatus, bool) {
	switch st := SagaStatus(s); st {
	case SagaStatusProcessing, SagaStatusCompleted, SagaStatusFailed, SagaStatusCompensated,
		SagaStatusCompensationFailed, SagaStatusRequiresManualResolution:
		return st, true
	}
	return "", false
}

type SagaStep string

const (
	StepCreditWallet   SagaStep = "credit_wallet"
	StepCreditBonus    SagaStep = "credit_bonus"
	StepAllocateShares SagaStep = "allocate_shares"
)

// SagaSteps is the forward execution order. Compensation walks it backwards.
var SagaSteps = []SagaStep{StepCreditWallet, StepCreditBonus, StepAllocateShares}

// StepRecord is persisted once a step has completed. Data holds whatever the
// step's compensation needs.
type StepRecord struct {
	Data        json.RawMessage `json:"data,omitempty"`
	Skipped     bool            `json:"skipped,omitempty"`
	Partial     bool            `json:"partial,omitempty"` // step failed after writing Data
	CompletedAt time.Time       `json:"completed_at"`
	Compensated bool            `json:"compensated,omitempty"`
}

type SagaMetadata struct {
	Steps             map[SagaStep]StepRecord `json:"steps"`
	CompensationError string                  `json:"compensation_error,omitempty"`
	CompensationStep  SagaStep                `json:"compensation_step,omitempty"`
}

// SagaExecution tracks one run of the allocation saga for a payment.
type SagaExecution struct {
	ID             string          `json:"saga_id"`
	PaymentID      int64           `json:"payment_id"`
	Status         SagaStatus      `json:"status"`
	StepsTotal     int32           `json:"steps_total"`
	StepsCompleted int32           `json:"steps_completed"`
	Metadata       SagaMetadata    `json:"metadata"`
	FailureReason  string          `json:"failure_reason,omitempty"`
	ResolutionData json.RawMessage `json:"resolution_data,omitempty"`
	InitiatedAt    time.Time       `json:"initiated_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	FailedAt       *time.Time      `json:"failed_at,omitempty"`
	CompensatedAt  *time.Time      `json:"compensated_at,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func NewSagaExecution(id string, paymentID int64, at time.Time) *SagaExecution {
	return &SagaExecution{
		ID:          id,
		PaymentID:   paymentID,
		Status:      SagaStatusProcessing,
		StepsTotal:  int32(len(SagaSteps)),
		Metadata:    SagaMetadata{Steps: map[SagaStep]StepRecord{}},
		InitiatedAt: at,
		UpdatedAt:   at,
	}
}

func (s *SagaExecution) RecordStep(step SagaStep, rec StepRecord) {
	if s.Metadata.Steps == nil {
		s.Metadata.Steps = map[SagaStep]StepRecord{}
	}
	s.Metadata.Steps[step] = rec
	s.StepsCompleted++
	s.UpdatedAt = rec.CompletedAt
}

// RecordPartial keeps the data of a step that failed part way, so its
// compensation can still find what was written. StepsCompleted is unchanged.
func (s *SagaExecution) RecordPartial(step SagaStep, data json.RawMessage, at time.Time) {
	if s.Metadata.Steps == nil {
		s.Metadata.Steps = map[SagaStep]StepRecord{}
	}
	s.Metadata.Steps[step] = StepRecord{Data: data, Partial: true, CompletedAt: at}
	s.UpdatedAt = at
}

// CompletedSteps returns recorded steps, partial ones included, in forward order.
func (s *SagaExecution) CompletedSteps() []SagaStep {
	var out []SagaStep
	for _, step := range SagaSteps {
		if _, ok := s.Metadata.Steps[step]; ok {
			out = append(out, step)
		}
	}
	return out
}

func (s *SagaExecution) MarkStepCompensated(step SagaStep, at time.Time) {
	rec := s.Metadata.Steps[step]
	rec.Compensated = true
	s.Metadata.Steps[step] = rec
	s.UpdatedAt = at
}

func (s *SagaExecution) Complete(at time.Time) {
	s.Status = SagaStatusCompleted
	s.CompletedAt = &at
	s.UpdatedAt = at
}

func (s *SagaExecution) Fail(reason string, at time.Time) {
	s.Status = SagaStatusFailed
	s.FailureReason = reason
	s.FailedAt = &at
	s.UpdatedAt = at
}

func (s *SagaExecution) Compensated(at time.Time) {
	s.Status = SagaStatusCompensated
	s.CompensatedAt = &at
	s.UpdatedAt = at
}

func (s *SagaExecution) CompensationFailed(step SagaStep, cause string, at time.Time) {
	s.Status = SagaStatusCompensationFailed
	s.Metadata.CompensationStep = step
	s.Metadata.CompensationError = cause
	s.UpdatedAt = at
}

func (s *SagaExecution) RequireManualResolution(at time.Time) {
	s.Status = SagaStatusRequiresManualResolution
	s.UpdatedAt = at
}

// Resumable reports whether an operator may put a flagged saga back into
// processing. Only sagas that were flagged while still processing qualify.
func (s *SagaExecution) Resumable() bool {
	return s.Status == SagaStatusRequiresManualResolution && s.FailedAt == nil &&
		!s.CompensationAttempted() && len(s.ResolutionData) == 0
}

func (s *SagaExecution) Resume(at time.Time) {
	s.Status = SagaStatusProcessing
	s.UpdatedAt = at
}

// CompensationAttempted reports whether compensation ever failed for this
// saga. Such sagas are never compensated again automatically.
func (s *SagaExecution) CompensationAttempted() bool {
	return s.Status == SagaStatusCompensationFailed || s.Metadata.CompensationError != ""
}

// SagaResolution is stored in ResolutionData when an operator closes out a saga.
type SagaResolution struct {
	OperatorID string    `json:"operator_id"`
	Note       string    `json:"note"`
	ResolvedAt time.Time `json:"resolved_at"`
}
