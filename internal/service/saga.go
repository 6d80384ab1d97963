package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"fulfillment-backend-trusted/internal/alert"
	"fulfillment-backend-trusted/internal/domain"
	"fulfillment-backend-trusted/internal/logger"
	"fulfillment-backend-trusted/internal/metrics"
	"fulfillment-backend-trusted/internal/repository"
)

// Compensation data persisted per step. Field names are part of the stored
// saga metadata.
type creditWalletData struct {
	EntryID         int64 `json:"entry_id,omitempty"`
	PlatformEntryID int64 `json:"platform_entry_id,omitempty"`
	Amount          int64 `json:"amount"`
}

type creditBonusData struct {
	BonusID int64 `json:"bonus_id,omitempty"`
	EntryID int64 `json:"entry_id,omitempty"`
	Gross   int64 `json:"gross"`
	Tds     int64 `json:"tds"`
	Net     int64 `json:"net"`
}

type allocateSharesData struct {
	AllocationIDs []int64 `json:"allocation_ids"`
	Total         int64   `json:"total"`
}

// SagaDeps are the collaborators the allocation saga drives.
type SagaDeps struct {
	Sagas         repository.SagaRepository
	Payments      repository.PaymentRepository
	Subscriptions repository.SubscriptionRepository
	Bonuses       repository.BonusRepository
	Inventory     repository.InventoryRepository
	Wallet        WalletAccount
	Ledger        LedgerStore
	Platform      PlatformLedger
	Allocator     AllocationService
	Bonus         BonusCalculator
	Tds           TdsLookup
	Alerter       alert.Alerter
	Locker        Locker

	// RunLockTTL bounds how long one execution may hold its saga. Allocation
	// for a user is serialised under a lease with the same ttl.
	RunLockTTL         time.Duration
	AllocationLockWait time.Duration
}

const (
	defaultRunLockTTL         = 5 * time.Minute
	defaultAllocationLockWait = 30 * time.Second
)

type allocationSaga struct {
	SagaDeps
	now func() time.Time
}

func NewAllocationSaga(deps SagaDeps) AllocationSaga {
	if deps.RunLockTTL <= 0 {
		deps.RunLockTTL = defaultRunLockTTL
	}
	if deps.AllocationLockWait <= 0 {
		deps.AllocationLockWait = defaultAllocationLockWait
	}
	return &allocationSaga{SagaDeps: deps, now: time.Now}
}

func sagaLockKey(sagaID string) string {
	return "saga:" + sagaID
}

func allocationLockKey(userID int64) string {
	return fmt.Sprintf("allocation:user:%d", userID)
}

// lockSaga claims exclusive execution of a saga without waiting. A saga held
// elsewhere yields domain.ErrLockNotAcquired.
func (s *allocationSaga) lockSaga(ctx context.Context, sagaID string) (func(), error) {
	release, err := s.Locker.Acquire(ctx, sagaLockKey(sagaID), 0, s.RunLockTTL)
	if err != nil {
		return nil, fmt.Errorf("saga %s is held by another run: %w", sagaID, err)
	}
	return release, nil
}

// sagaRun is the state one execution threads through its steps.
type sagaRun struct {
	saga         *domain.SagaExecution
	payment      *domain.Payment
	subscription *domain.Subscription
	log          *slog.Logger
	held         []func()
}

// hold keeps a lease until the run reaches its final status.
func (r *sagaRun) hold(release func()) {
	r.held = append(r.held, release)
}

func (r *sagaRun) releaseHeld() {
	for i := len(r.held) - 1; i >= 0; i-- {
		r.held[i]()
	}
	r.held = nil
}

// stepFunc performs a forward step. On failure it may still return the data
// for whatever it already wrote so that part is compensated too.
type stepFunc func(ctx context.Context, run *sagaRun) (data any, skipped bool, err error)

type compensation struct {
	step domain.SagaStep
	fn   func(ctx context.Context) error
}

func (s *allocationSaga) forward(step domain.SagaStep) stepFunc {
	switch step {
	case domain.StepCreditWallet:
		return s.creditWallet
	case domain.StepCreditBonus:
		return s.creditBonus
	case domain.StepAllocateShares:
		return s.allocateShares
	}
	panic(fmt.Sprintf("saga: no forward action for step %q", step))
}

// compensationFor builds the undo action for a step from its recorded data.
// Both the live failure path and operator-driven compensation use it, so
// compensation never depends on anything that was not persisted.
func (s *allocationSaga) compensationFor(sagaID string, step domain.SagaStep, raw json.RawMessage) (compensation, error) {
	c := compensation{step: step}
	reason := fmt.Sprintf("saga %s compensation", sagaID)

	switch step {
	case domain.StepCreditWallet:
		var d creditWalletData
		if err := decodeStepData(raw, &d); err != nil {
			return c, err
		}
		c.fn = func(ctx context.Context) error {
			if d.PlatformEntryID != 0 {
				if _, err := s.Platform.Reverse(ctx, d.PlatformEntryID, reason); err != nil && !errors.Is(err, domain.ErrAlreadyReversed) {
					return fmt.Errorf("reverse platform entry %d: %w", d.PlatformEntryID, err)
				}
			}
			if d.EntryID != 0 {
				if _, err := s.Ledger.Reverse(ctx, d.EntryID, reason); err != nil && !errors.Is(err, domain.ErrAlreadyReversed) {
					return fmt.Errorf("reverse wallet credit %d: %w", d.EntryID, err)
				}
			}
			return nil
		}
	case domain.StepCreditBonus:
		var d creditBonusData
		if err := decodeStepData(raw, &d); err != nil {
			return c, err
		}
		c.fn = func(ctx context.Context) error {
			if d.BonusID != 0 {
				if err := s.Bonuses.MarkReversed(ctx, d.BonusID, s.now()); err != nil && !errors.Is(err, domain.ErrAlreadyReversed) {
					return fmt.Errorf("mark bonus %d reversed: %w", d.BonusID, err)
				}
			}
			if d.EntryID != 0 {
				if _, err := s.Ledger.Reverse(ctx, d.EntryID, reason); err != nil && !errors.Is(err, domain.ErrAlreadyReversed) {
					return fmt.Errorf("reverse bonus credit %d: %w", d.EntryID, err)
				}
			}
			return nil
		}
	case domain.StepAllocateShares:
		var d allocateSharesData
		if err := decodeStepData(raw, &d); err != nil {
			return c, err
		}
		c.fn = func(ctx context.Context) error {
			for _, id := range d.AllocationIDs {
				if err := s.Allocator.ReverseAllocation(ctx, id); err != nil && !errors.Is(err, domain.ErrAlreadyReversed) {
					return fmt.Errorf("reverse allocation %d: %w", id, err)
				}
			}
			return nil
		}
	default:
		return c, fmt.Errorf("no compensation for step %q", step)
	}
	return c, nil
}

func decodeStepData(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// Run executes the saga's remaining steps. Steps already recorded in the
// metadata are not executed again. A step failure is turned into
// compensation; Run only returns an error if compensation failed, the saga is
// being run elsewhere, or its state could not be read or written.
//
// Cancellation of ctx is ignored: once started, a run ends in a terminal
// status or with its last step persisted.
func (s *allocationSaga) Run(ctx context.Context, sagaID string) (*domain.SagaExecution, error) {
	ctx = context.WithoutCancel(ctx)
	release, err := s.lockSaga(ctx, sagaID)
	if err != nil {
		return nil, err
	}
	defer release()

	saga, err := s.Sagas.GetByID(ctx, sagaID)
	if err != nil {
		return nil, fmt.Errorf("load saga %s: %w", sagaID, err)
	}
	log := logger.WithSaga(saga.ID, saga.PaymentID)
	if saga.Status != domain.SagaStatusProcessing {
		log.Info("Saga is not processing, nothing to run", "status", saga.Status)
		return saga, nil
	}
	return s.execute(ctx, saga, log)
}

// Resume runs a processing saga, or puts a saga that was flagged while still
// processing back to work. Its recorded steps are kept.
func (s *allocationSaga) Resume(ctx context.Context, sagaID string) (*domain.SagaExecution, error) {
	ctx = context.WithoutCancel(ctx)
	release, err := s.lockSaga(ctx, sagaID)
	if err != nil {
		return nil, err
	}
	defer release()

	saga, err := s.Sagas.GetByID(ctx, sagaID)
	if err != nil {
		return nil, err
	}
	log := logger.WithSaga(saga.ID, saga.PaymentID)
	switch {
	case saga.Status == domain.SagaStatusProcessing:
	case saga.Resumable():
		saga.Resume(s.now())
		if err := s.Sagas.Update(ctx, saga); err != nil {
			return saga, fmt.Errorf("persist resumed saga: %w", err)
		}
		log.Warn("Flagged saga resumed", "steps_completed", saga.StepsCompleted)
	default:
		return saga, fmt.Errorf("saga %s is %s: %w", sagaID, saga.Status, domain.ErrInvalidTransition)
	}
	return s.execute(ctx, saga, log)
}

func (s *allocationSaga) execute(ctx context.Context, saga *domain.SagaExecution, log *slog.Logger) (*domain.SagaExecution, error) {
	run, err := s.load(ctx, saga, log)
	if err != nil {
		return saga, err
	}
	defer run.releaseHeld()

	var done []compensation
	for _, step := range domain.SagaSteps {
		if rec, ok := saga.Metadata.Steps[step]; ok {
			if rec.Skipped {
				continue
			}
			c, err := s.compensationFor(saga.ID, step, rec.Data)
			if err != nil {
				return saga, fmt.Errorf("rebuild compensation for %s: %w", step, err)
			}
			done = append(done, c)
			continue
		}

		start := s.now()
		data, skipped, stepErr := s.forward(step)(ctx, run)
		raw, encErr := json.Marshal(data)
		if data == nil {
			raw = nil
		}
		stepErr = errors.Join(stepErr, encErr)

		if stepErr != nil {
			metrics.SagaStepDuration.WithLabelValues(string(step), "error").Observe(time.Since(start).Seconds())
			if raw != nil {
				saga.RecordPartial(step, raw, s.now())
				if c, err := s.compensationFor(saga.ID, step, raw); err == nil {
					done = append(done, c)
				}
			}
			log.Error("Saga step failed", "step", step, "error", stepErr)
			return s.fail(ctx, saga, done, stepErr, log)
		}

		metrics.SagaStepDuration.WithLabelValues(string(step), "ok").Observe(time.Since(start).Seconds())
		saga.RecordStep(step, domain.StepRecord{Data: raw, Skipped: skipped, CompletedAt: s.now()})
		if !skipped {
			c, err := s.compensationFor(saga.ID, step, raw)
			if err != nil {
				return saga, err
			}
			done = append(done, c)
		}
		if err := s.Sagas.Update(ctx, saga); err != nil {
			log.Error("Failed to persist saga step", "step", step, "error", err)
			return s.fail(ctx, saga, done, fmt.Errorf("persist step %s: %w", step, err), log)
		}
		log.Info("Saga step completed", "step", step, "skipped", skipped)
	}

	saga.Complete(s.now())
	if err := s.Sagas.Update(ctx, saga); err != nil {
		return saga, fmt.Errorf("persist completed saga: %w", err)
	}
	metrics.SagaOutcomes.WithLabelValues(string(domain.SagaStatusCompleted)).Inc()
	log.Info("Saga completed", "steps_completed", saga.StepsCompleted)
	return saga, nil
}

func (s *allocationSaga) load(ctx context.Context, saga *domain.SagaExecution, log *slog.Logger) (*sagaRun, error) {
	payment, err := s.Payments.GetByID(ctx, saga.PaymentID)
	if err != nil {
		return nil, fmt.Errorf("load payment %d: %w", saga.PaymentID, err)
	}
	run := &sagaRun{saga: saga, payment: payment, log: log}
	if payment.SubscriptionID != nil {
		sub, err := s.Subscriptions.GetByID(ctx, *payment.SubscriptionID)
		if err != nil {
			return nil, fmt.Errorf("load subscription %d: %w", *payment.SubscriptionID, err)
		}
		run.subscription = sub
	}
	return run, nil
}

func (s *allocationSaga) creditWallet(ctx context.Context, run *sagaRun) (any, bool, error) {
	p := run.payment
	entry, err := s.Wallet.Deposit(ctx, p.UserID, p.Amount, domain.EntryDeposit, domain.PaymentReference(p.ID))
	if err != nil {
		return nil, false, err
	}
	data := &creditWalletData{EntryID: entry.ID, Amount: p.Amount}

	pentry, err := s.Platform.Record(ctx, domain.Credit, p.Amount, SourcePayment, strconv.FormatInt(p.ID, 10))
	if err != nil {
		return data, false, fmt.Errorf("record platform credit: %w", err)
	}
	data.PlatformEntryID = pentry.ID
	return data, false, nil
}

func (s *allocationSaga) creditBonus(ctx context.Context, run *sagaRun) (any, bool, error) {
	p := run.payment
	gross := s.Bonus.Compute(domain.BonusContext{Payment: *p, Subscription: run.subscription})
	if gross <= 0 {
		return nil, true, nil
	}

	panVerified := run.subscription != nil && run.subscription.PanVerified
	rate := s.Tds.Rate(IncomeTypeBonus, panVerified)
	tds, net := withhold(gross, rate)

	bonus := &domain.Bonus{
		PaymentID:      p.ID,
		UserID:         p.UserID,
		SubscriptionID: p.SubscriptionID,
		GrossAmount:    gross,
		TdsRate:        rate,
		TdsAmount:      tds,
		NetAmount:      net,
		Status:         domain.BonusStatusActive,
		CreatedAt:      s.now(),
	}
	if err := s.Bonuses.Create(ctx, bonus); err != nil {
		return nil, false, fmt.Errorf("create bonus: %w", err)
	}
	data := &creditBonusData{BonusID: bonus.ID, Gross: gross, Tds: tds, Net: net}
	if net <= 0 {
		return data, false, nil
	}

	entry, err := s.Wallet.Deposit(ctx, p.UserID, net, domain.EntryBonus, domain.BonusReference(bonus.ID))
	if err != nil {
		return data, false, fmt.Errorf("deposit bonus: %w", err)
	}
	data.EntryID = entry.ID
	run.log.Info("Bonus credited", "bonus_id", bonus.ID, "gross", gross, "tds", tds, "net", net)
	return data, false, nil
}

// allocateShares allocates the user's funded but unallocated value. Funded
// value counts only deposits still in the wallet from payments whose saga
// completed, plus this one, so a compensated payment is never allocated
// again. The user's allocation lease is held until this saga is completed or
// compensated, so the next allocation for the user sees its final outcome.
func (s *allocationSaga) allocateShares(ctx context.Context, run *sagaRun) (any, bool, error) {
	p := run.payment
	release, err := s.Locker.Acquire(ctx, allocationLockKey(p.UserID), s.AllocationLockWait, s.RunLockTTL)
	if err != nil {
		return nil, false, fmt.Errorf("lock allocations for user %d: %w", p.UserID, err)
	}
	run.hold(release)

	funded, err := s.Payments.SumFundedByUser(ctx, p.UserID, p.ID)
	if err != nil {
		return nil, false, err
	}
	allocated, err := s.Inventory.SumActiveByUser(ctx, p.UserID)
	if err != nil {
		return nil, false, err
	}
	available := funded - allocated
	if available <= 0 {
		run.log.Info("Nothing left to allocate", "funded", funded, "allocated", allocated)
		return nil, true, nil
	}

	allocs, err := s.Allocator.Allocate(ctx, domain.AllocationContext{
		UserID:         p.UserID,
		PaymentID:      p.ID,
		SubscriptionID: p.SubscriptionID,
	}, available)
	if err != nil {
		return nil, false, err
	}
	data := &allocateSharesData{AllocationIDs: make([]int64, 0, len(allocs))}
	for _, a := range allocs {
		data.AllocationIDs = append(data.AllocationIDs, a.ID)
		data.Total += a.Amount
	}
	return data, false, nil
}

// fail marks the saga failed and walks done backwards.
func (s *allocationSaga) fail(ctx context.Context, saga *domain.SagaExecution, done []compensation, cause error, log *slog.Logger) (*domain.SagaExecution, error) {
	saga.Fail(cause.Error(), s.now())
	if err := s.Sagas.Update(ctx, saga); err != nil {
		log.Error("Failed to persist failed saga", "error", err)
	}
	metrics.SagaOutcomes.WithLabelValues(string(domain.SagaStatusFailed)).Inc()
	return s.compensate(ctx, saga, done, log)
}

func (s *allocationSaga) compensate(ctx context.Context, saga *domain.SagaExecution, done []compensation, log *slog.Logger) (*domain.SagaExecution, error) {
	for i := len(done) - 1; i >= 0; i-- {
		c := done[i]
		if err := c.fn(ctx); err != nil {
			return saga, s.compensationFailed(ctx, saga, c.step, err, log)
		}
		saga.MarkStepCompensated(c.step, s.now())
		log.Info("Saga step compensated", "step", c.step)
	}

	saga.Compensated(s.now())
	if err := s.Sagas.Update(ctx, saga); err != nil {
		return saga, fmt.Errorf("persist compensated saga: %w", err)
	}
	metrics.SagaOutcomes.WithLabelValues(string(domain.SagaStatusCompensated)).Inc()
	log.Warn("Saga compensated", "failure_reason", saga.FailureReason)
	return saga, nil
}

func (s *allocationSaga) compensationFailed(ctx context.Context, saga *domain.SagaExecution, step domain.SagaStep, cause error, log *slog.Logger) error {
	saga.CompensationFailed(step, cause.Error(), s.now())
	if err := s.Sagas.Update(ctx, saga); err != nil {
		log.Error("Failed to persist compensation failure", "error", err)
	}
	metrics.SagaOutcomes.WithLabelValues(string(domain.SagaStatusCompensationFailed)).Inc()
	log.Error("Saga compensation failed, manual resolution required", "step", step, "error", cause)

	if s.Alerter != nil {
		if err := s.Alerter.Critical(ctx, alert.Alert{
			Kind:    alert.KindCompensationFailed,
			Subject: fmt.Sprintf("Saga %s compensation failed", saga.ID),
			Fields: map[string]any{
				"saga_id":        saga.ID,
				"payment_id":     saga.PaymentID,
				"step":           step,
				"error":          cause.Error(),
				"failure_reason": saga.FailureReason,
			},
		}); err != nil {
			log.Error("Failed to deliver compensation alert", "error", err)
		}
	}
	return &domain.CompensationError{SagaID: saga.ID, Step: step, Cause: cause}
}

// CompensateStored undoes a saga flagged for manual resolution using only its
// persisted step data. Sagas whose compensation already failed once are
// refused.
func (s *allocationSaga) CompensateStored(ctx context.Context, sagaID string) (*domain.SagaExecution, error) {
	ctx = context.WithoutCancel(ctx)
	release, err := s.lockSaga(ctx, sagaID)
	if err != nil {
		return nil, err
	}
	defer release()

	saga, err := s.Sagas.GetByID(ctx, sagaID)
	if err != nil {
		return nil, err
	}
	if saga.Status != domain.SagaStatusRequiresManualResolution || saga.CompensationAttempted() {
		return saga, fmt.Errorf("saga %s is %s: %w", sagaID, saga.Status, domain.ErrInvalidTransition)
	}
	log := logger.WithSaga(saga.ID, saga.PaymentID)

	var done []compensation
	for _, step := range saga.CompletedSteps() {
		rec := saga.Metadata.Steps[step]
		if rec.Skipped || rec.Compensated {
			continue
		}
		c, err := s.compensationFor(saga.ID, step, rec.Data)
		if err != nil {
			return saga, fmt.Errorf("rebuild compensation for %s: %w", step, err)
		}
		done = append(done, c)
	}
	log.Warn("Operator compensation started", "steps", len(done))
	return s.compensate(ctx, saga, done, log)
}

// RecoverStale flags sagas stuck in processing or failed for longer than
// olderThan. They are never re-run automatically.
func (s *allocationSaga) RecoverStale(ctx context.Context, olderThan time.Duration) ([]domain.SagaExecution, error) {
	cutoff := s.now().Add(-olderThan)
	stale, err := s.Sagas.ListStale(ctx, []domain.SagaStatus{domain.SagaStatusProcessing, domain.SagaStatusFailed}, cutoff)
	if err != nil {
		return nil, err
	}

	var flagged []domain.SagaExecution
	var errs []error
	for i := range stale {
		saga := &stale[i]
		prev := saga.Status
		saga.RequireManualResolution(s.now())
		if err := s.Sagas.Update(ctx, saga); err != nil {
			errs = append(errs, fmt.Errorf("flag saga %s: %w", saga.ID, err))
			continue
		}
		flagged = append(flagged, *saga)
		metrics.SagaOutcomes.WithLabelValues(string(domain.SagaStatusRequiresManualResolution)).Inc()
		logger.Warn("Stale saga flagged for manual resolution",
			"saga_id", saga.ID, "payment_id", saga.PaymentID, "previous_status", prev, "steps_completed", saga.StepsCompleted)

		if s.Alerter != nil {
			if err := s.Alerter.Critical(ctx, alert.Alert{
				Kind:    alert.KindStaleSaga,
				Subject: fmt.Sprintf("Saga %s stuck in %s", saga.ID, prev),
				Fields: map[string]any{
					"saga_id":         saga.ID,
					"payment_id":      saga.PaymentID,
					"previous_status": prev,
					"steps_completed": saga.StepsCompleted,
				},
			}); err != nil {
				logger.Error("Failed to deliver stale saga alert", "saga_id", saga.ID, "error", err)
			}
		}
	}
	return flagged, errors.Join(errs...)
}
