package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fulfillment-backend-trusted/internal/alert"
	"fulfillment-backend-trusted/internal/domain"
	"fulfillment-backend-trusted/internal/logger"
	"fulfillment-backend-trusted/internal/metrics"
	"fulfillment-backend-trusted/internal/repository"
)

type appendOptions struct {
	requireFunds bool
}

type AppendOption func(*appendOptions)

// RequireFunds makes a debit append fail with InsufficientFunds when the
// recomputed balance does not cover it.
func RequireFunds() AppendOption {
	return func(o *appendOptions) { o.requireFunds = true }
}

// ChainReport is the result of checking one entry and its reversal pairing.
type ChainReport struct {
	EntryID    int64    `json:"entry_id"`
	Valid      bool     `json:"valid"`
	Violations []string `json:"violations,omitempty"`
}

type IntegrityViolation struct {
	Position int    `json:"position"`
	EntryID  int64  `json:"entry_id"`
	Kind     string `json:"kind"`
	Expected int64  `json:"expected"`
	Actual   int64  `json:"actual"`
}

const (
	ViolationChainBreak   = "chain_break"
	ViolationConservation = "conservation"
)

// IntegrityReport is the result of replaying a ledger from zero.
type IntegrityReport struct {
	Scope      string               `json:"scope"`
	AccountID  int64                `json:"account_id,omitempty"`
	Entries    int                  `json:"entries"`
	Recomputed int64                `json:"recomputed_balance"`
	Cached     int64                `json:"cached_balance"`
	Violations []IntegrityViolation `json:"violations,omitempty"`
}

func (r *IntegrityReport) Drift() int64 {
	return r.Cached - r.Recomputed
}

func (r *IntegrityReport) Valid() bool {
	return len(r.Violations) == 0 && r.Drift() == 0
}

type ledgerStore struct {
	repo    repository.LedgerRepository
	alerter alert.Alerter
	now     func() time.Time
}

func NewLedgerStore(repo repository.LedgerRepository, alerter alert.Alerter) LedgerStore {
	return &ledgerStore{repo: repo, alerter: alerter, now: time.Now}
}

// recompute sums every entry's signed amount. A reversed entry and its
// reversal cancel, so this equals the net of all non-reversed facts.
func recompute(entries []domain.LedgerEntry) int64 {
	var bal int64
	for _, e := range entries {
		bal += e.Signed()
	}
	return bal
}

func (s *ledgerStore) Append(ctx context.Context, accountID int64, entryType domain.EntryType, amount int64, ref domain.Reference, opts ...AppendOption) (*domain.LedgerEntry, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	var o appendOptions
	for _, opt := range opts {
		opt(&o)
	}

	var entry domain.LedgerEntry
	var corruption *domain.LedgerCorruptionError
	err := s.repo.WithAccountLock(ctx, accountID, func(tx repository.LedgerTx) error {
		before, err := checkedBalance(tx)
		if err != nil {
			return err
		}
		if o.requireFunds && entryType.Direction() == domain.Debit && before < amount {
			return &domain.InsufficientFundsError{AccountID: accountID, Available: before, Requested: amount}
		}

		entry = domain.LedgerEntry{
			Type:          entryType,
			Amount:        amount,
			BalanceBefore: before,
			Reference:     ref,
			CreatedAt:     s.now(),
		}
		entry.BalanceAfter = before + entry.Signed()
		if err := tx.Insert(&entry); err != nil {
			return err
		}
		return tx.SetCachedBalance(entry.BalanceAfter)
	})
	if errors.As(err, &corruption) {
		s.reportCorruption(ctx, corruption, 0)
		return nil, corruption
	}
	if err != nil {
		return nil, err
	}

	logger.Debug("Ledger entry appended",
		"account_id", accountID, "entry_id", entry.ID, "type", entryType.String(),
		"amount", amount, "balance_after", entry.BalanceAfter)
	return &entry, nil
}

func (s *ledgerStore) RecomputeBalance(ctx context.Context, accountID int64) (int64, error) {
	entries, err := s.repo.ListEntries(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return recompute(entries), nil
}

func (s *ledgerStore) Reverse(ctx context.Context, entryID int64, reason string) (*domain.LedgerEntry, error) {
	original, err := s.repo.GetEntry(ctx, entryID)
	if err != nil {
		return nil, fmt.Errorf("load entry %d: %w", entryID, err)
	}

	var reversal domain.LedgerEntry
	var corruption *domain.LedgerCorruptionError
	err = s.repo.WithAccountLock(ctx, original.AccountID, func(tx repository.LedgerTx) error {
		e, err := tx.Entry(entryID)
		if err != nil {
			return err
		}
		if e.IsReversed {
			return domain.ErrAlreadyReversed
		}
		if e.Type.IsReversal() {
			return fmt.Errorf("entry %d is itself a reversal: %w", entryID, domain.ErrInvalidTransition)
		}

		recomputed, err := checkedBalance(tx)
		if err != nil {
			return err
		}

		now := s.now()
		reversal = domain.LedgerEntry{
			Type:          e.Type.ReversalType(),
			Amount:        e.Amount,
			BalanceBefore: recomputed,
			Reference:     e.Reference,
			PairedEntryID: &e.ID,
			CreatedAt:     now,
		}
		reversal.BalanceAfter = recomputed + reversal.Signed()
		if err := tx.Insert(&reversal); err != nil {
			return err
		}
		if err := tx.MarkReversed(e.ID, reversal.ID, reason, now); err != nil {
			return err
		}
		return tx.SetCachedBalance(reversal.BalanceAfter)
	})
	if errors.As(err, &corruption) {
		s.reportCorruption(ctx, corruption, entryID)
		return nil, corruption
	}
	if err != nil {
		return nil, err
	}

	logger.Info("Ledger entry reversed",
		"account_id", original.AccountID, "entry_id", entryID, "reversal_id", reversal.ID,
		"amount", reversal.Amount, "reason", reason)
	return &reversal, nil
}

// checkedBalance recomputes the locked account's balance and refuses to go on
// if the cached hint disagrees with it.
func checkedBalance(tx repository.LedgerTx) (int64, error) {
	entries, err := tx.Entries()
	if err != nil {
		return 0, err
	}
	recomputed := recompute(entries)
	account := tx.Account()
	if account.CachedBalance != recomputed {
		return 0, &domain.LedgerCorruptionError{AccountID: account.ID, Cached: account.CachedBalance, Recomputed: recomputed}
	}
	return recomputed, nil
}

func (s *ledgerStore) reportCorruption(ctx context.Context, c *domain.LedgerCorruptionError, entryID int64) {
	metrics.LedgerCorruptionTotal.WithLabelValues(metrics.LedgerWallet).Inc()
	logger.ErrorContext(ctx, "Ledger corruption detected, refusing write",
		"account_id", c.AccountID, "entry_id", entryID, "cached", c.Cached, "recomputed", c.Recomputed)
	if s.alerter == nil {
		return
	}
	if err := s.alerter.Critical(ctx, alert.Alert{
		Kind:    alert.KindLedgerCorruption,
		Subject: fmt.Sprintf("Ledger corruption on account %d", c.AccountID),
		Fields: map[string]any{
			"account_id": c.AccountID,
			"entry_id":   entryID,
			"cached":     c.Cached,
			"recomputed": c.Recomputed,
		},
	}); err != nil {
		logger.Error("Failed to deliver corruption alert", "account_id", c.AccountID, "error", err)
	}
}

func (s *ledgerStore) VerifyChain(ctx context.Context, entryID int64) (*ChainReport, error) {
	e, err := s.repo.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	report := &ChainReport{EntryID: entryID}
	add := func(format string, args ...any) {
		report.Violations = append(report.Violations, fmt.Sprintf(format, args...))
	}

	if !e.Conserves() {
		add("balance_after %d != balance_before %d %+d", e.BalanceAfter, e.BalanceBefore, e.Signed())
	}

	if e.PairedEntryID != nil {
		paired, err := s.repo.GetEntry(ctx, *e.PairedEntryID)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				return nil, err
			}
			add("paired entry %d does not exist", *e.PairedEntryID)
		} else {
			checkPair(paired, e, add)
		}
	}

	if e.IsReversed {
		if e.ReversedByID == nil {
			add("entry is flagged reversed but has no reversing entry")
		} else {
			rev, err := s.repo.GetEntry(ctx, *e.ReversedByID)
			if err != nil {
				if !errors.Is(err, domain.ErrNotFound) {
					return nil, err
				}
				add("reversing entry %d does not exist", *e.ReversedByID)
			} else if rev.PairedEntryID == nil || *rev.PairedEntryID != e.ID {
				add("reversing entry %d is not paired back to this entry", rev.ID)
			}
		}
	}

	report.Valid = len(report.Violations) == 0
	return report, nil
}

// checkPair validates a reversal against the entry it reverses.
func checkPair(original, reversal *domain.LedgerEntry, add func(string, ...any)) {
	if original.Type.Direction() != reversal.Type.Direction().Opposite() {
		add("paired entry %d has the same sign", original.ID)
	}
	if original.Amount != reversal.Amount {
		add("paired entry %d amount %d != %d", original.ID, original.Amount, reversal.Amount)
	}
	if original.Reference != reversal.Reference {
		add("paired entry %d reference %s/%s != %s/%s", original.ID,
			original.Reference.Type, original.Reference.ID, reversal.Reference.Type, reversal.Reference.ID)
	}
	if !original.IsReversed {
		add("paired entry %d is not marked reversed; both facts are live", original.ID)
	} else if original.ReversedByID == nil || *original.ReversedByID != reversal.ID {
		add("paired entry %d was reversed by a different entry", original.ID)
	}
}

func (s *ledgerStore) VerifyIntegrity(ctx context.Context, accountID int64) (*IntegrityReport, error) {
	account, err := s.repo.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	entries, err := s.repo.ListEntries(ctx, accountID)
	if err != nil {
		return nil, err
	}
	report := replay(entries)
	report.Scope = metrics.LedgerWallet
	report.AccountID = accountID
	report.Cached = account.CachedBalance
	return report, nil
}

type chainLink interface {
	entryID() int64
	before() int64
	after() int64
	conserves() bool
}

type walletLink domain.LedgerEntry

func (l walletLink) entryID() int64  { return l.ID }
func (l walletLink) before() int64   { return l.BalanceBefore }
func (l walletLink) after() int64    { return l.BalanceAfter }
func (l walletLink) conserves() bool { return domain.LedgerEntry(l).Conserves() }

type platformLink domain.PlatformLedgerEntry

func (l platformLink) entryID() int64  { return l.ID }
func (l platformLink) before() int64   { return l.BalanceBefore }
func (l platformLink) after() int64    { return l.BalanceAfter }
func (l platformLink) conserves() bool { return domain.PlatformLedgerEntry(l).Conserves() }

func replay(entries []domain.LedgerEntry) *IntegrityReport {
	links := make([]chainLink, len(entries))
	for i, e := range entries {
		links[i] = walletLink(e)
	}
	r := replayLinks(links)
	r.Recomputed = recompute(entries)
	return r
}

// replayLinks walks entries in creation order starting from zero and
// reports every place the chain or conservation breaks.
func replayLinks(links []chainLink) *IntegrityReport {
	report := &IntegrityReport{Entries: len(links)}
	var prev int64
	for i, l := range links {
		if l.before() != prev {
			report.Violations = append(report.Violations, IntegrityViolation{
				Position: i, EntryID: l.entryID(), Kind: ViolationChainBreak, Expected: prev, Actual: l.before(),
			})
		}
		if !l.conserves() {
			report.Violations = append(report.Violations, IntegrityViolation{
				Position: i, EntryID: l.entryID(), Kind: ViolationConservation, Expected: l.before(), Actual: l.after(),
			})
		}
		prev = l.after()
	}
	return report
}
