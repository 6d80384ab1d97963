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

// Platform ledger source types.
const (
	SourcePayment  = "payment"
	SourceRefund   = "refund"
	SourceReversal = "reversal"
)

type platformLedger struct {
	repo    repository.PlatformLedgerRepository
	alerter alert.Alerter
	now     func() time.Time
}

func NewPlatformLedger(repo repository.PlatformLedgerRepository, alerter alert.Alerter) PlatformLedger {
	return &platformLedger{repo: repo, alerter: alerter, now: time.Now}
}

func recomputePlatform(entries []domain.PlatformLedgerEntry) int64 {
	var bal int64
	for _, e := range entries {
		bal += e.Signed()
	}
	return bal
}

func checkedPlatformBalance(tx repository.PlatformLedgerTx) (int64, error) {
	entries, err := tx.Entries()
	if err != nil {
		return 0, err
	}
	recomputed := recomputePlatform(entries)
	if cached := tx.CachedBalance(); cached != recomputed {
		return 0, &domain.LedgerCorruptionError{Cached: cached, Recomputed: recomputed}
	}
	return recomputed, nil
}

func (p *platformLedger) Record(ctx context.Context, direction domain.Direction, amount int64, sourceType, sourceID string) (*domain.PlatformLedgerEntry, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	var entry domain.PlatformLedgerEntry
	err := p.repo.WithLock(ctx, func(tx repository.PlatformLedgerTx) error {
		before, err := checkedPlatformBalance(tx)
		if err != nil {
			return err
		}
		entry = domain.PlatformLedgerEntry{
			Type:          direction,
			Amount:        amount,
			BalanceBefore: before,
			SourceType:    sourceType,
			SourceID:      sourceID,
			CreatedAt:     p.now(),
		}
		entry.BalanceAfter = before + entry.Signed()
		if err := tx.Insert(&entry); err != nil {
			return err
		}
		return tx.SetCachedBalance(entry.BalanceAfter)
	})
	if err != nil {
		p.maybeReportCorruption(ctx, err)
		return nil, err
	}
	return &entry, nil
}

func (p *platformLedger) Reverse(ctx context.Context, entryID int64, reason string) (*domain.PlatformLedgerEntry, error) {
	var reversal domain.PlatformLedgerEntry
	err := p.repo.WithLock(ctx, func(tx repository.PlatformLedgerTx) error {
		e, err := tx.Entry(entryID)
		if err != nil {
			return err
		}
		if e.IsReversed {
			return domain.ErrAlreadyReversed
		}
		if e.SourceType == SourceReversal {
			return fmt.Errorf("platform entry %d is itself a reversal: %w", entryID, domain.ErrInvalidTransition)
		}
		before, err := checkedPlatformBalance(tx)
		if err != nil {
			return err
		}

		now := p.now()
		reversal = domain.PlatformLedgerEntry{
			Type:          e.Type.Opposite(),
			Amount:        e.Amount,
			BalanceBefore: before,
			SourceType:    SourceReversal,
			SourceID:      fmt.Sprintf("%d", e.ID),
			EntryPairID:   &e.ID,
			CreatedAt:     now,
		}
		reversal.BalanceAfter = before + reversal.Signed()
		if err := tx.Insert(&reversal); err != nil {
			return err
		}
		if err := tx.MarkReversed(e.ID, reversal.ID, now); err != nil {
			return err
		}
		return tx.SetCachedBalance(reversal.BalanceAfter)
	})
	if err != nil {
		p.maybeReportCorruption(ctx, err)
		return nil, err
	}
	logger.Info("Platform ledger entry reversed", "entry_id", entryID, "reversal_id", reversal.ID, "reason", reason)
	return &reversal, nil
}

func (p *platformLedger) maybeReportCorruption(ctx context.Context, err error) {
	var c *domain.LedgerCorruptionError
	if !errors.As(err, &c) {
		return
	}
	metrics.LedgerCorruptionTotal.WithLabelValues(metrics.LedgerPlatform).Inc()
	logger.ErrorContext(ctx, "Platform ledger corruption detected, refusing write", "cached", c.Cached, "recomputed", c.Recomputed)
	if p.alerter == nil {
		return
	}
	if aerr := p.alerter.Critical(ctx, alert.Alert{
		Kind:    alert.KindLedgerCorruption,
		Subject: "Platform ledger corruption",
		Fields:  map[string]any{"cached": c.Cached, "recomputed": c.Recomputed},
	}); aerr != nil {
		logger.Error("Failed to deliver corruption alert", "error", aerr)
	}
}

func (p *platformLedger) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	entries, err := p.repo.ListEntries(ctx)
	if err != nil {
		return nil, err
	}
	cached, err := p.repo.CachedBalance(ctx)
	if err != nil {
		return nil, err
	}
	links := make([]chainLink, len(entries))
	for i, e := range entries {
		links[i] = platformLink(e)
	}
	report := replayLinks(links)
	report.Scope = metrics.LedgerPlatform
	report.Recomputed = recomputePlatform(entries)
	report.Cached = cached
	return report, nil
}
