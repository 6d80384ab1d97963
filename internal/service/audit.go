package service

import (
	"context"
	"fmt"

	"fulfillment-backend-trusted/internal/alert"
	"fulfillment-backend-trusted/internal/logger"
	"fulfillment-backend-trusted/internal/metrics"
	"fulfillment-backend-trusted/internal/repository"
)

// AuditSummary is the outcome of auditing every wallet ledger. Only invalid
// reports are kept.
type AuditSummary struct {
	Accounts   int               `json:"accounts"`
	Violations int               `json:"violations"`
	Drifted    []int64           `json:"drifted_accounts,omitempty"`
	Invalid    []IntegrityReport `json:"invalid,omitempty"`
}

func (s *AuditSummary) Clean() bool {
	return len(s.Invalid) == 0
}

type auditService struct {
	accounts repository.LedgerRepository
	ledger   LedgerStore
	platform PlatformLedger
	alerter  alert.Alerter
}

func NewAuditService(accounts repository.LedgerRepository, ledger LedgerStore, platform PlatformLedger, alerter alert.Alerter) AuditService {
	return &auditService{accounts: accounts, ledger: ledger, platform: platform, alerter: alerter}
}

func (s *auditService) AuditWallets(ctx context.Context) (*AuditSummary, error) {
	ids, err := s.accounts.ListAccountIDs(ctx)
	if err != nil {
		return nil, err
	}
	summary := &AuditSummary{Accounts: len(ids)}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		report, err := s.ledger.VerifyIntegrity(ctx, id)
		if err != nil {
			return summary, fmt.Errorf("verify account %d: %w", id, err)
		}
		if report.Valid() {
			continue
		}
		summary.Violations += len(report.Violations)
		if report.Drift() != 0 {
			summary.Drifted = append(summary.Drifted, id)
		}
		summary.Invalid = append(summary.Invalid, *report)
		s.raise(ctx, report)
	}
	metrics.LedgerAuditViolations.WithLabelValues(metrics.LedgerWallet).Set(float64(summary.Violations + len(summary.Drifted)))
	logger.Info("Wallet ledger audit finished",
		"accounts", summary.Accounts, "violations", summary.Violations, "drifted", len(summary.Drifted))
	return summary, nil
}

func (s *auditService) AuditPlatform(ctx context.Context) (*IntegrityReport, error) {
	report, err := s.platform.VerifyIntegrity(ctx)
	if err != nil {
		return nil, err
	}
	bad := len(report.Violations)
	if report.Drift() != 0 {
		bad++
	}
	metrics.LedgerAuditViolations.WithLabelValues(metrics.LedgerPlatform).Set(float64(bad))
	if !report.Valid() {
		s.raise(ctx, report)
	}
	logger.Info("Platform ledger audit finished", "entries", report.Entries, "violations", len(report.Violations), "drift", report.Drift())
	return report, nil
}

func (s *auditService) AccountIntegrity(ctx context.Context, accountID int64) (*IntegrityReport, error) {
	return s.ledger.VerifyIntegrity(ctx, accountID)
}

func (s *auditService) raise(ctx context.Context, r *IntegrityReport) {
	logger.ErrorContext(ctx, "Ledger integrity violation",
		"scope", r.Scope, "account_id", r.AccountID, "violations", len(r.Violations),
		"cached", r.Cached, "recomputed", r.Recomputed)
	if s.alerter == nil {
		return
	}
	subject := fmt.Sprintf("%s ledger integrity violation", r.Scope)
	if r.AccountID != 0 {
		subject = fmt.Sprintf("%s (account %d)", subject, r.AccountID)
	}
	fields := map[string]any{
		"scope":      r.Scope,
		"violations": len(r.Violations),
		"cached":     r.Cached,
		"recomputed": r.Recomputed,
	}
	if r.AccountID != 0 {
		fields["account_id"] = r.AccountID
	}
	if len(r.Violations) > 0 {
		first := r.Violations[0]
		fields["first_violation"] = fmt.Sprintf("%s at entry %d (expected %d, got %d)", first.Kind, first.EntryID, first.Expected, first.Actual)
	}
	if err := s.alerter.Critical(ctx, alert.Alert{Kind: alert.KindIntegrityViolation, Subject: subject, Fields: fields}); err != nil {
		logger.Error("Failed to deliver integrity alert", "scope", r.Scope, "error", err)
	}
}
