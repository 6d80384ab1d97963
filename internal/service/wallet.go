package service

import (
	"context"
	"fmt"

	"fulfillment-backend-trusted/internal/domain"
	"fulfillment-backend-trusted/internal/repository"
)

type walletAccount struct {
	ledger   LedgerStore
	accounts repository.LedgerRepository
}

func NewWalletAccount(ledger LedgerStore, accounts repository.LedgerRepository) WalletAccount {
	return &walletAccount{ledger: ledger, accounts: accounts}
}

func (w *walletAccount) Account(ctx context.Context, userID int64) (*domain.Account, error) {
	return w.accounts.EnsureAccount(ctx, userID)
}

func (w *walletAccount) Deposit(ctx context.Context, userID, amount int64, entryType domain.EntryType, ref domain.Reference) (*domain.LedgerEntry, error) {
	if entryType.Direction() != domain.Credit {
		return nil, fmt.Errorf("deposit with debit entry type %s", entryType)
	}
	acc, err := w.accounts.EnsureAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	return w.ledger.Append(ctx, acc.ID, entryType, amount, ref)
}

// Withdraw debits the wallet. Without allowOverdraft it fails with
// InsufficientFunds rather than take the recomputed balance below zero.
func (w *walletAccount) Withdraw(ctx context.Context, userID, amount int64, entryType domain.EntryType, ref domain.Reference, allowOverdraft bool) (*domain.LedgerEntry, error) {
	if entryType.Direction() != domain.Debit {
		return nil, fmt.Errorf("withdraw with credit entry type %s", entryType)
	}
	acc, err := w.accounts.EnsureAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	var opts []AppendOption
	if !allowOverdraft {
		opts = append(opts, RequireFunds())
	}
	return w.ledger.Append(ctx, acc.ID, entryType, amount, ref, opts...)
}

func (w *walletAccount) Balance(ctx context.Context, userID int64) (int64, error) {
	acc, err := w.accounts.EnsureAccount(ctx, userID)
	if err != nil {
		return 0, err
	}
	return w.ledger.RecomputeBalance(ctx, acc.ID)
}
