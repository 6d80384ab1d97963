package service_test

import (
	"context"
	"errors"
	"testing"

	"fulfillment-backend-trusted/internal/alert"
	"fulfillment-backend-trusted/internal/domain"
	"fulfillment-backend-trusted/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerStore_Append(t *testing.T) {
	ctx := context.Background()

	t.Run("Conserves", func(t *testing.T) {
		f := newFixture(t)
		acc := f.account(t, 1)
		ref := domain.PaymentReference(10)

		_, err := f.ledger.Append(ctx, acc.ID, domain.EntryDeposit, 1000, ref)
		require.NoError(t, err)
		_, err = f.ledger.Append(ctx, acc.ID, domain.EntryWithdrawal, 300, ref)
		require.NoError(t, err)
		_, err = f.ledger.Append(ctx, acc.ID, domain.EntryBonus, 45, ref)
		require.NoError(t, err)

		var sum int64
		for _, e := range f.entries(t, 1) {
			assert.True(t, e.Conserves(), "entry %d", e.ID)
			sum += e.Signed()
		}
		bal, err := f.ledger.RecomputeBalance(ctx, acc.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(745), bal)
		assert.Equal(t, sum, bal)

		stored, err := f.store.GetAccount(ctx, acc.ID)
		require.NoError(t, err)
		assert.Equal(t, bal, stored.CachedBalance)
	})

	t.Run("InvalidAmount", func(t *testing.T) {
		f := newFixture(t)
		acc := f.account(t, 1)
		for _, amount := range []int64{0, -5} {
			_, err := f.ledger.Append(ctx, acc.ID, domain.EntryDeposit, amount, domain.PaymentReference(1))
			assert.ErrorIs(t, err, domain.ErrInvalidAmount)
		}
		assert.Empty(t, f.entries(t, 1))
	})

	t.Run("RequireFunds", func(t *testing.T) {
		f := newFixture(t)
		acc := f.account(t, 1)
		_, err := f.ledger.Append(ctx, acc.ID, domain.EntryDeposit, 100, domain.PaymentReference(1))
		require.NoError(t, err)

		_, err = f.ledger.Append(ctx, acc.ID, domain.EntryWithdrawal, 500, domain.PaymentReference(1), service.RequireFunds())
		var insufficient *domain.InsufficientFundsError
		require.ErrorAs(t, err, &insufficient)
		assert.Equal(t, int64(100), insufficient.Available)
		assert.Equal(t, int64(500), insufficient.Requested)
		assert.True(t, domain.IsClientError(err))
		assert.Len(t, f.entries(t, 1), 1)
	})

	t.Run("RefusesOnCorruption", func(t *testing.T) {
		f := newFixture(t)
		acc := f.account(t, 1)
		_, err := f.ledger.Append(ctx, acc.ID, domain.EntryDeposit, 100, domain.PaymentReference(1))
		require.NoError(t, err)
		f.store.CorruptCachedBalance(acc.ID, 9999)

		_, err = f.ledger.Append(ctx, acc.ID, domain.EntryDeposit, 50, domain.PaymentReference(2))
		var corruption *domain.LedgerCorruptionError
		require.ErrorAs(t, err, &corruption)
		assert.Equal(t, int64(9999), corruption.Cached)
		assert.Equal(t, int64(100), corruption.Recomputed)
		assert.ErrorIs(t, err, domain.ErrLedgerCorruption)

		assert.Len(t, f.entries(t, 1), 1)
		assert.Contains(t, f.alerts.kinds(), alert.KindLedgerCorruption)

		stored, _ := f.store.GetAccount(ctx, acc.ID)
		assert.Equal(t, int64(9999), stored.CachedBalance, "drift is never corrected automatically")
	})
}

func TestLedgerStore_Reverse(t *testing.T) {
	ctx := context.Background()

	t.Run("Symmetry", func(t *testing.T) {
		f := newFixture(t)
		acc := f.account(t, 1)
		ref := domain.PaymentReference(77)
		e, err := f.ledger.Append(ctx, acc.ID, domain.EntryDeposit, 1000, ref)
		require.NoError(t, err)
		_, err = f.ledger.Append(ctx, acc.ID, domain.EntryDeposit, 200, domain.PaymentReference(78))
		require.NoError(t, err)

		rev, err := f.ledger.Reverse(ctx, e.ID, "chargeback")
		require.NoError(t, err)
		assert.Equal(t, domain.EntryReversalDebit, rev.Type)
		assert.Equal(t, e.Amount, rev.Amount)
		assert.Equal(t, ref, rev.Reference)
		require.NotNil(t, rev.PairedEntryID)
		assert.Equal(t, e.ID, *rev.PairedEntryID)
		assert.Equal(t, -e.Signed(), rev.Signed())

		bal, err := f.ledger.RecomputeBalance(ctx, acc.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(200), bal)

		original, err := f.store.LedgerRepository.GetEntry(ctx, e.ID)
		require.NoError(t, err)
		assert.True(t, original.IsReversed)
		require.NotNil(t, original.ReversedByID)
		assert.Equal(t, rev.ID, *original.ReversedByID)
		assert.Equal(t, "chargeback", original.ReversalReason)
	})

	t.Run("NoDoubleReversal", func(t *testing.T) {
		f := newFixture(t)
		acc := f.account(t, 1)
		e, err := f.ledger.Append(ctx, acc.ID, domain.EntryDeposit, 1000, domain.PaymentReference(1))
		require.NoError(t, err)
		_, err = f.ledger.Reverse(ctx, e.ID, "first")
		require.NoError(t, err)

		_, err = f.ledger.Reverse(ctx, e.ID, "second")
		assert.ErrorIs(t, err, domain.ErrAlreadyReversed)
		assert.Len(t, f.entries(t, 1), 2)
	})

	t.Run("ReversalOfReversalRefused", func(t *testing.T) {
		f := newFixture(t)
		acc := f.account(t, 1)
		e, _ := f.ledger.Append(ctx, acc.ID, domain.EntryDeposit, 1000, domain.PaymentReference(1))
		rev, err := f.ledger.Reverse(ctx, e.ID, "first")
		require.NoError(t, err)

		_, err = f.ledger.Reverse(ctx, rev.ID, "undo")
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})

	t.Run("AllowsOverdraft", func(t *testing.T) {
		f := newFixture(t)
		acc := f.account(t, 1)
		e, _ := f.ledger.Append(ctx, acc.ID, domain.EntryDeposit, 1000, domain.PaymentReference(1))
		_, err := f.ledger.Append(ctx, acc.ID, domain.EntryWithdrawal, 800, domain.PaymentReference(2), service.RequireFunds())
		require.NoError(t, err)

		_, err = f.ledger.Reverse(ctx, e.ID, "clawback")
		require.NoError(t, err)
		bal, _ := f.ledger.RecomputeBalance(ctx, acc.ID)
		assert.Equal(t, int64(-800), bal)
	})

	t.Run("RefusesOnCorruption", func(t *testing.T) {
		f := newFixture(t)
		acc := f.account(t, 1)
		e, _ := f.ledger.Append(ctx, acc.ID, domain.EntryDeposit, 1000, domain.PaymentReference(1))
		f.store.CorruptCachedBalance(acc.ID, 1)

		_, err := f.ledger.Reverse(ctx, e.ID, "refund")
		assert.ErrorIs(t, err, domain.ErrLedgerCorruption)
		original, _ := f.store.LedgerRepository.GetEntry(ctx, e.ID)
		assert.False(t, original.IsReversed)
		assert.Len(t, f.entries(t, 1), 1)
	})

	t.Run("UnknownEntry", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.ledger.Reverse(ctx, 404, "nothing")
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})
}

func TestLedgerStore_VerifyChain(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	acc := f.account(t, 1)
	e, _ := f.ledger.Append(ctx, acc.ID, domain.EntryDeposit, 500, domain.PaymentReference(1))
	rev, err := f.ledger.Reverse(ctx, e.ID, "test")
	require.NoError(t, err)

	t.Run("ValidPair", func(t *testing.T) {
		for _, id := range []int64{e.ID, rev.ID} {
			report, err := f.ledger.VerifyChain(ctx, id)
			require.NoError(t, err)
			assert.True(t, report.Valid, "%v", report.Violations)
		}
	})

	t.Run("BrokenConservation", func(t *testing.T) {
		f.store.TamperEntry(rev.ID, func(e *domain.LedgerEntry) { e.BalanceAfter = 42 })
		report, err := f.ledger.VerifyChain(ctx, rev.ID)
		require.NoError(t, err)
		assert.False(t, report.Valid)
		assert.NotEmpty(t, report.Violations)
	})

	t.Run("BrokenPairing", func(t *testing.T) {
		f.store.TamperEntry(e.ID, func(e *domain.LedgerEntry) { e.IsReversed = false; e.ReversedByID = nil })
		report, err := f.ledger.VerifyChain(ctx, rev.ID)
		require.NoError(t, err)
		assert.False(t, report.Valid)
	})
}

func TestLedgerStore_VerifyIntegrity(t *testing.T) {
	ctx := context.Background()

	t.Run("Clean", func(t *testing.T) {
		f := newFixture(t)
		acc := f.account(t, 1)
		for i := int64(1); i <= 5; i++ {
			_, err := f.ledger.Append(ctx, acc.ID, domain.EntryDeposit, i*100, domain.PaymentReference(i))
			require.NoError(t, err)
		}
		report, err := f.ledger.VerifyIntegrity(ctx, acc.ID)
		require.NoError(t, err)
		assert.True(t, report.Valid())
		assert.Equal(t, 5, report.Entries)
		assert.Equal(t, int64(1500), report.Recomputed)
		assert.Equal(t, int64(0), report.Drift())
	})

	t.Run("ChainBreak", func(t *testing.T) {
		f := newFixture(t)
		acc := f.account(t, 1)
		_, _ = f.ledger.Append(ctx, acc.ID, domain.EntryDeposit, 100, domain.PaymentReference(1))
		second, _ := f.ledger.Append(ctx, acc.ID, domain.EntryDeposit, 100, domain.PaymentReference(2))
		_, _ = f.ledger.Append(ctx, acc.ID, domain.EntryDeposit, 100, domain.PaymentReference(3))
		f.store.TamperEntry(second.ID, func(e *domain.LedgerEntry) { e.BalanceBefore = 150; e.BalanceAfter = 250 })

		report, err := f.ledger.VerifyIntegrity(ctx, acc.ID)
		require.NoError(t, err)
		assert.False(t, report.Valid())

		var kinds []string
		for _, v := range report.Violations {
			kinds = append(kinds, v.Kind)
		}
		// entry 2 no longer follows entry 1, and entry 3 no longer follows entry 2
		assert.Equal(t, []string{service.ViolationChainBreak, service.ViolationChainBreak}, kinds)
		assert.Equal(t, 1, report.Violations[0].Position)
		assert.Equal(t, second.ID, report.Violations[0].EntryID)
	})

	t.Run("CacheDrift", func(t *testing.T) {
		f := newFixture(t)
		acc := f.account(t, 1)
		_, _ = f.ledger.Append(ctx, acc.ID, domain.EntryDeposit, 100, domain.PaymentReference(1))
		f.store.CorruptCachedBalance(acc.ID, 130)

		report, err := f.ledger.VerifyIntegrity(ctx, acc.ID)
		require.NoError(t, err)
		assert.Empty(t, report.Violations)
		assert.Equal(t, int64(30), report.Drift())
		assert.False(t, report.Valid())
	})
}

func TestWalletAccount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	t.Run("DirectionChecked", func(t *testing.T) {
		_, err := f.wallet.Deposit(ctx, 1, 100, domain.EntryWithdrawal, domain.PaymentReference(1))
		assert.Error(t, err)
		_, err = f.wallet.Withdraw(ctx, 1, 100, domain.EntryDeposit, domain.PaymentReference(1), false)
		assert.Error(t, err)
	})

	t.Run("WithdrawWithoutFunds", func(t *testing.T) {
		_, err := f.wallet.Deposit(ctx, 2, 100, domain.EntryDeposit, domain.PaymentReference(1))
		require.NoError(t, err)

		_, err = f.wallet.Withdraw(ctx, 2, 150, domain.EntryWithdrawal, domain.PaymentReference(1), false)
		assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

		_, err = f.wallet.Withdraw(ctx, 2, 150, domain.EntryWithdrawal, domain.PaymentReference(1), true)
		require.NoError(t, err)
		bal, err := f.wallet.Balance(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(-50), bal)
	})
}

func TestPlatformLedger(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	credit, err := f.platform.Record(ctx, domain.Credit, 500, service.SourcePayment, "1")
	require.NoError(t, err)
	_, err = f.platform.Record(ctx, domain.Debit, 200, service.SourceRefund, "1")
	require.NoError(t, err)

	report, err := f.platform.VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, report.Valid())
	assert.Equal(t, int64(300), report.Recomputed)

	rev, err := f.platform.Reverse(ctx, credit.ID, "test")
	require.NoError(t, err)
	assert.Equal(t, domain.Debit, rev.Type)
	require.NotNil(t, rev.EntryPairID)
	assert.Equal(t, credit.ID, *rev.EntryPairID)

	_, err = f.platform.Reverse(ctx, credit.ID, "again")
	assert.ErrorIs(t, err, domain.ErrAlreadyReversed)
	_, err = f.platform.Reverse(ctx, rev.ID, "undo")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	report, err = f.platform.VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, report.Valid())
	assert.Equal(t, int64(-200), report.Recomputed)

	_, err = f.platform.Record(ctx, domain.Credit, 0, service.SourcePayment, "2")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}
