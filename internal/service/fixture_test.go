package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fulfillment-backend-trusted/internal/alert"
	"fulfillment-backend-trusted/internal/config"
	"fulfillment-backend-trusted/internal/domain"
	"fulfillment-backend-trusted/internal/repository/memory"
	"fulfillment-backend-trusted/internal/service"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (r *recordingAlerter) Critical(_ context.Context, a alert.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *recordingAlerter) kinds() []alert.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]alert.Kind, 0, len(r.alerts))
	for _, a := range r.alerts {
		out = append(out, a.Kind)
	}
	return out
}

// failingReverse refuses every reversal, making compensation fail.
type failingReverse struct {
	service.LedgerStore
}

var errReverseUnavailable = errors.New("ledger unavailable")

func (failingReverse) Reverse(context.Context, int64, string) (*domain.LedgerEntry, error) {
	return nil, errReverseUnavailable
}

type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Dispatch(ctx context.Context, sagaID string) error {
	args := m.Called(ctx, sagaID)
	return args.Error(0)
}

type MockAllocationSaga struct {
	mock.Mock
}

func (m *MockAllocationSaga) Run(ctx context.Context, sagaID string) (*domain.SagaExecution, error) {
	args := m.Called(ctx, sagaID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SagaExecution), args.Error(1)
}

func (m *MockAllocationSaga) Resume(ctx context.Context, sagaID string) (*domain.SagaExecution, error) {
	args := m.Called(ctx, sagaID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SagaExecution), args.Error(1)
}

func (m *MockAllocationSaga) CompensateStored(ctx context.Context, sagaID string) (*domain.SagaExecution, error) {
	args := m.Called(ctx, sagaID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SagaExecution), args.Error(1)
}

func (m *MockAllocationSaga) RecoverStale(ctx context.Context, olderThan time.Duration) ([]domain.SagaExecution, error) {
	args := m.Called(ctx, olderThan)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.SagaExecution), args.Error(1)
}

const gatewaySecret = "test-gateway-secret"

type fixture struct {
	store    *memory.Store
	alerts   *recordingAlerter
	ledger   service.LedgerStore
	wallet   service.WalletAccount
	platform service.PlatformLedger
	locker   service.Locker
	saga     service.AllocationSaga
	gate     service.FulfillmentGate
}

type fixtureConfig struct {
	bonus config.BonusConfig
	tds   config.TDSConfig
	deps  func(*service.SagaDeps)
}

type fixtureOption func(*fixtureConfig)

func withBonus(percent string, minInstallments int32) fixtureOption {
	return func(c *fixtureConfig) {
		c.bonus = config.BonusConfig{Enabled: true, Percent: percent, MinInstallments: minInstallments}
		c.tds = config.TDSConfig{Rates: map[string]config.TDSRate{
			service.IncomeTypeBonus: {PanVerified: "10", NoPan: "20"},
		}}
	}
}

func withSagaDeps(fn func(*service.SagaDeps)) fixtureOption {
	return func(c *fixtureConfig) { c.deps = fn }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	var cfg fixtureConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	store := memory.NewStore()
	alerts := &recordingAlerter{}
	ledger := service.NewLedgerStore(store.LedgerRepository, alerts)
	wallet := service.NewWalletAccount(ledger, store.LedgerRepository)
	platform := service.NewPlatformLedger(store.PlatformLedgerRepository, alerts)
	bonus, err := service.NewBonusCalculator(cfg.bonus)
	require.NoError(t, err)
	tds, err := service.NewTdsLookup(cfg.tds)
	require.NoError(t, err)

	locker := service.NewLeaseLocker(store.LeaseRepository)
	deps := service.SagaDeps{
		Sagas:         store.SagaRepository,
		Payments:      store.PaymentRepository,
		Subscriptions: store.SubscriptionRepository,
		Bonuses:       store.BonusRepository,
		Inventory:     store.InventoryRepository,
		Wallet:        wallet,
		Ledger:        ledger,
		Platform:      platform,
		Allocator:     service.NewFIFOAllocator(store.InventoryRepository),
		Bonus:         bonus,
		Tds:           tds,
		Alerter:       alerts,
		Locker:        locker,
	}
	if cfg.deps != nil {
		cfg.deps(&deps)
	}
	saga := service.NewAllocationSaga(deps)

	return &fixture{
		store:    store,
		alerts:   alerts,
		ledger:   ledger,
		wallet:   wallet,
		platform: platform,
		locker:   locker,
		saga:     saga,
		gate: service.NewFulfillmentGate(locker, store.PaymentRepository, store.FulfillmentRepository,
			store.SagaRepository, service.NewInlineDispatcher(saga), 2*time.Second, 10*time.Second),
	}
}

func (f *fixture) pendingPayment(t *testing.T, userID, amount int64, orderID string) *domain.Payment {
	t.Helper()
	p := &domain.Payment{UserID: userID, Amount: amount, Status: domain.PaymentStatusPending, GatewayOrderID: orderID}
	require.NoError(t, f.store.PaymentRepository.Create(context.Background(), p))
	return p
}

func (f *fixture) subscription(t *testing.T, userID, installment int64, gatewayID string, panVerified bool) *domain.Subscription {
	t.Helper()
	sub := &domain.Subscription{
		UserID:                userID,
		GatewaySubscriptionID: gatewayID,
		InstallmentAmount:     installment,
		IntervalDays:          30,
		NextChargeAt:          time.Now(),
		PanVerified:           panVerified,
	}
	require.NoError(t, f.store.SubscriptionRepository.Create(context.Background(), sub))
	return sub
}

func (f *fixture) addLot(t *testing.T, value int64) {
	t.Helper()
	require.NoError(t, f.store.AddLot(context.Background(), &domain.InventoryLot{Label: "lot", TotalValue: value}))
}

func (f *fixture) account(t *testing.T, userID int64) *domain.Account {
	t.Helper()
	acc, err := f.store.EnsureAccount(context.Background(), userID)
	require.NoError(t, err)
	return acc
}

func (f *fixture) entries(t *testing.T, userID int64) []domain.LedgerEntry {
	t.Helper()
	entries, err := f.store.LedgerRepository.ListEntries(context.Background(), f.account(t, userID).ID)
	require.NoError(t, err)
	return entries
}

func (f *fixture) sagaFor(t *testing.T, paymentID int64) *domain.SagaExecution {
	t.Helper()
	saga, err := f.store.SagaRepository.GetByPaymentID(context.Background(), paymentID)
	require.NoError(t, err)
	return saga
}
