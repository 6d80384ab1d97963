package app

import (
	"context"
	"testing"

	"fulfillment-backend-trusted/internal/alert"
	"fulfillment-backend-trusted/internal/config"
	"fulfillment-backend-trusted/internal/domain"
	"fulfillment-backend-trusted/internal/repository/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{Driver: "memory"},
		JWT:      config.JWTConfig{Secret: "0123456789abcdef0123456789abcdef", OperatorTokenHours: 1},
		Gateway:  config.GatewayConfig{WebhookSecret: "whsec"},
		Fulfillment: config.FulfillmentConfig{
			LockWaitSeconds: 1,
			LockTTLSeconds:  5,
			Dispatch:        "inline",
			Workers:         1,
			QueueSize:       4,
		},
		Saga: config.SagaConfig{StaleAfterHours: 24},
	}
}

func TestNewServices_MemoryEndToEnd(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig()

	storage, err := OpenStorage(ctx, cfg)
	require.NoError(t, err)
	defer storage.Close()
	require.NoError(t, storage.Ping(ctx))
	repos := storage.Repositories

	svc, err := NewServices(cfg, repos, alert.LogAlerter{})
	require.NoError(t, err)
	svc.Start(ctx)
	defer svc.Stop()

	require.NoError(t, repos.Inventory.AddLot(ctx, &domain.InventoryLot{Label: "seed", TotalValue: 100_000}))
	p := &domain.Payment{UserID: 9, Amount: 1_500, Status: domain.PaymentStatusPending, GatewayOrderID: "order_9"}
	require.NoError(t, repos.Payments.Create(ctx, p))

	fulfilled, err := svc.Gate.Fulfill(ctx, p.ID, "pay_9")
	require.NoError(t, err)
	assert.True(t, fulfilled)

	bal, err := svc.Wallet.Balance(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, int64(1_500), bal)

	summary, err := svc.Audit.AuditWallets(ctx)
	require.NoError(t, err)
	assert.True(t, summary.Clean())
	assert.NotNil(t, svc.JobRunner(cfg))
}

func TestNewServices_AsyncDispatch(t *testing.T) {
	cfg := memoryConfig()
	cfg.Fulfillment.Dispatch = "async"

	svc, err := NewServices(cfg, FromMemory(memory.NewStore()), alert.LogAlerter{})
	require.NoError(t, err)
	assert.NotNil(t, svc.async)
	svc.Start(context.Background())
	svc.Stop()
}

func TestNewServices_InvalidBonus(t *testing.T) {
	cfg := memoryConfig()
	cfg.Bonus = config.BonusConfig{Enabled: true, Percent: "lots"}

	_, err := NewServices(cfg, FromMemory(memory.NewStore()), alert.LogAlerter{})
	assert.Error(t, err)
}

func TestNewAlerter(t *testing.T) {
	assert.Len(t, NewAlerter(config.AlertsConfig{}), 1)
	assert.Len(t, NewAlerter(config.AlertsConfig{SendGridAPIKey: "SG.key", Recipients: []string{"ops@example.com"}}), 2)
}
