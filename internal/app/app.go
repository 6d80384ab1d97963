// Package app builds the service graph shared by the server, the cron runner
// and the operator CLI.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"fulfillment-backend-trusted/internal/alert"
	"fulfillment-backend-trusted/internal/config"
	"fulfillment-backend-trusted/internal/jobs"
	"fulfillment-backend-trusted/internal/logger"
	"fulfillment-backend-trusted/internal/repository"
	"fulfillment-backend-trusted/internal/repository/memory"
	"fulfillment-backend-trusted/internal/repository/postgres"
	"fulfillment-backend-trusted/internal/security"
	"fulfillment-backend-trusted/internal/service"

	_ "github.com/lib/pq"
)

// Repositories is the storage surface every service is built on.
type Repositories struct {
	Payments      repository.PaymentRepository
	Subscriptions repository.SubscriptionRepository
	Fulfillment   repository.FulfillmentRepository
	Ledger        repository.LedgerRepository
	Platform      repository.PlatformLedgerRepository
	Sagas         repository.SagaRepository
	Bonuses       repository.BonusRepository
	Inventory     repository.InventoryRepository
	Leases        repository.LeaseRepository
}

func FromPostgres(s *postgres.Store) Repositories {
	return Repositories{
		Payments:      s.PaymentRepository,
		Subscriptions: s.SubscriptionRepository,
		Fulfillment:   s.FulfillmentRepository,
		Ledger:        s.LedgerRepository,
		Platform:      s.PlatformLedgerRepository,
		Sagas:         s.SagaRepository,
		Bonuses:       s.BonusRepository,
		Inventory:     s.InventoryRepository,
		Leases:        s.LeaseRepository,
	}
}

func FromMemory(s *memory.Store) Repositories {
	return Repositories{
		Payments:      s.PaymentRepository,
		Subscriptions: s.SubscriptionRepository,
		Fulfillment:   s.FulfillmentRepository,
		Ledger:        s.LedgerRepository,
		Platform:      s.PlatformLedgerRepository,
		Sagas:         s.SagaRepository,
		Bonuses:       s.BonusRepository,
		Inventory:     s.InventoryRepository,
		Leases:        s.LeaseRepository,
	}
}

// OpenDatabase connects to PostgreSQL and verifies the connection.
func OpenDatabase(ctx context.Context, cfg config.DatabaseConfig, dsn string) (*sql.DB, error) {
	logger.Info("Connecting to database...", "host", cfg.Host, "port", cfg.Port, "database", cfg.Database, "user", cfg.User)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	logger.Info("Database connection established")
	return db, nil
}

// Storage is an opened backend. DB is nil for the memory driver.
type Storage struct {
	Repositories
	DB *sql.DB
}

// OpenStorage selects the backend named by database.driver.
func OpenStorage(ctx context.Context, cfg *config.Config) (*Storage, error) {
	if cfg.Database.Driver == "memory" {
		logger.Warn("Using in-memory storage; nothing survives a restart")
		return &Storage{Repositories: FromMemory(memory.NewStore())}, nil
	}

	db, err := OpenDatabase(ctx, cfg.Database, cfg.GetDatabaseConnectionString())
	if err != nil {
		return nil, err
	}
	return &Storage{Repositories: FromPostgres(postgres.NewStore(db)), DB: db}, nil
}

// Ping reports whether the backend is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	if s.DB == nil {
		return nil
	}
	return s.DB.PingContext(ctx)
}

func (s *Storage) Close() error {
	if s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// NewAlerter always logs and also emails when a SendGrid key is configured.
func NewAlerter(cfg config.AlertsConfig) alert.Alerter {
	alerters := alert.Multi{alert.LogAlerter{}}
	if cfg.SendGridAPIKey != "" && len(cfg.Recipients) > 0 {
		logger.Info("Critical alerts will be emailed", "recipients", len(cfg.Recipients))
		alerters = append(alerters, alert.NewSendGridAlerter(cfg.SendGridAPIKey, cfg.FromEmail, cfg.FromName, cfg.Recipients))
	}
	return alerters
}

// Services is the fully wired service graph.
type Services struct {
	Ledger   service.LedgerStore
	Wallet   service.WalletAccount
	Platform service.PlatformLedger
	Locker   service.Locker
	Saga     service.AllocationSaga
	Gate     service.FulfillmentGate
	Payments service.PaymentService
	Refunds  service.RefundService
	Events   service.GatewayEventService
	Operator service.SagaOperatorService
	Audit    service.AuditService
	Tokens   security.TokenManager

	leases repository.LeaseRepository
	async  *service.AsyncDispatcher
}

func NewServices(cfg *config.Config, repos Repositories, alerter alert.Alerter) (*Services, error) {
	bonus, err := service.NewBonusCalculator(cfg.Bonus)
	if err != nil {
		return nil, fmt.Errorf("bonus config: %w", err)
	}
	tds, err := service.NewTdsLookup(cfg.TDS)
	if err != nil {
		return nil, fmt.Errorf("tds config: %w", err)
	}

	s := &Services{leases: repos.Leases}
	s.Ledger = service.NewLedgerStore(repos.Ledger, alerter)
	s.Wallet = service.NewWalletAccount(s.Ledger, repos.Ledger)
	s.Platform = service.NewPlatformLedger(repos.Platform, alerter)
	s.Locker = service.NewLeaseLocker(repos.Leases)
	s.Saga = service.NewAllocationSaga(service.SagaDeps{
		Sagas:         repos.Sagas,
		Payments:      repos.Payments,
		Subscriptions: repos.Subscriptions,
		Bonuses:       repos.Bonuses,
		Inventory:     repos.Inventory,
		Wallet:        s.Wallet,
		Ledger:        s.Ledger,
		Platform:      s.Platform,
		Allocator:     service.NewFIFOAllocator(repos.Inventory),
		Bonus:         bonus,
		Tds:           tds,
		Alerter:       alerter,
		Locker:        s.Locker,

		RunLockTTL:         cfg.Saga.RunLockTTL(),
		AllocationLockWait: cfg.Saga.AllocationWait(),
	})

	var dispatcher service.Dispatcher = service.NewInlineDispatcher(s.Saga)
	if cfg.Fulfillment.Dispatch == "async" {
		s.async = service.NewAsyncDispatcher(s.Saga, cfg.Fulfillment.Workers, cfg.Fulfillment.QueueSize)
		dispatcher = s.async
	}

	lockWait, lockTTL := cfg.Fulfillment.LockWait(), cfg.Fulfillment.LockTTL()
	s.Gate = service.NewFulfillmentGate(s.Locker, repos.Payments, repos.Fulfillment, repos.Sagas, dispatcher, lockWait, lockTTL)
	s.Payments = service.NewPaymentService(repos.Payments, repos.Subscriptions, s.Gate, cfg.Gateway.WebhookSecret)
	s.Refunds = service.NewRefundService(s.Locker, repos.Payments, repos.Sagas, s.Wallet, s.Ledger, s.Platform, lockWait, lockTTL)
	s.Events = service.NewGatewayEventService(repos.Payments, repos.Subscriptions, s.Gate, s.Payments)
	s.Operator = service.NewSagaOperatorService(repos.Sagas, s.Saga)
	s.Audit = service.NewAuditService(repos.Ledger, s.Ledger, s.Platform, alerter)
	s.Tokens = security.NewTokenManager(cfg.JWT.Secret, time.Duration(cfg.JWT.OperatorTokenHours)*time.Hour)

	logger.Info("Services initialized", "dispatch", cfg.Fulfillment.Dispatch, "bonus_enabled", cfg.Bonus.Enabled)
	return s, nil
}

// Start launches background workers, if any.
func (s *Services) Start(ctx context.Context) {
	if s.async != nil {
		s.async.Start(ctx)
	}
}

// Stop drains queued sagas.
func (s *Services) Stop() {
	if s.async != nil {
		s.async.Stop()
	}
}

// JobRunner wires the periodic jobs to this service graph.
func (s *Services) JobRunner(cfg *config.Config) *jobs.JobRunner {
	return jobs.NewJobRunner(s.leases, &jobs.Services{Saga: s.Saga, Audit: s.Audit}, cfg)
}
