// Package memory implements the repository interfaces in process. It backs
// the "memory" database driver and the service tests.
package memory

import (
	"sync"
	"sync/atomic"

	"fulfillment-backend-trusted/internal/domain"
	"fulfillment-backend-trusted/internal/repository"
)

type state struct {
	mu sync.RWMutex

	payments      map[int64]domain.Payment
	subscriptions map[int64]domain.Subscription
	accounts      map[int64]domain.Account
	entries       map[int64][]domain.LedgerEntry // by account, creation order
	platform      []domain.PlatformLedgerEntry
	platformBal   int64
	sagas         map[string]domain.SagaExecution
	bonuses       map[int64]domain.Bonus
	lots          []domain.InventoryLot
	allocations   map[int64]domain.Allocation
	leases        map[string]domain.Lease

	// Account and platform locks are held for the whole of a locked
	// transaction; mu only guards the maps for the duration of one call.
	accountLocks sync.Map // int64 -> *sync.Mutex
	platformLock sync.Mutex

	seq atomic.Int64
}

func (s *state) nextID() int64 {
	return s.seq.Add(1)
}

func (s *state) accountLock(id int64) *sync.Mutex {
	l, _ := s.accountLocks.LoadOrStore(id, &sync.Mutex{})
	return l.(*sync.Mutex)
}

type Store struct {
	repository.PaymentRepository
	repository.SubscriptionRepository
	repository.FulfillmentRepository
	repository.LedgerRepository
	repository.PlatformLedgerRepository
	repository.SagaRepository
	repository.BonusRepository
	repository.InventoryRepository
	repository.LeaseRepository
}

func NewStore() *Store {
	s := &state{
		payments:      make(map[int64]domain.Payment),
		subscriptions: make(map[int64]domain.Subscription),
		accounts:      make(map[int64]domain.Account),
		entries:       make(map[int64][]domain.LedgerEntry),
		sagas:         make(map[string]domain.SagaExecution),
		bonuses:       make(map[int64]domain.Bonus),
		allocations:   make(map[int64]domain.Allocation),
		leases:        make(map[string]domain.Lease),
	}
	return &Store{
		PaymentRepository:        &paymentRepository{s: s},
		SubscriptionRepository:   &subscriptionRepository{s: s},
		FulfillmentRepository:    &fulfillmentRepository{s: s},
		LedgerRepository:         &ledgerRepository{s: s},
		PlatformLedgerRepository: &platformLedgerRepository{s: s},
		SagaRepository:           &sagaRepository{s: s},
		BonusRepository:          &bonusRepository{s: s},
		InventoryRepository:      &inventoryRepository{s: s},
		LeaseRepository:          &leaseRepository{s: s},
	}
}

func ptr[T any](v T) *T { return &v }
