package service

import (
	"context"
	"errors"
	"sync"

	"fulfillment-backend-trusted/internal/domain"
	"fulfillment-backend-trusted/internal/logger"
	"fulfillment-backend-trusted/internal/metrics"
)

// InlineDispatcher runs the saga before Dispatch returns. The run is detached
// from ctx cancellation.
type InlineDispatcher struct {
	saga AllocationSaga
}

func NewInlineDispatcher(saga AllocationSaga) *InlineDispatcher {
	return &InlineDispatcher{saga: saga}
}

func (d *InlineDispatcher) Dispatch(ctx context.Context, sagaID string) error {
	_, err := d.saga.Run(context.WithoutCancel(ctx), sagaID)
	return err
}

// AsyncDispatcher feeds a bounded queue drained by a fixed worker pool.
// Dispatch never blocks: a full queue is reported as domain.ErrQueueFull.
type AsyncDispatcher struct {
	saga    AllocationSaga
	queue   chan string
	workers int

	ctx context.Context
	wg  sync.WaitGroup
}

func NewAsyncDispatcher(saga AllocationSaga, workers, queueSize int) *AsyncDispatcher {
	if workers < 1 {
		workers = 1
	}
	return &AsyncDispatcher{
		saga:    saga,
		queue:   make(chan string, queueSize),
		workers: workers,
	}
}

// Start launches the workers. Cancelling ctx does not stop them or the sagas
// they run; only Stop does, after the queue is drained.
func (d *AsyncDispatcher) Start(ctx context.Context) {
	d.ctx = context.WithoutCancel(ctx)
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work(i)
	}
	logger.Info("Async saga dispatcher started", "workers", d.workers, "queue_size", cap(d.queue))
}

// Stop finishes queued sagas and waits for the workers to exit.
func (d *AsyncDispatcher) Stop() {
	close(d.queue)
	d.wg.Wait()
}

func (d *AsyncDispatcher) Dispatch(_ context.Context, sagaID string) error {
	select {
	case d.queue <- sagaID:
		metrics.DispatchQueueDepth.Set(float64(len(d.queue)))
		return nil
	default:
		logger.Warn("Saga dispatch queue full", "saga_id", sagaID)
		return domain.ErrQueueFull
	}
}

func (d *AsyncDispatcher) work(n int) {
	defer d.wg.Done()
	for sagaID := range d.queue {
		metrics.DispatchQueueDepth.Set(float64(len(d.queue)))
		d.run(n, sagaID)
	}
}

func (d *AsyncDispatcher) run(n int, sagaID string) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Saga worker panicked", "worker", n, "saga_id", sagaID, "panic", r)
		}
	}()
	_, err := d.saga.Run(d.ctx, sagaID)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrLockNotAcquired):
		logger.Info("Saga already running elsewhere", "worker", n, "saga_id", sagaID)
	default:
		logger.Error("Async saga run failed", "worker", n, "saga_id", sagaID, "error", err)
	}
}
