// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FulfillmentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_attempts_total",
		Help: "Fulfillment gate invocations, labeled by outcome",
	}, []string{"outcome"})

	LockWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fulfillment_lock_wait_seconds",
		Help:    "Time spent waiting for the per-payment fulfillment lease",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
	})

	SagaOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "allocation_saga_outcomes_total",
		Help: "Allocation saga terminal states",
	}, []string{"status"})

	SagaStepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "allocation_saga_step_duration_seconds",
		Help:    "Latency of individual saga steps",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"step", "result"})

	LedgerCorruptionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_corruption_detected_total",
		Help: "Operations refused because cached and recomputed balances disagreed",
	}, []string{"ledger"})

	LedgerAuditViolations = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ledger_balance_drift",
		Help: "Number of integrity violations found by the last audit run",
	}, []string{"ledger"})

	DispatchQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "saga_dispatch_queue_depth",
		Help: "Sagas waiting for an async dispatch worker",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fulfillment_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"route"})
)

const (
	LedgerWallet   = "wallet"
	LedgerPlatform = "platform"
)
