package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	httpDurationHistogram *prometheus.HistogramVec
	allocationCounter     *prometheus.CounterVec
	confirmationCounter   *prometheus.CounterVec
	expiredBatchCounter   prometheus.Counter
	balanceDriftCounter   prometheus.Counter
	idempotencyCounter    *prometheus.CounterVec
	workerRunCounter      *prometheus.CounterVec
	publishFailureCounter prometheus.Counter
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		allocationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_allocations_total",
			Help: "Matching engine outcomes per allocation attempt",
		}, []string{"outcome"})

		confirmationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_batch_confirmations_total",
			Help: "Batches confirmed, labeled by completion method",
		}, []string{"method"})

		expiredBatchCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "settlement_batches_expired_total",
			Help: "Batches reversed by the expiry sweep",
		})

		balanceDriftCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "settlement_balance_drift_total",
			Help: "Payouts flagged for violating the balance invariant",
		})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		publishFailureCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notification_publish_failures_total",
			Help: "Best-effort bus publishes that failed",
		})

		prometheus.MustRegister(
			httpDurationHistogram,
			allocationCounter,
			confirmationCounter,
			expiredBatchCounter,
			balanceDriftCounter,
			idempotencyCounter,
			workerRunCounter,
			publishFailureCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

// IncrementAllocation records a matching outcome: "matched", "no_match" or
// "conflict".
func IncrementAllocation(outcome string) {
	if allocationCounter == nil {
		return
	}
	allocationCounter.WithLabelValues(outcome).Inc()
}

func IncrementConfirmation(method string) {
	if confirmationCounter == nil {
		return
	}
	confirmationCounter.WithLabelValues(method).Inc()
}

func IncrementExpiredBatch() {
	if expiredBatchCounter == nil {
		return
	}
	expiredBatchCounter.Inc()
}

func IncrementBalanceDrift() {
	if balanceDriftCounter == nil {
		return
	}
	balanceDriftCounter.Inc()
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}

func IncrementPublishFailure() {
	if publishFailureCounter == nil {
		return
	}
	publishFailureCounter.Inc()
}
