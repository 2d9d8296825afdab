// Package metrics provides Prometheus metrics for storage operations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels recorded on the operation counter. NotFound is a
// distinct outcome rather than a failure: a read that matched nothing
// is a normal answer, not a backend fault.
const (
	OutcomeOK       = "ok"
	OutcomeNotFound = "not_found"
	OutcomeInternal = "internal"
)

var (
	// storageOpDuration tracks storage operation duration in seconds.
	// Labels: backend, operation
	storageOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storage_operation_duration_seconds",
			Help:    "Storage operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	// storageOpsTotal tracks total number of storage operations.
	// Labels: backend, operation, outcome
	storageOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_operations_total",
			Help: "Total number of storage operations",
		},
		[]string{"backend", "operation", "outcome"},
	)

	// storageOpsInFlight tracks current number of storage operations in progress.
	// Labels: backend
	storageOpsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "storage_operations_in_flight",
			Help: "Current number of storage operations in progress",
		},
		[]string{"backend"},
	)

	// storageRecordsStreamed tracks total records delivered through streams.
	// Labels: backend
	storageRecordsStreamed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_records_streamed_total",
			Help: "Total number of records delivered by storage streams",
		},
		[]string{"backend"},
	)
)

// RecordStorageOperation records storage operation metrics.
// It updates the duration histogram and operation counter with the provided labels.
func RecordStorageOperation(backend, operation, outcome string, duration time.Duration) {
	storageOpDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	storageOpsTotal.WithLabelValues(backend, operation, outcome).Inc()
}

// IncrementInFlight increments the in-flight operations gauge for a backend.
func IncrementInFlight(backend string) {
	storageOpsInFlight.WithLabelValues(backend).Inc()
}

// DecrementInFlight decrements the in-flight operations gauge for a backend.
func DecrementInFlight(backend string) {
	storageOpsInFlight.WithLabelValues(backend).Dec()
}

// AddStreamedRecords adds count to the streamed records counter for a backend.
func AddStreamedRecords(backend string, count int) {
	storageRecordsStreamed.WithLabelValues(backend).Add(float64(count))
}
