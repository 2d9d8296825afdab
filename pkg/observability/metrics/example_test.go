package metrics_test

import (
	"fmt"
	"net/http"
	"time"

	"github.com/nodekv/nodekv/pkg/observability/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// ExampleNewRegistry demonstrates creating a metrics registry and exposing metrics.
func ExampleNewRegistry() {
	// Create a new metrics registry
	registry := metrics.NewRegistry()

	// Expose metrics on an HTTP endpoint
	http.Handle("/metrics", registry.Handler())

	fmt.Println("Metrics registry created and handler registered")
	// Output: Metrics registry created and handler registered
}

// ExampleRegistry_Register demonstrates registering custom metrics.
func ExampleRegistry_Register() {
	registry := metrics.NewRegistry()

	// Create a custom counter
	nodesWritten := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nodes_written_total",
		Help: "Total number of nodes written",
	})

	// Register the custom metric
	err := registry.Register(nodesWritten)
	if err != nil {
		fmt.Printf("Failed to register metric: %v\n", err)
		return
	}

	// Use the metric
	nodesWritten.Inc()

	fmt.Println("Custom metric registered and incremented")
	// Output: Custom metric registered and incremented
}

// ExampleRegistry_MustRegister demonstrates registering multiple custom metrics.
func ExampleRegistry_MustRegister() {
	registry := metrics.NewRegistry()

	// Create custom metrics
	batchesProcessed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "batches_processed_total",
		Help: "Total number of record batches processed",
	})

	openStreams := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "open_streams",
		Help: "Number of open record streams",
	})

	// Register multiple metrics at once
	registry.MustRegister(batchesProcessed, openStreams)

	// Use the metrics
	batchesProcessed.Inc()
	openStreams.Set(3)

	fmt.Println("Multiple custom metrics registered")
	// Output: Multiple custom metrics registered
}

// ExampleRecordStorageOperation demonstrates recording storage operation metrics.
func ExampleRecordStorageOperation() {
	// Record metrics for a storage read
	backend := "redis"
	operation := "get"
	outcome := metrics.OutcomeOK
	duration := 15 * time.Millisecond

	metrics.RecordStorageOperation(backend, operation, outcome, duration)

	fmt.Println("Storage metrics recorded")
	// Output: Storage metrics recorded
}

// ExampleIncrementInFlight demonstrates tracking in-flight operations.
func ExampleIncrementInFlight() {
	// Increment when the operation starts
	metrics.IncrementInFlight("postgres")

	// Simulate the operation
	// ... read or write records ...

	// Decrement when the operation completes
	defer metrics.DecrementInFlight("postgres")

	fmt.Println("In-flight operation tracked")
	// Output: In-flight operation tracked
}
