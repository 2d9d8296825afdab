// Package metrics provides Prometheus metrics integration for storage backends.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry manages Prometheus metrics registration and exposure. It
// carries the storage operation collectors and Go runtime collectors by
// default; embedding services add their own through Register.
type Registry struct {
	registry *prometheus.Registry
}

// NewRegistry creates a registry pre-populated with the storage
// operation collectors (duration, counter, in-flight, streamed records)
// and the Go runtime and process collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		storageOpDuration,
		storageOpsTotal,
		storageOpsInFlight,
		storageRecordsStreamed,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Registry{registry: reg}
}

// Register adds a custom collector. Returns an error when the collector
// is already registered or collides with an existing metric name.
func (r *Registry) Register(collector prometheus.Collector) error {
	return r.registry.Register(collector)
}

// MustRegister adds custom collectors and panics on collision. Use for
// metrics that must exist at startup.
func (r *Registry) MustRegister(collectors ...prometheus.Collector) {
	r.registry.MustRegister(collectors...)
}

// Unregister removes a collector. Primarily useful in tests.
func (r *Registry) Unregister(collector prometheus.Collector) bool {
	return r.registry.Unregister(collector)
}

// Handler returns the scrape handler for this registry, typically
// mounted at /metrics on a management endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Gatherer exposes the underlying prometheus.Gatherer for custom
// exposition paths.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}
