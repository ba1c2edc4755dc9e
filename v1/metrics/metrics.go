package metrics

import "github.com/prometheus/client_golang/prometheus"

// Request outcomes recorded by RequestCounter.
const (
	OutcomeCacheHit    = "cache_hit"
	OutcomeNetwork     = "network"
	OutcomePassthrough = "passthrough"
	OutcomeFallback    = "fallback"
	OutcomeError       = "error"
)

var (
	// RequestCounter counts fetches handled by the worker, by outcome.
	RequestCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shelf_worker_requests_total",
		Help: "Total number of requests handled by the worker",
	}, []string{"outcome"})
	// CacheWriteFailures counts responses that could not be stored.
	CacheWriteFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shelf_worker_cache_write_failures_total",
		Help: "Total number of failed writes to the dynamic partition",
	})
	// PartitionsDeleted counts partitions removed on activation.
	PartitionsDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shelf_worker_partitions_deleted_total",
		Help: "Total number of partitions deleted during activation",
	})
	// InstalledAssets reports how many static assets the last install stored.
	InstalledAssets = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "shelf_worker_installed_assets",
		Help: "Number of static assets stored by the last install",
	})
	// EventSubscribers reports the number of connected event stream clients.
	EventSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "shelf_event_subscribers",
		Help: "Current number of lifecycle event subscribers",
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterWorkerMetrics registers worker metrics on the provided registry.
func RegisterWorkerMetrics(reg prometheus.Registerer) {
	reg.MustRegister(RequestCounter, CacheWriteFailures, PartitionsDeleted, InstalledAssets, EventSubscribers)
}

// ObserveRequest records one request with the given outcome.
func ObserveRequest(outcome string) {
	RequestCounter.WithLabelValues(outcome).Inc()
}
