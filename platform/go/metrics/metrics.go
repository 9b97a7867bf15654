// Package metrics declares the Prometheus collectors for the coordination
// layer. Components treat a nil *Metrics as disabled, so tests and thin
// callers can skip registration entirely.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the coordination layer.
type Metrics struct {
	// Cache metrics
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	// Rate limiter metrics
	RateLimitDecisions *prometheus.CounterVec

	// Session metrics
	SessionsCreated   prometheus.Counter
	SessionsDestroyed prometheus.Counter

	// Tenant connection registry metrics
	TenantConnectionsOpen prometheus.Gauge
	TenantConnectsTotal   *prometheus.CounterVec
}

// New creates collectors registered on the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith creates collectors registered on the given registry; tests pass
// a throwaway prometheus.NewRegistry to avoid duplicate registration.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		CacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "platform_cache_hits_total",
				Help: "Total number of cache hits by scope (default or namespaced)",
			},
			[]string{"scope"},
		),

		CacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "platform_cache_misses_total",
				Help: "Total number of cache misses by scope (default or namespaced)",
			},
			[]string{"scope"},
		),

		RateLimitDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "platform_rate_limit_decisions_total",
				Help: "Rate limiter outcomes by decision",
			},
			[]string{"decision"},
		),

		SessionsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "platform_sessions_created_total",
				Help: "Total number of sessions created",
			},
		),

		SessionsDestroyed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "platform_sessions_destroyed_total",
				Help: "Total number of sessions destroyed",
			},
		),

		TenantConnectionsOpen: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "platform_tenant_connections_open",
				Help: "Currently open tenant store connections",
			},
		),

		TenantConnectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "platform_tenant_connects_total",
				Help: "Tenant store connection establishment attempts by result",
			},
			[]string{"result"},
		),
	}
}
