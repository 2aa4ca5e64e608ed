// Package metrics exposes prometheus instrumentation for the speech core.
// Every method is safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	admissions      *prometheus.CounterVec
	inFlight        *prometheus.GaugeVec
	staleOps        prometheus.Counter
	retries         *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	cacheEvictions  prometheus.Counter
	reclamations    *prometheus.CounterVec
	storeWrites     *prometheus.CounterVec
	usageCost       *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		admissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "speechkit_admissions_total",
				Help: "Admission decisions by operation kind and result.",
			},
			[]string{"kind", "result"},
		),
		inFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "speechkit_operations_in_flight",
				Help: "Currently admitted operations.",
			},
			[]string{"kind"},
		),
		staleOps: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "speechkit_stale_operations_total",
				Help: "Operations removed by the stale sweep.",
			},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "speechkit_retries_total",
				Help: "Retry attempts after a failed try.",
			},
			[]string{"reason"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "speechkit_cache_lookups_total",
				Help: "Response cache lookups by result.",
			},
			[]string{"result"},
		),
		cacheEvictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "speechkit_cache_evictions_total",
				Help: "Response cache entries removed by eviction.",
			},
		),
		reclamations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "speechkit_store_reclaimed_items_total",
				Help: "Stored items deleted to free quota, by reclamation mode.",
			},
			[]string{"mode"},
		),
		storeWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "speechkit_store_writes_total",
				Help: "Persistent store writes by result.",
			},
			[]string{"result"},
		),
		usageCost: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "speechkit_usage_cost_cents_total",
				Help: "Estimated cost in cents recorded by the usage ledger.",
			},
			[]string{"kind", "provider"},
		),
		providerLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "speechkit_provider_request_duration_seconds",
				Help:    "Provider request duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "endpoint", "status"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.admissions,
		m.inFlight,
		m.staleOps,
		m.retries,
		m.cacheLookups,
		m.cacheEvictions,
		m.reclamations,
		m.storeWrites,
		m.usageCost,
		m.providerLatency,
	)

	return m
}

// Registry returns the underlying registry for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveAdmission(kind string, admitted bool) {
	if m == nil {
		return
	}
	result := "admitted"
	if !admitted {
		result = "rejected"
	}
	m.admissions.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) SetInFlight(kind string, n int) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(kind).Set(float64(n))
}

func (m *Metrics) IncStale() {
	if m == nil {
		return
	}
	m.staleOps.Inc()
}

func (m *Metrics) IncRetry(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.retries.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

func (m *Metrics) AddEvictions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.cacheEvictions.Add(float64(n))
}

func (m *Metrics) AddReclaimed(mode string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reclamations.WithLabelValues(mode).Add(float64(n))
}

func (m *Metrics) ObserveStoreWrite(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.storeWrites.WithLabelValues("ok").Inc()
		return
	}
	m.storeWrites.WithLabelValues("failed").Inc()
}

func (m *Metrics) AddCost(kind, provider string, cents int64) {
	if m == nil || cents <= 0 {
		return
	}
	m.usageCost.WithLabelValues(kind, provider).Add(float64(cents))
}

func (m *Metrics) ObserveProvider(provider, endpoint, status string, duration time.Duration) {
	if m == nil {
		return
	}
	if status == "" {
		status = "error"
	}
	m.providerLatency.WithLabelValues(provider, endpoint, status).Observe(duration.Seconds())
}
