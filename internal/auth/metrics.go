package auth

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for token validation and the
// claims cache.
type Metrics struct {
	cacheHitsTotal      prometheus.Counter
	cacheMissesTotal    prometheus.Counter
	cacheEvictionsTotal prometheus.Counter
	cacheSizeGauge      prometheus.Gauge
	loadFailuresTotal   *prometheus.CounterVec
	validationsTotal    *prometheus.CounterVec
	authOutcomesTotal   *prometheus.CounterVec
}

var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

// GetMetrics returns the singleton auth metrics instance.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = newMetrics()
	})
	return metricsInstance
}

func newMetrics() *Metrics {
	return &Metrics{
		cacheHitsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "auth",
				Name:      "claims_cache_hits_total",
				Help:      "Total number of claims cache hits",
			},
		),
		cacheMissesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "auth",
				Name:      "claims_cache_misses_total",
				Help:      "Total number of claims cache misses",
			},
		),
		cacheEvictionsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "auth",
				Name:      "claims_cache_evictions_total",
				Help:      "Total number of claims cache evictions",
			},
		),
		cacheSizeGauge: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "gateway",
				Subsystem: "auth",
				Name:      "claims_cache_size",
				Help:      "Current number of entries in the claims cache",
			},
		),
		loadFailuresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "auth",
				Name:      "claims_cache_load_failures_total",
				Help: "Total number of validation failures " +
					"on claims cache misses",
			},
			[]string{"reason"},
		),
		validationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "auth",
				Name:      "token_validations_total",
				Help:      "Total number of token validations by result",
			},
			[]string{"result"},
		),
		authOutcomesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "auth",
				Name:      "requests_total",
				Help: "Total number of requests seen by the " +
					"authentication filter by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// MustRegister registers all auth metric collectors with the given
// registry. promauto registers with the default global registry; this
// bridges them onto the registry served at /metrics.
// Already-registered collectors are ignored.
func (m *Metrics) MustRegister(registry *prometheus.Registry) {
	collectors := []prometheus.Collector{
		m.cacheHitsTotal,
		m.cacheMissesTotal,
		m.cacheEvictionsTotal,
		m.cacheSizeGauge,
		m.loadFailuresTotal,
		m.validationsTotal,
		m.authOutcomesTotal,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}

// Init pre-initializes label combinations with zero values so metrics
// appear in /metrics output immediately after startup.
func (m *Metrics) Init() {
	for _, reason := range []string{"expired", "signature", "malformed", "not_yet_valid"} {
		m.loadFailuresTotal.WithLabelValues(reason)
	}
	for _, result := range []string{"success", "expired", "signature", "malformed", "not_yet_valid"} {
		m.validationsTotal.WithLabelValues(result)
	}
	for _, outcome := range []string{"admitted", "public", "rejected_401", "rejected_403"} {
		m.authOutcomesTotal.WithLabelValues(outcome)
	}
}

// RecordValidation records a token validation outcome.
func (m *Metrics) RecordValidation(result string) {
	m.validationsTotal.WithLabelValues(result).Inc()
}

// RecordOutcome records an authentication filter outcome.
func (m *Metrics) RecordOutcome(outcome string) {
	m.authOutcomesTotal.WithLabelValues(outcome).Inc()
}

// RecordLoadFailure records a validation failure on a cache miss.
func (m *Metrics) RecordLoadFailure(reason string) {
	m.loadFailuresTotal.WithLabelValues(reason).Inc()
}
