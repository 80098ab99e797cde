// Package metrics provides Prometheus metrics for quote caching and computation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal *prometheus.CounterVec // reason: miss | stale

	ComputationsTotal          prometheus.Counter
	ComputationDurationSeconds prometheus.Histogram
	ClampedTotal               *prometheus.CounterVec // bound: min | max

	LockContentionTotal prometheus.Counter
	LockWaitHitsTotal   prometheus.Counter

	ProfileFailuresTotal *prometheus.CounterVec // lookup: snapshot | market | subject_data
}

// New registers the metrics on the default registerer.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers on reg. Tests pass a fresh registry so repeated
// construction does not collide.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CacheHitsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "refaccess_price_cache_hits_total",
			Help: "Quotes served from cache while still fresh",
		}),
		CacheMissesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "refaccess_price_cache_misses_total",
			Help: "Quote lookups that required a computation, by reason",
		}, []string{"reason"}),
		ComputationsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "refaccess_price_computations_total",
			Help: "Quotes computed by the calculator",
		}),
		ComputationDurationSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "refaccess_price_computation_duration_seconds",
			Help:    "Time to fetch inputs and compute a quote",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		ClampedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "refaccess_price_clamped_total",
			Help: "Quotes whose raw price was clamped to a bound",
		}, []string{"bound"}),
		LockContentionTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "refaccess_price_lock_contention_total",
			Help: "Computations that found the subject lock already held",
		}),
		LockWaitHitsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "refaccess_price_lock_wait_hits_total",
			Help: "Lock losers that received the winner's quote while polling",
		}),
		ProfileFailuresTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "refaccess_profile_lookup_failures_total",
			Help: "Profile store lookups that failed, by lookup",
		}, []string{"lookup"}),
	}
}

func (m *Metrics) RecordCacheHit() {
	m.CacheHitsTotal.Inc()
}

func (m *Metrics) RecordCacheMiss(reason string) {
	m.CacheMissesTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveComputation(durationSeconds float64) {
	m.ComputationsTotal.Inc()
	m.ComputationDurationSeconds.Observe(durationSeconds)
}

func (m *Metrics) RecordClamped(bound string) {
	m.ClampedTotal.WithLabelValues(bound).Inc()
}

func (m *Metrics) RecordLockContention() {
	m.LockContentionTotal.Inc()
}

func (m *Metrics) RecordLockWaitHit() {
	m.LockWaitHitsTotal.Inc()
}

func (m *Metrics) RecordProfileFailure(lookup string) {
	m.ProfileFailuresTotal.WithLabelValues(lookup).Inc()
}
