package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for the access request lifecycle.
type Metrics struct {
	RequestsCreated   *prometheus.CounterVec // data_type
	Transitions       *prometheus.CounterVec // status
	RejectedSignals   *prometheus.CounterVec // signal: consent | payment | payment_failure | reject
	DataReads         prometheus.Counter
	DeniedReads       prometheus.Counter
	NotifyFailures    prometheus.Counter
	TransitionLatency *prometheus.HistogramVec // operation

	SweepExpired  prometheus.Counter
	SweepDuration prometheus.Histogram
}

func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "refaccess_access_requests_created_total",
			Help: "Access requests created, labeled by data type",
		}, []string{"data_type"}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "refaccess_access_request_transitions_total",
			Help: "Status transitions out of pending, labeled by new status",
		}, []string{"status"}),
		RejectedSignals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "refaccess_access_request_rejected_signals_total",
			Help: "Signals refused because the request was no longer pending",
		}, []string{"signal"}),
		DataReads: f.NewCounter(prometheus.CounterOpts{
			Name: "refaccess_access_request_data_reads_total",
			Help: "Successful subject data disclosures",
		}),
		DeniedReads: f.NewCounter(prometheus.CounterOpts{
			Name: "refaccess_access_request_denied_reads_total",
			Help: "Subject data reads refused by the access gate",
		}),
		NotifyFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "refaccess_access_request_notify_failures_total",
			Help: "Domain events that could not be handed to notification dispatch",
		}),
		TransitionLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "refaccess_access_request_operation_latency_seconds",
			Help:    "Latency of access request operations",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"operation"}),
		SweepExpired: f.NewCounter(prometheus.CounterOpts{
			Name: "refaccess_access_request_sweep_expired_total",
			Help: "Requests expired by the background sweep",
		}),
		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "refaccess_access_request_sweep_duration_seconds",
			Help:    "Duration of one expiry sweep",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) ObserveOperation(operation string, seconds float64) {
	if m == nil {
		return
	}
	m.TransitionLatency.WithLabelValues(operation).Observe(seconds)
}

func (m *Metrics) IncTransition(status string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(status).Inc()
}

func (m *Metrics) IncRejectedSignal(signal string) {
	if m == nil {
		return
	}
	m.RejectedSignals.WithLabelValues(signal).Inc()
}

func (m *Metrics) IncCreated(dataType string) {
	if m == nil {
		return
	}
	m.RequestsCreated.WithLabelValues(dataType).Inc()
}

func (m *Metrics) IncDataRead() {
	if m == nil {
		return
	}
	m.DataReads.Inc()
}

func (m *Metrics) IncDeniedRead() {
	if m == nil {
		return
	}
	m.DeniedReads.Inc()
}

func (m *Metrics) IncNotifyFailure() {
	if m == nil {
		return
	}
	m.NotifyFailures.Inc()
}

func (m *Metrics) RecordSweep(expired int, seconds float64) {
	if m == nil {
		return
	}
	m.SweepExpired.Add(float64(expired))
	m.SweepDuration.Observe(seconds)
}
