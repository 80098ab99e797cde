package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	EventsRecorded *prometheus.CounterVec // type
	EventsDropped  prometheus.Counter
	AppendFailures prometheus.Counter
}

func NewMetrics() *Metrics {
	return NewMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func NewMetricsWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsRecorded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "refaccess_audit_events_total",
			Help: "Audit events persisted, by type",
		}, []string{"type"}),
		EventsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "refaccess_audit_events_dropped_total",
			Help: "Audit events rejected because the async buffer was full",
		}),
		AppendFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "refaccess_audit_append_failures_total",
			Help: "Audit events the store failed to persist",
		}),
	}
}
