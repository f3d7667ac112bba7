// Package metrics holds the Prometheus collectors shared by the classifier
// components. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	UpstreamCalls   *prometheus.CounterVec
	UpstreamLatency *prometheus.HistogramVec
	Classifications *prometheus.CounterVec
	Records         *prometheus.CounterVec
	PoolInits       *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		UpstreamCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "age_classifier_upstream_calls_total",
				Help: "Upstream classification calls by endpoint and outcome status.",
			},
			[]string{"endpoint", "status"},
		),
		UpstreamLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "age_classifier_upstream_latency_seconds",
				Help:    "Upstream classification call latency in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		Classifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "age_classifier_labels_total",
				Help: "Labels returned to callers by route.",
			},
			[]string{"route", "label"},
		),
		Records: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "age_classifier_records_total",
				Help: "Prediction record writes by result (inserted, skipped, failed).",
			},
			[]string{"result"},
		),
		PoolInits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "age_classifier_pool_inits_total",
				Help: "Connection pool initialization attempts by result.",
			},
			[]string{"result"},
		),
	}

	for _, c := range []prometheus.Collector{m.UpstreamCalls, m.UpstreamLatency, m.Classifications, m.Records, m.PoolInits} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) ObserveUpstream(endpoint, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.UpstreamCalls.WithLabelValues(endpoint, status).Inc()
	m.UpstreamLatency.WithLabelValues(endpoint).Observe(d.Seconds())
}

func (m *Metrics) IncLabel(route, label string) {
	if m == nil {
		return
	}
	m.Classifications.WithLabelValues(route, label).Inc()
}

func (m *Metrics) IncRecord(result string) {
	if m == nil {
		return
	}
	m.Records.WithLabelValues(result).Inc()
}

func (m *Metrics) IncPoolInit(result string) {
	if m == nil {
		return
	}
	m.PoolInits.WithLabelValues(result).Inc()
}
