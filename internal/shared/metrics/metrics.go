// Package metrics holds the Prometheus collectors shared by the drivers and
// the gateway.
package metrics

import (
	"time"

	apperrors "firestore-driver/internal/shared/errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "firestore_driver"

// Metrics represents driver and gateway metrics.
type Metrics struct {
	driverCalls    *prometheus.CounterVec
	driverDuration *prometheus.HistogramVec
	requests       *prometheus.CounterVec
	requestSeconds *prometheus.HistogramVec
	ruleDecisions  *prometheus.CounterVec
	listeners      *prometheus.GaugeVec
}

// New creates new metrics. Register them with a prometheus.Registerer.
func New() *Metrics {
	return &Metrics{
		driverCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "driver",
				Name:      "calls_total",
				Help:      "Total number of driver calls by result code.",
			},
			[]string{"driver", "op", "code"},
		),
		driverDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "driver",
				Name:      "call_duration_seconds",
				Help:      "Driver call latency.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"driver", "op"},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "requests_total",
				Help:      "Total number of gateway requests by status.",
			},
			[]string{"method", "route", "status"},
		),
		requestSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "request_duration_seconds",
				Help:      "Gateway request latency.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		ruleDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rules",
				Name:      "decisions_total",
				Help:      "Security rule decisions.",
			},
			[]string{"op", "decision"},
		),
		listeners: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "listen",
				Name:      "active",
				Help:      "Open realtime listeners.",
			},
			[]string{"driver"},
		),
	}
}

// ObserveDriverCall records one driver operation. A nil receiver is a no-op
// so drivers can run without metrics.
func (m *Metrics) ObserveDriverCall(driver, op string, start time.Time, err error) {
	if m == nil {
		return
	}
	code := "OK"
	if err != nil {
		code = string(apperrors.Code(err))
	}
	m.driverCalls.WithLabelValues(driver, op, code).Inc()
	m.driverDuration.WithLabelValues(driver, op).Observe(time.Since(start).Seconds())
}

// ObserveRequest records one gateway request
func (m *Metrics) ObserveRequest(method, route, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, status).Inc()
	m.requestSeconds.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveRuleDecision records an allow or deny
func (m *Metrics) ObserveRuleDecision(op string, allowed bool) {
	if m == nil {
		return
	}
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	m.ruleDecisions.WithLabelValues(op, decision).Inc()
}

// ListenerStarted increments the open listener gauge and returns the
// matching decrement.
func (m *Metrics) ListenerStarted(driver string) func() {
	if m == nil {
		return func() {}
	}
	g := m.listeners.WithLabelValues(driver)
	g.Inc()
	return g.Dec
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.driverCalls.Describe(ch)
	m.driverDuration.Describe(ch)
	m.requests.Describe(ch)
	m.requestSeconds.Describe(ch)
	m.ruleDecisions.Describe(ch)
	m.listeners.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.driverCalls.Collect(ch)
	m.driverDuration.Collect(ch)
	m.requests.Collect(ch)
	m.requestSeconds.Collect(ch)
	m.ruleDecisions.Collect(ch)
	m.listeners.Collect(ch)
}

// check interfaces
var (
	_ prometheus.Collector = (*Metrics)(nil)
)
