package routing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks routing data operations for Prometheus scraping.
//
// The counters follow manager outcomes: an operation the rule layer rejects
// counts as "rejected", whether the cause was a rule violation or a backend
// write failure. Gauges mirror the manager's last observed set sizes, so on
// a shared backend they are per-instance approximations.
type Metrics struct {
	// OperationCounter counts manager operations by name and outcome.
	// Labels: operation, outcome (ok|rejected)
	OperationCounter *prometheus.CounterVec

	// PendingRequests gauges the number of outstanding connection requests.
	PendingRequests prometheus.Gauge

	// ActiveConnections gauges the number of established connections.
	ActiveConnections prometheus.Gauge

	// ExpiredRequests counts pending requests dropped by age.
	ExpiredRequests prometheus.Counter

	// Rejections counts rejections that kept a request pending.
	Rejections prometheus.Counter
}

// NewMetrics creates and registers all routing metrics with the default
// Prometheus registry. Call once at application startup.
func NewMetrics() *Metrics {
	return newMetrics(promauto.With(prometheus.DefaultRegisterer))
}

// NewMetricsWith registers the routing metrics with reg instead of the
// default registry.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	return newMetrics(promauto.With(reg))
}

func newMetrics(factory promauto.Factory) *Metrics {
	return &Metrics{
		OperationCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "handoff_routing_operations_total",
				Help: "Total number of routing manager operations by name and outcome",
			},
			[]string{"operation", "outcome"},
		),

		PendingRequests: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "handoff_pending_requests",
				Help: "Current number of outstanding connection requests",
			},
		),

		ActiveConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "handoff_active_connections",
				Help: "Current number of established connections",
			},
		),

		ExpiredRequests: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "handoff_expired_requests_total",
				Help: "Total number of pending requests dropped by age",
			},
		),

		Rejections: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "handoff_request_rejections_total",
				Help: "Total number of rejections that kept a request pending",
			},
		),
	}
}

// RecordOperation increments the operation counter. All record helpers are
// safe on a nil receiver, so a manager without metrics skips recording.
func (m *Metrics) RecordOperation(operation string, ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "rejected"
	}
	m.OperationCounter.WithLabelValues(operation, outcome).Inc()
}

// SetPendingRequests updates the outstanding-request gauge.
func (m *Metrics) SetPendingRequests(n int) {
	if m == nil {
		return
	}
	m.PendingRequests.Set(float64(n))
}

// SetActiveConnections updates the established-connection gauge.
func (m *Metrics) SetActiveConnections(n int) {
	if m == nil {
		return
	}
	m.ActiveConnections.Set(float64(n))
}

// AddExpiredRequests records requests dropped by an expiry sweep.
func (m *Metrics) AddExpiredRequests(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ExpiredRequests.Add(float64(n))
}

// RecordRejection counts one rejection that kept a request pending.
func (m *Metrics) RecordRejection() {
	if m == nil {
		return
	}
	m.Rejections.Inc()
}
