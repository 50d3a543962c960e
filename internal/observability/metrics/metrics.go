package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PackageMetrics exposes counters/histograms for the package lifecycle.
type PackageMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	sessionsConsumed  *prometheus.CounterVec
	alertsRaised      *prometheus.CounterVec
	outboxDelivered   *prometheus.CounterVec
}

func NewPackageMetrics(reg prometheus.Registerer) *PackageMetrics {
	m := &PackageMetrics{
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rehab",
			Subsystem: "packages",
			Name:      "operations_total",
			Help:      "Package operations by outcome",
		}, []string{"operation", "outcome"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rehab",
			Subsystem: "packages",
			Name:      "operation_duration_seconds",
			Help:      "Latency of package operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		sessionsConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rehab",
			Subsystem: "packages",
			Name:      "sessions_consumed_total",
			Help:      "Sessions consumed, by resulting package status",
		}, []string{"status"}),
		alertsRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rehab",
			Subsystem: "packages",
			Name:      "alerts_raised_total",
			Help:      "Package alerts created, by tier and delivery method",
		}, []string{"alert_type", "method"}),
		outboxDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rehab",
			Subsystem: "outbox",
			Name:      "delivered_total",
			Help:      "Outbox entries handed to delivery handlers",
		}, []string{"event_type", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.operationsTotal, m.operationDuration, m.sessionsConsumed, m.alertsRaised, m.outboxDelivered)
	return m
}

// ObserveOperation records one operation's outcome label and latency.
func (m *PackageMetrics) ObserveOperation(operation, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(operation, outcome).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

func (m *PackageMetrics) ObserveSessionConsumed(status string) {
	if m == nil {
		return
	}
	m.sessionsConsumed.WithLabelValues(status).Inc()
}

func (m *PackageMetrics) ObserveAlert(alertType, method string) {
	if m == nil {
		return
	}
	m.alertsRaised.WithLabelValues(alertType, method).Inc()
}

func (m *PackageMetrics) ObserveOutboxDelivery(eventType string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.outboxDelivered.WithLabelValues(eventType, status).Inc()
}
