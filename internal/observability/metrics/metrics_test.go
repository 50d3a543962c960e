package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackageMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPackageMetrics(reg)

	m.ObserveOperation("consume_session", "ok", time.Now())
	m.ObserveSessionConsumed("warning")
	m.ObserveAlert("yellow", "panel")
	m.ObserveAlert("yellow", "panel")
	m.ObserveOutboxDelivery("package.alert.created.v1", errors.New("boom"))

	families, err := reg.Gather()
	require.NoError(t, err)

	byName := map[string]*dto.MetricFamily{}
	for _, f := range families {
		byName[f.GetName()] = f
	}
	alerts := byName["rehab_packages_alerts_raised_total"]
	require.NotNil(t, alerts)
	assert.Equal(t, 2.0, alerts.GetMetric()[0].GetCounter().GetValue())

	outbox := byName["rehab_outbox_delivered_total"]
	require.NotNil(t, outbox)
	labels := outbox.GetMetric()[0].GetLabel()
	found := false
	for _, l := range labels {
		if l.GetName() == "status" {
			found = true
			assert.Equal(t, "error", l.GetValue())
		}
	}
	assert.True(t, found)
	assert.Contains(t, byName, "rehab_packages_operation_duration_seconds")
}

func TestPackageMetricsDefaultRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	prev := prometheus.DefaultRegisterer
	prometheus.DefaultRegisterer = reg
	defer func() { prometheus.DefaultRegisterer = prev }()

	m := NewPackageMetrics(nil)
	m.ObserveSessionConsumed("active")
}

func TestPackageMetricsNilSafe(t *testing.T) {
	var m *PackageMetrics
	m.ObserveOperation("create_package", "ok", time.Now())
	m.ObserveSessionConsumed("finished")
	m.ObserveAlert("red", "email")
	m.ObserveOutboxDelivery("x", nil)
}
