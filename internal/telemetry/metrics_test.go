package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planmonitor/internal/alert"
	"planmonitor/internal/plan"
)

func TestObserveTickAndAlerts(t *testing.T) {
	m := New()
	m.ObserveTick(true, 20*time.Millisecond, 0)
	m.ObserveTick(false, 10*time.Millisecond, 1)
	m.ObserveTick(false, 10*time.Millisecond, 2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.TicksTotal.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TicksTotal.WithLabelValues("error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConsecutiveErrors))

	m.ObserveAlerts([]alert.Event{
		{Kind: alert.KindBudgetExceeded, Severity: alert.SeverityCritical},
		{Kind: alert.KindBudgetExceeded, Severity: alert.SeverityCritical},
		{Kind: alert.KindHealthDegraded, Severity: alert.SeverityWarn},
	})
	assert.Equal(t, 2.0, testutil.ToFloat64(m.AlertsTotal.WithLabelValues("BudgetExceeded", "critical")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.AlertsTotal))
}

func TestObservePlan(t *testing.T) {
	m := New()
	st := plan.Default(time.Now())
	st.Harmony.Current = 42
	st.Cost.Spent = 100
	st.OverallStatus = plan.StatusRunning

	m.ObservePlan(st, 1500, 75)
	assert.Equal(t, 42.0, testutil.ToFloat64(m.HarmonyCurrent))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.CostSpent))
	assert.Equal(t, 1500.0, testutil.ToFloat64(m.TokensUsed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OverallStatus.WithLabelValues("running")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.OverallStatus.WithLabelValues("initialized")))

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveTick(true, time.Second, 0)
	m.ObserveAlerts([]alert.Event{{Kind: alert.KindEfficiencyLow}})
	m.ObservePlan(nil, 0, 0)
}
