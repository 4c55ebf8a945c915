package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"planmonitor/internal/alert"
	"planmonitor/internal/plan"
)

const namespace = "planmonitor"

// Metrics are the monitor's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	TicksTotal        *prometheus.CounterVec
	TickDuration      prometheus.Histogram
	ConsecutiveErrors prometheus.Gauge
	AlertsTotal       *prometheus.CounterVec
	HarmonyCurrent    prometheus.Gauge
	HarmonyTarget     prometheus.Gauge
	ProgressPct       prometheus.Gauge
	CostSpent         prometheus.Gauge
	CostAllocated     prometheus.Gauge
	TokensUsed        prometheus.Gauge
	EthicsTotal       prometheus.Gauge
	StrategySwitches  prometheus.Counter
	OverallStatus     *prometheus.GaugeVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		TicksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Monitor ticks by result.",
		}, []string{"result"}),
		TickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Wall time of one tick.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		ConsecutiveErrors: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consecutive_errors",
			Help:      "Tick failures since the last successful tick.",
		}),
		AlertsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alert events emitted by kind and severity.",
		}, []string{"kind", "severity"}),
		HarmonyCurrent: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "harmony_current",
			Help:      "Current harmony value from the plan.",
		}),
		HarmonyTarget: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "harmony_target",
			Help:      "Harmony target from the plan.",
		}),
		ProgressPct: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "progress_pct",
			Help:      "Overall plan progress percentage.",
		}),
		CostSpent: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cost_spent",
			Help:      "Plan cost spent.",
		}),
		CostAllocated: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cost_allocated",
			Help:      "Plan cost allocated.",
		}),
		TokensUsed: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tokens_used_today",
			Help:      "Tokens recorded against today's budget.",
		}),
		EthicsTotal: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ethics_score",
			Help:      "Ethics compliance total.",
		}),
		StrategySwitches: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "strategy_switches_total",
			Help:      "Strategy changes made after repeated failures.",
		}),
		OverallStatus: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "overall_status",
			Help:      "1 for the plan's current overall status, 0 otherwise.",
		}, []string{"status"}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveTick records one tick's outcome.
func (m *Metrics) ObserveTick(ok bool, took time.Duration, consecutive int) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.TicksTotal.WithLabelValues(result).Inc()
	m.TickDuration.Observe(took.Seconds())
	m.ConsecutiveErrors.Set(float64(consecutive))
}

// ObserveAlerts counts emitted events.
func (m *Metrics) ObserveAlerts(events []alert.Event) {
	if m == nil {
		return
	}
	for _, e := range events {
		m.AlertsTotal.WithLabelValues(string(e.Kind), string(e.Severity)).Inc()
	}
}

// ObserveStrategySwitch counts a strategy change.
func (m *Metrics) ObserveStrategySwitch() {
	if m == nil {
		return
	}
	m.StrategySwitches.Inc()
}

// ObservePlan sets the plan gauges.
func (m *Metrics) ObservePlan(st *plan.State, tokensUsed int, ethicsTotal float64) {
	if m == nil || st == nil {
		return
	}
	m.HarmonyCurrent.Set(st.Harmony.Current)
	m.HarmonyTarget.Set(st.Harmony.Target)
	m.ProgressPct.Set(float64(st.ProgressPct))
	m.CostSpent.Set(float64(st.Cost.Spent))
	m.CostAllocated.Set(float64(st.Cost.Allocated))
	m.TokensUsed.Set(float64(tokensUsed))
	m.EthicsTotal.Set(ethicsTotal)
	for _, s := range plan.AllOverallStatuses {
		v := 0.0
		if s == st.OverallStatus {
			v = 1
		}
		m.OverallStatus.WithLabelValues(string(s)).Set(v)
	}
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	if logger != nil {
		logger.Info("metrics listener started", "addr", addr)
	}

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown metrics listener: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics listener: %w", err)
	}
}
