package alert

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planmonitor/internal/plan"
)

var tickTime = time.Date(2025, 10, 29, 12, 0, 0, 0, time.UTC)

func baseState() *plan.State {
	return &plan.State{
		Harmony: plan.Harmony{Current: 10, Target: 99.7},
		Cost:    plan.Cost{Allocated: 750},
		Health:  map[string]bool{"api": true},
	}
}

func find(events []Event, kind Kind) (Event, bool) {
	for _, e := range events {
		if e.Kind == kind {
			return e, true
		}
	}
	return Event{}, false
}

func TestQuietStateEmitsNothing(t *testing.T) {
	a := NewAlerter(DefaultThresholds())
	assert.Empty(t, a.Evaluate(1, baseState(), Metrics{}, tickTime))
}

func TestHarmonyRule(t *testing.T) {
	tests := []struct {
		current  float64
		want     bool
		severity Severity
	}{
		{79.7, false, ""},
		{80, true, SeverityWarn},
		{99.7, true, SeverityWarn},
		{99.8, true, SeverityInfo},
	}
	for _, tt := range tests {
		st := baseState()
		st.Harmony.Current = tt.current
		ev, ok := find(NewAlerter(DefaultThresholds()).Evaluate(1, st, Metrics{}, tickTime), KindHarmonyThresholdCrossed)
		require.Equal(t, tt.want, ok, "current=%v", tt.current)
		if ok {
			assert.Equal(t, tt.severity, ev.Severity, "current=%v", tt.current)
			assert.Equal(t, "HarmonyApproachingTarget", ev.Rule)
		}
	}

	st := baseState()
	st.Harmony.Current = 99.8
	ev, _ := find(NewAlerter(DefaultThresholds()).Evaluate(1, st, Metrics{}, tickTime), KindHarmonyThresholdCrossed)
	assert.Contains(t, ev.Message, "target exceeded")
}

func TestBudgetRules(t *testing.T) {
	st := baseState()
	st.Cost.Spent = 674
	_, ok := find(NewAlerter(DefaultThresholds()).Evaluate(1, st, Metrics{}, tickTime), KindBudgetExceeded)
	assert.False(t, ok)

	st.Cost.Spent = 675
	ev, ok := find(NewAlerter(DefaultThresholds()).Evaluate(1, st, Metrics{}, tickTime), KindBudgetExceeded)
	require.True(t, ok)
	assert.Equal(t, SeverityWarn, ev.Severity)

	st.Cost.Spent = 800
	events := NewAlerter(DefaultThresholds()).Evaluate(1, st, Metrics{}, tickTime)
	var budget []Event
	for _, e := range events {
		if e.Kind == KindBudgetExceeded {
			budget = append(budget, e)
		}
	}
	require.Len(t, budget, 1)
	assert.Equal(t, SeverityCritical, budget[0].Severity)
}

func TestEfficiencyAndDeathSpiral(t *testing.T) {
	a := NewAlerter(DefaultThresholds())
	events := a.Evaluate(1, baseState(), Metrics{MeanEfficiency: 0.2, HasEfficiency: true, DeathSpiral: true, SessionID: "s1"}, tickTime)

	ev, ok := find(events, KindEfficiencyLow)
	require.True(t, ok)
	assert.Equal(t, SeverityWarn, ev.Severity)

	ev, ok = find(events, KindDeathSpiralSuspected)
	require.True(t, ok)
	assert.Equal(t, SeverityCritical, ev.Severity)
	assert.Contains(t, ev.Message, "s1")

	_, ok = find(a.Evaluate(2, baseState(), Metrics{MeanEfficiency: 0.2}, tickTime), KindEfficiencyLow)
	assert.False(t, ok, "no efficiency alert without a full window")
}

func TestHealthAndIntegrity(t *testing.T) {
	st := baseState()
	st.Health["db"] = false
	st.Health["cache"] = false

	events := NewAlerter(DefaultThresholds()).Evaluate(1, st, Metrics{}, tickTime)
	ev, ok := find(events, KindHealthDegraded)
	require.True(t, ok)
	assert.Equal(t, SeverityWarn, ev.Severity)
	assert.Equal(t, "unhealthy: cache, db", ev.Message)

	violations := plan.ValidationErrors{{Field: "progress_pct", Message: "off"}}
	events = NewAlerter(DefaultThresholds()).Evaluate(1, st, Metrics{Violations: violations, PlanErr: errors.New("bad json")}, tickTime)
	require.Len(t, events, 2)
	assert.Equal(t, SeverityCritical, events[0].Severity)
	assert.Contains(t, events[0].Message, "plan unreadable")
	assert.Contains(t, events[0].Message, "progress_pct")
	assert.Equal(t, SeverityWarn, events[1].Severity)
}

func TestDedupeWithinTick(t *testing.T) {
	a := NewAlerter(DefaultThresholds())
	st := baseState()
	st.Harmony.Current = 90

	require.Len(t, a.Evaluate(3, st, Metrics{}, tickTime), 1)
	assert.Empty(t, a.Evaluate(3, st, Metrics{}, tickTime), "same tick must not repeat")
	assert.Len(t, a.Evaluate(4, st, Metrics{}, tickTime), 1)

	a.Rules = append(a.Rules, Rule{Name: "Duplicate", Eval: harmonyApproachingTarget})
	assert.Len(t, a.Evaluate(5, st, Metrics{}, tickTime), 1)
}

func TestEventLine(t *testing.T) {
	ev := Event{Kind: KindBudgetExceeded, Severity: SeverityCritical, Message: "over", At: tickTime}
	assert.Equal(t, "[2025-10-29 12:00:00] BudgetExceeded CRITICAL: over", ev.Line())
	assert.True(t, strings.HasPrefix(ev.Line(), "["))
	assert.Equal(t, SeverityCritical, Highest([]Event{{Severity: SeverityWarn}, ev}))
	assert.Equal(t, SeverityInfo, Highest(nil))
}
