package alert

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"planmonitor/internal/plan"
)

// Thresholds configures the rule boundaries.
type Thresholds struct {
	HarmonyWarnRatio float64
	BudgetWarnRatio  float64
	EfficiencyLow    float64
}

// DefaultThresholds returns the standard alert boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HarmonyWarnRatio: 0.8,
		BudgetWarnRatio:  0.9,
		EfficiencyLow:    0.5,
	}
}

// Metrics are the values derived during a tick that rules may inspect.
type Metrics struct {
	MeanEfficiency float64
	HasEfficiency  bool
	DeathSpiral    bool
	SessionID      string
	// Violations holds the invariant check result for the loaded state.
	Violations error
	// PlanErr is set when the plan file could not be parsed.
	PlanErr error
}

// Rule is a pure predicate over plan state and derived metrics. It yields
// at most one event per evaluation.
type Rule struct {
	Name string
	Eval func(st *plan.State, m Metrics, th Thresholds) (Event, bool)
}

// DefaultRules returns the full rule set in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "PlanIntegrity", Eval: planIntegrity},
		{Name: "HarmonyApproachingTarget", Eval: harmonyApproachingTarget},
		{Name: "BudgetExceeded", Eval: budgetExceeded},
		{Name: "BudgetWarn", Eval: budgetWarn},
		{Name: "EfficiencyLow", Eval: efficiencyLow},
		{Name: "DeathSpiralSuspected", Eval: deathSpiral},
		{Name: "HealthDegraded", Eval: healthDegraded},
	}
}

func planIntegrity(_ *plan.State, m Metrics, _ Thresholds) (Event, bool) {
	var parts []string
	if m.PlanErr != nil {
		parts = append(parts, fmt.Sprintf("plan unreadable: %v", m.PlanErr))
	}
	if m.Violations != nil {
		var verrs plan.ValidationErrors
		if errors.As(m.Violations, &verrs) {
			parts = append(parts, fmt.Sprintf("%d invariant violation(s): %v", len(verrs), verrs))
		} else {
			parts = append(parts, fmt.Sprintf("invariant violation: %v", m.Violations))
		}
	}
	if len(parts) == 0 {
		return Event{}, false
	}
	return Event{
		Kind:     KindHealthDegraded,
		Severity: SeverityCritical,
		Message:  strings.Join(parts, "; "),
	}, true
}

func harmonyApproachingTarget(st *plan.State, _ Metrics, th Thresholds) (Event, bool) {
	h := st.Harmony
	if h.Target <= 0 {
		return Event{}, false
	}
	switch {
	case h.Current > h.Target:
		return Event{
			Kind:     KindHarmonyThresholdCrossed,
			Severity: SeverityInfo,
			Message:  fmt.Sprintf("target exceeded: harmony %.2f > %.2f", h.Current, h.Target),
		}, true
	case h.Current >= th.HarmonyWarnRatio*h.Target:
		return Event{
			Kind:     KindHarmonyThresholdCrossed,
			Severity: SeverityWarn,
			Message:  fmt.Sprintf("harmony approaching target: %.2f of %.2f", h.Current, h.Target),
		}, true
	}
	return Event{}, false
}

func budgetExceeded(st *plan.State, _ Metrics, _ Thresholds) (Event, bool) {
	c := st.Cost
	if c.Spent <= c.Allocated {
		return Event{}, false
	}
	return Event{
		Kind:     KindBudgetExceeded,
		Severity: SeverityCritical,
		Message:  fmt.Sprintf("cost spent %d exceeds allocated %d", c.Spent, c.Allocated),
	}, true
}

func budgetWarn(st *plan.State, _ Metrics, th Thresholds) (Event, bool) {
	c := st.Cost
	if c.Allocated <= 0 || c.Spent > c.Allocated {
		return Event{}, false
	}
	if float64(c.Spent) < th.BudgetWarnRatio*float64(c.Allocated) {
		return Event{}, false
	}
	return Event{
		Kind:     KindBudgetExceeded,
		Severity: SeverityWarn,
		Message:  fmt.Sprintf("cost spent %d of %d (%.0f%%)", c.Spent, c.Allocated, 100*float64(c.Spent)/float64(c.Allocated)),
	}, true
}

func efficiencyLow(_ *plan.State, m Metrics, th Thresholds) (Event, bool) {
	if !m.HasEfficiency || m.MeanEfficiency >= th.EfficiencyLow {
		return Event{}, false
	}
	return Event{
		Kind:     KindEfficiencyLow,
		Severity: SeverityWarn,
		Message:  fmt.Sprintf("mean efficiency %.3f below %.3f", m.MeanEfficiency, th.EfficiencyLow),
	}, true
}

func deathSpiral(_ *plan.State, m Metrics, _ Thresholds) (Event, bool) {
	if !m.DeathSpiral {
		return Event{}, false
	}
	return Event{
		Kind:     KindDeathSpiralSuspected,
		Severity: SeverityCritical,
		Message:  fmt.Sprintf("session %s is failing across strategies", m.SessionID),
	}, true
}

func healthDegraded(st *plan.State, _ Metrics, _ Thresholds) (Event, bool) {
	var down []string
	for id, ok := range st.Health {
		if !ok {
			down = append(down, id)
		}
	}
	if len(down) == 0 {
		return Event{}, false
	}
	sort.Strings(down)
	return Event{
		Kind:     KindHealthDegraded,
		Severity: SeverityWarn,
		Message:  "unhealthy: " + strings.Join(down, ", "),
	}, true
}

type dedupeKey struct {
	kind     Kind
	severity Severity
	tick     int
}

// Alerter runs rules and suppresses repeats of the same kind and severity
// within one tick.
type Alerter struct {
	Rules      []Rule
	Thresholds Thresholds

	tick int
	seen map[dedupeKey]struct{}
}

// NewAlerter returns an Alerter with the default rules.
func NewAlerter(th Thresholds) *Alerter {
	return &Alerter{Rules: DefaultRules(), Thresholds: th}
}

// Evaluate runs every rule against st for the given tick. Events already
// emitted for this tick are dropped.
func (a *Alerter) Evaluate(tick int, st *plan.State, m Metrics, at time.Time) []Event {
	if a.seen == nil || tick != a.tick {
		a.tick = tick
		a.seen = make(map[dedupeKey]struct{})
	}
	var out []Event
	for _, r := range a.Rules {
		ev, ok := r.Eval(st, m, a.Thresholds)
		if !ok {
			continue
		}
		key := dedupeKey{kind: ev.Kind, severity: ev.Severity, tick: tick}
		if _, dup := a.seen[key]; dup {
			continue
		}
		a.seen[key] = struct{}{}
		ev.Rule = r.Name
		ev.At = at.UTC()
		out = append(out, ev)
	}
	return out
}
