package report

import (
	"fmt"
	"math"
	"time"

	"planmonitor/internal/budget"
	"planmonitor/internal/ethics"
	"planmonitor/internal/failure"
	"planmonitor/internal/plan"
)

// Derived holds the values computed during a tick that the artifacts show
// next to the plan state.
type Derived struct {
	Tick        int
	SessionID   string
	Strategy    failure.Strategy
	GeneratedAt time.Time

	Budget              budget.Status
	Failures            failure.Counters
	PreferredStrategies []failure.Strategy

	EthicsInput ethics.Input
	Ethics      ethics.Score

	DecisionPoints []plan.DecisionPoint
	// Violations is the invariant check result; rendered, never corrected.
	Violations error
	LastError  string
	// Notes are one-line remarks for the log block, e.g. resume or plan diff.
	Notes []string
}

// Artifacts are the three rendered outputs of one tick.
type Artifacts struct {
	Log      string
	JSON     []byte
	Markdown []byte
}

// Render projects st and d onto the three artifacts. It performs no I/O.
func Render(st *plan.State, d Derived) (Artifacts, error) {
	if st == nil {
		return Artifacts{}, fmt.Errorf("plan state is required")
	}
	js, err := RenderJSON(st, d)
	if err != nil {
		return Artifacts{}, err
	}
	return Artifacts{
		Log:      RenderLog(st, d),
		JSON:     js,
		Markdown: []byte(RenderMarkdown(st, d)),
	}, nil
}

// percentToTarget maps current onto 0..100 between baseline and target.
func percentToTarget(baseline, target, current float64) float64 {
	if baseline == target {
		if current >= target {
			return 100
		}
		return 0
	}

	var progress float64
	if target > baseline {
		progress = (current - baseline) / (target - baseline)
	} else {
		progress = (baseline - current) / (baseline - target)
	}

	if math.IsNaN(progress) || math.IsInf(progress, 0) {
		return 0
	}
	return math.Max(0, math.Min(1, progress)) * 100
}

func harmonyPercent(h plan.Harmony) float64 {
	return percentToTarget(0, h.Target, h.Current)
}

func currentPhase(st *plan.State) (plan.PhaseRecord, bool) {
	return st.Phases.Get(st.CurrentPhase)
}

func stamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05")
}
