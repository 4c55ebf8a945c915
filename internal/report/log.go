package report

import (
	"fmt"
	"strings"

	"planmonitor/internal/alert"
	"planmonitor/internal/plan"
)

const LogHeader = "MONITORING UPDATE"

// RenderLog returns the tick's log block. Each line carries the tick
// timestamp; the block ends with a newline.
func RenderLog(st *plan.State, d Derived) string {
	ts := stamp(d.GeneratedAt)
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, "%s %s\n", ts, fmt.Sprintf(format, args...))
	}

	line("===== %s tick=%d =====", LogHeader, d.Tick)
	line("session=%s strategy=%s", d.SessionID, d.Strategy)

	phase := st.CurrentPhase
	if rec, ok := currentPhase(st); ok {
		phase = fmt.Sprintf("%s (%s) %s %.1f%%", st.CurrentPhase, rec.Name, rec.Status, rec.CompletionPct)
	}
	line("status=%s phase=%s progress=%d%%", st.OverallStatus, phase, st.ProgressPct)
	line("harmony=%.2f/%.2f (%.1f%% of target)", st.Harmony.Current, st.Harmony.Target, harmonyPercent(st.Harmony))
	line("cost spent=%d allocated=%d remaining=%d", st.Cost.Spent, st.Cost.Allocated, st.Cost.Remaining())

	eff := "n/a"
	if d.Budget.HasEfficiency {
		eff = fmt.Sprintf("%.3f", d.Budget.MeanEfficiency)
	}
	line("tokens used=%d/%d efficiency=%s", d.Budget.Used, d.Budget.Budget, eff)
	line("ethics=%.1f (%s)", d.Ethics.Total, d.Ethics.Level)

	if d.Violations != nil {
		line("invariants violated: %v", d.Violations)
	}
	if d.LastError != "" {
		line("last error: %s", d.LastError)
	}
	for _, n := range d.Notes {
		line("%s", n)
	}
	return b.String()
}

// AlertLines formats events for appending after the tick block.
func AlertLines(events []alert.Event) string {
	var b strings.Builder
	for _, e := range events {
		b.WriteString(e.Line())
		b.WriteByte('\n')
	}
	return b.String()
}
