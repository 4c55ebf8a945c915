package report

import (
	"fmt"
	"sort"
	"strings"

	"planmonitor/internal/ethics"
	"planmonitor/internal/plan"
)

const ReportTitle = "Master Test Plan Execution Report"

// RenderMarkdown returns the progress report document.
func RenderMarkdown(st *plan.State, d Derived) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", ReportTitle)
	fmt.Fprintf(&b, "Generated: %s UTC\n\n", stamp(d.GeneratedAt))
	fmt.Fprintf(&b, "Execution `%s`, plan version %s.\n\n", st.ExecutionID, st.PlanVersion)

	writeStatus(&b, st, d)
	writePhases(&b, st)
	writeHarmony(&b, st)
	writeCost(&b, st, d)
	writeEthics(&b, d.Ethics)
	writeDecisions(&b, d.DecisionPoints)
	writeStrategies(&b, d)
	writeHealth(&b, st, d)

	return b.String()
}

func writeStatus(b *strings.Builder, st *plan.State, d Derived) {
	b.WriteString("## Current Execution Status\n\n")
	b.WriteString("| Field | Value |\n|---|---|\n")
	row(b, "Overall status", string(st.OverallStatus))
	phase := st.CurrentPhase
	if rec, ok := currentPhase(st); ok && rec.Name != "" {
		phase = fmt.Sprintf("%s (%s)", st.CurrentPhase, rec.Name)
	}
	row(b, "Current phase", phase)
	row(b, "Progress", fmt.Sprintf("%d%%", st.ProgressPct))
	row(b, "Initiated", stamp(st.InitiatedAt))
	row(b, "Last updated", stamp(st.LastUpdatedAt))
	row(b, "Session", d.SessionID)
	row(b, "Tick", fmt.Sprintf("%d", d.Tick))
	row(b, "Strategy", string(d.Strategy))
	if d.LastError != "" {
		row(b, "Last error", d.LastError)
	}
	b.WriteString("\n")
}

func writePhases(b *strings.Builder, st *plan.State) {
	b.WriteString("## Phase Progress\n\n")
	if len(st.Phases) == 0 {
		b.WriteString("_No phases defined._\n\n")
		return
	}
	for _, p := range st.Phases {
		r := p.Record
		marker := " "
		if r.Status == plan.PhaseCompleted {
			marker = "x"
		}
		fmt.Fprintf(b, "- [%s] **%s**", marker, p.ID)
		if r.Name != "" {
			fmt.Fprintf(b, " %s", r.Name)
		}
		fmt.Fprintf(b, ": %s, %.1f%% (authorization: %s, est. %.1fh)\n",
			r.Status, r.CompletionPct, r.RequiredAuthorization, r.EstimatedDurationHours)
		keys := make([]string, 0, len(r.SuccessCriteria))
		for k := range r.SuccessCriteria {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(b, "  - %s: %g\n", k, r.SuccessCriteria[k])
		}
	}
	b.WriteString("\n")
}

func writeHarmony(b *strings.Builder, st *plan.State) {
	h := st.Harmony
	b.WriteString("## Harmony Dashboard\n\n")
	b.WriteString("| Metric | Value |\n|---|---|\n")
	row(b, "Current", fmt.Sprintf("%.2f", h.Current))
	row(b, "Target", fmt.Sprintf("%.2f", h.Target))
	row(b, "Rate", fmt.Sprintf("%.3f", h.Rate))
	row(b, "Progress to target", fmt.Sprintf("%.1f%%", harmonyPercent(h)))
	b.WriteString("\n")
}

func writeCost(b *strings.Builder, st *plan.State, d Derived) {
	c := st.Cost
	b.WriteString("## Cost\n\n")
	b.WriteString("| Bucket | Allocated | Spent | Remaining |\n|---|---:|---:|---:|\n")
	names := make([]string, 0, len(c.ByBucket))
	for name := range c.ByBucket {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		bk := c.ByBucket[name]
		fmt.Fprintf(b, "| %s | %d | %d | %d |\n", cell(name), bk.Allocated, bk.Spent, bk.Remaining())
	}
	fmt.Fprintf(b, "| **Total** | %d | %d | %d |\n\n", c.Allocated, c.Spent, c.Remaining())

	eff := "n/a"
	if d.Budget.HasEfficiency {
		eff = fmt.Sprintf("%.3f", d.Budget.MeanEfficiency)
	}
	fmt.Fprintf(b, "Tokens today: %d of %d (remaining %d), mean efficiency %s.\n\n",
		d.Budget.Used, d.Budget.Budget, d.Budget.Remaining, eff)
}

func writeEthics(b *strings.Builder, s ethics.Score) {
	b.WriteString("## Ethics Scorecard\n\n")
	b.WriteString("| Component | Score | Max |\n|---|---:|---:|\n")
	fmt.Fprintf(b, "| Verification | %.1f | %.0f |\n", s.Verification, ethics.MaxVerification)
	fmt.Fprintf(b, "| Accuracy | %.1f | %.0f |\n", s.Accuracy, ethics.MaxAccuracy)
	fmt.Fprintf(b, "| Transparency | %.1f | %.0f |\n", s.Transparency, ethics.MaxTransparency)
	fmt.Fprintf(b, "| **Total** | %.1f | |\n\n", s.Total)
	fmt.Fprintf(b, "Level: **%s**\n\n", s.Level)
	if len(s.RequiredActions) > 0 {
		b.WriteString("Required actions:\n\n")
		for _, a := range s.RequiredActions {
			fmt.Fprintf(b, "- %s\n", a)
		}
		b.WriteString("\n")
	}
}

func writeDecisions(b *strings.Builder, points []plan.DecisionPoint) {
	b.WriteString("## Operator Decision Points\n\n")
	if len(points) == 0 {
		b.WriteString("_None outstanding._\n\n")
		return
	}
	for _, p := range points {
		name := p.PhaseID
		if p.Name != "" {
			name = fmt.Sprintf("%s (%s)", p.PhaseID, p.Name)
		}
		fmt.Fprintf(b, "- %s awaits operator approval; %s is completed.\n", name, p.PreviousPhase)
	}
	b.WriteString("\n")
}

func writeStrategies(b *strings.Builder, d Derived) {
	b.WriteString("## Strategy\n\n")
	fmt.Fprintf(b, "Current strategy `%s`, %d consecutive failure(s) across %d strategy attempt(s).\n",
		d.Strategy, d.Failures.ConsecutiveFailures, d.Failures.StrategyAttempts)
	if len(d.PreferredStrategies) > 0 {
		names := make([]string, 0, len(d.PreferredStrategies))
		for _, s := range d.PreferredStrategies {
			names = append(names, "`"+string(s)+"`")
		}
		fmt.Fprintf(b, "\nPreferred strategies: %s\n", strings.Join(names, ", "))
	}
	b.WriteString("\n")
}

func writeHealth(b *strings.Builder, st *plan.State, d Derived) {
	b.WriteString("## System Health\n\n")
	if len(st.Health) == 0 {
		b.WriteString("_No components reported._\n")
	} else {
		ids := make([]string, 0, len(st.Health))
		for id := range st.Health {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		b.WriteString("| Component | Healthy |\n|---|---|\n")
		for _, id := range ids {
			ok := "yes"
			if !st.Health[id] {
				ok = "no"
			}
			row(b, id, ok)
		}
	}
	if d.Violations != nil {
		fmt.Fprintf(b, "\nInvariant violations: %s\n", cell(d.Violations.Error()))
	}
}

func row(b *strings.Builder, key, value string) {
	fmt.Fprintf(b, "| %s | %s |\n", cell(key), cell(value))
}

func cell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}
