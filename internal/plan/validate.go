package plan

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// ValidationError captures a single invariant violation.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors aggregates multiple violations.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, e.Error())
	}
	return strings.Join(parts, "; ")
}

// ReservedHealthKey is written next to the health components in rendered
// metrics, so no component may use it.
const ReservedHealthKey = "last_health_check"

// ExpectedProgress is the rounded mean of phase completion percentages.
func ExpectedProgress(phases Phases) int {
	if len(phases) == 0 {
		return 0
	}
	var sum float64
	for _, p := range phases {
		sum += p.Record.CompletionPct
	}
	return int(math.Round(sum / float64(len(phases))))
}

// Validate checks the invariants every tick must observe. It returns nil
// when st is consistent.
func Validate(st *State) error {
	if st == nil {
		return ValidationErrors{{Message: "plan state is nil"}}
	}
	var errs ValidationErrors

	if want := ExpectedProgress(st.Phases); st.ProgressPct != want {
		errs = append(errs, ValidationError{
			Field:   "progress_pct",
			Message: fmt.Sprintf("is %d, mean phase completion is %d", st.ProgressPct, want),
		})
	}

	var bucketSpent int64
	for _, b := range st.Cost.ByBucket {
		bucketSpent += b.Spent
	}
	if len(st.Cost.ByBucket) > 0 && bucketSpent != st.Cost.Spent {
		errs = append(errs, ValidationError{
			Field:   "cost.by_bucket",
			Message: fmt.Sprintf("spent sums to %d, cost.spent is %d", bucketSpent, st.Cost.Spent),
		})
	}
	if st.Cost.Spent > st.Cost.Allocated {
		errs = append(errs, ValidationError{
			Field:   "cost.spent",
			Message: fmt.Sprintf("%d exceeds allocated %d", st.Cost.Spent, st.Cost.Allocated),
		})
	}

	if st.Harmony.Current < 0 || st.Harmony.Current > 100 || math.IsNaN(st.Harmony.Current) {
		errs = append(errs, ValidationError{
			Field:   "harmony.current",
			Message: fmt.Sprintf("%.2f is outside 0..100", st.Harmony.Current),
		})
	}
	if !(st.Harmony.Target > 0) {
		errs = append(errs, ValidationError{
			Field:   "harmony.target",
			Message: "must be greater than zero",
		})
	}

	if !st.InitiatedAt.IsZero() && st.LastUpdatedAt.Before(st.InitiatedAt) {
		errs = append(errs, ValidationError{
			Field:   "last_updated_at",
			Message: "is before initiated_at",
		})
	}

	if _, ok := st.Health[ReservedHealthKey]; ok {
		errs = append(errs, ValidationError{
			Field:   "health." + ReservedHealthKey,
			Message: "is a reserved name",
		})
	}

	var running []string
	for _, p := range st.Phases {
		if p.Record.Status == PhaseRunning {
			running = append(running, p.ID)
		}
		if p.Record.CompletionPct < 0 || p.Record.CompletionPct > 100 {
			errs = append(errs, ValidationError{
				Field:   "phases." + p.ID + ".completion_pct",
				Message: fmt.Sprintf("%.1f is outside 0..100", p.Record.CompletionPct),
			})
		}
	}
	if len(running) > 1 {
		sort.Strings(running)
		errs = append(errs, ValidationError{
			Field:   "phases",
			Message: fmt.Sprintf("%d phases running at once: %s", len(running), strings.Join(running, ", ")),
		})
	}

	if st.CurrentPhase != "" && len(st.Phases) > 0 && st.Phases.Index(st.CurrentPhase) < 0 {
		errs = append(errs, ValidationError{
			Field:   "current_phase",
			Message: fmt.Sprintf("%q is not a known phase", st.CurrentPhase),
		})
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}
