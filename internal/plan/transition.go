package plan

// Transition describes a status change the monitor applied itself.
type Transition struct {
	From OverallStatus
	To   OverallStatus
}

// ApplyForcedTransitions performs the only status changes the monitor makes
// on its own: leaving Initialized once the first phase is complete, and
// reaching Completed once every phase is. All other transitions belong to
// the external actor that writes the plan.
func ApplyForcedTransitions(st *State) (Transition, bool) {
	if st == nil || len(st.Phases) == 0 {
		return Transition{}, false
	}
	from := st.OverallStatus

	allDone := true
	for _, p := range st.Phases {
		if p.Record.Status != PhaseCompleted {
			allDone = false
			break
		}
	}
	if allDone && from != StatusCompleted {
		st.OverallStatus = StatusCompleted
		return Transition{From: from, To: StatusCompleted}, true
	}

	if from == StatusInitialized && st.Phases[0].Record.Status == PhaseCompleted {
		st.OverallStatus = StatusAwaitingAuthorization
		return Transition{From: from, To: StatusAwaitingAuthorization}, true
	}
	return Transition{}, false
}

// DecisionPoint is a phase waiting on operator approval whose predecessor
// has completed.
type DecisionPoint struct {
	PhaseID       string      `json:"phase_id"`
	Name          string      `json:"name"`
	PreviousPhase string      `json:"previous_phase"`
	Status        PhaseStatus `json:"status"`
}

// DecisionPoints lists phases that need operator approval now.
func DecisionPoints(st *State) []DecisionPoint {
	if st == nil {
		return nil
	}
	var out []DecisionPoint
	for i := 1; i < len(st.Phases); i++ {
		prev, cur := st.Phases[i-1], st.Phases[i]
		if cur.Record.RequiredAuthorization != AuthOperatorApproval {
			continue
		}
		if prev.Record.Status != PhaseCompleted {
			continue
		}
		if cur.Record.Status != PhasePending {
			continue
		}
		out = append(out, DecisionPoint{
			PhaseID:       cur.ID,
			Name:          cur.Record.Name,
			PreviousPhase: prev.ID,
			Status:        cur.Record.Status,
		})
	}
	return out
}
