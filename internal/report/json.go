package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"

	"planmonitor/internal/budget"
	"planmonitor/internal/ethics"
	"planmonitor/internal/failure"
	"planmonitor/internal/plan"
)

type monitoringInfo struct {
	StartedAt   time.Time        `json:"started_at"`
	Version     string           `json:"version"`
	TickSeconds int              `json:"tick_seconds"`
	Tick        int              `json:"tick_index"`
	SessionID   string           `json:"session_id"`
	Strategy    failure.Strategy `json:"strategy"`
	GeneratedAt time.Time        `json:"generated_at"`
}

type derivedView struct {
	ExpectedProgress    int                  `json:"expected_progress_pct"`
	HarmonyPctOfTarget  float64              `json:"harmony_pct_of_target"`
	Budget              budget.Status        `json:"token_budget"`
	Failures            failure.Counters     `json:"failures"`
	PreferredStrategies []failure.Strategy   `json:"preferred_strategies"`
	Ethics              ethics.Score         `json:"ethics"`
	DecisionPoints      []plan.DecisionPoint `json:"decision_points"`
	Violations          []string             `json:"invariant_violations"`
}

// RenderJSON returns the metrics document: the plan state plus
// monitoring_info, system_health and derived sections, pretty-printed with
// keys sorted at every level.
func RenderJSON(st *plan.State, d Derived) ([]byte, error) {
	view := *st
	view.Monitor.LastError = d.LastError

	stateJSON, err := json.Marshal(view)
	if err != nil {
		return nil, fmt.Errorf("marshal plan state: %w", err)
	}
	doc := make(map[string]json.RawMessage)
	if err := json.Unmarshal(stateJSON, &doc); err != nil {
		return nil, fmt.Errorf("decode plan state: %w", err)
	}

	health := make(map[string]any, len(st.Health)+1)
	for id, ok := range st.Health {
		if id == plan.ReservedHealthKey {
			id = "component_" + id
		}
		health[id] = ok
	}
	health[plan.ReservedHealthKey] = d.GeneratedAt.UTC()

	sections := map[string]any{
		"monitoring_info": monitoringInfo{
			StartedAt:   st.Monitor.StartedAt,
			Version:     st.Monitor.Version,
			TickSeconds: st.Monitor.TickSeconds,
			Tick:        d.Tick,
			SessionID:   d.SessionID,
			Strategy:    d.Strategy,
			GeneratedAt: d.GeneratedAt.UTC(),
		},
		"system_health": health,
		"derived":       newDerivedView(st, d),
	}
	for key, v := range sections {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", key, err)
		}
		doc[key] = raw
	}

	flat, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal metrics: %w", err)
	}
	canonical, err := jcs.Transform(flat)
	if err != nil {
		return nil, fmt.Errorf("canonicalize metrics: %w", err)
	}
	var out bytes.Buffer
	if err := json.Indent(&out, canonical, "", "  "); err != nil {
		return nil, fmt.Errorf("indent metrics: %w", err)
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

func newDerivedView(st *plan.State, d Derived) derivedView {
	v := derivedView{
		ExpectedProgress:    plan.ExpectedProgress(st.Phases),
		HarmonyPctOfTarget:  harmonyPercent(st.Harmony),
		Budget:              d.Budget,
		Failures:            d.Failures,
		PreferredStrategies: d.PreferredStrategies,
		Ethics:              d.Ethics,
		DecisionPoints:      d.DecisionPoints,
	}
	if v.PreferredStrategies == nil {
		v.PreferredStrategies = []failure.Strategy{}
	}
	if v.DecisionPoints == nil {
		v.DecisionPoints = []plan.DecisionPoint{}
	}
	v.Violations = []string{}
	if verrs, ok := d.Violations.(plan.ValidationErrors); ok {
		for _, e := range verrs {
			v.Violations = append(v.Violations, e.Error())
		}
	} else if d.Violations != nil {
		v.Violations = append(v.Violations, d.Violations.Error())
	}
	return v
}
