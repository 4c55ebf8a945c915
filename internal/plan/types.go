package plan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"planmonitor/internal/ethics"
)

// OverallStatus is the lifecycle state of the whole execution.
type OverallStatus string

const (
	StatusInitialized           OverallStatus = "initialized"
	StatusAwaitingAuthorization OverallStatus = "awaiting_authorization"
	StatusRunning               OverallStatus = "running"
	StatusPaused                OverallStatus = "paused"
	StatusCompleted             OverallStatus = "completed"
	StatusFailed                OverallStatus = "failed"
)

// AllOverallStatuses lists every status in lifecycle order.
var AllOverallStatuses = []OverallStatus{
	StatusInitialized,
	StatusAwaitingAuthorization,
	StatusRunning,
	StatusPaused,
	StatusCompleted,
	StatusFailed,
}

func (s *OverallStatus) UnmarshalJSON(data []byte) error {
	v, err := parseEnum(data, "overall_status", AllOverallStatuses)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// PhaseStatus is the state of a single phase.
type PhaseStatus string

const (
	PhasePending   PhaseStatus = "pending"
	PhaseRunning   PhaseStatus = "running"
	PhaseCompleted PhaseStatus = "completed"
	PhaseSkipped   PhaseStatus = "skipped"
	PhaseFailed    PhaseStatus = "failed"
)

var phaseStatuses = []PhaseStatus{PhasePending, PhaseRunning, PhaseCompleted, PhaseSkipped, PhaseFailed}

func (s *PhaseStatus) UnmarshalJSON(data []byte) error {
	v, err := parseEnum(data, "phase status", phaseStatuses)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Authorization names who must approve a phase before it can start.
type Authorization string

const (
	AuthNone             Authorization = "none"
	AuthOperatorApproval Authorization = "operator_approval"
)

func (a *Authorization) UnmarshalJSON(data []byte) error {
	v, err := parseEnum(data, "required_authorization", []Authorization{AuthNone, AuthOperatorApproval})
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// parseEnum accepts any casing of a known value and normalizes it; an empty
// string maps to the first entry.
func parseEnum[T ~string](data []byte, field string, allowed []T) (T, error) {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", fmt.Errorf("%s: %w", field, err)
	}
	norm := strings.ToLower(strings.TrimSpace(raw))
	if norm == "" {
		return allowed[0], nil
	}
	for _, v := range allowed {
		if string(v) == norm {
			return v, nil
		}
	}
	return "", fmt.Errorf("%s: unknown value %q", field, raw)
}

// State is the canonical plan record persisted in plan.json.
type State struct {
	ExecutionID   string          `json:"execution_id"`
	PlanVersion   string          `json:"plan_version"`
	InitiatedAt   time.Time       `json:"initiated_at"`
	LastUpdatedAt time.Time       `json:"last_updated_at"`
	OverallStatus OverallStatus   `json:"overall_status"`
	CurrentPhase  string          `json:"current_phase"`
	ProgressPct   int             `json:"progress_pct"`
	Phases        Phases          `json:"phases"`
	Harmony       Harmony         `json:"harmony"`
	Cost          Cost            `json:"cost"`
	Health        map[string]bool `json:"health"`
	Monitor       MonitorInfo     `json:"monitor"`
	Ethics        *ethics.Input   `json:"ethics,omitempty"`
	TokenUsage    []UsageEntry    `json:"token_usage,omitempty"`

	Extra Extra `json:"-"`
}

type stateAlias State

func (s State) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(stateAlias(s), s.Extra)
}

func (s *State) UnmarshalJSON(data []byte) error {
	var a stateAlias
	extra, err := unmarshalWithExtra(data, &a)
	if err != nil {
		return err
	}
	*s = State(a)
	s.Extra = extra
	return nil
}

// PhaseRecord tracks one phase of the plan.
type PhaseRecord struct {
	Name                   string             `json:"name,omitempty"`
	Status                 PhaseStatus        `json:"status"`
	CompletionPct          float64            `json:"completion_pct"`
	RequiredAuthorization  Authorization      `json:"required_authorization"`
	EstimatedDurationHours float64            `json:"estimated_duration_hours"`
	SuccessCriteria        map[string]float64 `json:"success_criteria"`

	Extra Extra `json:"-"`
}

type phaseAlias PhaseRecord

func (p PhaseRecord) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(phaseAlias(p), p.Extra)
}

func (p *PhaseRecord) UnmarshalJSON(data []byte) error {
	var a phaseAlias
	extra, err := unmarshalWithExtra(data, &a)
	if err != nil {
		return err
	}
	*p = PhaseRecord(a)
	p.Extra = extra
	return nil
}

// Phase pairs a phase id with its record.
type Phase struct {
	ID     string
	Record PhaseRecord
}

// Phases is an ordered mapping of phase id to record. It encodes as a JSON
// object whose key order follows the slice order.
type Phases []Phase

// Index returns the position of id, or -1.
func (ps Phases) Index(id string) int {
	for i, p := range ps {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// Get returns the record for id.
func (ps Phases) Get(id string) (PhaseRecord, bool) {
	if i := ps.Index(id); i >= 0 {
		return ps[i].Record, true
	}
	return PhaseRecord{}, false
}

func (ps Phases) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range ps {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(p.ID)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(p.Record)
		if err != nil {
			return nil, fmt.Errorf("phase %s: %w", p.ID, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (ps *Phases) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		*ps = nil
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("phases: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("phases: expected object")
	}
	var out Phases
	seen := make(map[string]bool)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("phases: %w", err)
		}
		id, ok := tok.(string)
		if !ok {
			return fmt.Errorf("phases: expected phase id")
		}
		if seen[id] {
			return fmt.Errorf("phases: duplicate phase id %q", id)
		}
		seen[id] = true
		var rec PhaseRecord
		if err := dec.Decode(&rec); err != nil {
			return fmt.Errorf("phase %s: %w", id, err)
		}
		out = append(out, Phase{ID: id, Record: rec})
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("phases: %w", err)
	}
	*ps = out
	return nil
}

// Harmony is the tracked harmony percentage against its target.
type Harmony struct {
	Current float64 `json:"current"`
	Target  float64 `json:"target"`
	Rate    float64 `json:"rate"`

	Extra Extra `json:"-"`
}

type harmonyAlias Harmony

func (h Harmony) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(harmonyAlias(h), h.Extra)
}

func (h *Harmony) UnmarshalJSON(data []byte) error {
	var a harmonyAlias
	extra, err := unmarshalWithExtra(data, &a)
	if err != nil {
		return err
	}
	*h = Harmony(a)
	h.Extra = extra
	return nil
}

// Bucket is one budget line.
type Bucket struct {
	Allocated int64 `json:"allocated"`
	Spent     int64 `json:"spent"`
}

// Remaining never goes below zero.
func (b Bucket) Remaining() int64 {
	if b.Spent >= b.Allocated {
		return 0
	}
	return b.Allocated - b.Spent
}

// Cost is the plan budget.
type Cost struct {
	Allocated int64             `json:"allocated"`
	Spent     int64             `json:"spent"`
	ByBucket  map[string]Bucket `json:"by_bucket"`

	Extra Extra `json:"-"`
}

type costAlias Cost

func (c Cost) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(costAlias(c), c.Extra)
}

func (c *Cost) UnmarshalJSON(data []byte) error {
	var a costAlias
	extra, err := unmarshalWithExtra(data, &a)
	if err != nil {
		return err
	}
	*c = Cost(a)
	c.Extra = extra
	return nil
}

// Remaining never goes below zero.
func (c Cost) Remaining() int64 {
	return Bucket{Allocated: c.Allocated, Spent: c.Spent}.Remaining()
}

// MonitorInfo is written by the monitor on every save.
type MonitorInfo struct {
	StartedAt   time.Time `json:"started_at"`
	TickSeconds int       `json:"tick_seconds"`
	Version     string    `json:"version"`
	LastError   string    `json:"last_error"`

	Extra Extra `json:"-"`
}

type monitorAlias MonitorInfo

func (m MonitorInfo) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(monitorAlias(m), m.Extra)
}

func (m *MonitorInfo) UnmarshalJSON(data []byte) error {
	var a monitorAlias
	extra, err := unmarshalWithExtra(data, &a)
	if err != nil {
		return err
	}
	*m = MonitorInfo(a)
	m.Extra = extra
	return nil
}

// UsageEntry is a token usage report appended to the plan by an external actor.
type UsageEntry struct {
	Op              string    `json:"op"`
	TokensUsed      int       `json:"tokens_used"`
	ResultsAchieved int       `json:"results_achieved"`
	At              time.Time `json:"at"`
}
