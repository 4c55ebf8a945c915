package alert

import (
	"fmt"
	"strings"
	"time"
)

// Kind classifies an alert event.
type Kind string

const (
	KindHarmonyThresholdCrossed Kind = "HarmonyThresholdCrossed"
	KindDeathSpiralSuspected    Kind = "DeathSpiralSuspected"
	KindEfficiencyLow           Kind = "EfficiencyLow"
	KindBudgetExceeded          Kind = "BudgetExceeded"
	KindHealthDegraded          Kind = "HealthDegraded"
)

// Severity orders events by urgency.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeverityCritical Severity = "critical"
)

// Rank returns 0 for info, 1 for warn, 2 for critical.
func (s Severity) Rank() int {
	switch s {
	case SeverityWarn:
		return 1
	case SeverityCritical:
		return 2
	default:
		return 0
	}
}

// Event is one alert emitted during a tick.
type Event struct {
	Kind     Kind      `json:"kind"`
	Severity Severity  `json:"severity"`
	Rule     string    `json:"rule"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

// Line formats the event for the monitor log.
func (e Event) Line() string {
	return fmt.Sprintf("[%s] %s %s: %s",
		e.At.UTC().Format("2006-01-02 15:04:05"),
		e.Kind,
		strings.ToUpper(string(e.Severity)),
		e.Message,
	)
}

// Highest returns the most severe level in events, or info when empty.
func Highest(events []Event) Severity {
	out := SeverityInfo
	for _, e := range events {
		if e.Severity.Rank() > out.Rank() {
			out = e.Severity
		}
	}
	return out
}
