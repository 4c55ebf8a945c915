package failure

import (
	"sort"
	"sync"
	"time"
)

const (
	DefaultFailureWindow  = 5
	DefaultStrategyWindow = 3
	DefaultRingSize       = 100
	// PreferredShare is the fraction of successful outcomes a strategy must
	// exceed to be reported as preferred.
	PreferredShare = 0.6
)

// Strategy labels the mode the monitor is operating in.
type Strategy string

const (
	StrategyStandard             Strategy = "standard"
	StrategyChunkedOptimized     Strategy = "chunked_optimized"
	StrategyParallelEvolutionary Strategy = "parallel_evolutionary"
	StrategyQuantumHarmony       Strategy = "quantum_harmony"
	StrategyReset                Strategy = "fundamental_reset"
)

// Chain is the escalation order. The last entry is terminal.
var Chain = []Strategy{
	StrategyStandard,
	StrategyChunkedOptimized,
	StrategyParallelEvolutionary,
	StrategyQuantumHarmony,
	StrategyReset,
}

// NextStrategy returns the successor of current in Chain. Unknown
// strategies and the terminal reset map to reset.
func NextStrategy(current Strategy) Strategy {
	for i, s := range Chain {
		if s == current && i+1 < len(Chain) {
			return Chain[i+1]
		}
	}
	return StrategyReset
}

// Known reports whether s is part of Chain.
func Known(s Strategy) bool {
	for _, c := range Chain {
		if c == s {
			return true
		}
	}
	return false
}

// Outcome is one recorded session result.
type Outcome struct {
	SessionID string    `json:"session_id"`
	Success   bool      `json:"success"`
	Strategy  Strategy  `json:"strategy"`
	At        time.Time `json:"at"`
}

// Counters is the per-session failure state.
type Counters struct {
	ConsecutiveFailures   int      `json:"consecutive_failures"`
	StrategyAttempts      int      `json:"strategy_attempts"`
	CurrentStrategy       Strategy `json:"current_strategy"`
	FailuresUnderStrategy int      `json:"failures_under_strategy"`
}

// Config holds detector thresholds.
type Config struct {
	FailureWindow  int
	StrategyWindow int
	RingSize       int
}

// Detector counts consecutive failures per session and flags a death
// spiral once both the failure and strategy thresholds are reached.
type Detector struct {
	mu       sync.Mutex
	cfg      Config
	sessions map[string]*Counters
	ring     []Outcome
	now      func() time.Time
}

// Option configures a Detector.
type Option func(*Detector)

// WithClock overrides the time source for outcome timestamps.
func WithClock(clock func() time.Time) Option {
	return func(d *Detector) {
		if clock != nil {
			d.now = clock
		}
	}
}

// NewDetector returns a Detector. Non-positive config fields use defaults.
func NewDetector(cfg Config, opts ...Option) *Detector {
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = DefaultFailureWindow
	}
	if cfg.StrategyWindow <= 0 {
		cfg.StrategyWindow = DefaultStrategyWindow
	}
	if cfg.RingSize <= 0 {
		cfg.RingSize = DefaultRingSize
	}
	d := &Detector{
		cfg:      cfg,
		sessions: make(map[string]*Counters),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RecordOutcome updates the session counters and appends to the ring.
// A success clears the failure streak. Within a streak, every change of
// strategy counts as another attempt.
func (d *Detector) RecordOutcome(sessionID string, success bool, strategy Strategy) {
	d.mu.Lock()
	defer d.mu.Unlock()

	c := d.counters(sessionID)
	switch {
	case success:
		*c = Counters{CurrentStrategy: strategy}
	case c.ConsecutiveFailures == 0:
		c.StrategyAttempts = 1
		c.CurrentStrategy = strategy
		c.FailuresUnderStrategy = 0
	case strategy != c.CurrentStrategy:
		c.StrategyAttempts++
		c.CurrentStrategy = strategy
		c.FailuresUnderStrategy = 0
	}
	if !success {
		c.ConsecutiveFailures++
		c.FailuresUnderStrategy++
	}

	d.ring = append(d.ring, Outcome{
		SessionID: sessionID,
		Success:   success,
		Strategy:  strategy,
		At:        d.now().UTC(),
	})
	if over := len(d.ring) - d.cfg.RingSize; over > 0 {
		d.ring = append(d.ring[:0:0], d.ring[over:]...)
	}
}

// DeathSpiralSuspected reports whether sessionID has failed at least
// FailureWindow times in a row across at least StrategyWindow strategies.
func (d *Detector) DeathSpiralSuspected(sessionID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.sessions[sessionID]
	if !ok {
		return false
	}
	return c.ConsecutiveFailures >= d.cfg.FailureWindow && c.StrategyAttempts >= d.cfg.StrategyWindow
}

// ShouldSwitch reports whether the current strategy has failed perStrategy
// times in a row.
func (d *Detector) ShouldSwitch(sessionID string, perStrategy int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.sessions[sessionID]
	if !ok || perStrategy <= 0 {
		return false
	}
	return c.FailuresUnderStrategy >= perStrategy
}

// Counters returns a copy of the session's counters.
func (d *Detector) Counters(sessionID string) Counters {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.sessions[sessionID]; ok {
		return *c
	}
	return Counters{}
}

// Restore replaces the session's counters, e.g. from a checkpoint.
func (d *Detector) Restore(sessionID string, c Counters) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := c
	d.sessions[sessionID] = &cp
}

// Outcomes returns the ring contents, oldest first.
func (d *Detector) Outcomes() []Outcome {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Outcome(nil), d.ring...)
}

// PreferredStrategies returns strategies that account for more than
// PreferredShare of the successful outcomes in the ring, sorted by name.
func (d *Detector) PreferredStrategies() []Strategy {
	d.mu.Lock()
	defer d.mu.Unlock()

	counts := make(map[Strategy]int)
	successes := 0
	for _, o := range d.ring {
		if !o.Success {
			continue
		}
		successes++
		counts[o.Strategy]++
	}
	if successes == 0 {
		return nil
	}
	var out []Strategy
	for s, n := range counts {
		if float64(n)/float64(successes) > PreferredShare {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (d *Detector) counters(sessionID string) *Counters {
	c, ok := d.sessions[sessionID]
	if !ok {
		c = &Counters{}
		d.sessions[sessionID] = c
	}
	return c
}
