package budget

import (
	"sync"
	"time"
)

// Defaults for token accounting.
const (
	DefaultDailyBudget    = 75000
	DefaultPerItemTokens  = 200
	DefaultOverheadTokens = 1000
	DefaultMaxSamples     = 1000
	DefaultEfficiencySpan = 5
)

// Config holds the guard's constants.
type Config struct {
	DailyBudget    int
	PerItemTokens  int
	OverheadTokens int
	MaxSamples     int
}

// DefaultConfig returns the standard token accounting constants.
func DefaultConfig() Config {
	return Config{
		DailyBudget:    DefaultDailyBudget,
		PerItemTokens:  DefaultPerItemTokens,
		OverheadTokens: DefaultOverheadTokens,
		MaxSamples:     DefaultMaxSamples,
	}
}

// Sample records the results-per-token ratio of one operation.
type Sample struct {
	Op              string    `json:"op"`
	TokensUsed      int       `json:"tokens_used"`
	ResultsAchieved int       `json:"results_achieved"`
	Efficiency      float64   `json:"efficiency"`
	At              time.Time `json:"at"`
}

// Guard tracks daily token usage against a budget. Usage resets at the UTC
// day boundary; samples are kept in a bounded ring.
type Guard struct {
	mu      sync.Mutex
	cfg     Config
	usage   int
	day     string
	samples []Sample
	now     func() time.Time
}

// Option configures a Guard.
type Option func(*Guard)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(g *Guard) {
		if clock != nil {
			g.now = clock
		}
	}
}

// NewGuard returns a Guard. Zero config fields fall back to defaults.
func NewGuard(cfg Config, opts ...Option) *Guard {
	def := DefaultConfig()
	if cfg.DailyBudget <= 0 {
		cfg.DailyBudget = def.DailyBudget
	}
	if cfg.PerItemTokens <= 0 {
		cfg.PerItemTokens = def.PerItemTokens
	}
	if cfg.OverheadTokens < 0 {
		cfg.OverheadTokens = def.OverheadTokens
	}
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = def.MaxSamples
	}
	g := &Guard{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	g.day = dayOf(g.now())
	return g
}

// OptimalBatchSize is how many items fit in one context window after the
// fixed overhead, never less than one and never more than totalItems.
func (g *Guard) OptimalBatchSize(totalItems, contextWindow int) int {
	perBatch := (contextWindow - g.cfg.OverheadTokens) / g.cfg.PerItemTokens
	return max(1, min(totalItems, perBatch))
}

// Record appends a sample taken now and returns its efficiency.
func (g *Guard) Record(op string, tokensUsed, resultsAchieved int) float64 {
	return g.RecordAt(op, tokensUsed, resultsAchieved, g.now())
}

// RecordAt appends a sample taken at the given instant. Usage only counts
// samples from the current UTC day. A sample with no tokens has no defined
// efficiency; it reports 0 and is not kept.
func (g *Guard) RecordAt(op string, tokensUsed, resultsAchieved int, at time.Time) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rollover()
	if tokensUsed <= 0 {
		return 0
	}
	if dayOf(at) == g.day {
		g.usage += tokensUsed
	}
	eff := float64(resultsAchieved) / float64(tokensUsed)
	g.samples = append(g.samples, Sample{
		Op:              op,
		TokensUsed:      tokensUsed,
		ResultsAchieved: resultsAchieved,
		Efficiency:      eff,
		At:              at.UTC(),
	})
	if over := len(g.samples) - g.cfg.MaxSamples; over > 0 {
		g.samples = append(g.samples[:0:0], g.samples[over:]...)
	}
	return eff
}

// Exceeded reports whether today's usage has reached the budget.
func (g *Guard) Exceeded() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollover()
	return g.usage >= g.cfg.DailyBudget
}

// MeanEfficiency averages the last n samples. ok is false until n samples exist.
func (g *Guard) MeanEfficiency(n int) (mean float64, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n <= 0 || len(g.samples) < n {
		return 0, false
	}
	var sum float64
	for _, s := range g.samples[len(g.samples)-n:] {
		sum += s.Efficiency
	}
	return sum / float64(n), true
}

// Samples returns a copy of the retained samples, oldest first.
func (g *Guard) Samples() []Sample {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Sample(nil), g.samples...)
}

// Status is a point-in-time view of the guard.
type Status struct {
	Budget         int     `json:"budget"`
	Used           int     `json:"used"`
	Remaining      int     `json:"remaining"`
	Exceeded       bool    `json:"exceeded"`
	Samples        int     `json:"samples"`
	MeanEfficiency float64 `json:"mean_efficiency"`
	HasEfficiency  bool    `json:"has_efficiency"`
}

// Status summarizes usage and the mean of the last DefaultEfficiencySpan samples.
func (g *Guard) Status() Status {
	mean, ok := g.MeanEfficiency(DefaultEfficiencySpan)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollover()
	return Status{
		Budget:         g.cfg.DailyBudget,
		Used:           g.usage,
		Remaining:      max(0, g.cfg.DailyBudget-g.usage),
		Exceeded:       g.usage >= g.cfg.DailyBudget,
		Samples:        len(g.samples),
		MeanEfficiency: mean,
		HasEfficiency:  ok,
	}
}

func (g *Guard) rollover() {
	if today := dayOf(g.now()); today != g.day {
		g.day = today
		g.usage = 0
	}
}

func dayOf(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
