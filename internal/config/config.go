package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Paths locates the monitor's files. Relative paths resolve against the workspace.
type Paths struct {
	Plan        string `yaml:"plan" validate:"required"`
	Log         string `yaml:"log" validate:"required"`
	Metrics     string `yaml:"metrics" validate:"required"`
	Report      string `yaml:"report" validate:"required"`
	Checkpoints string `yaml:"checkpoints" validate:"required"`
	StateDB     string `yaml:"state_db" validate:"required"`
	AuditDB     string `yaml:"audit_db" validate:"required"`
	Lock        string `yaml:"lock" validate:"required"`
}

// Config is the monitor configuration. Every key is optional.
type Config struct {
	Workspace string `yaml:"workspace"`

	TickSeconds          int `yaml:"tick_seconds" validate:"min=1"`
	RetrySeconds         int `yaml:"retry_seconds" validate:"min=1"`
	IOTimeoutSeconds     int `yaml:"io_timeout_seconds" validate:"min=1"`
	MaxConsecutiveErrors int `yaml:"max_consecutive_errors" validate:"min=1"`
	RetentionCount       int `yaml:"retention_count" validate:"min=1"`

	TokenBudget    int `yaml:"token_budget" validate:"min=1"`
	ContextWindow  int `yaml:"context_window" validate:"min=1"`
	PerItemTokens  int `yaml:"per_item_tokens" validate:"min=1"`
	OverheadTokens int `yaml:"overhead_tokens" validate:"min=0"`

	HarmonyWarnRatio float64 `yaml:"harmony_warn_ratio" validate:"gt=0,lte=1"`
	BudgetWarnRatio  float64 `yaml:"budget_warn_ratio" validate:"gt=0,lte=1"`
	EfficiencyLow    float64 `yaml:"efficiency_low" validate:"gte=0"`

	FailureWindow       int `yaml:"failure_window" validate:"min=1"`
	StrategyWindow      int `yaml:"strategy_window" validate:"min=1"`
	FailuresPerStrategy int `yaml:"failures_per_strategy" validate:"min=1"`
	OutcomeRing         int `yaml:"outcome_ring" validate:"min=1"`

	Notifications bool   `yaml:"notifications"`
	MetricsAddr   string `yaml:"metrics_addr" validate:"omitempty,hostname_port"`
	LogLevel      string `yaml:"log_level" validate:"oneof=debug info warn error"`

	Paths Paths `yaml:"paths"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Workspace:            ".",
		TickSeconds:          30,
		RetrySeconds:         60,
		IOTimeoutSeconds:     10,
		MaxConsecutiveErrors: 10,
		RetentionCount:       50,
		TokenBudget:          75000,
		ContextWindow:        32000,
		PerItemTokens:        200,
		OverheadTokens:       1000,
		HarmonyWarnRatio:     0.8,
		BudgetWarnRatio:      0.9,
		EfficiencyLow:        0.5,
		FailureWindow:        5,
		StrategyWindow:       3,
		FailuresPerStrategy:  2,
		OutcomeRing:          100,
		LogLevel:             "info",
		Paths: Paths{
			Plan:        "plan.json",
			Log:         "log/monitor.log",
			Metrics:     "reports/metrics.json",
			Report:      "reports/progress.md",
			Checkpoints: "reports/checkpoints",
			StateDB:     "state/monitor.sqlite",
			AuditDB:     "state/audit.sqlite",
			Lock:        "state/monitor.lock",
		},
	}
}

// Load reads a YAML config from path on top of Default. An empty path
// returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks value ranges.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: failed %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value()))
		} else {
			parts = append(parts, fmt.Sprintf("%s: failed %s (got %v)", field, fe.Tag(), fe.Value()))
		}
	}
	return fmt.Errorf("invalid config: %s", strings.Join(parts, "; "))
}

func (c Config) TickInterval() time.Duration  { return time.Duration(c.TickSeconds) * time.Second }
func (c Config) RetryInterval() time.Duration { return time.Duration(c.RetrySeconds) * time.Second }
func (c Config) IOTimeout() time.Duration     { return time.Duration(c.IOTimeoutSeconds) * time.Second }

// SlogLevel maps log_level to a slog.Level.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
