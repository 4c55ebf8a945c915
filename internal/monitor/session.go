package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"planmonitor/internal/failure"
	"planmonitor/internal/plan"
)

// Checkpoint status values outside the plan's own lifecycle.
const (
	StatusMonitoringInitialized = "monitoring_initialized"
	StatusShutdown              = "shutdown"
	StatusEmergencyShutdown     = "emergency_shutdown"
)

// SessionState is the checkpoint payload.
type SessionState struct {
	SessionID         string           `json:"session_id"`
	RunID             string           `json:"run_id"`
	Status            string           `json:"status"`
	Phase             string           `json:"phase"`
	TickIndex         int              `json:"tick_index"`
	Strategy          failure.Strategy `json:"strategy"`
	Failures          failure.Counters `json:"failures"`
	ConsecutiveErrors int              `json:"consecutive_errors"`
	ShutdownReason    string           `json:"shutdown_reason,omitempty"`
	Error             string           `json:"error,omitempty"`
}

// SessionIDFor derives the checkpoint session from the plan's execution id,
// so every monitor process watching one plan shares its checkpoints.
func SessionIDFor(st *plan.State) string {
	if st == nil || strings.TrimSpace(st.ExecutionID) == "" {
		return "unassigned"
	}
	return st.ExecutionID
}

// ErrIOTimeout marks an I/O step that exceeded io_timeout_seconds.
var ErrIOTimeout = errors.New("i/o timed out")

// ioRunner runs blocking file and database work with a deadline. Work is
// serialized, so a step that timed out finishes before the next one starts.
type ioRunner struct {
	mu      sync.Mutex
	timeout time.Duration
}

func runIO[T any](ctx context.Context, r *ioRunner, name string, fn func() (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		v, err := fn()
		ch <- result{v, err}
	}()

	select {
	case res := <-ch:
		return res.v, res.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%s: %w after %s", name, ErrIOTimeout, r.timeout)
		}
		return zero, fmt.Errorf("%s: %w", name, ctx.Err())
	}
}

func runIOErr(ctx context.Context, r *ioRunner, name string, fn func() error) error {
	_, err := runIO(ctx, r, name, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
