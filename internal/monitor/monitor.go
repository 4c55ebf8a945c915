package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"planmonitor/internal/alert"
	"planmonitor/internal/audit"
	"planmonitor/internal/budget"
	"planmonitor/internal/checkpoint"
	"planmonitor/internal/config"
	"planmonitor/internal/ethics"
	"planmonitor/internal/failure"
	"planmonitor/internal/fsutil"
	"planmonitor/internal/notify"
	"planmonitor/internal/plan"
	"planmonitor/internal/report"
	"planmonitor/internal/telemetry"
	"planmonitor/internal/workspace"
)

const auditActor = "monitor"

// ScheduleItems is the workload size reported by the startup schedule.
const ScheduleItems = 442

// ErrFatal is returned by Run when consecutive tick failures reach the limit.
var ErrFatal = errors.New("monitor stopped after repeated failures")

// Options configures a Monitor.
type Options struct {
	Config    config.Config
	Workspace *workspace.Workspace
	Logger    *slog.Logger
	Metrics   *telemetry.Metrics
	Notifier  *notify.Notifier
	Clock     func() time.Time
	Version   string
	// MaxTicks stops Run after that many ticks. Zero runs until signalled.
	MaxTicks int
}

// Monitor is the periodic plan supervisor. It owns every piece of
// in-memory session state; nothing else mutates it.
type Monitor struct {
	cfg         config.Config
	ws          *workspace.Workspace
	logger      *slog.Logger
	metrics     *telemetry.Metrics
	notifier    *notify.Notifier
	audit       *audit.Logger
	state       *StateStore
	plans       *plan.Store
	checkpoints *checkpoint.Store
	guard       *budget.Guard
	detector    *failure.Detector
	alerter     *alert.Alerter
	io          *ioRunner
	now         func() time.Time
	version     string
	maxTicks    int

	sessionID         string
	sessionPending    bool
	runID             string
	startedAt         time.Time
	tick              int
	ticksRun          int
	strategy          failure.Strategy
	consecutiveErrors int
	lastErr           error
	lastGood          *plan.State
	lastWritten       []byte
	usageMark         time.Time
	notes             []string

	reasonMu       sync.Mutex
	shutdownReason string
}

// New wires a Monitor from opts. The caller must Close it.
func New(opts Options) (*Monitor, error) {
	if opts.Workspace == nil {
		return nil, fmt.Errorf("workspace is required")
	}
	cfg := opts.Config
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	version := opts.Version
	if version == "" {
		version = "dev"
	}

	state, err := OpenState(opts.Workspace.StateDBPath)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	m := &Monitor{
		cfg:      cfg,
		ws:       opts.Workspace,
		logger:   logger.With("component", "monitor"),
		metrics:  opts.Metrics,
		notifier: opts.Notifier,
		audit:    audit.NewLogger(opts.Workspace.AuditDBPath),
		state:    state,
		plans:    plan.NewStore(opts.Workspace.PlanPath, plan.WithClock(clock)),
		checkpoints: checkpoint.NewStore(opts.Workspace.CheckpointDir,
			checkpoint.WithClock(clock),
			checkpoint.WithRetention(cfg.RetentionCount),
			checkpoint.WithLogger(logger),
		),
		guard: budget.NewGuard(budget.Config{
			DailyBudget:    cfg.TokenBudget,
			PerItemTokens:  cfg.PerItemTokens,
			OverheadTokens: cfg.OverheadTokens,
		}, budget.WithClock(clock)),
		detector: failure.NewDetector(failure.Config{
			FailureWindow:  cfg.FailureWindow,
			StrategyWindow: cfg.StrategyWindow,
			RingSize:       cfg.OutcomeRing,
		}, failure.WithClock(clock)),
		alerter: alert.NewAlerter(alert.Thresholds{
			HarmonyWarnRatio: cfg.HarmonyWarnRatio,
			BudgetWarnRatio:  cfg.BudgetWarnRatio,
			EfficiencyLow:    cfg.EfficiencyLow,
		}),
		io:       &ioRunner{timeout: cfg.IOTimeout()},
		now:      clock,
		version:  version,
		maxTicks: opts.MaxTicks,
		strategy: failure.StrategyStandard,
	}
	return m, nil
}

// SessionID is the checkpoint session this monitor writes to.
func (m *Monitor) SessionID() string { return m.sessionID }

// TickIndex is the index of the last tick run, including resumed ticks.
func (m *Monitor) TickIndex() int { return m.tick }

// Strategy is the current failure-handling strategy.
func (m *Monitor) Strategy() failure.Strategy { return m.strategy }

// Run starts the monitor and ticks until a signal, ctx cancellation,
// MaxTicks, or too many consecutive failures.
func (m *Monitor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			m.setShutdownReason("signal:" + sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := m.Start(ctx); err != nil {
		m.logger.Warn("startup incomplete, ticking anyway", "error", err)
	}

	var changes <-chan struct{}
	if w, err := NewPlanWatcher(ctx, m.ws.PlanPath, DefaultDebounce, m.logger); err != nil {
		m.logger.Warn("plan watcher unavailable, relying on the tick interval", "error", err)
	} else {
		defer w.Close()
		changes = w.Changes()
	}

	// Ticks run to completion even when a signal arrives mid-tick.
	tickCtx := context.WithoutCancel(ctx)
	for {
		delay := m.cfg.TickInterval()
		if err := m.Tick(tickCtx); err != nil {
			if m.consecutiveErrors >= m.cfg.MaxConsecutiveErrors {
				return m.fatal(tickCtx, err)
			}
			delay = m.cfg.RetryInterval()
		}
		if m.maxTicks > 0 && m.ticksRun >= m.maxTicks {
			return m.Shutdown(tickCtx, "ticks_completed")
		}
		if !m.wait(ctx, delay, changes) {
			return m.Shutdown(tickCtx, m.reason())
		}
	}
}

func (m *Monitor) wait(ctx context.Context, d time.Duration, changes <-chan struct{}) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		case <-changes:
			if m.planChangedExternally() {
				m.logger.Info("plan file changed, ticking early")
				return true
			}
		}
	}
}

func (m *Monitor) planChangedExternally() bool {
	sum, err := hashFile(m.ws.PlanPath)
	if err != nil || sum == "" {
		return false
	}
	return sum != hashBytes(m.lastWritten)
}

// Start resolves the session, resumes from the latest checkpoint and
// writes the startup checkpoint. The monitor is ready to tick even when
// Start returns an error: the error reports startup I/O that failed, and
// the next tick retries it under the usual failure accounting.
func (m *Monitor) Start(ctx context.Context) error {
	m.startedAt = m.now().UTC()
	var startErr error

	if err := m.ws.EnsureDirs(); err != nil {
		m.logger.Warn("prepare workspace", "error", err)
		startErr = errors.Join(startErr, err)
	}

	if last, err := m.state.GetKV(kvLastPlan); err != nil {
		m.logger.Warn("read last written plan", "error", err)
	} else if last != "" {
		m.lastWritten = []byte(last)
		if st, err := plan.Decode(m.lastWritten); err == nil {
			m.lastGood = st
		}
	}

	st, err := m.startupPlan(ctx)
	if err != nil {
		m.logger.Error("plan unavailable at startup, retrying on the next tick", "path", m.ws.PlanPath, "error", err)
		startErr = errors.Join(startErr, err)
	}
	if st != nil {
		m.adoptSession(ctx, SessionIDFor(st))
	} else if prev, err := m.state.SessionID(); err == nil && prev != "" {
		m.adoptSession(ctx, prev)
	} else {
		// Resolved by the first tick that reads the plan.
		m.sessionID = SessionIDFor(nil)
		m.sessionPending = true
	}

	runID, err := runIO(ctx, m.io, "start run", func() (string, error) { return m.state.StartRun(m.sessionID, m.startedAt) })
	if err != nil {
		m.logger.Warn("record run start", "error", err)
	}
	m.runID = runID

	phase := ""
	if st != nil {
		phase = st.CurrentPhase
	}
	if err := m.saveCheckpoint(ctx, SessionState{Status: StatusMonitoringInitialized, Phase: phase}); err != nil {
		m.logger.Warn("startup checkpoint failed", "error", err)
	}

	if sched, err := budget.PlanSchedule(m.guard, ScheduleItems, m.cfg.ContextWindow); err == nil {
		m.logger.Info("chunked processing schedule",
			"items", sched.TotalItems,
			"batch_size", sched.BatchSize,
			"chunks", sched.ChunksCreated,
			"estimate", sched.SessionEstimate,
		)
	}

	m.auditEvent(audit.TypeMonitorStarted, map[string]any{
		"session_id": m.sessionID,
		"run_id":     m.runID,
		"workspace":  m.ws.Root,
		"tick_index": m.tick,
		"strategy":   m.strategy,
		"version":    m.version,
	})
	m.logger.Info("monitor started", "session_id", m.sessionID, "tick_index", m.tick, "strategy", m.strategy)
	return startErr
}

// startupPlan loads the plan, creating the skeleton when the file is
// missing. A nil state means the plan could not be read or created.
func (m *Monitor) startupPlan(ctx context.Context) (*plan.State, error) {
	loaded, err := runIO(ctx, m.io, "load plan", m.plans.Load)
	if err != nil {
		return m.lastGood, err
	}
	st := loaded.State
	switch {
	case loaded.Missing:
		data, err := runIO(ctx, m.io, "create plan", func() ([]byte, error) { return m.plans.Save(st) })
		if err != nil {
			return m.lastGood, err
		}
		m.rememberPlan(ctx, data, st)
		m.logger.Info("created default plan", "path", m.ws.PlanPath, "execution_id", st.ExecutionID)
	case loaded.ParseErr != nil:
		m.logger.Error("plan file unreadable at startup", "path", m.ws.PlanPath, "error", loaded.ParseErr)
		return m.lastGood, nil
	}
	return st, nil
}

// adoptSession makes id the checkpoint session and resumes from its latest
// checkpoint, if any.
func (m *Monitor) adoptSession(ctx context.Context, id string) {
	m.sessionID = id
	m.sessionPending = false
	m.setKV(ctx, kvSessionID, id)
	if id != SessionIDFor(nil) {
		m.plans.KeepExecutionID(id)
	}

	cp, ok := m.checkpoints.LoadLatest(id)
	if !ok {
		m.notes = append(m.notes, fmt.Sprintf("no checkpoint for session %s, starting fresh", id))
		return
	}
	var prev SessionState
	if err := cp.Decode(&prev); err != nil {
		m.logger.Info("checkpoint payload unreadable, starting fresh", "error", err)
		m.notes = append(m.notes, "checkpoint unreadable, starting fresh")
		return
	}
	m.resume(cp, prev)
}

// resolvePendingSession adopts the session of the first plan read after a
// startup that could not read one. Ticks already run in this process are
// counted on top of the resumed tick index.
func (m *Monitor) resolvePendingSession(ctx context.Context, st *plan.State) {
	if !m.sessionPending {
		return
	}
	ran := m.tick
	strategy := m.strategy
	streak, lastErr := m.consecutiveErrors, m.lastErr
	counters := m.detector.Counters(m.sessionID)

	m.tick = 0
	m.adoptSession(ctx, SessionIDFor(st))
	m.tick += ran
	m.strategy = strategy
	m.consecutiveErrors, m.lastErr = streak, lastErr
	m.detector.Restore(m.sessionID, counters)
	m.notes = append(m.notes, "session resolved to "+m.sessionID)
	m.logger.Info("session resolved", "session_id", m.sessionID, "tick_index", m.tick)
}

func (m *Monitor) resume(cp *checkpoint.Checkpoint, prev SessionState) {
	m.tick = prev.TickIndex
	if failure.Known(prev.Strategy) {
		m.strategy = prev.Strategy
	}
	m.detector.Restore(m.sessionID, prev.Failures)
	m.consecutiveErrors = prev.ConsecutiveErrors

	name := checkpoint.FileName(m.sessionID, cp.TakenAt)
	m.notes = append(m.notes, fmt.Sprintf("loaded checkpoint %s (status=%s tick_index=%d strategy=%s)",
		name, prev.Status, prev.TickIndex, m.strategy))
	m.auditEvent(audit.TypeCheckpointLoad, map[string]any{
		"session_id": m.sessionID,
		"taken_at":   cp.TakenAt,
		"tick_index": prev.TickIndex,
		"strategy":   m.strategy,
		"status":     prev.Status,
	})
}

// Tick runs one load, derive, render, alert, checkpoint cycle.
func (m *Monitor) Tick(ctx context.Context) error {
	m.tick++
	m.ticksRun++
	tick := m.tick
	started := m.now()
	notes := m.notes
	m.notes = nil

	loaded, err := runIO(ctx, m.io, "load plan", m.plans.Load)
	if err != nil {
		return m.fail(ctx, tick, started, err)
	}

	st := loaded.State
	planErr := loaded.ParseErr
	switch {
	case planErr != nil:
		m.logger.Error("plan file unreadable, leaving it untouched", "path", m.ws.PlanPath, "error", planErr)
		if m.lastGood != nil {
			if clone, err := plan.Clone(m.lastGood); err == nil {
				st = clone
			}
			notes = append(notes, "plan unreadable, rendering last known good state")
		} else {
			notes = append(notes, "plan unreadable, rendering default skeleton")
		}
	case loaded.Missing:
		notes = append(notes, "plan file missing, created default skeleton")
	default:
		if summary, ok := m.externalDiff(loaded.Raw); ok {
			notes = append(notes, "plan changed externally: "+summary.String())
			m.auditEvent(audit.TypePlanChanged, map[string]any{
				"tick":    tick,
				"added":   summary.Added,
				"removed": summary.Removed,
				"diff":    summary.Text,
			})
		}
	}

	violations := plan.Validate(st)
	if violations != nil {
		m.logger.Warn("plan invariants violated", "tick", tick, "error", violations)
	}

	if planErr == nil {
		if tr, ok := plan.ApplyForcedTransitions(st); ok {
			notes = append(notes, fmt.Sprintf("status %s -> %s", tr.From, tr.To))
			m.auditEvent(audit.TypeTransition, map[string]any{
				"tick": tick,
				"from": tr.From,
				"to":   tr.To,
			})
			title, msg := notify.FormatTransition(st.ExecutionID, string(tr.From), string(tr.To))
			m.sendNotification(title, msg)
		}
	}

	m.ingestUsage(st.TokenUsage)
	budgetStatus := m.guard.Status()
	var ethicsIn ethics.Input
	if st.Ethics != nil {
		ethicsIn = *st.Ethics
	}
	score := ethics.Evaluate(ethicsIn)

	lastErr := ""
	if m.lastErr != nil {
		lastErr = m.lastErr.Error()
	}
	st.Monitor.StartedAt = m.startedAt
	st.Monitor.TickSeconds = m.cfg.TickSeconds
	st.Monitor.Version = m.version
	st.Monitor.LastError = lastErr

	if planErr == nil {
		data, err := runIO(ctx, m.io, "save plan", func() ([]byte, error) { return m.plans.Save(st) })
		if err != nil {
			return m.fail(ctx, tick, started, err)
		}
		m.rememberPlan(ctx, data, st)
		if m.sessionPending {
			m.resolvePendingSession(ctx, st)
			tick = m.tick
			notes = append(notes, m.notes...)
			m.notes = nil
		}
	}

	// The rendered counters are the ones this tick leaves behind once it
	// succeeds; the death spiral rule only runs on the failure path.
	settled := failure.Counters{CurrentStrategy: m.strategy}
	derived := report.Derived{
		Tick:                tick,
		SessionID:           m.sessionID,
		Strategy:            m.strategy,
		GeneratedAt:         m.now(),
		Budget:              budgetStatus,
		Failures:            settled,
		PreferredStrategies: m.detector.PreferredStrategies(),
		EthicsInput:         ethicsIn,
		Ethics:              score,
		DecisionPoints:      plan.DecisionPoints(st),
		Violations:          violations,
		LastError:           lastErr,
		Notes:               notes,
	}
	art, err := report.Render(st, derived)
	if err != nil {
		return m.fail(ctx, tick, started, fmt.Errorf("render: %w", err))
	}
	err = runIOErr(ctx, m.io, "write artifacts", func() error {
		if err := fsutil.WriteFileAtomic(m.ws.MetricsPath, art.JSON, 0o644); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
		if err := fsutil.WriteFileAtomic(m.ws.ReportPath, art.Markdown, 0o644); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		return fsutil.AppendFile(m.ws.LogPath, []byte(art.Log))
	})
	if err != nil {
		return m.fail(ctx, tick, started, err)
	}

	events := m.alerter.Evaluate(tick, st, alert.Metrics{
		MeanEfficiency: budgetStatus.MeanEfficiency,
		HasEfficiency:  budgetStatus.HasEfficiency,
		SessionID:      m.sessionID,
		Violations:     violations,
		PlanErr:        planErr,
	}, derived.GeneratedAt)
	if len(events) > 0 {
		err := runIOErr(ctx, m.io, "append alerts", func() error {
			return fsutil.AppendFile(m.ws.LogPath, []byte(report.AlertLines(events)))
		})
		if err != nil {
			return m.fail(ctx, tick, started, err)
		}
	}
	m.publishAlerts(ctx, tick, events)

	// A successful tick clears the failure streak, and its checkpoint must
	// say so.
	streak, prevErr := m.consecutiveErrors, m.lastErr
	m.consecutiveErrors, m.lastErr = 0, nil
	err = m.saveCheckpoint(ctx, SessionState{
		Status:   string(st.OverallStatus),
		Phase:    st.CurrentPhase,
		Failures: settled,
	})
	if err != nil {
		m.consecutiveErrors, m.lastErr = streak, prevErr
		return m.fail(ctx, tick, started, err)
	}

	m.detector.RecordOutcome(m.sessionID, true, m.strategy)
	m.metrics.ObserveTick(true, m.now().Sub(started), 0)
	m.metrics.ObservePlan(st, budgetStatus.Used, score.Total)
	m.recordTick(ctx, TickRecord{
		RunID:         m.runID,
		TickIndex:     tick,
		At:            started,
		OK:            true,
		OverallStatus: string(st.OverallStatus),
		Phase:         st.CurrentPhase,
		Strategy:      string(m.strategy),
	})
	m.auditEvent(audit.TypeTickCompleted, map[string]any{
		"tick":           tick,
		"overall_status": st.OverallStatus,
		"current_phase":  st.CurrentPhase,
		"alerts":         len(events),
		"strategy":       m.strategy,
	})
	m.logger.Debug("tick completed", "tick", tick, "alerts", len(events))
	return nil
}

// fail records a failed tick and returns err. Logging is best effort.
func (m *Monitor) fail(ctx context.Context, tick int, started time.Time, err error) error {
	m.consecutiveErrors++
	m.lastErr = err
	m.logger.Warn("tick failed", "tick", tick, "consecutive", m.consecutiveErrors, "error", err)

	m.detector.RecordOutcome(m.sessionID, false, m.strategy)
	if m.detector.ShouldSwitch(m.sessionID, m.cfg.FailuresPerStrategy) {
		m.switchStrategy(ctx)
	}

	now := m.now()
	lines := fmt.Sprintf("%s tick=%d failed (%d consecutive): %v\n",
		now.UTC().Format("2006-01-02 15:04:05"), tick, m.consecutiveErrors, err)
	if m.detector.DeathSpiralSuspected(m.sessionID) {
		events := m.alerter.Evaluate(tick, &plan.State{}, alert.Metrics{DeathSpiral: true, SessionID: m.sessionID}, now)
		lines += report.AlertLines(events)
		m.publishAlerts(ctx, tick, events)
	}
	if werr := runIOErr(ctx, m.io, "append log", func() error {
		return fsutil.AppendFile(m.ws.LogPath, []byte(lines))
	}); werr != nil {
		m.logger.Warn("could not record failure in monitor log", "error", werr)
	}

	m.metrics.ObserveTick(false, now.Sub(started), m.consecutiveErrors)
	m.recordTick(ctx, TickRecord{
		RunID:     m.runID,
		TickIndex: tick,
		At:        started,
		Strategy:  string(m.strategy),
		Error:     err.Error(),
	})
	m.auditEvent(audit.TypeTickFailed, map[string]any{
		"tick":        tick,
		"error":       err.Error(),
		"consecutive": m.consecutiveErrors,
		"strategy":    m.strategy,
	})
	return err
}

func (m *Monitor) switchStrategy(ctx context.Context) {
	next := failure.NextStrategy(m.strategy)
	if next == m.strategy {
		return
	}
	prev := m.strategy
	m.strategy = next
	m.logger.Warn("switching strategy after repeated failures", "from", prev, "to", next)
	m.notes = append(m.notes, fmt.Sprintf("strategy %s -> %s after repeated failures", prev, next))
	m.metrics.ObserveStrategySwitch()
	m.auditEvent(audit.TypeStrategySwitch, map[string]any{
		"from":     prev,
		"to":       next,
		"failures": m.detector.Counters(m.sessionID),
	})
	if next == failure.StrategyReset {
		m.resetState(ctx)
	}
}

// resetState drops cached plan state and reopens the state store.
func (m *Monitor) resetState(ctx context.Context) {
	m.lastGood = nil
	m.lastWritten = nil
	err := runIOErr(ctx, m.io, "reopen state store", func() error {
		if m.state != nil {
			_ = m.state.Close()
			m.state = nil
		}
		s, err := OpenState(m.ws.StateDBPath)
		if err != nil {
			return err
		}
		m.state = s
		return nil
	})
	if err != nil {
		m.logger.Warn("state store unavailable after reset", "error", err)
	}
}

// Shutdown writes the final checkpoint and closes the run. The reason is
// recorded as shutdown_reason.
func (m *Monitor) Shutdown(ctx context.Context, reason string) error {
	if err := m.saveCheckpoint(ctx, SessionState{Status: StatusShutdown, ShutdownReason: reason}); err != nil {
		m.logger.Warn("shutdown checkpoint failed", "error", err)
	}
	m.finishRun(ctx, "stopped", reason, nil)
	m.auditEvent(audit.TypeMonitorStopped, map[string]any{
		"session_id": m.sessionID,
		"reason":     reason,
		"tick_index": m.tick,
	})
	m.logger.Info("monitor stopped", "reason", reason, "tick_index", m.tick)
	return nil
}

func (m *Monitor) fatal(ctx context.Context, cause error) error {
	if err := m.saveCheckpoint(ctx, SessionState{
		Status:         StatusEmergencyShutdown,
		ShutdownReason: "error",
		Error:          cause.Error(),
	}); err != nil {
		m.logger.Error("emergency checkpoint failed", "error", err)
	}
	m.finishRun(ctx, "failed", "error", cause)
	title, msg := notify.FormatFatal(m.sessionID, m.consecutiveErrors, cause)
	m.sendNotification(title, msg)
	m.auditEvent(audit.TypeMonitorStopped, map[string]any{
		"session_id":  m.sessionID,
		"reason":      "error",
		"error":       cause.Error(),
		"consecutive": m.consecutiveErrors,
	})
	m.logger.Error("monitor giving up", "consecutive", m.consecutiveErrors, "error", cause)
	return fmt.Errorf("%w: %d consecutive tick failures: %v", ErrFatal, m.consecutiveErrors, cause)
}

// Close releases the state store.
func (m *Monitor) Close() error {
	if m.state == nil {
		return nil
	}
	err := m.state.Close()
	m.state = nil
	return err
}

func (m *Monitor) saveCheckpoint(ctx context.Context, payload SessionState) error {
	payload.SessionID = m.sessionID
	payload.RunID = m.runID
	payload.TickIndex = m.tick
	payload.Strategy = m.strategy
	payload.ConsecutiveErrors = m.consecutiveErrors
	if payload.Failures == (failure.Counters{}) {
		payload.Failures = m.detector.Counters(m.sessionID)
	}
	_, err := runIO(ctx, m.io, "save checkpoint", func() (*checkpoint.Checkpoint, error) {
		return m.checkpoints.Save(m.sessionID, payload)
	})
	return err
}

func (m *Monitor) externalDiff(raw []byte) (plan.DiffSummary, bool) {
	if m.lastWritten == nil || hashBytes(raw) == hashBytes(m.lastWritten) {
		return plan.DiffSummary{}, false
	}
	summary, err := plan.Diff(m.lastWritten, raw, "plan.json")
	if err != nil {
		m.logger.Warn("diff plan", "error", err)
		return plan.DiffSummary{}, false
	}
	return summary, !summary.Empty()
}

func (m *Monitor) rememberPlan(ctx context.Context, data []byte, st *plan.State) {
	m.lastWritten = data
	m.lastGood = st
	m.setKV(ctx, kvPlanHash, hashBytes(data))
	m.setKV(ctx, kvLastPlan, string(data))
}

// ingestUsage feeds token usage entries newer than the last one seen into
// the budget guard, oldest first.
func (m *Monitor) ingestUsage(entries []plan.UsageEntry) {
	if len(entries) == 0 {
		return
	}
	fresh := make([]plan.UsageEntry, 0, len(entries))
	for _, e := range entries {
		if e.At.After(m.usageMark) {
			fresh = append(fresh, e)
		}
	}
	sort.SliceStable(fresh, func(i, j int) bool { return fresh[i].At.Before(fresh[j].At) })
	for _, e := range fresh {
		m.guard.RecordAt(e.Op, e.TokensUsed, e.ResultsAchieved, e.At)
		m.usageMark = e.At
	}
}

func (m *Monitor) publishAlerts(ctx context.Context, tick int, events []alert.Event) {
	if len(events) == 0 {
		return
	}
	m.metrics.ObserveAlerts(events)
	if m.state != nil {
		err := runIOErr(ctx, m.io, "record alerts", func() error {
			return m.state.RecordAlerts(m.runID, tick, events)
		})
		if err != nil {
			m.logger.Warn("record alerts", "error", err)
		}
	}
	for _, e := range events {
		m.auditEvent(audit.TypeAlert, map[string]any{
			"tick":     tick,
			"kind":     e.Kind,
			"severity": e.Severity,
			"rule":     e.Rule,
			"message":  e.Message,
		})
		if m.notifier != nil {
			if err := m.notifier.SendAlert(e); err != nil {
				m.logger.Warn("notification failed", "error", err)
			}
		}
	}
}

func (m *Monitor) sendNotification(title, msg string) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Send(title, msg); err != nil {
		m.logger.Warn("notification failed", "error", err)
	}
}

func (m *Monitor) recordTick(ctx context.Context, rec TickRecord) {
	if m.state == nil {
		return
	}
	if err := runIOErr(ctx, m.io, "record tick", func() error { return m.state.RecordTick(rec) }); err != nil {
		m.logger.Warn("record tick", "error", err)
	}
}

func (m *Monitor) finishRun(ctx context.Context, status, reason string, cause error) {
	if m.state == nil || m.runID == "" {
		return
	}
	summary := map[string]any{
		"reason":     reason,
		"tick_index": m.tick,
		"ticks_run":  m.ticksRun,
		"strategy":   m.strategy,
	}
	if cause != nil {
		summary["error"] = cause.Error()
	}
	err := runIOErr(ctx, m.io, "finish run", func() error {
		return m.state.FinishRun(m.runID, m.now(), status, summary)
	})
	if err != nil {
		m.logger.Warn("record run finish", "error", err)
	}
}

func (m *Monitor) setKV(ctx context.Context, key, value string) {
	if m.state == nil {
		return
	}
	if err := runIOErr(ctx, m.io, "set "+key, func() error { return m.state.SetKV(key, value) }); err != nil {
		m.logger.Warn("state store write", "key", key, "error", err)
	}
}

func (m *Monitor) auditEvent(eventType string, payload map[string]any) {
	if err := m.audit.LogEvent(auditActor, eventType, payload); err != nil {
		m.logger.Warn("audit log failed", "type", eventType, "error", err)
	}
}

func (m *Monitor) setShutdownReason(reason string) {
	m.reasonMu.Lock()
	defer m.reasonMu.Unlock()
	if m.shutdownReason == "" {
		m.shutdownReason = reason
	}
}

func (m *Monitor) reason() string {
	m.reasonMu.Lock()
	defer m.reasonMu.Unlock()
	if m.shutdownReason == "" {
		return "context_canceled"
	}
	return m.shutdownReason
}
