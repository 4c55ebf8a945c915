package monitor

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"planmonitor/internal/alert"
)

// Keys used in the monitor kv table.
const (
	kvPlanHash  = "plan_hash"
	kvLastPlan  = "last_plan"
	kvSessionID = "session_id"
)

// StateStore keeps run history, tick results and alert history in SQLite.
type StateStore struct {
	DBPath string
	db     *sql.DB
}

// Run is one monitor process lifetime.
type Run struct {
	ID          string
	SessionID   string
	StartedAt   time.Time
	FinishedAt  *time.Time
	Status      string
	SummaryJSON string
}

// TickRecord is the stored outcome of one tick.
type TickRecord struct {
	RunID         string
	TickIndex     int
	At            time.Time
	OK            bool
	OverallStatus string
	Phase         string
	Strategy      string
	Error         string
}

// AlertRecord is one stored alert.
type AlertRecord struct {
	RunID     string
	TickIndex int
	alert.Event
}

// OpenState opens or creates the monitor state database.
func OpenState(path string) (*StateStore, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve state db path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("ensure state db dir: %w", err)
	}

	db, err := sql.Open("sqlite", absPath)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}

	store := &StateStore{
		DBPath: absPath,
		db:     db,
	}

	if err := store.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the database connection.
func (s *StateStore) Close() error {
	if s != nil && s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *StateStore) ensureSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS monitor_runs (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT,
	status TEXT NOT NULL,
	summary_json TEXT
);

CREATE TABLE IF NOT EXISTS monitor_ticks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	tick_index INTEGER NOT NULL,
	at TEXT NOT NULL,
	ok INTEGER NOT NULL,
	overall_status TEXT,
	phase TEXT,
	strategy TEXT,
	error TEXT
);

CREATE TABLE IF NOT EXISTS monitor_alerts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	tick_index INTEGER NOT NULL,
	at TEXT NOT NULL,
	kind TEXT NOT NULL,
	severity TEXT NOT NULL,
	rule TEXT,
	message TEXT
);

CREATE INDEX IF NOT EXISTS idx_ticks_run ON monitor_ticks(run_id, tick_index);
CREATE INDEX IF NOT EXISTS idx_alerts_at ON monitor_alerts(at);

CREATE TABLE IF NOT EXISTS monitor_kv (
	key TEXT PRIMARY KEY,
	value TEXT
);
`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("create monitor schema: %w", err)
	}
	return nil
}

// StartRun inserts a running run for sessionID and returns its id.
func (s *StateStore) StartRun(sessionID string, startedAt time.Time) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(`
		INSERT INTO monitor_runs (id, session_id, started_at, status)
		VALUES (?, ?, ?, 'running')
	`, id, sessionID, startedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("start run: %w", err)
	}
	return id, nil
}

// FinishRun marks a run finished with status and a summary.
func (s *StateStore) FinishRun(runID string, finishedAt time.Time, status string, summary any) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	_, err = s.db.Exec(`
		UPDATE monitor_runs
		SET finished_at = ?, status = ?, summary_json = ?
		WHERE id = ?
	`, finishedAt.UTC().Format(time.RFC3339Nano), status, string(summaryJSON), runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// LastRun returns the most recently started run, or nil.
func (s *StateStore) LastRun() (*Run, error) {
	var run Run
	var startedAt string
	var finishedAt, summary sql.NullString
	err := s.db.QueryRow(`
		SELECT id, session_id, started_at, finished_at, status, summary_json
		FROM monitor_runs
		ORDER BY started_at DESC
		LIMIT 1
	`).Scan(&run.ID, &run.SessionID, &startedAt, &finishedAt, &run.Status, &summary)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get last run: %w", err)
	}
	run.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	if finishedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, finishedAt.String)
		run.FinishedAt = &t
	}
	if summary.Valid {
		run.SummaryJSON = summary.String
	}
	return &run, nil
}

// RecordTick stores one tick result.
func (s *StateStore) RecordTick(rec TickRecord) error {
	ok := 0
	if rec.OK {
		ok = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO monitor_ticks (run_id, tick_index, at, ok, overall_status, phase, strategy, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.RunID, rec.TickIndex, rec.At.UTC().Format(time.RFC3339Nano), ok,
		rec.OverallStatus, rec.Phase, rec.Strategy, rec.Error)
	if err != nil {
		return fmt.Errorf("record tick: %w", err)
	}
	return nil
}

// TickCount returns how many ticks a run has recorded, and how many failed.
func (s *StateStore) TickCount(runID string) (total, failed int, err error) {
	err = s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN ok = 0 THEN 1 ELSE 0 END), 0)
		FROM monitor_ticks WHERE run_id = ?
	`, runID).Scan(&total, &failed)
	if err != nil {
		return 0, 0, fmt.Errorf("count ticks: %w", err)
	}
	return total, failed, nil
}

// RecordAlerts stores the events emitted in one tick.
func (s *StateStore) RecordAlerts(runID string, tickIndex int, events []alert.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin alerts: %w", err)
	}
	defer tx.Rollback()

	for _, e := range events {
		_, err := tx.Exec(`
			INSERT INTO monitor_alerts (run_id, tick_index, at, kind, severity, rule, message)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, runID, tickIndex, e.At.UTC().Format(time.RFC3339Nano), string(e.Kind), string(e.Severity), e.Rule, e.Message)
		if err != nil {
			return fmt.Errorf("record alert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit alerts: %w", err)
	}
	return nil
}

// RecentAlerts returns up to limit alerts, newest first.
func (s *StateStore) RecentAlerts(limit int) ([]AlertRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT run_id, tick_index, at, kind, severity, rule, message
		FROM monitor_alerts
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []AlertRecord
	for rows.Next() {
		var rec AlertRecord
		var at, kind, severity string
		var rule, message sql.NullString
		if err := rows.Scan(&rec.RunID, &rec.TickIndex, &at, &kind, &severity, &rule, &message); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		rec.At, _ = time.Parse(time.RFC3339Nano, at)
		rec.Kind = alert.Kind(kind)
		rec.Severity = alert.Severity(severity)
		rec.Rule = rule.String
		rec.Message = message.String
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return out, nil
}

// GetKV retrieves a value from the key-value store.
func (s *StateStore) GetKV(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM monitor_kv WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get kv: %w", err)
	}
	return value, nil
}

// SetKV sets a value in the key-value store.
func (s *StateStore) SetKV(key, value string) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO monitor_kv (key, value)
		VALUES (?, ?)
	`, key, value)
	if err != nil {
		return fmt.Errorf("set kv: %w", err)
	}
	return nil
}

// SessionID returns the session the last monitor process wrote to, or "".
func (s *StateStore) SessionID() (string, error) {
	return s.GetKV(kvSessionID)
}
