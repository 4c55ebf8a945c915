package monitor

import (
	"path/filepath"
	"testing"
	"time"

	"planmonitor/internal/alert"
)

func TestStateStoreRuns(t *testing.T) {
	store, err := OpenState(filepath.Join(t.TempDir(), "state", "monitor.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	if run, err := store.LastRun(); err != nil || run != nil {
		t.Fatalf("expected no runs, got %+v, %v", run, err)
	}

	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	runID, err := store.StartRun("plan_20260314_abcd1234", start)
	if err != nil {
		t.Fatalf("start run: %v", err)
	}

	for i, ok := range []bool{true, false, true} {
		rec := TickRecord{RunID: runID, TickIndex: i + 1, At: start.Add(time.Duration(i) * time.Second), OK: ok}
		if !ok {
			rec.Error = "read plan: permission denied"
		}
		if err := store.RecordTick(rec); err != nil {
			t.Fatalf("record tick: %v", err)
		}
	}
	total, failed, err := store.TickCount(runID)
	if err != nil {
		t.Fatalf("tick count: %v", err)
	}
	if total != 3 || failed != 1 {
		t.Errorf("tick count = %d/%d, want 3/1", total, failed)
	}

	if err := store.FinishRun(runID, start.Add(time.Minute), "stopped", map[string]any{"reason": "ticks_completed"}); err != nil {
		t.Fatalf("finish run: %v", err)
	}
	run, err := store.LastRun()
	if err != nil {
		t.Fatalf("last run: %v", err)
	}
	if run.ID != runID || run.Status != "stopped" || run.FinishedAt == nil {
		t.Errorf("unexpected run: %+v", run)
	}
	if run.SummaryJSON != `{"reason":"ticks_completed"}` {
		t.Errorf("summary = %s", run.SummaryJSON)
	}
}

func TestStateStoreAlertsNewestFirst(t *testing.T) {
	store, err := OpenState(filepath.Join(t.TempDir(), "monitor.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	if err := store.RecordAlerts("run", 1, []alert.Event{
		{Kind: alert.KindHarmonyThresholdCrossed, Severity: alert.SeverityWarn, Rule: "HarmonyApproachingTarget", Message: "approaching", At: at},
	}); err != nil {
		t.Fatalf("record alerts: %v", err)
	}
	if err := store.RecordAlerts("run", 2, []alert.Event{
		{Kind: alert.KindBudgetExceeded, Severity: alert.SeverityCritical, Rule: "BudgetExceeded", Message: "over", At: at.Add(time.Second)},
	}); err != nil {
		t.Fatalf("record alerts: %v", err)
	}
	if err := store.RecordAlerts("run", 3, nil); err != nil {
		t.Fatalf("record empty alerts: %v", err)
	}

	got, err := store.RecentAlerts(10)
	if err != nil {
		t.Fatalf("recent alerts: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(got))
	}
	if got[0].Kind != alert.KindBudgetExceeded || got[0].TickIndex != 2 {
		t.Errorf("newest alert = %+v", got[0])
	}
	if !got[1].At.Equal(at) {
		t.Errorf("alert time = %v, want %v", got[1].At, at)
	}
}

func TestStateStoreKV(t *testing.T) {
	store, err := OpenState(filepath.Join(t.TempDir(), "monitor.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	if v, err := store.GetKV(kvPlanHash); err != nil || v != "" {
		t.Fatalf("expected empty value, got %q, %v", v, err)
	}
	if err := store.SetKV(kvPlanHash, "abc"); err != nil {
		t.Fatalf("set kv: %v", err)
	}
	if err := store.SetKV(kvPlanHash, "def"); err != nil {
		t.Fatalf("overwrite kv: %v", err)
	}
	if v, _ := store.GetKV(kvPlanHash); v != "def" {
		t.Errorf("kv = %q, want def", v)
	}
}

func TestStateStoreSessionID(t *testing.T) {
	store, err := OpenState(filepath.Join(t.TempDir(), "monitor.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	if err := store.SetKV(kvSessionID, "plan_20260314_abcd1234"); err != nil {
		t.Fatalf("set session: %v", err)
	}
	got, err := store.SessionID()
	if err != nil || got != "plan_20260314_abcd1234" {
		t.Errorf("session id = %q, %v", got, err)
	}
}
