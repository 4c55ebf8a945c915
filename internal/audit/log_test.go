package audit

import (
	"encoding/json"
	"path/filepath"
	"testing"
)

func TestLogEventAndRecent(t *testing.T) {
	l := NewLogger(filepath.Join(t.TempDir(), "nested", "audit.sqlite"))

	if err := l.LogEvent("monitor", TypeMonitorStarted, map[string]any{"session_id": "s1"}); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := l.LogEvent("monitor", TypeTickCompleted, map[string]any{"tick": i}); err != nil {
			t.Fatalf("LogEvent: %v", err)
		}
	}

	all, err := l.Recent("", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("len(all) = %d, want 4", len(all))
	}
	if all[0].Type != TypeTickCompleted {
		t.Fatalf("newest type = %s, want %s", all[0].Type, TypeTickCompleted)
	}

	ticks, err := l.Recent(TypeTickCompleted, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(ticks) != 2 {
		t.Fatalf("len(ticks) = %d, want 2", len(ticks))
	}
	var payload struct {
		Tick int `json:"tick"`
	}
	if err := json.Unmarshal(ticks[0].Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.Tick != 2 {
		t.Fatalf("tick = %d, want 2", payload.Tick)
	}
}

func TestRecentOnEmptyDB(t *testing.T) {
	l := NewLogger(filepath.Join(t.TempDir(), "audit.sqlite"))
	events, err := l.Recent("", 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("len(events) = %d, want 0", len(events))
	}
}
