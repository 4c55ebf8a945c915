package integration_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"planmonitor/integration/harness"
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func TestColdStartSmoke(t *testing.T) {
	bin := harness.BuildBinary(t)
	ws := t.TempDir()

	_, stderr, code := harness.Run(t, bin, ws, []string{"--workspace", ws, "--ticks", "1"})
	if code != 0 {
		t.Fatalf("run exited %d\nstderr:\n%s", code, stderr)
	}

	var st map[string]any
	if err := json.Unmarshal([]byte(readFile(t, filepath.Join(ws, "plan.json"))), &st); err != nil {
		t.Fatalf("decode plan: %v", err)
	}
	if st["overall_status"] != "initialized" || st["current_phase"] != "phase_0" {
		t.Fatalf("unexpected skeleton: status=%v phase=%v", st["overall_status"], st["current_phase"])
	}

	logText := readFile(t, filepath.Join(ws, "log", "monitor.log"))
	if n := strings.Count(logText, "MONITORING UPDATE"); n != 1 {
		t.Fatalf("expected one update block, got %d:\n%s", n, logText)
	}
	if strings.Contains(logText, "CRITICAL") {
		t.Fatalf("cold start raised a critical alert:\n%s", logText)
	}
	if !strings.Contains(readFile(t, filepath.Join(ws, "reports", "progress.md")), "Master Test Plan Execution Report") {
		t.Fatal("report title missing")
	}

	requireAuditEvents(t, filepath.Join(ws, "state", "audit.sqlite"), []string{
		"monitor_started",
		"tick_completed",
		"monitor_stopped",
	})
}

func TestVersionFlag(t *testing.T) {
	bin := harness.BuildBinary(t)
	stdout, stderr, code := harness.Run(t, bin, t.TempDir(), []string{"--version"})
	if code != 0 {
		t.Fatalf("--version exited %d\nstderr:\n%s", code, stderr)
	}
	if !strings.Contains(stdout, harness.Version) {
		t.Fatalf("--version = %q, want %q", stdout, harness.Version)
	}
}

func TestBudgetOverrunSmoke(t *testing.T) {
	bin := harness.BuildBinary(t)
	ws := t.TempDir()
	harness.CopyFixture(t, "overrun", ws)

	_, stderr, code := harness.Run(t, bin, ws, []string{
		"--config", filepath.Join(ws, "monitor.yaml"),
		"--workspace", ws,
		"--ticks", "1",
	})
	if code != 0 {
		t.Fatalf("run exited %d\nstderr:\n%s", code, stderr)
	}

	logText := readFile(t, filepath.Join(ws, "log", "monitor.log"))
	for _, want := range []string{
		"BudgetExceeded CRITICAL",
		"HarmonyThresholdCrossed WARN",
		"HealthDegraded WARN: unhealthy: queue",
	} {
		if !strings.Contains(logText, want) {
			t.Errorf("log missing %q:\n%s", want, logText)
		}
	}

	plan := readFile(t, filepath.Join(ws, "plan.json"))
	if !strings.Contains(plan, `"operator_notes": "kept verbatim across monitor writes"`) {
		t.Errorf("unknown plan field lost:\n%s", plan)
	}

	var metrics struct {
		Derived struct {
			TokenBudget struct {
				Used int `json:"used"`
			} `json:"token_budget"`
		} `json:"derived"`
	}
	if err := json.Unmarshal([]byte(readFile(t, filepath.Join(ws, "reports", "metrics.json"))), &metrics); err != nil {
		t.Fatalf("decode metrics: %v", err)
	}
	if metrics.Derived.TokenBudget.Used != 1200 {
		t.Errorf("token usage = %d, want 1200", metrics.Derived.TokenBudget.Used)
	}

	types := loadAuditTypes(t, filepath.Join(ws, "state", "audit.sqlite"))
	if types["alert"] < 3 {
		t.Errorf("expected at least 3 alert audit events, got %d", types["alert"])
	}
}

func TestHarmonyTargetAndTransitionSmoke(t *testing.T) {
	bin := harness.BuildBinary(t)
	ws := t.TempDir()
	harness.CopyFixture(t, "harmony", ws)

	_, stderr, code := harness.Run(t, bin, ws, []string{"--workspace", ws, "--ticks", "1"})
	if code != 0 {
		t.Fatalf("run exited %d\nstderr:\n%s", code, stderr)
	}

	logText := readFile(t, filepath.Join(ws, "log", "monitor.log"))
	if !strings.Contains(logText, "HarmonyThresholdCrossed INFO: target exceeded") {
		t.Errorf("missing target exceeded alert:\n%s", logText)
	}
	if !strings.Contains(logText, "status initialized -> awaiting_authorization") {
		t.Errorf("missing forced transition:\n%s", logText)
	}
	if !strings.Contains(readFile(t, filepath.Join(ws, "plan.json")), `"overall_status": "awaiting_authorization"`) {
		t.Error("transition not persisted")
	}
	report := readFile(t, filepath.Join(ws, "reports", "progress.md"))
	if !strings.Contains(report, "phase_1") || !strings.Contains(report, "Operator Decision Points") {
		t.Errorf("decision point missing from report:\n%s", report)
	}
	requireAuditEvents(t, filepath.Join(ws, "state", "audit.sqlite"), []string{"status_transition", "alert"})
}

func TestCheckpointResumeSmoke(t *testing.T) {
	bin := harness.BuildBinary(t)
	ws := t.TempDir()
	args := []string{"--workspace", ws, "--ticks", "2"}

	if _, stderr, code := harness.Run(t, bin, ws, args); code != 0 {
		t.Fatalf("first run exited %d\nstderr:\n%s", code, stderr)
	}
	if _, stderr, code := harness.Run(t, bin, ws, []string{"--workspace", ws, "--ticks", "1"}); code != 0 {
		t.Fatalf("second run exited %d\nstderr:\n%s", code, stderr)
	}

	blocks := strings.Split(readFile(t, filepath.Join(ws, "log", "monitor.log")), "MONITORING UPDATE")
	if len(blocks) != 4 {
		t.Fatalf("expected 3 update blocks, got %d", len(blocks)-1)
	}
	if !strings.Contains(blocks[3], "loaded checkpoint") || !strings.Contains(blocks[3], "tick_index=2") {
		t.Errorf("resumed block does not report the checkpoint:\n%s", blocks[3])
	}
	if !strings.Contains(blocks[3], "tick=3") {
		t.Errorf("tick numbering did not continue:\n%s", blocks[3])
	}

	stdout, stderr, code := harness.Run(t, bin, ws, []string{"status", "--workspace", ws})
	if code != 0 {
		t.Fatalf("status exited %d\nstderr:\n%s", code, stderr)
	}
	if !strings.Contains(stdout, "tick_index=3") {
		t.Errorf("status does not show the latest checkpoint:\n%s", stdout)
	}
	requireAuditEvents(t, filepath.Join(ws, "state", "audit.sqlite"), []string{"checkpoint_loaded"})
}

func TestSignalShutdownSmoke(t *testing.T) {
	bin := harness.BuildBinary(t)
	ws := t.TempDir()

	proc := harness.Start(t, bin, ws, []string{"--workspace", ws})
	harness.WaitForFile(t, filepath.Join(ws, "reports", "metrics.json"), 10*time.Second)

	// A second monitor on the same workspace is refused.
	_, stderr, code := harness.Run(t, bin, ws, []string{"--workspace", ws, "--ticks", "1"})
	if code == 0 || !strings.Contains(stderr, "already running") {
		t.Errorf("second instance: code=%d stderr=%s", code, stderr)
	}

	proc.Signal(t, syscall.SIGTERM)
	_, stderr, code = proc.Wait(t, 10*time.Second)
	if code != 0 {
		t.Fatalf("monitor exited %d after SIGTERM\nstderr:\n%s", code, stderr)
	}

	stdout, _, _ := harness.Run(t, bin, ws, []string{"status", "--workspace", ws})
	if !strings.Contains(stdout, "shutdown_reason=signal:terminated") {
		t.Errorf("shutdown reason not recorded:\n%s", stdout)
	}
}
