package monitor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPlanWatcherSignalsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.json")
	if err := os.WriteFile(path, []byte(`{}`), 0o644); err != nil {
		t.Fatalf("write plan: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w, err := NewPlanWatcher(ctx, path, 50*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer w.Close()

	// Unrelated files in the same directory are ignored.
	if err := os.WriteFile(filepath.Join(dir, "other.json"), []byte(`{}`), 0o644); err != nil {
		t.Fatalf("write other: %v", err)
	}
	select {
	case <-w.Changes():
		t.Fatal("unexpected change for unrelated file")
	case <-time.After(200 * time.Millisecond):
	}

	// A burst of writes collapses into one signal.
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte(`{"n":1}`), 0o644); err != nil {
			t.Fatalf("modify plan: %v", err)
		}
	}
	select {
	case <-w.Changes():
	case <-time.After(2 * time.Second):
		t.Fatal("expected a change signal")
	}
	select {
	case <-w.Changes():
		t.Fatal("expected writes to be debounced into one signal")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestHashFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.json")

	sum, err := hashFile(path)
	if err != nil || sum != "" {
		t.Fatalf("missing file: got %q, %v", sum, err)
	}
	if err := os.WriteFile(path, []byte("abc"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	sum, err = hashFile(path)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if sum != hashBytes([]byte("abc")) {
		t.Errorf("hash mismatch: %s", sum)
	}
}
