package fsutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteFileAtomicReplacesAndCleansUp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "plan.json")

	if err := WriteFileAtomic(path, []byte("first"), 0o644); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := WriteFileAtomic(path, []byte("second"), 0o644); err != nil {
		t.Fatalf("second write: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "second" {
		t.Fatalf("contents = %q, want %q", got, "second")
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	for _, ent := range entries {
		if strings.Contains(ent.Name(), ".tmp-") {
			t.Fatalf("temp file left behind: %s", ent.Name())
		}
	}
}

func TestAppendFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log", "monitor.log")
	if err := AppendFile(path, []byte("a\n")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := AppendFile(path, []byte("b\n")); err != nil {
		t.Fatalf("append: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "a\nb\n" {
		t.Fatalf("contents = %q, want %q", got, "a\nb\n")
	}
}

func TestWriteFileAtomicRequiresPath(t *testing.T) {
	if err := WriteFileAtomic("", nil, 0o644); err == nil {
		t.Fatal("expected error for empty path")
	}
}
