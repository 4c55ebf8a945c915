package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
)

// Version is stamped into the test binary so tests can tell it apart from
// an installed planmonitor.
const Version = "integration"

const binaryName = "planmonitor"

var moduleRoot = sync.OnceValues(func() (string, error) {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return "", errors.New("runtime.Caller failed")
	}
	for dir := filepath.Dir(file); ; dir = filepath.Dir(dir) {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		if parent := filepath.Dir(dir); parent == dir {
			return "", fmt.Errorf("no go.mod above %s", file)
		}
	}
})

var binary = sync.OnceValues(func() (string, error) {
	root, err := moduleRoot()
	if err != nil {
		return "", err
	}
	dir, err := os.MkdirTemp("", binaryName+"-bin-")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	out := filepath.Join(dir, binaryName)
	cmd := exec.Command("go", "build",
		"-ldflags", "-X main.version="+Version,
		"-o", out, "./cmd/"+binaryName)
	cmd.Dir = root
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("go build: %w\nstderr:\n%s", err, stderr.String())
	}
	return out, nil
})

// RepoRoot returns the directory holding go.mod.
func RepoRoot(t *testing.T) string {
	t.Helper()
	root, err := moduleRoot()
	if err != nil {
		t.Fatalf("resolve repo root: %v", err)
	}
	return root
}

// BuildBinary compiles cmd/planmonitor once per test run, stamped with
// Version, and returns its path.
func BuildBinary(t *testing.T) string {
	t.Helper()
	path, err := binary()
	if err != nil {
		t.Fatalf("build %s binary: %v", binaryName, err)
	}
	return path
}

// Fixture returns the path of the named directory under integration/testdata.
// It fails the test when the fixture does not exist.
func Fixture(t *testing.T, name string) string {
	t.Helper()
	dir := filepath.Join(RepoRoot(t), "integration", "testdata", name)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("fixture %s: not a directory under integration/testdata", name)
	}
	return dir
}
