package harness

import (
	"bytes"
	"os"
	"os/exec"
	"testing"
	"time"
)

// Run executes the CLI in the provided working directory and waits for it.
func Run(t *testing.T, binPath, workDir string, args []string) (string, string, int) {
	t.Helper()

	cmd := exec.Command(binPath, args...)
	cmd.Dir = workDir
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.String(), stderr.String(), exitCode(t, binPath, err)
}

// Process is a CLI invocation running in the background.
type Process struct {
	cmd    *exec.Cmd
	stdout bytes.Buffer
	stderr bytes.Buffer
	done   chan error
}

// Start launches the CLI without waiting. The process is killed at test
// cleanup if it is still running.
func Start(t *testing.T, binPath, workDir string, args []string) *Process {
	t.Helper()

	p := &Process{done: make(chan error, 1)}
	p.cmd = exec.Command(binPath, args...)
	p.cmd.Dir = workDir
	p.cmd.Stdout = &p.stdout
	p.cmd.Stderr = &p.stderr
	if err := p.cmd.Start(); err != nil {
		t.Fatalf("start %s: %v", binPath, err)
	}
	go func() { p.done <- p.cmd.Wait() }()
	t.Cleanup(func() {
		if p.cmd.ProcessState == nil {
			_ = p.cmd.Process.Kill()
		}
	})
	return p
}

// Signal sends sig to the process.
func (p *Process) Signal(t *testing.T, sig os.Signal) {
	t.Helper()
	if err := p.cmd.Process.Signal(sig); err != nil {
		t.Fatalf("signal process: %v", err)
	}
}

// Wait blocks until the process exits or timeout passes.
func (p *Process) Wait(t *testing.T, timeout time.Duration) (string, string, int) {
	t.Helper()
	select {
	case err := <-p.done:
		return p.stdout.String(), p.stderr.String(), exitCode(t, p.cmd.Path, err)
	case <-time.After(timeout):
		_ = p.cmd.Process.Kill()
		t.Fatalf("process did not exit within %s\nstderr:\n%s", timeout, p.stderr.String())
		return "", "", -1
	}
}

// WaitForFile polls until path exists.
func WaitForFile(t *testing.T, path string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", path)
}

func exitCode(t *testing.T, binPath string, err error) int {
	t.Helper()
	if err == nil {
		return 0
	}
	if ee, ok := err.(*exec.ExitError); ok {
		return ee.ExitCode()
	}
	t.Fatalf("run %s: %v", binPath, err)
	return -1
}
