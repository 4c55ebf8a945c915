package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"planmonitor/internal/config"
)

// Workspace holds the absolute locations of every file the monitor touches.
type Workspace struct {
	Root          string
	PlanPath      string
	LogPath       string
	MetricsPath   string
	ReportPath    string
	CheckpointDir string
	StateDBPath   string
	AuditDBPath   string
	LockPath      string
}

// Resolve expands the workspace root, creating it when missing, and
// resolves each configured path against it.
func Resolve(root string, paths config.Paths) (*Workspace, error) {
	abs, err := resolveRoot(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root is not a directory: %s", abs)
	}

	w := &Workspace{Root: abs}
	targets := []struct {
		dst *string
		src string
	}{
		{&w.PlanPath, paths.Plan},
		{&w.LogPath, paths.Log},
		{&w.MetricsPath, paths.Metrics},
		{&w.ReportPath, paths.Report},
		{&w.CheckpointDir, paths.Checkpoints},
		{&w.StateDBPath, paths.StateDB},
		{&w.AuditDBPath, paths.AuditDB},
		{&w.LockPath, paths.Lock},
	}
	for _, t := range targets {
		p, err := w.ResolvePath(t.src)
		if err != nil {
			return nil, err
		}
		*t.dst = p
	}
	return w, nil
}

// ResolveRoot resolves the workspace root without requiring it to exist.
func ResolveRoot(root string) (string, error) {
	return resolveRoot(root)
}

// EnsureDirs creates the parent directories of every monitor file.
func (w *Workspace) EnsureDirs() error {
	if w == nil {
		return fmt.Errorf("workspace is nil")
	}
	dirs := []string{
		filepath.Dir(w.PlanPath),
		filepath.Dir(w.LogPath),
		filepath.Dir(w.MetricsPath),
		filepath.Dir(w.ReportPath),
		w.CheckpointDir,
		filepath.Dir(w.StateDBPath),
		filepath.Dir(w.AuditDBPath),
		filepath.Dir(w.LockPath),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure %s: %w", dir, err)
		}
	}
	return nil
}

// ResolvePath returns an absolute path, resolving relative paths from the workspace root.
func (w *Workspace) ResolvePath(path string) (string, error) {
	if w == nil {
		return "", fmt.Errorf("workspace is nil")
	}
	if strings.TrimSpace(path) == "" {
		return "", nil
	}
	expanded, err := expandHome(path)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(expanded) {
		return filepath.Clean(expanded), nil
	}
	return filepath.Abs(filepath.Join(w.Root, expanded))
}

func resolveRoot(root string) (string, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return "", fmt.Errorf("workspace root is required")
	}
	expanded, err := expandHome(root)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("resolve workspace: %w", err)
	}
	return abs, nil
}

func expandHome(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:]), nil
	}
	return "", fmt.Errorf("unsupported home expansion: %s", path)
}
