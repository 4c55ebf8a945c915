// Package service installs the monitor as a macOS LaunchAgent so it keeps
// running across logins and restarts after a fatal exit.
package service

import (
	"bytes"
	"crypto/sha256"
	"encoding/xml"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"planmonitor/internal/workspace"
)

// Options are the extra arguments baked into the agent's command line.
type Options struct {
	Binary     string
	ConfigPath string
	PlanPath   string
}

// Label returns the LaunchAgent label for a workspace root.
func Label(wsRoot string) string {
	h := sha256.Sum256([]byte(wsRoot))
	return fmt.Sprintf("ai.planmonitor.%x", h[:4])
}

// PlistPath is where the agent definition for wsRoot lives.
func PlistPath(wsRoot string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, "Library", "LaunchAgents", Label(wsRoot)+".plist"), nil
}

// StderrPath is where launchd sends the monitor's diagnostics.
func StderrPath(ws *workspace.Workspace) string {
	return filepath.Join(filepath.Dir(ws.LogPath), "planmonitor.stderr.log")
}

var plistTemplate = template.Must(template.New("plist").Parse(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>{{.Label}}</string>
	<key>ProgramArguments</key>
	<array>
{{- range .Args}}
		<string>{{.}}</string>
{{- end}}
	</array>
	<key>WorkingDirectory</key>
	<string>{{.Root}}</string>
	<key>StandardOutPath</key>
	<string>{{.Log}}</string>
	<key>StandardErrorPath</key>
	<string>{{.Log}}</string>
	<key>KeepAlive</key>
	<dict>
		<key>SuccessfulExit</key>
		<false/>
	</dict>
	<key>RunAtLoad</key>
	<true/>
</dict>
</plist>
`))

// GeneratePlist renders the agent definition that runs the monitor for ws.
// launchd restarts the monitor only when it exits non-zero.
func GeneratePlist(ws *workspace.Workspace, opts Options) (string, error) {
	if ws == nil {
		return "", fmt.Errorf("workspace is nil")
	}
	bin, err := filepath.Abs(opts.Binary)
	if err != nil {
		return "", fmt.Errorf("resolve binary path: %w", err)
	}
	args := []string{bin, "run", "--workspace", ws.Root}
	if opts.ConfigPath != "" {
		p, err := filepath.Abs(opts.ConfigPath)
		if err != nil {
			return "", fmt.Errorf("resolve config path: %w", err)
		}
		args = append(args, "--config", p)
	}
	if opts.PlanPath != "" {
		args = append(args, "--plan", ws.PlanPath)
	}

	var buf bytes.Buffer
	err = plistTemplate.Execute(&buf, struct {
		Label string
		Args  []string
		Root  string
		Log   string
	}{
		Label: Label(ws.Root),
		Args:  escapeAll(args),
		Root:  escape(ws.Root),
		Log:   escape(StderrPath(ws)),
	})
	if err != nil {
		return "", fmt.Errorf("render plist: %w", err)
	}
	return buf.String(), nil
}

// Install writes the agent definition for ws and returns its path.
func Install(ws *workspace.Workspace, opts Options) (string, error) {
	content, err := GeneratePlist(ws, opts)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(StderrPath(ws)), 0o755); err != nil {
		return "", fmt.Errorf("ensure log dir: %w", err)
	}
	path, err := PlistPath(ws.Root)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("ensure LaunchAgents dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write plist: %w", err)
	}
	return path, nil
}

// Uninstall unloads and removes the agent definition for ws.
func Uninstall(ws *workspace.Workspace) error {
	path, err := PlistPath(ws.Root)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("plist not found: %s", path)
	}
	_ = launchctl("unload", path)
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove plist: %w", err)
	}
	return nil
}

// Start loads the agent.
func Start(ws *workspace.Workspace) error {
	path, err := PlistPath(ws.Root)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("plist not found: %s (run 'planmonitor service install' first)", path)
	}
	return launchctl("load", path)
}

// Stop unloads the agent. An agent that is not loaded is not an error.
func Stop(ws *workspace.Workspace) error {
	path, err := PlistPath(ws.Root)
	if err != nil {
		return err
	}
	err = launchctl("unload", path)
	if err != nil && strings.Contains(err.Error(), "Could not find specified service") {
		return nil
	}
	return err
}

// IsLoaded reports whether launchd knows the agent for ws.
func IsLoaded(ws *workspace.Workspace) (bool, error) {
	out, err := exec.Command("launchctl", "list").CombinedOutput()
	if err != nil {
		return false, fmt.Errorf("launchctl list failed: %w", err)
	}
	return strings.Contains(string(out), Label(ws.Root)), nil
}

func launchctl(verb, path string) error {
	out, err := exec.Command("launchctl", verb, path).CombinedOutput()
	if err != nil {
		return fmt.Errorf("launchctl %s failed: %w\nOutput: %s", verb, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func escape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

func escapeAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = escape(s)
	}
	return out
}
