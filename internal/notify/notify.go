package notify

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"planmonitor/internal/alert"
)

// Notifier sends system notifications.
type Notifier struct {
	Enabled bool
	// MinSeverity drops alerts below this level. Empty means warn.
	MinSeverity alert.Severity

	// run executes the platform command; tests replace it.
	run func(name string, args ...string) error
}

// Send sends a system notification.
// macOS uses osascript, Linux uses notify-send. Other platforms are a no-op.
func (n *Notifier) Send(title, message string) error {
	if n == nil || !n.Enabled {
		return nil
	}

	run := n.run
	if run == nil {
		run = runCommand
	}

	switch runtime.GOOS {
	case "darwin":
		title = strings.ReplaceAll(title, `"`, `\"`)
		message = strings.ReplaceAll(message, `"`, `\"`)
		script := fmt.Sprintf(`display notification "%s" with title "%s"`, message, title)
		return run("osascript", "-e", script)
	case "linux":
		return run("notify-send", "--app-name=planmonitor", title, message)
	default:
		return nil
	}
}

// SendAlert notifies about ev when it meets MinSeverity.
func (n *Notifier) SendAlert(ev alert.Event) error {
	if n == nil || !n.Enabled {
		return nil
	}
	minSev := n.MinSeverity
	if minSev == "" {
		minSev = alert.SeverityWarn
	}
	if ev.Severity.Rank() < minSev.Rank() {
		return nil
	}
	title, message := FormatAlert(ev)
	return n.Send(title, message)
}

func runCommand(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	return nil
}

// FormatAlert formats an alert event notification.
func FormatAlert(ev alert.Event) (title, message string) {
	switch ev.Severity {
	case alert.SeverityCritical:
		title = "🚨 Plan Monitor: " + string(ev.Kind)
	case alert.SeverityWarn:
		title = "⚠️ Plan Monitor: " + string(ev.Kind)
	default:
		title = "ℹ️ Plan Monitor: " + string(ev.Kind)
	}
	return title, ev.Message
}

// FormatTransition formats an overall status change notification.
func FormatTransition(executionID, from, to string) (title, message string) {
	switch to {
	case "completed":
		title = "✅ Plan Complete"
		message = fmt.Sprintf("%s: all phases completed", executionID)
	case "awaiting_authorization":
		title = "🔐 Plan Awaiting Authorization"
		message = fmt.Sprintf("%s: %s → %s, operator approval needed", executionID, from, to)
	default:
		title = "📊 Plan Status Update"
		message = fmt.Sprintf("%s: %s → %s", executionID, from, to)
	}
	return title, message
}

// FormatFatal formats the notification sent before the monitor exits on error.
func FormatFatal(sessionID string, consecutive int, err error) (title, message string) {
	title = "🛑 Plan Monitor Stopped"
	message = fmt.Sprintf("%s: %d consecutive tick failures, last: %v", sessionID, consecutive, err)
	return title, message
}
