package voicein

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
)

// Dispatcher injects matched text plus Enter into the assistant's terminal.
//
// Detection priority: tmux (TMUX set and binary on PATH), AppleScript on
// macOS, xdotool on X11. A configured method override skips detection.
type Dispatcher struct {
	method string

	// runCmd is swapped in tests; production runs the real binary.
	runCmd func(ctx context.Context, name string, args ...string) error
}

// NewDispatcher detects the injection method once at construction. override
// forces a method without detection; empty means auto-detect.
func NewDispatcher(override string) *Dispatcher {
	d := &Dispatcher{runCmd: runCommand}
	if override != "" {
		d.method = override
		slog.Info("response dispatch method forced", "method", override)
		return d
	}
	d.method = detectMethod()
	if d.method != "" {
		slog.Info("response dispatch method detected", "method", d.method)
	} else {
		slog.Warn("no response dispatch method available")
	}
	return d
}

// Available reports whether an injection method was found.
func (d *Dispatcher) Available() bool { return d.method != "" }

// Method returns the detected injection method name, empty when unavailable.
func (d *Dispatcher) Method() string { return d.method }

// Dispatch types text followed by Enter into the terminal. Returns an error
// when no method is available or the injection command fails.
func (d *Dispatcher) Dispatch(ctx context.Context, text string) error {
	switch d.method {
	case "tmux":
		return d.runCmd(ctx, "tmux", "send-keys", text, "Enter")

	case "applescript":
		// osascript keystrokes go to the frontmost app; a short delay lets
		// the text land before Enter.
		escaped := escapeAppleScript(text)
		script := "tell application \"System Events\"\n" +
			"    keystroke \"" + escaped + "\"\n" +
			"    delay 0.1\n" +
			"    keystroke return\n" +
			"end tell"
		return d.runCmd(ctx, "osascript", "-e", script)

	case "xdotool":
		if err := d.runCmd(ctx, "xdotool", "type", "--clearmodifiers", text); err != nil {
			return err
		}
		return d.runCmd(ctx, "xdotool", "key", "Return")

	case "":
		return fmt.Errorf("voicein: no dispatch method available")
	default:
		return fmt.Errorf("voicein: unknown dispatch method %q", d.method)
	}
}

func detectMethod() string {
	if os.Getenv("TMUX") != "" {
		if _, err := exec.LookPath("tmux"); err == nil {
			return "tmux"
		}
	}
	if runtime.GOOS == "darwin" {
		if _, err := exec.LookPath("osascript"); err == nil {
			return "applescript"
		}
	}
	if os.Getenv("DISPLAY") != "" {
		if _, err := exec.LookPath("xdotool"); err == nil {
			return "xdotool"
		}
	}
	return ""
}

func runCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("voicein: %s failed: %w (%s)", name, err, string(out))
	}
	return nil
}

func escapeAppleScript(text string) string {
	out := make([]rune, 0, len(text))
	for _, r := range text {
		if r == '\\' || r == '"' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}
