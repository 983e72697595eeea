//go:build linux

package inject

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/atotto/clipboard"
)

// backend drives X11 input via xdotool, shelling out to a platform CLI
// tool rather than binding a windowing library this module doesn't
// otherwise need. xdotool is X11 only; a Wayland backend would need a
// portal-specific implementation and is out of scope here.
type backend struct{}

func newPlatformBackend() *backend { return &backend{} }

func (b *backend) Init() error {
	if _, err := exec.LookPath("xdotool"); err != nil {
		return fmt.Errorf("xdotool not found in PATH: %w", err)
	}
	return nil
}

func (b *backend) ForegroundWindowTitle() (string, error) {
	out, err := runXdotool("getactivewindow", "getwindowname")
	if err != nil {
		return "", err
	}
	return out, nil
}

// FocusedElementInfo has no AT-SPI-based implementation here (a verified
// AT-SPI binding isn't part of this module's dependency set), so it fails
// closed like the other platforms' unverified-accessibility paths.
func (b *backend) FocusedElementInfo() (ElementInfo, error) {
	return ElementInfo{}, fmt.Errorf("accessibility probe unavailable")
}

func (b *backend) SendUnicodeText(text string) error {
	if text == "" {
		return nil
	}
	_, err := runXdotool("type", "--clearmodifiers", "--", text)
	return err
}

func (b *backend) SendControlKey(key ControlKey) error {
	switch key {
	case KeyBackspace:
		_, err := runXdotool("key", "BackSpace")
		return err
	case KeyDelete:
		_, err := runXdotool("key", "Delete")
		return err
	case KeyEnter:
		_, err := runXdotool("key", "Return")
		return err
	case KeyDeleteLine:
		if _, err := runXdotool("key", "shift+Home"); err != nil {
			return err
		}
		_, err := runXdotool("key", "BackSpace")
		return err
	default:
		return fmt.Errorf("unsupported control key %d", key)
	}
}

func (b *backend) ClipboardPaste(text string) error {
	if err := clipboard.WriteAll(text); err != nil {
		return fmt.Errorf("clipboard write: %w", err)
	}
	_, err := runXdotool("key", "ctrl+v")
	return err
}

func (b *backend) AccessibilityAppend(text string) error {
	return fmt.Errorf("accessibility value-set unavailable")
}

// SkipGate is false: xdotool types into whatever window has X11 input
// focus with no regard for control kind, so the accessibility gate is the
// only check standing between a transcription and the wrong widget.
func (b *backend) SkipGate() bool { return false }

func runXdotool(args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "xdotool", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("xdotool %v: %w (%s)", args, err, stderr.String())
	}
	return string(bytes.TrimSpace(stdout.Bytes())), nil
}
