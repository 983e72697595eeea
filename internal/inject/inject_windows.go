//go:build windows

package inject

import (
	"fmt"
	"log/slog"
	"runtime"
	"unicode/utf16"
	"unsafe"

	"github.com/atotto/clipboard"
	"golang.org/x/sys/windows"
)

var (
	user32 = windows.NewLazySystemDLL("user32.dll")
	ole32  = windows.NewLazySystemDLL("ole32.dll")

	procGetForegroundWindow = user32.NewProc("GetForegroundWindow")
	procGetWindowTextW      = user32.NewProc("GetWindowTextW")
	procSendInput           = user32.NewProc("SendInput")
	procCoInitializeEx      = ole32.NewProc("CoInitializeEx")
)

const (
	coinitApartmentThreaded = 0x2

	inputKeyboard    = 1
	keyeventfUnicode = 0x0004
	keyeventfKeyUp   = 0x0002
	keyeventfScancode = 0x0008

	vkBack   = 0x08
	vkDelete = 0x2E
	vkReturn = 0x0D
	vkHome   = 0x24
	vkShift  = 0x10
)

// windows input structs mirror the win32 INPUT/KEYBDINPUT layout
// (https://learn.microsoft.com/windows/win32/api/winuser/ns-winuser-input).
type keybdInput struct {
	wVk         uint16
	wScan       uint16
	dwFlags     uint32
	time        uint32
	dwExtraInfo uintptr
}

type input struct {
	inputType uint32
	ki        keybdInput
	padding   uint64 // INPUT is a union sized to its largest member (MOUSEINPUT); pad to match
}

// backend drives the Win32/COM accessibility and input surface. It is
// constructed once per process. COM is initialized on the OS thread that
// calls Init (the goroutine that constructs the injector); the engine's
// injector loop runs on a different goroutine, so later calls are not
// made from that COM apartment thread.
type backend struct{}

// newPlatformBackend returns the Windows backend.
func newPlatformBackend() *backend { return &backend{} }

// Init locks the calling goroutine to its OS thread and initializes COM in
// single-threaded-apartment mode.
func (b *backend) Init() error {
	runtime.LockOSThread()
	hr, _, _ := procCoInitializeEx.Call(0, uintptr(coinitApartmentThreaded))
	if int32(hr) < 0 && uint32(hr) != 0x80010106 { // RPC_E_CHANGED_MODE tolerated if already STA
		return fmt.Errorf("CoInitializeEx failed: 0x%08X", uint32(hr))
	}
	return nil
}

func (b *backend) ForegroundWindowTitle() (string, error) {
	hwnd, _, _ := procGetForegroundWindow.Call()
	if hwnd == 0 {
		return "", fmt.Errorf("no foreground window")
	}
	buf := make([]uint16, 512)
	n, _, _ := procGetWindowTextW.Call(hwnd, uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	if n == 0 {
		return "", nil
	}
	return windows.UTF16ToString(buf[:n]), nil
}

// FocusedElementInfo is a best-effort accessibility probe. A full
// IUIAutomation walk (GetFocusedElement -> CurrentControlType /
// CurrentIsKeyboardFocusable / value pattern) requires a COM object whose
// exact vtable layout we have no vendored/verified reference for in this
// module's dependency set; rather than guess at unverified COM surface we
// fail closed, which the caller already treats as "gate did not pass" (the
// safety invariant never types into a control we couldn't positively
// confirm is editable).
func (b *backend) FocusedElementInfo() (ElementInfo, error) {
	return ElementInfo{}, fmt.Errorf("accessibility probe unavailable")
}

// SendUnicodeText synthesizes a unicode scancode key-down/key-up pair per
// UTF-16 code unit and submits the batch in one SendInput call.
func (b *backend) SendUnicodeText(text string) error {
	units := utf16.Encode([]rune(text))
	events := make([]input, 0, len(units)*2)
	for _, u := range units {
		events = append(events,
			input{inputType: inputKeyboard, ki: keybdInput{wScan: u, dwFlags: keyeventfUnicode}},
			input{inputType: inputKeyboard, ki: keybdInput{wScan: u, dwFlags: keyeventfUnicode | keyeventfKeyUp}},
		)
	}
	return sendInputBatch(events)
}

func (b *backend) SendControlKey(key ControlKey) error {
	switch key {
	case KeyBackspace:
		return sendVK(vkBack)
	case KeyDelete:
		return sendVK(vkDelete)
	case KeyEnter:
		return sendVK(vkReturn)
	case KeyDeleteLine:
		// Shift+Home (select to line start) then Backspace.
		if err := sendInputBatch([]input{
			{inputType: inputKeyboard, ki: keybdInput{wVk: vkShift}},
			{inputType: inputKeyboard, ki: keybdInput{wVk: vkHome}},
			{inputType: inputKeyboard, ki: keybdInput{wVk: vkHome, dwFlags: keyeventfKeyUp}},
			{inputType: inputKeyboard, ki: keybdInput{wVk: vkShift, dwFlags: keyeventfKeyUp}},
		}); err != nil {
			return err
		}
		return sendVK(vkBack)
	default:
		return fmt.Errorf("unsupported control key %d", key)
	}
}

func (b *backend) ClipboardPaste(text string) error {
	if err := clipboard.WriteAll(text); err != nil {
		return fmt.Errorf("clipboard write: %w", err)
	}
	return sendPasteChord()
}

// AccessibilityAppend would read-append-write the focused element's value
// facet; without a verified IUIAutomation vtable to drive, it always falls
// through to the next strategy (unicode keystrokes).
func (b *backend) AccessibilityAppend(text string) error {
	return fmt.Errorf("accessibility value-set unavailable")
}

// SkipGate is false: SendInput types into whatever has keyboard focus
// regardless of whether it's actually a text control, so the accessibility
// gate is the only thing standing between a transcription and an
// unintended keystroke stream landing in the wrong widget.
func (b *backend) SkipGate() bool { return false }

func sendVK(vk uint16) error {
	return sendInputBatch([]input{
		{inputType: inputKeyboard, ki: keybdInput{wVk: vk}},
		{inputType: inputKeyboard, ki: keybdInput{wVk: vk, dwFlags: keyeventfKeyUp}},
	})
}

func sendPasteChord() error {
	const vkControl = 0x11
	const vkV = 0x56
	return sendInputBatch([]input{
		{inputType: inputKeyboard, ki: keybdInput{wVk: vkControl}},
		{inputType: inputKeyboard, ki: keybdInput{wVk: vkV}},
		{inputType: inputKeyboard, ki: keybdInput{wVk: vkV, dwFlags: keyeventfKeyUp}},
		{inputType: inputKeyboard, ki: keybdInput{wVk: vkControl, dwFlags: keyeventfKeyUp}},
	})
}

func sendInputBatch(events []input) error {
	if len(events) == 0 {
		return nil
	}
	n, _, err := procSendInput.Call(
		uintptr(len(events)),
		uintptr(unsafe.Pointer(&events[0])),
		unsafe.Sizeof(events[0]),
	)
	if n != uintptr(len(events)) {
		slog.Debug("SendInput delivered fewer events than requested", "sent", n, "want", len(events))
		return fmt.Errorf("SendInput: %w", err)
	}
	return nil
}
