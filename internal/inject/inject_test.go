package inject

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/flowtype/dictation/internal/settings"
)

// fakeBackend records calls instead of touching the OS, so the pipeline
// logic is testable on any platform.
type fakeBackend struct {
	title        string
	elementInfo  ElementInfo
	elementErr   error
	failUnicode  bool
	failClipAttr bool
	failAccess   bool
	skipGate     bool

	unicodeCalls   []string
	clipboardCalls []string
	accessCalls    []string
	controlKeys    []ControlKey
}

func (f *fakeBackend) Init() error { return nil }

func (f *fakeBackend) ForegroundWindowTitle() (string, error) { return f.title, nil }

func (f *fakeBackend) FocusedElementInfo() (ElementInfo, error) {
	return f.elementInfo, f.elementErr
}

func (f *fakeBackend) SendUnicodeText(text string) error {
	if f.failUnicode {
		return fmt.Errorf("unicode synthesis unavailable")
	}
	f.unicodeCalls = append(f.unicodeCalls, text)
	return nil
}

func (f *fakeBackend) SendControlKey(key ControlKey) error {
	f.controlKeys = append(f.controlKeys, key)
	return nil
}

func (f *fakeBackend) ClipboardPaste(text string) error {
	if f.failClipAttr {
		return fmt.Errorf("clipboard unavailable")
	}
	f.clipboardCalls = append(f.clipboardCalls, text)
	return nil
}

func (f *fakeBackend) AccessibilityAppend(text string) error {
	if f.failAccess {
		return fmt.Errorf("accessibility value-set unavailable")
	}
	f.accessCalls = append(f.accessCalls, text)
	return nil
}

func (f *fakeBackend) SkipGate() bool { return f.skipGate }

func newTestStore(t *testing.T) *settings.Store {
	t.Helper()
	st, err := settings.LoadFrom(filepath.Join(t.TempDir(), "settings.json"))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	return st
}

func TestClassifyWindow(t *testing.T) {
	cases := []struct {
		title string
		want  Context
	}{
		{"main.rs - Visual Studio Code", ContextEditor},
		{"plan.md - Antigravity", ContextEditor},
		{"Untitled document - Google Docs", ContextCanvas},
		{"Budget - Google Sheets", ContextCanvas},
		{"Inbox - Google Chrome", ContextBrowser},
		{"GitHub - Mozilla Firefox", ContextBrowser},
		{"Notes", ContextNativeApp},
		{"", ContextNativeApp},
	}
	for _, c := range cases {
		if got := classifyWindow(c.title); got != c.want {
			t.Errorf("classifyWindow(%q) = %v, want %v", c.title, got, c.want)
		}
	}
}

func TestIsEditableGate(t *testing.T) {
	cases := []struct {
		name string
		info ElementInfo
		want bool
	}{
		{"plain edit control", ElementInfo{Focusable: true, ControlKind: "Edit"}, true},
		{"not focusable", ElementInfo{Focusable: false, ControlKind: "Edit"}, false},
		{"button control", ElementInfo{Focusable: true, ControlKind: "Button"}, false},
		{"writable document named compose box", ElementInfo{Focusable: true, ControlKind: "Document", Writable: true, Name: "Compose Box"}, true},
		{"writable document named viewer", ElementInfo{Focusable: true, ControlKind: "Document", Writable: true, Name: "PDF Viewer"}, false},
		{"non-writable document", ElementInfo{Focusable: true, ControlKind: "Document", Writable: false, Name: "editor"}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := isEditable(c.info); got != c.want {
				t.Errorf("isEditable(%+v) = %v, want %v", c.info, got, c.want)
			}
		})
	}
}

func TestInjectBrowserSafetyGateBlocksNonEditable(t *testing.T) {
	st := newTestStore(t)
	fb := &fakeBackend{title: "Inbox - Google Chrome", elementInfo: ElementInfo{Focusable: true, ControlKind: "Button"}}
	inj, err := New(fb, st)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := inj.Inject(context.Background(), "x", nil); err != nil {
		t.Fatalf("Inject() error = %v", err)
	}
	if len(fb.clipboardCalls) != 0 || len(fb.unicodeCalls) != 0 || len(fb.accessCalls) != 0 {
		t.Errorf("gate should have blocked all input, got clipboard=%v unicode=%v access=%v", fb.clipboardCalls, fb.unicodeCalls, fb.accessCalls)
	}
}

func TestInjectBrowserGatePassedUsesClipboardOnly(t *testing.T) {
	st := newTestStore(t)
	if err := st.SetAutoSpace(false); err != nil {
		t.Fatalf("SetAutoSpace() error = %v", err)
	}
	fb := &fakeBackend{title: "Inbox - Google Chrome", elementInfo: ElementInfo{Focusable: true, ControlKind: "Edit"}}
	inj, err := New(fb, st)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := inj.Inject(context.Background(), "hello", nil); err != nil {
		t.Fatalf("Inject() error = %v", err)
	}
	if len(fb.clipboardCalls) != 1 || fb.clipboardCalls[0] != "hello" {
		t.Errorf("clipboardCalls = %v, want [hello]", fb.clipboardCalls)
	}
	if len(fb.unicodeCalls) != 0 {
		t.Errorf("browser path must not use unicode synthesis, got %v", fb.unicodeCalls)
	}
}

func TestInjectEditorPathUsesUnicodeFirst(t *testing.T) {
	st := newTestStore(t)
	if err := st.SetAutoSpace(false); err != nil {
		t.Fatalf("SetAutoSpace() error = %v", err)
	}
	fb := &fakeBackend{title: "main.rs - Visual Studio Code"}
	inj, err := New(fb, st)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := inj.Inject(context.Background(), "fn main", nil); err != nil {
		t.Fatalf("Inject() error = %v", err)
	}
	if len(fb.unicodeCalls) != 1 || fb.unicodeCalls[0] != "fn main" {
		t.Errorf("unicodeCalls = %v, want [fn main]", fb.unicodeCalls)
	}
	if len(fb.clipboardCalls) != 0 {
		t.Errorf("editor path should not fall through when unicode succeeds, got %v", fb.clipboardCalls)
	}
}

func TestInjectEditorFallsThroughToClipboardOnUnicodeFailure(t *testing.T) {
	st := newTestStore(t)
	fb := &fakeBackend{title: "main.rs - Visual Studio Code", failUnicode: true}
	inj, err := New(fb, st)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := inj.Inject(context.Background(), "fn main", nil); err != nil {
		t.Fatalf("Inject() error = %v", err)
	}
	if len(fb.clipboardCalls) != 1 {
		t.Errorf("clipboardCalls = %v, want one fallback call", fb.clipboardCalls)
	}
}

func TestInjectNativeAppTriesAccessibilityThenUnicodeThenClipboard(t *testing.T) {
	st := newTestStore(t)
	fb := &fakeBackend{
		title:       "Notes",
		elementInfo: ElementInfo{Focusable: true, ControlKind: "Edit"},
		failAccess:  true,
	}
	inj, err := New(fb, st)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := inj.Inject(context.Background(), "hello", nil); err != nil {
		t.Fatalf("Inject() error = %v", err)
	}
	if len(fb.unicodeCalls) != 1 {
		t.Errorf("should fall through accessibility failure to unicode, got %v", fb.unicodeCalls)
	}
}

func TestInjectCommandShortcutEmitsNoTypedCharacters(t *testing.T) {
	st := newTestStore(t)
	if err := st.SetAllowCommands(true); err != nil {
		t.Fatalf("SetAllowCommands() error = %v", err)
	}
	fb := &fakeBackend{title: "Notes"}
	inj, err := New(fb, st)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := inj.Inject(context.Background(), "Delete!", nil); err != nil {
		t.Fatalf("Inject() error = %v", err)
	}
	if len(fb.controlKeys) != 1 || fb.controlKeys[0] != KeyBackspace {
		t.Errorf("controlKeys = %v, want [KeyBackspace]", fb.controlKeys)
	}
	if len(fb.unicodeCalls) != 0 || len(fb.clipboardCalls) != 0 {
		t.Errorf("command path must not type any characters, got unicode=%v clipboard=%v", fb.unicodeCalls, fb.clipboardCalls)
	}
}

func TestInjectDisablePunctuationCleansTextBeforeInjection(t *testing.T) {
	st := newTestStore(t)
	if err := st.SetDisablePunctuation(true); err != nil {
		t.Fatalf("SetDisablePunctuation() error = %v", err)
	}
	if err := st.SetAutoSpace(false); err != nil {
		t.Fatalf("SetAutoSpace() error = %v", err)
	}
	fb := &fakeBackend{title: "main.rs - Visual Studio Code"}
	inj, err := New(fb, st)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	var emitted string
	if err := inj.Inject(context.Background(), "hello, world!!", func(s string) { emitted = s }); err != nil {
		t.Fatalf("Inject() error = %v", err)
	}
	if emitted != "hello world" {
		t.Errorf("emitted = %q, want %q", emitted, "hello world")
	}
	if len(fb.unicodeCalls) != 1 || fb.unicodeCalls[0] != "hello world" {
		t.Errorf("unicodeCalls = %v, want [hello world]", fb.unicodeCalls)
	}
}

func TestInjectSkipGateBypassesEditabilityCheck(t *testing.T) {
	st := newTestStore(t)
	if err := st.SetAutoSpace(false); err != nil {
		t.Fatalf("SetAutoSpace() error = %v", err)
	}
	fb := &fakeBackend{
		title:       "Inbox - Google Chrome",
		elementInfo: ElementInfo{Focusable: true, ControlKind: "Button"}, // would fail the gate
		skipGate:    true,
	}
	inj, err := New(fb, st)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := inj.Inject(context.Background(), "hello", nil); err != nil {
		t.Fatalf("Inject() error = %v", err)
	}
	if len(fb.clipboardCalls) != 1 || fb.clipboardCalls[0] != "hello" {
		t.Errorf("clipboardCalls = %v, want [hello] (gate should have been skipped)", fb.clipboardCalls)
	}
}

func TestInjectAutoSpaceAppendsTrailingSpace(t *testing.T) {
	st := newTestStore(t)
	if err := st.SetAutoSpace(true); err != nil {
		t.Fatalf("SetAutoSpace() error = %v", err)
	}
	fb := &fakeBackend{title: "main.rs - Visual Studio Code"}
	inj, err := New(fb, st)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	var emitted string
	if err := inj.Inject(context.Background(), "hello", func(s string) { emitted = s }); err != nil {
		t.Fatalf("Inject() error = %v", err)
	}
	// emit fires before the auto-space append, so the UI sees the
	// unpadded text; only what's actually typed gets the trailing space.
	if emitted != "hello" {
		t.Errorf("emitted = %q, want %q", emitted, "hello")
	}
	if len(fb.unicodeCalls) != 1 || fb.unicodeCalls[0] != "hello " {
		t.Errorf("unicodeCalls = %v, want [%q]", fb.unicodeCalls, "hello ")
	}
}

func TestInjectEmptyTextDoesNothing(t *testing.T) {
	st := newTestStore(t)
	if err := st.SetAutoSpace(false); err != nil {
		t.Fatalf("SetAutoSpace() error = %v", err)
	}
	fb := &fakeBackend{title: "Notes"}
	inj, err := New(fb, st)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := inj.Inject(context.Background(), "", nil); err != nil {
		t.Fatalf("Inject() error = %v", err)
	}
	if len(fb.unicodeCalls) != 0 || len(fb.clipboardCalls) != 0 || len(fb.controlKeys) != 0 {
		t.Error("empty text should produce no input events")
	}
}

func TestNormalizeKeyStripsPunctuationAndCase(t *testing.T) {
	cases := map[string]string{
		"Delete!":   "delete",
		"  Enter  ": "enter",
		"New Line":  "new line",
	}
	for in, want := range cases {
		if got := normalizeKey(in); got != want {
			t.Errorf("normalizeKey(%q) = %q, want %q", in, got, want)
		}
	}
}
