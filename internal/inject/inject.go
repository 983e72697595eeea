// Package inject turns emitted transcription text into real OS input in
// whatever application currently owns the foreground window. The safety
// gate, window classification, and strategy selection are platform
// agnostic; platform code only supplies raw facts and key/clipboard
// primitives through the Backend interface (inject_<os>.go).
package inject

import (
	"context"
	"log/slog"
	"strings"
	"unicode"

	"github.com/flowtype/dictation/internal/errors"
	"github.com/flowtype/dictation/internal/settings"
	"github.com/flowtype/dictation/internal/trace"
)

// Context classifies the application class owning the foreground window.
type Context int

const (
	ContextNativeApp Context = iota
	ContextEditor
	ContextCanvas
	ContextBrowser
)

func (c Context) String() string {
	switch c {
	case ContextEditor:
		return "editor"
	case ContextCanvas:
		return "canvas"
	case ContextBrowser:
		return "browser"
	default:
		return "native_app"
	}
}

var browserTitleMarkers = []string{
	"- google chrome", "- microsoft edge", "- mozilla firefox", "- firefox",
	"- opera", "- brave", "- vivaldi", "- arc",
}

var canvasTitleMarkers = []string{"google docs", "google sheets", "google slides"}

// classifyWindow implements the window-context classification: an
// editor-title check (case sensitive), then canvas and browser checks
// (case insensitive), else NativeApp.
func classifyWindow(title string) Context {
	if strings.Contains(title, "Visual Studio Code") || strings.Contains(title, "Antigravity") {
		return ContextEditor
	}
	lower := strings.ToLower(title)
	for _, m := range canvasTitleMarkers {
		if strings.Contains(lower, m) {
			return ContextCanvas
		}
	}
	for _, m := range browserTitleMarkers {
		if strings.Contains(lower, m) {
			return ContextBrowser
		}
	}
	return ContextNativeApp
}

// editableDocumentNameKeywords are the substrings an accessibility element's
// name must contain for a writable "Document" control kind to count as
// editable (the accessibility tree's own coarse kind doesn't distinguish a
// rich-text editor from a read-only viewer).
var editableDocumentNameKeywords = []string{
	"editor", "compose", "message body", "rich text", "mail body", "editing",
}

// ElementInfo is the set of accessibility facts a backend reports about the
// currently focused control.
type ElementInfo struct {
	Focusable   bool
	ControlKind string // "Edit", "Document", or anything else
	Writable    bool   // has a writable value facet
	Name        string
}

// isEditable implements the editability gate: focusable, and
// either a plain "Edit" control, or a writable "Document" control whose
// name looks like a rich-text composer rather than a viewer.
func isEditable(info ElementInfo) bool {
	if !info.Focusable {
		return false
	}
	if info.ControlKind == "Edit" {
		return true
	}
	if info.ControlKind == "Document" && info.Writable {
		name := strings.ToLower(info.Name)
		for _, kw := range editableDocumentNameKeywords {
			if strings.Contains(name, kw) {
				return true
			}
		}
	}
	return false
}

// ControlKey is a platform-independent key the injector asks a backend to
// synthesize in place of typed text.
type ControlKey int

const (
	KeyBackspace ControlKey = iota
	KeyDelete
	KeyEnter
	KeyDeleteLine
)

// Backend supplies the platform primitives the injector drives. A real
// implementation lives in inject_windows.go / inject_darwin.go /
// inject_linux.go, selected at compile time by build tag (a tagged
// variant, not a runtime dynamic-dispatch registry).
type Backend interface {
	// Init performs one-time platform setup (e.g. COM apartment init on
	// Windows) before any other method is called.
	Init() error

	ForegroundWindowTitle() (string, error)
	FocusedElementInfo() (ElementInfo, error)

	SendUnicodeText(text string) error
	SendControlKey(key ControlKey) error
	ClipboardPaste(text string) error
	AccessibilityAppend(text string) error

	// SkipGate reports whether the editability gate should be bypassed for
	// Browser/NativeApp contexts on this platform. True only where the
	// platform's typing API is reliable enough that the accessibility
	// pre-check would add refusals without adding safety.
	SkipGate() bool
}

// Injector runs the pre-processing pipeline and strategy selection against
// a platform Backend.
type Injector struct {
	backend  Backend
	settings *settings.Store
}

// New constructs an injector and performs one-time platform init.
func New(backend Backend, st *settings.Store) (*Injector, error) {
	if err := backend.Init(); err != nil {
		return nil, errors.Wrap(err, errors.CodeInit, "init injector backend")
	}
	return &Injector{backend: backend, settings: st}, nil
}

// Inject runs the full pipeline: punctuation stripping, the cleaned text
// emitted to observe, command-shortcut substitution, the auto-space
// trailing-space append, then context classification, the editability
// gate, and strategy fallback. emit (may be nil) receives the cleaned
// text for UI display regardless of whether anything is ultimately typed,
// and runs before auto-space so the UI never shows the padding. The span
// started here carries ctx's trace_id, so this segment's injection attempt
// logs under the same trace as its segment and transcription spans.
func (inj *Injector) Inject(ctx context.Context, text string, emit func(string)) error {
	spanCtx, span := trace.StartSpan(ctx, "injection_attempted")
	defer span.End()
	log := trace.Logger(spanCtx)

	if inj.settings.DisablePunctuation() {
		text = stripPunctuationCollapse(text)
	}
	if emit != nil {
		emit(text)
	}

	if inj.settings.AllowCommands() {
		key := normalizeKey(text)
		if repl, ok := inj.settings.Shortcut(key); ok {
			switch repl {
			case settings.TokenBackspace:
				return inj.backend.SendControlKey(KeyBackspace)
			case settings.TokenDelete:
				return inj.backend.SendControlKey(KeyDelete)
			case settings.TokenEnter:
				return inj.backend.SendControlKey(KeyEnter)
			case settings.TokenDeleteLine:
				return inj.backend.SendControlKey(KeyDeleteLine)
			default:
				text = repl
			}
		}
	}

	if inj.settings.AutoSpace() {
		text += " "
	}

	if text == "" {
		return nil
	}

	title, err := inj.backend.ForegroundWindowTitle()
	if err != nil {
		log.Debug("foreground window title unavailable, assuming native app", "error", err)
	}
	wctx := classifyWindow(title)

	switch wctx {
	case ContextEditor, ContextCanvas:
		return inj.tryStrategies(text, inj.backend.SendUnicodeText, inj.backend.ClipboardPaste)
	case ContextBrowser:
		if !inj.backend.SkipGate() && !inj.gatePasses(log, wctx) {
			return nil
		}
		return inj.backend.ClipboardPaste(text)
	default:
		if !inj.backend.SkipGate() && !inj.gatePasses(log, wctx) {
			return nil
		}
		return inj.tryStrategies(text, inj.backend.AccessibilityAppend, inj.backend.SendUnicodeText, inj.backend.ClipboardPaste)
	}
}

// gatePasses consults the accessibility tree for Browser/NativeApp
// contexts. Editor and Canvas never call this (their widgets don't expose
// standard accessibility signals reliably); platforms whose typing API is
// reliable enough skip it too, via Backend.SkipGate.
func (inj *Injector) gatePasses(log *slog.Logger, wctx Context) bool {
	info, err := inj.backend.FocusedElementInfo()
	if err != nil {
		log.Info("editability gate: focused element unavailable, refusing to type", "context", wctx.String(), "error", err)
		return false
	}
	if !isEditable(info) {
		log.Info("editability gate failed, refusing to type", "context", wctx.String(), "control_kind", info.ControlKind)
		return false
	}
	return true
}

// tryStrategies runs each strategy in order; the first to succeed wins.
// All failing is an injection error (logged by the caller, no retry).
func (inj *Injector) tryStrategies(text string, strategies ...func(string) error) error {
	var lastErr error
	for _, s := range strategies {
		if err := s(text); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return errors.Wrap(lastErr, errors.CodeInjection, "all injection strategies failed")
}

// stripPunctuationCollapse removes ASCII punctuation, then collapses runs
// of spaces and trims.
func stripPunctuationCollapse(s string) string {
	var b strings.Builder
	for _, r := range s {
		if isASCIIPunct(r) {
			continue
		}
		b.WriteRune(r)
	}
	return collapseSpaces(b.String())
}

// normalizeKey trims, lowercases, and strips ASCII punctuation, matching
// the shortcut-table lookup key.
func normalizeKey(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if isASCIIPunct(r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(collapseSpaces(b.String()))
}

// isASCIIPunct reports whether r is an ASCII punctuation character,
// including the ASCII symbols ($ + < = > ^ ` | ~) that unicode.IsPunct
// classifies separately.
func isASCIIPunct(r rune) bool {
	return r < unicode.MaxASCII && (unicode.IsPunct(r) || unicode.IsSymbol(r))
}

func collapseSpaces(s string) string {
	fields := strings.Fields(s)
	return strings.TrimSpace(strings.Join(fields, " "))
}
