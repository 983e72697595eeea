// Package settings holds the persisted, hot-reloadable dictation
// preferences: auto-space, silence timeout, command/shortcut substitution,
// and the shortcut table itself. Scalar fields are atomic cells so the
// realtime segmenter/injector loops can read them without locks; the
// shortcut table sits behind a single-writer/many-reader guard.
package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/flowtype/dictation/internal/errors"
	"github.com/flowtype/dictation/internal/syncx"
)

// Control tokens a shortcut replacement may resolve to instead of literal text.
const (
	TokenBackspace  = "[BACKSPACE]"
	TokenDelete     = "[DELETE]"
	TokenEnter      = "[ENTER]"
	TokenDeleteLine = "[DELETE_LINE]"
)

const configFileName = "dictation-settings.json"

// record is the on-disk JSON shape.
type record struct {
	AutoSpace          bool              `json:"auto_space"`
	SilenceTimeoutMS   uint64            `json:"silence_timeout"`
	AllowCommands      bool              `json:"allow_commands"`
	DisablePunctuation bool              `json:"disable_punctuation"`
	Shortcuts          map[string]string `json:"shortcuts"`
}

func defaultRecord() record {
	return record{
		AutoSpace:          true,
		SilenceTimeoutMS:   500,
		AllowCommands:      true,
		DisablePunctuation: false,
		Shortcuts:          defaultShortcuts(),
	}
}

func defaultShortcuts() map[string]string {
	return map[string]string{
		"delete":      TokenBackspace,
		"backspace":   TokenBackspace,
		"delete that": TokenDeleteLine,
		"new line":    TokenEnter,
		"enter":       TokenEnter,
		"space":       " ",
	}
}

// Store is the in-memory, concurrency-safe handle to the settings record.
// It is constructed once and passed explicitly into every worker that
// needs it (segmenter, injector) rather than held as a package global.
type Store struct {
	path string

	autoSpace          atomic.Bool
	silenceTimeoutMS   atomic.Uint64
	allowCommands      atomic.Bool
	disablePunctuation atomic.Bool
	shortcuts          *syncx.RWGuard[map[string]string]
}

// Load resolves the settings file path under the OS user-config directory,
// loading an existing record or falling back to defaults (and writing them)
// if none exists.
func Load() (*Store, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeSettings, "resolve user config dir")
	}
	return LoadFrom(filepath.Join(dir, configFileName))
}

// LoadFrom loads (or initializes) a settings store at an explicit path.
func LoadFrom(path string) (*Store, error) {
	rec := defaultRecord()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if jerr := json.Unmarshal(data, &rec); jerr != nil {
			return nil, errors.Wrap(jerr, errors.CodeSettings, "parse settings file")
		}
		if rec.Shortcuts == nil {
			rec.Shortcuts = defaultShortcuts()
		}
	case os.IsNotExist(err):
		// first run: use defaults, persist below
	default:
		return nil, errors.Wrap(err, errors.CodeSettings, "read settings file")
	}

	s := newStore(path, rec)
	if err := s.save(); err != nil {
		return nil, err
	}
	return s, nil
}

func newStore(path string, rec record) *Store {
	s := &Store{
		path:      path,
		shortcuts: syncx.NewGuard(rec.Shortcuts),
	}
	s.autoSpace.Store(rec.AutoSpace)
	s.silenceTimeoutMS.Store(rec.SilenceTimeoutMS)
	s.allowCommands.Store(rec.AllowCommands)
	s.disablePunctuation.Store(rec.DisablePunctuation)
	return s
}

func (s *Store) snapshot() record {
	return record{
		AutoSpace:          s.autoSpace.Load(),
		SilenceTimeoutMS:   s.silenceTimeoutMS.Load(),
		AllowCommands:      s.allowCommands.Load(),
		DisablePunctuation: s.disablePunctuation.Load(),
		Shortcuts: s.shortcuts.Read(func(m map[string]string) any {
			cp := make(map[string]string, len(m))
			for k, v := range m {
				cp[k] = v
			}
			return cp
		}).(map[string]string),
	}
}

func (s *Store) save() error {
	data, err := json.MarshalIndent(s.snapshot(), "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.CodeSettings, "marshal settings")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errors.Wrap(err, errors.CodeSettings, "create settings directory")
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return errors.Wrap(err, errors.CodeSettings, "write settings file")
	}
	return nil
}

// AutoSpace reports whether a trailing space is appended to injected text.
func (s *Store) AutoSpace() bool { return s.autoSpace.Load() }

// SilenceTimeoutMS returns the VAD stop-window length in milliseconds.
func (s *Store) SilenceTimeoutMS() uint64 { return s.silenceTimeoutMS.Load() }

// AllowCommands reports whether command/shortcut substitution is active.
func (s *Store) AllowCommands() bool { return s.allowCommands.Load() }

// DisablePunctuation reports whether ASCII punctuation is stripped before injection.
func (s *Store) DisablePunctuation() bool { return s.disablePunctuation.Load() }

// Shortcut looks up a normalized phrase in the shortcut table.
func (s *Store) Shortcut(key string) (string, bool) {
	var v string
	var ok bool
	s.shortcuts.Read(func(m map[string]string) any {
		v, ok = m[key]
		return nil
	})
	return v, ok
}

// SetAutoSpace updates and persists the auto-space flag.
func (s *Store) SetAutoSpace(v bool) error {
	s.autoSpace.Store(v)
	return s.save()
}

// SetSilenceTimeoutMS updates and persists the silence-timeout window.
func (s *Store) SetSilenceTimeoutMS(ms uint64) error {
	s.silenceTimeoutMS.Store(ms)
	return s.save()
}

// SetAllowCommands updates and persists the allow-commands flag.
func (s *Store) SetAllowCommands(v bool) error {
	s.allowCommands.Store(v)
	return s.save()
}

// SetDisablePunctuation updates and persists the punctuation-stripping flag.
func (s *Store) SetDisablePunctuation(v bool) error {
	s.disablePunctuation.Store(v)
	return s.save()
}

// UpsertShortcut adds or replaces a shortcut table entry and persists it.
func (s *Store) UpsertShortcut(key, value string) error {
	s.shortcuts.Write(func(m *map[string]string) {
		if *m == nil {
			*m = make(map[string]string)
		}
		(*m)[key] = value
	})
	return s.save()
}

// DeleteShortcut removes a shortcut table entry and persists the change.
func (s *Store) DeleteShortcut(key string) error {
	s.shortcuts.Write(func(m *map[string]string) {
		delete(*m, key)
	})
	return s.save()
}

// Snapshot returns a point-in-time copy of the settings for the
// get_settings control command.
type Snapshot struct {
	AutoSpace          bool              `json:"auto_space"`
	SilenceTimeoutMS   uint64            `json:"silence_timeout"`
	AllowCommands      bool              `json:"allow_commands"`
	DisablePunctuation bool              `json:"disable_punctuation"`
	Shortcuts          map[string]string `json:"shortcuts"`
}

// Get returns a snapshot of the current settings for external callers.
func (s *Store) Get() Snapshot {
	rec := s.snapshot()
	return Snapshot(rec)
}
