// Package server provides the WebSocket control/observer surface the UI
// host talks to: control commands mutate settings, and a broadcaster
// drains the engine's observer channel to every connected client.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/flowtype/dictation/internal/engine"
	"github.com/flowtype/dictation/internal/settings"
	"github.com/flowtype/dictation/internal/trace"
)

const (
	RateLimitWindow   = time.Second
	RateLimitMessages = 20
)

// Message is the common envelope every inbound/outbound frame carries.
type Message struct {
	Type string `json:"type"`
}

// Control commands, fire-and-forget from the UI host.
type setAutoSpaceMessage struct {
	Type  string `json:"type"`
	Value bool   `json:"value"`
}

type setSilenceTimeoutMessage struct {
	Type  string `json:"type"`
	Value uint64 `json:"value"`
}

type setAllowCommandsMessage struct {
	Type  string `json:"type"`
	Value bool   `json:"value"`
}

type setDisablePunctuationMessage struct {
	Type  string `json:"type"`
	Value bool   `json:"value"`
}

type upsertShortcutMessage struct {
	Type  string `json:"type"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

type deleteShortcutMessage struct {
	Type string `json:"type"`
	Key  string `json:"key"`
}

// Outbound messages.
type settingsMessage struct {
	Type string `json:"type"`
	settings.Snapshot
}

type vadUpdateMessage struct {
	Type  string  `json:"type"`
	State string  `json:"state"`
	RMS   float32 `json:"rms"`
}

type transcriptionMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type rateLimitedMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	mu         sync.Mutex
}

func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-RateLimitWindow)

	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}
	r.timestamps = append(r.timestamps, now)
	return true
}

// Server handles the WebSocket control/observer connection.
type Server struct {
	eng      *engine.Engine
	settings *settings.Store

	mu         sync.RWMutex
	conns      map[*websocket.Conn]struct{}
	rateLimits map[*websocket.Conn]*rateLimiter
}

// New creates a server and starts the observer broadcaster.
func New(eng *engine.Engine, st *settings.Store) *Server {
	s := &Server{
		eng:        eng,
		settings:   st,
		conns:      make(map[*websocket.Conn]struct{}),
		rateLimits: make(map[*websocket.Conn]*rateLimiter),
	}
	go s.broadcastEvents()
	return s
}

// Handler returns the HTTP handler (single WebSocket endpoint).
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		trace.Logger(r.Context()).Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.rateLimits[conn] = &rateLimiter{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		delete(s.rateLimits, conn)
		s.mu.Unlock()
	}()

	baseCtx := r.Context()
	log := trace.Logger(baseCtx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	for {
		var msg json.RawMessage
		if err := wsjson.Read(baseCtx, conn, &msg); err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		s.mu.RLock()
		rl := s.rateLimits[conn]
		s.mu.RUnlock()

		if !rl.allow() {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			_ = wsjson.Write(baseCtx, conn, rateLimitedMessage{Type: "error", Message: "rate limit exceeded"})
			continue
		}

		var base Message
		if err := json.Unmarshal(msg, &base); err != nil {
			continue
		}

		s.dispatch(baseCtx, conn, base.Type, msg)
	}
}

// dispatch routes a control command to the matching settings mutator. Each
// mutator persists as part of its own call; dispatch does not retry on
// failure (logged and continued, not retried).
func (s *Server) dispatch(ctx context.Context, conn *websocket.Conn, msgType string, raw json.RawMessage) {
	log := trace.Logger(ctx)

	switch msgType {
	case "set_auto_space":
		var m setAutoSpaceMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return
		}
		if err := s.settings.SetAutoSpace(m.Value); err != nil {
			log.Error("set_auto_space failed", "error", err)
		}

	case "set_silence_timeout":
		var m setSilenceTimeoutMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return
		}
		if err := s.settings.SetSilenceTimeoutMS(m.Value); err != nil {
			log.Error("set_silence_timeout failed", "error", err)
		}

	case "set_allow_commands":
		var m setAllowCommandsMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return
		}
		if err := s.settings.SetAllowCommands(m.Value); err != nil {
			log.Error("set_allow_commands failed", "error", err)
		}

	case "set_disable_punctuation":
		var m setDisablePunctuationMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return
		}
		if err := s.settings.SetDisablePunctuation(m.Value); err != nil {
			log.Error("set_disable_punctuation failed", "error", err)
		}

	case "upsert_shortcut":
		var m upsertShortcutMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return
		}
		if err := s.settings.UpsertShortcut(m.Key, m.Value); err != nil {
			log.Error("upsert_shortcut failed", "error", err)
		}

	case "delete_shortcut":
		var m deleteShortcutMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return
		}
		if err := s.settings.DeleteShortcut(m.Key); err != nil {
			log.Error("delete_shortcut failed", "error", err)
		}

	case "get_settings":
		_ = wsjson.Write(ctx, conn, settingsMessage{Type: "settings", Snapshot: s.settings.Get()})
	}
}

// broadcastEvents drains the engine's observer channel and fans each
// event out to every connected client. Ordering against the main pipeline
// is not guaranteed; a slow client never blocks the pipeline.
func (s *Server) broadcastEvents() {
	for ev := range s.eng.Events() {
		var msg interface{}
		switch ev.Type {
		case engine.EventVADUpdate:
			state := "silence"
			if ev.Speaking {
				state = "speaking"
			}
			msg = vadUpdateMessage{Type: "vad-update", State: state, RMS: float32(ev.RMS)}
		case engine.EventTranscription:
			msg = transcriptionMessage{Type: "transcription", Text: ev.Text}
		default:
			continue
		}

		s.mu.RLock()
		for conn := range s.conns {
			go func(c *websocket.Conn, m interface{}) {
				_ = wsjson.Write(context.Background(), c, m)
			}(conn, msg)
		}
		s.mu.RUnlock()
	}
}
