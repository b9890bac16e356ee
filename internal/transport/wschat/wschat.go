// Package wschat implements the /ws/chat WebSocket endpoint (spec.md §6):
// one receiver goroutine per connection decoding inbound frames, and one
// writer goroutine per connection serializing every outbound frame so text
// and audio never interleave on the wire. Adapted from the teacher's
// internal/channel/webchat.WebChatAdapter — same gorilla/websocket
// upgrade-then-per-connection-goroutine shape — generalized from its single
// free-text WSMessage type to the full chatproto envelope and tagged-variant
// Inbound decode.
package wschat

import (
	"context"
	"encoding/base64"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cortexhub/streamgateway/internal/chatproto"
	"github.com/cortexhub/streamgateway/internal/logging"
	"github.com/cortexhub/streamgateway/internal/orchestrator"
	"github.com/cortexhub/streamgateway/internal/preferences"
	"github.com/cortexhub/streamgateway/internal/session"
)

const (
	writeQueueDepth = 64
	defaultPing     = 30 * time.Second
)

// Handler upgrades /ws/chat connections and drives each session's lifetime
// for as long as the connection stays open.
type Handler struct {
	upgrader websocket.Upgrader
	sessions *session.Manager
	prefs    *preferences.Store
	orch     *orchestrator.Orchestrator
	ping     time.Duration
	log      *logging.Logger
}

// Config configures a Handler.
type Config struct {
	Sessions *session.Manager
	Prefs    *preferences.Store
	Orch     *orchestrator.Orchestrator
	// PingInterval overrides the keepalive ping cadence; default 30s,
	// matching app.system.websocket.pingInterval's default.
	PingInterval time.Duration
	// CheckOrigin overrides the upgrader's origin check; nil allows all
	// origins, matching the teacher's existing webchat adapter.
	CheckOrigin func(r *http.Request) bool
}

// New builds the /ws/chat Handler.
func New(cfg Config) *Handler {
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	ping := cfg.PingInterval
	if ping <= 0 {
		ping = defaultPing
	}
	return &Handler{
		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},
		sessions: cfg.Sessions,
		prefs:    cfg.Prefs,
		orch:     cfg.Orch,
		ping:     ping,
		log:      logging.WithComponent("transport.wschat"),
	}
}

// connSink is the single-consumer outbound writer queue: every produced
// chatproto.ChatMessage is enqueued here; writeLoop is the only goroutine
// that calls conn.WriteJSON, so frames never interleave (spec.md §5).
type connSink struct {
	queue chan *chatproto.ChatMessage
}

func newConnSink() *connSink {
	return &connSink{queue: make(chan *chatproto.ChatMessage, writeQueueDepth)}
}

// Send enqueues msg, blocking if the queue is full — backpressure reaches
// whichever strategy/orchestrator goroutine produced the message, per
// spec.md §5's description of the outbound queue as a suspension point.
func (s *connSink) Send(msg *chatproto.ChatMessage) error {
	s.queue <- msg
	return nil
}

// ServeHTTP upgrades the connection, resolves the session, and runs the
// reader loop until the connection closes; the writer loop runs alongside it
// on its own goroutine for the lifetime of the connection.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = "anonymous"
	}
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = chatproto.NewMessageID()
	}

	sess := h.sessions.GetOrCreate(sessionID, userID, "")
	if h.prefs != nil {
		if p, err := h.prefs.Load(userID); err == nil {
			sess.SetPreferences(p)
		} else {
			h.log.Warn("preferences load failed, using defaults", "user_id", userID, "err", err)
		}
	}

	sink := newConnSink()
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.writeLoop(ctx, conn, sink)
	h.readLoop(ctx, conn, sess, sink)
}

func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, sink *connSink) {
	ticker := time.NewTicker(h.ping)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sink.queue:
			if !ok {
				return
			}
			if len(msg.AudioData) > 0 {
				msg.AudioBase64 = base64.StdEncoding.EncodeToString(msg.AudioData)
			}
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Warn("websocket write failed", "session_id", msg.SessionID, "err", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, sess *session.Session, sink *connSink) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			h.log.Debug("websocket read closed", "session_id", sess.ID, "err", err)
			sess.Cancel()
			return
		}

		in, err := chatproto.DecodeInbound(raw)
		if err != nil {
			h.log.Warn("malformed inbound frame", "session_id", sess.ID, "err", err)
			continue
		}
		sess.Touch()
		sess.LogInbound(string(in.Type))

		switch in.Type {
		case chatproto.InboundText:
			go h.handleText(ctx, sess, sink, in)
		case chatproto.InboundAudioPlaybackCompleted:
			sess.NotifyPlaybackCompleted(in.SentenceID)
		case chatproto.InboundASRAudioChunk:
			// Transcription is delegated to the external Python ASR service
			// named in config (app.python.services.asrUrl); no HTTP adapter
			// for it lives in this transport, so the chunk is acknowledged
			// by being read and otherwise dropped.
			h.log.Debug("asr_audio_chunk received, no transcription adapter wired", "session_id", sess.ID)
		case chatproto.InboundPing:
			// The write loop's own ticker keeps the connection alive; a
			// client ping needs no reply of its own.
		}
	}
}

func (h *Handler) handleText(ctx context.Context, sess *session.Session, sink *connSink, in *chatproto.Inbound) {
	if in.PersonaName != "" {
		sess.PersonaID = in.PersonaName
	}
	if _, err := h.orch.HandleMessage(ctx, sess, sink, in.Content, in.Interrupt); err != nil {
		h.log.Warn("turn failed", "session_id", sess.ID, "err", err)
	}
}
