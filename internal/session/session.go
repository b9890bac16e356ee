// Package session implements Session State (C5): per-session history,
// active persona, preferences snapshot, cancellation flag, inbound event
// log, and the single in-flight-turn handle. Adapted from the teacher's
// internal/session.Session, which stored sessions remotely via a "brain"
// client; here persistence is local (internal/history) since the spec
// models no external unified brain service.
package session

import (
	"sync"
	"time"

	"github.com/cortexhub/streamgateway/internal/preferences"
)

// HistoryEntry is a bounded in-memory recent-history record; older entries
// are evicted from memory but remain durable in the history store (C9).
type HistoryEntry struct {
	Role      string
	Content   string
	Timestamp time.Time
}

// Turn is the single in-flight-turn handle: at most one per session.
type Turn struct {
	ID        string
	StartedAt time.Time
	Cancel    func()
}

// Session is owned by the server for the duration of the WebSocket
// connection plus a configurable idle timeout.
type Session struct {
	ID        string
	UserID    string
	PersonaID string
	CreatedAt time.Time

	mu            sync.Mutex
	history       []HistoryEntry
	maxHistory    int
	cancelled     bool
	inboundEvents []string
	activeTurn    *Turn
	prefs         *preferences.UserPreferences
	lastActivity  time.Time
	activeStrategy PlaybackNotifiable
}

// PlaybackNotifiable is the minimal shape of an active Output Strategy (C3)
// the session needs in order to route an inbound audio_playback_completed
// event to whichever strategy is currently draining. Defined locally so
// this package doesn't need to import internal/strategy; strategy.Strategy
// satisfies it structurally.
type PlaybackNotifiable interface {
	NotifyPlaybackCompleted(sentenceID string)
}

// Config bounds how much recent history is kept in memory per session.
type Config struct {
	MaxRecentHistory int
}

// New creates a session with an empty recent-history window.
func New(id, userID, personaID string, cfg Config) *Session {
	if cfg.MaxRecentHistory <= 0 {
		cfg.MaxRecentHistory = 20
	}
	now := time.Now()
	return &Session{
		ID:           id,
		UserID:       userID,
		PersonaID:    personaID,
		CreatedAt:    now,
		lastActivity: now,
		maxHistory:   cfg.MaxRecentHistory,
	}
}

// Touch records activity for idle-timeout tracking.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
}

// IdleSince returns how long the session has been idle.
func (s *Session) IdleSince() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity)
}

// AddHistory appends one entry to the bounded recent-history window.
func (s *Session) AddHistory(role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, HistoryEntry{Role: role, Content: content, Timestamp: time.Now()})
	if len(s.history) > s.maxHistory {
		s.history = s.history[len(s.history)-s.maxHistory:]
	}
}

// RecentHistory returns a snapshot of the in-memory recent-history window.
func (s *Session) RecentHistory() []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}

// SetPreferences installs an immutable preferences snapshot for the
// duration of the next turn.
func (s *Session) SetPreferences(p *preferences.UserPreferences) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs = p
}

// Preferences returns the current preferences snapshot.
func (s *Session) Preferences() *preferences.UserPreferences {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs
}

// Cancel sets the per-session cancellation flag, polled between every chunk
// dispatch in the orchestrator (spec.md §5).
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
	if s.activeTurn != nil && s.activeTurn.Cancel != nil {
		s.activeTurn.Cancel()
	}
}

// Cancelled reports the cancellation flag.
func (s *Session) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// BeginTurn installs the single in-flight-turn handle, resetting the
// cancellation flag for the new turn. It returns false if a turn is already
// active (the orchestrator then rejects the new message, or cancels the
// running turn first when the message asks to interrupt).
func (s *Session) BeginTurn(id string, cancel func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeTurn != nil {
		return false
	}
	s.activeTurn = &Turn{ID: id, StartedAt: time.Now(), Cancel: cancel}
	s.cancelled = false
	return true
}

// EndTurn clears the in-flight-turn handle.
func (s *Session) EndTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeTurn = nil
}

// ActiveTurn reports the in-flight turn, if any.
func (s *Session) ActiveTurn() *Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeTurn
}

// SetActiveStrategy installs (or clears, with nil) the strategy currently
// draining this session's turn, so NotifyPlaybackCompleted has somewhere to
// route to.
func (s *Session) SetActiveStrategy(st PlaybackNotifiable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeStrategy = st
}

// NotifyPlaybackCompleted forwards an inbound audio_playback_completed event
// to the active strategy, if any turn is currently draining.
func (s *Session) NotifyPlaybackCompleted(sentenceID string) {
	s.mu.Lock()
	st := s.activeStrategy
	s.mu.Unlock()
	if st != nil {
		st.NotifyPlaybackCompleted(sentenceID)
	}
}

// LogInbound appends a raw inbound event description to the session's event
// log (bounded to a small tail for diagnostics).
func (s *Session) LogInbound(event string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inboundEvents = append(s.inboundEvents, event)
	if len(s.inboundEvents) > 50 {
		s.inboundEvents = s.inboundEvents[len(s.inboundEvents)-50:]
	}
}

// Manager is the process-wide session registry: one entry per connected (or
// recently connected) WebSocket/channel session, reaped after an idle
// timeout. Grounded on the teacher's own in-memory connection map pattern
// (webchat.WebChatAdapter's conns map), generalized from connections to
// full session state.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	cfg      Config
}

// NewManager builds an empty session registry.
func NewManager(cfg Config) *Manager {
	return &Manager{sessions: make(map[string]*Session), cfg: cfg}
}

// GetOrCreate returns the existing session for id, or creates one.
func (m *Manager) GetOrCreate(id, userID, personaID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.Touch()
		return s
	}
	s := New(id, userID, personaID, m.cfg)
	m.sessions[id] = s
	return s
}

// Get returns the session for id, if any.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// IsCancelled reports whether id's session has been cancelled, or true if
// the session no longer exists (its turn, if any, should be abandoned).
// Matches tts.CancelChecker's signature for wiring into the TTS pool.
func (m *Manager) IsCancelled(id string) bool {
	s, ok := m.Get(id)
	if !ok {
		return true
	}
	return s.Cancelled()
}

// Remove drops a session from the registry (e.g. on disconnect or idle reap).
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// ReapIdle removes and returns the ids of sessions idle longer than
// maxIdle, for the scheduler's periodic sweep.
func (m *Manager) ReapIdle(maxIdle time.Duration) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var reaped []string
	for id, s := range m.sessions {
		if s.IdleSince() > maxIdle {
			delete(m.sessions, id)
			reaped = append(reaped, id)
		}
	}
	return reaped
}
