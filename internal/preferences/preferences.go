// Package preferences implements the UserPreferences store: the nested v2
// shape of spec.md §3, loaded per session as an immutable snapshot for the
// duration of a turn. A best-effort upconverter accepts files written in
// the legacy flat shape (spec.md §9 Open Question, resolved here: v2 is the
// shape new writes use, but old files still parse).
package preferences

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/cortexhub/streamgateway/internal/logging"
)

type Basic struct {
	DisplayName string `json:"displayName,omitempty"`
	Language    string `json:"language,omitempty"`
}

type UI struct {
	Theme string `json:"theme,omitempty"`
}

type ASR struct {
	Enabled bool   `json:"enabled"`
	Engine  string `json:"engine,omitempty"`
}

type TTS struct {
	Enabled          bool    `json:"enabled"`
	PreferredSpeaker string  `json:"preferredSpeaker,omitempty"`
	Speed            float64 `json:"speed,omitempty"`
}

type LLM struct {
	BaseURL     string  `json:"baseUrl,omitempty"`
	Model       string  `json:"model,omitempty"`
	MaxTokens   int     `json:"maxTokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	Stream      bool    `json:"stream"`
}

type WebSearch struct {
	Enabled bool `json:"enabled"`
}

type Streaming struct {
	ChunkSize int `json:"chunkSize,omitempty"`
	DelayMs   int `json:"delayMs,omitempty"`
}

type ChatWindowChannel struct {
	Enabled   bool   `json:"enabled"`
	Mode      string `json:"mode,omitempty"`
	AutoTTS   bool   `json:"autoTTS"`
	SpeakerID string `json:"speakerId,omitempty"`
}

type Live2DChannel struct {
	Enabled       bool    `json:"enabled"`
	Mode          string  `json:"mode,omitempty"`
	SpeakerID     string  `json:"speakerId,omitempty"`
	Speed         float64 `json:"speed,omitempty"`
	ShowBubble    bool    `json:"showBubble"`
	BubbleTimeout int     `json:"bubbleTimeout,omitempty"`
}

type OutputChannel struct {
	ChatWindow ChatWindowChannel `json:"chatWindow"`
	Live2D     Live2DChannel     `json:"live2d"`
}

// UserPreferences is the v2 nested shape from spec.md §3.
type UserPreferences struct {
	Basic         Basic         `json:"basic"`
	UI            UI            `json:"ui"`
	ASR           ASR           `json:"asr"`
	TTS           TTS           `json:"tts"`
	LLM           LLM           `json:"llm"`
	WebSearch     WebSearch     `json:"webSearch"`
	Streaming     Streaming     `json:"streaming"`
	OutputChannel OutputChannel `json:"outputChannel"`
}

// Default returns a reasonable preferences snapshot for a brand-new user.
func Default() *UserPreferences {
	return &UserPreferences{
		TTS: TTS{Enabled: true, Speed: 1.0},
		LLM: LLM{MaxTokens: 1024, Temperature: 0.7, Stream: true},
		Streaming: Streaming{ChunkSize: 1, DelayMs: 0},
		OutputChannel: OutputChannel{
			ChatWindow: ChatWindowChannel{Enabled: true, Mode: "char_stream_tts", AutoTTS: true},
			Live2D:     Live2DChannel{Enabled: false, Mode: "sentence_sync", ShowBubble: true, BubbleTimeout: 20000},
		},
	}
}

// legacyFlat is the inconsistent pre-v2 shape named in spec.md §9; fields
// are upconverted on load when a file still uses it.
type legacyFlat struct {
	DisplayName      string  `json:"displayName,omitempty"`
	PreferredSpeaker string  `json:"preferredSpeaker,omitempty"`
	TTSSpeed         float64 `json:"ttsSpeed,omitempty"`
	LLMModel         string  `json:"llmModel,omitempty"`
	LLMBaseURL       string  `json:"llmBaseUrl,omitempty"`
}

func upgradeLegacy(raw []byte) (*UserPreferences, bool) {
	var legacy legacyFlat
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return nil, false
	}
	if legacy.DisplayName == "" && legacy.PreferredSpeaker == "" && legacy.LLMModel == "" && legacy.LLMBaseURL == "" {
		return nil, false
	}
	p := Default()
	p.Basic.DisplayName = legacy.DisplayName
	p.TTS.PreferredSpeaker = legacy.PreferredSpeaker
	if legacy.TTSSpeed > 0 {
		p.TTS.Speed = legacy.TTSSpeed
	}
	p.LLM.Model = legacy.LLMModel
	p.LLM.BaseURL = legacy.LLMBaseURL
	return p, true
}

// Store reads and writes per-user preference files under dir. Nothing is
// cached and no directory watcher is started: every Load reads the file
// afresh, so an edit on disk is seen by the next Load.
type Store struct {
	dir string
	log *logging.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// New constructs a Store rooted at dir.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("preferences: create dir: %w", err)
	}
	s := &Store{dir: dir, log: logging.WithComponent("preferences"), done: make(chan struct{})}
	return s, nil
}

func (s *Store) path(userID string) string {
	return filepath.Join(s.dir, userID+".json")
}

// Load returns an immutable snapshot for userID — the session's actual user
// id is always threaded through here; the teacher's hard-coded
// "Taiming"/"default" identity is treated as a bug, not reproduced
// (spec.md §9).
func (s *Store) Load(userID string) (*UserPreferences, error) {
	data, err := os.ReadFile(s.path(userID))
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("preferences: read %s: %w", userID, err)
	}
	var p UserPreferences
	if err := json.Unmarshal(data, &p); err == nil && (p.LLM != LLM{} || p.OutputChannel != OutputChannel{}) {
		return &p, nil
	}
	if up, ok := upgradeLegacy(data); ok {
		return up, nil
	}
	return Default(), nil
}

// Save persists preferences for userID.
func (s *Store) Save(userID string, p *UserPreferences) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("preferences: encode %s: %w", userID, err)
	}
	if err := os.WriteFile(s.path(userID), data, 0o644); err != nil {
		return fmt.Errorf("preferences: write %s: %w", userID, err)
	}
	return nil
}

// Reset deletes a user's stored preferences, reverting them to Default.
func (s *Store) Reset(userID string) error {
	err := os.Remove(s.path(userID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("preferences: reset %s: %w", userID, err)
	}
	return nil
}
