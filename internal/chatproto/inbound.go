package chatproto

import (
	"encoding/json"
	"fmt"
)

// InboundType enumerates the frames a client may send on /ws/chat.
type InboundType string

const (
	InboundText                   InboundType = "text"
	InboundAudioPlaybackCompleted InboundType = "audio_playback_completed"
	InboundASRAudioChunk          InboundType = "asr_audio_chunk"
	InboundPing                   InboundType = "ping"
)

// Inbound is the tagged-variant decode of a client frame: the `type` field
// selects which of the optional fields are meaningful, mirroring the
// source's per-type DTOs without reintroducing a sub-object graph.
type Inbound struct {
	Type        InboundType `json:"type"`
	SessionID   string      `json:"sessionId"`
	Content     string      `json:"content,omitempty"`
	PersonaName string      `json:"personaName,omitempty"`
	Interrupt   bool        `json:"interrupt,omitempty"`
	SentenceID  string      `json:"sentenceId,omitempty"`
	Audio       string      `json:"audio,omitempty"`
	Format      string      `json:"format,omitempty"`
	Timestamp   int64       `json:"timestamp,omitempty"`
}

// DecodeInbound parses a single JSON frame into an Inbound and validates
// that the fields required by its type discriminator are present.
func DecodeInbound(raw []byte) (*Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("chatproto: malformed frame: %w", err)
	}
	switch in.Type {
	case InboundText:
		if in.SessionID == "" {
			return nil, fmt.Errorf("chatproto: text frame missing sessionId")
		}
	case InboundAudioPlaybackCompleted:
		if in.SessionID == "" || in.SentenceID == "" {
			return nil, fmt.Errorf("chatproto: audio_playback_completed frame missing sessionId/sentenceId")
		}
	case InboundASRAudioChunk:
		if in.SessionID == "" || in.Audio == "" {
			return nil, fmt.Errorf("chatproto: asr_audio_chunk frame missing sessionId/audio")
		}
	case InboundPing:
		// no required fields beyond type
	default:
		return nil, fmt.Errorf("chatproto: unknown inbound type %q", in.Type)
	}
	return &in, nil
}
