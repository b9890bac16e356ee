// Package strategy implements the Output Strategy (C3): the policy that
// decides what to emit per output channel for a streaming turn. Three
// variants are grounded on spec.md §4.3; text_only emits chunks directly,
// while char_stream_tts and sentence_sync each drive their own
// segment.SentenceBuffer (Mixed combines those two on separate channels).
package strategy

import (
	"github.com/cortexhub/streamgateway/internal/chatproto"
)

// Sink is the per-session outbound writer queue (a single-consumer send
// queue so frames never interleave on the wire, per spec.md §5).
type Sink interface {
	Send(msg *chatproto.ChatMessage) error
}

// Strategy is the interface every output policy implements.
type Strategy interface {
	// ProcessChunk consumes one LLM chunk already classified by the Think
	// Filter as dialogue (isThinking=false) or thinking (isThinking=true).
	ProcessChunk(chunk string, isThinking bool) error
	// OnStreamComplete runs once the LLM stream signals done. For
	// sentence_sync this drives the serial per-sentence drain loop.
	OnStreamComplete() error
	// NotifyPlaybackCompleted delivers an inbound audio_playback_completed
	// event; strategies that don't wait on it ignore the call.
	NotifyPlaybackCompleted(sentenceID string)
}

func newMessage(sessionID string, channel chatproto.Channel) *chatproto.ChatMessage {
	return &chatproto.ChatMessage{
		MessageID:   chatproto.NewMessageID(),
		SessionID:   sessionID,
		Role:        chatproto.RoleAssistant,
		ChannelType: channel,
	}
}
