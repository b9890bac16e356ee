// Package chatproto defines the wire envelope shared by every transport
// (WebSocket, Discord, Telegram) and every internal producer (strategies,
// the orchestrator, the history store).
package chatproto

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a ChatMessage.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Type is the wire discriminator. Inbound and outbound frames both carry
// exactly one of these, decoded into the single flat ChatMessage record
// rather than a graph of optional sub-objects.
type Type string

const (
	TypeText     Type = "text"
	TypeAudio    Type = "audio"
	TypeSystem   Type = "system"
	TypeError    Type = "error"
	TypeThinking Type = "thinking"
)

// Channel is a logical output surface, each governed by its own Strategy.
type Channel string

const (
	ChannelChatWindow Channel = "chat_window"
	ChannelLive2D     Channel = "live2d"
)

// ChatMessage is the single flat envelope used internally and on the wire.
// It replaces a root-plus-six-optional-sub-object graph with cross-group
// delegate methods; the delegate behavior (BothReady, etc.) is expressed as
// free functions below instead of methods pinned to a particular sub-group.
type ChatMessage struct {
	MessageID string    `json:"messageId"`
	SessionID string    `json:"sessionId"`
	Role      Role      `json:"role"`
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	Content         string  `json:"content"`
	ThinkingContent string  `json:"thinkingContent,omitempty"`
	ChannelType     Channel `json:"channelType,omitempty"`

	Streaming        bool `json:"streaming,omitempty"`
	StreamComplete   bool `json:"streamComplete,omitempty"`
	SentenceID       string `json:"sentenceId,omitempty"`
	SentenceOrder    int  `json:"sentenceOrder,omitempty"`
	SentenceComplete bool `json:"sentenceComplete,omitempty"`

	AudioData   []byte `json:"-"`
	AudioBase64 string `json:"audio,omitempty"`
	AudioFormat string `json:"audioFormat,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewMessageID generates a fresh unique message identifier.
func NewMessageID() string {
	return uuid.NewString()
}

// SentenceID builds the `channel:sessionId:order` identity used to tie an
// audio message back to the text message it illustrates.
func SentenceID(channel Channel, sessionID string, order int) string {
	return string(channel) + ":" + sessionID + ":" + itoa(order)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// BothReady reports whether a text/audio pair sharing a sentenceId are both
// present, the free-function replacement for the source's cross-group
// delegate method of the same name.
func BothReady(text, audio *ChatMessage) bool {
	return text != nil && audio != nil && text.SentenceID == audio.SentenceID
}
