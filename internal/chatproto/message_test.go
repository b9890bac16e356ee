package chatproto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSentenceID_Format(t *testing.T) {
	require.Equal(t, "chat_window:session-1:0", SentenceID(ChannelChatWindow, "session-1", 0))
	require.Equal(t, "live2d:session-1:42", SentenceID(ChannelLive2D, "session-1", 42))
}

func TestBothReady(t *testing.T) {
	text := &ChatMessage{SentenceID: "a"}
	audio := &ChatMessage{SentenceID: "a"}
	require.True(t, BothReady(text, audio))

	mismatched := &ChatMessage{SentenceID: "b"}
	require.False(t, BothReady(text, mismatched))
	require.False(t, BothReady(nil, audio))
}

func TestNewMessageID_Unique(t *testing.T) {
	a := NewMessageID()
	b := NewMessageID()
	require.NotEmpty(t, a)
	require.NotEqual(t, a, b)
}
