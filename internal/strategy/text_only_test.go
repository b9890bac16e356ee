package strategy

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cortexhub/streamgateway/internal/chatproto"
)

type fakeSink struct {
	mu  sync.Mutex
	out []*chatproto.ChatMessage
}

func (s *fakeSink) Send(msg *chatproto.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = append(s.out, msg)
	return nil
}

func (s *fakeSink) messages() []*chatproto.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*chatproto.ChatMessage, len(s.out))
	copy(out, s.out)
	return out
}

func TestTextOnly_EmitsOneMessagePerChunk(t *testing.T) {
	sink := &fakeSink{}
	s := NewTextOnly("session-1", chatproto.ChannelChatWindow, sink)

	require.NoError(t, s.ProcessChunk("hello ", false))
	require.NoError(t, s.ProcessChunk("thinking...", true))
	require.NoError(t, s.OnStreamComplete())

	msgs := sink.messages()
	require.Len(t, msgs, 3)
	require.Equal(t, chatproto.TypeText, msgs[0].Type)
	require.Equal(t, "hello ", msgs[0].Content)
	require.Equal(t, chatproto.TypeThinking, msgs[1].Type)
	require.True(t, msgs[2].StreamComplete)
}
