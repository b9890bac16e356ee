package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cortexhub/streamgateway/internal/chatproto"
	"github.com/cortexhub/streamgateway/internal/tts"
)

func TestSentenceSync_DrainsSerialWithBubbleTimeout(t *testing.T) {
	pool := tts.NewPool(tts.Config{Concurrency: 1}, fakeSynthesizer{}, nil, nil)
	defer pool.Close()

	sink := &fakeSink{}
	s := NewSentenceSync(SentenceSyncConfig{
		SessionID:     "session-1",
		Channel:       chatproto.ChannelChatWindow,
		Sink:          sink,
		Pool:          pool,
		Format:        "wav",
		BubbleTimeout: 30 * time.Millisecond,
	})

	require.NoError(t, s.ProcessChunk("First sentence. ", false))
	require.NoError(t, s.ProcessChunk("Second sentence.", false))
	require.NoError(t, s.OnStreamComplete())

	msgs := sink.messages()
	var types []chatproto.Type
	for _, m := range msgs {
		types = append(types, m.Type)
	}
	require.Equal(t, []chatproto.Type{
		chatproto.TypeText, chatproto.TypeAudio,
		chatproto.TypeText, chatproto.TypeAudio,
		chatproto.TypeText,
	}, types)
	require.True(t, msgs[len(msgs)-1].StreamComplete)
}

func TestSentenceSync_NotifyPlaybackCompletedUnblocksWaiter(t *testing.T) {
	pool := tts.NewPool(tts.Config{Concurrency: 1}, fakeSynthesizer{}, nil, nil)
	defer pool.Close()

	sink := &fakeSink{}
	s := NewSentenceSync(SentenceSyncConfig{
		SessionID:     "session-1",
		Channel:       chatproto.ChannelChatWindow,
		Sink:          sink,
		Pool:          pool,
		Format:        "wav",
		BubbleTimeout: 5 * time.Second,
	})

	done := make(chan struct{})
	go func() {
		_ = s.ProcessChunk("Only sentence.", false)
		_ = s.OnStreamComplete()
		close(done)
	}()

	sentenceID := chatproto.SentenceID(chatproto.ChannelChatWindow, "session-1", 0)
	require.Eventually(t, func() bool {
		s.mu.Lock()
		_, waiting := s.waiters[sentenceID]
		s.mu.Unlock()
		return waiting
	}, time.Second, 2*time.Millisecond)

	s.NotifyPlaybackCompleted(sentenceID)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("OnStreamComplete did not unblock after NotifyPlaybackCompleted")
	}
}

func TestSentenceSync_CancelledSessionDoesNotHangOnStreamComplete(t *testing.T) {
	cancelled := true
	pool := tts.NewPool(tts.Config{Concurrency: 1}, fakeSynthesizer{}, func(string) bool { return cancelled }, nil)
	defer pool.Close()

	sink := &fakeSink{}
	s := NewSentenceSync(SentenceSyncConfig{
		SessionID:     "session-1",
		Channel:       chatproto.ChannelChatWindow,
		Sink:          sink,
		Pool:          pool,
		Format:        "wav",
		BubbleTimeout: 5 * time.Second,
		Cancelled:     func() bool { return cancelled },
	})

	require.NoError(t, s.ProcessChunk("First sentence. ", false))
	require.NoError(t, s.ProcessChunk("Second sentence.", false))

	done := make(chan error, 1)
	go func() { done <- s.OnStreamComplete() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("OnStreamComplete hung on a cancelled session's pending TTS result")
	}

	msgs := sink.messages()
	require.True(t, msgs[len(msgs)-1].StreamComplete)
}

func TestSentenceSync_ThinkingChunksIgnored(t *testing.T) {
	pool := tts.NewPool(tts.Config{Concurrency: 1}, fakeSynthesizer{}, nil, nil)
	defer pool.Close()

	sink := &fakeSink{}
	s := NewSentenceSync(SentenceSyncConfig{
		SessionID:     "session-1",
		Channel:       chatproto.ChannelChatWindow,
		Sink:          sink,
		Pool:          pool,
		Format:        "wav",
		BubbleTimeout: 30 * time.Millisecond,
	})

	require.NoError(t, s.ProcessChunk("should be skipped", true))
	require.Empty(t, s.sentences)
}
