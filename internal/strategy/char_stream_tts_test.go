package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cortexhub/streamgateway/internal/chatproto"
	"github.com/cortexhub/streamgateway/internal/tts"
)

type fakeSynthesizer struct{}

func (fakeSynthesizer) Synthesize(ctx context.Context, text, speakerID string, speed float64, format string) ([]byte, error) {
	return []byte("audio:" + text), nil
}

func TestCharStreamTTS_EmitsTextImmediatelyAndAudioPerSentence(t *testing.T) {
	pool := tts.NewPool(tts.Config{Concurrency: 1}, fakeSynthesizer{}, nil, nil)
	defer pool.Close()

	sink := &fakeSink{}
	s := NewCharStreamTTS(CharStreamTTSConfig{
		SessionID: "session-1",
		Channel:   chatproto.ChannelChatWindow,
		Sink:      sink,
		Pool:      pool,
		Format:    "wav",
	})

	require.NoError(t, s.ProcessChunk("Hello there. ", false))
	require.NoError(t, s.ProcessChunk("Second sentence.", false))
	require.NoError(t, s.OnStreamComplete())

	require.Eventually(t, func() bool {
		msgs := sink.messages()
		audioCount := 0
		for _, m := range msgs {
			if m.Type == chatproto.TypeAudio {
				audioCount++
			}
		}
		return audioCount == 2
	}, time.Second, 5*time.Millisecond)

	msgs := sink.messages()
	require.Equal(t, chatproto.TypeText, msgs[0].Type)
	require.True(t, msgs[len(msgs)-1].StreamComplete)
}

// blockingSynthesizer never returns until released, modeling a TTS call
// that outlives the turn it belongs to.
type blockingSynthesizer struct {
	release chan struct{}
}

func (b blockingSynthesizer) Synthesize(ctx context.Context, text, speakerID string, speed float64, format string) ([]byte, error) {
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return []byte("audio:" + text), nil
}

func TestCharStreamTTS_CancelledSessionDoesNotHangOnStreamComplete(t *testing.T) {
	cancelled := true
	pool := tts.NewPool(tts.Config{Concurrency: 1}, fakeSynthesizer{}, func(string) bool { return cancelled }, nil)
	defer pool.Close()

	sink := &fakeSink{}
	s := NewCharStreamTTS(CharStreamTTSConfig{
		SessionID: "session-1",
		Channel:   chatproto.ChannelChatWindow,
		Sink:      sink,
		Pool:      pool,
		Format:    "wav",
		Deadline:  time.Second,
		Cancelled: func() bool { return cancelled },
	})

	require.NoError(t, s.ProcessChunk("Buffered sentence.", false))

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

func TestCharStreamTTS_TimeoutEmitsErrorForStragglerBeforeTerminalMessage(t *testing.T) {
	release := make(chan struct{})
	pool := tts.NewPool(tts.Config{Concurrency: 1}, blockingSynthesizer{release: release}, nil, nil)
	defer pool.Close()

	sink := &fakeSink{}
	s := NewCharStreamTTS(CharStreamTTSConfig{
		SessionID: "session-1",
		Channel:   chatproto.ChannelChatWindow,
		Sink:      sink,
		Pool:      pool,
		Format:    "wav",
		Deadline:  20 * time.Millisecond,
	})

	require.NoError(t, s.ProcessChunk("Only sentence.", false))
	require.NoError(t, s.OnStreamComplete())

	msgs := sink.messages()
	last := msgs[len(msgs)-1]
	require.True(t, last.StreamComplete)

	foundTimeoutError := false
	for _, m := range msgs {
		if m.Type == chatproto.TypeError {
			foundTimeoutError = true
		}
	}
	require.True(t, foundTimeoutError, "expected a tts_error message for the straggler before streamComplete")

	// Let the straggler's synthesis finally finish; its late delivery must be
	// a no-op and must not append anything after the terminal message.
	close(release)
	time.Sleep(50 * time.Millisecond)
	msgsAfter := sink.messages()
	require.Equal(t, len(msgs), len(msgsAfter), "straggler must not deliver after streamComplete")
}

func TestCharStreamTTS_ThinkingChunkBypassesSentenceBuffer(t *testing.T) {
	pool := tts.NewPool(tts.Config{Concurrency: 1}, fakeSynthesizer{}, nil, nil)
	defer pool.Close()

	sink := &fakeSink{}
	s := NewCharStreamTTS(CharStreamTTSConfig{
		SessionID: "session-1",
		Channel:   chatproto.ChannelChatWindow,
		Sink:      sink,
		Pool:      pool,
		Format:    "wav",
	})

	require.NoError(t, s.ProcessChunk("pondering the question...", true))

	msgs := sink.messages()
	require.Len(t, msgs, 1)
	require.Equal(t, chatproto.TypeThinking, msgs[0].Type)
}
