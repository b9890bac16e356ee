package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cortexhub/streamgateway/internal/chatproto"
	"github.com/cortexhub/streamgateway/internal/tts"
)

func TestMixed_DrivesBothChannelsFromOneChunkStream(t *testing.T) {
	pool := tts.NewPool(tts.Config{Concurrency: 2}, fakeSynthesizer{}, nil, nil)
	defer pool.Close()

	chatSink := &fakeSink{}
	live2DSink := &fakeSink{}
	chatWindow := NewCharStreamTTS(CharStreamTTSConfig{
		SessionID: "session-1", Channel: chatproto.ChannelChatWindow, Sink: chatSink, Pool: pool, Format: "wav",
	})
	live2D := NewSentenceSync(SentenceSyncConfig{
		SessionID: "session-1", Channel: chatproto.ChannelLive2D, Sink: live2DSink, Pool: pool, Format: "wav",
		BubbleTimeout: 30 * time.Millisecond,
	})
	m := NewMixed(chatWindow, live2D)

	require.NoError(t, m.ProcessChunk("One sentence.", false))
	require.NoError(t, m.OnStreamComplete())

	require.NotEmpty(t, chatSink.messages())
	require.NotEmpty(t, live2DSink.messages())
}
