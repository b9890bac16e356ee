package strategy

// Mixed runs char_stream_tts on the chat_window channel and sentence_sync on
// the live2d channel concurrently against the same chunk stream; both see
// the same dialogue bytes but consume them independently (spec.md §4.3).
type Mixed struct {
	chatWindow *CharStreamTTS
	live2D     *SentenceSync
}

// NewMixed combines an already-constructed chat_window and live2d strategy.
func NewMixed(chatWindow *CharStreamTTS, live2D *SentenceSync) *Mixed {
	return &Mixed{chatWindow: chatWindow, live2D: live2D}
}

func (m *Mixed) ProcessChunk(chunk string, isThinking bool) error {
	if err := m.chatWindow.ProcessChunk(chunk, isThinking); err != nil {
		return err
	}
	return m.live2D.ProcessChunk(chunk, isThinking)
}

// OnStreamComplete drains both channels concurrently: sentence_sync's serial
// per-sentence wait can take many seconds and must not block chat_window's
// bounded TTS wait, or vice versa.
func (m *Mixed) OnStreamComplete() error {
	errCh := make(chan error, 2)
	go func() { errCh <- m.chatWindow.OnStreamComplete() }()
	go func() { errCh <- m.live2D.OnStreamComplete() }()
	var first error
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m *Mixed) NotifyPlaybackCompleted(sentenceID string) {
	m.live2D.NotifyPlaybackCompleted(sentenceID)
}
