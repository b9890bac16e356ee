package strategy

import "github.com/cortexhub/streamgateway/internal/chatproto"

// TextOnly emits one text (or thinking) message per chunk, no TTS.
type TextOnly struct {
	sessionID string
	channel   chatproto.Channel
	sink      Sink
}

// NewTextOnly builds the text_only strategy for one session/channel pair.
func NewTextOnly(sessionID string, channel chatproto.Channel, sink Sink) *TextOnly {
	return &TextOnly{sessionID: sessionID, channel: channel, sink: sink}
}

func (s *TextOnly) ProcessChunk(chunk string, isThinking bool) error {
	msg := newMessage(s.sessionID, s.channel)
	msg.Content = chunk
	msg.Streaming = true
	if isThinking {
		msg.Type = chatproto.TypeThinking
		msg.Metadata = map[string]any{"stage": "thinking"}
	} else {
		msg.Type = chatproto.TypeText
	}
	return s.sink.Send(msg)
}

func (s *TextOnly) OnStreamComplete() error {
	msg := newMessage(s.sessionID, s.channel)
	msg.Type = chatproto.TypeText
	msg.Content = ""
	msg.Streaming = false
	msg.StreamComplete = true
	return s.sink.Send(msg)
}

func (s *TextOnly) NotifyPlaybackCompleted(string) {}
