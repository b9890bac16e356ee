// Package channel defines the ChannelAdapter contract for the gateway's
// secondary text_only surfaces (Discord, Telegram) and a Bridge that drives
// any ChannelAdapter through the same Orchestrator the primary /ws/chat
// transport uses, collecting the turn's text chunks into one reply instead
// of streaming them frame-by-frame.
package channel

import (
	"context"

	"github.com/cortexhub/streamgateway/internal/chatproto"
	"github.com/cortexhub/streamgateway/internal/logging"
	"github.com/cortexhub/streamgateway/internal/orchestrator"
	"github.com/cortexhub/streamgateway/internal/preferences"
	"github.com/cortexhub/streamgateway/internal/session"
)

// textSink accumulates every text chunk of one turn into a single string,
// discarding audio/thinking frames, since Discord and Telegram have no
// notion of a streaming bubble or TTS playback.
type textSink struct {
	text string
}

func (s *textSink) Send(msg *chatproto.ChatMessage) error {
	if msg.Type == chatproto.TypeText && msg.Content != "" {
		s.text += msg.Content
	}
	return nil
}

// Bridge pumps one ChannelAdapter's Incoming() queue through an
// orchestrator.Orchestrator and replies via SendMessage, one turn at a time
// per user.
type Bridge struct {
	adapter   ChannelAdapter
	sessions  *session.Manager
	orch      *orchestrator.Orchestrator
	personaID string
	log       *logging.Logger
}

// NewBridge builds a Bridge driving adapter's messages through orch, each
// user keyed to its own session under personaID's persona.
func NewBridge(adapter ChannelAdapter, sessions *session.Manager, orch *orchestrator.Orchestrator, personaID string) *Bridge {
	return &Bridge{
		adapter:   adapter,
		sessions:  sessions,
		orch:      orch,
		personaID: personaID,
		log:       logging.WithComponent("channel.bridge." + adapter.Name()),
	}
}

// Run starts the adapter and pumps its Incoming() channel until ctx is
// cancelled or Incoming() closes.
func (b *Bridge) Run(ctx context.Context) error {
	if !b.adapter.IsEnabled() {
		return nil
	}
	if err := b.adapter.Start(ctx); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return b.adapter.Stop()
		case msg, ok := <-b.adapter.Incoming():
			if !ok {
				return nil
			}
			b.handle(ctx, msg)
		}
	}
}

func (b *Bridge) handle(ctx context.Context, msg *Message) {
	sessionID := b.adapter.Name() + ":" + msg.UserID
	sess := b.sessions.GetOrCreate(sessionID, msg.UserID, b.personaID)
	if sess.Preferences() == nil {
		prefs := preferences.Default()
		prefs.OutputChannel.ChatWindow.Mode = "text_only"
		prefs.OutputChannel.Live2D.Enabled = false
		sess.SetPreferences(prefs)
	}

	sink := &textSink{}
	result, err := b.orch.HandleMessage(ctx, sess, sink, msg.Content, false)
	if err != nil {
		b.log.Warn("turn failed", "user_id", msg.UserID, "err", err)
		_ = b.adapter.SendMessage(msg.UserID, &Response{Content: "sorry, something went wrong."})
		return
	}

	reply := result.AssistantText
	if reply == "" {
		reply = sink.text
	}
	if reply == "" {
		return
	}
	if err := b.adapter.SendMessage(msg.UserID, &Response{Content: reply}); err != nil {
		b.log.Warn("failed to deliver reply", "user_id", msg.UserID, "err", err)
	}
}
