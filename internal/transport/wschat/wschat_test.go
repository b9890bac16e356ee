package wschat

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/cortexhub/streamgateway/internal/chatproto"
	"github.com/cortexhub/streamgateway/internal/contextbuilder"
	"github.com/cortexhub/streamgateway/internal/history"
	"github.com/cortexhub/streamgateway/internal/inference"
	"github.com/cortexhub/streamgateway/internal/knowledge"
	"github.com/cortexhub/streamgateway/internal/orchestrator"
	"github.com/cortexhub/streamgateway/internal/session"
)

type stubGenerator struct{ reply string }

func (g *stubGenerator) GenerateStreamWithInterruptCheck(ctx context.Context, lane string, req *inference.Request, onChunk func(inference.StreamChunk) error, onError func(error), onComplete func(), interruptPredicate func() bool) error {
	if err := onChunk(inference.StreamChunk{Content: g.reply}); err != nil {
		return nil
	}
	onComplete()
	return nil
}

type stubKnowledge struct{}

func (stubKnowledge) SystemPrompt(string, knowledge.Config) string          { return "" }
func (stubKnowledge) ShortTermMemory(string, string, int) (string, error)   { return "", nil }
func (stubKnowledge) LongTermKnowledge(string, string, int) (string, error) { return "", nil }
func (stubKnowledge) WebSearchIfNeeded(string, bool) (string, bool)         { return "", false }

type stubHistory struct{}

func (stubHistory) Append(string, history.Entry) error { return nil }

func newTestHandler() *Handler {
	orch := orchestrator.New(orchestrator.Config{
		Router:      &stubGenerator{reply: "hello there"},
		Knowledge:   stubKnowledge{},
		Builder:     contextbuilder.New(contextbuilder.Config{}),
		History:     stubHistory{},
		DefaultLane: "local",
	})
	return New(Config{
		Sessions: session.NewManager(session.Config{}),
		Orch:     orch,
	})
}

func TestServeHTTPRoundTripsTextMessage(t *testing.T) {
	h := newTestHandler()
	srv := httptest.NewServer(h)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?session_id=s1&user_id=u1"
	conn, _, err := gorilla.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	in := chatproto.Inbound{Type: chatproto.InboundText, SessionID: "s1", Content: "hi"}
	require.NoError(t, conn.WriteJSON(in))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got *chatproto.ChatMessage
	for {
		var msg chatproto.ChatMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read failed before a terminal message arrived: %v", err)
		}
		if msg.StreamComplete {
			got = &msg
			break
		}
	}
	require.NotNil(t, got)
}

func TestConnSinkPreservesOrder(t *testing.T) {
	s := newConnSink()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Send(&chatproto.ChatMessage{SentenceOrder: i}))
	}
	for i := 0; i < 5; i++ {
		msg := <-s.queue
		require.Equal(t, i, msg.SentenceOrder)
	}
}
