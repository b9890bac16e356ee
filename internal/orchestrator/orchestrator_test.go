package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cortexhub/streamgateway/internal/chaterr"
	"github.com/cortexhub/streamgateway/internal/chatproto"
	"github.com/cortexhub/streamgateway/internal/contextbuilder"
	"github.com/cortexhub/streamgateway/internal/history"
	"github.com/cortexhub/streamgateway/internal/inference"
	"github.com/cortexhub/streamgateway/internal/knowledge"
	"github.com/cortexhub/streamgateway/internal/session"
	"github.com/cortexhub/streamgateway/internal/tts"
)

// fakeGenerator stands in for the LLM adapter (C10). blockUntilCancel makes
// it behave like a real stream that never produces a chunk until the
// session's cancellation flag is observed, exercising the orchestrator's
// cancellation-liveness path without a live engine.
type fakeGenerator struct {
	chunks           []string
	blockUntilCancel bool
}

func (f *fakeGenerator) GenerateStreamWithInterruptCheck(ctx context.Context, lane string, req *inference.Request, onChunk func(inference.StreamChunk) error, onError func(error), onComplete func(), interruptPredicate func() bool) error {
	if f.blockUntilCancel {
		for !interruptPredicate() {
			time.Sleep(time.Millisecond)
		}
		return nil
	}
	for i, c := range f.chunks {
		if err := onChunk(inference.StreamChunk{Content: c, ChunkIndex: i}); err != nil {
			return nil
		}
	}
	onComplete()
	return nil
}

type fakeKnowledge struct{}

func (fakeKnowledge) SystemPrompt(string, knowledge.Config) string          { return "system prompt" }
func (fakeKnowledge) ShortTermMemory(string, string, int) (string, error)   { return "", nil }
func (fakeKnowledge) LongTermKnowledge(string, string, int) (string, error) { return "", nil }
func (fakeKnowledge) WebSearchIfNeeded(string, bool) (string, bool)         { return "", false }

type fakeHistory struct {
	mu      sync.Mutex
	entries []history.Entry
}

func (f *fakeHistory) Append(sessionID string, entry history.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeHistory) snapshot() []history.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]history.Entry, len(f.entries))
	copy(out, f.entries)
	return out
}

type fakeExtractor struct {
	called chan struct{}
}

func (f *fakeExtractor) ExtractTurn(sessionID, userMessage, assistantReply string) error {
	close(f.called)
	return nil
}

type fakeSink struct {
	mu       sync.Mutex
	messages []*chatproto.ChatMessage
}

func (s *fakeSink) Send(msg *chatproto.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return nil
}

func (s *fakeSink) snapshot() []*chatproto.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*chatproto.ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

func newTestOrchestrator(gen Generator, hist HistorySink, extractor TurnExtractor) *Orchestrator {
	return New(Config{
		Router:      gen,
		Knowledge:   fakeKnowledge{},
		Builder:     contextbuilder.New(contextbuilder.Config{}),
		History:     hist,
		Extractor:   extractor,
		DefaultLane: "local",
	})
}

func TestHandleMessageReachesDoneAndPersistsHistory(t *testing.T) {
	gen := &fakeGenerator{chunks: []string{"Hello ", "world."}}
	hist := &fakeHistory{}
	extractorDone := make(chan struct{})
	orch := newTestOrchestrator(gen, hist, &fakeExtractor{called: extractorDone})

	sess := session.New("sess-done", "user-1", "", session.Config{})
	sink := &fakeSink{}

	result, err := orch.HandleMessage(context.Background(), sess, sink, "hi", false)
	require.NoError(t, err)
	require.Equal(t, Done, result.State)
	require.Equal(t, "Hello world.", result.AssistantText)

	select {
	case <-extractorDone:
	case <-time.After(time.Second):
		t.Fatal("background memory extractor was never invoked")
	}

	entries := hist.snapshot()
	require.Len(t, entries, 2)
	require.Equal(t, "user", entries[0].Role)
	require.Equal(t, "hi", entries[0].Content)
	require.Equal(t, "assistant", entries[1].Role)
	require.Equal(t, "Hello world.", entries[1].Content)

	msgs := sink.snapshot()
	require.NotEmpty(t, msgs)
	last := msgs[len(msgs)-1]
	require.True(t, last.StreamComplete, "exactly one streamComplete=true message must close out the turn")
}

func TestHandleMessageCancellationIsLive(t *testing.T) {
	gen := &fakeGenerator{blockUntilCancel: true}
	orch := newTestOrchestrator(gen, &fakeHistory{}, nil)

	sess := session.New("sess-cancel", "user-1", "", session.Config{})
	sink := &fakeSink{}

	resultCh := make(chan *Result, 1)
	go func() {
		res, _ := orch.HandleMessage(context.Background(), sess, sink, "hi", false)
		resultCh <- res
	}()

	require.Eventually(t, func() bool { return sess.ActiveTurn() != nil }, time.Second, time.Millisecond)
	sess.Cancel()

	select {
	case res := <-resultCh:
		require.Equal(t, Cancelled, res.State)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled turn did not terminate promptly")
	}

	msgs := sink.snapshot()
	require.NotEmpty(t, msgs, "a terminal message must still be sent after cancellation")
	require.True(t, msgs[len(msgs)-1].StreamComplete)
}

// blockingAfterChunkGenerator emits one chunk, triggering the strategy's
// sentence buffer and a real TTS pool submission, then blocks until the
// turn is cancelled — reproducing a cancellation that lands while a
// sentence's synthesis is still outstanding, the path the cancellation
// test using Config{TTSPool: nil} never exercised.
type blockingAfterChunkGenerator struct {
	chunk string
}

func (f *blockingAfterChunkGenerator) GenerateStreamWithInterruptCheck(ctx context.Context, lane string, req *inference.Request, onChunk func(inference.StreamChunk) error, onError func(error), onComplete func(), interruptPredicate func() bool) error {
	if err := onChunk(inference.StreamChunk{Content: f.chunk}); err != nil {
		return nil
	}
	for !interruptPredicate() {
		time.Sleep(time.Millisecond)
	}
	return nil
}

// neverRespondingSynthesizer blocks until its context is cancelled, modeling
// a TTS call that outlives the cancelled turn waiting on it.
type neverRespondingSynthesizer struct{}

func (neverRespondingSynthesizer) Synthesize(ctx context.Context, text, speakerID string, speed float64, format string) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestHandleMessageCancellationDuringTTSDrainDoesNotDeadlock(t *testing.T) {
	gen := &blockingAfterChunkGenerator{chunk: "Hello there. "}
	pool := tts.NewPool(tts.Config{Concurrency: 1, Timeout: time.Minute}, neverRespondingSynthesizer{}, nil, nil)
	defer pool.Close()

	orch := New(Config{
		Router:      gen,
		Knowledge:   fakeKnowledge{},
		Builder:     contextbuilder.New(contextbuilder.Config{}),
		History:     &fakeHistory{},
		DefaultLane: "local",
		TTSPool:     pool,
	})

	sess := session.New("sess-cancel-drain", "user-1", "", session.Config{})
	sink := &fakeSink{}

	resultCh := make(chan *Result, 1)
	go func() {
		res, _ := orch.HandleMessage(context.Background(), sess, sink, "hi", false)
		resultCh <- res
	}()

	require.Eventually(t, func() bool {
		for _, m := range sink.snapshot() {
			if m.Type == chatproto.TypeText {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond, "expected the sentence's text message before cancelling")

	sess.Cancel()

	select {
	case res := <-resultCh:
		require.Equal(t, Cancelled, res.State)
	case <-time.After(2 * time.Second):
		t.Fatal("turn deadlocked draining a cancelled session's outstanding TTS result")
	}

	msgs := sink.snapshot()
	require.True(t, msgs[len(msgs)-1].StreamComplete)

	// EndTurn must have run: the session accepts a brand new turn.
	gen2 := &fakeGenerator{chunks: []string{"ok."}}
	orch2 := New(Config{
		Router:      gen2,
		Knowledge:   fakeKnowledge{},
		Builder:     contextbuilder.New(contextbuilder.Config{}),
		History:     &fakeHistory{},
		DefaultLane: "local",
	})
	_, err := orch2.HandleMessage(context.Background(), sess, sink, "again", false)
	require.NoError(t, err, "session must accept a new turn after the previous one ended")
}

func TestHandleMessageRejectsConcurrentTurnWithoutInterrupt(t *testing.T) {
	gen := &fakeGenerator{blockUntilCancel: true}
	orch := newTestOrchestrator(gen, &fakeHistory{}, nil)

	sess := session.New("sess-busy", "user-1", "", session.Config{})
	sink := &fakeSink{}

	go orch.HandleMessage(context.Background(), sess, sink, "first", false)
	require.Eventually(t, func() bool { return sess.ActiveTurn() != nil }, time.Second, time.Millisecond)

	_, err := orch.HandleMessage(context.Background(), sess, sink, "second", false)
	require.Error(t, err)
	require.Equal(t, chaterr.InvalidRequest, chaterr.CodeOf(err))

	sess.Cancel()
}
