// Package orchestrator implements the Stream Orchestrator (C8): the
// Idle → Building → Streaming → Draining → Done|Cancelled|Failed state
// machine that owns one turn at a time per session, per spec.md §4.6. It
// wires together the context builder (C6), the LLM adapter (C10), the think
// filter (C2), an output strategy (C3), and the history store (C9), the same
// producer/consumer shape the teacher pack uses for its streamLLMWithTTS
// pipeline but generalized to the strategy/think-filter split this spec
// requires.
package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/cortexhub/streamgateway/internal/bus"
	"github.com/cortexhub/streamgateway/internal/chaterr"
	"github.com/cortexhub/streamgateway/internal/chatproto"
	"github.com/cortexhub/streamgateway/internal/contextbuilder"
	"github.com/cortexhub/streamgateway/internal/history"
	"github.com/cortexhub/streamgateway/internal/inference"
	"github.com/cortexhub/streamgateway/internal/knowledge"
	"github.com/cortexhub/streamgateway/internal/logging"
	"github.com/cortexhub/streamgateway/internal/metrics"
	"github.com/cortexhub/streamgateway/internal/preferences"
	"github.com/cortexhub/streamgateway/internal/segment"
	"github.com/cortexhub/streamgateway/internal/session"
	"github.com/cortexhub/streamgateway/internal/strategy"
	"github.com/cortexhub/streamgateway/internal/tts"
)

// State is one stage of a turn's lifecycle.
type State int

const (
	Idle State = iota
	Building
	Streaming
	Draining
	Done
	Cancelled
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Building:
		return "building"
	case Streaming:
		return "streaming"
	case Draining:
		return "draining"
	case Done:
		return "done"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Generator is the subset of the LLM adapter (C10) the orchestrator drives.
// Accepting an interface rather than *inference.Router keeps the state
// machine testable without a live engine.
type Generator interface {
	GenerateStreamWithInterruptCheck(ctx context.Context, lane string, req *inference.Request, onChunk func(inference.StreamChunk) error, onError func(error), onComplete func(), interruptPredicate func() bool) error
}

// KnowledgeSource is the subset of the Knowledge Facade (C7) the orchestrator
// needs to assemble one turn's context.
type KnowledgeSource interface {
	SystemPrompt(personaID string, cfg knowledge.Config) string
	ShortTermMemory(sessionID, query string, limit int) (string, error)
	LongTermKnowledge(sessionID, query string, limit int) (string, error)
	WebSearchIfNeeded(query string, enabled bool) (string, bool)
}

// ContextBuilder is the subset of the Context Builder (C6) the orchestrator
// needs.
type ContextBuilder interface {
	Build(in contextbuilder.Input) (messages []contextbuilder.Message, overBudget bool)
}

// HistorySink is the subset of the History Store (C9) the orchestrator needs.
type HistorySink interface {
	Append(sessionID string, entry history.Entry) error
}

// TurnExtractor is the background memory extractor triggered on Done.
type TurnExtractor interface {
	ExtractTurn(sessionID, userMessage, assistantReply string) error
}

// Config bundles every collaborator and tunable the orchestrator needs,
// per spec.md §9's explicit-dependency-bundle design note (no global mutable
// singletons).
type Config struct {
	Router         Generator
	Knowledge      KnowledgeSource
	Builder        ContextBuilder
	History        HistorySink
	Extractor      TurnExtractor
	TTSPool        *tts.Pool
	Bus            bus.Publisher
	DefaultLane    string
	PromptCfg      knowledge.Config
	ShortTermLimit int
	LongTermLimit  int
	WebSearch      bool
}

// Orchestrator owns the Building→Streaming→Draining state machine for every
// session it's asked to drive. It holds no per-turn state itself — that
// lives in the Session (active-turn handle, cancellation flag) and is local
// to each HandleMessage call otherwise.
type Orchestrator struct {
	cfg Config
	log *logging.Logger
}

// New builds an Orchestrator from its dependency bundle.
func New(cfg Config) *Orchestrator {
	if cfg.ShortTermLimit <= 0 {
		cfg.ShortTermLimit = 5
	}
	if cfg.LongTermLimit <= 0 {
		cfg.LongTermLimit = 5
	}
	return &Orchestrator{cfg: cfg, log: logging.WithComponent("orchestrator")}
}

// Result reports how one HandleMessage call's turn ended.
type Result struct {
	State         State
	AssistantText string
	Err           error
}

// HandleMessage runs one full turn for sess: Building, Streaming, Draining,
// then Done, Cancelled, or Failed. At most one turn is active per session
// (spec.md §4.6); if one is already running, interrupt=false rejects the
// new message and interrupt=true cancels the running turn before starting.
func (o *Orchestrator) HandleMessage(ctx context.Context, sess *session.Session, sink strategy.Sink, userMessage string, interrupt bool) (*Result, error) {
	if sess.ActiveTurn() != nil {
		if !interrupt {
			return nil, chaterr.New(chaterr.InvalidRequest, "a turn is already active for this session", nil)
		}
		sess.Cancel()
		for i := 0; i < 200 && sess.ActiveTurn() != nil; i++ {
			time.Sleep(5 * time.Millisecond)
		}
	}

	turnStart := time.Now()
	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	turnID := chatproto.NewMessageID()
	if !sess.BeginTurn(turnID, cancel) {
		return nil, chaterr.New(chaterr.InvalidRequest, "a turn is already active for this session", nil)
	}
	defer sess.EndTurn()

	state := Building
	o.log.Debug("turn building", "session_id", sess.ID, "turn_id", turnID)

	prefs := sess.Preferences()
	if prefs == nil {
		prefs = preferences.Default()
	}

	messages, overBudget := o.buildContext(sess, prefs, userMessage)
	if overBudget {
		o.log.Warn("turn exceeded token budget; history/knowledge dropped", "session_id", sess.ID, "turn_id", turnID)
	}
	_ = o.cfg.History.Append(sess.ID, history.Entry{Type: "text", Role: "user", Content: userMessage})

	strat := o.buildStrategy(sess, prefs, sink)
	sess.SetActiveStrategy(strat)
	defer sess.SetActiveStrategy(nil)

	state = Streaming
	assistantText, streamErr := o.stream(turnCtx, sess, prefs, messages, strat)

	state = Draining
	drainErr := strat.OnStreamComplete()

	if streamErr != nil {
		state = Failed
		o.sendError(sink, sess, streamErr)
		metrics.TurnDuration.WithLabelValues(state.String()).Observe(time.Since(turnStart).Seconds())
		return &Result{State: state, Err: streamErr}, streamErr
	}

	if sess.Cancelled() {
		state = Cancelled
		o.log.Info("turn cancelled", "session_id", sess.ID, "turn_id", turnID)
		metrics.TurnsCancelled.Inc()
		metrics.TurnDuration.WithLabelValues(state.String()).Observe(time.Since(turnStart).Seconds())
		return &Result{State: state, AssistantText: assistantText}, nil
	}

	if drainErr != nil {
		state = Failed
		o.sendError(sink, sess, drainErr)
		metrics.TurnDuration.WithLabelValues(state.String()).Observe(time.Since(turnStart).Seconds())
		return &Result{State: state, Err: drainErr}, drainErr
	}

	state = Done
	o.finishTurn(sess, userMessage, assistantText)
	metrics.TurnDuration.WithLabelValues(state.String()).Observe(time.Since(turnStart).Seconds())
	return &Result{State: state, AssistantText: assistantText}, nil
}

// buildContext runs the Context Builder (C6) over the Knowledge Facade's
// (C7) persona/memory/web-search retrieval and the session's bounded
// in-memory recent-history window.
func (o *Orchestrator) buildContext(sess *session.Session, prefs *preferences.UserPreferences, userMessage string) ([]contextbuilder.Message, bool) {
	systemPrompt := o.cfg.Knowledge.SystemPrompt(sess.PersonaID, o.cfg.PromptCfg)

	shortTerm, err := o.cfg.Knowledge.ShortTermMemory(sess.ID, userMessage, o.cfg.ShortTermLimit)
	if err != nil {
		o.log.Warn("short-term memory lookup failed", "session_id", sess.ID, "err", err)
	}
	longTerm, err := o.cfg.Knowledge.LongTermKnowledge(sess.ID, userMessage, o.cfg.LongTermLimit)
	if err != nil {
		o.log.Warn("long-term knowledge lookup failed", "session_id", sess.ID, "err", err)
	}
	webBlock, _ := o.cfg.Knowledge.WebSearchIfNeeded(userMessage, o.cfg.WebSearch && prefs.WebSearch.Enabled)

	knowledgeBlock := shortTerm + longTerm

	return o.cfg.Builder.Build(contextbuilder.Input{
		SystemPrompt:   systemPrompt,
		WebSearchBlock: webBlock,
		KnowledgeBlock: knowledgeBlock,
		History:        sess.RecentHistory(),
		UserMessage:    userMessage,
	})
}

// stream runs the LLM adapter's stream, routing each chunk through the
// think filter (C2) and then the output strategy (C3). It returns the full
// dialogue-mode text seen, for history persistence, regardless of whether
// the stream ended normally or was interrupted by cancellation.
func (o *Orchestrator) stream(ctx context.Context, sess *session.Session, prefs *preferences.UserPreferences, messages []contextbuilder.Message, strat strategy.Strategy) (string, error) {
	reqMessages := make([]inference.Message, len(messages))
	for i, m := range messages {
		reqMessages[i] = inference.Message{Role: m.Role, Content: m.Content}
	}

	filter := segment.NewThinkFilter()
	var dialogue strings.Builder
	var chunkErr error

	onChunk := func(c inference.StreamChunk) error {
		if c.Content == "" {
			return nil
		}
		d, t := filter.AddSplit([]byte(c.Content))
		if len(d) > 0 {
			dialogue.Write(d)
			if err := strat.ProcessChunk(string(d), false); err != nil {
				chunkErr = err
				return err
			}
		}
		if len(t) > 0 {
			if err := strat.ProcessChunk(string(t), true); err != nil {
				chunkErr = err
				return err
			}
		}
		return nil
	}

	var genErr error
	onError := func(err error) { genErr = err }

	req := &inference.Request{
		Messages:    reqMessages,
		Model:       prefs.LLM.Model,
		Temperature: prefs.LLM.Temperature,
		MaxTokens:   prefs.LLM.MaxTokens,
		Stream:      true,
		SessionID:   sess.ID,
	}

	err := o.cfg.Router.GenerateStreamWithInterruptCheck(ctx, o.cfg.DefaultLane, req, onChunk, onError, func() {}, sess.Cancelled)
	if err == nil && !sess.Cancelled() {
		d, t := filter.FlushSplit()
		if len(d) > 0 {
			dialogue.Write(d)
			if ferr := strat.ProcessChunk(string(d), false); ferr != nil {
				chunkErr = ferr
			}
		}
		if len(t) > 0 {
			if ferr := strat.ProcessChunk(string(t), true); ferr != nil {
				chunkErr = ferr
			}
		}
	}

	if chunkErr != nil {
		return dialogue.String(), chunkErr
	}
	if err != nil {
		return dialogue.String(), err
	}
	if genErr != nil {
		return dialogue.String(), genErr
	}
	return dialogue.String(), nil
}

// finishTurn persists the completed turn to the durable history store and
// the session's in-memory recent-history window, then triggers the
// background memory extractor — none of this blocks the turn's terminal
// message, already sent by Draining.
func (o *Orchestrator) finishTurn(sess *session.Session, userMessage, assistantText string) {
	if err := o.cfg.History.Append(sess.ID, history.Entry{Type: "text", Role: "assistant", Content: assistantText}); err != nil {
		o.log.Warn("history append failed", "session_id", sess.ID, "err", err)
	}
	sess.AddHistory("user", userMessage)
	sess.AddHistory("assistant", assistantText)

	if o.cfg.Extractor == nil {
		return
	}
	go func() {
		if err := o.cfg.Extractor.ExtractTurn(sess.ID, userMessage, assistantText); err != nil {
			o.log.Warn("memory extraction failed", "session_id", sess.ID, "err", err)
		}
	}()
}

// sendError emits a classified error message on the chat_window channel,
// per spec.md §7: every outbound failure surfaces as an `error` message
// carrying errorCode/details rather than dropping the connection.
func (o *Orchestrator) sendError(sink strategy.Sink, sess *session.Session, err error) {
	code := chaterr.OrchestratorCode(chaterr.CodeOf(err))
	msg := &chatproto.ChatMessage{
		MessageID:   chatproto.NewMessageID(),
		SessionID:   sess.ID,
		Role:        chatproto.RoleAssistant,
		Type:        chatproto.TypeError,
		ChannelType: chatproto.ChannelChatWindow,
		Metadata:    map[string]any{"errorCode": string(code), "details": err.Error()},
	}
	if sendErr := sink.Send(msg); sendErr != nil {
		o.log.Warn("failed to deliver error message", "session_id", sess.ID, "err", sendErr)
	}
}

// buildStrategy constructs the per-turn Strategy from the session's output
// channel preferences, fanning out to both chat_window and live2d when both
// are enabled. The common case (chat_window=char_stream_tts,
// live2d=sentence_sync) reuses strategy.Mixed directly; any other
// combination uses the generic multiStrategy fan-out below.
func (o *Orchestrator) buildStrategy(sess *session.Session, prefs *preferences.UserPreferences, sink strategy.Sink) strategy.Strategy {
	oc := prefs.OutputChannel
	var parts []strategy.Strategy

	if oc.ChatWindow.Enabled {
		parts = append(parts, o.chatWindowStrategy(sess, oc.ChatWindow, sink))
	}
	if oc.Live2D.Enabled {
		parts = append(parts, o.live2DStrategy(sess, oc.Live2D, sink))
	}
	if len(parts) == 0 {
		return strategy.NewTextOnly(sess.ID, chatproto.ChannelChatWindow, sink)
	}
	if len(parts) == 1 {
		return parts[0]
	}

	if cw, ok := parts[0].(*strategy.CharStreamTTS); ok {
		if l2, ok := parts[1].(*strategy.SentenceSync); ok {
			return strategy.NewMixed(cw, l2)
		}
	}
	return &multiStrategy{strategies: parts}
}

func (o *Orchestrator) chatWindowStrategy(sess *session.Session, cfg preferences.ChatWindowChannel, sink strategy.Sink) strategy.Strategy {
	if cfg.Mode == "char_stream_tts" && cfg.AutoTTS && o.cfg.TTSPool != nil {
		return strategy.NewCharStreamTTS(strategy.CharStreamTTSConfig{
			SessionID: sess.ID,
			Channel:   chatproto.ChannelChatWindow,
			Sink:      sink,
			Pool:      o.cfg.TTSPool,
			SpeakerID: cfg.SpeakerID,
			Speed:     1.0,
			Format:    "mp3",
			Bus:       o.cfg.Bus,
			Cancelled: sess.Cancelled,
		})
	}
	if cfg.Mode == "sentence_sync" && o.cfg.TTSPool != nil {
		return strategy.NewSentenceSync(strategy.SentenceSyncConfig{
			SessionID: sess.ID,
			Channel:   chatproto.ChannelChatWindow,
			Sink:      sink,
			Pool:      o.cfg.TTSPool,
			SpeakerID: cfg.SpeakerID,
			Format:    "mp3",
			Bus:       o.cfg.Bus,
			Cancelled: sess.Cancelled,
		})
	}
	return strategy.NewTextOnly(sess.ID, chatproto.ChannelChatWindow, sink)
}

func (o *Orchestrator) live2DStrategy(sess *session.Session, cfg preferences.Live2DChannel, sink strategy.Sink) strategy.Strategy {
	if o.cfg.TTSPool == nil {
		return strategy.NewTextOnly(sess.ID, chatproto.ChannelLive2D, sink)
	}
	bubbleTimeout := time.Duration(cfg.BubbleTimeout) * time.Millisecond
	if cfg.Mode == "char_stream_tts" {
		return strategy.NewCharStreamTTS(strategy.CharStreamTTSConfig{
			SessionID: sess.ID,
			Channel:   chatproto.ChannelLive2D,
			Sink:      sink,
			Pool:      o.cfg.TTSPool,
			SpeakerID: cfg.SpeakerID,
			Speed:     cfg.Speed,
			Format:    "mp3",
			Deadline:  bubbleTimeout,
			Bus:       o.cfg.Bus,
			Cancelled: sess.Cancelled,
		})
	}
	return strategy.NewSentenceSync(strategy.SentenceSyncConfig{
		SessionID:     sess.ID,
		Channel:       chatproto.ChannelLive2D,
		Sink:          sink,
		Pool:          o.cfg.TTSPool,
		SpeakerID:     cfg.SpeakerID,
		Speed:         cfg.Speed,
		Format:        "mp3",
		BubbleTimeout: bubbleTimeout,
		Bus:           o.cfg.Bus,
		Cancelled:     sess.Cancelled,
	})
}

// multiStrategy generalizes strategy.Mixed to an arbitrary number of
// concurrently-driven per-channel strategies, for output-channel
// combinations Mixed doesn't name directly (e.g. two sentence_sync
// channels, or a text_only chat_window paired with a TTS live2d channel).
type multiStrategy struct {
	strategies []strategy.Strategy
}

func (m *multiStrategy) ProcessChunk(chunk string, isThinking bool) error {
	for _, s := range m.strategies {
		if err := s.ProcessChunk(chunk, isThinking); err != nil {
			return err
		}
	}
	return nil
}

func (m *multiStrategy) OnStreamComplete() error {
	errCh := make(chan error, len(m.strategies))
	for _, s := range m.strategies {
		s := s
		go func() { errCh <- s.OnStreamComplete() }()
	}
	var first error
	for range m.strategies {
		if err := <-errCh; err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m *multiStrategy) NotifyPlaybackCompleted(sentenceID string) {
	for _, s := range m.strategies {
		s.NotifyPlaybackCompleted(sentenceID)
	}
}
