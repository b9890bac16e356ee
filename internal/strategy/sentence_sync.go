package strategy

import (
	"errors"
	"sync"
	"time"

	"github.com/cortexhub/streamgateway/internal/bus"
	"github.com/cortexhub/streamgateway/internal/chatproto"
	"github.com/cortexhub/streamgateway/internal/logging"
	"github.com/cortexhub/streamgateway/internal/metrics"
	"github.com/cortexhub/streamgateway/internal/segment"
	"github.com/cortexhub/streamgateway/internal/tts"
)

// errCancelled signals that the drain loop stopped because the turn was
// cancelled, not because of a real send/synthesis failure; OnStreamComplete
// treats it as a reason to stop draining early, not as a Failed turn.
var errCancelled = errors.New("sentence_sync: turn cancelled")

// SentenceSync buffers sentences with no chunk-level text emission. On
// stream completion it drains them serially: text, then TTS, then audio,
// then waits for the client's audio_playback_completed before the next
// sentence — giving strict per-sentence audio/bubble alignment.
type SentenceSync struct {
	sessionID     string
	channel       chatproto.Channel
	sink          Sink
	pool          *tts.Pool
	speakerID     string
	speed         float64
	format        string
	bubbleTimeout time.Duration
	bus           bus.Publisher
	cancelled     func() bool

	buf       *segment.SentenceBuffer
	nextOrder int
	sentences []string

	mu      sync.Mutex
	waiters map[string]chan struct{}

	log *logging.Logger
}

// SentenceSyncConfig configures one turn's sentence_sync strategy.
type SentenceSyncConfig struct {
	SessionID string
	Channel   chatproto.Channel
	Sink      Sink
	Pool      *tts.Pool
	SpeakerID string
	Speed     float64
	Format    string
	// BubbleTimeout bounds how long the drain loop waits for
	// audio_playback_completed before advancing anyway.
	BubbleTimeout time.Duration
	// Bus, if set, receives a sentence_ready/audio_ready event for every
	// sentence this turn emits, for external subscribers (e.g. an avatar
	// renderer) watching the turn without being in the sink's write path.
	Bus bus.Publisher
	// Cancelled reports whether the turn has been cancelled; polled while
	// waiting on a pool result, since the pool never replies for a
	// cancelled session's jobs (internal/tts.Pool drops them silently).
	Cancelled func() bool
}

// NewSentenceSync builds the sentence_sync strategy for one turn.
func NewSentenceSync(cfg SentenceSyncConfig) *SentenceSync {
	if cfg.BubbleTimeout <= 0 {
		cfg.BubbleTimeout = 20 * time.Second
	}
	return &SentenceSync{
		sessionID:     cfg.SessionID,
		channel:       cfg.Channel,
		sink:          cfg.Sink,
		pool:          cfg.Pool,
		speakerID:     cfg.SpeakerID,
		speed:         cfg.Speed,
		format:        cfg.Format,
		bubbleTimeout: cfg.BubbleTimeout,
		bus:           cfg.Bus,
		cancelled:     cfg.Cancelled,
		buf:           segment.NewSentenceBuffer(),
		waiters:       make(map[string]chan struct{}),
		log:           logging.WithComponent("strategy.sentence_sync"),
	}
}

// ProcessChunk only buffers; no chunk-level message is emitted for either
// dialogue or thinking content in this strategy.
func (s *SentenceSync) ProcessChunk(chunk string, isThinking bool) error {
	if isThinking {
		return nil
	}
	s.sentences = append(s.sentences, s.buf.Add(chunk)...)
	return nil
}

// OnStreamComplete runs the serial drain loop across every buffered sentence
// plus the flushed remainder. If the turn is cancelled mid-drain, the loop
// stops early rather than blocking on a TTS reply that will never arrive,
// but the terminal streamComplete message is still sent unconditionally —
// the orchestrator checks cancellation before it looks at this return value,
// so returning nil here is safe either way.
func (s *SentenceSync) OnStreamComplete() error {
	if last, ok := s.buf.Finish(); ok {
		s.sentences = append(s.sentences, last)
	}
	for _, sentence := range s.sentences {
		order := s.nextOrder
		s.nextOrder++
		err := s.drainOne(order, sentence)
		if errors.Is(err, errCancelled) {
			break
		}
		if err != nil {
			return err
		}
	}
	msg := newMessage(s.sessionID, s.channel)
	msg.Type = chatproto.TypeText
	msg.Content = ""
	msg.StreamComplete = true
	return s.sink.Send(msg)
}

func (s *SentenceSync) drainOne(order int, sentence string) error {
	metrics.SentencesEmitted.WithLabelValues(string(s.channel), "sentence_sync").Inc()
	sentenceID := chatproto.SentenceID(s.channel, s.sessionID, order)

	text := newMessage(s.sessionID, s.channel)
	text.Type = chatproto.TypeText
	text.Content = sentence
	text.SentenceID = sentenceID
	text.SentenceOrder = order
	text.SentenceComplete = true
	if err := s.sink.Send(text); err != nil {
		return err
	}
	s.publishEvent("sentence_ready", sentenceID, order, sentence)

	resCh := make(chan tts.Result, 1)
	s.pool.Submit(tts.Request{
		SessionID:     s.sessionID,
		SentenceOrder: order,
		Text:          sentence,
		SpeakerID:     s.speakerID,
		Speed:         s.speed,
		Format:        s.format,
	}, resCh)
	res, ok := s.waitForResult(resCh)
	if !ok {
		return errCancelled
	}

	audio := newMessage(s.sessionID, s.channel)
	audio.SentenceID = sentenceID
	audio.SentenceOrder = order
	if res.Err != nil {
		audio.Type = chatproto.TypeError
		audio.Metadata = map[string]any{"errorCode": "upstream_unavailable", "details": res.Err.Error(), "subType": "tts_error"}
		if err := s.sink.Send(audio); err != nil {
			return err
		}
		// TTS failure: advance as if a completion event arrived, per
		// spec.md §4.3 — the bubble track is never blocked permanently.
		return nil
	}
	audio.Type = chatproto.TypeAudio
	audio.AudioData = res.Audio
	audio.AudioFormat = res.Format
	if err := s.sink.Send(audio); err != nil {
		return err
	}
	s.publishEvent("audio_ready", sentenceID, order, sentence)

	s.waitForPlayback(sentenceID)
	return nil
}

// waitForResult blocks for the pool's reply, polling cancelled() in between
// rather than receiving from resCh unconditionally — the pool never writes
// to resCh for a job belonging to an already-cancelled session, so an
// unconditional receive would block forever.
func (s *SentenceSync) waitForResult(resCh <-chan tts.Result) (tts.Result, bool) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case res := <-resCh:
			return res, true
		case <-ticker.C:
			if s.cancelled != nil && s.cancelled() {
				return tts.Result{}, false
			}
		}
	}
}

// publishEvent forwards a sentence-event to the bus when one is configured;
// a publish failure is logged and otherwise ignored, since the bus is a
// side channel and must never hold up the sink's own delivery.
func (s *SentenceSync) publishEvent(eventType, sentenceID string, order int, sentence string) {
	if s.bus == nil {
		return
	}
	err := s.bus.Publish(bus.Event{
		Type:      eventType,
		SessionID: s.sessionID,
		Payload: map[string]interface{}{
			"sessionId":     s.sessionID,
			"sentenceId":    sentenceID,
			"sentenceOrder": order,
			"text":          sentence,
		},
	})
	if err != nil {
		s.log.Warn("failed to publish sentence event", "session_id", s.sessionID, "err", err)
	}
}

// waitForPlayback blocks until NotifyPlaybackCompleted(sentenceID) is
// called, or bubbleTimeout elapses, whichever first; on timeout it logs and
// advances, per spec.md §5's suspension-point description.
func (s *SentenceSync) waitForPlayback(sentenceID string) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.waiters[sentenceID] = ch
	s.mu.Unlock()

	select {
	case <-ch:
	case <-time.After(s.bubbleTimeout):
		s.log.Warn("timed out waiting for audio_playback_completed", "sentence_id", sentenceID)
	}

	s.mu.Lock()
	delete(s.waiters, sentenceID)
	s.mu.Unlock()
}

func (s *SentenceSync) NotifyPlaybackCompleted(sentenceID string) {
	s.mu.Lock()
	ch, ok := s.waiters[sentenceID]
	s.mu.Unlock()
	if ok {
		close(ch)
	}
}
