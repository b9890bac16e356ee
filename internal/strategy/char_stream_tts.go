package strategy

import (
	"sync"
	"time"

	"github.com/cortexhub/streamgateway/internal/bus"
	"github.com/cortexhub/streamgateway/internal/chatproto"
	"github.com/cortexhub/streamgateway/internal/logging"
	"github.com/cortexhub/streamgateway/internal/metrics"
	"github.com/cortexhub/streamgateway/internal/segment"
	"github.com/cortexhub/streamgateway/internal/tts"
)

// CharStreamTTS streams text at chunk granularity (like TextOnly) while
// independently feeding dialogue chunks through a Sentence Buffer and
// submitting each sentence to the TTS pool. Audio arrives out of order with
// respect to text; sentenceId ties an audio message back to its sentence.
//
// Each submission gets its own single-slot result channel rather than a
// shared one: the pool sends to it exactly once, so there is no shared
// channel to close and no risk of a straggler writing after close.
type CharStreamTTS struct {
	sessionID string
	channel   chatproto.Channel
	sink      Sink
	pool      *tts.Pool
	speakerID string
	speed     float64
	format    string
	deadline  time.Duration
	bus       bus.Publisher
	cancelled func() bool

	buf       *segment.SentenceBuffer
	nextOrder int
	wg        sync.WaitGroup
	log       *logging.Logger

	mu      sync.Mutex
	closed  bool
	pending map[int]string // order -> sentenceID, still awaiting a pool result
}

// CharStreamTTSConfig configures one turn's char_stream_tts strategy.
type CharStreamTTSConfig struct {
	SessionID string
	Channel   chatproto.Channel
	Sink      Sink
	Pool      *tts.Pool
	SpeakerID string
	Speed     float64
	Format    string
	// Deadline bounds how long OnStreamComplete waits for in-flight TTS
	// syntheses before emitting tts_error for the stragglers.
	Deadline time.Duration
	// Bus, if set, receives a sentence_ready event for every sentence
	// submitted to the TTS pool.
	Bus bus.Publisher
	// Cancelled reports whether the turn has been cancelled; polled while
	// waiting on a pool result, since the pool never replies for a
	// cancelled session's jobs (internal/tts.Pool drops them silently).
	Cancelled func() bool
}

// NewCharStreamTTS builds the char_stream_tts strategy for one turn.
func NewCharStreamTTS(cfg CharStreamTTSConfig) *CharStreamTTS {
	if cfg.Deadline <= 0 {
		cfg.Deadline = 15 * time.Second
	}
	return &CharStreamTTS{
		sessionID: cfg.SessionID,
		channel:   cfg.Channel,
		sink:      cfg.Sink,
		pool:      cfg.Pool,
		speakerID: cfg.SpeakerID,
		speed:     cfg.Speed,
		format:    cfg.Format,
		deadline:  cfg.Deadline,
		bus:       cfg.Bus,
		cancelled: cfg.Cancelled,
		buf:       segment.NewSentenceBuffer(),
		log:       logging.WithComponent("strategy.char_stream_tts"),
		pending:   make(map[int]string),
	}
}

func (s *CharStreamTTS) ProcessChunk(chunk string, isThinking bool) error {
	msg := newMessage(s.sessionID, s.channel)
	msg.Streaming = true
	if isThinking {
		msg.Type = chatproto.TypeThinking
		msg.Content = chunk
		msg.Metadata = map[string]any{"stage": "thinking"}
		return s.sink.Send(msg)
	}
	msg.Type = chatproto.TypeText
	msg.Content = chunk
	if err := s.sink.Send(msg); err != nil {
		return err
	}
	for _, sentence := range s.buf.Add(chunk) {
		s.submit(sentence)
	}
	return nil
}

// submit enqueues one sentence and spawns a short-lived goroutine that
// forwards its result to the sink as soon as the pool delivers it, which is
// what makes audio arrive out of order with respect to text.
func (s *CharStreamTTS) submit(sentence string) {
	metrics.SentencesEmitted.WithLabelValues(string(s.channel), "char_stream_tts").Inc()
	order := s.nextOrder
	s.nextOrder++
	sentenceID := chatproto.SentenceID(s.channel, s.sessionID, order)
	s.publishEvent("sentence_ready", sentenceID, order, sentence)

	s.mu.Lock()
	s.pending[order] = sentenceID
	s.mu.Unlock()

	resCh := make(chan tts.Result, 1)
	s.pool.Submit(tts.Request{
		SessionID:     s.sessionID,
		SentenceOrder: order,
		Text:          sentence,
		SpeakerID:     s.speakerID,
		Speed:         s.speed,
		Format:        s.format,
	}, resCh)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		res, ok := s.waitForResult(resCh)
		if !ok {
			return
		}
		s.deliver(order, sentenceID, res)
	}()
}

// waitForResult blocks for the pool's reply, polling cancelled() in between
// rather than receiving from resCh unconditionally — the pool never writes
// to resCh for a job belonging to an already-cancelled session, so an
// unconditional receive would block forever.
func (s *CharStreamTTS) waitForResult(resCh <-chan tts.Result) (tts.Result, bool) {
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

// deliver sends one sentence's TTS result, unless the turn has already
// emitted its terminal streamComplete message — a pool reply arriving after
// that point (a straggler past the drain deadline) must never be sent, since
// streamComplete=true must always be the last message for this channel/turn.
func (s *CharStreamTTS) deliver(order int, sentenceID string, res tts.Result) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	delete(s.pending, order)
	s.mu.Unlock()

	msg := newMessage(s.sessionID, s.channel)
	msg.SentenceOrder = order
	msg.SentenceID = sentenceID
	if res.Err != nil {
		msg.Type = chatproto.TypeError
		msg.Metadata = map[string]any{"errorCode": "upstream_unavailable", "details": res.Err.Error(), "subType": "tts_error"}
	} else {
		msg.Type = chatproto.TypeAudio
		msg.AudioData = res.Audio
		msg.AudioFormat = res.Format
	}
	if err := s.sink.Send(msg); err != nil {
		s.log.Warn("failed to deliver tts result", "session_id", s.sessionID, "err", err)
	}
}

func (s *CharStreamTTS) OnStreamComplete() error {
	if last, ok := s.buf.Finish(); ok {
		s.submit(last)
	}
	finished := waitWithTimeout(&s.wg, s.deadline)

	// Close the window for late sends and collect whatever is still
	// outstanding (only possible when finished is false) before a straggler
	// goroutine can race the terminal message below.
	s.mu.Lock()
	s.closed = true
	stragglers := s.pending
	s.pending = make(map[int]string)
	s.mu.Unlock()

	if !finished {
		for order, sentenceID := range stragglers {
			msg := newMessage(s.sessionID, s.channel)
			msg.SentenceOrder = order
			msg.SentenceID = sentenceID
			msg.Type = chatproto.TypeError
			msg.Metadata = map[string]any{"errorCode": "upstream_unavailable", "details": "tts synthesis timed out", "subType": "tts_error"}
			if err := s.sink.Send(msg); err != nil {
				s.log.Warn("failed to deliver tts timeout error", "session_id", s.sessionID, "err", err)
			}
		}
	}

	msg := newMessage(s.sessionID, s.channel)
	msg.Type = chatproto.TypeText
	msg.Content = ""
	msg.Streaming = false
	msg.StreamComplete = true
	return s.sink.Send(msg)
}

func (s *CharStreamTTS) NotifyPlaybackCompleted(string) {}

// publishEvent forwards a sentence-event to the bus when one is configured;
// a publish failure is logged and otherwise ignored.
func (s *CharStreamTTS) publishEvent(eventType, sentenceID string, order int, sentence string) {
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

// waitWithTimeout waits for wg to finish, up to d, and returns true if it
// finished in time. Any goroutine still running past the deadline is a
// straggler whose eventual result is dropped by deliver's closed check.
func waitWithTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
