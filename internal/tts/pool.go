// Package tts implements the bounded worker pool (C4) that synthesizes
// audio for sentences emitted by an Output Strategy. The consumer-loop shape
// is adapted from internal/messaging's Redis Streams consumer group, with
// the priority dimension removed: fairness here is plain submit-time FIFO
// across sessions, not per-priority-stream as messaging.PriorityProcessor
// does for swarm task routing.
package tts

import (
	"context"
	"sync"
	"time"

	"github.com/cortexhub/streamgateway/internal/logging"
	"github.com/cortexhub/streamgateway/internal/metrics"
)

// Synthesizer is the external TTS adapter interface (out of core scope
// beyond this signature, per spec.md §6).
type Synthesizer interface {
	Synthesize(ctx context.Context, text, speakerID string, speed float64, format string) ([]byte, error)
}

// Request is one sentence's synthesis job.
type Request struct {
	SessionID     string
	SentenceOrder int
	Text          string
	SpeakerID     string
	Speed         float64
	Format        string
}

// Result is delivered to the caller's sink, tagged by (SessionID, SentenceOrder)
// so the caller — not the pool — is responsible for reassembling order.
type Result struct {
	SessionID     string
	SentenceOrder int
	Audio         []byte
	Format        string
	Err           error
}

// CancelChecker reports whether the given session has been cancelled; tasks
// for a cancelled session are dropped before dispatch and abandoned (result
// discarded) on completion.
type CancelChecker func(sessionID string) bool

// Pool is a bounded, shared-across-sessions synthesis executor.
type Pool struct {
	synth      Synthesizer
	concurrent int
	timeout    time.Duration
	cancelled  CancelChecker
	dlq        *DeadLetterQueue

	jobs chan job
	wg   sync.WaitGroup
	log  *logging.Logger
}

type job struct {
	req  Request
	sink chan<- Result
}

// Config configures pool construction.
type Config struct {
	// Concurrency is the number of worker goroutines; default 3 per spec.md §4.4.
	Concurrency int
	// Timeout bounds a single synthesis call; default 10s.
	Timeout time.Duration
	// QueueDepth bounds the pending-job buffer.
	QueueDepth int
}

// NewPool starts Concurrency worker goroutines pulling from a shared FIFO
// job queue. Call Close to stop accepting work and drain running workers.
func NewPool(cfg Config, synth Synthesizer, cancelled CancelChecker, dlq *DeadLetterQueue) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 64
	}
	p := &Pool{
		synth:      synth,
		concurrent: cfg.Concurrency,
		timeout:    cfg.Timeout,
		cancelled:  cancelled,
		dlq:        dlq,
		jobs:       make(chan job, cfg.QueueDepth),
		log:        logging.WithComponent("tts.pool"),
	}
	for i := 0; i < p.concurrent; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Submit enqueues a synthesis request; results are delivered to sink, tagged
// by (SessionID, SentenceOrder). Submit never blocks the caller past the
// queue's buffer capacity.
func (p *Pool) Submit(req Request, sink chan<- Result) {
	p.jobs <- job{req: req, sink: sink}
	metrics.TTSQueueDepth.Set(float64(len(p.jobs)))
}

// Close stops accepting new work and waits for in-flight workers to finish.
func (p *Pool) Close() {
	close(p.jobs)
	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for j := range p.jobs {
		if p.cancelled != nil && p.cancelled(j.req.SessionID) {
			continue
		}
		res := p.synthesizeOne(j.req)
		metrics.TTSQueueDepth.Set(float64(len(p.jobs)))
		if p.cancelled != nil && p.cancelled(j.req.SessionID) {
			continue
		}
		if res.Err != nil && p.dlq != nil {
			p.dlq.Record(j.req, res.Err)
		}
		j.sink <- res
	}
}

func (p *Pool) synthesizeOne(req Request) Result {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	audio, err := p.synth.Synthesize(ctx, req.Text, req.SpeakerID, req.Speed, req.Format)
	if err != nil {
		p.log.Warn("tts synthesis failed", "session_id", req.SessionID, "sentence_order", req.SentenceOrder, "err", err)
		return Result{SessionID: req.SessionID, SentenceOrder: req.SentenceOrder, Err: err}
	}
	return Result{SessionID: req.SessionID, SentenceOrder: req.SentenceOrder, Audio: audio, Format: req.Format}
}
