package tts

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cortexhub/streamgateway/internal/logging"
)

// deadLetterStream is the Redis Stream holding permanently failed TTS
// requests, adapted from messaging.DeadLetterStreamName's naming scheme.
const deadLetterStream = "tts:dead_letters"

// DeadLetter records a synthesis request that failed so it can be inspected
// later without blocking the turn it belonged to (spec.md §4.3/§7).
type DeadLetter struct {
	SessionID     string    `json:"sessionId"`
	SentenceOrder int       `json:"sentenceOrder"`
	Text          string    `json:"text"`
	Error         string    `json:"error"`
	At            time.Time `json:"at"`
}

// DeadLetterQueue records failed TTS requests, backed by a Redis Stream when
// a client is supplied and an in-process ring buffer otherwise — the same
// dual-mode shape as internal/bus.Client.
type DeadLetterQueue struct {
	rdb *redis.Client
	log *logging.Logger

	mu   sync.Mutex
	ring []DeadLetter
	cap  int
}

// NewDeadLetterQueue constructs a DLQ. rdb may be nil, in which case records
// are kept in an in-process ring buffer only.
func NewDeadLetterQueue(rdb *redis.Client) *DeadLetterQueue {
	return &DeadLetterQueue{rdb: rdb, log: logging.WithComponent("tts.dlq"), cap: 256}
}

// Record stores a failed request for later inspection.
func (d *DeadLetterQueue) Record(req Request, err error) {
	dl := DeadLetter{
		SessionID:     req.SessionID,
		SentenceOrder: req.SentenceOrder,
		Text:          req.Text,
		Error:         err.Error(),
		At:            time.Now(),
	}
	if d.rdb != nil {
		payload, _ := json.Marshal(dl)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if perr := d.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: deadLetterStream,
			Values: map[string]interface{}{"payload": string(payload)},
		}).Err(); perr != nil {
			d.log.Warn("failed to publish dead letter to redis", "err", perr)
		}
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.ring = append(d.ring, dl)
	if len(d.ring) > d.cap {
		d.ring = d.ring[len(d.ring)-d.cap:]
	}
}

// Recent returns up to n of the most recently recorded dead letters. Only
// meaningful for the in-process ring buffer backend; Redis-backed DLQs are
// inspected via the stream directly.
func (d *DeadLetterQueue) Recent(n int) []DeadLetter {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n > len(d.ring) {
		n = len(d.ring)
	}
	out := make([]DeadLetter, n)
	copy(out, d.ring[len(d.ring)-n:])
	return out
}
