// Package bus implements the internal sentence-event bus: fan-out of
// sentence-ready/audio-ready/turn-error events to any external subscriber
// (an avatar renderer, a chat_window log shipper) that wants to watch a
// turn's progress without being in the wschat connection's write path.
// Adapted from the teacher's internal/bus.Client, which gave every Neural
// Bus client a dual WebSocket/Redis-Streams backend; a sentence event has
// no external client of its own, so this keeps only the Redis Streams half
// of that shape, built on internal/messaging the same way the teacher's
// client built on it.
package bus

import (
	"context"
	"time"

	"github.com/cortexhub/streamgateway/internal/logging"
	"github.com/cortexhub/streamgateway/internal/messaging"
)

// Event is one sentence-event delivered over the bus.
type Event struct {
	Type      string                 `json:"type"`
	SessionID string                 `json:"sessionId"`
	Payload   map[string]interface{} `json:"payload"`
	Timestamp string                 `json:"timestamp"`
}

// Publisher is the narrow interface the output strategies depend on, so
// tests can substitute a recorder without standing up Redis.
type Publisher interface {
	Publish(evt Event) error
}

// Client publishes sentence events to Redis Streams, priority-routed by
// event type, and can subscribe to the same stream set from the consumer
// side (the avatar/chat_window processes).
type Client struct {
	redisClient *messaging.RedisClient
	processor   *messaging.PriorityProcessor
	source      string
	stopCh      chan struct{}
	log         *logging.Logger
}

// NewClient connects to Redis at addr and builds a bus client identified as
// source (used as the "from" field on published events and the consumer
// name when subscribing).
func NewClient(addr, source string) (*Client, error) {
	redisClient, err := messaging.NewRedisClient(messaging.RedisConfig{Addr: addr})
	if err != nil {
		return nil, err
	}
	return &Client{
		redisClient: redisClient,
		processor:   messaging.NewPriorityProcessor(redisClient, source),
		source:      source,
		stopCh:      make(chan struct{}),
		log:         logging.WithComponent("bus"),
	}, nil
}

// Publish sends an event to the Redis stream matching its priority.
func (c *Client) Publish(evt Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	priority := messaging.PriorityNormal
	switch evt.Type {
	case messaging.EventTypeTurnError:
		priority = messaging.PriorityCritical
	case messaging.EventTypeAudioReady:
		priority = messaging.PriorityHigh
	}

	msg := messaging.NewEventMessage(c.source, "", priority, evt.Type, evt.Payload)
	stream := messaging.StreamName(priority)
	_, err := c.redisClient.Publish(ctx, stream, msg.ToRedisValues())
	return err
}

// Subscribe returns a channel of events consumed in priority order, for a
// process that wants to watch turns in progress (an avatar renderer).
func (c *Client) Subscribe() <-chan Event {
	ch := make(chan Event)
	go c.subscribeLoop(ch)
	return ch
}

func (c *Client) subscribeLoop(ch chan<- Event) {
	defer close(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventChan := c.processor.Start(ctx)

	for {
		select {
		case <-c.stopCh:
			cancel()
			return
		case evt, ok := <-eventChan:
			if !ok {
				return
			}
			ch <- Event{
				Type:      evt.Type,
				SessionID: sessionIDFromPayload(evt.Payload),
				Payload:   evt.Payload,
				Timestamp: time.Unix(evt.Created, 0).Format(time.RFC3339),
			}
		}
	}
}

func sessionIDFromPayload(payload map[string]interface{}) string {
	if v, ok := payload["sessionId"].(string); ok {
		return v
	}
	return ""
}

// Close shuts the bus client down.
func (c *Client) Close() error {
	close(c.stopCh)
	return c.redisClient.Close()
}

// IsConnected reports whether Redis is reachable.
func (c *Client) IsConnected() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.redisClient.IsConnected(ctx)
}
