package messaging

import (
	"context"
	"log"
	"time"
)

// HeartbeatManager sends and receives bus-health heartbeats over Redis
// Streams, so a monitoring endpoint can tell whether the sentence-event
// publisher side of the bus is still alive.
type HeartbeatManager struct {
	client *RedisClient
	source string
	stopCh chan struct{}
}

// NewHeartbeatManager creates a heartbeat manager identified as source.
func NewHeartbeatManager(client *RedisClient, source string) *HeartbeatManager {
	return &HeartbeatManager{
		client: client,
		source: source,
		stopCh: make(chan struct{}),
	}
}

// StartHeartbeatLoop sends periodic heartbeats until ctx is cancelled or
// Stop is called.
func (h *HeartbeatManager) StartHeartbeatLoop(ctx context.Context, interval time.Duration, status string, metadata map[string]interface{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	h.SendHeartbeat(ctx, status, metadata)

	for {
		select {
		case <-ctx.Done():
			log.Printf("Heartbeat loop stopping for %s", h.source)
			return
		case <-h.stopCh:
			log.Printf("Heartbeat loop stopped for %s", h.source)
			return
		case <-ticker.C:
			if err := h.SendHeartbeat(ctx, status, metadata); err != nil {
				log.Printf("Failed to send heartbeat: %v", err)
			}
		}
	}
}

// Stop stops the heartbeat loop.
func (h *HeartbeatManager) Stop() {
	close(h.stopCh)
}

// SendHeartbeat sends a single heartbeat to Redis.
func (h *HeartbeatManager) SendHeartbeat(ctx context.Context, status string, metadata map[string]interface{}) error {
	hb := HeartbeatMessage{
		Source:    h.source,
		Status:    status,
		Timestamp: time.Now().Unix(),
		Metadata:  metadata,
	}

	stream := HeartbeatStreamName()
	values := hb.ToRedisValues()

	_, err := h.client.Publish(ctx, stream, values)
	return err
}

// SubscribeToHeartbeats subscribes to heartbeats from every bus publisher.
func (h *HeartbeatManager) SubscribeToHeartbeats(ctx context.Context) (<-chan *HeartbeatMessage, error) {
	msgChan := make(chan *HeartbeatMessage, 100)

	stream := HeartbeatStreamName()
	group := ConsumerGroupChatWindow
	consumer := h.source + "-hb-consumer"

	redisChan, err := h.client.Subscribe(ctx, stream, group, consumer)
	if err != nil {
		return nil, err
	}

	go func() {
		defer close(msgChan)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-redisChan:
				if !ok {
					return
				}

				hb, err := HeartbeatFromRedisValues(msg.Values)
				if err != nil {
					log.Printf("Failed to parse heartbeat: %v", err)
					continue
				}

				msgChan <- hb
			}
		}
	}()

	return msgChan, nil
}

// LastHealth returns the most recent heartbeat recorded for source, or nil
// if none has been seen in the last 100 heartbeats on the stream.
func (h *HeartbeatManager) LastHealth(ctx context.Context, source string) (*HeartbeatMessage, error) {
	rdb := h.client.RawClient()

	results, err := rdb.XRevRangeN(ctx, HeartbeatStreamName(), "+", "-", 100).Result()
	if err != nil {
		return nil, err
	}

	for _, msg := range results {
		if s, ok := msg.Values["source"].(string); ok && s == source {
			return HeartbeatFromRedisValues(msg.Values)
		}
	}

	return nil, nil
}
