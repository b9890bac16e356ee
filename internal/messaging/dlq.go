package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DeadLetterQueue holds bus events that exhausted their retries, for later
// inspection or replay. Distinct from internal/tts's DeadLetterQueue, which
// records failed speech syntheses rather than failed bus deliveries.
type DeadLetterQueue struct {
	client *RedisClient
}

// DeadLetter represents an event that failed delivery.
type DeadLetter struct {
	DLQID         string
	OriginalEvent EventMessage
	Error         string
	RetryCount    int
	DeadAt        int64
}

// NewDeadLetterQueue creates a new DLQ handler.
func NewDeadLetterQueue(client *RedisClient) *DeadLetterQueue {
	return &DeadLetterQueue{client: client}
}

// SendToDeadLetter records an event that failed delivery.
func (d *DeadLetterQueue) SendToDeadLetter(ctx context.Context, evt EventMessage, errorMsg string, retryCount int) error {
	stream := DeadLetterStreamName()

	payloadJSON, _ := json.Marshal(evt.Payload)
	values := map[string]interface{}{
		"original_id":       evt.ID,
		"original_from":     evt.From,
		"original_to":       evt.To,
		"original_priority": evt.Priority,
		"original_type":     evt.Type,
		"original_payload":  string(payloadJSON),
		"original_created":  strconv.FormatInt(evt.Created, 10),
		"error":             errorMsg,
		"retry_count":       strconv.Itoa(retryCount),
		"dead_at":           strconv.FormatInt(time.Now().Unix(), 10),
	}

	_, err := d.client.Publish(ctx, stream, values)
	return err
}

// GetDeadLetters retrieves dead letters from the DLQ
func (d *DeadLetterQueue) GetDeadLetters(ctx context.Context, count int) ([]DeadLetter, error) {
	stream := DeadLetterStreamName()
	rdb := d.client.RawClient()

	results, err := rdb.XRevRangeN(ctx, stream, "+", "-", int64(count)).Result()
	if err == redis.Nil {
		return []DeadLetter{}, nil
	}
	if err != nil {
		return nil, err
	}

	var letters []DeadLetter
	for _, msg := range results {
		letter := d.parseDeadLetter(msg)
		letters = append(letters, letter)
	}

	return letters, nil
}

// RetryDeadLetter retries a dead letter by republishing to its original stream
func (d *DeadLetterQueue) RetryDeadLetter(ctx context.Context, dlqID string) error {
	stream := DeadLetterStreamName()
	rdb := d.client.RawClient()

	// Get the message
	results, err := rdb.XRange(ctx, stream, dlqID, dlqID).Result()
	if err != nil {
		return fmt.Errorf("failed to get DLQ message: %w", err)
	}
	if len(results) == 0 {
		return fmt.Errorf("DLQ message not found: %s", dlqID)
	}

	msg := results[0]
	letter := d.parseDeadLetter(msg)

	// Republish to original stream
	targetStream := StreamName(letter.OriginalEvent.Priority)
	_, err = d.client.Publish(ctx, targetStream, letter.OriginalEvent.ToRedisValues())
	if err != nil {
		return fmt.Errorf("failed to republish: %w", err)
	}

	// Remove from DLQ
	rdb.XDel(ctx, stream, dlqID)

	return nil
}

// DeleteDeadLetter removes a message from the DLQ
func (d *DeadLetterQueue) DeleteDeadLetter(ctx context.Context, dlqID string) error {
	stream := DeadLetterStreamName()
	rdb := d.client.RawClient()
	return rdb.XDel(ctx, stream, dlqID).Err()
}

// parseDeadLetter parses a Redis message into a DeadLetter struct
func (d *DeadLetterQueue) parseDeadLetter(msg redis.XMessage) DeadLetter {
	letter := DeadLetter{
		DLQID: msg.ID,
	}

	// Parse original event
	evt := EventMessage{}
	if v, ok := msg.Values["original_id"].(string); ok {
		evt.ID = v
	}
	if v, ok := msg.Values["original_from"].(string); ok {
		evt.From = v
	}
	if v, ok := msg.Values["original_to"].(string); ok {
		evt.To = v
	}
	if v, ok := msg.Values["original_priority"].(string); ok {
		evt.Priority = v
	}
	if v, ok := msg.Values["original_type"].(string); ok {
		evt.Type = v
	}
	if v, ok := msg.Values["original_payload"].(string); ok {
		var payload map[string]interface{}
		json.Unmarshal([]byte(v), &payload)
		evt.Payload = payload
	}
	if v, ok := msg.Values["original_created"].(string); ok {
		created, _ := strconv.ParseInt(v, 10, 64)
		evt.Created = created
	}

	letter.OriginalEvent = evt

	// Parse error details
	if v, ok := msg.Values["error"].(string); ok {
		letter.Error = v
	}
	if v, ok := msg.Values["retry_count"].(string); ok {
		count, _ := strconv.Atoi(v)
		letter.RetryCount = count
	}
	if v, ok := msg.Values["dead_at"].(string); ok {
		deadAt, _ := strconv.ParseInt(v, 10, 64)
		letter.DeadAt = deadAt
	}

	return letter
}

// GetDLQCount returns the number of messages in the DLQ
func (d *DeadLetterQueue) GetDLQCount(ctx context.Context) (int64, error) {
	rdb := d.client.RawClient()
	return rdb.XLen(ctx, DeadLetterStreamName()).Result()
}
