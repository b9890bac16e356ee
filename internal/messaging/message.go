// Package messaging implements the Redis Streams transport behind the
// internal event bus (internal/bus): priority-ordered streams, consumer
// groups, heartbeats, and a dead-letter queue for events that exhaust their
// retries. Adapted from the teacher's internal/messaging package, which
// moved TaskMessage records between agents over the same primitives; this
// rewrite carries the same stream/consumer-group/DLQ shape but moves
// EventMessage records (sentence-ready, audio-ready, turn-error) from the
// orchestrator's output strategies to external subscribers such as an
// avatar renderer.
package messaging

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Priority levels for event routing.
const (
	PriorityCritical = "critical"
	PriorityHigh     = "high"
	PriorityNormal   = "normal"
	PriorityLow      = "low"
)

// Event types carried over the bus.
const (
	EventTypeSentenceReady = "sentence_ready"
	EventTypeAudioReady    = "audio_ready"
	EventTypeTurnError     = "turn_error"
	EventTypeHeartbeat     = "heartbeat"
)

// Consumer group names.
const (
	ConsumerGroupAvatar     = "avatar"
	ConsumerGroupChatWindow = "chat_window"
)

// Stream names.
const (
	StreamEventsCritical = "gateway:events:critical"
	StreamEventsHigh     = "gateway:events:high"
	StreamEventsNormal    = "gateway:events:normal"
	StreamEventsLow       = "gateway:events:low"
	StreamHeartbeats      = "gateway:heartbeats"
	StreamDLQ             = "gateway:events:dlq"
)

// EventMessage is one record carried over a priority stream.
type EventMessage struct {
	ID       string                 `json:"id"`
	From     string                 `json:"from"`
	To       string                 `json:"to"`
	Priority string                 `json:"priority"`
	Type     string                 `json:"type"`
	Payload  map[string]interface{} `json:"payload"`
	Created  int64                  `json:"created"`
}

// NewEventMessage creates a new event message with a generated ID and the
// current timestamp.
func NewEventMessage(from, to, priority, eventType string, payload map[string]interface{}) EventMessage {
	return EventMessage{
		ID:       generateMessageID(),
		From:     from,
		To:       to,
		Priority: priority,
		Type:     eventType,
		Payload:  payload,
		Created:  time.Now().Unix(),
	}
}

// Marshal converts EventMessage to JSON bytes.
func (m EventMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// ToRedisValues converts EventMessage to Redis stream values.
func (m EventMessage) ToRedisValues() map[string]interface{} {
	payloadJSON, _ := json.Marshal(m.Payload)

	return map[string]interface{}{
		"id":       m.ID,
		"from":     m.From,
		"to":       m.To,
		"priority": m.Priority,
		"type":     m.Type,
		"payload":  string(payloadJSON),
		"created":  strconv.FormatInt(m.Created, 10),
	}
}

// EventMessageFromRedisValues parses an EventMessage back out of Redis
// stream values.
func EventMessageFromRedisValues(values map[string]interface{}) (*EventMessage, error) {
	msg := &EventMessage{}

	if v, ok := values["id"].(string); ok {
		msg.ID = v
	}
	if v, ok := values["from"].(string); ok {
		msg.From = v
	}
	if v, ok := values["to"].(string); ok {
		msg.To = v
	}
	if v, ok := values["priority"].(string); ok {
		msg.Priority = v
	}
	if v, ok := values["type"].(string); ok {
		msg.Type = v
	}

	if v, ok := values["payload"].(string); ok {
		var payload map[string]interface{}
		if err := json.Unmarshal([]byte(v), &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
		msg.Payload = payload
	}

	if v, ok := values["created"].(string); ok {
		created, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created: %w", err)
		}
		msg.Created = created
	}

	return msg, nil
}

// StreamName returns the Redis stream name for a given priority.
func StreamName(priority string) string {
	switch priority {
	case PriorityCritical:
		return StreamEventsCritical
	case PriorityHigh:
		return StreamEventsHigh
	case PriorityLow:
		return StreamEventsLow
	default:
		return StreamEventsNormal
	}
}

// HeartbeatStreamName returns the stream name for bus-health heartbeats.
func HeartbeatStreamName() string {
	return StreamHeartbeats
}

// DeadLetterStreamName returns the stream name for events that exhausted
// their retries.
func DeadLetterStreamName() string {
	return StreamDLQ
}

// HeartbeatMessage reports that a bus publisher is alive.
type HeartbeatMessage struct {
	Source    string                 `json:"source"`
	Status    string                 `json:"status"`
	Timestamp int64                  `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// ToRedisValues converts HeartbeatMessage to Redis stream values.
func (h HeartbeatMessage) ToRedisValues() map[string]interface{} {
	metadataJSON, _ := json.Marshal(h.Metadata)
	return map[string]interface{}{
		"source":    h.Source,
		"status":    h.Status,
		"timestamp": strconv.FormatInt(h.Timestamp, 10),
		"metadata":  string(metadataJSON),
	}
}

// HeartbeatFromRedisValues parses a HeartbeatMessage back out of Redis
// stream values.
func HeartbeatFromRedisValues(values map[string]interface{}) (*HeartbeatMessage, error) {
	hb := &HeartbeatMessage{}

	if v, ok := values["source"].(string); ok {
		hb.Source = v
	}
	if v, ok := values["status"].(string); ok {
		hb.Status = v
	}
	if v, ok := values["timestamp"].(string); ok {
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, err
		}
		hb.Timestamp = ts
	}
	if v, ok := values["metadata"].(string); ok {
		json.Unmarshal([]byte(v), &hb.Metadata)
	}

	return hb, nil
}

var messageIDCounter uint64

func generateMessageID() string {
	messageIDCounter++
	return fmt.Sprintf("evt_%d_%d", time.Now().UnixNano(), messageIDCounter)
}
