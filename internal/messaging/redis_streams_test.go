package messaging

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestClient creates a Redis client for testing. Skips the test if no
// Redis is reachable on the default local port.
func setupTestClient(t *testing.T) *RedisClient {
	cfg := RedisConfig{
		Addr:     "localhost:6379",
		Password: "",
		DB:       0,
	}
	client, err := NewRedisClient(cfg)
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func TestRedisClient_Connection(t *testing.T) {
	client := setupTestClient(t)
	defer client.Close()

	ctx := context.Background()
	err := client.Ping(ctx)
	assert.NoError(t, err)
}

func TestRedisClient_PublishAndSubscribe(t *testing.T) {
	client := setupTestClient(t)
	defer client.Close()

	ctx := context.Background()
	stream := "test:events:" + t.Name()
	group := "test-group"
	consumer := "test-consumer"

	defer client.RawClient().Del(ctx, stream)

	msgChan, err := client.Subscribe(ctx, stream, group, consumer)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)

	testData := map[string]interface{}{
		"test": "data",
		"num":  42,
	}
	msgID, err := client.Publish(ctx, stream, testData)
	require.NoError(t, err)
	assert.NotEmpty(t, msgID)

	select {
	case msg := <-msgChan:
		assert.NotEmpty(t, msg.ID)
		assert.Equal(t, stream, msg.Stream)
		assert.Equal(t, "data", msg.Values["test"])
		assert.Equal(t, "42", msg.Values["num"])
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestEventMessage_Marshal(t *testing.T) {
	msg := EventMessage{
		ID:       "evt-001",
		From:     "orchestrator",
		To:       "avatar",
		Priority: PriorityHigh,
		Type:     EventTypeSentenceReady,
		Payload: map[string]interface{}{
			"sessionId": "sess-1",
			"order":     0,
		},
		Created: time.Now().Unix(),
	}

	data, err := msg.Marshal()
	require.NoError(t, err)

	var unmarshaled EventMessage
	err = json.Unmarshal(data, &unmarshaled)
	require.NoError(t, err)

	assert.Equal(t, msg.ID, unmarshaled.ID)
	assert.Equal(t, msg.From, unmarshaled.From)
	assert.Equal(t, msg.To, unmarshaled.To)
	assert.Equal(t, msg.Priority, unmarshaled.Priority)
}

func TestEventMessage_ToRedisValues(t *testing.T) {
	msg := EventMessage{
		ID:       "evt-001",
		From:     "orchestrator",
		To:       "avatar",
		Priority: PriorityHigh,
		Type:     EventTypeSentenceReady,
		Payload: map[string]interface{}{
			"sessionId": "sess-1",
		},
		Created: 1704556800,
	}

	values := msg.ToRedisValues()

	assert.Equal(t, "evt-001", values["id"])
	assert.Equal(t, "orchestrator", values["from"])
	assert.Equal(t, "avatar", values["to"])
	assert.Equal(t, "high", values["priority"])
	assert.Equal(t, "sentence_ready", values["type"])
	assert.NotEmpty(t, values["payload"])
	assert.Equal(t, "1704556800", values["created"])
}

func TestEventMessage_FromRedisValues(t *testing.T) {
	payload, _ := json.Marshal(map[string]interface{}{
		"sessionId": "sess-1",
	})

	values := map[string]interface{}{
		"id":       "evt-001",
		"from":     "orchestrator",
		"to":       "avatar",
		"priority": "high",
		"type":     "sentence_ready",
		"payload":  string(payload),
		"created":  "1704556800",
	}

	msg, err := EventMessageFromRedisValues(values)
	require.NoError(t, err)

	assert.Equal(t, "evt-001", msg.ID)
	assert.Equal(t, "orchestrator", msg.From)
	assert.Equal(t, "avatar", msg.To)
	assert.Equal(t, PriorityHigh, msg.Priority)
	assert.Equal(t, EventTypeSentenceReady, msg.Type)
	assert.Equal(t, "sess-1", msg.Payload["sessionId"])
}

func TestStreamName(t *testing.T) {
	tests := []struct {
		priority string
		expected string
	}{
		{PriorityCritical, StreamEventsCritical},
		{PriorityHigh, StreamEventsHigh},
		{PriorityNormal, StreamEventsNormal},
		{PriorityLow, StreamEventsLow},
	}

	for _, tt := range tests {
		result := StreamName(tt.priority)
		assert.Equal(t, tt.expected, result)
	}
}

func TestPriorityProcessor(t *testing.T) {
	client := setupTestClient(t)
	defer client.Close()

	ctx := context.Background()
	consumerName := "test-consumer-" + t.Name()

	events := []EventMessage{
		{ID: "low-1", Priority: PriorityLow, Type: EventTypeSentenceReady, Created: time.Now().Unix(), To: consumerName},
		{ID: "critical-1", Priority: PriorityCritical, Type: EventTypeTurnError, Created: time.Now().Unix(), To: consumerName},
		{ID: "normal-1", Priority: PriorityNormal, Type: EventTypeSentenceReady, Created: time.Now().Unix(), To: consumerName},
		{ID: "high-1", Priority: PriorityHigh, Type: EventTypeAudioReady, Created: time.Now().Unix(), To: consumerName},
	}

	for _, evt := range events {
		stream := StreamName(evt.Priority)
		_, err := client.Publish(ctx, stream, evt.ToRedisValues())
		require.NoError(t, err)
	}

	processor := NewPriorityProcessor(client, consumerName)
	eventChan := processor.Start(ctx)

	select {
	case evt := <-eventChan:
		assert.Equal(t, "critical-1", evt.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for critical event")
	}

	for _, evt := range events {
		stream := StreamName(evt.Priority)
		client.RawClient().Del(ctx, stream)
	}
}

func TestHeartbeatManager(t *testing.T) {
	client := setupTestClient(t)
	defer client.Close()

	ctx := context.Background()
	source := "test-publisher-" + t.Name()

	hbMgr := NewHeartbeatManager(client, source)

	err := hbMgr.SendHeartbeat(ctx, "healthy", map[string]interface{}{
		"queueDepth": 3,
	})
	require.NoError(t, err)

	rdb := client.RawClient()
	results, err := rdb.XRevRangeN(ctx, HeartbeatStreamName(), "+", "-", 10).Result()
	require.NoError(t, err)

	found := false
	for _, msg := range results {
		if s, ok := msg.Values["source"].(string); ok && s == source {
			found = true
			assert.Equal(t, "healthy", msg.Values["status"])
			break
		}
	}
	assert.True(t, found, "Heartbeat not found in stream")
}

func TestDeadLetterQueue(t *testing.T) {
	client := setupTestClient(t)
	defer client.Close()

	dlq := NewDeadLetterQueue(client)
	ctx := context.Background()

	failedEvent := EventMessage{
		ID:       "failed-001",
		From:     "orchestrator",
		To:       "avatar",
		Priority: PriorityHigh,
		Type:     EventTypeSentenceReady,
		Payload:  map[string]interface{}{"sessionId": "sess-1"},
		Created:  time.Now().Unix(),
	}

	err := dlq.SendToDeadLetter(ctx, failedEvent, "delivery timeout", 3)
	require.NoError(t, err)

	letters, err := dlq.GetDeadLetters(ctx, 10)
	require.NoError(t, err)

	found := false
	for _, letter := range letters {
		if letter.OriginalEvent.ID == "failed-001" {
			found = true
			assert.Equal(t, "delivery timeout", letter.Error)
			assert.Equal(t, 3, letter.RetryCount)
			break
		}
	}
	assert.True(t, found, "Dead letter not found")

	client.RawClient().Del(ctx, DeadLetterStreamName())
}

func TestRedisClient_WithRetry(t *testing.T) {
	client := setupTestClient(t)
	defer client.Close()

	ctx := context.Background()

	callCount := 0
	err := client.WithRetry(ctx, 3, func() error {
		callCount++
		if callCount < 2 {
			return redis.Nil
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, callCount)
}
