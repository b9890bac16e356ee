package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionIDFromPayload(t *testing.T) {
	assert.Equal(t, "sess-1", sessionIDFromPayload(map[string]interface{}{"sessionId": "sess-1"}))
	assert.Equal(t, "", sessionIDFromPayload(map[string]interface{}{}))
	assert.Equal(t, "", sessionIDFromPayload(map[string]interface{}{"sessionId": 42}))
}

func TestClientPublishAndSubscribe(t *testing.T) {
	client, err := NewClient("localhost:6379", "test-publisher")
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer client.Close()

	events := client.Subscribe()

	require.NoError(t, client.Publish(Event{
		Type:      "sentence_ready",
		SessionID: "sess-1",
		Payload:   map[string]interface{}{"sessionId": "sess-1", "order": 0},
	}))

	select {
	case evt := <-events:
		assert.Equal(t, "sentence_ready", evt.Type)
		assert.Equal(t, "sess-1", evt.SessionID)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for published event")
	}
}
