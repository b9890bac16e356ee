package inference

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cortexhub/streamgateway/internal/chaterr"
	"github.com/cortexhub/streamgateway/internal/config"
)

func testRouter(t *testing.T) *Router {
	t.Helper()
	cfg := &config.Config{
		Inference: config.InferenceConfig{
			AutoDetect: false,
			Lanes: []config.LaneConfig{
				{Name: "local", Provider: "ollama", BaseURL: "http://localhost:11434", Models: []string{"test"}},
			},
			DefaultLane: "local",
		},
		Ollama: config.OllamaConfig{BaseURL: "http://localhost:11434"},
	}
	router, err := NewRouter(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, router)
	return router
}

func TestNewRouter(t *testing.T) {
	router := testRouter(t)
	require.Contains(t, router.lanes, "local")
}

func TestGenerateRejectsEmptyMessages(t *testing.T) {
	router := testRouter(t)
	_, err := router.Generate("local", &Request{})
	require.Error(t, err)
	require.Equal(t, chaterr.InvalidRequest, chaterr.CodeOf(err))
}

func TestGenerateRejectsUnknownLane(t *testing.T) {
	router := testRouter(t)
	_, err := router.Generate("nonexistent", &Request{Messages: []Message{{Role: "user", Content: "hi"}}})
	require.Error(t, err)
	require.Equal(t, chaterr.InvalidRequest, chaterr.CodeOf(err))
}
