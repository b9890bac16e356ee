package knowledge

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cortexhub/streamgateway/internal/memory"
	"github.com/cortexhub/streamgateway/internal/persona"
)

func TestFacade_SystemPrompt_FallsBackThroughPersonaBaseFallback(t *testing.T) {
	personas, err := persona.New(t.TempDir())
	require.NoError(t, err)
	memories, err := memory.New(t.TempDir())
	require.NoError(t, err)
	f := New(personas, memories, nil)

	cfg := Config{BasePrompt: "base prompt", FallbackPrompt: "fallback prompt", EnablePersona: true}

	require.Equal(t, "base prompt", f.SystemPrompt("missing-persona", cfg))

	cfg.BasePrompt = ""
	require.Equal(t, "fallback prompt", f.SystemPrompt("missing-persona", cfg))
}

func TestFacade_ShortTermMemory_EmptyWhenNoMatches(t *testing.T) {
	personas, err := persona.New(t.TempDir())
	require.NoError(t, err)
	memories, err := memory.New(t.TempDir())
	require.NoError(t, err)
	f := New(personas, memories, nil)

	block, err := f.ShortTermMemory("session-1", "anything", 5)
	require.NoError(t, err)
	require.Empty(t, block)
}

func TestFacade_WebSearchIfNeeded_DisabledReturnsNoResult(t *testing.T) {
	personas, err := persona.New(t.TempDir())
	require.NoError(t, err)
	memories, err := memory.New(t.TempDir())
	require.NoError(t, err)
	search := NewWebSearch(WebSearchConfig{}, nil)
	f := New(personas, memories, search)

	block, used := f.WebSearchIfNeeded("latest news today", false)
	require.False(t, used)
	require.Empty(t, block)
}
