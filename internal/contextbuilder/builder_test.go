package contextbuilder

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cortexhub/streamgateway/internal/session"
)

func repeat(tokens int) string {
	return strings.Repeat("x", tokens*4)
}

func TestBuildDropsOldestHistoryToFitBudget(t *testing.T) {
	b := New(Config{MaxTokens: 4000})

	var history []session.HistoryEntry
	for i := 0; i < 20; i++ {
		history = append(history, session.HistoryEntry{Role: "user", Content: repeat(300)})
	}

	messages, overBudget := b.Build(Input{
		SystemPrompt:   repeat(500),
		KnowledgeBlock: repeat(500),
		History:        history,
		UserMessage:    repeat(200),
	})

	require.False(t, overBudget)
	// system + knowledge + 9 most recent history turns + user
	require.Len(t, messages, 1+1+9+1)
}

func TestBuildNeverDropsSystemOrUserEvenOverBudget(t *testing.T) {
	b := New(Config{MaxTokens: 100})

	messages, overBudget := b.Build(Input{
		SystemPrompt: repeat(500),
		UserMessage:  repeat(500),
		History:      []session.HistoryEntry{{Role: "user", Content: "should be dropped"}},
	})

	require.True(t, overBudget)
	require.Len(t, messages, 2)
	require.Equal(t, "system", messages[0].Role)
	require.Equal(t, "user", messages[1].Role)
}
