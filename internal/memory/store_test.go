package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStore_StoreAndSearchByKeyword(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Store(Entry{SessionID: "s1", Content: "likes pizza", Kind: KindPreference, Importance: 1, Keywords: []string{"pizza"}}))
	require.NoError(t, s.Store(Entry{SessionID: "s1", Content: "works at acme corp", Kind: KindFact, Importance: 5, Keywords: []string{"acme"}}))

	got, err := s.Search("s1", "acme", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "works at acme corp", got[0].Content)
}

func TestStore_SearchRanksByImportanceThenRecency(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Store(Entry{SessionID: "s1", Content: "low importance fact", Importance: 1}))
	require.NoError(t, s.Store(Entry{SessionID: "s1", Content: "high importance fact", Importance: 9}))

	got, err := s.Search("s1", "", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "high importance fact", got[0].Content)
}

func TestStore_SearchLimitsResults(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Store(Entry{SessionID: "s1", Content: "entry"}))
	}
	got, err := s.Search("s1", "", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestStore_PurgeRemovesLowImportanceStaleEntries(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Store(Entry{SessionID: "s1", Content: "stale", Importance: 0}))
	entries, err := s.load("s1")
	require.NoError(t, err)
	entries[0].LastAccessedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, s.save("s1", entries))

	removed, err := s.Purge(5, time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	got, err := s.Search("s1", "", 10)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestExtractor_SkipsEmptyTurns(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	x := NewExtractor(s)

	require.NoError(t, x.ExtractTurn("s1", "", "reply"))
	got, err := s.Search("s1", "", 10)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestExtractor_StoresCompletedTurnAsEvent(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	x := NewExtractor(s)

	require.NoError(t, x.ExtractTurn("s1", "what is the weather", "it is sunny"))
	got, err := s.Search("s1", "weather", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, KindEvent, got[0].Kind)
}
