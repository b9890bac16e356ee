package persona

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStore_SaveGetDelete(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Save(Persona{ID: "nova", Name: "Nova", SystemPrompt: "you are nova"}))

	p, ok := s.Get("nova")
	require.True(t, ok)
	require.Equal(t, "Nova", p.Name)

	list := s.List()
	require.Len(t, list, 1)
	require.Equal(t, "nova", list[0].ID)

	require.NoError(t, s.Delete("nova"))
	_, ok = s.Get("nova")
	require.False(t, ok)
}

func TestStore_IDDefaultsToFilename(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "aria.json"), []byte(`{"name":"Aria"}`), 0o644))
	require.NoError(t, s.reload())

	p, ok := s.Get("aria")
	require.True(t, ok)
	require.Equal(t, "aria", p.ID)
}

func TestStore_MalformedFileSkipped(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Save(Persona{ID: "good", Name: "Good"}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o644))
	require.NoError(t, s.reload())

	list := s.List()
	require.Len(t, list, 1)
}
