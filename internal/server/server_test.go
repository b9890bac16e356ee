package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cortexhub/streamgateway/internal/config"
	"github.com/cortexhub/streamgateway/internal/history"
	"github.com/cortexhub/streamgateway/internal/inference"
	"github.com/cortexhub/streamgateway/internal/persona"
	"github.com/cortexhub/streamgateway/internal/preferences"
	"github.com/cortexhub/streamgateway/internal/session"
)

func testServer(t *testing.T, port int) *Server {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{Port: port, Host: "localhost"},
	}
	router, err := inference.NewRouter(context.Background(), cfg)
	require.NoError(t, err)

	personaDir := t.TempDir()
	personas, err := persona.New(personaDir)
	require.NoError(t, err)

	prefs, err := preferences.New(t.TempDir())
	require.NoError(t, err)

	hist, err := history.New(t.TempDir())
	require.NoError(t, err)

	sessions := session.NewManager(session.Config{})

	return New(cfg, router, sessions, personas, prefs, hist)
}

func TestNew(t *testing.T) {
	srv := testServer(t, 18800)
	require.NotNil(t, srv)
}

func TestHealthHandler(t *testing.T) {
	srv := testServer(t, 18800)
	req := httptest.NewRequest(http.MethodGet, "/api/system/health", nil)
	w := httptest.NewRecorder()
	srv.healthHandler(w, req)
	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var hr HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&hr))
	require.Equal(t, "ready", hr.Status)
}

func TestPersonaCRUD(t *testing.T) {
	srv := testServer(t, 18802)

	body := `{"id":"aria","name":"Aria","systemPrompt":"Be helpful."}`
	req := httptest.NewRequest(http.MethodPost, "/api/personas", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.personasCollectionHandler(w, req)
	require.Equal(t, http.StatusCreated, w.Result().StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/api/personas/aria", nil)
	w = httptest.NewRecorder()
	srv.personasItemHandler(w, req)
	require.Equal(t, http.StatusOK, w.Result().StatusCode)
	var p persona.Persona
	require.NoError(t, json.NewDecoder(w.Result().Body).Decode(&p))
	require.Equal(t, "Aria", p.Name)

	req = httptest.NewRequest(http.MethodDelete, "/api/personas/aria", nil)
	w = httptest.NewRecorder()
	srv.personasItemHandler(w, req)
	require.Equal(t, http.StatusNoContent, w.Result().StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/api/personas/aria", nil)
	w = httptest.NewRecorder()
	srv.personasItemHandler(w, req)
	require.Equal(t, http.StatusNotFound, w.Result().StatusCode)
}

func TestPreferencesSaveLoadReset(t *testing.T) {
	srv := testServer(t, 18803)

	body := `{"basic":{"displayName":"Jo"},"llm":{"model":"llama3"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/preferences/user-1", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.preferencesHandler(w, req)
	require.Equal(t, http.StatusOK, w.Result().StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/api/preferences/user-1", nil)
	w = httptest.NewRecorder()
	srv.preferencesHandler(w, req)
	var p preferences.UserPreferences
	require.NoError(t, json.NewDecoder(w.Result().Body).Decode(&p))
	require.Equal(t, "Jo", p.Basic.DisplayName)

	req = httptest.NewRequest(http.MethodPost, "/api/preferences/user-1/reset", nil)
	w = httptest.NewRecorder()
	srv.preferencesHandler(w, req)
	require.Equal(t, http.StatusOK, w.Result().StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/api/preferences/user-1", nil)
	w = httptest.NewRecorder()
	srv.preferencesHandler(w, req)
	require.NoError(t, json.NewDecoder(w.Result().Body).Decode(&p))
	require.Empty(t, p.Basic.DisplayName)
}

func TestChatHistoryAndSessionDelete(t *testing.T) {
	srv := testServer(t, 18804)

	require.NoError(t, srv.history.Append("sess-1", history.Entry{Type: "text", Role: "user", Content: "hi"}))

	req := httptest.NewRequest(http.MethodGet, "/api/chat/history/sess-1", nil)
	w := httptest.NewRecorder()
	srv.chatHistoryHandler(w, req)
	require.Equal(t, http.StatusOK, w.Result().StatusCode)
	var entries []history.Entry
	require.NoError(t, json.NewDecoder(w.Result().Body).Decode(&entries))
	require.Len(t, entries, 1)

	req = httptest.NewRequest(http.MethodDelete, "/api/chat/session/sess-1", nil)
	w = httptest.NewRecorder()
	srv.chatSessionItemHandler(w, req)
	require.Equal(t, http.StatusNoContent, w.Result().StatusCode)

	ids, err := srv.history.List()
	require.NoError(t, err)
	require.NotContains(t, ids, "sess-1")
}

func TestShutdown(t *testing.T) {
	srv := testServer(t, 18801)
	go srv.Start()
	time.Sleep(100 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
}
