package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPSynthesizer_JSONResponse(t *testing.T) {
	audio := []byte("fake-wav-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/synthesize", r.URL.Path)
		var req synthesizeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "hello world", req.Text)
		require.Equal(t, "narrator", req.SpeakerID)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(synthesizeResponse{Audio: base64.StdEncoding.EncodeToString(audio)})
	}))
	defer srv.Close()

	synth, err := NewHTTPSynthesizer(HTTPSynthesizerConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	got, err := synth.Synthesize(context.Background(), "hello world", "narrator", 1.0, "wav")
	require.NoError(t, err)
	require.Equal(t, audio, got)
}

func TestHTTPSynthesizer_RawAudioResponse(t *testing.T) {
	audio := []byte("raw-audio-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
		w.Write(audio)
	}))
	defer srv.Close()

	synth, err := NewHTTPSynthesizer(HTTPSynthesizerConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	got, err := synth.Synthesize(context.Background(), "hi", "", 1.0, "wav")
	require.NoError(t, err)
	require.Equal(t, audio, got)
}

func TestHTTPSynthesizer_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("engine unavailable"))
	}))
	defer srv.Close()

	synth, err := NewHTTPSynthesizer(HTTPSynthesizerConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = synth.Synthesize(context.Background(), "hi", "", 1.0, "wav")
	require.Error(t, err)
}

func TestNewHTTPSynthesizer_RequiresBaseURL(t *testing.T) {
	_, err := NewHTTPSynthesizer(HTTPSynthesizerConfig{})
	require.Error(t, err)
}
