package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cortexhub/streamgateway/internal/chaterr"
)

// HTTPSynthesizerConfig configures the Python TTS microservice client.
type HTTPSynthesizerConfig struct {
	// BaseURL is app.python.services.ttsUrl.
	BaseURL string
	// Timeout bounds a single synthesis call; default 10s, matching
	// app.python.timeout.ttsTaskSeconds.
	Timeout time.Duration
}

// HTTPSynthesizer implements Synthesizer by POSTing to the Python TTS
// service, the same request/decode shape inference.OllamaClient uses for
// the Ollama HTTP API.
type HTTPSynthesizer struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPSynthesizer builds a Synthesizer that calls out to the Python TTS
// microservice over HTTP.
func NewHTTPSynthesizer(cfg HTTPSynthesizerConfig) (*HTTPSynthesizer, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("tts base URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSynthesizer{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

type synthesizeRequest struct {
	Text      string  `json:"text"`
	SpeakerID string  `json:"speaker_id,omitempty"`
	Speed     float64 `json:"speed,omitempty"`
	Format    string  `json:"format,omitempty"`
}

// synthesizeResponse accepts either a base64-encoded body under "audio" or a
// raw byte body, since the Python service may answer either way depending on
// the configured content type.
type synthesizeResponse struct {
	Audio string `json:"audio"`
}

// Synthesize POSTs text to the Python TTS service and returns the synthesized
// audio bytes, satisfying the Pool's Synthesizer interface.
func (c *HTTPSynthesizer) Synthesize(ctx context.Context, text, speakerID string, speed float64, format string) ([]byte, error) {
	body, err := json.Marshal(synthesizeRequest{
		Text:      text,
		SpeakerID: speakerID,
		Speed:     speed,
		Format:    format,
	})
	if err != nil {
		return nil, chaterr.New(chaterr.InvalidRequest, "marshal tts request", err)
	}

	url := fmt.Sprintf("%s/synthesize", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, chaterr.New(chaterr.IOError, "build tts request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", fmt.Sprintf("audio/%s, application/json", format))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, chaterr.New(chaterr.IOError, "tts request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, chaterr.New(chaterr.ProcessingError, fmt.Sprintf("tts service returned status %d: %s", resp.StatusCode, string(b)), nil)
	}

	contentType := resp.Header.Get("Content-Type")
	if bytes.HasPrefix([]byte(contentType), []byte("application/json")) {
		var decoded synthesizeResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return nil, chaterr.New(chaterr.ProcessingError, "decode tts response", err)
		}
		audio, err := base64.StdEncoding.DecodeString(decoded.Audio)
		if err != nil {
			return nil, chaterr.New(chaterr.ProcessingError, "decode tts audio payload", err)
		}
		return audio, nil
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, chaterr.New(chaterr.IOError, "read tts response body", err)
	}
	return audio, nil
}
