package inference

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cortexhub/streamgateway/internal/chaterr"
)

// LlamaCPPClient is a llama.cpp server client
type LlamaCPPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewLlamaCPPClient creates a new llama.cpp client
func NewLlamaCPPClient(baseURL string) *LlamaCPPClient {
	return &LlamaCPPClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// Infer sends an inference request to llama.cpp server
func (c *LlamaCPPClient) Infer(req *Request) (*Response, error) {
	temperature := req.Temperature
	if temperature == 0 {
		temperature = 0.7
	}
	llamaReq := map[string]interface{}{
		"prompt":      flattenMessages(req.Messages),
		"n_predict":   -1, // generate until stop
		"stream":      false,
		"temperature": temperature,
		"top_p":       0.9,
	}

	body, err := json.Marshal(llamaReq)
	if err != nil {
		return nil, chaterr.New(chaterr.InvalidRequest, "marshal llama.cpp request", err)
	}

	url := fmt.Sprintf("%s/completion", c.baseURL)
	httpReq, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, chaterr.New(chaterr.IOError, "build llama.cpp request", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, chaterr.New(chaterr.IOError, "llama.cpp request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, chaterr.New(chaterr.LLMError, fmt.Sprintf("llama.cpp returned status %d: %s", resp.StatusCode, string(b)), nil)
	}

	var llamaResp map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&llamaResp); err != nil {
		return nil, chaterr.New(chaterr.ProcessingError, "decode llama.cpp response", err)
	}

	content, ok := llamaResp["content"].(string)
	if !ok {
		return nil, chaterr.New(chaterr.EmptyResponse, "no content in response", nil)
	}

	return &Response{
		Content:    content,
		Model:      req.Model,
		TokensUsed: 0, // Not provided
		SessionID:  req.SessionID,
	}, nil
}

// Health checks if llama.cpp server is healthy
func (c *LlamaCPPClient) Health() error {
	url := fmt.Sprintf("%s/health", c.baseURL) // or /completion with empty
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("llama.cpp health check returned status %d", resp.StatusCode)
	}

	return nil
}
