package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cortexhub/streamgateway/internal/chaterr"
)

// OllamaConfig holds Ollama client configuration
type OllamaConfig struct {
	URL          string
	DefaultModel string
}

// OllamaClient is an Ollama inference client
type OllamaClient struct {
	baseURL      string
	defaultModel string
	httpClient   *http.Client
}

// NewOllamaClient creates a new Ollama client
func NewOllamaClient(cfg *OllamaConfig) (*OllamaClient, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("ollama URL is required")
	}

	return &OllamaClient{
		baseURL:      cfg.URL,
		defaultModel: cfg.DefaultModel,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}, nil
}

func (c *OllamaClient) buildRequest(req *Request, stream bool) map[string]interface{} {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	ollamaReq := map[string]interface{}{
		"model":  model,
		"prompt": flattenMessages(req.Messages),
		"stream": stream,
	}
	if req.Options != nil {
		ollamaReq["options"] = req.Options
	}
	return ollamaReq
}

// Infer sends a non-streaming inference request to Ollama.
func (c *OllamaClient) Infer(req *Request) (*Response, error) {
	body, err := json.Marshal(c.buildRequest(req, false))
	if err != nil {
		return nil, chaterr.New(chaterr.InvalidRequest, "marshal ollama request", err)
	}

	url := fmt.Sprintf("%s/api/generate", c.baseURL)
	httpReq, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, chaterr.New(chaterr.IOError, "build ollama request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, chaterr.New(chaterr.IOError, "ollama request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, chaterr.New(chaterr.LLMError, fmt.Sprintf("ollama returned status %d: %s", resp.StatusCode, string(b)), nil)
	}

	var ollamaResp OllamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
		return nil, chaterr.New(chaterr.ProcessingError, "decode ollama response", err)
	}

	return &Response{
		Content:    ollamaResp.Response,
		Model:      ollamaResp.Model,
		TokensUsed: ollamaResp.EvalCount,
		SessionID:  req.SessionID,
	}, nil
}

// InferStream streams tokens from Ollama's /api/generate with stream=true,
// decoding the newline-delimited JSON response and invoking onChunk per
// line until the server reports done=true.
func (c *OllamaClient) InferStream(ctx context.Context, req *Request, onChunk func(StreamChunk) error) error {
	body, err := json.Marshal(c.buildRequest(req, true))
	if err != nil {
		return chaterr.New(chaterr.InvalidRequest, "marshal ollama stream request", err)
	}

	url := fmt.Sprintf("%s/api/generate", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return chaterr.New(chaterr.IOError, "build ollama stream request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return chaterr.New(chaterr.IOError, "ollama stream request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return chaterr.New(chaterr.LLMError, fmt.Sprintf("ollama returned status %d: %s", resp.StatusCode, string(b)), nil)
	}

	decoder := json.NewDecoder(resp.Body)
	index := 0
	for {
		var chunk OllamaResponse
		if err := decoder.Decode(&chunk); err != nil {
			if err == io.EOF {
				return nil
			}
			return chaterr.New(chaterr.ProcessingError, "decode ollama stream chunk", err)
		}
		if err := onChunk(StreamChunk{Content: chunk.Response, Done: chunk.Done, ChunkIndex: index}); err != nil {
			return err
		}
		index++
		if chunk.Done {
			return nil
		}
	}
}

// Health checks if Ollama is healthy
func (c *OllamaClient) Health() error {
	url := fmt.Sprintf("%s/api/tags", c.baseURL)
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
		return fmt.Errorf("ollama health check returned status %d", resp.StatusCode)
	}

	return nil
}

// OllamaResponse represents an Ollama API response
type OllamaResponse struct {
	Model       string `json:"model"`
	Response    string `json:"response"`
	Done        bool   `json:"done"`
	PromptCount int    `json:"prompt_eval_count"`
	EvalCount   int    `json:"eval_count"`
}
