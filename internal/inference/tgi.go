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

// TGIConfig holds TGI client configuration
type TGIConfig struct {
	BaseURL string
}

// TGIClient is a Text Generation Inference client
type TGIClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewTGIClient creates a new TGI client
func NewTGIClient(baseURL string) *TGIClient {
	return &TGIClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// Infer sends an inference request to TGI
func (c *TGIClient) Infer(req *Request) (*Response, error) {
	temperature := req.Temperature
	if temperature == 0 {
		temperature = 0.7
	}
	maxNew := req.MaxTokens
	if maxNew == 0 {
		maxNew = 512
	}
	tgiReq := map[string]interface{}{
		"inputs": flattenMessages(req.Messages),
		"parameters": map[string]interface{}{
			"max_new_tokens": maxNew,
			"do_sample":      false,
			"temperature":    temperature,
		},
	}

	body, err := json.Marshal(tgiReq)
	if err != nil {
		return nil, chaterr.New(chaterr.InvalidRequest, "marshal tgi request", err)
	}

	url := fmt.Sprintf("%s/generate", c.baseURL)
	httpReq, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, chaterr.New(chaterr.IOError, "build tgi request", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, chaterr.New(chaterr.IOError, "tgi request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, chaterr.New(chaterr.LLMError, fmt.Sprintf("TGI returned status %d: %s", resp.StatusCode, string(b)), nil)
	}

	var tgiResp map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&tgiResp); err != nil {
		return nil, chaterr.New(chaterr.ProcessingError, "decode tgi response", err)
	}

	content, ok := tgiResp["generated_text"].(string)
	if !ok {
		return nil, chaterr.New(chaterr.EmptyResponse, "no generated_text in response", nil)
	}

	return &Response{
		Content:    content,
		Model:      req.Model,
		TokensUsed: 0, // TGI doesn't return tokens easily
		SessionID:  req.SessionID,
	}, nil
}

// Health checks if TGI is healthy
func (c *TGIClient) Health() error {
	url := fmt.Sprintf("%s/health", c.baseURL)
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
		return fmt.Errorf("TGI health check returned status %d", resp.StatusCode)
	}

	return nil
}
