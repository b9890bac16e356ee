package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/r3labs/sse/v2"

	"github.com/cortexhub/streamgateway/internal/chaterr"
)

// OpenAIConfig holds OpenAI-compatible client configuration
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// OpenAIClient is an OpenAI-compatible inference client, used for vLLM, MLX,
// OpenRouter, and the real OpenAI API alike.
type OpenAIClient struct {
	baseURL      string
	apiKey       string
	defaultModel string
	httpClient   *http.Client
}

// NewOpenAIClient creates a new OpenAI-compatible client
func NewOpenAIClient(cfg *OpenAIConfig) (*OpenAIClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}

	return &OpenAIClient{
		baseURL:      cfg.BaseURL,
		apiKey:       cfg.APIKey,
		defaultModel: cfg.Model,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}, nil
}

// Infer sends a non-streaming request to an OpenAI-compatible /chat/completions.
func (c *OpenAIClient) Infer(req *Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	openaiReq := OpenAIRequest{Model: model, Messages: req.Messages, Stream: false}
	if req.Temperature > 0 {
		openaiReq.Temperature = req.Temperature
	}
	if req.MaxTokens > 0 {
		openaiReq.MaxTokens = req.MaxTokens
	}

	body, err := json.Marshal(openaiReq)
	if err != nil {
		return nil, chaterr.New(chaterr.InvalidRequest, "marshal openai request", err)
	}

	url := fmt.Sprintf("%s/chat/completions", c.baseURL)
	httpReq, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, chaterr.New(chaterr.IOError, "build openai request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, chaterr.New(chaterr.IOError, "openai request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, chaterr.New(chaterr.LLMError, fmt.Sprintf("openai API returned status %d: %s", resp.StatusCode, string(b)), nil)
	}

	var openaiResp OpenAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&openaiResp); err != nil {
		return nil, chaterr.New(chaterr.ProcessingError, "decode openai response", err)
	}

	if len(openaiResp.Choices) == 0 {
		return nil, chaterr.New(chaterr.EmptyResponse, "no choices in response", nil)
	}

	return &Response{
		Content:    openaiResp.Choices[0].Message.Content,
		Model:      openaiResp.Model,
		TokensUsed: openaiResp.Usage.TotalTokens,
		SessionID:  req.SessionID,
	}, nil
}

// InferStream streams an OpenAI-compatible chat completion over SSE. The
// wire framing (`data: {...}` lines terminated by `data: [DONE]`) is
// standard across vLLM/MLX/OpenRouter/OpenAI.
func (c *OpenAIClient) InferStream(ctx context.Context, req *Request, onChunk func(StreamChunk) error) error {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	openaiReq := OpenAIRequest{Model: model, Messages: req.Messages, Stream: true}
	if req.Temperature > 0 {
		openaiReq.Temperature = req.Temperature
	}
	if req.MaxTokens > 0 {
		openaiReq.MaxTokens = req.MaxTokens
	}

	body, err := json.Marshal(openaiReq)
	if err != nil {
		return chaterr.New(chaterr.InvalidRequest, "marshal openai stream request", err)
	}

	client := sse.NewClient(fmt.Sprintf("%s/chat/completions", c.baseURL))
	client.Method = http.MethodPost
	client.Body = bytes.NewReader(body)
	client.Headers["Content-Type"] = "application/json"
	client.Headers["Authorization"] = "Bearer " + c.apiKey
	client.Connection = c.httpClient

	index := 0
	var streamErr error
	err = client.SubscribeRawWithContext(ctx, func(msg *sse.Event) {
		if streamErr != nil {
			return
		}
		data := string(msg.Data)
		if data == "[DONE]" {
			if e := onChunk(StreamChunk{Content: "", Done: true, ChunkIndex: index}); e != nil {
				streamErr = e
			}
			return
		}

		var chunk openAIStreamChunk
		if e := json.Unmarshal(msg.Data, &chunk); e != nil {
			streamErr = chaterr.New(chaterr.ProcessingError, "decode openai stream chunk", e)
			return
		}
		if len(chunk.Choices) == 0 {
			return
		}
		content := chunk.Choices[0].Delta.Content
		done := chunk.Choices[0].FinishReason != ""
		if e := onChunk(StreamChunk{Content: content, Done: done, ChunkIndex: index}); e != nil {
			streamErr = e
			return
		}
		index++
	})
	if streamErr != nil {
		return streamErr
	}
	if err != nil {
		return chaterr.New(chaterr.IOError, "openai stream request failed", err)
	}
	return nil
}

// Health checks if OpenAI-compatible API is configured well enough to call.
func (c *OpenAIClient) Health() error {
	if c.apiKey == "" {
		return fmt.Errorf("API key is not configured")
	}
	return nil
}

// OpenAIRequest represents an OpenAI chat-completions request
type OpenAIRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// OpenAIResponse represents an OpenAI API response
type OpenAIResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Choice represents a completion choice
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage represents token usage
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}
