package inference

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/cortexhub/streamgateway/internal/chaterr"
)

// AnthropicConfig holds Anthropic client configuration.
type AnthropicConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// AnthropicClient is an Anthropic Messages API client, added alongside the
// teacher's local-first engines for a hosted-frontier lane.
type AnthropicClient struct {
	client       anthropic.Client
	defaultModel string
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(cfg *AnthropicConfig) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = string(anthropic.ModelClaude3_5HaikuLatest)
	}
	return &AnthropicClient{
		client:       anthropic.NewClient(opts...),
		defaultModel: model,
	}, nil
}

func toAnthropicMessages(messages []Message) (system string, out []anthropic.MessageParam) {
	for _, m := range messages {
		if m.Role == "system" {
			if system != "" {
				system += "\n"
			}
			system += m.Content
			continue
		}
		if m.Role == "assistant" {
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		} else {
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return system, out
}

func (c *AnthropicClient) params(req *Request) anthropic.MessageNewParams {
	system, msgs := toAnthropicMessages(req.Messages)
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	p := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  msgs,
	}
	if system != "" {
		p.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature > 0 {
		p.Temperature = anthropic.Float(req.Temperature)
	}
	return p
}

// Infer sends a non-streaming Messages API request.
func (c *AnthropicClient) Infer(req *Request) (*Response, error) {
	resp, err := c.client.Messages.New(context.Background(), c.params(req))
	if err != nil {
		return nil, chaterr.New(chaterr.LLMError, "anthropic messages.new failed", err)
	}

	var content string
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			content += tb.Text
		}
	}
	if content == "" {
		return nil, chaterr.New(chaterr.EmptyResponse, "anthropic returned no text content", nil)
	}

	return &Response{
		Content:    content,
		Model:      string(resp.Model),
		TokensUsed: int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		SessionID:  req.SessionID,
	}, nil
}

// InferStream streams Server-Sent Events from the Messages API, forwarding
// text deltas to onChunk (mirrors the teacher pack's SSE-event-union
// handling, adapted from text-and-tool-call handling down to text-only).
func (c *AnthropicClient) InferStream(ctx context.Context, req *Request, onChunk func(StreamChunk) error) error {
	stream := c.client.Messages.NewStreaming(ctx, c.params(req))
	defer stream.Close()

	index := 0
	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				if err := onChunk(StreamChunk{Content: delta.Text, Done: false, ChunkIndex: index}); err != nil {
					return err
				}
				index++
			}
		case anthropic.MessageStopEvent:
			_ = ev
		}
	}
	if err := stream.Err(); err != nil {
		return chaterr.New(chaterr.IOError, "anthropic stream failed", err)
	}
	return onChunk(StreamChunk{Content: "", Done: true, ChunkIndex: index})
}

// Health always reports healthy — Anthropic has no dedicated health
// endpoint, so no request is made and nothing is checked here.
func (c *AnthropicClient) Health() error {
	return nil
}
