// Package inference implements the LLM Adapter (C10): a unified
// generate/generateAsync/generateStream/generateStreamWithInterruptCheck
// surface (spec.md §6) over the teacher's multi-engine Router
// (Ollama/OpenAI-compatible/TGI/llama.cpp, now joined by Anthropic).
package inference

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/cortexhub/streamgateway/internal/chaterr"
	"github.com/cortexhub/streamgateway/internal/config"
	"github.com/cortexhub/streamgateway/internal/logging"
)

// Client is the interface every inference engine implements.
type Client interface {
	Infer(req *Request) (*Response, error)
	Health() error
}

// StreamingClient is implemented by engines that can stream tokens natively.
// Engines that don't implement it fall back to Router's chunk-the-final-text
// emulation in GenerateStream.
type StreamingClient interface {
	InferStream(ctx context.Context, req *Request, onChunk func(StreamChunk) error) error
}

// Message is one entry of a chat-style request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request represents an inference request, per spec.md §6:
// {messages[], model, temperature, maxTokens, stream, options}.
type Request struct {
	Messages    []Message
	Model       string
	Temperature float64
	MaxTokens   int
	Stream      bool
	Options     map[string]interface{}
	SessionID   string
}

// Response represents an inference response.
type Response struct {
	Content    string
	Model      string
	TokensUsed int
	SessionID  string
	Lane       string
}

// StreamChunk is one unit of a streamed response: {content, done, chunkIndex}.
type StreamChunk struct {
	Content    string
	Done       bool
	ChunkIndex int
}

// Router manages inference engines and lanes.
type Router struct {
	lanes       map[string]*Lane
	engines     map[string]*Engine
	defaultLane string
	mu          sync.RWMutex
	log         *logging.Logger
}

// Lane represents an inference routing lane.
type Lane struct {
	Engine   *Engine
	Strategy string
}

// Engine represents a runtime inference engine.
type Engine struct {
	Name     string
	Type     string
	URL      string
	Models   []string
	Default  string
	Hardware string
	Client   Client
}

// NewRouter creates a new inference router from config. Auto-detection is
// local-host only: the teacher's swarm/subnet discovery layer is gone, so
// DetectEngines is always called with an empty subnet (127.0.0.1/localhost
// probes only).
func NewRouter(ctx context.Context, cfg *config.Config) (*Router, error) {
	log := logging.WithComponent("inference.router")
	r := &Router{
		lanes:       make(map[string]*Lane),
		engines:     make(map[string]*Engine),
		defaultLane: cfg.Inference.DefaultLane,
		log:         log,
	}

	infCfg := &cfg.Inference

	if infCfg.AutoDetect {
		detected, err := DetectEngines(ctx, "")
		if err != nil {
			log.Warn("auto-detect failed, continuing without detected engines", "err", err)
		} else {
			for _, d := range detected {
				name := generateEngineName(d.Type, d.URL)
				client, err := createClient(d.Type, d.URL, d.Default, "")
				if err != nil {
					log.Warn("failed to create client for detected engine", "name", name, "err", err)
					continue
				}
				r.engines[name] = &Engine{
					Name: name, Type: d.Type, URL: d.URL, Models: d.Models,
					Default: d.Default, Hardware: d.Hardware, Client: client,
				}
			}
		}
	}

	// Explicit engines from config, including the ollama.baseUrl shorthand.
	if cfg.Ollama.BaseURL != "" {
		name := "ollama-default"
		client, err := createClient("ollama", cfg.Ollama.BaseURL, cfg.Ollama.Model, "")
		if err != nil {
			log.Warn("failed to create default ollama client", "err", err)
		} else {
			r.engines[name] = &Engine{
				Name: name, Type: "ollama", URL: cfg.Ollama.BaseURL,
				Models: []string{cfg.Ollama.Model}, Default: cfg.Ollama.Model, Client: client,
			}
		}
	}

	for _, ec := range infCfg.Engines {
		models := ec.Models
		if len(models) == 0 {
			models = ec.PreferredModels
		}
		if len(models) == 0 {
			models = []string{"default"}
		}
		defaultModel := models[0]
		client, err := createClient(ec.Type, ec.URL, defaultModel, ec.APIKey)
		if err != nil {
			log.Warn("failed to create client for engine", "name", ec.Name, "err", err)
			continue
		}
		r.engines[ec.Name] = &Engine{
			Name: ec.Name, Type: ec.Type, URL: ec.URL, Models: models,
			Default: defaultModel, Client: client,
		}
	}

	for _, lc := range infCfg.Lanes {
		var eng *Engine
		if lc.Engine != "" {
			e, ok := r.engines[lc.Engine]
			if !ok {
				log.Warn("engine not found for lane", "engine", lc.Engine, "lane", lc.Name)
				continue
			}
			eng = e
		} else if lc.Provider != "" {
			typ := lc.Provider
			if typ == "openai" || typ == "openrouter" {
				typ = "openai-compatible"
			}
			models := lc.Models
			if len(models) == 0 {
				models = []string{"gpt-3.5-turbo"}
			}
			defaultModel := models[0]
			client, err := createClient(typ, lc.BaseURL, defaultModel, lc.APIKey)
			if err != nil {
				log.Warn("failed to create implicit client for lane", "lane", lc.Name, "err", err)
				continue
			}
			eng = &Engine{
				Name: lc.Name, Type: typ, URL: lc.BaseURL, Models: models,
				Default: defaultModel, Client: client,
			}
			r.engines[lc.Name] = eng
		} else {
			log.Warn("lane has no engine or provider", "lane", lc.Name)
			continue
		}

		r.lanes[lc.Name] = &Lane{Engine: eng, Strategy: lc.Strategy}
	}

	if r.defaultLane != "" {
		if _, ok := r.lanes[r.defaultLane]; !ok {
			return nil, fmt.Errorf("default lane %s not found", r.defaultLane)
		}
	} else if len(r.lanes) > 0 {
		for name := range r.lanes {
			r.defaultLane = name
			break
		}
	}

	return r, nil
}

func generateEngineName(typ, urlStr string) string {
	u, _ := url.Parse(urlStr)
	return fmt.Sprintf("auto-%s-%s", typ, u.Host)
}

func createClient(typ, baseURL, defaultModel, apiKey string) (Client, error) {
	switch typ {
	case "ollama":
		return NewOllamaClient(&OllamaConfig{URL: baseURL, DefaultModel: defaultModel})
	case "openai-compatible", "vllm", "mlx", "openai", "openrouter":
		return NewOpenAIClient(&OpenAIConfig{BaseURL: baseURL, APIKey: apiKey, Model: defaultModel})
	case "anthropic":
		return NewAnthropicClient(&AnthropicConfig{APIKey: apiKey, Model: defaultModel})
	case "tgi":
		return NewTGIClient(baseURL), nil
	case "llamacpp":
		return NewLlamaCPPClient(baseURL), nil
	default:
		return nil, fmt.Errorf("unsupported inference type: %s", typ)
	}
}

func (r *Router) resolveLane(lane string) (string, *Lane, error) {
	if lane == "" {
		lane = r.defaultLane
	}
	l, ok := r.lanes[lane]
	if !ok {
		return lane, nil, chaterr.New(chaterr.InvalidRequest, fmt.Sprintf("lane %s not found", lane), nil)
	}
	return lane, l, nil
}

func (r *Router) selectModel(l *Lane, req *Request) {
	if req.Model != "" {
		found := false
		for _, m := range l.Engine.Models {
			if m == req.Model {
				found = true
				break
			}
		}
		if found {
			return
		}
		req.Model = l.Engine.Default
		return
	}
	model := l.Engine.Default
	if l.Strategy == "fastest" {
		model = pickFastestModel(l.Engine.Models)
	}
	req.Model = model
}

// Generate performs a single synchronous inference call: spec.md §6's
// generate(Request).
func (r *Router) Generate(lane string, req *Request) (*Response, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	laneName, l, err := r.resolveLane(lane)
	if err != nil {
		return nil, err
	}
	if len(req.Messages) == 0 {
		return nil, chaterr.New(chaterr.InvalidRequest, "request has no messages", nil)
	}
	r.selectModel(l, req)

	res, err := l.Engine.Client.Infer(req)
	if err != nil {
		return nil, classifyEngineError(err)
	}
	if res.Content == "" {
		return nil, chaterr.New(chaterr.EmptyResponse, "engine returned empty content", nil)
	}
	res.Lane = laneName
	return res, nil
}

// AsyncResult is the result delivered on GenerateAsync's channel.
type AsyncResult struct {
	Response *Response
	Err      error
}

// GenerateAsync performs Generate on a goroutine, returning a channel that
// receives exactly one AsyncResult: spec.md §6's generateAsync(Request).
func (r *Router) GenerateAsync(lane string, req *Request) <-chan AsyncResult {
	out := make(chan AsyncResult, 1)
	go func() {
		res, err := r.Generate(lane, req)
		out <- AsyncResult{Response: res, Err: err}
	}()
	return out
}

// GenerateStream streams chunks via onChunk, per spec.md §6's
// generateStream(Request, onChunk, onError, onComplete). Engines without
// native streaming support (TGI, llama.cpp) fall back to one synchronous
// call whose content is emitted as a single final chunk.
func (r *Router) GenerateStream(ctx context.Context, lane string, req *Request, onChunk func(StreamChunk) error, onError func(error), onComplete func()) error {
	return r.GenerateStreamWithInterruptCheck(ctx, lane, req, onChunk, onError, onComplete, nil)
}

// GenerateStreamWithInterruptCheck is GenerateStream plus a predicate polled
// between chunks; when it returns true the stream stops early without
// treating it as an error (spec.md §6).
func (r *Router) GenerateStreamWithInterruptCheck(ctx context.Context, lane string, req *Request, onChunk func(StreamChunk) error, onError func(error), onComplete func(), interruptPredicate func() bool) error {
	r.mu.RLock()
	laneName, l, err := r.resolveLane(lane)
	if err != nil {
		r.mu.RUnlock()
		onError(err)
		return err
	}
	if len(req.Messages) == 0 {
		r.mu.RUnlock()
		cerr := chaterr.New(chaterr.InvalidRequest, "request has no messages", nil)
		onError(cerr)
		return cerr
	}
	r.selectModel(l, req)
	client := l.Engine.Client
	r.mu.RUnlock()

	wrappedChunk := func(c StreamChunk) error {
		if interruptPredicate != nil && interruptPredicate() {
			return errInterrupted
		}
		return onChunk(c)
	}

	if sc, ok := client.(StreamingClient); ok {
		err := sc.InferStream(ctx, req, wrappedChunk)
		if err == errInterrupted {
			onComplete()
			return nil
		}
		if err != nil {
			cerr := classifyEngineError(err)
			onError(cerr)
			return cerr
		}
		onComplete()
		return nil
	}

	// Fallback: non-streaming engine, emit the whole response as chunk 0.
	res, err := client.Infer(req)
	if err != nil {
		cerr := classifyEngineError(err)
		onError(cerr)
		return cerr
	}
	if res.Content == "" {
		cerr := chaterr.New(chaterr.EmptyResponse, "engine returned empty content", nil)
		onError(cerr)
		return cerr
	}
	if err := wrappedChunk(StreamChunk{Content: res.Content, Done: true, ChunkIndex: 0}); err != nil && err != errInterrupted {
		onError(err)
		return err
	}
	_ = laneName
	onComplete()
	return nil
}

var errInterrupted = fmt.Errorf("inference: stream interrupted")

func classifyEngineError(err error) error {
	if _, ok := err.(*chaterr.Error); ok {
		return err
	}
	return chaterr.New(chaterr.IOError, "engine call failed", err)
}

// Health checks all engines.
func (r *Router) Health() map[string]error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	results := make(map[string]error)
	for name, eng := range r.engines {
		results[name] = eng.Client.Health()
	}
	return results
}

// ListEngines returns the list of configured engines.
func (r *Router) ListEngines() []Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]Engine, 0, len(r.engines))
	for _, e := range r.engines {
		list = append(list, *e)
	}
	return list
}

// ListModels returns the flat list of all models across engines.
func (r *Router) ListModels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	modelSet := make(map[string]bool)
	for _, e := range r.engines {
		for _, m := range e.Models {
			modelSet[m] = true
		}
	}
	models := make([]string, 0, len(modelSet))
	for m := range modelSet {
		models = append(models, m)
	}
	sort.Strings(models)
	return models
}

func pickFastestModel(models []string) string {
	if len(models) == 0 {
		return ""
	}
	sorted := append([]string(nil), models...)
	sort.Slice(sorted, func(i, j int) bool {
		return parseParams(sorted[i]) < parseParams(sorted[j])
	})
	return sorted[0]
}

func parseParams(name string) int {
	i := strings.IndexAny(name, "Bb")
	if i > 0 {
		var numB int
		if _, err := fmt.Sscanf(name[:i], "%d", &numB); err == nil {
			return numB
		}
	}
	return 999
}

// flattenMessages renders a chat message list as a single prompt, for
// engines (Ollama, TGI, llama.cpp) whose wire format is a flat prompt string
// rather than a messages array.
func flattenMessages(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		if m.Role != "" {
			b.WriteString(m.Role)
			b.WriteString(": ")
		}
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}
