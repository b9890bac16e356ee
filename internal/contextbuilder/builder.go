// Package contextbuilder implements the Context Builder (C6): assembles the
// outgoing message list for one turn under a token budget (spec.md §4.5).
// Messages are ordered system/persona → web-search → knowledge → history →
// user; the budget goes to system and user first (never dropped), then to
// web-search, knowledge and history in that order, with the oldest history
// entries dropped first. The crude len(text)/4 estimator is the sole budgeting signal —
// the spec names it as a specific, non-negotiable invariant, not an
// implementation detail to be quietly improved on.
package contextbuilder

import (
	"github.com/pkoukk/tiktoken-go"

	"github.com/cortexhub/streamgateway/internal/logging"
	"github.com/cortexhub/streamgateway/internal/session"
)

// Message is one entry of the final list sent to the LLM adapter.
type Message struct {
	Role    string
	Content string
}

// Config bounds context assembly.
type Config struct {
	// MaxTokens is the configurable cap, default 4000 (spec.md §4.5).
	MaxTokens int
}

// Builder assembles Context from its inputs.
type Builder struct {
	cfg Config
	log *logging.Logger
	enc *tiktoken.Tiktoken
}

// New constructs a Builder. The tiktoken encoder is best-effort: it is only
// ever used to log a second, more accurate token count for observability,
// never to make budgeting decisions (see spec.md §4.5 and SPEC_FULL.md §2).
func New(cfg Config) *Builder {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4000
	}
	log := logging.WithComponent("contextbuilder")
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		log.Warn("tiktoken encoding unavailable, accurate token counts disabled", "err", err)
		enc = nil
	}
	return &Builder{cfg: cfg, log: log, enc: enc}
}

// crudeTokens is the spec-mandated estimator: len(text)/4.
func crudeTokens(s string) int {
	return len(s) / 4
}

func (b *Builder) logAccurateCount(label, text string) {
	if b.enc == nil {
		return
	}
	b.log.Debug("token count", "block", label, "crude", crudeTokens(text), "tiktoken", len(b.enc.Encode(text, nil, nil)))
}

// Input bundles everything the builder needs for one turn.
type Input struct {
	SystemPrompt    string
	WebSearchBlock  string
	KnowledgeBlock  string
	History         []session.HistoryEntry
	UserMessage     string
}

// Build assembles the final message list, applying the priority-drop order.
// System and user are never dropped or truncated even if they alone exceed
// the cap (spec.md §4.5); the caller is expected to log the returned
// overBudget flag as a warning.
func (b *Builder) Build(in Input) (messages []Message, overBudget bool) {
	b.logAccurateCount("system", in.SystemPrompt)
	b.logAccurateCount("user", in.UserMessage)

	systemTokens := crudeTokens(in.SystemPrompt)
	userTokens := crudeTokens(in.UserMessage)
	required := systemTokens + userTokens

	system := Message{Role: "system", Content: in.SystemPrompt}
	user := Message{Role: "user", Content: in.UserMessage}

	if required > b.cfg.MaxTokens {
		b.log.Warn("system+user alone exceed token budget; dropping all history/knowledge/web-search",
			"required", required, "cap", b.cfg.MaxTokens)
		return []Message{system, user}, true
	}

	remaining := b.cfg.MaxTokens - required
	var middle []Message

	if in.WebSearchBlock != "" {
		if t := crudeTokens(in.WebSearchBlock); t <= remaining {
			middle = append(middle, Message{Role: "system", Content: in.WebSearchBlock})
			remaining -= t
		} else {
			b.log.Warn("dropping web-search block: would exceed budget", "tokens", t, "remaining", remaining)
		}
	}

	if in.KnowledgeBlock != "" {
		if t := crudeTokens(in.KnowledgeBlock); t <= remaining {
			middle = append(middle, Message{Role: "system", Content: in.KnowledgeBlock})
			remaining -= t
		} else {
			b.log.Warn("dropping knowledge block: would exceed budget", "tokens", t, "remaining", remaining)
		}
	}

	history := fitHistory(in.History, remaining, b.log)

	messages = append(messages, system)
	messages = append(messages, middle...)
	for _, h := range history {
		messages = append(messages, Message{Role: h.Role, Content: h.Content})
	}
	messages = append(messages, user)
	return messages, false
}

// fitHistory drops the oldest entries until the remaining history fits in
// budget, preserving chronological order of what's kept.
func fitHistory(history []session.HistoryEntry, budget int, log *logging.Logger) []session.HistoryEntry {
	total := 0
	for _, h := range history {
		total += crudeTokens(h.Content)
	}
	start := 0
	dropped := 0
	for total > budget && start < len(history) {
		total -= crudeTokens(history[start].Content)
		start++
		dropped++
	}
	if dropped > 0 {
		log.Info("dropped oldest history turns to fit token budget", "dropped", dropped, "kept", len(history)-start)
	}
	return history[start:]
}
