// Package knowledge implements the Knowledge Facade (C7): retrieves the
// persona prompt, short-term memory, and long-term "world book" knowledge
// for a query. It composes internal/persona, internal/memory, and
// WebSearch — the optional live lookup adapted from the teacher's
// internal/tools.Tool handler-function shape.
package knowledge

import (
	"fmt"

	"github.com/cortexhub/streamgateway/internal/memory"
	"github.com/cortexhub/streamgateway/internal/persona"
)

// Facade composes the persona, memory, and web-search collaborators behind
// one retrieval call.
type Facade struct {
	personas *persona.Store
	memories *memory.Store
	search   *WebSearch
}

// Config names the configured fallbacks used when persona lookup misses.
type Config struct {
	BasePrompt     string
	FallbackPrompt string
	EnablePersona  bool
}

// New builds a Facade.
func New(personas *persona.Store, memories *memory.Store, search *WebSearch) *Facade {
	return &Facade{personas: personas, memories: memories, search: search}
}

// SystemPrompt resolves the persona prompt, falling back to the configured
// base prompt and then the configured fallback prompt, per spec.md §4.5
// step 1.
func (f *Facade) SystemPrompt(personaID string, cfg Config) string {
	if cfg.EnablePersona && personaID != "" {
		if p, ok := f.personas.Get(personaID); ok && p.SystemPrompt != "" {
			return p.SystemPrompt
		}
	}
	if cfg.BasePrompt != "" {
		return cfg.BasePrompt
	}
	return cfg.FallbackPrompt
}

// ShortTermMemory returns the 【近期记忆】 block: recent session-scoped entries
// relevant to query.
func (f *Facade) ShortTermMemory(sessionID, query string, limit int) (string, error) {
	entries, err := f.memories.Search(sessionID, query, limit)
	if err != nil {
		return "", fmt.Errorf("knowledge: short-term memory: %w", err)
	}
	if len(entries) == 0 {
		return "", nil
	}
	block := "【近期记忆】\n"
	for _, e := range entries {
		block += "- " + e.Content + "\n"
	}
	return block, nil
}

// LongTermKnowledge returns the 【相关知识】 block: the world-book lookup,
// here resolved via the same memory store filtered to `fact`/`relationship`
// kinds, which stand in for the persisted long-term knowledge base.
func (f *Facade) LongTermKnowledge(sessionID, query string, limit int) (string, error) {
	entries, err := f.memories.Search(sessionID, query, limit)
	if err != nil {
		return "", fmt.Errorf("knowledge: long-term knowledge: %w", err)
	}
	var block string
	for _, e := range entries {
		if e.Kind != "fact" && e.Kind != "relationship" {
			continue
		}
		if block == "" {
			block = "【相关知识】\n"
		}
		block += "- " + e.Content + "\n"
	}
	return block, nil
}

// WebSearchIfNeeded runs the auxiliary decision call then, if it decides a
// search is warranted, performs it. Both steps are bounded by the search
// adapter's own timeout handling.
func (f *Facade) WebSearchIfNeeded(query string, enabled bool) (string, bool) {
	if !enabled || f.search == nil {
		return "", false
	}
	if !f.search.ShouldSearch(query) {
		return "", false
	}
	results := f.search.Search(query)
	if len(results) == 0 {
		return "", false
	}
	block := "【网络搜索】\n"
	for _, r := range results {
		block += "- " + r + "\n"
	}
	return block, true
}
