package memory

import "strings"

// Extractor derives memory entries from a completed turn. It runs after the
// orchestrator reaches Done (spec.md §4.6/§3 "created by a background
// extractor on completed turns"). The heuristic here is deliberately simple:
// a turn is remembered as an `event` entry; no NLP fact extraction is
// attempted, matching the "do not invent semantics" guidance for anything
// the spec leaves unspecified.
type Extractor struct {
	store *Store
}

// NewExtractor builds an extractor writing into store.
func NewExtractor(store *Store) *Extractor {
	return &Extractor{store: store}
}

// ExtractTurn stores the user message and assistant reply as one event
// memory entry, skipping turns with empty content on either side.
func (x *Extractor) ExtractTurn(sessionID, userMessage, assistantReply string) error {
	userMessage = strings.TrimSpace(userMessage)
	assistantReply = strings.TrimSpace(assistantReply)
	if userMessage == "" || assistantReply == "" {
		return nil
	}
	return x.store.Store(Entry{
		SessionID:  sessionID,
		Content:    "User asked: " + userMessage + " | Assistant replied: " + assistantReply,
		Kind:       KindEvent,
		Importance: 3,
		Keywords:   strings.Fields(strings.ToLower(userMessage)),
	})
}
