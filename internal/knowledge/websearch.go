package knowledge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cortexhub/streamgateway/internal/logging"
)

// WebSearch resolves spec.md §9's open question with a single policy: live
// lookups against the public Wikipedia search API, with a deterministic
// fallback to empty results on failure — never synthesized/mock content.
// Adapted from the teacher's internal/tools.Tool handler-function shape
// (Name/Description/Handler), specialized to one concrete handler instead
// of a generic plugin registry.
type WebSearch struct {
	httpClient *http.Client
	maxResults int
	timeout    time.Duration
	log        *logging.Logger

	// decide is the auxiliary LLM/heuristic call that decides whether a
	// query needs fresh web information; nil uses the built-in heuristic.
	decide func(query string) bool
}

// WebSearchConfig configures the web-search adapter.
type WebSearchConfig struct {
	MaxResults int
	Timeout    time.Duration
}

// NewWebSearch constructs a WebSearch adapter. decide may be nil to use a
// built-in keyword heuristic.
func NewWebSearch(cfg WebSearchConfig, decide func(query string) bool) *WebSearch {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &WebSearch{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		maxResults: cfg.MaxResults,
		timeout:    cfg.Timeout,
		decide:     decide,
		log:        logging.WithComponent("knowledge.websearch"),
	}
}

// freshnessKeywords drives the heuristic decision used when decide is nil.
// A decide call that times out is not retried with the heuristic: ShouldSearch
// returns false, and the enableTimeoutFallback config flag is not consulted.
var freshnessKeywords = []string{"today", "latest", "current", "now", "recent", "news", "最新", "今天", "现在"}

// ShouldSearch decides whether query warrants a web lookup, with a bounded
// timeout falling back to "no search" (spec.md §4.5).
func (w *WebSearch) ShouldSearch(query string) bool {
	if w.decide == nil {
		lower := strings.ToLower(query)
		for _, kw := range freshnessKeywords {
			if strings.Contains(lower, kw) {
				return true
			}
		}
		return false
	}

	done := make(chan bool, 1)
	go func() { done <- w.decide(query) }()
	select {
	case v := <-done:
		return v
	case <-time.After(w.timeout):
		w.log.Warn("web-search decision timed out, falling back to no-search", "query", query)
		return false
	}
}

type wikipediaSearchResponse struct {
	Query struct {
		Search []struct {
			Title   string `json:"title"`
			Snippet string `json:"snippet"`
		} `json:"search"`
	} `json:"query"`
}

// Search queries the public Wikipedia search API. On any failure it returns
// an empty slice rather than simulated content (spec.md §9).
func (w *WebSearch) Search(query string) []string {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	endpoint := "https://en.wikipedia.org/w/api.php?action=query&list=search&format=json&srlimit=" +
		itoa(w.maxResults) + "&srsearch=" + url.QueryEscape(query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		w.log.Warn("web search request build failed", "err", err)
		return nil
	}
	resp, err := w.httpClient.Do(req)
	if err != nil {
		w.log.Warn("web search request failed", "err", err)
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		w.log.Warn("web search non-200 response", "status", resp.StatusCode)
		return nil
	}

	var parsed wikipediaSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		w.log.Warn("web search response decode failed", "err", err)
		return nil
	}

	var out []string
	for _, r := range parsed.Query.Search {
		snippet := stripHTML(r.Snippet)
		out = append(out, r.Title+": "+snippet)
	}
	return out
}

func stripHTML(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func itoa(n int) string {
	if n <= 0 {
		return "0"
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
