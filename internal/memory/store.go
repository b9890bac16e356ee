// Package memory implements the Memory store: MemoryEntry records of kind
// fact/preference/relationship/event, one JSON file per session under
// ./data/memories, with keyword-overlap retrieval and an LRU/low-importance
// purge policy. Adapted from the teacher's internal/memory.Store, which
// held markdown-line entries under a single free-text directory; this
// rewrite switches to the structured MemoryEntry record of spec.md §3 while
// keeping the same directory-walk/file-per-scope shape.
package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cortexhub/streamgateway/internal/logging"
)

// Kind classifies a memory entry.
type Kind string

const (
	KindFact         Kind = "fact"
	KindPreference   Kind = "preference"
	KindRelationship Kind = "relationship"
	KindEvent        Kind = "event"
)

// Entry is one retrievable memory record.
type Entry struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"sessionId"`
	Content        string    `json:"content"`
	Kind           Kind      `json:"kind"`
	Importance     int       `json:"importance"`
	CreatedAt      time.Time `json:"createdAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
	AccessCount    int       `json:"accessCount"`
	Keywords       []string  `json:"keywords"`
}

// Store holds memory entries per session, file-backed under dir, protected
// by a per-session lock (read from the context builder, written by the
// background extractor — spec.md §5 "Shared resources").
type Store struct {
	dir string
	log *logging.Logger

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
}

// New constructs a Store rooted at dir (e.g. ./data/memories).
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("memory: create dir: %w", err)
	}
	return &Store{dir: dir, log: logging.WithComponent("memory"), locks: make(map[string]*sync.Mutex)}, nil
}

func (s *Store) sessionLock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[sessionID] = l
	}
	return l
}

func (s *Store) path(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".json")
}

func (s *Store) load(sessionID string) ([]Entry, error) {
	data, err := os.ReadFile(s.path(sessionID))
	if os.IsNotExist(err) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("memory: read %s: %w", sessionID, err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("memory: decode %s: %w", sessionID, err)
	}
	return entries, nil
}

func (s *Store) save(sessionID string, entries []Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("memory: encode %s: %w", sessionID, err)
	}
	if err := os.WriteFile(s.path(sessionID), data, 0o644); err != nil {
		return fmt.Errorf("memory: write %s: %w", sessionID, err)
	}
	return nil
}

// Store persists a new entry, generating an id and timestamps if absent.
func (s *Store) Store(e Entry) error {
	lock := s.sessionLock(e.SessionID)
	lock.Lock()
	defer lock.Unlock()

	entries, err := s.load(e.SessionID)
	if err != nil {
		return err
	}
	if e.ID == "" {
		e.ID = fmt.Sprintf("%s-%d-%d", e.SessionID, time.Now().UnixNano(), len(entries))
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.LastAccessedAt = e.CreatedAt
	entries = append(entries, e)
	return s.save(e.SessionID, entries)
}

// Search returns a ranked subset of entries for sessionID whose content or
// keywords overlap query, most important and most recent first, bumping
// each returned entry's access bookkeeping.
func (s *Store) Search(sessionID, query string, limit int) ([]Entry, error) {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	entries, err := s.load(sessionID)
	if err != nil {
		return nil, err
	}
	terms := strings.Fields(strings.ToLower(query))
	var matched []Entry
	for i := range entries {
		if matches(entries[i], terms) {
			entries[i].LastAccessedAt = time.Now()
			entries[i].AccessCount++
			matched = append(matched, entries[i])
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Importance != matched[j].Importance {
			return matched[i].Importance > matched[j].Importance
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if err := s.save(sessionID, entries); err != nil {
		s.log.Warn("failed to persist access bookkeeping", "session_id", sessionID, "err", err)
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func matches(e Entry, terms []string) bool {
	if len(terms) == 0 {
		return true
	}
	haystack := strings.ToLower(e.Content + " " + strings.Join(e.Keywords, " "))
	for _, t := range terms {
		if strings.Contains(haystack, t) {
			return true
		}
	}
	return false
}

// Purge applies the LRU/low-importance policy: entries below
// minImportance that haven't been accessed within maxAge are removed. It
// returns the number of entries removed, summed across sessions.
func (s *Store) Purge(minImportance int, maxAge time.Duration) (int, error) {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("memory: list: %w", err)
	}
	removed := 0
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		sessionID := strings.TrimSuffix(f.Name(), ".json")
		lock := s.sessionLock(sessionID)
		lock.Lock()
		entries, err := s.load(sessionID)
		if err != nil {
			lock.Unlock()
			continue
		}
		kept := entries[:0]
		for _, e := range entries {
			if e.Importance < minImportance && time.Since(e.LastAccessedAt) > maxAge {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		if err := s.save(sessionID, kept); err != nil {
			s.log.Warn("memory purge: failed to save", "session_id", sessionID, "err", err)
		}
		lock.Unlock()
	}
	return removed, nil
}
