// Package history implements the History Store (C9): one JSON file per
// session holding an ordered array of turn entries, loaded fully on demand
// and appended by full rewrite. Adapted from the teacher's
// internal/memory.Store directory-walk/file-write idiom, collapsed from
// markdown-line entries to a single JSON array per spec.md §4.7.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cortexhub/streamgateway/internal/logging"
)

const timeLayout = "2006-01-02 15:04:05"

// Entry is one persisted turn message. Thinking content is never persisted
// (spec.md §4.7).
type Entry struct {
	Type      string `json:"type"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// Store manages one JSON history file per session under rootPath.
type Store struct {
	rootPath string
	log      *logging.Logger
}

// New creates a Store rooted at dir (e.g. ./data/sessions), creating it if
// it doesn't exist.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("history: create root: %w", err)
	}
	return &Store{rootPath: dir, log: logging.WithComponent("history")}, nil
}

func (s *Store) path(sessionID string) string {
	return filepath.Join(s.rootPath, sessionID+"_history.json")
}

// Load reads the full history for a session; a missing file yields an empty
// slice, not an error.
func (s *Store) Load(sessionID string) ([]Entry, error) {
	data, err := os.ReadFile(s.path(sessionID))
	if os.IsNotExist(err) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history: read %s: %w", sessionID, err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("history: decode %s: %w", sessionID, err)
	}
	return entries, nil
}

// Append loads the existing history, adds entry, and rewrites the file in
// full. A write failure is returned to the caller — the orchestrator treats
// history persistence as best-effort and never fails a turn on it
// (spec.md §7).
func (s *Store) Append(sessionID string, entry Entry) error {
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().Format(timeLayout)
	}
	entries, err := s.Load(sessionID)
	if err != nil {
		return err
	}
	entries = append(entries, entry)
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("history: encode %s: %w", sessionID, err)
	}
	if err := os.WriteFile(s.path(sessionID), data, 0o644); err != nil {
		return fmt.Errorf("history: write %s: %w", sessionID, err)
	}
	return nil
}

// Delete removes a session's history file entirely.
func (s *Store) Delete(sessionID string) error {
	err := os.Remove(s.path(sessionID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("history: delete %s: %w", sessionID, err)
	}
	return nil
}

// List enumerates the session ids with a history file on disk.
func (s *Store) List() ([]string, error) {
	files, err := os.ReadDir(s.rootPath)
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	var ids []string
	for _, f := range files {
		name := f.Name()
		if !strings.HasSuffix(name, "_history.json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, "_history.json"))
	}
	sort.Strings(ids)
	return ids, nil
}
