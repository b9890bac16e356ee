// Package persona implements the Persona store: {id, name, systemPrompt,
// parameters}, one JSON file per persona under ./data/personas, loaded at
// startup into a read-mostly map and hot-reloaded on directory changes.
// Adapted from the teacher's internal/memory.Store directory-walk pattern;
// the read-mostly/rebuild-on-reload contract is named explicitly by
// spec.md §5 "Shared resources".
package persona

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/cortexhub/streamgateway/internal/logging"
)

// Persona is an immutable snapshot used for the duration of one turn.
type Persona struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	SystemPrompt string         `json:"systemPrompt"`
	Parameters   map[string]any `json:"parameters,omitempty"`
}

// Store is a read-mostly, hot-reloadable map of personas.
type Store struct {
	dir string
	log *logging.Logger

	mu       sync.RWMutex
	personas map[string]Persona

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// New loads every *.json file under dir and starts a filesystem watcher
// that rebuilds the whole map on any change (rebuild-on-reload, never an
// incremental patch, matching the teacher's store-reload style).
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("persona: create dir: %w", err)
	}
	s := &Store{dir: dir, log: logging.WithComponent("persona"), done: make(chan struct{})}
	if err := s.reload(); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.log.Warn("persona hot-reload disabled: fsnotify unavailable", "err", err)
		return s, nil
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		s.log.Warn("persona hot-reload disabled: cannot watch dir", "err", err)
		return s, nil
	}
	s.watcher = watcher
	go s.watchLoop()
	return s, nil
}

func (s *Store) watchLoop() {
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(ev.Name, ".json") {
				continue
			}
			if err := s.reload(); err != nil {
				s.log.Warn("persona reload failed", "err", err)
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn("persona watcher error", "err", err)
		}
	}
}

func (s *Store) reload() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("persona: list dir: %w", err)
	}
	next := make(map[string]Persona)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			s.log.Warn("persona: skip unreadable file", "file", e.Name(), "err", err)
			continue
		}
		var p Persona
		if err := json.Unmarshal(data, &p); err != nil {
			s.log.Warn("persona: skip malformed file", "file", e.Name(), "err", err)
			continue
		}
		if p.ID == "" {
			p.ID = strings.TrimSuffix(e.Name(), ".json")
		}
		next[p.ID] = p
	}
	s.mu.Lock()
	s.personas = next
	s.mu.Unlock()
	return nil
}

// Get returns a persona by id.
func (s *Store) Get(id string) (Persona, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.personas[id]
	return p, ok
}

// List returns every known persona, ordered by id.
func (s *Store) List() []Persona {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Persona, 0, len(s.personas))
	for _, p := range s.personas {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Save writes p to its JSON file under dir and rebuilds the in-memory map
// before returning, so a Get right after Save sees p; the watcher (if
// active) rebuilds it again when it sees the write.
func (s *Store) Save(p Persona) error {
	if p.ID == "" {
		return fmt.Errorf("persona: id required")
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("persona: encode %s: %w", p.ID, err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, p.ID+".json"), data, 0o644); err != nil {
		return fmt.Errorf("persona: write %s: %w", p.ID, err)
	}
	return s.reload()
}

// Delete removes a persona's JSON file; like Save, it rebuilds the map
// before returning.
func (s *Store) Delete(id string) error {
	err := os.Remove(filepath.Join(s.dir, id+".json"))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("persona: delete %s: %w", id, err)
	}
	return s.reload()
}

// Close stops the hot-reload watcher.
func (s *Store) Close() {
	close(s.done)
	if s.watcher != nil {
		s.watcher.Close()
	}
}
