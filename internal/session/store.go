package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// RetentionDays is how long unused sessions are kept before cleanup.
const RetentionDays = 30

// Store manages session files under a base directory.
type Store struct {
	mu      sync.RWMutex
	baseDir string
}

// NewStore creates a store rooted at ~/.strand/sessions/ and starts a
// background cleanup of expired sessions.
func NewStore() (*Store, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolving home directory: %w", err)
	}
	return NewStoreAt(filepath.Join(homeDir, ".strand", "sessions"))
}

// NewStoreAt creates a store rooted at dir.
func NewStoreAt(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating sessions directory: %w", err)
	}
	store := &Store{baseDir: dir}
	go store.Cleanup()
	return store, nil
}

// Save writes a record to disk, stamping its metadata.
func (s *Store) Save(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.Metadata.ID == "" {
		return fmt.Errorf("record has no thread id")
	}
	if rec.Metadata.CreatedAt.IsZero() {
		rec.Metadata.CreatedAt = time.Now()
	}
	rec.Metadata.UpdatedAt = time.Now()
	rec.Metadata.MessageCount = len(rec.Messages)

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}
	path := filepath.Join(s.baseDir, rec.Metadata.ID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing session file: %w", err)
	}
	return nil
}

// Load reads a record by thread id.
func (s *Store) Load(id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load(id)
}

// List returns metadata for every session, newest first.
func (s *Store) List() ([]Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading sessions directory: %w", err)
	}

	var out []Metadata
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		rec, err := s.load(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			// Skip unreadable session files.
			continue
		}
		out = append(out, rec.Metadata)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// Latest returns the most recently updated record.
func (s *Store) Latest() (*Record, error) {
	metas, err := s.List()
	if err != nil {
		return nil, err
	}
	if len(metas) == 0 {
		return nil, fmt.Errorf("no sessions found")
	}
	return s.Load(metas[0].ID)
}

// Delete removes a session file. Deleting an absent session is not an
// error.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.baseDir, id+".json")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// Cleanup removes sessions untouched for longer than RetentionDays.
func (s *Store) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading sessions directory: %w", err)
	}

	cutoff := time.Now().AddDate(0, 0, -RetentionDays)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		rec, err := s.load(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}
		if rec.Metadata.UpdatedAt.Before(cutoff) {
			_ = os.Remove(filepath.Join(s.baseDir, entry.Name()))
		}
	}
	return nil
}

func (s *Store) load(id string) (*Record, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, id+".json"))
	if err != nil {
		return nil, fmt.Errorf("reading session file: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing session file: %w", err)
	}
	return &rec, nil
}
