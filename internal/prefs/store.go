// Package prefs persists the user's batch preferences.
package prefs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ocr-batch/dashboard/internal/models"
)

// Store keeps the preferences in memory and writes them to a JSON file on
// every change.
type Store struct {
	path         string
	maxBatchSize int

	mu      sync.RWMutex
	current models.Preferences
}

// fileFormat mirrors the stored document. AutoOptimize is a pointer so a
// missing key can be told apart from an explicit false.
type fileFormat struct {
	BatchSize    int   `json:"batchSize"`
	AutoOptimize *bool `json:"autoOptimize,omitempty"`
}

// Open loads the preferences at path. A missing or unreadable file yields
// the defaults; the file is only written on the first Save.
func Open(path string, maxBatchSize int) *Store {
	if maxBatchSize <= 0 {
		maxBatchSize = 20
	}
	s := &Store{path: path, maxBatchSize: maxBatchSize}
	s.current = s.load()
	return s
}

// Path returns the preferences file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) load() models.Preferences {
	p := models.DefaultPreferences()

	b, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Printf("[Prefs] could not read %s, using defaults: %v\n", s.path, err)
		}
		return p
	}

	var stored fileFormat
	if err := json.Unmarshal(b, &stored); err != nil {
		fmt.Printf("[Prefs] corrupt preferences file %s, using defaults: %v\n", s.path, err)
		return p
	}
	if stored.BatchSize > 0 {
		p.BatchSize = s.clamp(stored.BatchSize)
	}
	if stored.AutoOptimize != nil {
		p.AutoOptimize = *stored.AutoOptimize
	}
	return p
}

// Load returns the current preferences.
func (s *Store) Load() models.Preferences {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Save clamps the batch size to [1, max] and persists p.
func (s *Store) Save(p models.Preferences) (models.Preferences, error) {
	return s.Modify(func(cur *models.Preferences) bool {
		*cur = p
		return true
	})
}

// SetBatchSize persists a new batch size and keeps AutoOptimize.
func (s *Store) SetBatchSize(n int) (models.Preferences, error) {
	return s.Modify(func(cur *models.Preferences) bool {
		cur.BatchSize = n
		return true
	})
}

// Modify applies fn to a copy of the current preferences and persists the
// result. The read and the write happen under one lock, so concurrent writers
// never drop each other's fields. When fn returns false nothing is written.
func (s *Store) Modify(fn func(*models.Preferences) bool) (models.Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.current
	if !fn(&p) {
		return s.current, nil
	}
	p.BatchSize = s.clamp(p.BatchSize)
	if err := s.write(p); err != nil {
		return s.current, err
	}
	s.current = p
	return p, nil
}

func (s *Store) clamp(n int) int {
	if n < 1 {
		return 1
	}
	if n > s.maxBatchSize {
		return s.maxBatchSize
	}
	return n
}

func (s *Store) write(p models.Preferences) error {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create preferences directory: %w", err)
		}
	}
	auto := p.AutoOptimize
	b, err := json.MarshalIndent(fileFormat{BatchSize: p.BatchSize, AutoOptimize: &auto}, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0644); err != nil {
		return fmt.Errorf("failed to write preferences: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace preferences: %w", err)
	}
	return nil
}
