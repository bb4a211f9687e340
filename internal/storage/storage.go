// Package storage keeps the most recent reading reported for each tower.
package storage

import (
	"sort"
	"sync"
	"time"

	"towerloc/internal/tower"
)

// ReadingData is the last reading seen for one tower.
type ReadingData struct {
	Reading   tower.Reading
	UpdatedAt time.Time
}

// Storage holds the latest reading per tower identifier.
type Storage struct {
	mu   sync.RWMutex
	data map[tower.Identifier]ReadingData
	now  func() time.Time
}

// NewStorage initialises an empty store.
func NewStorage() *Storage {
	return &Storage{
		data: make(map[tower.Identifier]ReadingData),
		now:  time.Now,
	}
}

// Set replaces the reading for r's tower.
func (s *Storage) Set(r tower.Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[r.Identifier] = ReadingData{
		Reading:   r,
		UpdatedAt: s.now(),
	}
}

// Get returns the reading for one tower.
func (s *Storage) Get(id tower.Identifier) (ReadingData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.data[id]
	return data, ok
}

// Snapshot returns the readings updated within maxAge, ordered by tower key.
// A zero maxAge returns every reading.
func (s *Storage) Snapshot(maxAge time.Duration) []tower.Reading {
	s.mu.RLock()
	cutoff := s.now().Add(-maxAge)
	result := make([]tower.Reading, 0, len(s.data))
	for _, d := range s.data {
		if maxAge > 0 && d.UpdatedAt.Before(cutoff) {
			continue
		}
		result = append(result, d.Reading)
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].Identifier.String() < result[j].Identifier.String()
	})
	return result
}

// Prune drops readings older than maxAge and returns how many were removed.
func (s *Storage) Prune(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-maxAge)
	removed := 0
	for id, d := range s.data {
		if d.UpdatedAt.Before(cutoff) {
			delete(s.data, id)
			removed++
		}
	}
	return removed
}
