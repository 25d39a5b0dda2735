// Package history keeps a short log of recent scan attempts for the UI
package history

import (
	"context"
	"sync"
	"time"
)

// Entry records one finished scan attempt.
type Entry struct {
	At      time.Time `json:"at"`
	Outcome string    `json:"outcome"`
	Trigger string    `json:"trigger,omitempty"`
	CardID  string    `json:"cardId,omitempty"`
	Name    string    `json:"name,omitempty"`
	Company string    `json:"company,omitempty"`
	Score   int       `json:"score"`
	Reason  string    `json:"reason,omitempty"`
}

// Store interface for attempt history.
type Store interface {
	Add(ctx context.Context, e Entry) error
	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]Entry, error)
	// Counts returns the number of attempts per outcome.
	Counts(ctx context.Context) (map[string]int64, error)
}

// MemoryStore implements Store in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
	counts  map[string]int64
	maxSize int
}

// NewMemoryStore creates a store keeping the last maxEntries attempts.
func NewMemoryStore(maxEntries int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = 50
	}
	return &MemoryStore{
		entries: make([]Entry, 0, maxEntries),
		counts:  make(map[string]int64),
		maxSize: maxEntries,
	}
}

// Add stores an entry, evicting the oldest beyond the limit.
func (s *MemoryStore) Add(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.entries = append(s.entries, e)
	if len(s.entries) > s.maxSize {
		s.entries = s.entries[len(s.entries)-s.maxSize:]
	}
	s.counts[e.Outcome]++
	return nil
}

// Recent returns up to limit entries, newest first. A non-positive limit
// returns everything kept.
func (s *MemoryStore) Recent(_ context.Context, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.entries)
	if limit <= 0 || limit > n {
		limit = n
	}
	result := make([]Entry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		result = append(result, s.entries[i])
	}
	return result, nil
}

// Counts returns a copy of the per-outcome totals, including evicted entries.
func (s *MemoryStore) Counts(_ context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[string]int64, len(s.counts))
	for k, v := range s.counts {
		result[k] = v
	}
	return result, nil
}
