package store

import (
	"sync"

	"github.com/i474232898/live-weather-tracker/internal/weather"
)

// MemoryStore is a concurrency-safe, newest-first list of weather records.
type MemoryStore struct {
	mu sync.RWMutex

	// index 0 is the most recent record
	records []weather.Record

	// retention configuration
	maxRecords int // max number of records kept (0 = unlimited)
}

// NewMemoryStore creates an empty MemoryStore.
// If maxRecords is <= 0, it is treated as unlimited.
func NewMemoryStore(maxRecords int) *MemoryStore {
	return &MemoryStore{
		maxRecords: maxRecords,
	}
}

// Replace discards the current list and stores records in the order given.
func (s *MemoryStore) Replace(records []weather.Record) {
	next := make([]weather.Record, len(records))
	copy(next, records)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = next
	s.enforceRetention()
}

// Prepend puts record at the front. Records sharing its id are left alone.
func (s *MemoryStore) Prepend(record weather.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append([]weather.Record{record}, s.records...)
	s.enforceRetention()
}

// PrependUnique removes any record with the same id and then puts record at
// the front. It reports whether an older copy was dropped.
func (s *MemoryStore) PrependUnique(record weather.Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	replaced := s.removeLocked(record.ID)
	s.records = append([]weather.Record{record}, s.records...)
	s.enforceRetention()
	return replaced
}

// Remove deletes every record with the given id. Removing an absent id is a no-op.
func (s *MemoryStore) Remove(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.removeLocked(id)
}

func (s *MemoryStore) removeLocked(id int64) bool {
	kept := s.records[:0:0]
	for _, r := range s.records {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	if len(kept) == len(s.records) {
		return false
	}
	s.records = kept
	return true
}

// Get returns the first (newest) record with the given id, or
// weather.ErrNotFound.
func (s *MemoryStore) Get(id int64) (weather.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.records {
		if r.ID == id {
			return r, nil
		}
	}
	return weather.Record{}, weather.ErrNotFound
}

// List returns a copy of the records, newest first.
func (s *MemoryStore) List() []weather.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]weather.Record, len(s.records))
	copy(out, s.records)
	return out
}

// Len returns the number of records held.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.records)
}

// Enforce retention by count; the oldest records sit at the tail.
func (s *MemoryStore) enforceRetention() {
	if s.maxRecords > 0 && len(s.records) > s.maxRecords {
		s.records = s.records[:s.maxRecords]
	}
}
