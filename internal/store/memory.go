package store

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/NiroGuard/SyncGuard/internal/models"
	"github.com/NiroGuard/SyncGuard/internal/util"
)

// InMemoryStore is a non-durable Store used by tests and DSN-less runs.
// Records are kept per category in insertion order.
type InMemoryStore struct {
	mu      sync.Mutex
	records map[models.Category][]models.QueuedRecord
	cache   map[string]map[string]models.CachedResponse
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[models.Category][]models.QueuedRecord),
		cache:   make(map[string]map[string]models.CachedResponse),
	}
}

// AddRecord persists a new queued record into the category sub-store.
func (s *InMemoryStore) AddRecord(category models.Category, payload json.RawMessage) (string, error) {
	now := time.Now().UTC()
	rec := models.QueuedRecord{
		ID:         util.GenerateRecordID(string(category), now),
		Category:   category,
		Payload:    append(json.RawMessage(nil), payload...),
		EnqueuedAt: now,
	}
	if err := rec.Validate(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[category] = append(s.records[category], rec)
	return rec.ID, nil
}

// ListRecords returns every queued record for the category in insertion order.
func (s *InMemoryStore) ListRecords(category models.Category) ([]models.QueuedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.QueuedRecord, len(s.records[category]))
	copy(out, s.records[category])
	return out, nil
}

// CountRecords returns the queue depth for the category.
func (s *InMemoryStore) CountRecords(category models.Category) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records[category]), nil
}

// RemoveRecord deletes a record after confirmed delivery. Idempotent.
func (s *InMemoryStore) RemoveRecord(category models.Category, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.records[category]
	for i, rec := range recs {
		if rec.ID == id {
			s.records[category] = append(recs[:i], recs[i+1:]...)
			return nil
		}
	}
	return nil
}

// MarkRecordFailed increments retry bookkeeping after a failed delivery.
func (s *InMemoryStore) MarkRecordFailed(category models.Category, id string, deliveryErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.records[category]
	for i := range recs {
		if recs[i].ID == id {
			recs[i].RetryCount++
			recs[i].LastError = deliveryErr
			return nil
		}
	}
	return models.ErrRecordNotFound
}

// PutCachedResponse inserts or replaces an entry in its cache generation.
func (s *InMemoryStore) PutCachedResponse(entry models.CachedResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	gen, ok := s.cache[entry.Generation]
	if !ok {
		gen = make(map[string]models.CachedResponse)
		s.cache[entry.Generation] = gen
	}
	gen[entry.Key] = entry
	return nil
}

// GetCachedResponse looks up an entry; a miss returns (nil, nil).
func (s *InMemoryStore) GetCachedResponse(generation, key string) (*models.CachedResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gen, ok := s.cache[generation]
	if !ok {
		return nil, nil
	}
	entry, ok := gen[key]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

// CacheGenerations lists all generations currently holding entries.
func (s *InMemoryStore) CacheGenerations() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	generations := make([]string, 0, len(s.cache))
	for g := range s.cache {
		generations = append(generations, g)
	}
	return generations, nil
}

// DeleteCacheGeneration removes every entry in the named generation.
func (s *InMemoryStore) DeleteCacheGeneration(generation string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, generation)
	return nil
}

// SweepCacheGenerations deletes every generation not in the current set.
func (s *InMemoryStore) SweepCacheGenerations(current []string) (int, error) {
	return sweepGenerations(s, current)
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
