package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/pinellas-property-scraper/internal/property"
)

// LookupStore provides an in-memory history for development/testing.
type LookupStore struct {
	mu      sync.RWMutex
	lookups map[string]property.LookupRecord
}

// NewLookupStore constructs a LookupStore.
func NewLookupStore() *LookupStore {
	return &LookupStore{lookups: make(map[string]property.LookupRecord)}
}

// SaveLookup inserts or replaces a history row.
func (s *LookupStore) SaveLookup(_ context.Context, record property.LookupRecord) error {
	if record.ID == "" {
		return fmt.Errorf("save lookup: empty id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups[record.ID] = cloneRecord(record)
	return nil
}

// GetLookup fetches a history row by ID.
func (s *LookupStore) GetLookup(_ context.Context, id string) (property.LookupRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.lookups[id]
	if !ok {
		return property.LookupRecord{}, fmt.Errorf("lookup %s: %w", id, property.ErrLookupNotFound)
	}
	return cloneRecord(record), nil
}

// ListLookups returns rows matching filter, newest first.
func (s *LookupStore) ListLookups(_ context.Context, filter property.LookupFilter) ([]property.LookupRecord, error) {
	s.mu.RLock()
	rows := make([]property.LookupRecord, 0, len(s.lookups))
	for _, r := range s.lookups {
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		rows = append(rows, cloneRecord(r))
	}
	s.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Started.Equal(rows[j].Started) {
			return rows[i].ID > rows[j].ID
		}
		return rows[i].Started.After(rows[j].Started)
	})
	if filter.Offset >= len(rows) {
		return []property.LookupRecord{}, nil
	}
	rows = rows[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(rows) {
		rows = rows[:filter.Limit]
	}
	return rows, nil
}

// Len reports how many lookups are stored.
func (s *LookupStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.lookups)
}

func cloneRecord(r property.LookupRecord) property.LookupRecord {
	if r.Record != nil {
		fields := make(property.Record, len(r.Record))
		for k, v := range r.Record {
			fields[k] = v
		}
		r.Record = fields
	}
	return r
}
