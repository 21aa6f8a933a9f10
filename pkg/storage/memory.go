package storage

import (
	"context"
	"sync"

	"github.com/HatiCode/usagecast/pkg/series"
)

// MemoryStore keeps tables in process memory. It backs dry runs and tests.
// It is safe for concurrent use by multiple goroutines.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string]Table
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables: make(map[string]Table),
	}
}

// Put stores a copy of the table, replacing any table with the same name.
func (s *MemoryStore) Put(ctx context.Context, table Table) error {
	if err := ValidateName(table.Name); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	table.Records = append([]series.Record(nil), table.Records...)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tables[table.Name] = table
	return nil
}

// Get returns a copy of the named table.
func (s *MemoryStore) Get(ctx context.Context, name string) (Table, bool, error) {
	select {
	case <-ctx.Done():
		return Table{}, false, ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	table, found := s.tables[name]
	if found {
		table.Records = append([]series.Record(nil), table.Records...)
	}
	return table, found, nil
}

// Len returns the number of tables currently stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tables)
}

// Delete removes a table. Returns true if it existed.
func (s *MemoryStore) Delete(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.tables[name]
	delete(s.tables, name)
	return existed
}
