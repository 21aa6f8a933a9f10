// Package storage persists tagged series tables produced by the batch extractor.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/HatiCode/usagecast/pkg/series"
)

// Table is one extractor run's output.
type Table struct {
	Name        string
	RunID       string
	GeneratedAt time.Time
	Records     []series.Record
}

// Store persists tables by name. Put replaces any previous table with the same name.
type Store interface {
	Put(ctx context.Context, table Table) error
	Get(ctx context.Context, name string) (Table, bool, error)
}

// ValidateName checks that a table name is usable as a file name and key segment.
func ValidateName(name string) error {
	if name == "" {
		return errors.New("table name required")
	}
	for _, c := range name {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') || c == '-' || c == '_') {
			return fmt.Errorf("invalid table name %q: only alphanumeric, hyphens, and underscores allowed", name)
		}
	}
	return nil
}

// Multi writes to every store in order and reads from the first one that has the table.
// Put stops at the first failure.
type Multi []Store

func (m Multi) Put(ctx context.Context, table Table) error {
	for i, s := range m {
		if err := s.Put(ctx, table); err != nil {
			return fmt.Errorf("store %d (%T): %w", i, s, err)
		}
	}
	return nil
}

func (m Multi) Get(ctx context.Context, name string) (Table, bool, error) {
	for _, s := range m {
		t, found, err := s.Get(ctx, name)
		if err != nil {
			return Table{}, false, err
		}
		if found {
			return t, true, nil
		}
	}
	return Table{}, false, nil
}
