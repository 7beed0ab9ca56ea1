package memory

import (
	"context"
	"fmt"
	"sync"

	"saldo/internal/sheets"
)

var _ sheets.Exporter = (*Store)(nil)

// Store keeps exported rows in insertion order. Used by tests and when no
// spreadsheet is configured.
type Store struct {
	mu    sync.Mutex
	order []string
	rows  map[string]sheets.EntryRow
}

func New() *Store {
	return &Store{rows: make(map[string]sheets.EntryRow)}
}

func (s *Store) UpsertEntry(_ context.Context, row sheets.EntryRow) (string, error) {
	if row.EntryID == "" {
		return "", fmt.Errorf("entry row without id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[row.EntryID]; !ok {
		s.order = append(s.order, row.EntryID)
	}
	s.rows[row.EntryID] = row
	return fmt.Sprintf("mem:%d", s.indexOf(row.EntryID)+1), nil
}

func (s *Store) DeleteEntry(_ context.Context, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[entryID]; !ok {
		return nil
	}
	delete(s.rows, entryID)
	i := s.indexOf(entryID)
	s.order = append(s.order[:i], s.order[i+1:]...)
	return nil
}

func (s *Store) ListEntryIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...), nil
}

// Row returns the stored row for entryID.
func (s *Store) Row(entryID string) (sheets.EntryRow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[entryID]
	return r, ok
}

func (s *Store) indexOf(id string) int {
	for i, v := range s.order {
		if v == id {
			return i
		}
	}
	return -1
}
