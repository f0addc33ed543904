package bandwidth

import (
	"context"
	"sync"

	"github.com/adamscao/ovpnpanel/internal/models"
)

// MemoryStore keeps usage rows in process memory
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]models.CumulativeUsage
}

// NewMemoryStore creates a store seeded with rows
func NewMemoryStore(rows map[string]models.CumulativeUsage) *MemoryStore {
	s := &MemoryStore{rows: make(map[string]models.CumulativeUsage, len(rows))}
	for name, u := range rows {
		s.rows[name] = u
	}
	return s
}

func (s *MemoryStore) Load(_ context.Context) (map[string]models.CumulativeUsage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]models.CumulativeUsage, len(s.rows))
	for name, u := range s.rows {
		out[name] = u
	}
	return out, nil
}

func (s *MemoryStore) Save(_ context.Context, rows map[string]models.CumulativeUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, u := range rows {
		s.rows[name] = u
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rows[name]; !ok {
		return ErrNotFound
	}
	delete(s.rows, name)
	return nil
}
