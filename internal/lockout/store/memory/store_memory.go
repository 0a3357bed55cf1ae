// Package memory provides the in-memory lockout store used by tests and the
// single-process deployment profile.
package memory

import (
	"context"
	"sync"

	"biogate/internal/lockout"
	"biogate/pkg/domain"
)

type Store struct {
	mu      sync.RWMutex
	records map[domain.IdentityID]*lockout.Record
}

func New() *Store {
	return &Store{records: make(map[domain.IdentityID]*lockout.Record)}
}

func (s *Store) Get(_ context.Context, id domain.IdentityID) (*lockout.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	return rec.Clone(), nil
}

func (s *Store) Put(_ context.Context, rec *lockout.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.IdentityID] = rec.Clone()
	return nil
}
