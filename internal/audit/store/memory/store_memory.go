// Package memory provides the in-memory audit store used by tests and the
// single-process deployment profile.
package memory

import (
	"context"
	"fmt"
	"sync"

	"biogate/internal/audit"
)

type Store struct {
	mu      sync.RWMutex
	records []*audit.Record // records[i].Seq == i+1
}

func New() *Store {
	return &Store{}
}

func (s *Store) Append(_ context.Context, rec *audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if want := uint64(len(s.records)) + 1; rec.Seq != want {
		return fmt.Errorf("out-of-order append: seq %d, want %d", rec.Seq, want)
	}
	cp := *rec
	s.records = append(s.records, &cp)
	return nil
}

func (s *Store) Last(_ context.Context) (*audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.records) == 0 {
		return nil, nil
	}
	cp := *s.records[len(s.records)-1]
	return &cp, nil
}

func (s *Store) Range(_ context.Context, from, to uint64) ([]*audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if from == 0 || to < from {
		return nil, fmt.Errorf("invalid range [%d, %d]", from, to)
	}
	var out []*audit.Record
	for _, rec := range s.records {
		if rec.Seq >= from && rec.Seq <= to {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Corrupt overwrites the stored payload at seq, for tamper tests only.
func (s *Store) Corrupt(seq uint64, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq == 0 || seq > uint64(len(s.records)) {
		return
	}
	s.records[seq-1].Payload = payload
}
