// Package memory is an in-memory archive.Store for tests and dev runs.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Portunus/relay/internal/archive"
)

type Store struct {
	mu   sync.Mutex
	recs []archive.Record
}

func New() *Store {
	return &Store{}
}

func (s *Store) Append(_ context.Context, recs []archive.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, recs...)
	return nil
}

func (s *Store) PruneOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.recs[:0]
	var deleted int64
	for _, r := range s.recs {
		if r.ArchivedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	s.recs = kept
	return deleted, nil
}

func (s *Store) List(_ context.Context, limit int) ([]archive.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.recs)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]archive.Record, 0, n)
	for i := len(s.recs) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.recs[i])
	}
	return out, nil
}
