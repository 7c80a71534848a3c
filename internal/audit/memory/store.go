package memory

import (
	"context"
	"sync"

	"docvault/internal/audit"
	"docvault/internal/model"
	"docvault/internal/repository"
)

// Store keeps audit entries in memory. Inside a repository unit of work entries
// are published only when the unit commits.
type Store struct {
	mu      sync.RWMutex
	entries []model.AuditEntry
	seq     int64
	failErr error
}

// New creates an empty in-memory audit store.
func New() *Store {
	return &Store{}
}

var _ audit.Recorder = (*Store)(nil)

// FailWith makes every subsequent Record call return err until reset with nil.
func (s *Store) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

func (s *Store) Record(ctx context.Context, e model.AuditEntry) error {
	s.mu.RLock()
	failErr := s.failErr
	s.mu.RUnlock()
	if failErr != nil {
		return failErr
	}

	if !repository.OnCommit(ctx, func() { s.append(e) }) {
		s.append(e)
	}
	return nil
}

func (s *Store) append(e model.AuditEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	e.Seq = s.seq
	s.entries = append(s.entries, e)
}

func (s *Store) History(ctx context.Context, versionID string) ([]model.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.AuditEntry, 0)
	for _, e := range s.entries {
		if e.VersionID == versionID {
			out = append(out, e)
		}
	}
	return out, nil
}

// All returns every entry in recording order.
func (s *Store) All() []model.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.AuditEntry, len(s.entries))
	copy(out, s.entries)
	return out
}
