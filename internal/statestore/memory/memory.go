// Package memory is an in-process Store implementation for testing and
// short-lived runs, grounded on the teacher's graph/store.MemStore.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dshills/qa-orchestrator/internal/domain"
	"github.com/dshills/qa-orchestrator/internal/statestore"
)

// Store is a thread-safe, map-backed statestore.Store. Data is lost when
// the process terminates; not suitable for multi-process deployments.
type Store struct {
	mu      sync.Mutex
	states  map[string]domain.RunState
	updated map[string]time.Time
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		states:  make(map[string]domain.RunState),
		updated: make(map[string]time.Time),
	}
}

func (s *Store) Load(_ context.Context, threadID string) (domain.RunState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[threadID]
	if !ok {
		return domain.RunState{}, domain.ErrNotFound
	}
	return st, nil
}

func (s *Store) Commit(_ context.Context, threadID string, baseVersion int, patch statestore.Patch) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, exists := s.states[threadID]
	if exists && prev.Version != baseVersion {
		return 0, domain.ErrVersionConflict
	}
	if !exists && baseVersion != 0 {
		return 0, domain.ErrVersionConflict
	}

	next := statestore.Apply(prev, patch)
	next.ThreadID = threadID
	next.Version = baseVersion + 1

	s.states[threadID] = next
	s.updated[threadID] = time.Now()
	return next.Version, nil
}

func (s *Store) ListThreads(_ context.Context, sessionID string, limit int) ([]domain.ThreadSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.ThreadSummary
	for tid, st := range s.states {
		if st.SessionID != sessionID {
			continue
		}
		out = append(out, domain.ThreadSummary{
			ThreadID:   tid,
			SessionID:  st.SessionID,
			Status:     st.Status,
			LastUpdate: s.updated[tid],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastUpdate.After(out[j].LastUpdate)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Delete(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.states, threadID)
	delete(s.updated, threadID)
	return nil
}
