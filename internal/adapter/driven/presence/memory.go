package presence

import (
	"context"
	"sync"

	"github.com/Wyydra/loopync/internal/core/domain"
)

type MemoryStore struct {
	mu     sync.RWMutex
	states map[domain.UserID]domain.ConnState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[domain.UserID]domain.ConnState)}
}

func (s *MemoryStore) SetState(ctx context.Context, userID domain.UserID, state domain.ConnState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[userID] = state
	return nil
}

// State reports disconnected for users never seen.
func (s *MemoryStore) State(ctx context.Context, userID domain.UserID) (domain.ConnState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.states[userID]; ok {
		return st, nil
	}
	return domain.ConnDisconnected, nil
}

func (s *MemoryStore) Remove(ctx context.Context, userID domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, userID)
	return nil
}
