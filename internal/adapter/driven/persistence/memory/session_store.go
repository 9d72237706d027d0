package memory

import (
	"context"
	"sync"

	"github.com/Wyydra/loopync/internal/core/domain"
)

// SessionStore keeps the session for the life of the process only.
type SessionStore struct {
	mu   sync.Mutex
	sess *domain.Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{}
}

func (s *SessionStore) Load(ctx context.Context) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil || !s.sess.Valid() {
		return domain.Session{}, domain.ErrNoSession
	}
	return *s.sess, nil
}

func (s *SessionStore) Save(ctx context.Context, sess domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess = &sess
	return nil
}

func (s *SessionStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess = nil
	return nil
}
